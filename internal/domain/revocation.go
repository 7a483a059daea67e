package domain

import "time"

type RevocationMode string

const (
	RevocationModePoint      RevocationMode = "POINT"
	RevocationModeVector     RevocationMode = "VECTOR"
	RevocationModeCoordinate RevocationMode = "COORDINATE"
)

type HashType string

const (
	HashTypeSignature      HashType = "SIGNATURE"
	HashTypeUCI            HashType = "UCI"
	HashTypeCountryCodeUCI HashType = "COUNTRYCODEUCI"
)

// HashTypeOrder is the order in which revocation hashes are checked.
var HashTypeOrder = []HashType{HashTypeSignature, HashTypeUCI, HashTypeCountryCodeUCI}

type SliceType string

const (
	SliceTypeBloomFilter SliceType = "BLOOMFILTER"
	SliceTypeVarHashList SliceType = "VARHASHLIST"
)

// NullPartitionID identifies the single partition of a POINT mode list.
const NullPartitionID = "null"

type RevocationEntry struct {
	KID         string
	Mode        RevocationMode
	HashTypes   []HashType
	Expires     time.Time
	LastUpdated time.Time
}

func (e RevocationEntry) HasHashType(t HashType) bool {
	for _, ht := range e.HashTypes {
		if ht == t {
			return true
		}
	}
	return false
}

type Partition struct {
	KID         string
	ID          string
	X           *string
	Y           *string
	Expires     time.Time
	LastUpdated time.Time
	Chunks      []Chunk
}

type Chunk struct {
	ID     string
	Slices []Slice
}

type Slice struct {
	HashID  string
	Type    SliceType
	Version string
	Hash    string
	Expires time.Time
	Payload []byte
}

// SliceKey addresses one slice row in the revocation hierarchy.
type SliceKey struct {
	KID         string
	PartitionID string
	ChunkID     string
	HashID      string
}

// LookupKey is the bucket coordinate derived from a certificate hash.
type LookupKey struct {
	KID     string
	X       *string
	Y       *string
	ChunkID string
}

// StoredSlice is a slice returned by a lookup together with its address.
type StoredSlice struct {
	Key   SliceKey
	Slice Slice
}

// RemoteRevocationList is one tuple of the remote revocation listing.
type RemoteRevocationList struct {
	KID         string
	Mode        RevocationMode
	HashTypes   []HashType
	Expires     time.Time
	LastUpdated time.Time
}

func (r RemoteRevocationList) Entry() RevocationEntry {
	return RevocationEntry{
		KID:         r.KID,
		Mode:        r.Mode,
		HashTypes:   append([]HashType(nil), r.HashTypes...),
		Expires:     r.Expires,
		LastUpdated: r.LastUpdated,
	}
}

type FilterKindTag int

const (
	FilterKindUnsupported FilterKindTag = iota
	FilterKindBloom
)

// MembershipFilter is a probabilistic set queried during revocation lookup.
type MembershipFilter interface {
	MightContain(element []byte) bool
}

// FilterKind is the decoded form of a slice payload.
type FilterKind struct {
	Tag    FilterKindTag
	Type   SliceType
	Filter MembershipFilter
}

// SlicePayload is one binary slice delivered by a chunk download.
type SlicePayload struct {
	ChunkID string
	HashID  string
	Payload []byte
}
