package bloom

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"

	"dccgate/internal/domain"
)

const (
	Version    uint16 = 1
	HashSHA256 uint8  = 0
)

const (
	headerLength = 20
	wordBits     = 32
)

// Filter is a Bloom filter whose binary form is shared with the revocation
// distribution service. Bit 0 of each word is its most significant bit.
type Filter struct {
	version     uint16
	k           uint8
	hashID      uint8
	probability float32
	expected    uint32
	current     uint32
	words       []int32
}

// New builds an empty filter of sizeBytes capacity using k hash rounds.
func New(sizeBytes int, k uint8, expected uint32) (*Filter, error) {
	if sizeBytes <= 0 {
		return nil, fmt.Errorf("%w: size must be positive", domain.ErrInvalidBloomFilter)
	}
	if k == 0 {
		return nil, fmt.Errorf("%w: at least one hash round is required", domain.ErrInvalidBloomFilter)
	}
	words := (sizeBytes*8 + wordBits - 1) / wordBits
	f := &Filter{
		version:  Version,
		k:        k,
		hashID:   HashSHA256,
		expected: expected,
		words:    make([]int32, words),
	}
	f.probability = float32(falsePositiveRate(f.NumBits(), uint64(k), uint64(expected)))
	return f, nil
}

// NewWithProbability sizes a filter for n elements at false-positive rate p.
func NewWithProbability(n uint32, p float32) (*Filter, error) {
	if n == 0 {
		return nil, fmt.Errorf("%w: expected element count must be positive", domain.ErrInvalidBloomFilter)
	}
	if !(p > 0 && p < 1) {
		return nil, fmt.Errorf("%w: probability must be in (0,1)", domain.ErrInvalidBloomFilter)
	}
	m := math.Ceil(float64(n) * math.Log(float64(p)) / math.Log(1/math.Pow(2, math.Ln2)))
	k := math.Round(m / float64(n) * math.Ln2)
	if k < 1 {
		k = 1
	}
	if k > math.MaxUint8 {
		k = math.MaxUint8
	}
	words := int(math.Ceil(m / wordBits))
	return &Filter{
		version:     Version,
		k:           uint8(k),
		hashID:      HashSHA256,
		probability: p,
		expected:    n,
		words:       make([]int32, words),
	}, nil
}

// Decode parses the binary layout produced by MarshalBinary.
func Decode(blob []byte) (*Filter, error) {
	if len(blob) < headerLength {
		return nil, fmt.Errorf("%w: truncated header (%d bytes)", domain.ErrInvalidBloomFilter, len(blob))
	}
	f := &Filter{
		version:     binary.BigEndian.Uint16(blob[0:2]),
		k:           blob[2],
		hashID:      blob[3],
		probability: math.Float32frombits(binary.BigEndian.Uint32(blob[4:8])),
		expected:    binary.BigEndian.Uint32(blob[8:12]),
		current:     binary.BigEndian.Uint32(blob[12:16]),
	}
	if f.hashID != HashSHA256 {
		return nil, fmt.Errorf("%w: unknown hash function id %d", domain.ErrInvalidBloomFilter, f.hashID)
	}
	if f.k == 0 {
		return nil, fmt.Errorf("%w: zero hash rounds", domain.ErrInvalidBloomFilter)
	}
	count := binary.BigEndian.Uint32(blob[16:20])
	body := blob[headerLength:]
	if count == 0 || uint64(len(body)) != uint64(count)*4 {
		return nil, fmt.Errorf("%w: declared %d words, have %d bytes", domain.ErrInvalidBloomFilter, count, len(body))
	}
	f.words = make([]int32, count)
	for i := range f.words {
		f.words[i] = int32(binary.BigEndian.Uint32(body[i*4:]))
	}
	return f, nil
}

func (f *Filter) MarshalBinary() ([]byte, error) {
	out := make([]byte, headerLength+len(f.words)*4)
	binary.BigEndian.PutUint16(out[0:2], f.version)
	out[2] = f.k
	out[3] = f.hashID
	binary.BigEndian.PutUint32(out[4:8], math.Float32bits(f.probability))
	binary.BigEndian.PutUint32(out[8:12], f.expected)
	binary.BigEndian.PutUint32(out[12:16], f.current)
	binary.BigEndian.PutUint32(out[16:20], uint32(len(f.words)))
	for i, w := range f.words {
		binary.BigEndian.PutUint32(out[headerLength+i*4:], uint32(w))
	}
	return out, nil
}

func (f *Filter) Add(element []byte) {
	numBits := f.NumBits()
	for i := uint8(0); i < f.k; i++ {
		idx := index(element, i, numBits)
		f.words[idx/wordBits] |= mask(idx)
	}
	f.current++
}

func (f *Filter) MightContain(element []byte) bool {
	numBits := f.NumBits()
	if numBits == 0 {
		return false
	}
	for i := uint8(0); i < f.k; i++ {
		idx := index(element, i, numBits)
		if f.words[idx/wordBits]&mask(idx) == 0 {
			return false
		}
	}
	return true
}

// ResetElements clears all bits and the element counter, keeping capacity.
func (f *Filter) ResetElements() {
	for i := range f.words {
		f.words[i] = 0
	}
	f.current = 0
}

func (f *Filter) Version() uint16 {
	return f.version
}

func (f *Filter) HashRounds() uint8 {
	return f.k
}

func (f *Filter) HashID() uint8 {
	return f.hashID
}

func (f *Filter) Probability() float32 {
	return f.probability
}

func (f *Filter) ExpectedElements() uint32 {
	return f.expected
}

func (f *Filter) Elements() uint32 {
	return f.current
}

// NumBits is the bit capacity, always a multiple of 32.
func (f *Filter) NumBits() uint64 {
	return uint64(len(f.words)) * wordBits
}

// index reduces SHA256(element ‖ round) read as an unsigned big-endian
// integer modulo numBits.
func index(element []byte, round uint8, numBits uint64) uint64 {
	h := sha256.New()
	h.Write(element)
	h.Write([]byte{round})
	var rem uint64
	for _, b := range h.Sum(nil) {
		rem = (rem<<8 | uint64(b)) % numBits
	}
	return rem
}

func mask(idx uint64) int32 {
	return int32(uint32(1<<31) >> (idx % wordBits))
}

func falsePositiveRate(numBits, k, n uint64) float64 {
	if numBits == 0 || n == 0 {
		return 0
	}
	return math.Pow(1-math.Exp(-float64(k*n)/float64(numBits)), float64(k))
}
