package domain

import (
	"crypto"
	"encoding/base64"
	"encoding/hex"
)

// KIDPrefixLen is the number of KID bytes that identify a trust key.
const KIDPrefixLen = 8

type KeyUsage string

const (
	KeyUsageTest        KeyUsage = "test"
	KeyUsageVaccination KeyUsage = "vaccination"
	KeyUsageRecovery    KeyUsage = "recovery"
)

// TrustKey is one candidate verification key. Several keys may share the
// same KID prefix; all candidates are tried.
type TrustKey struct {
	KID         string
	PublicKey   crypto.PublicKey
	EncodedCert string
	Usages      []KeyUsage
}

// Allows reports whether the key may sign the given statement type. A key
// without DCC usages may sign anything.
func (k TrustKey) Allows(st StatementType) bool {
	if len(k.Usages) == 0 {
		return true
	}
	want := KeyUsage("")
	switch st {
	case StatementTest:
		want = KeyUsageTest
	case StatementVaccination:
		want = KeyUsageVaccination
	case StatementRecovery:
		want = KeyUsageRecovery
	}
	for _, usage := range k.Usages {
		if usage == want {
			return true
		}
	}
	return false
}

// TrustListSnapshot is the persisted trust state: encoded certificates keyed
// by KID plus the distribution resume token.
type TrustListSnapshot struct {
	Certificates map[string][]string `json:"certificates"`
	ResumeToken  string              `json:"resume_token,omitempty"`
}

// TrustListUpdate is one key delivered by the distribution service.
type TrustListUpdate struct {
	KID         string
	EncodedCert string
	ResumeToken string
}

func KeyIDFromBytes(kid []byte) string {
	if len(kid) > KIDPrefixLen {
		kid = kid[:KIDPrefixLen]
	}
	return base64.StdEncoding.EncodeToString(kid)
}

func RevocationKIDFromBytes(kid []byte) string {
	if len(kid) > KIDPrefixLen {
		kid = kid[:KIDPrefixLen]
	}
	return hex.EncodeToString(kid)
}
