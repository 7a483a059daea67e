package usecase

import (
	"crypto/sha256"
	"fmt"

	"dccgate/internal/domain"
)

// RevocationHashLen is the number of SHA-256 bytes kept for revocation lookups.
const RevocationHashLen = 16

// RevocationHash derives the lookup hash of the given type for a certificate.
func RevocationHash(cert *domain.Certificate, hashType domain.HashType) ([]byte, error) {
	var input []byte
	switch hashType {
	case domain.HashTypeSignature:
		if len(cert.Signature) == 0 {
			return nil, fmt.Errorf("%w: empty signature", domain.ErrMalformedCertificate)
		}
		input = cert.Signature
		if cert.Algorithm == domain.AlgES256 {
			// ECDSA signatures are malleable in s; only r is stable.
			input = cert.Signature[:len(cert.Signature)/2]
		}
	case domain.HashTypeUCI:
		uvci := cert.UVCI()
		if uvci == "" {
			return nil, fmt.Errorf("%w: missing uvci", domain.ErrMalformedCertificate)
		}
		input = []byte(uvci)
	case domain.HashTypeCountryCodeUCI:
		uvci := cert.UVCI()
		if uvci == "" {
			return nil, fmt.Errorf("%w: missing uvci", domain.ErrMalformedCertificate)
		}
		input = []byte(cert.CountryCode() + uvci)
	default:
		return nil, fmt.Errorf("unknown revocation hash type %q", hashType)
	}
	sum := sha256.Sum256(input)
	return append([]byte(nil), sum[:RevocationHashLen]...), nil
}
