package crypto

import (
	stdcrypto "crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"

	"dccgate/internal/domain"

	"github.com/fxamacker/cbor/v2"
)

const sign1Context = "Signature1"

var canonicalEncMode = func() cbor.EncMode {
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return mode
}()

type Service struct{}

// SigStructure rebuilds the bytes covered by a COSE_Sign1 signature.
func (s *Service) SigStructure(cert *domain.Certificate) ([]byte, error) {
	protected := cert.Protected
	if protected == nil {
		protected = []byte{}
	}
	payload := cert.Payload
	if payload == nil {
		payload = []byte{}
	}
	return canonicalEncMode.Marshal([]any{sign1Context, protected, []byte{}, payload})
}

// VerifyCertificate tries every candidate key and returns the first one whose
// signature check succeeds.
func (s *Service) VerifyCertificate(cert *domain.Certificate, candidates []domain.TrustKey) (domain.TrustKey, error) {
	if cert == nil {
		return domain.TrustKey{}, fmt.Errorf("%w: certificate is nil", domain.ErrSignatureInvalid)
	}
	if len(candidates) == 0 {
		return domain.TrustKey{}, domain.ErrNoTrustKey
	}
	signed, err := s.SigStructure(cert)
	if err != nil {
		return domain.TrustKey{}, fmt.Errorf("sig structure: %w", err)
	}
	digest := sha256.Sum256(signed)
	for _, candidate := range candidates {
		if verifyDigest(candidate, digest[:], cert.Signature) {
			return candidate, nil
		}
	}
	return domain.TrustKey{}, domain.ErrSignatureInvalid
}

func verifyDigest(key domain.TrustKey, digest, signature []byte) bool {
	switch pub := key.PublicKey.(type) {
	case *ecdsa.PublicKey:
		der, err := RepackECDSASignature(signature)
		if err != nil {
			return false
		}
		return ecdsa.VerifyASN1(pub, digest, der)
	case *rsa.PublicKey:
		opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto, Hash: stdcrypto.SHA256}
		return rsa.VerifyPSS(pub, stdcrypto.SHA256, digest, signature, opts) == nil
	default:
		return false
	}
}
