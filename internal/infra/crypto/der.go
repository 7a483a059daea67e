package crypto

import (
	"fmt"

	"dccgate/internal/domain"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

// RepackECDSASignature converts a COSE r‖s signature into the ASN.1 DER
// SEQUENCE { r INTEGER, s INTEGER } form expected by crypto/ecdsa.
func RepackECDSASignature(raw []byte) ([]byte, error) {
	if len(raw) == 0 || len(raw)%2 != 0 {
		return nil, fmt.Errorf("%w: ecdsa signature has odd length %d", domain.ErrSignatureInvalid, len(raw))
	}
	half := len(raw) / 2
	var b cryptobyte.Builder
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		addUnsignedInteger(b, raw[:half])
		addUnsignedInteger(b, raw[half:])
	})
	return b.Bytes()
}

// addUnsignedInteger writes a big-endian magnitude as a minimal DER INTEGER:
// leading zeros are dropped and a 0x00 is prepended when the high bit is set.
func addUnsignedInteger(b *cryptobyte.Builder, magnitude []byte) {
	for len(magnitude) > 0 && magnitude[0] == 0 {
		magnitude = magnitude[1:]
	}
	b.AddASN1(asn1.INTEGER, func(b *cryptobyte.Builder) {
		if len(magnitude) == 0 || magnitude[0]&0x80 != 0 {
			b.AddUint8(0)
		}
		b.AddBytes(magnitude)
	})
}
