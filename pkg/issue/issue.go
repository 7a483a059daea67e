package issue

import (
	"bytes"
	"compress/zlib"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"dccgate/internal/infra/hcert"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"
)

type Issuer struct {
	KID    []byte
	Signer crypto.Signer
	Alg    cose.Algorithm

	// KIDUnprotected places the kid in the unprotected header instead of the
	// protected one.
	KIDUnprotected bool
	// Uncompressed skips the zlib stage before Base45 encoding.
	Uncompressed bool
}

type Claims struct {
	Issuer   string
	IssuedAt time.Time
	Expiry   time.Time
	Health   any
}

type cwtPayload struct {
	Issuer   string        `cbor:"1,keyasint,omitempty"`
	Expiry   int64         `cbor:"4,keyasint,omitempty"`
	IssuedAt int64         `cbor:"6,keyasint,omitempty"`
	HCert    map[int64]any `cbor:"-260,keyasint"`
}

func New(kid []byte, signer crypto.Signer) (*Issuer, error) {
	if len(kid) == 0 {
		return nil, errors.New("kid is required")
	}
	alg, err := algorithmFor(signer)
	if err != nil {
		return nil, err
	}
	return &Issuer{KID: append([]byte(nil), kid...), Signer: signer, Alg: alg}, nil
}

func algorithmFor(signer crypto.Signer) (cose.Algorithm, error) {
	switch pub := signer.Public().(type) {
	case *ecdsa.PublicKey:
		if pub.Curve != elliptic.P256() {
			return 0, errors.New("only P-256 ecdsa keys are supported")
		}
		return cose.AlgorithmES256, nil
	case *rsa.PublicKey:
		return cose.AlgorithmPS256, nil
	default:
		return 0, fmt.Errorf("unsupported signer key %T", pub)
	}
}

// EncodeClaims builds the CWT payload bytes carried inside the COSE message.
func EncodeClaims(claims Claims) ([]byte, error) {
	if claims.Health == nil {
		return nil, errors.New("health certificate is required")
	}
	payload := cwtPayload{
		Issuer: claims.Issuer,
		HCert:  map[int64]any{1: claims.Health},
	}
	if !claims.IssuedAt.IsZero() {
		payload.IssuedAt = claims.IssuedAt.Unix()
	}
	if !claims.Expiry.IsZero() {
		payload.Expiry = claims.Expiry.Unix()
	}
	return cbor.Marshal(payload)
}

// SignCOSE returns a tagged COSE_Sign1 message over the encoded claims.
func (i *Issuer) SignCOSE(claims Claims) ([]byte, error) {
	payload, err := EncodeClaims(claims)
	if err != nil {
		return nil, err
	}
	return i.SignPayload(payload)
}

func (i *Issuer) SignPayload(payload []byte) ([]byte, error) {
	signer, err := cose.NewSigner(i.Alg, i.Signer)
	if err != nil {
		return nil, fmt.Errorf("cose signer: %w", err)
	}
	headers := cose.Headers{
		Protected: cose.ProtectedHeader{
			cose.HeaderLabelAlgorithm: i.Alg,
		},
		Unprotected: cose.UnprotectedHeader{},
	}
	if i.KIDUnprotected {
		headers.Unprotected[cose.HeaderLabelKeyID] = i.KID
	} else {
		headers.Protected[cose.HeaderLabelKeyID] = i.KID
	}
	return cose.Sign1(rand.Reader, signer, headers, payload, nil)
}

// Issue signs the claims and returns the QR text form: HC1 prefix, Base45 of
// the zlib-compressed COSE message.
func (i *Issuer) Issue(claims Claims) (string, error) {
	coseBytes, err := i.SignCOSE(claims)
	if err != nil {
		return "", err
	}
	return i.Wrap(coseBytes)
}

func (i *Issuer) Wrap(coseBytes []byte) (string, error) {
	if i.Uncompressed {
		return hcert.Prefix + hcert.EncodeBase45(coseBytes), nil
	}
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return "", err
	}
	if _, err := zw.Write(coseBytes); err != nil {
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}
	return hcert.Prefix + hcert.EncodeBase45(buf.Bytes()), nil
}
