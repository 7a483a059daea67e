package issue

import (
	"crypto"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"
)

// DCC extended key usages restricting which statements a signer may issue.
var (
	OIDUsageTest        = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 1847, 2021, 1, 1}
	OIDUsageVaccination = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 1847, 2021, 1, 2}
	OIDUsageRecovery    = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 1847, 2021, 1, 3}
)

type DSCOptions struct {
	Country    string
	CommonName string
	NotBefore  time.Time
	NotAfter   time.Time
	Usages     []asn1.ObjectIdentifier
}

// NewDSC creates a self-signed document signer certificate and returns its DER
// bytes.
func NewDSC(signer crypto.Signer, opts DSCOptions) ([]byte, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, err
	}
	notBefore := opts.NotBefore
	if notBefore.IsZero() {
		notBefore = time.Now().Add(-time.Hour)
	}
	notAfter := opts.NotAfter
	if notAfter.IsZero() {
		notAfter = notBefore.Add(2 * 365 * 24 * time.Hour)
	}
	commonName := opts.CommonName
	if commonName == "" {
		commonName = "DSC " + opts.Country
	}
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: commonName,
			Country:    []string{opts.Country},
		},
		NotBefore:          notBefore,
		NotAfter:           notAfter,
		KeyUsage:           x509.KeyUsageDigitalSignature,
		UnknownExtKeyUsage: opts.Usages,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, signer.Public(), signer)
	if err != nil {
		return nil, fmt.Errorf("create dsc: %w", err)
	}
	return der, nil
}

// KIDForCertificate is the DCC key identifier of a signer certificate: the
// first 8 bytes of the SHA-256 of its DER encoding.
func KIDForCertificate(der []byte) []byte {
	sum := sha256.Sum256(der)
	return append([]byte(nil), sum[:8]...)
}
