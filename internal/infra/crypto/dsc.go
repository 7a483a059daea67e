package crypto

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"fmt"
	"strings"

	"dccgate/internal/domain"
)

var usageOIDs = map[string]domain.KeyUsage{
	"1.3.6.1.4.1.1847.2021.1.1":   domain.KeyUsageTest,
	"1.3.6.1.4.1.1847.2021.1.2":   domain.KeyUsageVaccination,
	"1.3.6.1.4.1.1847.2021.1.3":   domain.KeyUsageRecovery,
	"1.3.6.1.4.1.0.1847.2021.1.1": domain.KeyUsageTest,
	"1.3.6.1.4.1.0.1847.2021.1.2": domain.KeyUsageVaccination,
	"1.3.6.1.4.1.0.1847.2021.1.3": domain.KeyUsageRecovery,
}

// ParseTrustKey decodes a base64 DER document signer certificate into a
// candidate verification key.
func (s *Service) ParseTrustKey(kid, encodedCert string) (domain.TrustKey, error) {
	der, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encodedCert))
	if err != nil {
		return domain.TrustKey{}, fmt.Errorf("decode dsc: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return domain.TrustKey{}, fmt.Errorf("parse dsc: %w", err)
	}
	switch pub := cert.PublicKey.(type) {
	case *ecdsa.PublicKey, *rsa.PublicKey:
	default:
		return domain.TrustKey{}, fmt.Errorf("unsupported dsc key type %T", pub)
	}
	return domain.TrustKey{
		KID:         kid,
		PublicKey:   cert.PublicKey,
		EncodedCert: base64.StdEncoding.EncodeToString(der),
		Usages:      keyUsages(cert.UnknownExtKeyUsage),
	}, nil
}

func keyUsages(oids []asn1.ObjectIdentifier) []domain.KeyUsage {
	var usages []domain.KeyUsage
	seen := map[domain.KeyUsage]bool{}
	for _, oid := range oids {
		usage, ok := usageOIDs[oid.String()]
		if !ok || seen[usage] {
			continue
		}
		seen[usage] = true
		usages = append(usages, usage)
	}
	return usages
}
