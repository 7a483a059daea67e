package domain

import "errors"

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")

	ErrDecode               = errors.New("certificate decode failed")
	ErrMalformedCertificate = errors.New("malformed certificate")
	ErrSchemaViolation      = errors.New("certificate schema violation")
	ErrSignatureInvalid     = errors.New("signature invalid")
	ErrNoTrustKey           = errors.New("no trust key for kid")

	ErrSyncFailure        = errors.New("sync failure")
	ErrStorage            = errors.New("storage failure")
	ErrUnsupportedFilter  = errors.New("unsupported revocation filter")
	ErrInvalidBloomFilter = errors.New("invalid bloom filter")
)

// IsCertificateError reports whether err is a certificate-level outcome that
// should be shown to the bearer rather than treated as an operational fault.
func IsCertificateError(err error) bool {
	return errors.Is(err, ErrDecode) ||
		errors.Is(err, ErrMalformedCertificate) ||
		errors.Is(err, ErrSchemaViolation) ||
		errors.Is(err, ErrSignatureInvalid)
}
