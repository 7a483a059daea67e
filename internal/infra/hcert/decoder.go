package hcert

import (
	"bytes"
	"compress/flate"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"dccgate/internal/domain"

	"github.com/fxamacker/cbor/v2"
	"github.com/sirupsen/logrus"
)

const (
	Prefix = "HC1:"

	coseSign1Tag    = 18
	hcertVersionKey = 1
	labelAlg        = 1
	labelKID        = 4

	maxInflatedSize = 1 << 20
)

type cwtClaims struct {
	Issuer   string                    `cbor:"1,keyasint,omitempty"`
	Expiry   int64                     `cbor:"4,keyasint,omitempty"`
	IssuedAt int64                     `cbor:"6,keyasint,omitempty"`
	HCert    map[int64]cbor.RawMessage `cbor:"-260,keyasint,omitempty"`
}

var jsonMapMode = func() cbor.DecMode {
	mode, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return mode
}()

type Decoder struct {
	strictSchema bool
	schema       *Schema
	logger       logrus.FieldLogger
}

func NewDecoder(strictSchema bool, logger logrus.FieldLogger) (*Decoder, error) {
	schema, err := LoadSchema()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Decoder{
		strictSchema: strictSchema,
		schema:       schema,
		logger:       logger.WithField("component", "hcert"),
	}, nil
}

// Decode turns a scanned QR payload into a certificate. The signature is not
// checked here.
func (d *Decoder) Decode(payload string) (*domain.Certificate, error) {
	payload = strings.TrimSpace(payload)
	payload = strings.TrimPrefix(payload, Prefix)

	compressed, err := DecodeBase45(payload)
	if err != nil {
		return nil, err
	}
	coseBytes, err := inflate(compressed)
	if err != nil {
		return nil, err
	}
	return d.DecodeCOSE(coseBytes)
}

func (d *Decoder) DecodeCOSE(coseBytes []byte) (*domain.Certificate, error) {
	var tagged cbor.RawTag
	if err := cbor.Unmarshal(coseBytes, &tagged); err != nil {
		return nil, malformed("cose envelope: %v", err)
	}
	if tagged.Number != coseSign1Tag {
		return nil, malformed("unexpected cbor tag %d", tagged.Number)
	}
	var parts []cbor.RawMessage
	if err := cbor.Unmarshal(tagged.Content, &parts); err != nil {
		return nil, malformed("cose array: %v", err)
	}
	if len(parts) != 4 {
		return nil, malformed("cose array has %d elements", len(parts))
	}

	var protectedBytes, payloadBytes, signature []byte
	if err := cbor.Unmarshal(parts[0], &protectedBytes); err != nil {
		return nil, malformed("protected header bytes: %v", err)
	}
	var unprotected map[any]any
	if err := cbor.Unmarshal(parts[1], &unprotected); err != nil {
		return nil, malformed("unprotected header: %v", err)
	}
	if err := cbor.Unmarshal(parts[2], &payloadBytes); err != nil {
		return nil, malformed("payload bytes: %v", err)
	}
	if err := cbor.Unmarshal(parts[3], &signature); err != nil {
		return nil, malformed("signature bytes: %v", err)
	}

	protected := map[any]any{}
	if len(protectedBytes) > 0 {
		if err := cbor.Unmarshal(protectedBytes, &protected); err != nil {
			return nil, malformed("protected header: %v", err)
		}
	}

	kid, err := d.extractKID(protected, unprotected)
	if err != nil {
		return nil, err
	}
	alg, _ := labelInt(protected, labelAlg)

	var claims cwtClaims
	if err := cbor.Unmarshal(payloadBytes, &claims); err != nil {
		return nil, malformed("cwt claims: %v", err)
	}
	rawHealth, ok := claims.HCert[hcertVersionKey]
	if !ok {
		return nil, malformed("missing health certificate claim")
	}
	healthJSON, err := healthToJSON(rawHealth)
	if err != nil {
		return nil, err
	}

	schemaValid := true
	if err := d.schema.Validate(healthJSON); err != nil {
		if d.strictSchema {
			return nil, err
		}
		d.logger.WithError(err).Warn("health certificate failed schema validation")
		schemaValid = false
	}

	var health domain.HealthCertificate
	if err := json.Unmarshal(healthJSON, &health); err != nil {
		if d.strictSchema {
			return nil, fmt.Errorf("%w: %v", domain.ErrSchemaViolation, err)
		}
		schemaValid = false
	}

	return &domain.Certificate{
		Raw:         append([]byte(nil), coseBytes...),
		Protected:   protectedBytes,
		Payload:     payloadBytes,
		Signature:   signature,
		Algorithm:   alg,
		KID:         kid,
		Issuer:      claims.Issuer,
		IssuedAt:    epoch(claims.IssuedAt),
		Expiry:      epoch(claims.Expiry),
		Health:      health,
		HealthJSON:  healthJSON,
		SchemaValid: schemaValid,
	}, nil
}

func (d *Decoder) extractKID(protected, unprotected map[any]any) ([]byte, error) {
	value, ok := lookupLabel(protected, labelKID)
	if !ok {
		value, ok = lookupLabel(unprotected, labelKID)
	}
	if !ok {
		return nil, malformed("missing kid header")
	}
	switch v := value.(type) {
	case []byte:
		if len(v) == 0 {
			return nil, malformed("empty kid header")
		}
		return v, nil
	case string:
		// Non-compliant producers put the kid in a text string.
		if decoded, err := hex.DecodeString(v); err == nil && len(decoded) > 0 {
			d.logger.WithField("kid", v).Warn("kid encoded as hex text string; decoded for compatibility")
			return decoded, nil
		}
		d.logger.WithField("kid", v).Warn("kid encoded as text string; using raw utf-8 bytes for compatibility")
		return []byte(v), nil
	default:
		return nil, malformed("unsupported kid type %T", value)
	}
}

func inflate(data []byte) ([]byte, error) {
	if !hasZlibHeader(data) {
		return data, nil
	}
	r := flate.NewReader(bytes.NewReader(data[2:]))
	defer r.Close()
	out, err := io.ReadAll(io.LimitReader(r, maxInflatedSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: inflate: %v", domain.ErrDecode, err)
	}
	if len(out) > maxInflatedSize {
		return nil, fmt.Errorf("%w: inflated payload too large", domain.ErrDecode)
	}
	return out, nil
}

func hasZlibHeader(data []byte) bool {
	if len(data) < 2 || data[0]&0x0f != 8 {
		return false
	}
	return (uint16(data[0])<<8|uint16(data[1]))%31 == 0
}

func healthToJSON(raw cbor.RawMessage) ([]byte, error) {
	var value any
	if err := jsonMapMode.Unmarshal(raw, &value); err != nil {
		return nil, malformed("health certificate: %v", err)
	}
	if _, ok := value.(map[string]any); !ok {
		return nil, malformed("health certificate is %T, want map", value)
	}
	out, err := json.Marshal(value)
	if err != nil {
		return nil, malformed("health certificate json: %v", err)
	}
	return out, nil
}

func lookupLabel(m map[any]any, label int64) (any, bool) {
	for k, v := range m {
		switch key := k.(type) {
		case int64:
			if key == label {
				return v, true
			}
		case uint64:
			if label >= 0 && key == uint64(label) {
				return v, true
			}
		case int:
			if int64(key) == label {
				return v, true
			}
		}
	}
	return nil, false
}

func labelInt(m map[any]any, label int64) (int64, bool) {
	v, ok := lookupLabel(m, label)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case int:
		return int64(n), true
	}
	return 0, false
}

func epoch(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", domain.ErrDecode, domain.ErrMalformedCertificate, fmt.Sprintf(format, args...))
}
