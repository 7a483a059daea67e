package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"dccgate/internal/domain"
	"dccgate/internal/infra/bloom"
	cryptoinfra "dccgate/internal/infra/crypto"
	"dccgate/internal/infra/hcert"
	"dccgate/internal/infra/lock"
	"dccgate/internal/infra/policyopa"
	"dccgate/internal/infra/revmem"
	"dccgate/internal/infra/revocationclient"
	"dccgate/internal/infra/trustmem"
	"dccgate/internal/usecase"
	"dccgate/pkg/issue"

	"github.com/sirupsen/logrus"
)

type decodeOutput struct {
	KID           string          `json:"kid"`
	RevocationKID string          `json:"revocation_kid"`
	Algorithm     int64           `json:"alg"`
	Issuer        string          `json:"issuer,omitempty"`
	IssuedAt      string          `json:"issued_at,omitempty"`
	ExpiresAt     string          `json:"expires_at,omitempty"`
	SchemaValid   bool            `json:"schema_valid"`
	Health        json.RawMessage `json:"hcert"`
}

type verifyOutput struct {
	Valid    bool                 `json:"valid"`
	KID      string               `json:"kid"`
	Validity domain.ValidityState `json:"validity"`
}

func runDecode(args []string) int {
	fs := flag.NewFlagSet("decode", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var inPath string
	var payload string
	var lenient bool
	var outPath string

	fs.StringVar(&inPath, "in", "", "file holding the scanned payload")
	fs.StringVar(&payload, "payload", "", "scanned payload")
	fs.BoolVar(&lenient, "lenient", false, "report schema violations instead of failing")
	fs.StringVar(&outPath, "out", "", "output path (default stdout)")

	if err := fs.Parse(args); err != nil {
		return exitError
	}
	raw, err := readPayload(inPath, payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read payload: %v\n", err)
		return exitError
	}
	decoder, err := hcert.NewDecoder(!lenient, cliLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "init decoder: %v\n", err)
		return exitError
	}
	cert, err := decoder.Decode(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "decode: %v\n", err)
		return exitInvalid
	}
	out := decodeOutput{
		KID:           cert.KeyID(),
		RevocationKID: cert.RevocationKID(),
		Algorithm:     cert.Algorithm,
		Issuer:        cert.Issuer,
		IssuedAt:      formatTime(cert.IssuedAt),
		ExpiresAt:     formatTime(cert.Expiry),
		SchemaValid:   cert.SchemaValid,
		Health:        json.RawMessage(cert.HealthJSON),
	}
	return emitJSON(outPath, out, exitOK)
}

func runVerify(args []string) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var inPath string
	var payload string
	var dscPath string
	var rulesPath string
	var valueSetsPath string
	var country string
	var clockStr string
	var revocationURL string
	var outPath string

	fs.StringVar(&inPath, "in", "", "file holding the scanned payload")
	fs.StringVar(&payload, "payload", "", "scanned payload")
	fs.StringVar(&dscPath, "dsc", "", "trusted signer certificate (PEM or base64 DER)")
	fs.StringVar(&rulesPath, "rules", "", "rule bundle directory")
	fs.StringVar(&valueSetsPath, "value-sets", "", "value sets JSON file")
	fs.StringVar(&country, "country", "DE", "acceptance country code")
	fs.StringVar(&clockStr, "clock", "", "validation clock (RFC3339, default now)")
	fs.StringVar(&revocationURL, "revocation-url", "", "revocation list service base url")
	fs.StringVar(&outPath, "out", "", "output path (default stdout)")

	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if dscPath == "" {
		fmt.Fprintln(os.Stderr, "verify requires --dsc")
		return exitError
	}
	raw, err := readPayload(inPath, payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read payload: %v\n", err)
		return exitError
	}
	var clock time.Time
	if clockStr != "" {
		clock, err = time.Parse(time.RFC3339, clockStr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "parse clock: %v\n", err)
			return exitError
		}
	}

	ctx := context.Background()
	logger := cliLogger()
	uc, err := buildVerifier(ctx, logger, dscPath, rulesPath, valueSetsPath, revocationURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitError
	}
	uc.DefaultCountryCode = strings.ToUpper(country)

	res, err := uc.Execute(ctx, usecase.VerifyCertificateRequest{Payload: raw, ValidationClock: clock.UTC()})
	if err != nil {
		fmt.Fprintf(os.Stderr, "verify: %v\n", err)
		return exitInvalid
	}
	code := exitOK
	if !res.State.IsValid() {
		code = exitInvalid
	}
	return emitJSON(outPath, verifyOutput{
		Valid:    res.State.IsValid(),
		KID:      res.Certificate.KeyID(),
		Validity: res.State,
	}, code)
}

func buildVerifier(ctx context.Context, logger logrus.FieldLogger, dscPath, rulesPath, valueSetsPath, revocationURL string) (*usecase.VerifyCertificate, error) {
	decoder, err := hcert.NewDecoder(true, logger)
	if err != nil {
		return nil, fmt.Errorf("init decoder: %w", err)
	}
	der, err := readDSC(dscPath)
	if err != nil {
		return nil, fmt.Errorf("read signer certificate: %w", err)
	}
	cryptoSvc := &cryptoinfra.Service{}
	key, err := cryptoSvc.ParseTrustKey(domain.KeyIDFromBytes(issue.KIDForCertificate(der)), base64.StdEncoding.EncodeToString(der))
	if err != nil {
		return nil, fmt.Errorf("parse signer certificate: %w", err)
	}
	keys := trustmem.New()
	if err := keys.Add(ctx, key); err != nil {
		return nil, err
	}

	uc := &usecase.VerifyCertificate{
		Decoder:  decoder,
		Keys:     keys,
		Verifier: cryptoSvc,
		Logger:   logger,
	}
	if rulesPath != "" {
		engine, err := policyopa.NewEngineFromBundlePath(ctx, rulesPath, "cli")
		if err != nil {
			return nil, fmt.Errorf("load rules: %w", err)
		}
		uc.Rules = engine
	}
	if valueSetsPath != "" {
		data, err := os.ReadFile(valueSetsPath)
		if err != nil {
			return nil, fmt.Errorf("read value sets: %w", err)
		}
		if err := json.Unmarshal(data, &uc.ValueSets); err != nil {
			return nil, fmt.Errorf("decode value sets: %w", err)
		}
	}
	if revocationURL != "" {
		store := revmem.New()
		locker := lock.NewMemoryLocker()
		sync := &usecase.RevocationSync{
			Source: revocationclient.New(revocationURL, 30*time.Second),
			Store:  store,
			Locker: locker,
			Logger: logger,
		}
		if _, err := sync.Execute(ctx); err != nil {
			return nil, fmt.Errorf("sync revocation lists: %w", err)
		}
		uc.Revocation = &usecase.RevocationLookup{
			Store:  store,
			Mapper: usecase.NibbleMapper{Width: 1},
			Decode: bloom.DecodeSlice,
			Locker: locker,
			Logger: logger,
		}
	}
	return uc, nil
}

func emitJSON(outPath string, value any, code int) int {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode output: %v\n", err)
		return exitError
	}
	if err := writeOutput(outPath, data); err != nil {
		fmt.Fprintf(os.Stderr, "write output: %v\n", err)
		return exitError
	}
	return code
}

func cliLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	if os.Getenv("DCCVERIFY_DEBUG") != "" {
		logger.SetOutput(os.Stderr)
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
