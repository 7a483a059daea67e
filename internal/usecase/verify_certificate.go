package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"dccgate/internal/domain"

	"github.com/sirupsen/logrus"
)

type VerifyCertificateRequest struct {
	Payload         string
	CountryCode     string
	ValidationClock time.Time
}

type VerifyCertificateResult struct {
	Certificate *domain.Certificate
	State       domain.ValidityState
}

type VerifyCertificate struct {
	Decoder            CertificateDecoder
	Keys               TrustKeyStore
	Verifier           SignatureVerifier
	Rules              RuleEngine
	Revocation         RevocationChecker
	Metrics            Metrics
	Logger             logrus.FieldLogger
	DefaultCountryCode string
	ValueSets          map[string][]string
	Now                func() time.Time
}

// Execute decodes and verifies one scanned certificate. Decode and schema
// failures are returned as errors; every other outcome is reported in the
// validity state.
func (uc *VerifyCertificate) Execute(ctx context.Context, req VerifyCertificateRequest) (*VerifyCertificateResult, error) {
	if uc.Decoder == nil || uc.Keys == nil || uc.Verifier == nil {
		return nil, errors.New("decoder, key store and verifier are required")
	}
	cert, err := uc.Decoder.Decode(req.Payload)
	if err != nil {
		return nil, err
	}
	clock := req.ValidationClock
	if clock.IsZero() {
		clock = uc.now()
	}
	log := uc.logger().WithField("kid", cert.KeyID())

	state := uc.evaluate(ctx, cert, req, clock, log)
	if uc.Metrics != nil {
		uc.Metrics.ObserveVerification(state)
	}
	return &VerifyCertificateResult{Certificate: cert, State: state}, nil
}

func (uc *VerifyCertificate) evaluate(ctx context.Context, cert *domain.Certificate, req VerifyCertificateRequest, clock time.Time, log logrus.FieldLogger) domain.ValidityState {
	in := ValidityInput{KeyID: cert.KeyID(), Clock: clock}

	candidates, err := uc.Keys.Candidates(ctx, cert.KeyID())
	if err != nil {
		log.WithError(err).Warn("trust key lookup failed")
	}
	if len(candidates) == 0 {
		in.Technical = domain.TechnicalInvalid
		in.Reasons = []string{domain.ReasonNoTrustKey}
		in.Cause = domain.ErrNoTrustKey
		return AggregateValidity(in)
	}

	key, err := uc.Verifier.VerifyCertificate(cert, candidates)
	if err != nil {
		in.Technical = domain.TechnicalInvalid
		in.Reasons = []string{domain.ReasonSignatureInvalid}
		in.Cause = domain.ErrSignatureInvalid
		return AggregateValidity(in)
	}
	if !key.Allows(cert.StatementType()) {
		in.Technical = domain.TechnicalInvalid
		in.Reasons = []string{domain.ReasonKeyUsageMismatch}
		return AggregateValidity(in)
	}

	in.Technical, in.Reasons = TechnicalValidity(cert, clock)
	if in.Technical == domain.TechnicalInvalid {
		return AggregateValidity(in)
	}

	if uc.Rules != nil {
		verdicts, err := uc.validateRules(ctx, uc.ruleInput(cert, req, clock))
		if err != nil {
			log.WithError(err).Warn("rule evaluation failed")
		} else {
			in.Verdicts = verdicts
			in.RulesChecked = true
		}
	} else {
		in.RulesChecked = true
	}

	if uc.Revocation != nil {
		revoked, err := uc.Revocation.IsRevoked(ctx, cert)
		if err != nil {
			log.WithError(err).Warn("revocation lookup failed")
		}
		in.Revoked = revoked
	}
	return AggregateValidity(in)
}

// validateRules runs the issuer, destination and traveller rule subsets. An
// error in any subset discards all verdicts.
func (uc *VerifyCertificate) validateRules(ctx context.Context, input domain.RuleInput) ([]domain.RuleVerdict, error) {
	subsets := []func(context.Context, domain.RuleInput) ([]domain.RuleVerdict, error){
		uc.Rules.ValidateIssuer,
		uc.Rules.ValidateDestination,
		uc.Rules.ValidateTraveller,
	}
	var verdicts []domain.RuleVerdict
	for _, validate := range subsets {
		subset, err := validate(ctx, input)
		if err != nil {
			return nil, err
		}
		verdicts = append(verdicts, subset...)
	}
	return verdicts, nil
}

func (uc *VerifyCertificate) ruleInput(cert *domain.Certificate, req VerifyCertificateRequest, clock time.Time) domain.RuleInput {
	country := req.CountryCode
	if country == "" {
		country = uc.DefaultCountryCode
	}
	var payload map[string]any
	if err := json.Unmarshal(cert.HealthJSON, &payload); err != nil {
		payload = map[string]any{}
	}
	return domain.RuleInput{
		Filter: domain.RuleFilter{
			ValidationClock:   clock.UTC().Format(time.RFC3339),
			CountryCode:       country,
			CertificationType: certificationType(cert.StatementType()),
		},
		External: domain.RuleExternal{
			ValidationClock:   clock.UTC().Format(time.RFC3339),
			ValueSets:         uc.ValueSets,
			Exp:               formatClaimTime(cert.Expiry),
			Iat:               formatClaimTime(cert.IssuedAt),
			IssuerCountryCode: cert.CountryCode(),
			KID:               cert.KeyID(),
		},
		Payload: payload,
	}
}

func certificationType(st domain.StatementType) string {
	switch st {
	case domain.StatementVaccination:
		return "vaccination"
	case domain.StatementTest:
		return "test"
	case domain.StatementRecovery:
		return "recovery"
	}
	return "general"
}

func formatClaimTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func (uc *VerifyCertificate) now() time.Time {
	if uc.Now != nil {
		return uc.Now()
	}
	return time.Now().UTC()
}

func (uc *VerifyCertificate) logger() logrus.FieldLogger {
	if uc.Logger != nil {
		return uc.Logger
	}
	return logrus.StandardLogger()
}
