package usecase

import (
	"time"

	"dccgate/internal/domain"
)

var statementTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// TechnicalValidity runs the temporal and statement checks on a certificate
// whose signature has already been verified.
func TechnicalValidity(cert *domain.Certificate, clock time.Time) (domain.TechnicalValidity, []string) {
	var reasons []string
	if !cert.Expiry.IsZero() && clock.After(cert.Expiry) {
		reasons = append(reasons, domain.ReasonExpired)
	}
	if !cert.IssuedAt.IsZero() && cert.IssuedAt.After(clock) {
		reasons = append(reasons, domain.ReasonNotYetValid)
	}
	reasons = append(reasons, statementReasons(cert.Health, clock)...)
	if len(reasons) > 0 {
		return domain.TechnicalInvalid, reasons
	}
	if !cert.SchemaValid {
		return domain.TechnicalLimited, []string{domain.ReasonSchemaViolation}
	}
	return domain.TechnicalValid, nil
}

func statementReasons(h domain.HealthCertificate, clock time.Time) []string {
	if h.StatementCount() != 1 {
		return []string{domain.ReasonStatementCount}
	}
	switch {
	case len(h.Vaccinations) == 1:
		date, ok := parseStatementTime(h.Vaccinations[0].Date)
		if !ok {
			return []string{domain.ReasonStatementMalformed}
		}
		if date.After(clock) {
			return []string{domain.ReasonVaccinationFuture}
		}
	case len(h.Tests) == 1:
		test := h.Tests[0]
		sampled, ok := parseStatementTime(test.SampledAt)
		if !ok {
			return []string{domain.ReasonStatementMalformed}
		}
		var reasons []string
		if sampled.After(clock) {
			reasons = append(reasons, domain.ReasonTestFuture)
		}
		if test.Result != domain.TestResultNotDetected {
			reasons = append(reasons, domain.ReasonTestPositive)
		}
		return reasons
	case len(h.Recoveries) == 1:
		rec := h.Recoveries[0]
		from, okFrom := parseStatementTime(rec.ValidFrom)
		until, okUntil := parseStatementTime(rec.ValidUntil)
		if !okFrom || !okUntil {
			return []string{domain.ReasonStatementMalformed}
		}
		if clock.Before(from) {
			return []string{domain.ReasonRecoveryNotValid}
		}
		// du is inclusive: the whole day counts.
		if !clock.Before(until.AddDate(0, 0, 1)) {
			return []string{domain.ReasonRecoveryExpired}
		}
	}
	return nil
}

func parseStatementTime(value string) (time.Time, bool) {
	for _, layout := range statementTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

type ValidityInput struct {
	Technical    domain.TechnicalValidity
	Reasons      []string
	Verdicts     []domain.RuleVerdict
	RulesChecked bool
	Revoked      bool
	KeyID        string
	Clock        time.Time
	Cause        error
}

// AggregateValidity folds the individual checks into one validity state.
// Revocation dominates, then technical failure, then the rule verdicts.
func AggregateValidity(in ValidityInput) domain.ValidityState {
	state := domain.ValidityState{
		Technical:   in.Technical,
		Issuer:      domain.RuleValidityOpen,
		Destination: domain.RuleValidityOpen,
		Traveller:   domain.RuleValidityOpen,
		Revocation:  domain.RevocationValid,
		Reasons:     append([]string(nil), in.Reasons...),
		Verdicts:    in.Verdicts,
		KeyID:       in.KeyID,
		CheckedAt:   in.Clock,
		Cause:       in.Cause,
	}
	combined := domain.RuleValidityOpen
	if in.RulesChecked {
		state.Issuer = domain.CombineVerdicts(verdictsFor(in.Verdicts, domain.RuleCategoryIssuer))
		state.Destination = domain.CombineVerdicts(verdictsFor(in.Verdicts, domain.RuleCategoryDestination))
		state.Traveller = domain.CombineVerdicts(verdictsFor(in.Verdicts, domain.RuleCategoryTraveller))
		combined = domain.CombineVerdicts(in.Verdicts)
	}

	switch {
	case in.Revoked:
		state.Revocation = domain.RevocationRevoked
		state.AllRules = domain.AllRulesRevoked
		state.Reasons = append(state.Reasons, domain.ReasonRevoked)
	case in.Technical == domain.TechnicalInvalid:
		state.AllRules = domain.AllRulesInvalid
	case combined == domain.RuleValidityFailed:
		state.AllRules = domain.AllRulesInvalid
		state.Reasons = append(state.Reasons, domain.ReasonRuleFailed)
	case combined == domain.RuleValidityOpen:
		state.AllRules = domain.AllRulesLimited
		state.Reasons = append(state.Reasons, domain.ReasonRuleOpen)
	case in.Technical == domain.TechnicalLimited:
		state.AllRules = domain.AllRulesLimited
	default:
		state.AllRules = domain.AllRulesValid
	}
	return state
}

func verdictsFor(verdicts []domain.RuleVerdict, category domain.RuleCategory) []domain.RuleVerdict {
	var out []domain.RuleVerdict
	for _, v := range verdicts {
		if v.Category == category {
			out = append(out, v)
		}
	}
	return out
}
