package domain

import "time"

type TechnicalValidity string

const (
	TechnicalValid   TechnicalValidity = "valid"
	TechnicalInvalid TechnicalValidity = "invalid"
	TechnicalLimited TechnicalValidity = "limited"
)

type RuleValidity string

const (
	RuleValidityPassed RuleValidity = "passed"
	RuleValidityFailed RuleValidity = "failed"
	RuleValidityOpen   RuleValidity = "open"
)

type AllRulesValidity string

const (
	AllRulesValid   AllRulesValidity = "valid"
	AllRulesLimited AllRulesValidity = "limited"
	AllRulesInvalid AllRulesValidity = "invalid"
	AllRulesRevoked AllRulesValidity = "revoked"
)

type RevocationValidity string

const (
	RevocationValid   RevocationValidity = "valid"
	RevocationRevoked RevocationValidity = "revoked"
)

// Validity failure codes.
const (
	ReasonSignatureInvalid   = "SIGNATURE_INVALID"
	ReasonNoTrustKey         = "NO_TRUST_KEY"
	ReasonKeyUsageMismatch   = "KEY_USAGE_MISMATCH"
	ReasonExpired            = "CERTIFICATE_EXPIRED"
	ReasonNotYetValid        = "CERTIFICATE_NOT_YET_VALID"
	ReasonSchemaViolation    = "SCHEMA_VIOLATION"
	ReasonStatementCount     = "STATEMENT_COUNT"
	ReasonVaccinationFuture  = "VACCINATION_DATE_IN_FUTURE"
	ReasonTestFuture         = "TEST_DATE_IN_FUTURE"
	ReasonTestPositive       = "TEST_RESULT_POSITIVE"
	ReasonRecoveryNotValid   = "RECOVERY_NOT_YET_VALID"
	ReasonRecoveryExpired    = "RECOVERY_EXPIRED"
	ReasonStatementMalformed = "STATEMENT_MALFORMED"
	ReasonRevoked            = "CERTIFICATE_REVOKED"
	ReasonRuleFailed         = "RULE_FAILED"
	ReasonRuleOpen           = "RULE_OPEN"
)

type ValidityState struct {
	Technical   TechnicalValidity  `json:"technical_validity"`
	Issuer      RuleValidity       `json:"issuer_validity"`
	Destination RuleValidity       `json:"destination_validity"`
	Traveller   RuleValidity       `json:"traveller_validity"`
	AllRules    AllRulesValidity   `json:"all_rules_validity"`
	Revocation  RevocationValidity `json:"revocation_validity"`
	Reasons     []string           `json:"reasons,omitempty"`
	Verdicts    []RuleVerdict      `json:"verdicts,omitempty"`
	KeyID       string             `json:"kid,omitempty"`
	CheckedAt   time.Time          `json:"checked_at"`

	// Cause is the certificate-level error behind an invalid technical state.
	Cause error `json:"-"`
}

func (s ValidityState) IsValid() bool {
	return s.Technical == TechnicalValid &&
		s.Revocation == RevocationValid &&
		s.AllRules == AllRulesValid
}
