package domain

type RuleResult string

const (
	RuleResultPass RuleResult = "pass"
	RuleResultFail RuleResult = "fail"
	RuleResultOpen RuleResult = "open"
)

type RuleCategory string

const (
	RuleCategoryIssuer      RuleCategory = "issuer"
	RuleCategoryDestination RuleCategory = "destination"
	RuleCategoryTraveller   RuleCategory = "traveller"
)

type RuleFilter struct {
	ValidationClock   string `json:"validationClock"`
	CountryCode       string `json:"countryCode"`
	CertificationType string `json:"certificationType"`
}

type RuleExternal struct {
	ValidationClock   string              `json:"validationClock"`
	ValueSets         map[string][]string `json:"valueSets"`
	Exp               string              `json:"exp"`
	Iat               string              `json:"iat"`
	IssuerCountryCode string              `json:"issuerCountryCode"`
	KID               string              `json:"kid"`
}

type RuleInput struct {
	Filter   RuleFilter     `json:"filter"`
	External RuleExternal   `json:"external"`
	Payload  map[string]any `json:"payload"`
}

type RuleVerdict struct {
	Result   RuleResult   `json:"result"`
	Rule     string       `json:"rule"`
	Category RuleCategory `json:"category"`
	Errors   []string     `json:"errors,omitempty"`
}

// CombineVerdicts folds rule verdicts into one validity: failed if any rule
// fails, open if any is inconclusive, passed otherwise.
func CombineVerdicts(verdicts []RuleVerdict) RuleValidity {
	out := RuleValidityPassed
	for _, v := range verdicts {
		switch v.Result {
		case RuleResultFail:
			return RuleValidityFailed
		case RuleResultOpen:
			out = RuleValidityOpen
		}
	}
	return out
}
