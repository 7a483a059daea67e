package policyopa

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"dccgate/internal/domain"
)

func TestEngineDeterministic(t *testing.T) {
	engine := newEngine(t)
	input := vaccinationInput(2, 2)

	first, err := engine.Validate(context.Background(), input)
	if err != nil {
		t.Fatalf("validate first: %v", err)
	}
	second, err := engine.Validate(context.Background(), input)
	if err != nil {
		t.Fatalf("validate second: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected deterministic rule evaluation")
	}
	if engine.BundleHash() == "" {
		t.Fatalf("expected bundle hash to be set")
	}

	want := map[string]domain.RuleResult{
		"GR-ALL-0001": domain.RuleResultPass,
		"GR-ALL-0002": domain.RuleResultPass,
		"VR-ALL-0001": domain.RuleResultPass,
		"TV-ALL-0001": domain.RuleResultPass,
	}
	if got := resultsByRule(first); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected verdicts %v", got)
	}
	if domain.CombineVerdicts(first) != domain.RuleValidityPassed {
		t.Fatalf("expected all rules to pass")
	}
}

func TestEngineVerdicts(t *testing.T) {
	engine := newEngine(t)

	tests := []struct {
		name   string
		mutate func(*domain.RuleInput)
		rule   string
		want   domain.RuleResult
	}{
		{
			name:   "incomplete series",
			mutate: func(in *domain.RuleInput) { *in = vaccinationInput(1, 2) },
			rule:   "VR-ALL-0001",
			want:   domain.RuleResultFail,
		},
		{
			name:   "missing value set",
			mutate: func(in *domain.RuleInput) { in.External.ValueSets = nil },
			rule:   "GR-ALL-0002",
			want:   domain.RuleResultOpen,
		},
		{
			name: "unknown target",
			mutate: func(in *domain.RuleInput) {
				in.External.ValueSets = map[string][]string{"disease-agent-targeted": {"000000"}}
			},
			rule: "GR-ALL-0002",
			want: domain.RuleResultFail,
		},
		{
			name: "two statements",
			mutate: func(in *domain.RuleInput) {
				in.Payload["r"] = []any{map[string]any{"tg": "840539006"}}
			},
			rule: "GR-ALL-0001",
			want: domain.RuleResultFail,
		},
		{
			name:   "expired at clock",
			mutate: func(in *domain.RuleInput) { in.External.Exp = "2026-03-01T00:00:00Z" },
			rule:   "TV-ALL-0001",
			want:   domain.RuleResultFail,
		},
		{
			name: "old test",
			mutate: func(in *domain.RuleInput) {
				in.Filter.CertificationType = "test"
				delete(in.Payload, "v")
				in.Payload["t"] = []any{map[string]any{"tg": "840539006", "sc": "2026-03-06T12:00:00Z"}}
			},
			rule: "TR-ALL-0001",
			want: domain.RuleResultFail,
		},
		{
			name: "fresh test",
			mutate: func(in *domain.RuleInput) {
				in.Filter.CertificationType = "test"
				delete(in.Payload, "v")
				in.Payload["t"] = []any{map[string]any{"tg": "840539006", "sc": "2026-03-09T12:00:00Z"}}
			},
			rule: "TR-ALL-0001",
			want: domain.RuleResultPass,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			input := vaccinationInput(2, 2)
			tt.mutate(&input)
			verdicts, err := engine.Validate(context.Background(), input)
			if err != nil {
				t.Fatalf("validate: %v", err)
			}
			got := resultsByRule(verdicts)
			if got[tt.rule] != tt.want {
				t.Fatalf("expected %s=%s, got %v", tt.rule, tt.want, got)
			}
		})
	}
}

func TestEngineCategories(t *testing.T) {
	engine := newEngine(t)
	input := vaccinationInput(2, 2)

	issuer, err := engine.ValidateIssuer(context.Background(), input)
	if err != nil {
		t.Fatalf("validate issuer: %v", err)
	}
	destination, err := engine.ValidateDestination(context.Background(), input)
	if err != nil {
		t.Fatalf("validate destination: %v", err)
	}
	traveller, err := engine.ValidateTraveller(context.Background(), input)
	if err != nil {
		t.Fatalf("validate traveller: %v", err)
	}
	if len(issuer) != 2 || len(destination) != 1 || len(traveller) != 1 {
		t.Fatalf("unexpected split %d/%d/%d", len(issuer), len(destination), len(traveller))
	}
	for _, v := range issuer {
		if v.Category != domain.RuleCategoryIssuer {
			t.Fatalf("unexpected category %s", v.Category)
		}
	}
	all, err := engine.Validate(context.Background(), input)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(all) != len(issuer)+len(destination)+len(traveller) {
		t.Fatalf("categories do not cover every rule: %d vs %d", len(all), len(issuer)+len(destination)+len(traveller))
	}
}

func TestEngineRejectsTimeBuiltin(t *testing.T) {
	rejectBuiltin(t, "time.now_ns()")
}

func TestEngineRejectsHttpSend(t *testing.T) {
	rejectBuiltin(t, "http.send({\"method\": \"get\", \"url\": \"https://example.com\"})")
}

func TestEngineRejectsRand(t *testing.T) {
	rejectBuiltin(t, "rand.intn(\"x\", 10)")
}

func TestEngineRejectsUnknownResult(t *testing.T) {
	dir := t.TempDir()
	regoContent := `package dcc.rules
verdicts[v] {
  v := {"result": "maybe", "rule": "X", "category": "issuer"}
}`
	if err := os.WriteFile(filepath.Join(dir, "rules.rego"), []byte(regoContent), 0o644); err != nil {
		t.Fatalf("write rego: %v", err)
	}
	engine, err := NewEngineFromBundlePath(context.Background(), dir, "test")
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if _, err := engine.Validate(context.Background(), vaccinationInput(2, 2)); err == nil {
		t.Fatalf("expected unknown result to be rejected")
	}
}

func rejectBuiltin(t *testing.T, expr string) {
	t.Helper()
	dir := t.TempDir()
	regoContent := `package dcc.rules
verdicts[v] {
  ` + expr + `
  v := {"result": "pass", "rule": "X", "category": "issuer"}
}`
	if err := os.WriteFile(filepath.Join(dir, "rules.rego"), []byte(regoContent), 0o644); err != nil {
		t.Fatalf("write rego: %v", err)
	}

	_, err := NewEngineFromBundlePath(context.Background(), dir, "test")
	if err == nil {
		t.Fatalf("expected builtin to be rejected")
	}
}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	path := filepath.Join("..", "..", "..", "policy", "rules", "reference_v0")
	engine, err := NewEngineFromBundlePath(context.Background(), path, "reference_v0")
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func vaccinationInput(dose, series int) domain.RuleInput {
	return domain.RuleInput{
		Filter: domain.RuleFilter{
			ValidationClock:   "2026-03-10T12:00:00Z",
			CountryCode:       "DE",
			CertificationType: "vaccination",
		},
		External: domain.RuleExternal{
			ValidationClock:   "2026-03-10T12:00:00Z",
			ValueSets:         map[string][]string{"disease-agent-targeted": {"840539006"}},
			Exp:               "2027-03-10T12:00:00Z",
			Iat:               "2026-03-09T12:00:00Z",
			IssuerCountryCode: "AT",
			KID:               "2Rk3X8HntrI=",
		},
		Payload: map[string]any{
			"ver": "1.3.0",
			"v": []any{map[string]any{
				"tg": "840539006",
				"dn": dose,
				"sd": series,
				"dt": "2026-02-01",
				"co": "AT",
				"ci": "URN:UVCI:01:AT:TEST",
			}},
		},
	}
}

func resultsByRule(verdicts []domain.RuleVerdict) map[string]domain.RuleResult {
	out := make(map[string]domain.RuleResult, len(verdicts))
	for _, v := range verdicts {
		out[v.Rule] = v.Result
	}
	return out
}
