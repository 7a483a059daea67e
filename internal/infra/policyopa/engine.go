package policyopa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"dccgate/internal/domain"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
)

const defaultQuery = "data.dcc.rules.verdicts"

type Engine struct {
	query      rego.PreparedEvalQuery
	bundleHash string
	bundleID   string
}

func NewEngineFromBundlePath(ctx context.Context, bundlePath string, bundleID string) (*Engine, error) {
	bundleHash, err := ComputeBundleHashFromPath(bundlePath)
	if err != nil {
		return nil, err
	}

	capabilities := ast.CapabilitiesForThisVersion()
	capabilities.Builtins = filterBuiltins(capabilities.Builtins)
	compiler := ast.NewCompiler().WithCapabilities(capabilities)

	r := rego.New(
		rego.Query(defaultQuery),
		rego.Compiler(compiler),
		rego.StrictBuiltinErrors(true),
		rego.Load([]string{bundlePath}, nil),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}
	if err := assertNoForbiddenBuiltins(compiler); err != nil {
		return nil, err
	}

	return &Engine{
		query:      prepared,
		bundleHash: bundleHash,
		bundleID:   bundleID,
	}, nil
}

func (e *Engine) BundleHash() string {
	return e.bundleHash
}

func (e *Engine) BundleID() string {
	return e.bundleID
}

// Validate evaluates every rule of the bundle against input.
func (e *Engine) Validate(ctx context.Context, input domain.RuleInput) ([]domain.RuleVerdict, error) {
	if e == nil {
		return nil, errors.New("rule engine is nil")
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, nil
	}
	verdicts, err := decodeVerdicts(results[0].Expressions[0].Value)
	if err != nil {
		return nil, err
	}
	normalizeVerdicts(verdicts)
	return verdicts, nil
}

func (e *Engine) ValidateIssuer(ctx context.Context, input domain.RuleInput) ([]domain.RuleVerdict, error) {
	return e.validateCategory(ctx, input, domain.RuleCategoryIssuer)
}

func (e *Engine) ValidateDestination(ctx context.Context, input domain.RuleInput) ([]domain.RuleVerdict, error) {
	return e.validateCategory(ctx, input, domain.RuleCategoryDestination)
}

func (e *Engine) ValidateTraveller(ctx context.Context, input domain.RuleInput) ([]domain.RuleVerdict, error) {
	return e.validateCategory(ctx, input, domain.RuleCategoryTraveller)
}

func (e *Engine) validateCategory(ctx context.Context, input domain.RuleInput, category domain.RuleCategory) ([]domain.RuleVerdict, error) {
	all, err := e.Validate(ctx, input)
	if err != nil {
		return nil, err
	}
	var out []domain.RuleVerdict
	for _, v := range all {
		if v.Category == category {
			out = append(out, v)
		}
	}
	return out, nil
}

func decodeVerdicts(value any) ([]domain.RuleVerdict, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var verdicts []domain.RuleVerdict
	if err := json.Unmarshal(payload, &verdicts); err != nil {
		return nil, fmt.Errorf("decode rule verdicts: %w", err)
	}
	for _, v := range verdicts {
		switch v.Result {
		case domain.RuleResultPass, domain.RuleResultFail, domain.RuleResultOpen:
		default:
			return nil, fmt.Errorf("rule %s returned unknown result %q", v.Rule, v.Result)
		}
		switch v.Category {
		case domain.RuleCategoryIssuer, domain.RuleCategoryDestination, domain.RuleCategoryTraveller:
		default:
			return nil, fmt.Errorf("rule %s has unknown category %q", v.Rule, v.Category)
		}
	}
	return verdicts, nil
}

func normalizeVerdicts(verdicts []domain.RuleVerdict) {
	sort.Slice(verdicts, func(i, j int) bool {
		if verdicts[i].Rule == verdicts[j].Rule {
			return verdicts[i].Result < verdicts[j].Result
		}
		return verdicts[i].Rule < verdicts[j].Rule
	})
	for i := range verdicts {
		sort.Strings(verdicts[i].Errors)
	}
}

func assertNoForbiddenBuiltins(compiler *ast.Compiler) error {
	if compiler == nil {
		return errors.New("rule compiler is nil")
	}
	forbidden := make(map[string]struct{})
	for _, module := range compiler.Modules {
		ast.WalkTerms(module, func(term *ast.Term) bool {
			call, ok := term.Value.(ast.Call)
			if !ok || len(call) == 0 || call[0] == nil {
				return false
			}
			name := call[0].Value.String()
			if _, ok := ast.BuiltinMap[name]; !ok {
				return false
			}
			if _, ok := allowedBuiltins[name]; ok {
				return false
			}
			forbidden[name] = struct{}{}
			return false
		})
	}
	if len(forbidden) == 0 {
		return nil
	}
	names := make([]string, 0, len(forbidden))
	for name := range forbidden {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Errorf("forbidden builtins: %s", strings.Join(names, ", "))
}
