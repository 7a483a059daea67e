package policyopa

import "github.com/open-policy-agent/opa/ast"

// Rules must be deterministic for a given input: no clock, network or
// randomness builtins.
var allowedBuiltins = map[string]struct{}{
	"abs":                   {},
	"assign":                {},
	"ceil":                  {},
	"concat":                {},
	"contains":              {},
	"count":                 {},
	"endswith":              {},
	"eq":                    {},
	"equal":                 {},
	"floor":                 {},
	"format_int":            {},
	"gt":                    {},
	"gte":                   {},
	"lower":                 {},
	"lt":                    {},
	"lte":                   {},
	"max":                   {},
	"min":                   {},
	"minus":                 {},
	"mul":                   {},
	"neq":                   {},
	"object.get":            {},
	"plus":                  {},
	"regex.match":           {},
	"sort":                  {},
	"split":                 {},
	"sprintf":               {},
	"startswith":            {},
	"substring":             {},
	"sum":                   {},
	"time.add_date":         {},
	"time.parse_rfc3339_ns": {},
	"trim":                  {},
	"upper":                 {},
}

func filterBuiltins(builtins []*ast.Builtin) []*ast.Builtin {
	allowed := make([]*ast.Builtin, 0, len(builtins))
	for _, builtin := range builtins {
		if _, ok := allowedBuiltins[builtin.Name]; !ok {
			continue
		}
		allowed = append(allowed, builtin)
	}
	return allowed
}
