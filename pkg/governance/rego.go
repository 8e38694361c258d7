package governance

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/storage/inmem"
)

// outcomeQuery is a prepared Rego query producing a policy outcome
// string from the module's "outcome" rule.
type outcomeQuery struct {
	prepared rego.PreparedEvalQuery
	path     string
}

// compileOutcomeQuery parses the module, derives the package path, and
// prepares a query for data.<package>.outcome.
func compileOutcomeQuery(ctx context.Context, name, source string) (*outcomeQuery, error) {
	module, err := ast.ParseModule(name+".rego", source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rego module: %w", err)
	}

	path := fmt.Sprintf("%s.outcome", module.Package.Path.String())
	r := rego.New(
		rego.Query(path),
		rego.Module(name+".rego", source),
		rego.Store(inmem.New()),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query %s: %w", path, err)
	}
	return &outcomeQuery{prepared: prepared, path: path}, nil
}

// eval runs the prepared query and extracts the outcome string. A query
// that produces nothing, or anything other than a string, is reported as
// an error for the caller to treat as a configuration defect.
func (q *outcomeQuery) eval(ctx context.Context, input map[string]interface{}) (string, error) {
	results, err := q.prepared.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("rego evaluation failed: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return "", fmt.Errorf("query %s produced no outcome", q.path)
	}
	s, ok := results[0].Expressions[0].Value.(string)
	if !ok {
		return "", fmt.Errorf("query %s produced %T, want string", q.path, results[0].Expressions[0].Value)
	}
	return s, nil
}
