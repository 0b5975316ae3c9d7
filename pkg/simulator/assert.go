package simulator

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

// Evaluator checks scenario assertions with CEL.
//
// Expressions see two variables: run, a map of run-wide results, and fibers,
// a map from fiber name to that fiber's results. See Result.Vars for the
// keys.
type Evaluator struct {
	env        *cel.Env
	assertions []Assertion
	programs   []cel.Program
}

// AssertionResult is the outcome of one assertion.
type AssertionResult struct {
	Name   string `json:"name"`
	Expr   string `json:"expr"`
	Passed bool   `json:"passed"`
	Error  string `json:"error,omitempty"`
}

// NewEvaluator compiles assertions.
func NewEvaluator(assertions []Assertion) (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("run", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("fibers", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	e := &Evaluator{env: env}
	for i, a := range assertions {
		if a.Expr == "" {
			return nil, fmt.Errorf("assertion %d: expr is required", i)
		}
		if a.Name == "" {
			a.Name = a.Expr
		}

		ast, issues := env.Compile(a.Expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("compile assertion %q: %w", a.Name, issues.Err())
		}
		program, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("create program for assertion %q: %w", a.Name, err)
		}

		e.assertions = append(e.assertions, a)
		e.programs = append(e.programs, program)
	}
	return e, nil
}

// Evaluate runs every assertion against vars. An expression that fails to
// evaluate or does not yield a bool fails.
func (e *Evaluator) Evaluate(vars map[string]any) []AssertionResult {
	results := make([]AssertionResult, 0, len(e.programs))
	for i, program := range e.programs {
		a := e.assertions[i]
		res := AssertionResult{Name: a.Name, Expr: a.Expr}

		out, _, err := program.Eval(vars)
		switch {
		case err != nil:
			res.Error = err.Error()
		case out.Type() != types.BoolType:
			res.Error = fmt.Sprintf("expression yields %s, want bool", out.Type().TypeName())
		default:
			res.Passed = out.Value().(bool)
		}
		results = append(results, res)
	}
	return results
}
