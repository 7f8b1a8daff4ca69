package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// newFilterEnv declares the variables a segment filter may reference.
func newFilterEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("r", cel.IntType),
		cel.Variable("f", cel.IntType),
		cel.Variable("v", cel.IntType),
		cel.Variable("recency_days", cel.IntType),
		cel.Variable("frequency", cel.IntType),
		cel.Variable("value", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

func compileFilter(env *cel.Env, expr string) (cel.Program, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile filter: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter must return bool, got %s", ast.OutputType())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create filter program: %w", err)
	}
	return program, nil
}

// evalFilter treats any runtime error as a non-match.
func evalFilter(program cel.Program, s Scores, m domain.CustomerMetrics) bool {
	out, _, err := program.Eval(map[string]any{
		"r":            int64(s.R),
		"f":            int64(s.F),
		"v":            int64(s.V),
		"recency_days": int64(m.RecencyDays),
		"frequency":    int64(m.Frequency),
		"value":        m.Value.InexactFloat64(),
	})
	if err != nil {
		return false
	}
	b, ok := out.(types.Bool)
	return ok && bool(b)
}
