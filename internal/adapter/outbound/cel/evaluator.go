// Package cel evaluates insight rules written as CEL expressions over the
// agent's metrics snapshot.
package cel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
)

// Limits applied to every rule expression.
const (
	maxExpressionLength = 1024
	maxNestingDepth     = 50
	maxCostBudget       = 100_000
	interruptCheckFreq  = 100
	evalTimeout         = 5 * time.Second
)

// ErrInvalidExpression is returned when a rule expression is rejected
// before it ever runs.
var ErrInvalidExpression = errors.New("invalid rule expression")

// Evaluator compiles rule expressions against the metrics environment.
type Evaluator struct {
	env *cel.Env
}

// NewEvaluator creates an Evaluator over the metrics environment.
func NewEvaluator() (*Evaluator, error) {
	env, err := NewMetricsEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics environment: %w", err)
	}
	return &Evaluator{env: env}, nil
}

// Program is a compiled rule expression.
type Program struct {
	source string
	prg    cel.Program
}

// Source returns the expression the program was compiled from.
func (p *Program) Source() string {
	return p.source
}

// Compile checks the size limits of expr, then parses and type-checks it.
// Only expressions that produce a bool are accepted.
func (e *Evaluator) Compile(expr string) (*Program, error) {
	if err := checkShape(expr); err != nil {
		return nil, err
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidExpression, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("%w: must return bool, got %s", ErrInvalidExpression, ast.OutputType())
	}

	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidExpression, err)
	}
	return &Program{source: expr, prg: prg}, nil
}

// checkShape rejects empty, oversized, unbalanced or deeply nested input
// without invoking the parser.
func checkShape(expr string) error {
	if expr == "" {
		return fmt.Errorf("%w: empty", ErrInvalidExpression)
	}
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("%w: too long (%d characters, max %d)", ErrInvalidExpression, len(expr), maxExpressionLength)
	}
	depth := 0
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxNestingDepth {
				return fmt.Errorf("%w: nesting deeper than %d", ErrInvalidExpression, maxNestingDepth)
			}
		case ')', ']', '}':
			depth--
			if depth < 0 {
				return fmt.Errorf("%w: unbalanced %q", ErrInvalidExpression, ch)
			}
		}
	}
	return nil
}

// Eval runs the program against m with now bound to the "now" variable.
// It is bounded by evalTimeout on top of any deadline already on ctx.
func (p *Program) Eval(ctx context.Context, m map[string]float64, now time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	out, _, err := p.prg.ContextEval(ctx, map[string]any{
		"metrics": m,
		"now":     now,
	})
	if err != nil {
		return false, fmt.Errorf("evaluating %q: %w", p.source, err)
	}
	hit, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("evaluating %q: got %T, want bool", p.source, out.Value())
	}
	return hit, nil
}
