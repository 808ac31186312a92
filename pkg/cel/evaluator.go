package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"sluice/pkg/models"
)

// Evaluator compiles boolean expressions over an Event. Available variables:
// attributes (map), tags (list), source_type, message, id and timestamp.
type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("source_type", cel.StringType),
		cel.Variable("message", cel.StringType),
		cel.Variable("timestamp", cel.TimestampType),
		cel.Variable("attributes", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("tags", cel.ListType(cel.StringType)),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

// Predicate is a compiled boolean expression. It holds no per-event state
// and may be shared between goroutines.
type Predicate struct {
	expression string
	program    cel.Program
}

func (p *Predicate) String() string { return p.expression }

func (e *Evaluator) ValidateExpression(expression string) error {
	_, err := e.Compile(expression)
	return err
}

// Compile parses and type-checks expression, which must yield a bool.
func (e *Evaluator) Compile(expression string) (*Predicate, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("predicate expression must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return &Predicate{expression: expression, program: program}, nil
}

func (p *Predicate) Eval(ctx context.Context, ev *models.Event) (bool, error) {
	tags := ev.Tags
	if tags == nil {
		tags = []string{}
	}
	vars := map[string]interface{}{
		"id":          ev.ID,
		"source_type": ev.SourceType,
		"message":     ev.RawMessage,
		"timestamp":   ev.Timestamp,
		"attributes":  ev.AttributeMap(),
		"tags":        tags,
	}

	result, _, err := p.program.ContextEval(ctx, vars)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	b, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}
	return b, nil
}
