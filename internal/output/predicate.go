package output

import (
	"context"
	"fmt"
	"strings"

	"sluice/pkg/cel"
	"sluice/pkg/models"
)

const (
	PredicateAlways  = "always"
	PredicateFailure = "failure"
	PredicateNever   = "never"
	prefixTag        = "tag:"
	prefixAttribute  = "attribute:"
)

// Predicate decides whether an event is routed to a destination.
type Predicate func(ctx context.Context, ev *models.Event) (bool, error)

// CompilePredicate accepts "always", "never", "failure", "tag:<name>",
// "attribute:<name>" or a CEL expression. An empty expression means always.
func CompilePredicate(evaluator *cel.Evaluator, expr string) (Predicate, error) {
	expr = strings.TrimSpace(expr)

	switch {
	case expr == "" || expr == PredicateAlways:
		return func(context.Context, *models.Event) (bool, error) { return true, nil }, nil

	case expr == PredicateNever:
		return func(context.Context, *models.Event) (bool, error) { return false, nil }, nil

	case expr == PredicateFailure:
		return func(_ context.Context, ev *models.Event) (bool, error) {
			return ev.HasFailureTag(), nil
		}, nil

	case strings.HasPrefix(expr, prefixTag):
		tag := strings.TrimPrefix(expr, prefixTag)
		if tag == "" {
			return nil, fmt.Errorf("predicate %q: tag name is required", expr)
		}
		return func(_ context.Context, ev *models.Event) (bool, error) {
			return ev.HasTag(tag), nil
		}, nil

	case strings.HasPrefix(expr, prefixAttribute):
		name := strings.TrimPrefix(expr, prefixAttribute)
		if name == "" {
			return nil, fmt.Errorf("predicate %q: attribute name is required", expr)
		}
		return func(_ context.Context, ev *models.Event) (bool, error) {
			v, ok := ev.Get(name)
			return ok && !v.IsEmpty(), nil
		}, nil
	}

	if evaluator == nil {
		return nil, fmt.Errorf("predicate %q: CEL evaluator is not available", expr)
	}
	p, err := evaluator.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("predicate %q: %w", expr, err)
	}
	return p.Eval, nil
}
