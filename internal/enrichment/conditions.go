package enrichment

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"sluice/pkg/cel"
	"sluice/pkg/models"
)

// condition reports whether it holds for ev. It must not modify ev.
type condition func(ctx context.Context, ev *models.Event) bool

func (c *compiler) compileCondition(spec models.Condition) (condition, error) {
	switch spec.Type {
	case models.CondEquals:
		if spec.Field == "" {
			return nil, fmt.Errorf("equals: field is required")
		}
		return func(_ context.Context, ev *models.Event) bool {
			s, ok := ev.Text(spec.Field)
			return ok && s == spec.Value
		}, nil

	case models.CondNotEquals:
		if spec.Field == "" {
			return nil, fmt.Errorf("not_equals: field is required")
		}
		return func(_ context.Context, ev *models.Event) bool {
			s, ok := ev.Text(spec.Field)
			return !ok || s != spec.Value
		}, nil

	case models.CondMatches:
		if spec.Field == "" || spec.Pattern == "" {
			return nil, fmt.Errorf("matches: field and pattern are required")
		}
		re, err := regexp.Compile(spec.Pattern)
		if err != nil {
			return nil, fmt.Errorf("matches: %w", err)
		}
		return func(_ context.Context, ev *models.Event) bool {
			s, ok := ev.Text(spec.Field)
			return ok && re.MatchString(s)
		}, nil

	case models.CondRange:
		if spec.Field == "" || (spec.Min == nil && spec.Max == nil) {
			return nil, fmt.Errorf("range: field and at least one of min, max are required")
		}
		return func(_ context.Context, ev *models.Event) bool {
			v, ok := ev.Get(spec.Field)
			if !ok {
				return false
			}
			f, ok := v.Float()
			if !ok {
				return false
			}
			if spec.Min != nil && f < *spec.Min {
				return false
			}
			if spec.Max != nil && f > *spec.Max {
				return false
			}
			return true
		}, nil

	case models.CondIn:
		if spec.Field == "" || len(spec.Values) == 0 {
			return nil, fmt.Errorf("in: field and values are required")
		}
		set := make(map[string]bool, len(spec.Values))
		for _, v := range spec.Values {
			set[v] = true
		}
		return func(_ context.Context, ev *models.Event) bool {
			s, ok := ev.Text(spec.Field)
			return ok && set[s]
		}, nil

	case models.CondExists, models.CondMissing:
		if spec.Field == "" {
			return nil, fmt.Errorf("%s: field is required", spec.Type)
		}
		want := spec.Type == models.CondExists
		return func(_ context.Context, ev *models.Event) bool {
			s, ok := ev.Text(spec.Field)
			return (ok && s != "") == want
		}, nil

	case models.CondHasTag:
		if spec.Value == "" {
			return nil, fmt.Errorf("has_tag: value is required")
		}
		return func(_ context.Context, ev *models.Event) bool {
			return ev.HasTag(spec.Value)
		}, nil

	case models.CondContains:
		keywords := make([]string, 0, len(spec.Values)+1)
		if spec.Value != "" {
			keywords = append(keywords, strings.ToLower(spec.Value))
		}
		for _, v := range spec.Values {
			keywords = append(keywords, strings.ToLower(v))
		}
		if len(keywords) == 0 {
			return nil, fmt.Errorf("contains: value or values are required")
		}
		field := spec.Field
		if field == "" {
			field = "message"
		}
		return func(_ context.Context, ev *models.Event) bool {
			s, ok := ev.Text(field)
			if !ok {
				return false
			}
			s = strings.ToLower(s)
			for _, k := range keywords {
				if strings.Contains(s, k) {
					return true
				}
			}
			return false
		}, nil

	case models.CondCEL:
		if spec.Expression == "" {
			return nil, fmt.Errorf("cel: expression is required")
		}
		pred, err := c.cel.Compile(spec.Expression)
		if err != nil {
			return nil, err
		}
		return celCondition(pred, c.onCELError), nil

	default:
		return nil, fmt.Errorf("unknown condition type %q", spec.Type)
	}
}

func celCondition(pred *cel.Predicate, onError func(ctx context.Context, expr string, err error)) condition {
	return func(ctx context.Context, ev *models.Event) bool {
		ok, err := pred.Eval(ctx, ev)
		if err != nil {
			onError(ctx, pred.String(), err)
			return false
		}
		return ok
	}
}
