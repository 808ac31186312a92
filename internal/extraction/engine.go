package extraction

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"sluice/internal/config"
	"sluice/internal/logger"
	"sluice/pkg/metrics"
	"sluice/pkg/models"
)

const (
	defaultTextField   = "message"
	coercionWarningTag = "_coercion_warning"
	fieldLevel         = "level"
)

type rule struct {
	name        string
	sourceTypes map[string]bool
	field       string
	failureTag  string
	re          *regexp.Regexp
	captures    []capture
}

func (r *rule) appliesTo(sourceType string) bool {
	return len(r.sourceTypes) == 0 || r.sourceTypes[sourceType]
}

// Engine applies ordered pattern rules to an event. It holds only compiled,
// immutable state and is safe for concurrent use.
type Engine struct {
	rules      []rule
	timestamps *TimestampResolver
	logger     logger.Logger
}

// NewEngine compiles cfg.Rules, or DefaultRules when none are configured.
func NewEngine(cfg config.ExtractionConfig, pipeline config.PipelineConfig, log logger.Logger) (*Engine, error) {
	specs := cfg.Rules
	if len(specs) == 0 {
		specs = DefaultRules()
	}

	rules, err := compileRules(specs)
	if err != nil {
		return nil, err
	}

	return &Engine{
		rules:      rules,
		timestamps: NewTimestampResolver(pipeline.TimestampField, pipeline.TimestampLayouts),
		logger:     log,
	}, nil
}

func compileRules(specs []models.PatternRule) ([]rule, error) {
	rules := make([]rule, 0, len(specs))
	seen := make(map[string]bool, len(specs))

	for i, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("extraction rule %d: name is required", i)
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("extraction rule %q: duplicate name", spec.Name)
		}
		seen[spec.Name] = true

		re, caps, err := compilePattern(spec.Pattern, spec.Captures)
		if err != nil {
			return nil, fmt.Errorf("extraction rule %q: %w", spec.Name, err)
		}

		r := rule{
			name:        spec.Name,
			sourceTypes: make(map[string]bool, len(spec.SourceTypes)),
			field:       spec.Field,
			failureTag:  spec.FailureTag,
			re:          re,
			captures:    caps,
		}
		for _, st := range spec.SourceTypes {
			r.sourceTypes[st] = true
		}
		if r.field == "" {
			r.field = defaultTextField
		}
		if r.failureTag == "" {
			r.failureTag = spec.Name + models.FailureTagSuffix
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// Validate compiles rules without building an engine.
func Validate(specs []models.PatternRule) error {
	_, err := compileRules(specs)
	return err
}

// Extract returns a copy of ev with captured attributes set, failure tags
// added for applicable rules that did not match, and the timestamp resolved.
func (e *Engine) Extract(ctx context.Context, ev models.Event) models.Event {
	out := ev.Clone()

	for i := range e.rules {
		r := &e.rules[i]
		if !r.appliesTo(out.SourceType) {
			continue
		}

		// A rule whose source field is absent or empty does not apply.
		text, ok := out.Text(r.field)
		if !ok || text == "" {
			continue
		}

		match := r.re.FindStringSubmatch(text)
		if match == nil {
			out.AddTag(r.failureTag)
			metrics.IncExtractionResult(r.name, "failure")
			e.logger.DebugwCtx(ctx, "Pattern did not match",
				"rule", r.name,
				"field", r.field,
				"failure_tag", r.failureTag,
			)
			continue
		}

		set := e.applyCaptures(ctx, &out, r, match)
		metrics.IncExtractionResult(r.name, "match")
		e.logger.DebugwCtx(ctx, "Pattern matched",
			"rule", r.name,
			"attributes_set", set,
		)
	}

	e.timestamps.Resolve(&out)
	return out
}

func (e *Engine) applyCaptures(ctx context.Context, ev *models.Event, r *rule, match []string) int {
	set := 0
	for _, c := range r.captures {
		raw := match[c.group]
		if raw == "" || ev.Has(c.field) {
			continue
		}
		if c.field == fieldLevel {
			raw = strings.ToLower(raw)
		}

		v, err := models.StringValue(raw).CoerceTo(c.kind)
		if err != nil {
			ev.AddTag(c.field + coercionWarningTag)
			e.logger.DebugwCtx(ctx, "Capture kept as string",
				"rule", r.name,
				"field", c.field,
				"declared_type", c.kind.String(),
				"error", err,
			)
		}
		ev.Set(c.field, v)
		set++
	}
	return set
}

// RuleNames returns rule names in evaluation order.
func (e *Engine) RuleNames() []string {
	names := make([]string, len(e.rules))
	for i, r := range e.rules {
		names[i] = r.name
	}
	return names
}
