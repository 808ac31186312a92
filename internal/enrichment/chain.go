package enrichment

import (
	"context"
	"fmt"

	"sluice/internal/config"
	"sluice/internal/enrichment/provider"
	"sluice/internal/logger"
	"sluice/pkg/cel"
	"sluice/pkg/metrics"
	"sluice/pkg/models"
)

type rule struct {
	name       string
	conditions []condition
	actions    []action
}

func (r *rule) matches(ctx context.Context, ev *models.Event) bool {
	for _, cond := range r.conditions {
		if !cond(ctx, ev) {
			return false
		}
	}
	return true
}

// compiler carries what compiled conditions and actions close over.
type compiler struct {
	cel    *cel.Evaluator
	lookup provider.GeoLookup
	logger logger.Logger
}

func (c *compiler) onCELError(ctx context.Context, expr string, err error) {
	c.logger.DebugwCtx(ctx, "CEL condition evaluation failed",
		"expression", expr,
		"error", err,
	)
}

// Chain runs enrichment rules strictly in declaration order. Compiled rules
// are immutable; a Chain is safe for concurrent use.
type Chain struct {
	rules  []rule
	logger logger.Logger
}

// NewChain compiles cfg.Rules, or DefaultRules when none are configured.
// lookup may be nil, in which case lookup actions are no-ops.
func NewChain(cfg config.EnrichmentConfig, lookup provider.GeoLookup, log logger.Logger) (*Chain, error) {
	specs := cfg.Rules
	if len(specs) == 0 {
		specs = DefaultRules()
	}

	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, err
	}
	c := &compiler{cel: evaluator, lookup: lookup, logger: log}

	rules, err := c.compileRules(specs)
	if err != nil {
		return nil, err
	}

	if lookup == nil && usesLookup(specs) {
		log.Infow("Geo lookup disabled, lookup actions will be skipped")
	}

	return &Chain{rules: rules, logger: log}, nil
}

// Validate compiles rules without a lookup backend.
func Validate(specs []models.EnrichmentRule) error {
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return err
	}
	c := &compiler{cel: evaluator, logger: logger.NopLogger()}
	_, err = c.compileRules(specs)
	return err
}

func usesLookup(specs []models.EnrichmentRule) bool {
	for _, s := range specs {
		for _, a := range s.Actions {
			if a.Type == models.ActionLookup {
				return true
			}
		}
	}
	return false
}

func (c *compiler) compileRules(specs []models.EnrichmentRule) ([]rule, error) {
	rules := make([]rule, 0, len(specs))
	prevOrder := 0
	for i, spec := range specs {
		name := spec.Name
		if name == "" {
			name = fmt.Sprintf("rule_%d", i)
		}
		if len(spec.Actions) == 0 {
			return nil, fmt.Errorf("enrichment rule %q: at least one action is required", name)
		}
		if spec.Order < 0 {
			return nil, fmt.Errorf("enrichment rule %q: order must be non-negative", name)
		}
		// Rules run in slice order, so a declared order must agree with it.
		if spec.Order != 0 {
			if spec.Order <= prevOrder {
				return nil, fmt.Errorf("enrichment rule %q: order %d must be greater than %d of an earlier rule", name, spec.Order, prevOrder)
			}
			prevOrder = spec.Order
		}

		r := rule{name: name}
		for j, cs := range spec.Conditions {
			cond, err := c.compileCondition(cs)
			if err != nil {
				return nil, fmt.Errorf("enrichment rule %q condition %d: %w", name, j, err)
			}
			r.conditions = append(r.conditions, cond)
		}
		for j, as := range spec.Actions {
			act, err := c.compileAction(as, spec.SetOnce)
			if err != nil {
				return nil, fmt.Errorf("enrichment rule %q action %d: %w", name, j, err)
			}
			r.actions = append(r.actions, act)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// Enrich returns a copy of ev with every matching rule applied. A rule
// whose conditions do not all hold has no effect; later rules see the
// results of earlier ones.
func (ch *Chain) Enrich(ctx context.Context, ev models.Event) models.Event {
	out := ev.Clone()
	applied := 0

	for i := range ch.rules {
		if err := ctx.Err(); err != nil {
			ch.logger.DebugwCtx(ctx, "Enrichment interrupted", "error", err)
			break
		}

		r := &ch.rules[i]
		if !r.matches(ctx, &out) {
			continue
		}

		changed := false
		for _, act := range r.actions {
			if act(ctx, &out) {
				changed = true
			}
		}
		if changed {
			applied++
			metrics.IncEnrichmentRuleApplication(r.name, "applied")
		} else {
			metrics.IncEnrichmentRuleApplication(r.name, "noop")
		}
	}

	ch.logger.DebugwCtx(ctx, "Enrichment processing completed",
		"rules_total", len(ch.rules),
		"rules_applied", applied,
		"tags", out.Tags,
	)
	return out
}

// RuleNames returns rule names in evaluation order.
func (ch *Chain) RuleNames() []string {
	names := make([]string, len(ch.rules))
	for i, r := range ch.rules {
		names[i] = r.name
	}
	return names
}
