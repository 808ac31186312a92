package normalizer

import (
	"context"

	"sluice/internal/config"
	"sluice/internal/constants"
	"sluice/pkg/models"
)

const (
	fieldService     = "service"
	fieldEnvironment = "environment"
	fieldApplication = "application"
)

// DefaultRemoveFields are transport fields stripped when none are configured.
var DefaultRemoveFields = []string{"host", "@version", "port"}

// DefaultRenames map collector-specific names to canonical ones.
var DefaultRenames = []config.RenameConfig{
	{From: "src_ip", To: "client_ip"},
	{From: "remote_addr", To: "client_ip"},
	{From: "severity_label", To: "level"},
	{From: "msg", To: "log_message"},
}

type Normalizer struct {
	remove      []string
	renames     []config.RenameConfig
	environment string
	application string
}

func New(cfg config.NormalizerConfig) *Normalizer {
	n := &Normalizer{
		remove:      cfg.RemoveFields,
		renames:     cfg.Renames,
		environment: cfg.Environment,
		application: cfg.Application,
	}
	if len(n.remove) == 0 {
		n.remove = DefaultRemoveFields
	}
	if len(n.renames) == 0 {
		n.renames = DefaultRenames
	}
	return n
}

// Normalize returns a sanitized copy of ev. The result never carries empty
// or null attributes and always has a service.
func (n *Normalizer) Normalize(_ context.Context, ev models.Event) models.Event {
	out := ev.Clone()

	for _, f := range n.remove {
		out.Delete(f)
	}

	for _, r := range n.renames {
		v, ok := out.Get(r.From)
		if !ok || r.From == r.To {
			continue
		}
		if cur, exists := out.Get(r.To); exists && !cur.IsEmpty() {
			continue
		}
		out.Delete(r.From)
		out.Set(r.To, v)
	}

	if n.environment != "" {
		out.Set(fieldEnvironment, models.StringValue(n.environment))
	}
	if n.application != "" {
		out.Set(fieldApplication, models.StringValue(n.application))
	}

	if v, ok := out.Get(fieldService); !ok || v.IsEmpty() {
		out.Set(fieldService, models.StringValue(constants.UnknownService))
	}

	for k, v := range out.Attributes {
		if v.IsEmpty() {
			delete(out.Attributes, k)
		}
	}
	return out
}
