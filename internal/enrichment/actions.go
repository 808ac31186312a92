package enrichment

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"sluice/internal/enrichment/provider"
	"sluice/pkg/metrics"
	"sluice/pkg/models"
	"sluice/pkg/template"
)

const (
	defaultLookupField  = "client_ip"
	defaultLookupPrefix = "geo_"
	bucketTargetSuffix  = "_category"
)

// action applies one side effect and reports whether ev changed.
type action func(ctx context.Context, ev *models.Event) bool

func (c *compiler) compileAction(spec models.Action, setOnce bool) (action, error) {
	switch spec.Type {
	case models.ActionSet:
		return compileSet(spec, setOnce)

	case models.ActionRename:
		if spec.Field == "" || spec.To == "" {
			return nil, fmt.Errorf("rename: field and to are required")
		}
		return func(_ context.Context, ev *models.Event) bool {
			v, ok := ev.Get(spec.Field)
			if !ok || ev.Has(spec.To) {
				return false
			}
			ev.Delete(spec.Field)
			ev.Set(spec.To, v)
			return true
		}, nil

	case models.ActionRemove:
		fields := spec.Fields
		if spec.Field != "" {
			fields = append([]string{spec.Field}, fields...)
		}
		if len(fields) == 0 {
			return nil, fmt.Errorf("remove: field or fields are required")
		}
		return func(_ context.Context, ev *models.Event) bool {
			changed := false
			for _, f := range fields {
				if ev.Has(f) {
					ev.Delete(f)
					changed = true
				}
			}
			return changed
		}, nil

	case models.ActionTag:
		if len(spec.Tags) == 0 {
			return nil, fmt.Errorf("tag: tags are required")
		}
		return func(_ context.Context, ev *models.Event) bool {
			changed := false
			for _, t := range spec.Tags {
				if ev.AddTag(t) {
					changed = true
				}
			}
			return changed
		}, nil

	case models.ActionBucket:
		return compileBucket(spec, setOnce)

	case models.ActionLookup:
		return c.compileLookup(spec, setOnce)

	default:
		return nil, fmt.Errorf("unknown action type %q", spec.Type)
	}
}

func compileSet(spec models.Action, setOnce bool) (action, error) {
	if spec.Field == "" {
		return nil, fmt.Errorf("set: field is required")
	}
	kind, err := models.ParseValueKind(spec.ValueType)
	if err != nil {
		return nil, fmt.Errorf("set: %w", err)
	}
	tmpl, err := template.Compile(spec.Value)
	if err != nil {
		return nil, fmt.Errorf("set: %w", err)
	}

	return func(_ context.Context, ev *models.Event) bool {
		if setOnce && ev.Has(spec.Field) {
			return false
		}
		s, ok := tmpl.Render(ev)
		if !ok || s == "" {
			return false
		}
		v, _ := models.StringValue(s).CoerceTo(kind)
		if cur, exists := ev.Get(spec.Field); exists && cur.Equal(v) {
			return false
		}
		ev.Set(spec.Field, v)
		return true
	}, nil
}

func compileBucket(spec models.Action, setOnce bool) (action, error) {
	if spec.Field == "" || len(spec.Buckets) == 0 {
		return nil, fmt.Errorf("bucket: field and buckets are required")
	}
	for i, b := range spec.Buckets {
		if b.Label == "" {
			return nil, fmt.Errorf("bucket %d: label is required", i)
		}
		if b.From != nil && b.Below != nil && *b.From >= *b.Below {
			return nil, fmt.Errorf("bucket %q: from must be less than below", b.Label)
		}
	}
	target := spec.Target
	if target == "" {
		target = spec.Field + bucketTargetSuffix
	}
	buckets := spec.Buckets

	return func(_ context.Context, ev *models.Event) bool {
		if setOnce && ev.Has(target) {
			return false
		}
		v, ok := ev.Get(spec.Field)
		if !ok {
			return false
		}
		f, ok := v.Float()
		if !ok {
			return false
		}
		label, ok := classify(buckets, f)
		if !ok {
			return false
		}
		if cur, exists := ev.Get(target); exists && cur.String() == label {
			return false
		}
		ev.Set(target, models.StringValue(label))
		return true
	}, nil
}

// classify returns the label of the first bucket containing f.
func classify(buckets []models.Bucket, f float64) (string, bool) {
	for _, b := range buckets {
		if b.From != nil && f < *b.From {
			continue
		}
		if b.Below != nil && f >= *b.Below {
			continue
		}
		return b.Label, true
	}
	return "", false
}

func (c *compiler) compileLookup(spec models.Action, setOnce bool) (action, error) {
	field := spec.Field
	if field == "" {
		field = defaultLookupField
	}
	prefix := spec.Prefix
	if prefix == "" {
		prefix = defaultLookupPrefix
	}
	providerName := spec.Provider
	if providerName == "" {
		providerName = "geo"
	}
	marker := prefix + "country_code"

	return func(ctx context.Context, ev *models.Event) bool {
		if c.lookup == nil {
			return false
		}
		if setOnce && ev.Has(marker) {
			return false
		}
		addr, ok := ev.Text(field)
		if !ok {
			return false
		}
		ip := net.ParseIP(addr)
		if ip == nil {
			metrics.IncLookupRequest(providerName, "invalid")
			return false
		}
		if ip.IsPrivate() || ip.IsLoopback() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() {
			metrics.IncLookupRequest(providerName, "skipped")
			return false
		}

		start := time.Now()
		info, err := c.lookup.Lookup(ctx, ip.String())
		metrics.ObserveLookupDuration(providerName, time.Since(start))
		if err != nil {
			status := "error"
			if errors.Is(err, provider.ErrNotFound) {
				status = "not_found"
			}
			metrics.IncLookupRequest(providerName, status)
			c.logger.DebugwCtx(ctx, "Geo lookup failed",
				"field", field,
				"ip", addr,
				"error", err,
			)
			return false
		}
		metrics.IncLookupRequest(providerName, "success")

		changed := false
		for k, v := range info.Attributes(prefix) {
			if setOnce && ev.Has(k) {
				continue
			}
			ev.Set(k, v)
			changed = true
		}
		return changed
	}, nil
}
