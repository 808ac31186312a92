package enrichment

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sluice/internal/config"
	"sluice/internal/enrichment/provider"
	"sluice/internal/logger"
	"sluice/pkg/models"
)

func newChain(t *testing.T, lookup provider.GeoLookup, rules ...models.EnrichmentRule) *Chain {
	t.Helper()
	ch, err := NewChain(config.EnrichmentConfig{Rules: rules}, lookup, logger.NopLogger())
	require.NoError(t, err)
	return ch
}

func stringAttr(t *testing.T, ev models.Event, name string) string {
	t.Helper()
	v, ok := ev.Get(name)
	require.True(t, ok, "attribute %q missing", name)
	return v.String()
}

func TestDefaultChain_StatusCodeBuckets(t *testing.T) {
	ch := newChain(t, nil)

	tests := []struct {
		code int64
		want string
	}{
		{code: 204, want: "success"},
		{code: 301, want: "redirect"},
		{code: 404, want: "client_error"},
		{code: 500, want: "server_error"},
	}
	for _, tt := range tests {
		ev := models.NewEventBuilder().WithSourceType(models.SourceTypeJSON).WithInt("status_code", tt.code).Build()
		out := ch.Enrich(context.Background(), ev)
		assert.Equal(t, tt.want, stringAttr(t, out, "response_category"), "status %d", tt.code)
	}

	ev := models.NewEventBuilder().WithInt("status_code", 101).Build()
	out := ch.Enrich(context.Background(), ev)
	assert.False(t, out.Has("response_category"), "informational codes are not classified")
}

func TestDefaultChain_ResponseTimeBuckets(t *testing.T) {
	ch := newChain(t, nil)

	tests := []struct {
		rt   models.Value
		want string
	}{
		{rt: models.IntValue(50), want: "fast"},
		{rt: models.IntValue(150), want: "normal"},
		{rt: models.FloatValue(1000), want: "slow"},
		{rt: models.IntValue(5000), want: "very_slow"},
		{rt: models.StringValue("99.5"), want: "fast"},
	}
	for _, tt := range tests {
		ev := models.NewEventBuilder().WithAttribute("response_time", tt.rt).Build()
		out := ch.Enrich(context.Background(), ev)
		assert.Equal(t, tt.want, stringAttr(t, out, "performance_category"), "response_time %s", tt.rt)
	}
}

func TestDefaultChain_ServiceClassification(t *testing.T) {
	ch := newChain(t, nil)

	out := ch.Enrich(context.Background(), models.NewEventBuilder().WithString("component", "billing").Build())
	assert.Equal(t, "billing", stringAttr(t, out, "service"))

	out = ch.Enrich(context.Background(), models.NewEventBuilder().WithString("app_name", "sshd").Build())
	assert.Equal(t, "sshd", stringAttr(t, out, "service"))

	out = ch.Enrich(context.Background(), models.NewEventBuilder().WithMessage("plain").Build())
	assert.Equal(t, "unknown", stringAttr(t, out, "service"))

	out = ch.Enrich(context.Background(), models.NewEventBuilder().
		WithString("service", "checkout").
		WithString("component", "cart").
		Build())
	assert.Equal(t, "checkout", stringAttr(t, out, "service"), "set_once keeps an existing service")
}

func TestDefaultChain_HeuristicTags(t *testing.T) {
	ch := newChain(t, nil)

	tests := []struct {
		name string
		ev   models.Event
		want []string
	}{
		{
			name: "auth failure is security",
			ev: models.NewEventBuilder().WithSourceType(models.SourceTypeApp).
				WithMessage("2024-01-01T00:00:00Z ERROR [auth] login failed for user bob").
				WithString("component", "auth").Build(),
			want: []string{"failure", "security"},
		},
		{
			name: "password mention",
			ev:   models.NewEventBuilder().WithMessage("Password reset requested").Build(),
			want: []string{"password_related"},
		},
		{
			name: "failure outside security context",
			ev:   models.NewEventBuilder().WithMessage("upload FAILED").WithString("component", "storage").Build(),
			want: []string{"failure"},
		},
		{
			name: "syslog auth facility",
			ev: models.NewEventBuilder().WithSourceType(models.SourceTypeSyslog).
				WithMessage("Failed password for root from 203.0.113.9 port 22").
				WithString("facility", "auth").
				WithString("app_name", "unix_chkpwd").Build(),
			want: []string{"password_related", "failure", "security"},
		},
		{
			name: "no keywords",
			ev:   models.NewEventBuilder().WithMessage("all good").Build(),
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := ch.Enrich(context.Background(), tt.ev)
			assert.ElementsMatch(t, tt.want, out.Tags)
		})
	}
}

func TestDefaultChain_Idempotent(t *testing.T) {
	var calls atomic.Int32
	lookup := provider.LookupFunc(func(ctx context.Context, ip string) (*provider.GeoInfo, error) {
		calls.Add(1)
		return &provider.GeoInfo{CountryCode: "NL", Country: "Netherlands"}, nil
	})
	ch := newChain(t, lookup)

	ev := models.NewEventBuilder().
		WithMessage("GET /login failed").
		WithString("component", "login").
		WithString("client_ip", "203.0.113.10").
		WithInt("status_code", 401).
		WithInt("response_time", 120).
		Build()

	once := ch.Enrich(context.Background(), ev)
	twice := ch.Enrich(context.Background(), once)

	assert.Equal(t, once.Attributes, twice.Attributes)
	assert.Equal(t, once.Tags, twice.Tags)
	assert.Equal(t, "NL", stringAttr(t, twice, "geo_country_code"))
	assert.Equal(t, int32(1), calls.Load(), "set_once lookup is not repeated")
}

func TestDefaultChain_LookupFailureDegrades(t *testing.T) {
	lookup := provider.LookupFunc(func(ctx context.Context, ip string) (*provider.GeoInfo, error) {
		return nil, errors.New("timeout")
	})
	ch := newChain(t, lookup)

	ev := models.NewEventBuilder().WithMessage("hello").WithString("client_ip", "198.51.100.4").Build()
	out := ch.Enrich(context.Background(), ev)

	assert.False(t, out.Has("geo_country_code"))
	assert.False(t, out.HasFailureTag())
}

func TestDefaultChain_LookupSkipsPrivateAddresses(t *testing.T) {
	var calls atomic.Int32
	lookup := provider.LookupFunc(func(ctx context.Context, ip string) (*provider.GeoInfo, error) {
		calls.Add(1)
		return &provider.GeoInfo{CountryCode: "US"}, nil
	})
	ch := newChain(t, lookup)

	for _, ip := range []string{"10.1.2.3", "127.0.0.1", "not-an-ip"} {
		ch.Enrich(context.Background(), models.NewEventBuilder().WithString("client_ip", ip).Build())
	}
	assert.Zero(t, calls.Load())
}

func TestChain_FalsePredicateHasNoEffect(t *testing.T) {
	ch := newChain(t, nil, models.EnrichmentRule{
		Name: "prod_only",
		Conditions: []models.Condition{
			{Type: models.CondEquals, Field: "env", Value: "prod"},
		},
		Actions: []models.Action{
			{Type: models.ActionSet, Field: "tier", Value: "gold"},
			{Type: models.ActionTag, Tags: []string{"prod"}},
			{Type: models.ActionRemove, Field: "debug"},
		},
	})

	ev := models.NewEventBuilder().WithString("env", "dev").WithString("debug", "1").Build()
	out := ch.Enrich(context.Background(), ev)
	assert.Equal(t, ev.Attributes, out.Attributes)
	assert.Empty(t, out.Tags)
}

func TestChain_LaterRulesSeeEarlierResults(t *testing.T) {
	ch := newChain(t, nil,
		models.EnrichmentRule{
			Name:    "rename",
			Actions: []models.Action{{Type: models.ActionRename, Field: "svc", To: "service"}},
		},
		models.EnrichmentRule{
			Name:       "tag_auth",
			Conditions: []models.Condition{{Type: models.CondEquals, Field: "service", Value: "auth"}},
			Actions:    []models.Action{{Type: models.ActionTag, Tags: []string{"auth"}}},
		},
	)

	out := ch.Enrich(context.Background(), models.NewEventBuilder().WithString("svc", "auth").Build())
	assert.False(t, out.Has("svc"))
	assert.Equal(t, "auth", stringAttr(t, out, "service"))
	assert.Equal(t, []string{"auth"}, out.Tags)
}

func TestChain_Conditions(t *testing.T) {
	lo, hi := 100.0, 200.0
	ev := models.NewEventBuilder().
		WithSourceType(models.SourceTypeJSON).
		WithMessage("Connection Timeout talking to db").
		WithString("service", "orders").
		WithInt("status_code", 150).
		WithTag("slow").
		Build()

	tests := []struct {
		name string
		cond models.Condition
		want bool
	}{
		{name: "equals", cond: models.Condition{Type: models.CondEquals, Field: "service", Value: "orders"}, want: true},
		{name: "equals numeric as text", cond: models.Condition{Type: models.CondEquals, Field: "status_code", Value: "150"}, want: true},
		{name: "not_equals", cond: models.Condition{Type: models.CondNotEquals, Field: "service", Value: "auth"}, want: true},
		{name: "not_equals missing", cond: models.Condition{Type: models.CondNotEquals, Field: "team", Value: "x"}, want: true},
		{name: "matches", cond: models.Condition{Type: models.CondMatches, Field: "service", Pattern: `^ord`}, want: true},
		{name: "range inside", cond: models.Condition{Type: models.CondRange, Field: "status_code", Min: &lo, Max: &hi}, want: true},
		{name: "range below", cond: models.Condition{Type: models.CondRange, Field: "status_code", Min: &hi}, want: false},
		{name: "in", cond: models.Condition{Type: models.CondIn, Field: "service", Values: []string{"orders", "billing"}}, want: true},
		{name: "exists", cond: models.Condition{Type: models.CondExists, Field: "service"}, want: true},
		{name: "missing", cond: models.Condition{Type: models.CondMissing, Field: "client_ip"}, want: true},
		{name: "has_tag", cond: models.Condition{Type: models.CondHasTag, Value: "slow"}, want: true},
		{name: "contains message case-insensitive", cond: models.Condition{Type: models.CondContains, Value: "timeout"}, want: true},
		{name: "contains field", cond: models.Condition{Type: models.CondContains, Field: "service", Value: "ORD"}, want: true},
		{name: "cel", cond: models.Condition{Type: models.CondCEL, Expression: `attributes.status_code > 100 && "slow" in tags`}, want: true},
		{name: "cel error is false", cond: models.Condition{Type: models.CondCEL, Expression: `attributes.missing == "x"`}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := newChain(t, nil, models.EnrichmentRule{
				Name:       "cond",
				Conditions: []models.Condition{tt.cond},
				Actions:    []models.Action{{Type: models.ActionTag, Tags: []string{"hit"}}},
			})
			out := ch.Enrich(context.Background(), ev)
			assert.Equal(t, tt.want, out.HasTag("hit"))
		})
	}
}

func TestChain_SetCoercesAndHonoursSetOnce(t *testing.T) {
	ch := newChain(t, nil,
		models.EnrichmentRule{
			Name:    "priority",
			Actions: []models.Action{{Type: models.ActionSet, Field: "priority", Value: "3", ValueType: "int"}},
		},
		models.EnrichmentRule{
			Name:    "owner",
			SetOnce: true,
			Actions: []models.Action{{Type: models.ActionSet, Field: "owner", Value: "platform"}},
		},
	)

	ev := models.NewEventBuilder().WithString("priority", "1").WithString("owner", "payments").Build()
	out := ch.Enrich(context.Background(), ev)

	v, _ := out.Get("priority")
	assert.Equal(t, models.IntValue(3), v, "set without set_once overwrites")
	assert.Equal(t, "payments", stringAttr(t, out, "owner"))
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(DefaultRules()))

	tests := []struct {
		name string
		rule models.EnrichmentRule
	}{
		{name: "no actions", rule: models.EnrichmentRule{Name: "r"}},
		{name: "unknown condition", rule: models.EnrichmentRule{
			Name:       "r",
			Conditions: []models.Condition{{Type: "near", Field: "x"}},
			Actions:    []models.Action{{Type: models.ActionTag, Tags: []string{"t"}}},
		}},
		{name: "bad regexp", rule: models.EnrichmentRule{
			Name:       "r",
			Conditions: []models.Condition{{Type: models.CondMatches, Field: "x", Pattern: "("}},
			Actions:    []models.Action{{Type: models.ActionTag, Tags: []string{"t"}}},
		}},
		{name: "bad cel", rule: models.EnrichmentRule{
			Name:       "r",
			Conditions: []models.Condition{{Type: models.CondCEL, Expression: "attributes +"}},
			Actions:    []models.Action{{Type: models.ActionTag, Tags: []string{"t"}}},
		}},
		{name: "unknown action", rule: models.EnrichmentRule{
			Name:    "r",
			Actions: []models.Action{{Type: "explode"}},
		}},
		{name: "overlapping bucket bounds", rule: models.EnrichmentRule{
			Name: "r",
			Actions: []models.Action{{Type: models.ActionBucket, Field: "x", Buckets: []models.Bucket{
				{From: bound(10), Below: bound(5), Label: "bad"},
			}}},
		}},
		{name: "bad set type", rule: models.EnrichmentRule{
			Name:    "r",
			Actions: []models.Action{{Type: models.ActionSet, Field: "x", Value: "1", ValueType: "date"}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, Validate([]models.EnrichmentRule{tt.rule}))
		})
	}
}

func TestValidate_RuleOrder(t *testing.T) {
	tag := []models.Action{{Type: models.ActionTag, Tags: []string{"t"}}}

	tests := []struct {
		name    string
		orders  []int
		wantErr bool
	}{
		{name: "unset", orders: []int{0, 0, 0}},
		{name: "increasing", orders: []int{10, 20, 30}},
		{name: "unset between set", orders: []int{10, 0, 20}},
		{name: "equal", orders: []int{10, 10}, wantErr: true},
		{name: "decreasing", orders: []int{20, 10}, wantErr: true},
		{name: "decreasing across unset", orders: []int{20, 0, 5}, wantErr: true},
		{name: "negative", orders: []int{-1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			specs := make([]models.EnrichmentRule, 0, len(tt.orders))
			for i, o := range tt.orders {
				specs = append(specs, models.EnrichmentRule{Name: string(rune('a' + i)), Order: o, Actions: tag})
			}
			err := Validate(specs)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}

	t.Run("chain rejects out of order rules", func(t *testing.T) {
		_, err := NewChain(config.EnrichmentConfig{Rules: []models.EnrichmentRule{
			{Name: "late", Order: 20, Actions: tag},
			{Name: "early", Order: 10, Actions: tag},
		}}, nil, logger.NopLogger())
		assert.ErrorContains(t, err, `"early"`)
	})
}
