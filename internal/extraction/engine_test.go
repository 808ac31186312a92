package extraction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sluice/internal/config"
	"sluice/internal/logger"
	"sluice/pkg/models"
)

func newTestEngine(t *testing.T, rules ...models.PatternRule) *Engine {
	t.Helper()
	e, err := NewEngine(config.ExtractionConfig{Rules: rules}, config.PipelineConfig{}, logger.NopLogger())
	require.NoError(t, err)
	return e
}

func TestEngine_DefaultAppRule(t *testing.T) {
	e := newTestEngine(t)
	ev := models.NewEvent(models.SourceTypeApp, "2024-01-01T00:00:00Z ERROR [auth] login failed for user bob")

	out := e.Extract(context.Background(), ev)

	level, ok := out.Get("level")
	require.True(t, ok)
	assert.Equal(t, "error", level.String())

	component, ok := out.Get("component")
	require.True(t, ok)
	assert.Equal(t, "auth", component.String())

	msg, _ := out.Get("log_message")
	assert.Equal(t, "login failed for user bob", msg.String())

	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), out.Timestamp)
	assert.False(t, out.Has("timestamp"), "resolved timestamp attribute is consumed")
	assert.Empty(t, out.Tags)

	assert.Empty(t, ev.Attributes, "input event is not mutated")
}

func TestEngine_NoMatchTagsOnce(t *testing.T) {
	e := newTestEngine(t)
	ev := models.NewEvent(models.SourceTypeApp, "this line has no structure")

	out := e.Extract(context.Background(), ev)
	out = e.Extract(context.Background(), out)

	assert.Equal(t, []string{"app_log_failure"}, out.Tags)
	assert.Empty(t, out.Attributes)
	assert.Equal(t, ev.IngestedAt.UTC(), out.Timestamp)
}

func TestEngine_SourceTypeScoping(t *testing.T) {
	e := newTestEngine(t)
	ev := models.NewEvent(models.SourceTypeSyslog, "this line has no structure")

	out := e.Extract(context.Background(), ev)
	assert.Empty(t, out.Tags, "rules for other source types are not attempted")
}

func TestEngine_CustomFailureTag(t *testing.T) {
	e := newTestEngine(t, models.PatternRule{
		Name:       "kv",
		Pattern:    `user=%{USERNAME:user}`,
		FailureTag: "_grokparsefailure",
	})

	out := e.Extract(context.Background(), models.NewEvent(models.SourceTypeJSON, "nothing here"))
	assert.Equal(t, []string{"_grokparsefailure"}, out.Tags)
}

func TestEngine_SourceFieldAbsentSkipsRule(t *testing.T) {
	e := newTestEngine(t, models.PatternRule{
		Name:    "agent",
		Field:   "user_agent",
		Pattern: `^(?P<browser>\w+)/(?P<browser_version>[\d.]+)`,
	})

	tests := []struct {
		name     string
		ev       models.Event
		wantTags []string
		wantAttr string
	}{
		{
			name: "field absent",
			ev:   models.NewEvent(models.SourceTypeJSON, "GET /index.html"),
		},
		{
			name: "field empty",
			ev: models.NewEventBuilder().
				WithSourceType(models.SourceTypeJSON).
				WithMessage("GET /index.html").
				WithString("user_agent", "").
				Build(),
		},
		{
			name: "field present without match",
			ev: models.NewEventBuilder().
				WithSourceType(models.SourceTypeJSON).
				WithMessage("GET /index.html").
				WithString("user_agent", "-").
				Build(),
			wantTags: []string{"agent_failure"},
		},
		{
			name: "field present with match",
			ev: models.NewEventBuilder().
				WithSourceType(models.SourceTypeJSON).
				WithMessage("GET /index.html").
				WithString("user_agent", "Firefox/128.0").
				Build(),
			wantAttr: "Firefox",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := e.Extract(context.Background(), tt.ev)

			if tt.wantTags == nil {
				assert.Empty(t, out.Tags)
			} else {
				assert.Equal(t, tt.wantTags, out.Tags)
			}
			browser, ok := out.Get("browser")
			if tt.wantAttr == "" {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.wantAttr, browser.String())
		})
	}
}

func TestEngine_FirstRuleWins(t *testing.T) {
	e := newTestEngine(t,
		models.PatternRule{Name: "first", Pattern: `user=%{USERNAME:user}`},
		models.PatternRule{Name: "second", Pattern: `(?P<user>\w+)@`},
	)

	out := e.Extract(context.Background(), models.NewEvent(models.SourceTypeApp, "user=alice carol@example"))

	user, _ := out.Get("user")
	assert.Equal(t, "alice", user.String())
	assert.Empty(t, out.Tags)
}

func TestEngine_ExistingAttributeNotOverwritten(t *testing.T) {
	e := newTestEngine(t, models.PatternRule{Name: "kv", Pattern: `user=%{USERNAME:user}`})
	ev := models.NewEventBuilder().
		WithSourceType(models.SourceTypeJSON).
		WithMessage("user=alice").
		WithString("user", "decoded").
		Build()

	out := e.Extract(context.Background(), ev)
	user, _ := out.Get("user")
	assert.Equal(t, "decoded", user.String())
}

func TestEngine_Coercion(t *testing.T) {
	tests := []struct {
		name     string
		rule     models.PatternRule
		line     string
		field    string
		want     models.Value
		wantTags []string
	}{
		{
			name:  "grok typed int",
			rule:  models.PatternRule{Name: "status", Pattern: `status=%{INT:status_code:int}`},
			line:  "status=404",
			field: "status_code",
			want:  models.IntValue(404),
		},
		{
			name: "declared capture type",
			rule: models.PatternRule{
				Name:     "took",
				Pattern:  `took=%{NUMBER:duration_ms}`,
				Captures: []models.Capture{{Field: "duration_ms", Type: "float"}},
			},
			line:  "took=12.5",
			field: "duration_ms",
			want:  models.FloatValue(12.5),
		},
		{
			name: "coercion failure degrades to string",
			rule: models.PatternRule{
				Name:     "size",
				Pattern:  `size=(?P<bytes>\S+)`,
				Captures: []models.Capture{{Field: "bytes", Type: "int"}},
			},
			line:     "size=12kb",
			field:    "bytes",
			want:     models.StringValue("12kb"),
			wantTags: []string{"bytes_coercion_warning"},
		},
		{
			name: "positional captures",
			rule: models.PatternRule{
				Name:     "pair",
				Pattern:  `^(\w+) (\d+)$`,
				Captures: []models.Capture{{Field: "op"}, {Field: "count", Type: "int"}},
			},
			line:  "retry 3",
			field: "count",
			want:  models.IntValue(3),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, tt.rule)
			out := e.Extract(context.Background(), models.NewEvent(models.SourceTypeApp, tt.line))

			got, ok := out.Get(tt.field)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
			if tt.wantTags == nil {
				assert.Empty(t, out.Tags)
			} else {
				assert.Equal(t, tt.wantTags, out.Tags)
			}
		})
	}
}

func TestEngine_AccessLog(t *testing.T) {
	e := newTestEngine(t)
	line := `10.0.0.7 - frank [10/Oct/2024:13:55:36 +0000] "GET /api/orders?id=7 HTTP/1.1" 500 2326 1250.5`

	out := e.Extract(context.Background(), models.NewEvent(SourceTypeAccess, line))

	assert.Empty(t, out.Tags)
	status, _ := out.Get("status_code")
	assert.Equal(t, models.IntValue(500), status)
	rt, _ := out.Get("response_time")
	assert.Equal(t, models.FloatValue(1250.5), rt)
	ip, _ := out.Get("client_ip")
	assert.Equal(t, "10.0.0.7", ip.String())
	assert.Equal(t, time.Date(2024, 10, 10, 13, 55, 36, 0, time.UTC), out.Timestamp)
}

func TestCompilePattern_Errors(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
	}{
		{name: "unknown grok", pattern: `%{NOPE:field}`},
		{name: "bad type", pattern: `%{INT:n:date}`},
		{name: "bad regexp", pattern: `(?P<x>[`},
		{name: "no captures", pattern: `^plain$`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate([]models.PatternRule{{Name: "r", Pattern: tt.pattern}})
			assert.Error(t, err)
		})
	}
}

func TestValidate_DuplicateNames(t *testing.T) {
	err := Validate([]models.PatternRule{
		{Name: "r", Pattern: `%{WORD:w}`},
		{Name: "r", Pattern: `%{INT:i}`},
	})
	assert.ErrorContains(t, err, "duplicate")
}

func TestDefaultRulesCompile(t *testing.T) {
	require.NoError(t, Validate(DefaultRules()))
}
