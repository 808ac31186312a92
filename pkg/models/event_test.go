package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_CloneIsDeep(t *testing.T) {
	ev := NewEventBuilder().
		WithSourceType(SourceTypeApp).
		WithMessage("hello").
		WithString("service", "auth").
		WithTag("a").
		WithMetadata(MetaListener, "json").
		Build()

	c := ev.Clone()
	c.Set("service", StringValue("billing"))
	c.AddTag("b")
	c.Metadata[MetaListener] = "http"

	v, _ := ev.Get("service")
	assert.Equal(t, "auth", v.String())
	assert.Equal(t, []string{"a"}, ev.Tags)
	assert.Equal(t, "json", ev.Metadata[MetaListener])
	assert.Equal(t, ev.ID, c.ID)
}

func TestEvent_Tags(t *testing.T) {
	ev := NewEvent(SourceTypeSyslog, "x")
	assert.True(t, ev.AddTag("failure"))
	assert.False(t, ev.AddTag("failure"))
	assert.False(t, ev.AddTag(""))
	assert.Equal(t, []string{"failure"}, ev.Tags)

	assert.False(t, ev.HasFailureTag(), "heuristic failure tag is not a processing failure")
	ev.AddTag("grok_failure")
	assert.True(t, ev.HasFailureTag())

	ev2 := NewEvent(SourceTypeJSON, "x")
	ev2.AddTag(TagMalformed)
	assert.True(t, ev2.HasFailureTag())
}

func TestEvent_SetIfAbsentAndText(t *testing.T) {
	ev := NewEvent(SourceTypeApp, "raw text")
	assert.True(t, ev.SetIfAbsent("level", StringValue("info")))
	assert.False(t, ev.SetIfAbsent("level", StringValue("error")))

	v, ok := ev.Text("level")
	assert.True(t, ok)
	assert.Equal(t, "info", v)

	v, ok = ev.Text("message")
	assert.True(t, ok)
	assert.Equal(t, "raw text", v)

	_, ok = ev.Text("missing")
	assert.False(t, ok)
}

func TestEvent_MarshalJSON(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ev := NewEventBuilder().
		WithID("ev-1").
		WithSourceType(SourceTypeApp).
		WithMessage("m").
		WithTimestamp(ts).
		WithInt("status_code", 404).
		WithTag("x").
		Build()

	body, err := json.Marshal(ev)
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, "ev-1", doc["event_id"])
	assert.Equal(t, "2024-01-01T00:00:00Z", doc["@timestamp"])
	assert.Equal(t, float64(404), doc["status_code"])
	assert.Equal(t, []interface{}{"x"}, doc["tags"])
	assert.Equal(t, "app", doc["source_type"])
}

func TestValidateEvent(t *testing.T) {
	tests := []struct {
		name    string
		ev      *Event
		wantErr string
	}{
		{name: "nil", ev: nil, wantErr: "event"},
		{name: "valid", ev: ptr(NewEvent(SourceTypeApp, "hello"))},
		{name: "blank message", ev: ptr(NewEvent(SourceTypeApp, "   ")), wantErr: "message"},
		{name: "invalid utf8", ev: ptr(NewEvent(SourceTypeApp, string([]byte{0xff, 0xfe}))), wantErr: "message"},
		{
			name: "structured without message",
			ev:   ptr(NewEventBuilder().WithString("level", "info").Build()),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEvent(tt.ev)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.wantErr, vErr.Field)
		})
	}
}

func ptr(ev Event) *Event { return &ev }
