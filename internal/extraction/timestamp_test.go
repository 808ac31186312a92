package extraction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"sluice/pkg/models"
)

func TestTimestampResolver(t *testing.T) {
	ingested := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

	tests := []struct {
		name    string
		layouts []string
		value   *models.Value
		want    time.Time
		failTag bool
	}{
		{
			name:  "rfc3339 with offset",
			value: ptrValue(models.StringValue("2024-06-01T10:00:00+02:00")),
			want:  time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC),
		},
		{
			name:    "configured layout",
			layouts: []string{"02.01.2006 15:04"},
			value:   ptrValue(models.StringValue("24.12.2024 18:30")),
			want:    time.Date(2024, 12, 24, 18, 30, 0, 0, time.UTC),
		},
		{
			name:  "syslog stamp takes ingestion year",
			value: ptrValue(models.StringValue("Jan  2 15:04:05")),
			want:  time.Date(2025, 1, 2, 15, 4, 5, 0, time.UTC),
		},
		{
			name:  "epoch seconds",
			value: ptrValue(models.IntValue(1704067200)),
			want:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "epoch millis",
			value: ptrValue(models.IntValue(1704067200500)),
			want:  time.Date(2024, 1, 1, 0, 0, 0, 500*int(time.Millisecond), time.UTC),
		},
		{
			name:    "unparseable falls back",
			value:   ptrValue(models.StringValue("yesterday-ish")),
			want:    ingested,
			failTag: true,
		},
		{
			name: "absent uses ingestion time",
			want: ingested,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewTimestampResolver("", tt.layouts)
			ev := models.NewEvent(models.SourceTypeApp, "x")
			ev.IngestedAt = ingested
			if tt.value != nil {
				ev.Set("timestamp", *tt.value)
			}

			r.Resolve(&ev)

			assert.True(t, tt.want.Equal(ev.Timestamp), "got %s", ev.Timestamp)
			assert.Equal(t, tt.failTag, ev.HasTag(TagTimestampParseFailure))
			assert.Equal(t, tt.failTag, ev.Has("timestamp"))
		})
	}
}

func TestTimestampResolver_KeepsDecodedTimestamp(t *testing.T) {
	r := NewTimestampResolver("timestamp", nil)
	ev := models.NewEvent(models.SourceTypeSyslog, "x")
	decoded := time.Date(2023, 5, 5, 0, 0, 0, 0, time.UTC)
	ev.Timestamp = decoded

	r.Resolve(&ev)
	assert.Equal(t, decoded, ev.Timestamp)
}

func ptrValue(v models.Value) *models.Value { return &v }
