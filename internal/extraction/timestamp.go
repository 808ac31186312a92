package extraction

import (
	"strings"
	"time"

	"sluice/pkg/models"
)

// TimestampResolver turns the timestamp attribute into Event.Timestamp.
type TimestampResolver struct {
	field   string
	layouts []string
	now     func() time.Time
}

var defaultLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"02/Jan/2006:15:04:05 -0700",
	time.RFC1123Z,
	time.RFC1123,
	time.Stamp,
	time.StampMicro,
}

const TagTimestampParseFailure = "timestamp_parse_failure"

// NewTimestampResolver tries the configured layouts first, then the
// built-in ones.
func NewTimestampResolver(field string, layouts []string) *TimestampResolver {
	if field == "" {
		field = "timestamp"
	}
	all := make([]string, 0, len(layouts)+len(defaultLayouts))
	all = append(all, layouts...)
	all = append(all, defaultLayouts...)
	return &TimestampResolver{field: field, layouts: all, now: time.Now}
}

// Resolve always leaves ev.Timestamp set. A timestamp attribute that parses
// is consumed; one that does not is kept and the event tagged.
func (r *TimestampResolver) Resolve(ev *models.Event) {
	v, ok := ev.Get(r.field)
	if !ok {
		if ev.Timestamp.IsZero() {
			ev.Timestamp = r.fallback(ev)
		}
		return
	}

	if t, ok := r.parse(v, ev); ok {
		ev.Timestamp = t.UTC()
		ev.Delete(r.field)
		return
	}

	ev.Timestamp = r.fallback(ev)
	ev.AddTag(TagTimestampParseFailure)
}

func (r *TimestampResolver) fallback(ev *models.Event) time.Time {
	if !ev.IngestedAt.IsZero() {
		return ev.IngestedAt.UTC()
	}
	return r.now().UTC()
}

func (r *TimestampResolver) parse(v models.Value, ev *models.Event) (time.Time, bool) {
	if v.IsNumeric() {
		return fromEpoch(v)
	}

	s := strings.TrimSpace(v.String())
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range r.layouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if t.Year() == 0 {
			// Layouts without a year (syslog) take the ingestion year.
			ref := r.fallback(ev)
			t = t.AddDate(ref.Year(), 0, 0)
		}
		return t, true
	}
	return time.Time{}, false
}

// fromEpoch accepts seconds, or milliseconds for values past year 2286 in
// seconds.
func fromEpoch(v models.Value) (time.Time, bool) {
	f, ok := v.Float()
	if !ok || f <= 0 {
		return time.Time{}, false
	}
	if f > 1e10 {
		ms := int64(f)
		return time.UnixMilli(ms).UTC(), true
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC(), true
}
