package extraction

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"sluice/pkg/models"
)

const (
	maxGrokDepth    = 16
	grokGroupPrefix = "grok__"
)

// grokLibrary holds the named sub-patterns usable as %{NAME}. Definitions
// only use non-capturing groups so that group indexes map to declared
// fields.
var grokLibrary = map[string]string{
	"USERNAME":   `[a-zA-Z0-9._-]+`,
	"USER":       `%{USERNAME}`,
	"INT":        `(?:[+-]?(?:[0-9]+))`,
	"BASE10NUM":  `(?:[+-]?(?:[0-9]+(?:\.[0-9]+)?)|\.[0-9]+)`,
	"NUMBER":     `(?:%{BASE10NUM})`,
	"POSINT":     `\b(?:[1-9][0-9]*)\b`,
	"NONNEGINT":  `\b(?:[0-9]+)\b`,
	"WORD":       `\b\w+\b`,
	"NOTSPACE":   `\S+`,
	"SPACE":      `\s*`,
	"DATA":       `.*?`,
	"GREEDYDATA": `.*`,

	"QUOTEDSTRING": `"(?:[^"\\]|\\.)*"`,
	"UUID":         `[A-Fa-f0-9]{8}-(?:[A-Fa-f0-9]{4}-){3}[A-Fa-f0-9]{12}`,

	"IPV4":     `(?:(?:25[0-5]|2[0-4][0-9]|1[0-9]{2}|[1-9]?[0-9])\.){3}(?:25[0-5]|2[0-4][0-9]|1[0-9]{2}|[1-9]?[0-9])`,
	"IPV6":     `(?:[0-9A-Fa-f]{1,4}:){7}[0-9A-Fa-f]{1,4}|(?:[0-9A-Fa-f]{1,4}:){1,7}:|(?:[0-9A-Fa-f]{1,4}:){1,6}:[0-9A-Fa-f]{1,4}|::(?:[0-9A-Fa-f]{1,4}:){0,5}[0-9A-Fa-f]{1,4}|::`,
	"IP":       `(?:%{IPV4}|%{IPV6})`,
	"HOSTNAME": `\b(?:[0-9A-Za-z][0-9A-Za-z-]{0,62})(?:\.(?:[0-9A-Za-z][0-9A-Za-z-]{0,62}))*\.?`,
	"IPORHOST": `(?:%{IP}|%{HOSTNAME})`,
	"HOSTPORT": `%{IPORHOST}:%{POSINT}`,

	"YEAR":             `(?:\d\d){1,2}`,
	"MONTHNUM":         `(?:0?[1-9]|1[0-2])`,
	"MONTHDAY":         `(?:(?:0[1-9])|(?:[12][0-9])|(?:3[01])|[1-9])`,
	"MONTH":            `\b(?:Jan(?:uary)?|Feb(?:ruary)?|Mar(?:ch)?|Apr(?:il)?|May|Jun(?:e)?|Jul(?:y)?|Aug(?:ust)?|Sep(?:tember)?|Oct(?:ober)?|Nov(?:ember)?|Dec(?:ember)?)\b`,
	"HOUR":             `(?:2[0123]|[01]?[0-9])`,
	"MINUTE":           `(?:[0-5][0-9])`,
	"SECOND":           `(?:(?:[0-5]?[0-9]|60)(?:[:.,][0-9]+)?)`,
	"TIME":             `%{HOUR}:%{MINUTE}(?::%{SECOND})`,
	"ISO8601_TIMEZONE": `(?:Z|[+-]%{HOUR}(?::?%{MINUTE}))`,
	"SYSLOGTIMESTAMP":  `%{MONTH} +%{MONTHDAY} %{TIME}`,
	"HTTPDATE":         `%{MONTHDAY}/%{MONTH}/%{YEAR}:%{TIME} %{INT}`,

	"TIMESTAMP_ISO8601": `%{YEAR}-%{MONTHNUM}-%{MONTHDAY}[T ]%{HOUR}:?%{MINUTE}(?::?%{SECOND})?%{ISO8601_TIMEZONE}?`,

	"LOGLEVEL": `(?:[Aa]lert|ALERT|[Tt]race|TRACE|[Dd]ebug|DEBUG|[Nn]otice|NOTICE|[Ii]nfo|INFO|[Ww]arn(?:ing)?|WARN(?:ING)?|[Ee]rr(?:or)?|ERR(?:OR)?|[Cc]rit(?:ical)?|CRIT(?:ICAL)?|[Ff]atal|FATAL|[Ss]evere|SEVERE|EMERG(?:ENCY)?|[Ee]merg(?:ency)?)`,

	"HTTPMETHOD":   `\b(?:GET|POST|PUT|DELETE|PATCH|HEAD|OPTIONS|CONNECT|TRACE)\b`,
	"URIPATH":      `(?:/[A-Za-z0-9$.+!*'(){},~:;=@#%&_\-]*)+`,
	"URIPARAM":     `\?[A-Za-z0-9$.+!*'|(){},~@#%&/=:;_?\-\[\]<>]*`,
	"URIPATHPARAM": `%{URIPATH}(?:%{URIPARAM})?`,
}

var grokRef = regexp.MustCompile(`%\{(\w+)(?::([\w.@\-]+))?(?::(\w+))?\}`)

// capture binds a regexp group index to an attribute.
type capture struct {
	group int
	field string
	kind  models.ValueKind
}

type grokField struct {
	field string
	kind  models.ValueKind
	typed bool
}

// compilePattern turns a grok expression or plain regexp into a compiled
// regexp plus the ordered captures it produces. declared overrides types
// by field name, and names unnamed groups positionally when the pattern
// has no named groups of its own.
func compilePattern(pattern string, declared []models.Capture) (*regexp.Regexp, []capture, error) {
	var fields []grokField
	expanded, err := expandGrok(pattern, 0, &fields)
	if err != nil {
		return nil, nil, err
	}

	re, err := regexp.Compile(expanded)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid pattern: %w", err)
	}

	declaredKinds := make(map[string]models.ValueKind, len(declared))
	for _, c := range declared {
		kind, err := models.ParseValueKind(c.Type)
		if err != nil {
			return nil, nil, fmt.Errorf("capture %q: %w", c.Field, err)
		}
		declaredKinds[c.Field] = kind
	}

	names := re.SubexpNames()
	hasNamed := false
	for _, n := range names[1:] {
		if n != "" {
			hasNamed = true
			break
		}
	}

	var caps []capture
	positional := 0
	for i := 1; i < len(names); i++ {
		name := names[i]
		var c capture
		switch {
		case grokGroupIndex(name) >= 0:
			f := fields[grokGroupIndex(name)]
			c = capture{group: i, field: f.field, kind: f.kind}
			if k, ok := declaredKinds[f.field]; ok && !f.typed {
				c.kind = k
			}
		case name != "":
			c = capture{group: i, field: name, kind: models.KindString}
			if k, ok := declaredKinds[name]; ok {
				c.kind = k
			}
		case !hasNamed && positional < len(declared):
			d := declared[positional]
			positional++
			c = capture{group: i, field: d.Field, kind: declaredKinds[d.Field]}
		default:
			continue
		}
		caps = append(caps, c)
	}

	if len(caps) == 0 {
		return nil, nil, fmt.Errorf("pattern declares no captures")
	}
	return re, caps, nil
}

// grokGroupIndex returns the field index encoded in a generated group
// name, or -1 for user-named groups.
func grokGroupIndex(name string) int {
	if !strings.HasPrefix(name, grokGroupPrefix) {
		return -1
	}
	idx, err := strconv.Atoi(name[len(grokGroupPrefix):])
	if err != nil {
		return -1
	}
	return idx
}

func expandGrok(pattern string, depth int, fields *[]grokField) (string, error) {
	if depth > maxGrokDepth {
		return "", fmt.Errorf("grok pattern nesting exceeds %d levels", maxGrokDepth)
	}

	var expandErr error
	out := grokRef.ReplaceAllStringFunc(pattern, func(ref string) string {
		if expandErr != nil {
			return ""
		}
		m := grokRef.FindStringSubmatch(ref)
		name, field, typ := m[1], m[2], m[3]

		def, ok := grokLibrary[name]
		if !ok {
			expandErr = fmt.Errorf("unknown grok pattern %%{%s}", name)
			return ""
		}
		inner, err := expandGrok(def, depth+1, fields)
		if err != nil {
			expandErr = err
			return ""
		}
		if field == "" {
			return "(?:" + inner + ")"
		}

		kind := models.KindString
		if typ != "" {
			kind, err = models.ParseValueKind(typ)
			if err != nil {
				expandErr = fmt.Errorf("field %q: %w", field, err)
				return ""
			}
		}
		*fields = append(*fields, grokField{field: field, kind: kind, typed: typ != ""})
		return fmt.Sprintf("(?P<%s%d>%s)", grokGroupPrefix, len(*fields)-1, inner)
	})
	if expandErr != nil {
		return "", expandErr
	}
	return out, nil
}
