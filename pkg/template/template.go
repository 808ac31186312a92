// Package template renders %{field} and %{+layout} references against an
// event. Field references resolve attributes (and the pseudo-field
// "message"); %{+layout} formats the event timestamp with a Go time layout.
package template

import (
	"fmt"
	"strings"
	"time"

	"sluice/pkg/models"
)

type part struct {
	literal string
	field   string
	layout  string
}

type Template struct {
	raw   string
	parts []part
}

func Compile(s string) (*Template, error) {
	t := &Template{raw: s}
	rest := s
	for {
		i := strings.Index(rest, "%{")
		if i < 0 {
			if rest != "" {
				t.parts = append(t.parts, part{literal: rest})
			}
			return t, nil
		}
		if i > 0 {
			t.parts = append(t.parts, part{literal: rest[:i]})
		}
		end := strings.IndexByte(rest[i:], '}')
		if end < 0 {
			return nil, fmt.Errorf("unterminated reference in template %q", s)
		}
		ref := rest[i+2 : i+end]
		if ref == "" || ref == "+" {
			return nil, fmt.Errorf("empty reference in template %q", s)
		}
		if strings.HasPrefix(ref, "+") {
			t.parts = append(t.parts, part{layout: ref[1:]})
		} else {
			t.parts = append(t.parts, part{field: ref})
		}
		rest = rest[i+end+1:]
	}
}

func MustCompile(s string) *Template {
	t, err := Compile(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Template) String() string { return t.raw }

// IsStatic reports whether the template has no references.
func (t *Template) IsStatic() bool {
	for _, p := range t.parts {
		if p.field != "" || p.layout != "" {
			return false
		}
	}
	return true
}

// Fields returns the attribute names the template references.
func (t *Template) Fields() []string {
	var fields []string
	for _, p := range t.parts {
		if p.field != "" {
			fields = append(fields, p.field)
		}
	}
	return fields
}

// Render expands t against ev. Missing fields render as empty and make ok
// false.
func (t *Template) Render(ev *models.Event) (string, bool) {
	var b strings.Builder
	ok := true
	for _, p := range t.parts {
		switch {
		case p.field != "":
			s, found := ev.Text(p.field)
			if !found || s == "" {
				ok = false
				continue
			}
			b.WriteString(s)
		case p.layout != "":
			ts := ev.Timestamp
			if ts.IsZero() {
				ts = ev.IngestedAt
			}
			if ts.IsZero() {
				ts = time.Now()
			}
			b.WriteString(ts.UTC().Format(p.layout))
		default:
			b.WriteString(p.literal)
		}
	}
	return b.String(), ok
}
