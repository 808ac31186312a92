package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	SourceTypeApp       = "app"
	SourceTypeSyslog    = "syslog"
	SourceTypeContainer = "container"
	SourceTypeHTTP      = "http"
	SourceTypeJSON      = "json"
	SourceTypeAgent     = "agent"
	SourceTypeKafka     = "kafka"
)

const (
	TagMalformed = "malformed"
	TagFailure   = "failure"
	TagSecurity  = "security"

	FailureTagSuffix = "_failure"
)

const (
	MetaListener   = "listener"
	MetaProtocol   = "protocol"
	MetaRemoteAddr = "remote_addr"
	MetaIngestedAt = "ingested_at"
)

// Event is the record flowing through the pipeline. Stages receive an Event
// by value, Clone it, and return the transformed copy.
type Event struct {
	ID         string            `json:"id"`
	RawMessage string            `json:"message"`
	Attributes map[string]Value  `json:"attributes"`
	Tags       []string          `json:"tags"`
	Metadata   map[string]string `json:"-"`
	Timestamp  time.Time         `json:"@timestamp"`
	SourceType string            `json:"source_type"`
	IngestedAt time.Time         `json:"-"`
}

func NewEvent(sourceType, raw string) Event {
	now := time.Now().UTC()
	return Event{
		ID:         uuid.NewString(),
		RawMessage: raw,
		Attributes: make(map[string]Value),
		Tags:       make([]string, 0, 2),
		Metadata:   make(map[string]string),
		SourceType: sourceType,
		IngestedAt: now,
	}
}

// Clone returns a deep copy that shares no maps or slices with e.
func (e Event) Clone() Event {
	c := e
	c.Attributes = make(map[string]Value, len(e.Attributes))
	for k, v := range e.Attributes {
		c.Attributes[k] = v
	}
	c.Tags = make([]string, len(e.Tags))
	copy(c.Tags, e.Tags)
	c.Metadata = make(map[string]string, len(e.Metadata))
	for k, v := range e.Metadata {
		c.Metadata[k] = v
	}
	return c
}

func (e *Event) Get(name string) (Value, bool) {
	if e.Attributes == nil {
		return Value{}, false
	}
	v, ok := e.Attributes[name]
	return v, ok
}

func (e *Event) Has(name string) bool {
	_, ok := e.Get(name)
	return ok
}

func (e *Event) Set(name string, v Value) {
	if e.Attributes == nil {
		e.Attributes = make(map[string]Value)
	}
	e.Attributes[name] = v
}

// SetIfAbsent sets name only when it is not already present.
func (e *Event) SetIfAbsent(name string, v Value) bool {
	if e.Has(name) {
		return false
	}
	e.Set(name, v)
	return true
}

func (e *Event) Delete(name string) {
	delete(e.Attributes, name)
}

// Text returns the string form of an attribute, or the raw message for the
// pseudo-field "message" when no such attribute exists.
func (e *Event) Text(name string) (string, bool) {
	if v, ok := e.Get(name); ok {
		return v.String(), true
	}
	if name == "message" || name == "raw_message" {
		return e.RawMessage, true
	}
	return "", false
}

// AddTag appends tag unless present. Tags are never removed.
func (e *Event) AddTag(tag string) bool {
	if tag == "" || e.HasTag(tag) {
		return false
	}
	e.Tags = append(e.Tags, tag)
	return true
}

func (e *Event) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// HasFailureTag reports whether any processing step marked the event failed.
func (e *Event) HasFailureTag() bool {
	for _, t := range e.Tags {
		if t == TagMalformed || strings.HasSuffix(t, FailureTagSuffix) {
			return true
		}
	}
	return false
}

// AttributeMap returns attributes as plain Go values, for CEL and encoders.
func (e *Event) AttributeMap() map[string]interface{} {
	m := make(map[string]interface{}, len(e.Attributes))
	for k, v := range e.Attributes {
		m[k] = v.Interface()
	}
	return m
}

// Document flattens the event into the shape written to stores: attributes
// at the top level next to the reserved fields.
func (e *Event) Document() map[string]interface{} {
	doc := make(map[string]interface{}, len(e.Attributes)+5)
	for k, v := range e.Attributes {
		doc[k] = v.Interface()
	}
	doc["event_id"] = e.ID
	doc["@timestamp"] = e.Timestamp
	doc["message"] = e.RawMessage
	doc["source_type"] = e.SourceType
	tags := make([]string, len(e.Tags))
	copy(tags, e.Tags)
	doc["tags"] = tags
	return doc
}

func (e Event) MarshalJSON() ([]byte, error) {
	doc := e.Document()
	doc["@timestamp"] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	return json.Marshal(doc)
}
