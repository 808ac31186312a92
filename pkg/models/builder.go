package models

import "time"

type EventBuilder struct {
	event Event
}

func NewEventBuilder() *EventBuilder {
	return &EventBuilder{
		event: NewEvent("", ""),
	}
}

func (b *EventBuilder) WithID(id string) *EventBuilder {
	b.event.ID = id
	return b
}

func (b *EventBuilder) WithSourceType(sourceType string) *EventBuilder {
	b.event.SourceType = sourceType
	return b
}

func (b *EventBuilder) WithMessage(raw string) *EventBuilder {
	b.event.RawMessage = raw
	return b
}

func (b *EventBuilder) WithTimestamp(timestamp time.Time) *EventBuilder {
	b.event.Timestamp = timestamp
	return b
}

func (b *EventBuilder) WithAttribute(name string, v Value) *EventBuilder {
	b.event.Set(name, v)
	return b
}

func (b *EventBuilder) WithString(name, s string) *EventBuilder {
	return b.WithAttribute(name, StringValue(s))
}

func (b *EventBuilder) WithInt(name string, i int64) *EventBuilder {
	return b.WithAttribute(name, IntValue(i))
}

func (b *EventBuilder) WithTag(tags ...string) *EventBuilder {
	for _, t := range tags {
		b.event.AddTag(t)
	}
	return b
}

func (b *EventBuilder) WithMetadata(key, value string) *EventBuilder {
	b.event.Metadata[key] = value
	return b
}

func (b *EventBuilder) Build() Event {
	return b.event.Clone()
}
