package broker

import (
	"context"
	"time"

	"sluice/pkg/models"
)

// Message is a raw record read from a topic. Decoding is left to the
// handler so that a bad payload can be tagged instead of discarded.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Time      time.Time
}

type Producer interface {
	PublishEvents(ctx context.Context, topic string, events []models.Event) error
	Close() error
}

type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

type HandlerFunc func(ctx context.Context, msg Message) error
