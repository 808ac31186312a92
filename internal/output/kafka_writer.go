package output

import (
	"context"

	"sluice/internal/broker"
	"sluice/internal/constants"
	"sluice/pkg/errors"
	"sluice/pkg/models"
)

// KafkaWriter publishes each batch to the topic named by the target.
type KafkaWriter struct {
	producer broker.Producer
	owned    bool
}

// NewKafkaWriter wraps producer. When owned is true Close also closes the
// producer.
func NewKafkaWriter(producer broker.Producer, owned bool) *KafkaWriter {
	return &KafkaWriter{producer: producer, owned: owned}
}

func (w *KafkaWriter) Kind() string { return constants.WriterKafka }

func (w *KafkaWriter) Write(ctx context.Context, target string, events []models.Event) error {
	if err := w.producer.PublishEvents(ctx, target, events); err != nil {
		return errors.ErrDestinationWrite.WithCause(err).WithDetail("topic", target)
	}
	return nil
}

func (w *KafkaWriter) Close(context.Context) error {
	if !w.owned {
		return nil
	}
	return w.producer.Close()
}
