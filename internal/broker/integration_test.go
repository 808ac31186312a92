//go:build integration

package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sluice/internal/config"
	"sluice/internal/logger"
	"sluice/internal/testinfra"
	"sluice/pkg/models"
)

func TestKafkaRoundTrip_Integration(t *testing.T) {
	brokers := testinfra.Kafka(t)
	cfg := config.KafkaConfig{
		Brokers: brokers,
		Retry: config.RetryConfig{
			MaxAttempts:     2,
			InitialInterval: 10 * time.Millisecond,
			MaxInterval:     50 * time.Millisecond,
			Multiplier:      2,
		},
	}
	log := logger.NopLogger()

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	producer := NewKafkaProducer(cfg, log)
	defer producer.Close()

	sent := []models.Event{
		models.NewEvent(models.SourceTypeApp, "first"),
		models.NewEvent(models.SourceTypeApp, "second"),
	}
	require.NoError(t, producer.PublishEvents(ctx, "sluice-roundtrip", sent))

	consumer := NewKafkaConsumer(cfg, "sluice-test", log)
	defer consumer.Close()

	received := make(chan Message, len(sent))
	consumeCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- consumer.Consume(consumeCtx, "sluice-roundtrip", func(_ context.Context, msg Message) error {
			received <- msg
			return nil
		})
	}()

	got := make(map[string]string, len(sent))
	for len(got) < len(sent) {
		select {
		case msg := <-received:
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(msg.Value, &body))
			got[string(msg.Key)] = body["message"].(string)
		case <-ctx.Done():
			t.Fatalf("timed out waiting for messages, got %d", len(got))
		}
	}

	stop()
	require.NoError(t, <-done)

	for _, ev := range sent {
		assert.Equal(t, ev.RawMessage, got[ev.ID])
	}
}
