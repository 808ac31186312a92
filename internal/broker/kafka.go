package broker

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"sluice/internal/config"
	"sluice/internal/constants"
	"sluice/internal/logger"
	"sluice/pkg/errors"
	"sluice/pkg/logging"
	"sluice/pkg/metrics"
	"sluice/pkg/models"
	"sluice/pkg/retry"
	"sluice/pkg/tracing"
)

type KafkaProducer struct {
	writer *kafka.Writer
	logger logger.Logger
}

func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           constants.KafkaBatchTimeout,
		WriteTimeout:           constants.KafkaWriteTimeout,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &KafkaProducer{writer: w, logger: log}
}

// PublishEvents writes events as JSON documents keyed by event ID, so all
// copies of an event land on the same partition.
func (p *KafkaProducer) PublishEvents(ctx context.Context, topic string, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}

	headers := tracing.InjectTraceContext(ctx, nil)
	now := time.Now()

	msgs := make([]kafka.Message, 0, len(events))
	for i := range events {
		body, err := json.Marshal(events[i])
		if err != nil {
			return fmt.Errorf("failed to marshal event %s: %w", events[i].ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Topic:   topic,
			Key:     []byte(events[i].ID),
			Value:   body,
			Headers: headers,
			Time:    now,
		})
	}

	start := time.Now()
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to write kafka messages: %w", err)
	}
	metrics.ObserveKafkaWriteDuration(constants.ServiceName, topic, time.Since(start))
	metrics.IncKafkaMessagesWritten(constants.ServiceName, topic, len(msgs))

	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

type KafkaConsumer struct {
	cfg         config.KafkaConfig
	groupID     string
	mu          sync.Mutex
	reader      *kafka.Reader
	logger      logger.Logger
	serviceName string
}

// NewKafkaConsumer creates a consumer. A non-empty groupID overrides the
// broker-wide group.
func NewKafkaConsumer(cfg config.KafkaConfig, groupID string, log logger.Logger) *KafkaConsumer {
	if groupID == "" {
		groupID = cfg.GroupID
	}
	return &KafkaConsumer{
		cfg:         cfg,
		groupID:     groupID,
		logger:      log,
		serviceName: constants.ServiceName,
	}
}

func (c *KafkaConsumer) SetServiceName(name string) {
	c.serviceName = name
}

// Consume blocks, handing every message to handler until ctx is done.
func (c *KafkaConsumer) Consume(ctx context.Context, topic string, handler HandlerFunc) error {
	c.logger.Infow("Creating Kafka reader",
		"topic", topic,
		"brokers", c.cfg.Brokers,
		"group_id", c.groupID,
	)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.cfg.Brokers,
		GroupID:  c.groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
	c.mu.Lock()
	c.reader = reader
	c.mu.Unlock()

	consumeCtx := logging.WithServiceName(ctx, c.serviceName)
	c.logger.InfowCtx(consumeCtx, "Started consuming", "topic", topic)

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || stderrors.Is(err, io.EOF) {
				c.logger.InfowCtx(consumeCtx, "Stopped consuming",
					"topic", topic,
					"reason", err,
				)
				return nil
			}
			c.logger.ErrorwCtx(consumeCtx, "Error fetching kafka message",
				"error", err,
				"topic", topic,
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		metrics.IncKafkaMessagesRead(c.serviceName, topic)
		if m.HighWaterMark > 0 {
			metrics.SetKafkaConsumerLag(c.serviceName, topic, m.Partition, m.HighWaterMark-m.Offset-1)
		}

		c.handle(ctx, consumeCtx, reader, m, handler)
	}
}

func (c *KafkaConsumer) handle(ctx, consumeCtx context.Context, reader *kafka.Reader, m kafka.Message, handler HandlerFunc) {
	msgCtx, span := tracing.StartSpanFromKafkaMessage(consumeCtx, "kafka.consume", m.Headers)
	defer span.End()

	msg := Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Time:      m.Time,
	}

	if err := c.processMessageWithRetry(msgCtx, msg, handler); err != nil {
		metrics.IncEventsDropped("kafka_input", "handler_failed")
		c.logger.ErrorwCtx(msgCtx, "Failed to hand message to pipeline after retries, committing to avoid blocking",
			"error", err,
			"topic", m.Topic,
			"partition", m.Partition,
			"offset", m.Offset,
		)
	}

	if err := reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		c.logger.ErrorwCtx(msgCtx, "Failed to commit message",
			"error", err,
			"topic", m.Topic,
		)
	}
}

func (c *KafkaConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reader == nil {
		return nil
	}
	err := c.reader.Close()
	c.reader = nil
	return err
}

func (c *KafkaConsumer) retryPolicy() retry.Policy {
	policy := retry.DefaultPolicy()
	if c.cfg.Retry.MaxAttempts > 0 {
		policy.MaxAttempts = c.cfg.Retry.MaxAttempts
	}
	if c.cfg.Retry.InitialInterval > 0 {
		policy.InitialInterval = c.cfg.Retry.InitialInterval
	}
	if c.cfg.Retry.MaxInterval > 0 {
		policy.MaxInterval = c.cfg.Retry.MaxInterval
	}
	if c.cfg.Retry.Multiplier > 0 {
		policy.Multiplier = c.cfg.Retry.Multiplier
	}
	if c.cfg.Retry.MaxElapsedTime > 0 {
		policy.MaxElapsedTime = c.cfg.Retry.MaxElapsedTime
	}
	return policy
}

func (c *KafkaConsumer) processMessageWithRetry(ctx context.Context, msg Message, handler HandlerFunc) error {
	policy := c.retryPolicy()

	return retry.RetryWithCallback(ctx, policy, func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.RecoverPanic(r)
				c.logger.ErrorwCtx(ctx, "Panic recovered during message processing",
					"error", err,
					"topic", msg.Topic,
				)
			}
		}()
		return handler(ctx, msg)
	}, func(attempt int, err error, nextDelay time.Duration) {
		c.logger.WarnwCtx(ctx, "Retrying message processing",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"next_delay", nextDelay,
			"error", err,
			"topic", msg.Topic,
		)
	})
}
