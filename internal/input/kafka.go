package input

import (
	"bytes"
	"context"
	"fmt"

	"sluice/internal/broker"
	"sluice/pkg/errors"
	"sluice/pkg/logging"
	"sluice/pkg/models"
)

type kafkaServer struct {
	b        *base
	consumer broker.Consumer
	topic    string
	cancel   context.CancelFunc
	done     chan struct{}
}

func startKafka(ctx context.Context, b *base, topic string, consumer broker.Consumer) *kafkaServer {
	runCtx, cancel := context.WithCancel(logging.WithListener(context.WithoutCancel(ctx), b.name))
	s := &kafkaServer{
		b:        b,
		consumer: consumer,
		topic:    topic,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	consumer.SetServiceName(b.name)

	go func() {
		defer close(s.done)
		if err := consumer.Consume(runCtx, topic, s.handle); err != nil {
			b.logger.Errorw("Kafka input stopped", "topic", topic, "error", err)
		}
	}()
	return s
}

func (s *kafkaServer) addr() string { return "kafka://" + s.topic }

// handle decodes one record. Objects are decoded as JSON, anything else is
// taken as a text line. A sink error is returned so the consumer retries;
// fatal validation is final.
func (s *kafkaServer) handle(ctx context.Context, msg broker.Message) error {
	s.b.touch(len(msg.Value))
	payload := bytes.TrimSpace(msg.Value)
	if len(payload) == 0 {
		return nil
	}
	remote := fmt.Sprintf("%s/%d@%d", msg.Topic, msg.Partition, msg.Offset)

	var err error
	if payload[0] == '{' {
		_, err = s.b.decode(ctx, payload, remote, decodeJSON)
	} else {
		err = s.b.emit(ctx, models.NewEvent(s.b.sourceType, string(payload)), remote)
	}
	if err != nil && !errors.IsFatalValidation(err) {
		return err
	}
	return nil
}

func (s *kafkaServer) close() error {
	s.cancel()
	<-s.done
	return s.consumer.Close()
}
