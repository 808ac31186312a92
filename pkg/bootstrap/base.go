package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"sluice/internal/broker"
	"sluice/internal/config"
	"sluice/internal/logger"
)

// Base holds the process-wide dependencies shared by the serve command.
type Base struct {
	Config   *config.Config
	Logger   logger.Logger
	Producer broker.Producer
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

// InitProducer creates the shared Kafka producer used by kafka destinations.
func (b *Base) InitProducer() {
	if b.Producer != nil {
		return
	}
	b.Producer = broker.NewKafkaProducer(b.Config.Broker.Kafka, b.Logger)
	b.Logger.Infow("Kafka producer created", "brokers", b.Config.Broker.Kafka.Brokers)
}

// NewConsumer returns a consumer for one kafka input.
func (b *Base) NewConsumer(groupID string) broker.Consumer {
	return broker.NewKafkaConsumer(b.Config.Broker.Kafka, groupID, b.Logger)
}

func (b *Base) ShutdownBroker() []error {
	var errs []error
	if b.Producer != nil {
		if err := b.Producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("producer close error: %w", err))
		}
	}
	return errs
}

func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.Info("Shutting down application...")

	var errs []error
	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}
	errs = append(errs, b.ShutdownBroker()...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	b.Logger.Info("Application exited successfully")
	return nil
}
