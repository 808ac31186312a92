package config

import (
	"errors"
	"fmt"
	"strings"

	"sluice/pkg/models"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

var knownProtocols = map[string]bool{
	ProtocolAgent:     true,
	ProtocolSyslog:    true,
	ProtocolContainer: true,
	ProtocolHTTP:      true,
	ProtocolJSON:      true,
	ProtocolKafka:     true,
}

var knownWriters = map[string]bool{
	"mongo":   true,
	"kafka":   true,
	"console": true,
}

// ValidateStatic checks the shape of the configuration. Rules, predicates
// and templates are compiled later by the components that own them.
func ValidateStatic(cfg *Config) error {
	var errs []error

	if err := validateServer(cfg.Server); err != nil {
		errs = append(errs, err)
	}
	if err := validatePipeline(cfg.Pipeline); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, validateInputs(cfg.Inputs)...)
	errs = append(errs, validateDestinations(cfg.Destinations)...)
	if err := validateDatabase(cfg.Database); err != nil {
		errs = append(errs, err)
	}
	if usesKafka(cfg) {
		if err := validateKafka(cfg.Broker.Kafka); err != nil {
			errs = append(errs, err)
		}
	}
	if usesMongo(cfg) && cfg.Database.MongoDB.URI == "" {
		errs = append(errs, &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "a mongo destination is configured but no MongoDB URI is set",
		})
	}
	if cfg.MetricsSink.Enabled && cfg.MetricsSink.Address == "" {
		errs = append(errs, &ValidationError{
			Field:   "metrics_sink.address",
			Message: "address is required when the metrics sink is enabled",
		})
	}

	return errors.Join(errs...)
}

func usesKafka(cfg *Config) bool {
	for _, in := range cfg.Inputs {
		if in.Protocol == ProtocolKafka {
			return true
		}
	}
	for _, d := range cfg.Destinations {
		if d.Writer == "kafka" {
			return true
		}
	}
	return false
}

func usesMongo(cfg *Config) bool {
	for _, d := range cfg.Destinations {
		if d.Writer == "mongo" {
			return true
		}
	}
	return false
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}
	if cfg.ReadTimeout <= 0 {
		return &ValidationError{Field: "server.read_timeout", Message: "read timeout must be positive"}
	}
	if cfg.WriteTimeout <= 0 {
		return &ValidationError{Field: "server.write_timeout", Message: "write timeout must be positive"}
	}
	return nil
}

func validatePipeline(cfg PipelineConfig) error {
	if cfg.Workers < 1 {
		return &ValidationError{Field: "pipeline.workers", Message: "at least one worker is required"}
	}
	if cfg.QueueSize < 1 {
		return &ValidationError{Field: "pipeline.queue_size", Message: "queue size must be positive"}
	}
	return nil
}

func validateInputs(inputs []InputConfig) []error {
	var errs []error
	if len(inputs) == 0 {
		return []error{&ValidationError{Field: "inputs", Message: "at least one input is required"}}
	}

	seen := make(map[string]bool, len(inputs))
	for i, in := range inputs {
		field := fmt.Sprintf("inputs[%d]", i)
		if in.Name == "" {
			errs = append(errs, &ValidationError{Field: field + ".name", Message: "name is required"})
		} else if seen[in.Name] {
			errs = append(errs, &ValidationError{Field: field + ".name", Message: fmt.Sprintf("duplicate input name %q", in.Name)})
		}
		seen[in.Name] = true

		if !knownProtocols[in.Protocol] {
			errs = append(errs, &ValidationError{
				Field:   field + ".protocol",
				Message: fmt.Sprintf("unknown protocol %q (supported: agent, syslog, container, http, json, kafka)", in.Protocol),
			})
			continue
		}

		if in.Protocol == ProtocolKafka {
			if in.Topic == "" {
				errs = append(errs, &ValidationError{Field: field + ".topic", Message: "topic is required for kafka inputs"})
			}
		} else if in.Address == "" {
			errs = append(errs, &ValidationError{Field: field + ".address", Message: "address is required"})
		}

		if in.Protocol == ProtocolSyslog {
			switch strings.ToLower(in.Transport) {
			case "", "udp", "tcp", "both":
			default:
				errs = append(errs, &ValidationError{
					Field:   field + ".transport",
					Message: fmt.Sprintf("invalid transport %q (valid: udp, tcp, both)", in.Transport),
				})
			}
		}

		if in.IdleTimeout < 0 {
			errs = append(errs, &ValidationError{Field: field + ".idle_timeout", Message: "idle timeout must be non-negative"})
		}
		if in.MaxMessageBytes < 0 {
			errs = append(errs, &ValidationError{Field: field + ".max_message_bytes", Message: "max message bytes must be non-negative"})
		}
	}
	return errs
}

func validateDestinations(dests []models.Destination) []error {
	var errs []error
	if len(dests) == 0 {
		return []error{&ValidationError{Field: "destinations", Message: "at least one destination is required"}}
	}

	seen := make(map[string]bool, len(dests))
	for i, d := range dests {
		field := fmt.Sprintf("destinations[%d]", i)
		if d.Name == "" {
			errs = append(errs, &ValidationError{Field: field + ".name", Message: "name is required"})
		} else if seen[d.Name] {
			errs = append(errs, &ValidationError{Field: field + ".name", Message: fmt.Sprintf("duplicate destination name %q", d.Name)})
		}
		seen[d.Name] = true

		if !knownWriters[d.Writer] {
			errs = append(errs, &ValidationError{
				Field:   field + ".writer",
				Message: fmt.Sprintf("unknown writer %q (supported: mongo, kafka, console)", d.Writer),
			})
		}
		if d.Writer == "kafka" && d.Target == "" {
			errs = append(errs, &ValidationError{Field: field + ".target", Message: "kafka destinations need a topic target"})
		}

		switch d.Backpressure {
		case "", models.BackpressureBlock, models.BackpressureReject:
		default:
			errs = append(errs, &ValidationError{
				Field:   field + ".backpressure",
				Message: fmt.Sprintf("invalid backpressure mode %q (valid: block, reject)", d.Backpressure),
			})
		}

		if d.BatchSize < 0 || d.QueueCapacity < 0 || d.Workers < 0 {
			errs = append(errs, &ValidationError{Field: field, Message: "batch_size, queue_capacity and workers must be non-negative"})
		}
		if d.Retry.MaxAttempts < 0 {
			errs = append(errs, &ValidationError{Field: field + ".retry.max_attempts", Message: "max_attempts must be non-negative"})
		}
		if d.Retry.MaxInterval > 0 && d.Retry.MaxInterval < d.Retry.InitialInterval {
			errs = append(errs, &ValidationError{
				Field:   field + ".retry.max_interval",
				Message: "max_interval must be greater than or equal to initial_interval",
			})
		}
	}
	return errs
}

func validateKafka(cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{Field: "broker.kafka.brokers", Message: "at least one Kafka broker is required"}
	}
	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}
	if cfg.Retry.Multiplier <= 0 {
		return &ValidationError{Field: "broker.kafka.retry.multiplier", Message: "multiplier must be positive"}
	}
	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if cfg.Postgres.Host != "" || cfg.Postgres.Port > 0 {
		if err := validatePostgres(cfg.Postgres); err != nil {
			return err
		}
	}
	if cfg.Redis.Host != "" || cfg.Redis.Port > 0 {
		if err := validateRedis(cfg.Redis); err != nil {
			return err
		}
	}
	if cfg.MongoDB.URI != "" {
		if err := validateMongoDB(cfg.MongoDB); err != nil {
			return err
		}
	}
	return nil
}

func validatePostgres(cfg PostgresConfig) error {
	if cfg.Host == "" {
		return &ValidationError{Field: "database.postgres.host", Message: "PostgreSQL host is required"}
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.postgres.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}
	if cfg.User == "" {
		return &ValidationError{Field: "database.postgres.user", Message: "PostgreSQL user is required"}
	}
	if cfg.DBName == "" {
		return &ValidationError{Field: "database.postgres.dbname", Message: "PostgreSQL database name is required"}
	}

	validSSLModes := map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	if cfg.SSLMode != "" && !validSSLModes[strings.ToLower(cfg.SSLMode)] {
		return &ValidationError{
			Field:   "database.postgres.sslmode",
			Message: fmt.Sprintf("invalid SSL mode: %s (valid: disable, allow, prefer, require, verify-ca, verify-full)", cfg.SSLMode),
		}
	}
	return nil
}

func validateRedis(cfg RedisConfig) error {
	if cfg.Host == "" {
		return &ValidationError{Field: "database.redis.host", Message: "Redis host is required"}
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.redis.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}
	return nil
}

func validateMongoDB(cfg MongoDBConfig) error {
	if !strings.HasPrefix(cfg.URI, "mongodb://") && !strings.HasPrefix(cfg.URI, "mongodb+srv://") {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "MongoDB URI must start with mongodb:// or mongodb+srv://",
		}
	}
	if cfg.Database == "" {
		return &ValidationError{Field: "database.mongodb.database", Message: "MongoDB database name is required"}
	}
	return nil
}
