package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	v.SetConfigType("yaml")
	v.SetConfigFile(configFile)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindEnvVariables(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment variables: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(v, &cfg)

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.queue_size", 1024)
	v.SetDefault("pipeline.timestamp_field", "timestamp")

	v.SetDefault("enrichment.geo.provider", "none")
	v.SetDefault("enrichment.geo.timeout", 250*time.Millisecond)
	v.SetDefault("enrichment.geo.cache_ttl", time.Hour)

	v.SetDefault("metrics_sink.measurement", "sluice")
	v.SetDefault("metrics_sink.queue_size", 4096)
	v.SetDefault("metrics_sink.flush_interval", time.Second)
	v.SetDefault("metrics_sink.max_packet_size", 1400)

	v.SetDefault("database.mongodb.failure_collection", "failed_batches")

	v.SetDefault("broker.kafka.retry.max_attempts", 3)
	v.SetDefault("broker.kafka.retry.initial_interval", 500*time.Millisecond)
	v.SetDefault("broker.kafka.retry.max_interval", 10*time.Second)
	v.SetDefault("broker.kafka.retry.multiplier", 2.0)

	v.SetDefault("circuit_breaker.max_requests", 3)
	v.SetDefault("circuit_breaker.interval", 60*time.Second)
	v.SetDefault("circuit_breaker.timeout", 30*time.Second)
	v.SetDefault("circuit_breaker.failure_ratio", 0.5)
	v.SetDefault("circuit_breaker.min_requests", 5)

	v.SetDefault("rate_limit.rps", 500.0)
	v.SetDefault("rate_limit.burst", 1000)
	v.SetDefault("rate_limit.cleanup_interval", 60)
	v.SetDefault("rate_limit.max_age", 300)

	v.SetDefault("tracing.service_name", "sluice")
	v.SetDefault("tracing.sampler.type", "always")
}

func bindEnvVariables(v *viper.Viper) error {
	keys := []string{
		"server.port",
		"logging.level",
		"logging.format",
		"pipeline.workers",
		"pipeline.debug",
		"broker.kafka.brokers",
		"broker.kafka.group_id",
		"database.postgres.host",
		"database.postgres.port",
		"database.postgres.user",
		"database.postgres.password",
		"database.postgres.dbname",
		"database.postgres.sslmode",
		"database.redis.host",
		"database.redis.port",
		"database.redis.password",
		"database.redis.db",
		"database.mongodb.uri",
		"database.mongodb.database",
		"metrics_sink.address",
		"tracing.enabled",
		"tracing.service_name",
		"tracing.otlp.endpoint",
		"tracing.otlp.insecure",
	}
	for _, key := range keys {
		env := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, env); err != nil {
			return err
		}
	}
	return nil
}

func applyEnvOverrides(v *viper.Viper, cfg *Config) {
	if brokersEnv := v.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		if len(brokers) > 0 && brokers[0] != "" {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}
}
