package config

import (
	"time"

	"sluice/pkg/models"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Pipeline       PipelineConfig       `mapstructure:"pipeline"`
	Inputs         []InputConfig        `mapstructure:"inputs"`
	Extraction     ExtractionConfig     `mapstructure:"extraction"`
	Enrichment     EnrichmentConfig     `mapstructure:"enrichment"`
	Normalizer     NormalizerConfig     `mapstructure:"normalizer"`
	Destinations   []models.Destination `mapstructure:"destinations"`
	MetricsSink    MetricsSinkConfig    `mapstructure:"metrics_sink"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Broker         BrokerConfig         `mapstructure:"broker"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type PipelineConfig struct {
	Workers          int      `mapstructure:"workers"`
	QueueSize        int      `mapstructure:"queue_size"`
	Debug            bool     `mapstructure:"debug"`
	TimestampField   string   `mapstructure:"timestamp_field"`
	TimestampLayouts []string `mapstructure:"timestamp_layouts"`
}

const (
	ProtocolAgent     = "agent"
	ProtocolSyslog    = "syslog"
	ProtocolContainer = "container"
	ProtocolHTTP      = "http"
	ProtocolJSON      = "json"
	ProtocolKafka     = "kafka"
)

// InputConfig declares one listener. For syslog, Transport selects udp, tcp
// or both.
type InputConfig struct {
	Name            string        `mapstructure:"name"`
	Protocol        string        `mapstructure:"protocol"`
	Address         string        `mapstructure:"address"`
	Transport       string        `mapstructure:"transport"`
	SourceType      string        `mapstructure:"source_type"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	MaxMessageBytes int           `mapstructure:"max_message_bytes"`
	Topic           string        `mapstructure:"topic"`
	GroupID         string        `mapstructure:"group_id"`
}

type ExtractionConfig struct {
	Rules []models.PatternRule `mapstructure:"rules"`
}

type EnrichmentConfig struct {
	Rules []models.EnrichmentRule `mapstructure:"rules"`
	Geo   GeoConfig               `mapstructure:"geo"`
}

// GeoConfig selects the GeoLookup backend: "api", "postgres" or "none".
type GeoConfig struct {
	Provider string        `mapstructure:"provider"`
	URL      string        `mapstructure:"url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type RenameConfig struct {
	From string `mapstructure:"from"`
	To   string `mapstructure:"to"`
}

type NormalizerConfig struct {
	RemoveFields []string       `mapstructure:"remove_fields"`
	Renames      []RenameConfig `mapstructure:"renames"`
	Environment  string         `mapstructure:"environment"`
	Application  string         `mapstructure:"application"`
}

type MetricsSinkConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Address       string        `mapstructure:"address"`
	Measurement   string        `mapstructure:"measurement"`
	QueueSize     int           `mapstructure:"queue_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	MaxPacketSize int           `mapstructure:"max_packet_size"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig `mapstructure:"postgres"`
	Redis         RedisConfig    `mapstructure:"redis"`
	MongoDB       MongoDBConfig  `mapstructure:"mongodb"`
	RunMigrations bool           `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MongoDBConfig struct {
	URI               string `mapstructure:"uri"`
	Database          string `mapstructure:"database"`
	FailureCollection string `mapstructure:"failure_collection"`
}

type BrokerConfig struct {
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers []string    `mapstructure:"brokers"`
	GroupID string      `mapstructure:"group_id"`
	Retry   RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
