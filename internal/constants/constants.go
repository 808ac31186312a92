package constants

import "time"

const (
	ServiceName = "sluice"
)

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultHTTPTimeout = 10 * time.Second
	ShutdownTimeout    = 30 * time.Second
)

const (
	CacheKeyPrefixGeo = "geo:"
)

const (
	DefaultMongoDBName       = "sluice"
	DefaultFailureCollection = "failed_batches"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Listener defaults.
const (
	DefaultIdleTimeout     = 60 * time.Second
	DefaultMaxMessageBytes = 1 << 20
	DefaultReadBufferBytes = 64 * 1024
	UDPReadDeadline        = 100 * time.Millisecond
	UDPSocketBufferBytes   = 2 * 1024 * 1024
	MaxDatagramBytes       = 65535
	BindRetryAttempts      = 5
)

// Pipeline defaults.
const (
	DefaultPipelineWorkers   = 4
	DefaultPipelineQueueSize = 4096
)

// Destination defaults.
const (
	DefaultBatchSize     = 500
	DefaultMaxIdleTime   = 2 * time.Second
	DefaultQueueCapacity = 10000
	DefaultFlushTimeout  = 10 * time.Second
	DefaultFlushWorkers  = 1
	DefaultMaxAttempts   = 3
	DefaultTargetPattern = "logs-%{service}-%{+2006.01.02}"
)

const (
	UnknownService = "unknown"
)

const (
	GeoProviderNone     = "none"
	GeoProviderAPI      = "api"
	GeoProviderPostgres = "postgres"
)

const (
	WriterMongo   = "mongo"
	WriterKafka   = "kafka"
	WriterConsole = "console"
)
