package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sluice_events_ingested_total",
			Help: "Total number of events decoded by listeners (count)",
		},
		[]string{"listener", "protocol"},
	)

	DecodeFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sluice_decode_failures_total",
			Help: "Total number of payloads that failed to decode and were tagged malformed (count)",
		},
		[]string{"listener", "protocol"},
	)

	EventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sluice_events_dropped_total",
			Help: "Total number of events dropped before delivery (count)",
		},
		[]string{"stage", "reason"},
	)

	ActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sluice_active_connections",
			Help: "Number of open client connections per listener (count)",
		},
		[]string{"listener"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sluice_stage_duration_ms",
			Help:    "Duration of a pipeline stage per event in milliseconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100},
		},
		[]string{"stage"},
	)

	PipelineQueueSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sluice_pipeline_queue_size",
			Help: "Current number of events waiting for a pipeline worker (count)",
		},
	)

	ExtractionResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sluice_extraction_results_total",
			Help: "Total number of pattern rule attempts by outcome (count)",
		},
		[]string{"rule", "result"},
	)

	EnrichmentRuleApplicationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sluice_enrichment_rule_applications_total",
			Help: "Total number of enrichment rule applications (count)",
		},
		[]string{"rule", "status"},
	)

	LookupRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sluice_lookup_requests_total",
			Help: "Total number of requests to lookup providers (count)",
		},
		[]string{"provider", "status"},
	)

	LookupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sluice_lookup_duration_ms",
			Help:    "Duration of lookup provider requests in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		},
		[]string{"provider"},
	)

	RoutedEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sluice_routed_events_total",
			Help: "Total number of events accepted by a destination predicate (count)",
		},
		[]string{"destination"},
	)

	DestinationQueueSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sluice_destination_queue_size",
			Help: "Current number of events queued for a destination (count)",
		},
		[]string{"destination"},
	)

	DestinationEventsWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sluice_destination_events_written_total",
			Help: "Total number of events written by a destination (count)",
		},
		[]string{"destination"},
	)

	DestinationBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sluice_destination_batches_total",
			Help: "Total number of batch flushes by outcome (count)",
		},
		[]string{"destination", "status"},
	)

	DestinationFailedBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sluice_destination_failed_batches_total",
			Help: "Total number of batches that exhausted every retry (count)",
		},
		[]string{"destination"},
	)

	DestinationRetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sluice_destination_retry_attempts_total",
			Help: "Total number of flush retry attempts (count)",
		},
		[]string{"destination"},
	)

	DestinationFlushDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sluice_destination_flush_duration_ms",
			Help:    "Duration of a single flush attempt in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"destination"},
	)

	EmitterLinesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sluice_emitter_lines_total",
			Help: "Total number of metric lines handled by the emitter (count)",
		},
		[]string{"status"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Kafka consumer lag (difference between latest offset and committed offset) (count)",
		},
		[]string{"service", "topic", "partition"},
	)

	KafkaWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_write_duration_ms",
			Help:    "Duration of writing messages to Kafka in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "topic"},
	)

	DatabaseQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_queries_total",
			Help: "Total number of database queries (count)",
		},
		[]string{"database", "operation", "status"},
	)

	DatabaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_ms",
			Help:    "Duration of database queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"database", "operation"},
	)
)

var registerOnce sync.Once

// Register adds every collector to the default registry. Safe to call more
// than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			EventsIngestedTotal,
			DecodeFailuresTotal,
			EventsDroppedTotal,
			ActiveConnections,
			StageDuration,
			PipelineQueueSize,
			ExtractionResultsTotal,
			EnrichmentRuleApplicationsTotal,
			LookupRequestsTotal,
			LookupDuration,
			RoutedEventsTotal,
			DestinationQueueSize,
			DestinationEventsWrittenTotal,
			DestinationBatchesTotal,
			DestinationFailedBatchesTotal,
			DestinationRetryAttemptsTotal,
			DestinationFlushDuration,
			EmitterLinesTotal,
			CircuitBreakerState,
			CircuitBreakerRequests,
			CircuitBreakerFailures,
			RateLimitRequestsTotal,
			KafkaMessagesReadTotal,
			KafkaMessagesWrittenTotal,
			KafkaConsumerLag,
			KafkaWriteDuration,
			DatabaseQueriesTotal,
			DatabaseQueryDuration,
		)
	})
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func IncEventsIngested(listener, protocol string) {
	EventsIngestedTotal.WithLabelValues(listener, protocol).Inc()
}

func IncDecodeFailure(listener, protocol string) {
	DecodeFailuresTotal.WithLabelValues(listener, protocol).Inc()
}

func IncEventsDropped(stage, reason string) {
	EventsDroppedTotal.WithLabelValues(stage, reason).Inc()
}

func ObserveStageDuration(stage string, d time.Duration) {
	StageDuration.WithLabelValues(stage).Observe(ms(d))
}

func IncExtractionResult(rule, result string) {
	ExtractionResultsTotal.WithLabelValues(rule, result).Inc()
}

func IncEnrichmentRuleApplication(rule, status string) {
	EnrichmentRuleApplicationsTotal.WithLabelValues(rule, status).Inc()
}

func IncLookupRequest(provider, status string) {
	LookupRequestsTotal.WithLabelValues(provider, status).Inc()
}

func ObserveLookupDuration(provider string, d time.Duration) {
	LookupDuration.WithLabelValues(provider).Observe(ms(d))
}

func IncRoutedEvent(destination string) {
	RoutedEventsTotal.WithLabelValues(destination).Inc()
}

func SetDestinationQueueSize(destination string, size int) {
	DestinationQueueSize.WithLabelValues(destination).Set(float64(size))
}

func AddDestinationEventsWritten(destination string, n int) {
	DestinationEventsWrittenTotal.WithLabelValues(destination).Add(float64(n))
}

func IncDestinationBatch(destination, status string) {
	DestinationBatchesTotal.WithLabelValues(destination, status).Inc()
}

func IncDestinationFailedBatch(destination string) {
	DestinationFailedBatchesTotal.WithLabelValues(destination).Inc()
}

func IncDestinationRetry(destination string) {
	DestinationRetryAttemptsTotal.WithLabelValues(destination).Inc()
}

func ObserveDestinationFlush(destination string, d time.Duration) {
	DestinationFlushDuration.WithLabelValues(destination).Observe(ms(d))
}

func IncEmitterLines(status string, n int) {
	EmitterLinesTotal.WithLabelValues(status).Add(float64(n))
}

func IncKafkaMessagesRead(service, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(service, topic).Inc()
}

func IncKafkaMessagesWritten(service, topic string, n int) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Add(float64(n))
}

func SetKafkaConsumerLag(service, topic string, partition int, lag int64) {
	KafkaConsumerLag.WithLabelValues(service, topic, fmt.Sprintf("%d", partition)).Set(float64(lag))
}

func ObserveKafkaWriteDuration(service, topic string, d time.Duration) {
	KafkaWriteDuration.WithLabelValues(service, topic).Observe(ms(d))
}

func IncDatabaseQuery(database, operation, status string) {
	DatabaseQueriesTotal.WithLabelValues(database, operation, status).Inc()
}

func ObserveDatabaseQueryDuration(database, operation string, d time.Duration) {
	DatabaseQueryDuration.WithLabelValues(database, operation).Observe(ms(d))
}
