package emitter

import (
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/influxdata/line-protocol/v2/lineprotocol"

	"sluice/internal/config"
	"sluice/internal/constants"
	"sluice/internal/logger"
	"sluice/pkg/metrics"
	"sluice/pkg/models"
)

const (
	defaultMeasurement   = "sluice"
	defaultQueueSize     = 4096
	defaultFlushInterval = time.Second
	defaultMaxPacketSize = 1400

	dimensionService = "service"
	dimensionLevel   = "level"
)

// GaugeFields are the numeric attributes that make an event a performance
// sample.
var GaugeFields = []string{"bytes", "duration_ms", "response_time"}

type counterKey struct {
	dimension string
	value     string
}

type Stats struct {
	Queued  int   `json:"queued"`
	Dropped int64 `json:"dropped"`
	Lines   int64 `json:"lines"`
	Packets int64 `json:"packets"`
	Errors  int64 `json:"errors"`
}

// Emitter turns performance samples into line protocol and pushes them to a
// UDP sink. Emit never blocks; when the queue is full the event is dropped.
// Counters by service and level are aggregated and sent every flush
// interval.
type Emitter struct {
	measurement   string
	flushInterval time.Duration
	maxPacket     int
	conn          io.WriteCloser
	logger        logger.Logger

	queue chan models.Event
	stop  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once

	// owned by the run goroutine
	counters    map[counterKey]int64
	packet      []byte
	packetLines int

	dropped atomic.Int64
	lines   atomic.Int64
	packets atomic.Int64
	errors  atomic.Int64
}

func New(cfg config.MetricsSinkConfig, log logger.Logger) (*Emitter, error) {
	conn, err := net.Dial("udp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial metrics sink %s: %w", cfg.Address, err)
	}
	return newEmitter(cfg, conn, log), nil
}

func newEmitter(cfg config.MetricsSinkConfig, conn io.WriteCloser, log logger.Logger) *Emitter {
	if cfg.Measurement == "" {
		cfg.Measurement = defaultMeasurement
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.MaxPacketSize <= 0 {
		cfg.MaxPacketSize = defaultMaxPacketSize
	}
	return &Emitter{
		measurement:   cfg.Measurement,
		flushInterval: cfg.FlushInterval,
		maxPacket:     cfg.MaxPacketSize,
		conn:          conn,
		logger:        log,
		queue:         make(chan models.Event, cfg.QueueSize),
		stop:          make(chan struct{}),
		counters:      make(map[counterKey]int64),
		packet:        make([]byte, 0, cfg.MaxPacketSize),
	}
}

// IsSample reports whether ev carries a recognized performance attribute.
func IsSample(ev *models.Event) bool {
	for _, f := range GaugeFields {
		if v, ok := ev.Get(f); ok {
			if _, ok := v.Float(); ok {
				return true
			}
		}
	}
	return false
}

// Emit queues ev if it is a performance sample. It reports whether the
// event was accepted.
func (e *Emitter) Emit(ev models.Event) bool {
	if !IsSample(&ev) {
		return false
	}
	select {
	case e.queue <- ev:
		return true
	default:
		e.dropped.Add(1)
		metrics.IncEmitterLines("dropped", 1)
		return false
	}
}

func (e *Emitter) Start() {
	e.wg.Add(1)
	go e.run()
	e.logger.Infow("Metrics emitter started",
		"measurement", e.measurement,
		"flush_interval", e.flushInterval,
		"queue_size", cap(e.queue),
	)
}

// Close flushes what is queued and closes the connection.
func (e *Emitter) Close() error {
	e.once.Do(func() { close(e.stop) })
	e.wg.Wait()
	return e.conn.Close()
}

func (e *Emitter) Stats() Stats {
	return Stats{
		Queued:  len(e.queue),
		Dropped: e.dropped.Load(),
		Lines:   e.lines.Load(),
		Packets: e.packets.Load(),
		Errors:  e.errors.Load(),
	}
}

func (e *Emitter) run() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-e.queue:
			e.observe(ev)
		case <-ticker.C:
			e.flush(time.Now())
		case <-e.stop:
			for {
				select {
				case ev := <-e.queue:
					e.observe(ev)
					continue
				default:
				}
				break
			}
			e.flush(time.Now())
			return
		}
	}
}

func (e *Emitter) observe(ev models.Event) {
	service := constants.UnknownService
	if s, ok := ev.Text(dimensionService); ok && s != "" {
		service = s
	}
	level, _ := ev.Text(dimensionLevel)

	line, err := e.encodeSample(&ev, service, level)
	if err != nil {
		e.errors.Add(1)
		metrics.IncEmitterLines("error", 1)
		e.logger.Debugw("Failed to encode metrics line", "event_id", ev.ID, "error", err)
	} else if line != nil {
		e.appendLine(line)
	}

	e.counters[counterKey{dimension: dimensionService, value: service}]++
	if level != "" {
		e.counters[counterKey{dimension: dimensionLevel, value: level}]++
	}
}

func (e *Emitter) encodeSample(ev *models.Event, service, level string) ([]byte, error) {
	var enc lineprotocol.Encoder
	enc.SetPrecision(lineprotocol.Nanosecond)
	enc.StartLine(e.measurement + "_performance")
	// tags in lexical key order
	if level != "" {
		enc.AddTag(dimensionLevel, level)
	}
	enc.AddTag(dimensionService, service)
	if ev.SourceType != "" {
		enc.AddTag("source_type", ev.SourceType)
	}

	fields := 0
	for _, name := range GaugeFields {
		v, ok := ev.Get(name)
		if !ok {
			continue
		}
		f, ok := v.Float()
		if !ok {
			continue
		}
		fv, ok := lineprotocol.FloatValue(f)
		if !ok {
			continue
		}
		enc.AddField(name, fv)
		fields++
	}
	if fields == 0 {
		return nil, nil
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	enc.EndLine(ts)
	if err := enc.Err(); err != nil {
		return nil, err
	}
	return enc.Bytes(), nil
}

func (e *Emitter) encodeCounters(now time.Time) [][]byte {
	keys := make([]counterKey, 0, len(e.counters))
	for k := range e.counters {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].dimension != keys[j].dimension {
			return keys[i].dimension < keys[j].dimension
		}
		return keys[i].value < keys[j].value
	})

	lines := make([][]byte, 0, len(keys))
	for _, k := range keys {
		var enc lineprotocol.Encoder
		enc.SetPrecision(lineprotocol.Nanosecond)
		enc.StartLine(e.measurement + "_events_by_" + k.dimension)
		enc.AddTag(k.dimension, k.value)
		enc.AddField("count", lineprotocol.IntValue(e.counters[k]))
		enc.EndLine(now)
		if err := enc.Err(); err != nil {
			e.errors.Add(1)
			metrics.IncEmitterLines("error", 1)
			continue
		}
		lines = append(lines, enc.Bytes())
	}
	return lines
}

func (e *Emitter) appendLine(line []byte) {
	if len(e.packet) > 0 && len(e.packet)+len(line) > e.maxPacket {
		e.send()
	}
	e.packet = append(e.packet, line...)
	e.packetLines++
}

func (e *Emitter) flush(now time.Time) {
	for _, line := range e.encodeCounters(now) {
		e.appendLine(line)
	}
	for k := range e.counters {
		delete(e.counters, k)
	}
	e.send()
}

func (e *Emitter) send() {
	if len(e.packet) == 0 {
		return
	}
	n := e.packetLines
	if _, err := e.conn.Write(e.packet); err != nil {
		e.errors.Add(1)
		metrics.IncEmitterLines("error", n)
		e.logger.Debugw("Failed to send metrics packet", "lines", n, "error", err)
	} else {
		e.lines.Add(int64(n))
		e.packets.Add(1)
		metrics.IncEmitterLines("sent", n)
	}
	e.packet = e.packet[:0]
	e.packetLines = 0
}
