package emitter

import (
	"bytes"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/line-protocol/v2/lineprotocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sluice/internal/config"
	"sluice/internal/logger"
	"sluice/pkg/models"
)

type packetRecorder struct {
	mu      sync.Mutex
	packets [][]byte
	closed  bool
}

func (r *packetRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packets = append(r.packets, append([]byte(nil), p...))
	return len(p), nil
}

func (r *packetRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *packetRecorder) all() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return bytes.Join(r.packets, nil)
}

type point struct {
	measurement string
	tags        map[string]string
	fields      map[string]lineprotocol.Value
}

func decode(t *testing.T, data []byte) []point {
	t.Helper()
	dec := lineprotocol.NewDecoderWithBytes(data)
	var points []point
	for dec.Next() {
		m, err := dec.Measurement()
		require.NoError(t, err)
		p := point{measurement: string(m), tags: map[string]string{}, fields: map[string]lineprotocol.Value{}}
		for {
			k, v, err := dec.NextTag()
			require.NoError(t, err)
			if k == nil {
				break
			}
			p.tags[string(k)] = string(v)
		}
		for {
			k, v, err := dec.NextField()
			require.NoError(t, err)
			if k == nil {
				break
			}
			p.fields[string(k)] = v
		}
		_, err = dec.Time(lineprotocol.Nanosecond, time.Time{})
		require.NoError(t, err)
		points = append(points, p)
	}
	return points
}

func find(points []point, measurement, tag, value string) (point, bool) {
	for _, p := range points {
		if p.measurement == measurement && p.tags[tag] == value {
			return p, true
		}
	}
	return point{}, false
}

func sample(service, level string, responseTime float64) models.Event {
	return models.NewEventBuilder().
		WithSourceType(models.SourceTypeHTTP).
		WithTimestamp(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)).
		WithString("service", service).
		WithString("level", level).
		WithAttribute("response_time", models.FloatValue(responseTime)).
		WithInt("bytes", 512).
		Build()
}

func TestEmitter_WritesGaugesAndCounters(t *testing.T) {
	rec := &packetRecorder{}
	e := newEmitter(config.MetricsSinkConfig{FlushInterval: time.Hour}, rec, logger.NopLogger())
	e.Start()

	assert.True(t, e.Emit(sample("auth", "error", 150)))
	assert.True(t, e.Emit(sample("auth", "info", 40)))
	assert.True(t, e.Emit(sample("web", "info", 900)))
	require.NoError(t, e.Close())

	points := decode(t, rec.all())

	gauge, ok := find(points, "sluice_performance", "level", "error")
	require.True(t, ok)
	assert.Equal(t, "auth", gauge.tags["service"])
	assert.Equal(t, "http", gauge.tags["source_type"])
	assert.Equal(t, 150.0, gauge.fields["response_time"].FloatV())
	assert.Equal(t, 512.0, gauge.fields["bytes"].FloatV())

	byService, ok := find(points, "sluice_events_by_service", "service", "auth")
	require.True(t, ok)
	assert.Equal(t, int64(2), byService.fields["count"].IntV())

	byLevel, ok := find(points, "sluice_events_by_level", "level", "info")
	require.True(t, ok)
	assert.Equal(t, int64(2), byLevel.fields["count"].IntV())

	assert.True(t, rec.closed)
	assert.Equal(t, int64(7), e.Stats().Lines)
}

func TestEmitter_IgnoresEventsWithoutPerformanceAttributes(t *testing.T) {
	e := newEmitter(config.MetricsSinkConfig{}, &packetRecorder{}, logger.NopLogger())

	ev := models.NewEventBuilder().WithString("service", "auth").WithString("response_time", "fast").Build()
	assert.False(t, e.Emit(ev))
	assert.Equal(t, 0, e.Stats().Queued)
}

func TestEmitter_DropsWhenQueueIsFull(t *testing.T) {
	e := newEmitter(config.MetricsSinkConfig{QueueSize: 2}, &packetRecorder{}, logger.NopLogger())

	assert.True(t, e.Emit(sample("auth", "info", 1)))
	assert.True(t, e.Emit(sample("auth", "info", 2)))
	assert.False(t, e.Emit(sample("auth", "info", 3)))
	assert.Equal(t, int64(1), e.Stats().Dropped)
}

func TestEmitter_SplitsPackets(t *testing.T) {
	rec := &packetRecorder{}
	e := newEmitter(config.MetricsSinkConfig{FlushInterval: time.Hour, MaxPacketSize: 120}, rec, logger.NopLogger())
	e.Start()
	for i := 0; i < 5; i++ {
		e.Emit(sample("auth", "info", float64(i)))
	}
	require.NoError(t, e.Close())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Greater(t, len(rec.packets), 1)
	for _, p := range rec.packets {
		assert.Equal(t, byte('\n'), p[len(p)-1], "packets end on a line boundary")
	}
}

func TestEmitter_SendsOverUDP(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	e, err := New(config.MetricsSinkConfig{Address: pc.LocalAddr().String(), FlushInterval: 10 * time.Millisecond}, logger.NopLogger())
	require.NoError(t, err)
	e.Start()
	defer e.Close()

	require.True(t, e.Emit(sample("auth", "warn", 2500)))

	buf := make([]byte, 2048)
	require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)

	points := decode(t, buf[:n])
	gauge, ok := find(points, "sluice_performance", "service", "auth")
	require.True(t, ok)
	assert.Equal(t, 2500.0, gauge.fields["response_time"].FloatV())
}
