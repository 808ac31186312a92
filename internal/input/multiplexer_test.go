package input

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sluice/internal/broker"
	"sluice/internal/config"
	"sluice/internal/logger"
	"sluice/pkg/errors"
	"sluice/pkg/models"
)

type collector struct {
	mu     sync.Mutex
	events []models.Event
	reject error
}

func (c *collector) Submit(_ context.Context, ev models.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reject != nil {
		return c.reject
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *collector) snapshot() []models.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Event(nil), c.events...)
}

func (c *collector) waitFor(t *testing.T, n int) []models.Event {
	t.Helper()
	require.Eventually(t, func() bool { return len(c.snapshot()) >= n }, 3*time.Second, 10*time.Millisecond,
		"expected %d events", n)
	return c.snapshot()
}

func newTestMultiplexer(t *testing.T, sink Sink, opts Options) *Multiplexer {
	t.Helper()
	m := NewMultiplexer(sink, opts, logger.NopLogger())
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func register(t *testing.T, m *Multiplexer, cfg config.InputConfig) ListenerHandle {
	t.Helper()
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:0"
	}
	h, err := m.RegisterListener(context.Background(), cfg.Protocol, cfg)
	require.NoError(t, err)
	return h
}

// hostPort extracts the bound address of the first server with the given
// scheme.
func hostPort(t *testing.T, h ListenerHandle, scheme string) string {
	t.Helper()
	for _, addr := range strings.Split(h.Addr(), ",") {
		if strings.HasPrefix(addr, scheme+"://") {
			return strings.TrimPrefix(addr, scheme+"://")
		}
	}
	t.Fatalf("no %s address in %q", scheme, h.Addr())
	return ""
}

func TestJSONListener_MalformedLineDoesNotBlockStream(t *testing.T) {
	sink := &collector{}
	m := newTestMultiplexer(t, sink, Options{})
	h := register(t, m, config.InputConfig{Name: "json-in", Protocol: config.ProtocolJSON})

	conn, err := net.Dial("tcp", hostPort(t, h, "tcp"))
	require.NoError(t, err)
	defer conn.Close()

	_, err = io.WriteString(conn, "{\"message\":\"first\"}\n{broken\n\n{\"message\":\"second\",\"service\":\"auth\"}\n")
	require.NoError(t, err)

	events := sink.waitFor(t, 3)
	assert.Equal(t, "first", events[0].RawMessage)

	assert.True(t, events[1].HasTag(models.TagMalformed))
	assert.True(t, events[1].HasTag("json_decode_failure"))
	assert.True(t, events[1].Has("decode_error"))
	assert.Equal(t, "{broken", events[1].RawMessage)

	assert.Equal(t, "second", events[2].RawMessage)
	assert.Equal(t, models.SourceTypeJSON, events[2].SourceType)
	assert.Equal(t, "json-in", events[2].Metadata[models.MetaListener])
	assert.Equal(t, config.ProtocolJSON, events[2].Metadata[models.MetaProtocol])
	assert.NotEmpty(t, events[2].Metadata[models.MetaRemoteAddr])

	stats := h.Stats()
	assert.Equal(t, int64(3), stats.Received)
	assert.Equal(t, int64(1), stats.DecodeFailures)
	assert.Equal(t, int64(1), stats.ActiveConnections)
}

func TestJSONListener_ConcurrentConnections(t *testing.T) {
	sink := &collector{}
	m := newTestMultiplexer(t, sink, Options{})
	h := register(t, m, config.InputConfig{Name: "json-in", Protocol: config.ProtocolJSON})
	addr := hostPort(t, h, "tcp")

	const clients, perClient = 5, 20
	var wg sync.WaitGroup
	for c := 0; c < clients; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			conn, err := net.Dial("tcp", addr)
			if !assert.NoError(t, err) {
				return
			}
			defer conn.Close()
			w := bufio.NewWriter(conn)
			for i := 0; i < perClient; i++ {
				fmt.Fprintf(w, "{\"message\":\"client %d line %d\"}\n", c, i)
			}
			assert.NoError(t, w.Flush())
		}(c)
	}
	wg.Wait()

	sink.waitFor(t, clients*perClient)
}

func TestTCPListener_ClosesIdleConnections(t *testing.T) {
	sink := &collector{}
	m := newTestMultiplexer(t, sink, Options{})
	h := register(t, m, config.InputConfig{
		Name:        "json-in",
		Protocol:    config.ProtocolJSON,
		IdleTimeout: 50 * time.Millisecond,
	})

	conn, err := net.Dial("tcp", hostPort(t, h, "tcp"))
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF, "server closes the idle connection")

	assert.Eventually(t, func() bool { return h.Stats().ActiveConnections == 0 }, time.Second, 10*time.Millisecond)
}

func TestTCPListener_OversizedLineKeepsConnection(t *testing.T) {
	sink := &collector{}
	m := newTestMultiplexer(t, sink, Options{})
	h := register(t, m, config.InputConfig{Name: "json-in", Protocol: config.ProtocolJSON, MaxMessageBytes: 16})

	conn, err := net.Dial("tcp", hostPort(t, h, "tcp"))
	require.NoError(t, err)
	defer conn.Close()
	_, err = io.WriteString(conn, strings.Repeat("x", 64)+"\n{\"message\":\"ok\"}\n")
	require.NoError(t, err)

	events := sink.waitFor(t, 2)
	oversized, next := events[0], events[1]

	assert.True(t, oversized.HasTag(models.TagMalformed))
	assert.True(t, oversized.HasTag("oversized"))
	assert.Equal(t, strings.Repeat("x", 16), oversized.RawMessage)
	assert.Equal(t, "65", text(t, oversized, "original_bytes"))

	assert.Equal(t, "ok", next.RawMessage)
	assert.False(t, next.HasTag(models.TagMalformed))
	assert.Equal(t, int64(1), h.Stats().DecodeFailures)
	assert.Equal(t, int64(1), h.Stats().ActiveConnections, "connection stays open")
}

func TestSyslogListener_OctetCountOverflowDropsConnection(t *testing.T) {
	sink := &collector{}
	m := newTestMultiplexer(t, sink, Options{})
	h := register(t, m, config.InputConfig{Name: "syslog", Protocol: config.ProtocolSyslog, MaxMessageBytes: 16})

	conn, err := net.Dial("tcp", hostPort(t, h, "tcp"))
	require.NoError(t, err)
	defer conn.Close()
	_, err = io.WriteString(conn, "100 <13>too long")
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF, "octet counted framing cannot resynchronise")
	assert.Empty(t, sink.snapshot())
}

func TestSyslogListener_UDPAndTCP(t *testing.T) {
	sink := &collector{}
	m := newTestMultiplexer(t, sink, Options{})
	h := register(t, m, config.InputConfig{Name: "syslog", Protocol: config.ProtocolSyslog})

	udp, err := net.Dial("udp", hostPort(t, h, "udp"))
	require.NoError(t, err)
	defer udp.Close()
	_, err = udp.Write([]byte("<38>Jan  2 15:04:05 web-1 sshd[1234]: Failed password for root\n"))
	require.NoError(t, err)

	events := sink.waitFor(t, 1)
	assert.Equal(t, "Failed password for root", events[0].RawMessage)
	assert.Equal(t, "auth", text(t, events[0], "facility"))
	assert.Equal(t, "sshd", text(t, events[0], "app_name"))

	tcp, err := net.Dial("tcp", hostPort(t, h, "tcp"))
	require.NoError(t, err)
	defer tcp.Close()
	msg := "<165>1 2024-01-01T00:00:00Z host app - - - octet counted"
	_, err = fmt.Fprintf(tcp, "%d %s<13>no pri here\nnot syslog\n", len(msg), msg)
	require.NoError(t, err)

	events = sink.waitFor(t, 4)
	assert.Equal(t, "octet counted", events[1].RawMessage)
	assert.Equal(t, "notice", text(t, events[1], "severity"))
	assert.Equal(t, "no pri here", events[2].RawMessage)
	assert.True(t, events[3].HasTag("syslog_decode_failure"))
}

func TestContainerListener_GELF(t *testing.T) {
	sink := &collector{}
	m := newTestMultiplexer(t, sink, Options{})
	h := register(t, m, config.InputConfig{Name: "docker", Protocol: config.ProtocolContainer})

	conn, err := net.Dial("udp", hostPort(t, h, "udp"))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(gelfDoc))
	require.NoError(t, err)
	half := len(gelfDoc) / 2
	_, err = conn.Write(gelfChunk("chunk-01", 0, 2, gelfDoc[:half]))
	require.NoError(t, err)
	_, err = conn.Write(gelfChunk("chunk-01", 1, 2, gelfDoc[half:]))
	require.NoError(t, err)
	_, err = conn.Write([]byte(`{"short_message":`))
	require.NoError(t, err)

	events := sink.waitFor(t, 3)
	for _, ev := range events[:2] {
		assert.Equal(t, models.SourceTypeContainer, ev.SourceType)
		assert.Equal(t, "payment-api", text(t, ev, "container_name"))
	}
	assert.True(t, events[2].HasTag("container_decode_failure"))
}

func TestAgentListener_AcksWindow(t *testing.T) {
	sink := &collector{}
	m := newTestMultiplexer(t, sink, Options{})
	h := register(t, m, config.InputConfig{Name: "beats", Protocol: config.ProtocolAgent})

	conn, err := net.Dial("tcp", hostPort(t, h, "tcp"))
	require.NoError(t, err)
	defer conn.Close()

	var stream bytes.Buffer
	stream.Write(ljWindowFrame(3))
	stream.Write(ljJSONFrame(1, `{"message":"one","fields":{"env":"prod"}}`))
	stream.Write(ljCompressedFrame(t,
		ljJSONFrame(2, `{"message":"two"}`),
		ljJSONFrame(3, `not json`),
	))
	_, err = conn.Write(stream.Bytes())
	require.NoError(t, err)

	ack := make([]byte, 6)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = io.ReadFull(conn, ack)
	require.NoError(t, err)
	assert.Equal(t, []byte{ljVersion2, ljAck}, ack[:2])
	assert.Equal(t, uint32(3), binary.BigEndian.Uint32(ack[2:]))

	events := sink.waitFor(t, 3)
	assert.Equal(t, "one", events[0].RawMessage)
	assert.Equal(t, "prod", text(t, events[0], "fields_env"))
	assert.Equal(t, models.SourceTypeAgent, events[0].SourceType)
	assert.Equal(t, "two", events[1].RawMessage)
	assert.True(t, events[2].HasTag("agent_decode_failure"))
}

func TestHTTPListener(t *testing.T) {
	sink := &collector{}
	m := newTestMultiplexer(t, sink, Options{})
	h := register(t, m, config.InputConfig{Name: "http-in", Protocol: config.ProtocolHTTP, MaxMessageBytes: 1024})
	url := "http://" + hostPort(t, h, "http") + "/ingest"

	tests := []struct {
		name        string
		contentType string
		body        string
		status      int
		want        ingestResponse
	}{
		{
			name:        "json object",
			contentType: "application/json",
			body:        `{"message":"single"}`,
			status:      http.StatusAccepted,
			want:        ingestResponse{Accepted: 1},
		},
		{
			name:        "json array",
			contentType: "application/json; charset=utf-8",
			body:        `[{"message":"a"},{"message":"b"}]`,
			status:      http.StatusAccepted,
			want:        ingestResponse{Accepted: 2},
		},
		{
			name:        "invalid json",
			contentType: "application/json",
			body:        `{"message":`,
			status:      http.StatusAccepted,
			want:        ingestResponse{Malformed: 1},
		},
		{
			name:        "plain text lines",
			contentType: "text/plain",
			body:        "line one\n\nline two\n",
			status:      http.StatusAccepted,
			want:        ingestResponse{Accepted: 2},
		},
		{
			name:        "too large",
			contentType: "text/plain",
			body:        strings.Repeat("x", 2048),
			status:      http.StatusRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(url, tt.contentType, strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.status != http.StatusAccepted {
				return
			}
			var got ingestResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
			assert.Equal(t, tt.want, got)
		})
	}

	events := sink.snapshot()
	require.Len(t, events, 6)
	assert.Equal(t, models.SourceTypeHTTP, events[0].SourceType)
	assert.True(t, events[3].HasTag("http_decode_failure"))
	assert.Equal(t, "line two", events[5].RawMessage)
}

func TestHTTPListener_RejectedBySink(t *testing.T) {
	sink := &collector{reject: errors.ErrQueueFull}
	m := newTestMultiplexer(t, sink, Options{})
	h := register(t, m, config.InputConfig{Name: "http-in", Protocol: config.ProtocolHTTP})

	resp, err := http.Post("http://"+hostPort(t, h, "http")+"/", "text/plain", strings.NewReader("hello"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, int64(1), h.Stats().Rejected)
}

type fakeConsumer struct {
	messages []broker.Message
	closed   chan struct{}
	service  string
}

func (f *fakeConsumer) Consume(ctx context.Context, _ string, handler broker.HandlerFunc) error {
	for _, msg := range f.messages {
		if err := handler(ctx, msg); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error {
	close(f.closed)
	return nil
}

func (f *fakeConsumer) SetServiceName(name string) { f.service = name }

func TestKafkaListener(t *testing.T) {
	sink := &collector{}
	consumer := &fakeConsumer{
		closed: make(chan struct{}),
		messages: []broker.Message{
			{Topic: "logs", Partition: 0, Offset: 1, Value: []byte(`{"message":"from kafka","service":"billing"}`)},
			{Topic: "logs", Partition: 0, Offset: 2, Value: []byte("plain text record")},
			{Topic: "logs", Partition: 0, Offset: 3, Value: []byte("   ")},
			{Topic: "logs", Partition: 1, Offset: 4, Value: []byte(`{"message":`)},
		},
	}
	m := newTestMultiplexer(t, sink, Options{
		NewConsumer: func(groupID string) broker.Consumer { return consumer },
	})
	h := register(t, m, config.InputConfig{Name: "kafka-in", Protocol: config.ProtocolKafka, Topic: "logs"})
	assert.Equal(t, "kafka://logs", h.Addr())

	events := sink.waitFor(t, 3)
	assert.Equal(t, "from kafka", events[0].RawMessage)
	assert.Equal(t, "logs/0@1", events[0].Metadata[models.MetaRemoteAddr])
	assert.Equal(t, "plain text record", events[1].RawMessage)
	assert.True(t, events[2].HasTag("kafka_decode_failure"))
	assert.Equal(t, "kafka-in", consumer.service)

	require.NoError(t, h.Close())
	select {
	case <-consumer.closed:
	case <-time.After(time.Second):
		t.Fatal("consumer not closed")
	}
}

func TestMultiplexer_Registry(t *testing.T) {
	m := newTestMultiplexer(t, &collector{}, Options{})

	err := m.Start(context.Background(), []config.InputConfig{
		{Name: "b-json", Protocol: config.ProtocolJSON, Address: "127.0.0.1:0"},
		{Name: "a-syslog", Protocol: config.ProtocolSyslog, Address: "127.0.0.1:0", Transport: "udp"},
	})
	require.NoError(t, err)

	listeners := m.Listeners()
	require.Len(t, listeners, 2)
	assert.Equal(t, "a-syslog", listeners[0].Name())
	assert.True(t, strings.HasPrefix(listeners[0].Addr(), "udp://"))

	h, ok := m.Listener("b-json")
	require.True(t, ok)
	assert.Equal(t, config.ProtocolJSON, h.Protocol())

	_, err = m.RegisterListener(context.Background(), config.ProtocolJSON,
		config.InputConfig{Name: "b-json", Address: "127.0.0.1:0"})
	assert.ErrorIs(t, err, errors.ErrConflict)

	_, err = m.RegisterListener(context.Background(), "carrier-pigeon",
		config.InputConfig{Name: "x", Address: "127.0.0.1:0"})
	assert.True(t, errors.IsValidation(err))

	stats := m.Stats()
	assert.Len(t, stats, 2)

	require.NoError(t, m.Close())
	assert.Empty(t, m.Listeners())
}

func TestMultiplexer_StartFailureClosesBoundListeners(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m := newTestMultiplexer(t, &collector{}, Options{})
	err = m.Start(ctx, []config.InputConfig{
		{Name: "ok", Protocol: config.ProtocolJSON, Address: "127.0.0.1:0"},
		{Name: "clash", Protocol: config.ProtocolJSON, Address: taken.Addr().String()},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clash")
	assert.Empty(t, m.Listeners())
}
