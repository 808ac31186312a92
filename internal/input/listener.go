package input

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"sluice/internal/logger"
	"sluice/pkg/errors"
	"sluice/pkg/logging"
	"sluice/pkg/metrics"
	"sluice/pkg/models"
)

// Sink receives decoded events. Submit may block to apply backpressure.
type Sink interface {
	Submit(ctx context.Context, ev models.Event) error
}

type SinkFunc func(ctx context.Context, ev models.Event) error

func (f SinkFunc) Submit(ctx context.Context, ev models.Event) error { return f(ctx, ev) }

// ListenerStats are the per-source counters exposed by the admin API.
type ListenerStats struct {
	Name              string    `json:"name"`
	Protocol          string    `json:"protocol"`
	Address           string    `json:"address"`
	SourceType        string    `json:"source_type"`
	Received          int64     `json:"received"`
	DecodeFailures    int64     `json:"decode_failures"`
	Rejected          int64     `json:"rejected"`
	Bytes             int64     `json:"bytes"`
	ActiveConnections int64     `json:"active_connections"`
	StartedAt         time.Time `json:"started_at"`
	LastActivity      time.Time `json:"last_activity,omitempty"`
}

type ListenerHandle interface {
	Name() string
	Protocol() string
	Addr() string
	Stats() ListenerStats
	Close() error
}

// server is one bound endpoint of a listener. Syslog may run two.
type server interface {
	addr() string
	close() error
}

// base carries what every protocol shares: identity, counters and the
// hand-off to the sink.
type base struct {
	name       string
	protocol   string
	sourceType string
	maxBytes   int
	idle       time.Duration
	sink       Sink
	logger     logger.Logger
	startedAt  time.Time

	received     atomic.Int64
	failures     atomic.Int64
	rejected     atomic.Int64
	bytes        atomic.Int64
	active       atomic.Int64
	lastActivity atomic.Int64
}

func (b *base) touch(n int) {
	b.bytes.Add(int64(n))
	b.lastActivity.Store(time.Now().UnixNano())
}

// emit stamps listener metadata on ev and submits it. The sink's error is
// counted and returned; stream listeners ignore it.
func (b *base) emit(ctx context.Context, ev models.Event, remote string) error {
	if ev.SourceType == "" {
		ev.SourceType = b.sourceType
	}
	if ev.Metadata == nil {
		ev.Metadata = make(map[string]string)
	}
	ev.Metadata[models.MetaListener] = b.name
	ev.Metadata[models.MetaProtocol] = b.protocol
	ev.Metadata[models.MetaIngestedAt] = ev.IngestedAt.Format(time.RFC3339Nano)
	if remote != "" {
		ev.Metadata[models.MetaRemoteAddr] = remote
	}

	b.received.Add(1)
	metrics.IncEventsIngested(b.name, b.protocol)

	if err := b.sink.Submit(ctx, ev); err != nil {
		b.rejected.Add(1)
		reason := "submit_failed"
		if errors.IsFatalValidation(err) {
			reason = "fatal_validation"
		}
		metrics.IncEventsDropped("input", reason)
		if !stderrors.Is(err, context.Canceled) {
			b.logger.DebugwCtx(logging.WithEventID(ctx, ev.ID), "Event not accepted by pipeline",
				"remote_addr", remote,
				"error", err,
			)
		}
		return err
	}
	return nil
}

// malformed emits an event carrying the undecodable payload. Decode errors
// are never fatal to the listener.
func (b *base) malformed(ctx context.Context, raw []byte, remote string, cause error) error {
	return b.emit(ctx, b.malformedEvent(ctx, raw, remote, cause), remote)
}

func (b *base) malformedEvent(ctx context.Context, raw []byte, remote string, cause error) models.Event {
	b.failures.Add(1)
	metrics.IncDecodeFailure(b.name, b.protocol)
	b.logger.DebugwCtx(ctx, "Failed to decode payload",
		"remote_addr", remote,
		"bytes", len(raw),
		"error", errors.ErrDecode.WithCause(cause),
	)

	ev := models.NewEvent(b.sourceType, strings.ToValidUTF8(string(raw), "\uFFFD"))
	ev.AddTag(models.TagMalformed)
	ev.AddTag(b.protocol + "_decode_failure")
	ev.Set("decode_error", models.StringValue(cause.Error()))
	return ev
}

func (b *base) stats(addr string) ListenerStats {
	s := ListenerStats{
		Name:              b.name,
		Protocol:          b.protocol,
		Address:           addr,
		SourceType:        b.sourceType,
		Received:          b.received.Load(),
		DecodeFailures:    b.failures.Load(),
		Rejected:          b.rejected.Load(),
		Bytes:             b.bytes.Load(),
		ActiveConnections: b.active.Load(),
		StartedAt:         b.startedAt,
	}
	if ns := b.lastActivity.Load(); ns > 0 {
		s.LastActivity = time.Unix(0, ns).UTC()
	}
	return s
}

type listener struct {
	*base
	servers   []server
	closeOnce sync.Once
	closeErr  error
}

func (l *listener) serveTCP(ctx context.Context, address string, handle connHandler) error {
	s, err := listenTCP(ctx, l.base, address, handle)
	if err != nil {
		return err
	}
	l.servers = append(l.servers, s)
	return nil
}

func (l *listener) serveUDP(ctx context.Context, address string, handle datagramHandler) error {
	s, err := listenUDP(ctx, l.base, address, handle)
	if err != nil {
		return err
	}
	l.servers = append(l.servers, s)
	return nil
}

func (l *listener) Name() string     { return l.name }
func (l *listener) Protocol() string { return l.protocol }

func (l *listener) Addr() string {
	addrs := make([]string, 0, len(l.servers))
	for _, s := range l.servers {
		addrs = append(addrs, s.addr())
	}
	return strings.Join(addrs, ",")
}

func (l *listener) Stats() ListenerStats { return l.base.stats(l.Addr()) }

func (l *listener) Close() error {
	l.closeOnce.Do(func() {
		var errs []error
		for _, s := range l.servers {
			if err := s.close(); err != nil {
				errs = append(errs, err)
			}
		}
		l.closeErr = stderrors.Join(errs...)
		l.logger.Infow("Listener closed", "received", l.received.Load())
	})
	return l.closeErr
}
