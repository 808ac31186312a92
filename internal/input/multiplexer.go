package input

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"sluice/internal/broker"
	"sluice/internal/config"
	"sluice/internal/constants"
	"sluice/internal/logger"
	"sluice/pkg/errors"
	"sluice/pkg/models"
	"sluice/pkg/ratelimit"
)

const (
	TransportUDP  = "udp"
	TransportTCP  = "tcp"
	TransportBoth = "both"
)

var defaultSourceTypes = map[string]string{
	config.ProtocolAgent:     models.SourceTypeAgent,
	config.ProtocolSyslog:    models.SourceTypeSyslog,
	config.ProtocolContainer: models.SourceTypeContainer,
	config.ProtocolHTTP:      models.SourceTypeHTTP,
	config.ProtocolJSON:      models.SourceTypeJSON,
	config.ProtocolKafka:     models.SourceTypeKafka,
}

type Options struct {
	RateLimit config.RateLimitConfig
	Kafka     config.KafkaConfig
	// NewConsumer builds the consumer for a kafka input. Defaults to a
	// kafka-go consumer group.
	NewConsumer func(groupID string) broker.Consumer
}

// Multiplexer owns every listener. Listeners run independently; one
// failing or closing never affects the others.
type Multiplexer struct {
	sink    Sink
	opts    Options
	logger  logger.Logger
	limiter *ratelimit.Limiter
	cancel  context.CancelFunc

	mu        sync.RWMutex
	listeners map[string]ListenerHandle
}

func NewMultiplexer(sink Sink, opts Options, log logger.Logger) *Multiplexer {
	m := &Multiplexer{
		sink:      sink,
		opts:      opts,
		logger:    log,
		cancel:    func() {},
		listeners: make(map[string]ListenerHandle),
	}
	if m.opts.NewConsumer == nil {
		m.opts.NewConsumer = func(groupID string) broker.Consumer {
			return broker.NewKafkaConsumer(opts.Kafka, groupID, log.Named("kafka"))
		}
	}
	if opts.RateLimit.Enabled {
		m.limiter = ratelimit.NewLimiter(ratelimit.Config{
			RPS:             opts.RateLimit.RPS,
			Burst:           opts.RateLimit.Burst,
			CleanupInterval: time.Duration(opts.RateLimit.CleanupInterval) * time.Second,
			MaxAge:          time.Duration(opts.RateLimit.MaxAge) * time.Second,
		})
	}
	return m
}

// Start binds every configured input concurrently. If any fails, the ones
// already bound are closed again.
func (m *Multiplexer) Start(ctx context.Context, inputs []config.InputConfig) error {
	if m.limiter != nil {
		limiterCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		m.cancel = cancel
		go m.limiter.Run(limiterCtx)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, in := range inputs {
		g.Go(func() error {
			_, err := m.RegisterListener(gctx, in.Protocol, in)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		_ = m.Close()
		return err
	}
	return nil
}

// RegisterListener binds a listener for protocol and starts serving it.
func (m *Multiplexer) RegisterListener(ctx context.Context, protocol string, cfg config.InputConfig) (ListenerHandle, error) {
	protocol = strings.ToLower(protocol)
	if cfg.Name == "" {
		cfg.Name = protocol
	}
	sourceType := cfg.SourceType
	if sourceType == "" {
		st, ok := defaultSourceTypes[protocol]
		if !ok {
			return nil, errors.ErrValidation.WithMessage(fmt.Sprintf("unknown protocol %q", protocol))
		}
		sourceType = st
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = constants.DefaultIdleTimeout
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = constants.DefaultMaxMessageBytes
	}

	m.mu.Lock()
	if _, exists := m.listeners[cfg.Name]; exists {
		m.mu.Unlock()
		return nil, errors.ErrConflict.WithMessage(fmt.Sprintf("listener %q already registered", cfg.Name))
	}
	// reserve the name while binding
	m.listeners[cfg.Name] = nil
	m.mu.Unlock()

	l, err := m.open(ctx, protocol, sourceType, cfg)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		delete(m.listeners, cfg.Name)
		return nil, fmt.Errorf("failed to start %s listener %q on %s: %w", protocol, cfg.Name, cfg.Address, err)
	}
	m.listeners[cfg.Name] = l
	l.logger.Infow("Listener started",
		"protocol", protocol,
		"address", l.Addr(),
		"source_type", sourceType,
	)
	return l, nil
}

func (m *Multiplexer) open(ctx context.Context, protocol, sourceType string, cfg config.InputConfig) (*listener, error) {
	b := &base{
		name:       cfg.Name,
		protocol:   protocol,
		sourceType: sourceType,
		maxBytes:   cfg.MaxMessageBytes,
		idle:       cfg.IdleTimeout,
		sink:       m.sink,
		logger:     m.logger.Named(cfg.Name),
		startedAt:  time.Now().UTC(),
	}
	l := &listener{base: b}

	var err error
	switch protocol {
	case config.ProtocolAgent:
		err = l.serveTCP(ctx, cfg.Address, lumberjackHandler(b))
	case config.ProtocolJSON:
		err = l.serveTCP(ctx, cfg.Address, lineHandler(b, decodeJSON))
	case config.ProtocolContainer:
		err = l.serveUDP(ctx, cfg.Address, gelfDatagramHandler(b))
	case config.ProtocolHTTP:
		var s *httpServer
		if s, err = listenHTTP(ctx, b, cfg.Address, m.limiter); err == nil {
			l.servers = append(l.servers, s)
		}
	case config.ProtocolKafka:
		l.servers = append(l.servers, startKafka(ctx, b, cfg.Topic, m.opts.NewConsumer(cfg.GroupID)))
	case config.ProtocolSyslog:
		transport := strings.ToLower(cfg.Transport)
		if transport == "" {
			transport = TransportBoth
		}
		if transport == TransportUDP || transport == TransportBoth {
			err = l.serveUDP(ctx, cfg.Address, syslogDatagramHandler(b))
		}
		if err == nil && (transport == TransportTCP || transport == TransportBoth) {
			err = l.serveTCP(ctx, cfg.Address, syslogStreamHandler(b))
		}
	default:
		err = errors.ErrValidation.WithMessage(fmt.Sprintf("unknown protocol %q", protocol))
	}
	if err != nil {
		_ = l.Close()
		return nil, err
	}
	return l, nil
}

// Listeners returns the running listeners ordered by name.
func (m *Multiplexer) Listeners() []ListenerHandle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ListenerHandle, 0, len(m.listeners))
	for _, l := range m.listeners {
		if l != nil {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func (m *Multiplexer) Listener(name string) (ListenerHandle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.listeners[name]
	return l, ok && l != nil
}

func (m *Multiplexer) Stats() []ListenerStats {
	listeners := m.Listeners()
	out := make([]ListenerStats, 0, len(listeners))
	for _, l := range listeners {
		out = append(out, l.Stats())
	}
	return out
}

// Close stops every listener concurrently.
func (m *Multiplexer) Close() error {
	m.cancel()

	m.mu.Lock()
	listeners := make([]ListenerHandle, 0, len(m.listeners))
	for name, l := range m.listeners {
		if l != nil {
			listeners = append(listeners, l)
			delete(m.listeners, name)
		}
	}
	m.mu.Unlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, l := range listeners {
		wg.Add(1)
		go func(l ListenerHandle) {
			defer wg.Done()
			if err := l.Close(); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("listener %s: %w", l.Name(), err))
				mu.Unlock()
			}
		}(l)
	}
	wg.Wait()
	return stderrors.Join(errs...)
}
