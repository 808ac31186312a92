package input

import (
	"bufio"
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"net"
	"sync"
	"time"

	"sluice/internal/constants"
	"sluice/pkg/errors"
	"sluice/pkg/logging"
	"sluice/pkg/metrics"
	"sluice/pkg/models"
	"sluice/pkg/retry"
)

const tagOversized = "oversized"

type decodeFunc func(sourceType string, payload []byte) (models.Event, error)

// connHandler serves one connection until it returns. io.EOF and idle
// timeouts are a normal end of session.
type connHandler func(ctx context.Context, conn net.Conn, remote string) error

func bindPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:     constants.BindRetryAttempts,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Multiplier:      2.0,
	}
}

func bind[T any](ctx context.Context, b *base, network, address string, listen func() (T, error)) (T, error) {
	var out T
	err := retry.RetryWithCallback(ctx, bindPolicy(), func() error {
		var err error
		out, err = listen()
		return err
	}, func(attempt int, err error, nextDelay time.Duration) {
		b.logger.Warnw("Failed to bind listener, retrying",
			"network", network,
			"address", address,
			"attempt", attempt,
			"next_delay", nextDelay,
			"error", err,
		)
	})
	return out, err
}

// idleConn extends the read deadline before every read, so a client that
// stays silent for longer than idle is disconnected.
type idleConn struct {
	net.Conn
	idle time.Duration
}

func (c *idleConn) Read(p []byte) (int, error) {
	if c.idle > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.idle)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(p)
}

type tcpServer struct {
	b      *base
	ln     net.Listener
	handle connHandler
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

func listenTCP(ctx context.Context, b *base, address string, handle connHandler) (*tcpServer, error) {
	ln, err := bind(ctx, b, "tcp", address, func() (net.Listener, error) {
		return net.Listen("tcp", address)
	})
	if err != nil {
		return nil, err
	}

	srvCtx, cancel := context.WithCancel(logging.WithListener(context.WithoutCancel(ctx), b.name))
	s := &tcpServer{
		b:      b,
		ln:     ln,
		handle: handle,
		ctx:    srvCtx,
		cancel: cancel,
		conns:  make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

func (s *tcpServer) addr() string { return "tcp://" + s.ln.Addr().String() }

func (s *tcpServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if stderrors.Is(err, net.ErrClosed) || s.ctx.Err() != nil {
				return
			}
			s.b.logger.Warnw("Failed to accept connection", "error", err)
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *tcpServer) serve(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	s.b.active.Add(1)
	defer func() {
		if r := recover(); r != nil {
			s.b.logger.ErrorwCtx(s.ctx, "Panic recovered in connection handler",
				"remote_addr", remote,
				"error", errors.RecoverPanic(r),
			)
		}
		_ = conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		s.b.active.Add(-1)
		s.wg.Done()
	}()

	s.b.logger.DebugwCtx(s.ctx, "Connection opened", "remote_addr", remote)
	err := s.handle(s.ctx, &idleConn{Conn: conn, idle: s.b.idle}, remote)

	var netErr net.Error
	switch {
	case err == nil, stderrors.Is(err, io.EOF), stderrors.Is(err, net.ErrClosed), s.ctx.Err() != nil:
		s.b.logger.DebugwCtx(s.ctx, "Connection closed", "remote_addr", remote)
	case stderrors.As(err, &netErr) && netErr.Timeout():
		s.b.logger.DebugwCtx(s.ctx, "Closing idle connection",
			"remote_addr", remote,
			"idle_timeout", s.b.idle,
		)
	default:
		s.b.failures.Add(1)
		metrics.IncDecodeFailure(s.b.name, s.b.protocol)
		s.b.logger.WarnwCtx(s.ctx, "Dropping connection after stream error",
			"remote_addr", remote,
			"error", err,
		)
	}
}

func (s *tcpServer) close() error {
	s.cancel()
	err := s.ln.Close()
	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	if stderrors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// lineHandler decodes one event per newline-delimited line.
func lineHandler(b *base, decode decodeFunc) connHandler {
	return func(ctx context.Context, conn net.Conn, remote string) error {
		r := bufio.NewReaderSize(conn, constants.DefaultReadBufferBytes)
		for {
			line, err := readLine(r, b.maxBytes)
			if b.skipOversized(ctx, err, remote) {
				continue
			}
			if err != nil {
				return err
			}
			b.touch(len(line) + 1)
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			_, _ = b.decode(ctx, line, remote, decode)
		}
	}
}

func syslogStreamHandler(b *base) connHandler {
	return func(ctx context.Context, conn net.Conn, remote string) error {
		r := bufio.NewReaderSize(conn, constants.DefaultReadBufferBytes)
		for {
			frame, err := readSyslogFrame(r, b.maxBytes)
			if b.skipOversized(ctx, err, remote) {
				continue
			}
			if err != nil {
				return err
			}
			b.touch(len(frame))
			if len(bytes.TrimSpace(frame)) == 0 {
				continue
			}
			_, _ = b.decode(ctx, frame, remote, decodeSyslog)
		}
	}
}

// skipOversized emits a truncated malformed event for a line that was too
// long. Newline framing resynchronises on the next line, so the connection
// stays open.
func (b *base) skipOversized(ctx context.Context, err error, remote string) bool {
	var oversized *oversizedLineError
	if !stderrors.As(err, &oversized) {
		return false
	}
	b.touch(oversized.size)
	ev := b.malformedEvent(ctx, oversized.prefix, remote, err)
	ev.AddTag(tagOversized)
	ev.Set("original_bytes", models.IntValue(int64(oversized.size)))
	_ = b.emit(ctx, ev, remote)
	return true
}

func lumberjackHandler(b *base) connHandler {
	return func(ctx context.Context, conn net.Conn, remote string) error {
		s := &lumberjackSession{b: b, ack: conn, remote: remote}
		return s.run(ctx, bufio.NewReaderSize(conn, constants.DefaultReadBufferBytes))
	}
}

// decode reports whether the payload decoded, along with the sink's error.
func (b *base) decode(ctx context.Context, payload []byte, remote string, decode decodeFunc) (bool, error) {
	ev, err := decode(b.sourceType, payload)
	if err != nil {
		return false, b.malformed(ctx, payload, remote, err)
	}
	return true, b.emit(ctx, ev, remote)
}
