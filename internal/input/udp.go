package input

import (
	"bytes"
	"context"
	stderrors "errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"sluice/internal/constants"
	"sluice/pkg/errors"
	"sluice/pkg/logging"
)

// datagramHandler processes one datagram. data is owned by the handler.
type datagramHandler func(ctx context.Context, data []byte, remote string)

type udpServer struct {
	b       *base
	conn    *net.UDPConn
	handle  datagramHandler
	ctx     context.Context
	cancel  context.CancelFunc
	closing atomic.Bool
	wg      sync.WaitGroup
}

func listenUDP(ctx context.Context, b *base, address string, handle datagramHandler) (*udpServer, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, err
	}
	conn, err := bind(ctx, b, "udp", address, func() (*net.UDPConn, error) {
		return net.ListenUDP("udp", addr)
	})
	if err != nil {
		return nil, err
	}
	if err := conn.SetReadBuffer(constants.UDPSocketBufferBytes); err != nil {
		b.logger.Warnw("Failed to set UDP read buffer size",
			"requested", constants.UDPSocketBufferBytes,
			"error", err,
		)
	}

	srvCtx, cancel := context.WithCancel(logging.WithListener(context.WithoutCancel(ctx), b.name))
	s := &udpServer{b: b, conn: conn, handle: handle, ctx: srvCtx, cancel: cancel}
	s.wg.Add(1)
	go s.readLoop()
	return s, nil
}

func (s *udpServer) addr() string { return "udp://" + s.conn.LocalAddr().String() }

// readLoop polls with a short read deadline so that close is noticed even
// when no datagrams arrive.
func (s *udpServer) readLoop() {
	defer s.wg.Done()
	buf := make([]byte, constants.MaxDatagramBytes)

	for {
		if s.closing.Load() {
			return
		}
		if err := s.conn.SetReadDeadline(time.Now().Add(constants.UDPReadDeadline)); err != nil {
			if s.closing.Load() {
				return
			}
			s.b.logger.Debugw("Failed to set read deadline", "error", err)
		}

		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if stderrors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if s.closing.Load() || stderrors.Is(err, net.ErrClosed) {
				return
			}
			s.b.logger.Warnw("UDP read error", "error", err)
			continue
		}
		if n == 0 {
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		s.b.touch(n)
		s.dispatch(data, addr.String())
	}
}

func (s *udpServer) dispatch(data []byte, remote string) {
	defer func() {
		if r := recover(); r != nil {
			s.b.logger.ErrorwCtx(s.ctx, "Panic recovered in datagram handler",
				"remote_addr", remote,
				"error", errors.RecoverPanic(r),
			)
		}
	}()
	s.handle(s.ctx, data, remote)
}

func (s *udpServer) close() error {
	s.closing.Store(true)
	s.cancel()
	err := s.conn.Close()
	s.wg.Wait()
	if stderrors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// syslogDatagramHandler treats each datagram as one message (RFC 5426).
func syslogDatagramHandler(b *base) datagramHandler {
	return func(ctx context.Context, data []byte, remote string) {
		data = bytes.TrimRight(data, "\r\n\x00")
		if len(bytes.TrimSpace(data)) == 0 {
			return
		}
		_, _ = b.decode(ctx, data, remote, decodeSyslog)
	}
}

func gelfDatagramHandler(b *base) datagramHandler {
	chunks := newGELFAssembler(b.maxBytes)
	return func(ctx context.Context, data []byte, remote string) {
		if isGELFChunk(data) {
			whole, complete, err := chunks.add(data)
			if err != nil {
				_ = b.malformed(ctx, data, remote, err)
				return
			}
			if !complete {
				return
			}
			data = whole
		}

		doc, err := decompressGELF(data, b.maxBytes)
		if err != nil {
			_ = b.malformed(ctx, data, remote, err)
			return
		}
		_, _ = b.decode(ctx, doc, remote, decodeGELF)
	}
}
