package input

import (
	"context"
	stderrors "errors"
	"io"
	"mime"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"sluice/internal/constants"
	apperrors "sluice/pkg/errors"
	"sluice/pkg/middleware"
	"sluice/pkg/models"
	"sluice/pkg/ratelimit"
	"sluice/pkg/tracing"
)

type ingestResponse struct {
	Accepted  int `json:"accepted"`
	Malformed int `json:"malformed"`
	Rejected  int `json:"rejected"`
}

type httpServer struct {
	srv  *http.Server
	ln   net.Listener
	done chan struct{}
}

func listenHTTP(ctx context.Context, b *base, address string, limiter *ratelimit.Limiter) (*httpServer, error) {
	ln, err := bind(ctx, b, "tcp", address, func() (net.Listener, error) {
		return net.Listen("tcp", address)
	})
	if err != nil {
		return nil, err
	}

	s := &httpServer{
		ln: ln,
		srv: &http.Server{
			Handler:           newIngestRouter(b, limiter),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       b.idle,
			ConnState: func(_ net.Conn, state http.ConnState) {
				switch state {
				case http.StateNew:
					b.active.Add(1)
				case http.StateClosed, http.StateHijacked:
					b.active.Add(-1)
				}
			},
		},
		done: make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			b.logger.Errorw("HTTP input stopped", "error", err)
		}
	}()
	return s, nil
}

func (s *httpServer) addr() string { return "http://" + s.ln.Addr().String() }

func (s *httpServer) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.srv.Shutdown(ctx)
	<-s.done
	return err
}

func newIngestRouter(b *base, limiter *ratelimit.Limiter) *gin.Engine {
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(b.logger))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(tracing.GinMiddleware(constants.ServiceName))
	router.Use(middleware.LoggerMiddleware(b.logger, true))
	if limiter != nil {
		router.Use(limiter.Middleware())
	}

	h := &ingestHandler{b: b}
	router.POST("/", h.Ingest)
	router.POST("/ingest", h.Ingest)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

type ingestHandler struct {
	b *base
}

// Ingest accepts a JSON object or array, newline-delimited JSON, or plain
// text with one event per line.
func (h *ingestHandler) Ingest(c *gin.Context) {
	ctx := c.Request.Context()
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, int64(h.b.maxBytes)))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, apperrors.ToErrorResponse(
				apperrors.ErrValidation.WithMessage("request body exceeds max message size")))
			return
		}
		c.JSON(http.StatusBadRequest, apperrors.ToErrorResponse(apperrors.ErrDecode.WithCause(err)))
		return
	}
	h.b.touch(len(body))

	remote := c.ClientIP()
	var resp ingestResponse
	count := func(decoded bool, err error) {
		switch {
		case err != nil:
			resp.Rejected++
		case decoded:
			resp.Accepted++
		default:
			resp.Malformed++
		}
	}

	mediaType, _, _ := mime.ParseMediaType(c.GetHeader("Content-Type"))
	switch mediaType {
	case "application/json":
		events, err := decodeJSONBatch(h.b.sourceType, body)
		if err != nil {
			count(false, h.b.malformed(ctx, body, remote, err))
			break
		}
		for _, ev := range events {
			count(true, h.b.emit(ctx, ev, remote))
		}
	case "application/x-ndjson":
		for _, line := range splitLines(body) {
			count(h.b.decode(ctx, line, remote, decodeJSON))
		}
	default:
		for _, line := range splitLines(body) {
			count(true, h.b.emit(ctx, models.NewEvent(h.b.sourceType, string(line)), remote))
		}
	}

	status := http.StatusAccepted
	if resp.Rejected > 0 && resp.Accepted == 0 && resp.Malformed == 0 {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}
