package admin

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"sluice/internal/input"
	"sluice/internal/logger"
	"sluice/internal/output"
	"sluice/internal/pipeline"
	"sluice/pkg/errors"
	"sluice/pkg/health"
)

const defaultDrainTimeout = 30 * time.Second

type DestinationRegistry interface {
	Destinations() []*output.Destination
	Destination(name string) (*output.Destination, bool)
}

type ListenerRegistry interface {
	Stats() []input.ListenerStats
}

type PipelineStats interface {
	Stats() []pipeline.SourceStats
	QueueDepth() int
}

// SourcesResponse combines listener counters with the pipeline's per
// source_type counters.
type SourcesResponse struct {
	Listeners   []input.ListenerStats  `json:"listeners"`
	SourceTypes []pipeline.SourceStats `json:"source_types"`
	QueueDepth  int                    `json:"queue_depth"`
}

type FailuresResponse struct {
	Failures []output.FailedBatch `json:"failures"`
	Count    int                  `json:"count"`
}

type Handler struct {
	destinations DestinationRegistry
	listeners    ListenerRegistry
	pipeline     PipelineStats
	failures     output.FailureIndex
	health       *health.CheckerRegistry
	logger       logger.Logger
}

func NewHandler(destinations DestinationRegistry, listeners ListenerRegistry, p PipelineStats, failures output.FailureIndex, healthRegistry *health.CheckerRegistry, log logger.Logger) *Handler {
	if healthRegistry == nil {
		healthRegistry = health.NewCheckerRegistry()
	}
	return &Handler{
		destinations: destinations,
		listeners:    listeners,
		pipeline:     p,
		failures:     failures,
		health:       healthRegistry,
		logger:       log,
	}
}

func (h *Handler) HandleError(c *gin.Context, err error) {
	status := errors.ToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	} else {
		h.logger.DebugwCtx(c.Request.Context(), "Request rejected", "error", err, "path", c.Request.URL.Path)
	}
	c.JSON(status, errors.ToErrorResponse(err))
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		destinations := v1.Group("/destinations")
		{
			destinations.GET("", h.ListDestinations)
			destinations.GET("/:name", h.GetDestination)
			destinations.POST("/:name/drain", h.DrainDestination)
			destinations.POST("/:name/enable", h.EnableDestination)
		}

		v1.GET("/sources", h.ListSources)
		v1.GET("/failures", h.ListFailures)
	}

	router.GET("/health", h.Health)
}

// ListDestinations godoc
// @Summary      List destinations
// @Description  Queue depth, delivery and failure counters for every destination
// @Tags         destinations
// @Produce      json
// @Success      200  {array}   output.Stats
// @Router       /api/v1/destinations [get]
func (h *Handler) ListDestinations(c *gin.Context) {
	dests := h.destinations.Destinations()
	out := make([]output.Stats, 0, len(dests))
	for _, d := range dests {
		out = append(out, d.Stats())
	}
	c.JSON(http.StatusOK, out)
}

// GetDestination godoc
// @Summary      Get a destination
// @Tags         destinations
// @Produce      json
// @Param        name  path      string  true  "Destination name"
// @Success      200   {object}  output.Stats
// @Failure      404   {object}  errors.ErrorResponse
// @Router       /api/v1/destinations/{name} [get]
func (h *Handler) GetDestination(c *gin.Context) {
	d, err := h.destination(c.Param("name"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, d.Stats())
}

// DrainDestination godoc
// @Summary      Drain and disable a destination
// @Description  Stops routing to the destination and waits until its queue is flushed
// @Tags         destinations
// @Produce      json
// @Param        name     path      string  true   "Destination name"
// @Param        timeout  query     string  false  "Maximum wait, e.g. 30s"
// @Success      200      {object}  output.Stats
// @Failure      400      {object}  errors.ErrorResponse
// @Failure      404      {object}  errors.ErrorResponse
// @Failure      408      {object}  errors.ErrorResponse
// @Router       /api/v1/destinations/{name}/drain [post]
func (h *Handler) DrainDestination(c *gin.Context) {
	d, err := h.destination(c.Param("name"))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	timeout := defaultDrainTimeout
	if raw := c.Query("timeout"); raw != "" {
		timeout, err = time.ParseDuration(raw)
		if err != nil || timeout <= 0 {
			h.HandleError(c, errors.ErrValidation.WithMessage(fmt.Sprintf("invalid timeout %q", raw)))
			return
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()
	if err := d.Drain(ctx); err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) {
			err = errors.ErrTimeout.WithCause(err).WithDetail("pending", d.Stats().Pending)
		}
		h.HandleError(c, err)
		return
	}

	h.logger.InfowCtx(c.Request.Context(), "Destination drained via admin API", "destination", d.Name())
	c.JSON(http.StatusOK, d.Stats())
}

// EnableDestination godoc
// @Summary      Re-enable a destination
// @Tags         destinations
// @Produce      json
// @Param        name  path      string  true  "Destination name"
// @Success      200   {object}  output.Stats
// @Failure      404   {object}  errors.ErrorResponse
// @Router       /api/v1/destinations/{name}/enable [post]
func (h *Handler) EnableDestination(c *gin.Context) {
	d, err := h.destination(c.Param("name"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	d.Enable()
	c.JSON(http.StatusOK, d.Stats())
}

// ListSources godoc
// @Summary      Per-source counters
// @Description  Listener counters and per source_type pipeline counters
// @Tags         sources
// @Produce      json
// @Success      200  {object}  SourcesResponse
// @Router       /api/v1/sources [get]
func (h *Handler) ListSources(c *gin.Context) {
	resp := SourcesResponse{
		Listeners:   []input.ListenerStats{},
		SourceTypes: []pipeline.SourceStats{},
	}
	if h.listeners != nil {
		resp.Listeners = append(resp.Listeners, h.listeners.Stats()...)
	}
	if h.pipeline != nil {
		resp.SourceTypes = append(resp.SourceTypes, h.pipeline.Stats()...)
		resp.QueueDepth = h.pipeline.QueueDepth()
	}
	c.JSON(http.StatusOK, resp)
}

// ListFailures godoc
// @Summary      Query the failure index
// @Description  Batches that exhausted their delivery attempts, newest first
// @Tags         failures
// @Produce      json
// @Param        destination  query     string  false  "Destination name"
// @Param        since        query     string  false  "RFC3339 lower bound on failed_at"
// @Param        limit        query     int     false  "Maximum results"
// @Success      200          {object}  FailuresResponse
// @Failure      400          {object}  errors.ErrorResponse
// @Failure      500          {object}  errors.ErrorResponse
// @Router       /api/v1/failures [get]
func (h *Handler) ListFailures(c *gin.Context) {
	q := output.FailureQuery{Destination: c.Query("destination")}

	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.HandleError(c, errors.ErrValidation.WithMessage(fmt.Sprintf("invalid since %q: expected RFC3339", raw)))
			return
		}
		q.Since = since
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			h.HandleError(c, errors.ErrValidation.WithMessage(fmt.Sprintf("invalid limit %q", raw)))
			return
		}
		q.Limit = limit
	}

	if h.failures == nil {
		c.JSON(http.StatusOK, FailuresResponse{Failures: []output.FailedBatch{}})
		return
	}
	failures, err := h.failures.List(c.Request.Context(), q)
	if err != nil {
		h.HandleError(c, errors.ErrInternal.WithCause(err))
		return
	}
	if failures == nil {
		failures = []output.FailedBatch{}
	}
	c.JSON(http.StatusOK, FailuresResponse{Failures: failures, Count: len(failures)})
}

// Health godoc
// @Summary      Health report
// @Tags         health
// @Produce      json
// @Success      200  {object}  health.Health
// @Failure      503  {object}  health.Health
// @Router       /health [get]
func (h *Handler) Health(c *gin.Context) {
	report := h.health.Check(c.Request.Context())
	status := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

func (h *Handler) destination(name string) (*output.Destination, error) {
	d, ok := h.destinations.Destination(name)
	if !ok {
		return nil, errors.ErrNotFound.WithMessage(fmt.Sprintf("destination %q not found", name))
	}
	return d, nil
}
