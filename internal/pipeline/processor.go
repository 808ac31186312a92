package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"

	"sluice/internal/logger"
	"sluice/pkg/errors"
	"sluice/pkg/logging"
	"sluice/pkg/metrics"
	"sluice/pkg/models"
	"sluice/pkg/tracing"
)

const (
	StageExtract   = "extract"
	StageEnrich    = "enrich"
	StageNormalize = "normalize"
	StageRoute     = "route"
)

// Stage transforms one event. Stages never mutate their input; they return
// a transformed copy with the same ID.
type Stage func(ctx context.Context, ev models.Event) models.Event

type Extractor interface {
	Extract(ctx context.Context, ev models.Event) models.Event
}

type Enricher interface {
	Enrich(ctx context.Context, ev models.Event) models.Event
}

type Normalizer interface {
	Normalize(ctx context.Context, ev models.Event) models.Event
}

type Router interface {
	Route(ctx context.Context, ev models.Event) (models.RoutingDecision, error)
}

type MetricsEmitter interface {
	Emit(ev models.Event) bool
}

type namedStage struct {
	name string
	fn   Stage
}

// Processor runs extract, enrich and normalize on an event and hands the
// result to the router and the metrics emitter. It only holds compiled,
// immutable rules and is safe for concurrent use.
type Processor struct {
	stages  []namedStage
	router  Router
	emitter MetricsEmitter
	logger  logger.Logger
}

// NewProcessor wires the stages. emitter may be nil.
func NewProcessor(extractor Extractor, enricher Enricher, normalizer Normalizer, router Router, emitter MetricsEmitter, log logger.Logger) *Processor {
	return &Processor{
		stages: []namedStage{
			{name: StageExtract, fn: extractor.Extract},
			{name: StageEnrich, fn: enricher.Enrich},
			{name: StageNormalize, fn: normalizer.Normalize},
		},
		router:  router,
		emitter: emitter,
		logger:  log,
	}
}

// Transform validates ev and runs every stage. The only error is
// ErrFatalValidation, for an event with nothing to process.
func (p *Processor) Transform(ctx context.Context, ev models.Event) (models.Event, error) {
	if err := models.ValidateEvent(&ev); err != nil {
		return ev, errors.ErrFatalValidation.WithCause(err)
	}

	for _, st := range p.stages {
		stageCtx, span := tracing.StartEventSpan(ctx, "pipeline."+st.name, ev.ID, ev.SourceType)
		start := time.Now()
		ev = st.fn(stageCtx, ev)
		metrics.ObserveStageDuration(st.name, time.Since(start))
		span.End()
	}
	return ev, nil
}

// Process transforms ev and routes the result.
func (p *Processor) Process(ctx context.Context, ev models.Event) (models.Event, models.RoutingDecision, error) {
	ctx, span := tracing.StartEventSpan(ctx, "pipeline.process", ev.ID, ev.SourceType)
	defer span.End()
	ctx = logging.WithEventID(ctx, ev.ID)
	if traceID := tracing.TraceID(ctx); traceID != "" {
		ctx = logging.WithTraceID(ctx, traceID)
	}

	out, err := p.Transform(ctx, ev)
	if err != nil {
		span.SetStatus(codes.Error, "fatal validation")
		metrics.IncEventsDropped("pipeline", "fatal_validation")
		p.logger.DebugwCtx(ctx, "Event dropped", "error", err)
		return out, models.RoutingDecision{EventID: ev.ID}, err
	}

	if p.emitter != nil {
		p.emitter.Emit(out)
	}

	start := time.Now()
	decision, err := p.router.Route(ctx, out)
	metrics.ObserveStageDuration(StageRoute, time.Since(start))
	if err != nil {
		span.RecordError(err)
		p.logger.DebugwCtx(ctx, "Event not accepted by every destination",
			"destinations", decision.Destinations,
			"error", err,
		)
		return out, decision, err
	}
	if len(decision.Destinations) == 0 {
		metrics.IncEventsDropped("pipeline", "no_destination")
		p.logger.DebugwCtx(ctx, "Event matched no destination", "tags", out.Tags)
	}
	return out, decision, nil
}
