package output

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"sluice/internal/logger"
	"sluice/pkg/errors"
	"sluice/pkg/metrics"
	"sluice/pkg/models"
)

// Router evaluates every destination's predicate independently; an event
// can be accepted by any number of destinations.
type Router struct {
	destinations []*Destination
	byName       map[string]*Destination
	logger       logger.Logger
}

func NewRouter(destinations []*Destination, log logger.Logger) (*Router, error) {
	byName := make(map[string]*Destination, len(destinations))
	for _, d := range destinations {
		if _, dup := byName[d.Name()]; dup {
			return nil, fmt.Errorf("duplicate destination name %q", d.Name())
		}
		byName[d.Name()] = d
	}
	return &Router{destinations: destinations, byName: byName, logger: log}, nil
}

// Route enqueues ev to every destination whose predicate holds. The
// decision lists the destinations that accepted the event; enqueue errors
// other than a disabled destination are returned joined.
func (r *Router) Route(ctx context.Context, ev models.Event) (models.RoutingDecision, error) {
	decision := models.RoutingDecision{EventID: ev.ID}
	var errs []error

	for _, d := range r.destinations {
		ok, err := d.Accepts(ctx, &ev)
		if err != nil {
			r.logger.DebugwCtx(ctx, "Route predicate evaluation failed",
				"destination", d.Name(),
				"error", err,
			)
			continue
		}
		if !ok {
			continue
		}

		if err := d.Enqueue(ctx, ev); err != nil {
			switch {
			case errors.IsDisabled(err):
				metrics.IncEventsDropped("route", "destination_disabled")
				continue
			case errors.IsQueueFull(err):
				metrics.IncEventsDropped("route", "queue_full")
			default:
				metrics.IncEventsDropped("route", "enqueue_failed")
			}
			r.logger.WarnwCtx(ctx, "Failed to enqueue event",
				"destination", d.Name(),
				"error", err,
			)
			errs = append(errs, err)
			continue
		}
		decision.Destinations = append(decision.Destinations, d.Name())
	}

	return decision, stderrors.Join(errs...)
}

func (r *Router) Destinations() []*Destination {
	out := make([]*Destination, len(r.destinations))
	copy(out, r.destinations)
	return out
}

func (r *Router) Destination(name string) (*Destination, bool) {
	d, ok := r.byName[name]
	return d, ok
}

func (r *Router) Start() {
	for _, d := range r.destinations {
		d.Start()
	}
}

// Close flushes and closes all destinations concurrently.
func (r *Router) Close(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, d := range r.destinations {
		wg.Add(1)
		go func(d *Destination) {
			defer wg.Done()
			if err := d.Close(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("destination %s: %w", d.Name(), err))
				mu.Unlock()
			}
		}(d)
	}
	wg.Wait()
	return stderrors.Join(errs...)
}
