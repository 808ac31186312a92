package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"sluice/internal/config"
	"sluice/internal/constants"
	"sluice/internal/logger"
	"sluice/pkg/errors"
	"sluice/pkg/logging"
	"sluice/pkg/models"
)

// SourceStats are the per source_type counters kept by the pipeline.
type SourceStats struct {
	SourceType  string    `json:"source_type"`
	Submitted   int64     `json:"submitted"`
	Routed      int64     `json:"routed"`
	Unrouted    int64     `json:"unrouted"`
	Failed      int64     `json:"failed"`
	Dropped     int64     `json:"dropped"`
	LastEventAt time.Time `json:"last_event_at,omitempty"`
}

type sourceCounters struct {
	submitted atomic.Int64
	routed    atomic.Int64
	unrouted  atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	lastEvent atomic.Int64
}

// Pipeline feeds submitted events through a Processor on a fixed pool of
// workers. Submit blocks while the queue is full.
type Pipeline struct {
	processor *Processor
	workers   int
	queue     chan models.Event
	logger    logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopping chan struct{}
	stopOnce sync.Once
	mu       sync.RWMutex
	closed   bool
	started  bool

	sources sync.Map // source_type -> *sourceCounters
}

func New(processor *Processor, cfg config.PipelineConfig, log logger.Logger) *Pipeline {
	workers := cfg.Workers
	if workers <= 0 {
		workers = constants.DefaultPipelineWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = constants.DefaultPipelineQueueSize
	}
	ctx, cancel := context.WithCancel(logging.WithServiceName(context.Background(), constants.ServiceName))
	return &Pipeline{
		processor: processor,
		workers:   workers,
		queue:     make(chan models.Event, queueSize),
		logger:    log,
		ctx:       ctx,
		cancel:    cancel,
		stopping:  make(chan struct{}),
	}
}

func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Infow("Pipeline started", "workers", p.workers, "queue_size", cap(p.queue))
}

// Submit queues ev for processing. Events with nothing to process are
// rejected with ErrFatalValidation before they take a queue slot.
func (p *Pipeline) Submit(ctx context.Context, ev models.Event) error {
	c := p.counters(ev.SourceType)
	if err := models.ValidateEvent(&ev); err != nil {
		c.dropped.Add(1)
		return errors.ErrFatalValidation.WithCause(err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errors.ErrServiceUnavailable.WithMessage("pipeline is shutting down")
	}

	select {
	case p.queue <- ev:
		c.submitted.Add(1)
		c.lastEvent.Store(time.Now().UnixNano())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopping:
		return errors.ErrServiceUnavailable.WithMessage("pipeline is shutting down")
	}
}

// QueueDepth is the number of events waiting for a worker.
func (p *Pipeline) QueueDepth() int {
	return len(p.queue)
}

func (p *Pipeline) worker(id int) {
	defer p.wg.Done()
	for ev := range p.queue {
		p.process(id, ev)
	}
}

func (p *Pipeline) process(id int, ev models.Event) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.RecoverPanic(r)
			p.counters(ev.SourceType).failed.Add(1)
			p.logger.Errorw("Recovered from panic while processing event",
				"worker", id,
				"event_id", ev.ID,
				"error", err,
			)
		}
	}()

	c := p.counters(ev.SourceType)
	_, decision, err := p.processor.Process(p.ctx, ev)
	switch {
	case errors.IsFatalValidation(err):
		c.dropped.Add(1)
	case err != nil:
		c.failed.Add(1)
	case len(decision.Destinations) == 0:
		c.unrouted.Add(1)
	default:
		c.routed.Add(1)
	}
}

// Stop refuses new events and waits until the workers have drained the
// queue. If ctx expires first, in-flight events are cancelled.
func (p *Pipeline) Stop(ctx context.Context) error {
	// release blocked submitters before taking the write lock
	p.stopOnce.Do(func() { close(p.stopping) })

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	started := p.started
	close(p.queue)
	p.mu.Unlock()

	if !started {
		p.cancel()
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Infow("Pipeline stopped")
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return fmt.Errorf("pipeline drain interrupted with %d events queued: %w", len(p.queue), ctx.Err())
	}
}

func (p *Pipeline) counters(sourceType string) *sourceCounters {
	if c, ok := p.sources.Load(sourceType); ok {
		return c.(*sourceCounters)
	}
	c, _ := p.sources.LoadOrStore(sourceType, &sourceCounters{})
	return c.(*sourceCounters)
}

// Stats returns per source_type counters ordered by source type.
func (p *Pipeline) Stats() []SourceStats {
	var out []SourceStats
	p.sources.Range(func(k, v any) bool {
		c := v.(*sourceCounters)
		s := SourceStats{
			SourceType: k.(string),
			Submitted:  c.submitted.Load(),
			Routed:     c.routed.Load(),
			Unrouted:   c.unrouted.Load(),
			Failed:     c.failed.Load(),
			Dropped:    c.dropped.Load(),
		}
		if ts := c.lastEvent.Load(); ts > 0 {
			s.LastEventAt = time.Unix(0, ts).UTC()
		}
		out = append(out, s)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].SourceType < out[j].SourceType })
	return out
}
