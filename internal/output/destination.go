package output

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"sluice/internal/constants"
	"sluice/internal/logger"
	"sluice/pkg/cel"
	"sluice/pkg/errors"
	"sluice/pkg/logging"
	"sluice/pkg/metrics"
	"sluice/pkg/models"
	"sluice/pkg/retry"
	"sluice/pkg/template"
)

const (
	drainPollInterval = 10 * time.Millisecond
	maxTargetLength   = 200
)

// Stats is a point-in-time snapshot of a destination.
type Stats struct {
	Name          string    `json:"name"`
	Writer        string    `json:"writer"`
	Predicate     string    `json:"predicate"`
	Target        string    `json:"target"`
	Enabled       bool      `json:"enabled"`
	QueueDepth    int       `json:"queue_depth"`
	QueueCapacity int       `json:"queue_capacity"`
	Pending       int64     `json:"pending"`
	Enqueued      int64     `json:"enqueued"`
	Rejected      int64     `json:"rejected"`
	Written       int64     `json:"written"`
	Batches       int64     `json:"batches"`
	FailedBatches int64     `json:"failed_batches"`
	Retries       int64     `json:"retries"`
	LastError     string    `json:"last_error,omitempty"`
	LastFlushAt   time.Time `json:"last_flush_at,omitempty"`
}

// Destination owns a bounded queue and a set of flush workers. Each worker
// collects a batch until it reaches the configured size or the first event
// in it has waited max_idle_time, then writes it grouped by target.
type Destination struct {
	spec         models.Destination
	name         string
	writer       Writer
	predicate    Predicate
	target       *template.Template
	policy       retry.Policy
	batchSize    int
	maxIdle      time.Duration
	flushTimeout time.Duration
	workers      int
	reject       bool
	failures     FailureIndex
	logger       logger.Logger

	queue chan models.Event
	kick  chan struct{}

	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	enabled       atomic.Bool
	pending       atomic.Int64
	enqueued      atomic.Int64
	rejected      atomic.Int64
	written       atomic.Int64
	batches       atomic.Int64
	failedBatches atomic.Int64
	retries       atomic.Int64

	statusMu    sync.Mutex
	lastError   string
	lastFlushAt time.Time
}

// NewDestination applies defaults to spec and compiles its predicate and
// target template. failures may be nil.
func NewDestination(spec models.Destination, writer Writer, evaluator *cel.Evaluator, failures FailureIndex, log logger.Logger) (*Destination, error) {
	spec = withDefaults(spec)

	predicate, err := CompilePredicate(evaluator, spec.Predicate)
	if err != nil {
		return nil, errors.ErrValidation.WithCause(err).WithDetail("destination", spec.Name)
	}
	target, err := template.Compile(spec.Target)
	if err != nil {
		return nil, errors.ErrValidation.WithCause(err).WithDetail("destination", spec.Name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Destination{
		spec:      spec,
		name:      spec.Name,
		writer:    writer,
		predicate: predicate,
		target:    target,
		policy: retry.Policy{
			MaxAttempts:     spec.Retry.MaxAttempts,
			InitialInterval: spec.Retry.InitialInterval,
			MaxInterval:     spec.Retry.MaxInterval,
			Multiplier:      spec.Retry.Multiplier,
		},
		batchSize:    spec.BatchSize,
		maxIdle:      spec.MaxIdleTime,
		flushTimeout: spec.FlushTimeout,
		workers:      spec.Workers,
		reject:       spec.Backpressure == models.BackpressureReject,
		failures:     failures,
		logger:       log.Named(spec.Name),
		queue:        make(chan models.Event, spec.QueueCapacity),
		kick:         make(chan struct{}, spec.Workers),
		ctx:          ctx,
		cancel:       cancel,
	}
	d.enabled.Store(true)
	return d, nil
}

func withDefaults(spec models.Destination) models.Destination {
	if spec.BatchSize <= 0 {
		spec.BatchSize = constants.DefaultBatchSize
	}
	if spec.MaxIdleTime <= 0 {
		spec.MaxIdleTime = constants.DefaultMaxIdleTime
	}
	if spec.QueueCapacity <= 0 {
		spec.QueueCapacity = constants.DefaultQueueCapacity
	}
	if spec.FlushTimeout <= 0 {
		spec.FlushTimeout = constants.DefaultFlushTimeout
	}
	if spec.Workers <= 0 {
		spec.Workers = constants.DefaultFlushWorkers
	}
	if spec.Retry.MaxAttempts <= 0 {
		spec.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}
	if spec.Target == "" {
		spec.Target = constants.DefaultTargetPattern
	}
	if spec.Backpressure == "" {
		spec.Backpressure = models.BackpressureBlock
	}
	return spec
}

func (d *Destination) Name() string { return d.name }

func (d *Destination) Spec() models.Destination { return d.spec }

func (d *Destination) Enabled() bool { return d.enabled.Load() }

// Accepts evaluates the routing predicate.
func (d *Destination) Accepts(ctx context.Context, ev *models.Event) (bool, error) {
	return d.predicate(ctx, ev)
}

// Start launches the flush workers.
func (d *Destination) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
	d.logger.Infow("Destination started",
		"writer", d.writer.Kind(),
		"workers", d.workers,
		"batch_size", d.batchSize,
		"max_idle_time", d.maxIdle,
		"queue_capacity", cap(d.queue),
	)
}

// Enqueue hands ev to the flush workers. When the queue is full it blocks
// until ctx is done, or fails with ErrQueueFull in reject mode.
func (d *Destination) Enqueue(ctx context.Context, ev models.Event) error {
	if !d.enabled.Load() {
		d.rejected.Add(1)
		return errors.ErrDisabled.WithDetail("destination", d.name)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.rejected.Add(1)
		return errors.ErrDisabled.WithMessage("destination is closed").WithDetail("destination", d.name)
	}

	d.pending.Add(1)
	if d.reject {
		select {
		case d.queue <- ev:
		default:
			d.pending.Add(-1)
			d.rejected.Add(1)
			return errors.ErrQueueFull.WithDetail("destination", d.name)
		}
	} else {
		select {
		case d.queue <- ev:
		case <-ctx.Done():
			d.pending.Add(-1)
			return ctx.Err()
		}
	}

	d.enqueued.Add(1)
	metrics.IncRoutedEvent(d.name)
	metrics.SetDestinationQueueSize(d.name, len(d.queue))
	return nil
}

// Drain disables the destination and waits until every queued and
// in-flight event has been flushed or given up on.
func (d *Destination) Drain(ctx context.Context) error {
	d.enabled.Store(false)
	d.logger.Infow("Draining destination", "pending", d.pending.Load())

	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for {
		if d.pending.Load() <= 0 {
			d.logger.Infow("Destination drained and disabled")
			return nil
		}
		for i := 0; i < d.workers; i++ {
			select {
			case d.kick <- struct{}{}:
			default:
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *Destination) Enable() {
	if !d.enabled.Swap(true) {
		d.logger.Infow("Destination enabled")
	}
}

// Close stops accepting events, flushes what is queued and closes the
// writer. If ctx expires first, in-flight writes are cancelled.
func (d *Destination) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		d.cancel()
		<-done
		err = ctx.Err()
		d.logger.Warnw("Destination flush interrupted by shutdown", "pending", d.pending.Load())
	}
	d.cancel()

	if cerr := d.writer.Close(ctx); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (d *Destination) Stats() Stats {
	d.statusMu.Lock()
	lastError, lastFlushAt := d.lastError, d.lastFlushAt
	d.statusMu.Unlock()

	return Stats{
		Name:          d.name,
		Writer:        d.writer.Kind(),
		Predicate:     d.spec.Predicate,
		Target:        d.target.String(),
		Enabled:       d.enabled.Load(),
		QueueDepth:    len(d.queue),
		QueueCapacity: cap(d.queue),
		Pending:       d.pending.Load(),
		Enqueued:      d.enqueued.Load(),
		Rejected:      d.rejected.Load(),
		Written:       d.written.Load(),
		Batches:       d.batches.Load(),
		FailedBatches: d.failedBatches.Load(),
		Retries:       d.retries.Load(),
		LastError:     lastError,
		LastFlushAt:   lastFlushAt,
	}
}

func (d *Destination) run() {
	defer d.wg.Done()

	batch := make([]models.Event, 0, d.batchSize)
	timer := time.NewTimer(d.maxIdle)
	timer.Stop()
	defer timer.Stop()
	var idle <-chan time.Time

	flush := func() {
		timer.Stop()
		idle = nil
		d.flush(batch)
		batch = make([]models.Event, 0, d.batchSize)
	}

	for {
		select {
		case ev, ok := <-d.queue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) == 1 {
				timer.Reset(d.maxIdle)
				idle = timer.C
			}
			if len(batch) >= d.batchSize {
				flush()
			}

		case <-idle:
			flush()

		case <-d.kick:
			for {
				var closed bool
				select {
				case ev, ok := <-d.queue:
					if !ok {
						closed = true
						break
					}
					batch = append(batch, ev)
					if len(batch) < d.batchSize {
						continue
					}
				default:
				}
				flush()
				if closed {
					return
				}
				if len(d.queue) == 0 {
					break
				}
			}
		}
	}
}

type targetGroup struct {
	target string
	events []models.Event
}

// groupByTarget splits a batch by rendered target, keeping first-seen order.
func (d *Destination) groupByTarget(batch []models.Event) []targetGroup {
	index := make(map[string]int)
	groups := make([]targetGroup, 0, 1)
	for i := range batch {
		t := d.TargetFor(&batch[i])
		j, ok := index[t]
		if !ok {
			j = len(groups)
			index[t] = j
			groups = append(groups, targetGroup{target: t})
		}
		groups[j].events = append(groups[j].events, batch[i])
	}
	return groups
}

// TargetFor renders the target template against the processed event.
func (d *Destination) TargetFor(ev *models.Event) string {
	rendered, _ := d.target.Render(ev)
	if t := SanitizeTarget(rendered); t != "" {
		return t
	}
	return SanitizeTarget(d.name)
}

// SanitizeTarget lowercases s and keeps only characters valid in both
// collection and topic names. Runs of separators left by empty template
// fields are collapsed.
func SanitizeTarget(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '-' || r == '.' || r == '_':
			if prev == r {
				continue
			}
		default:
			r = '_'
			if prev == r {
				continue
			}
		}
		b.WriteRune(r)
		prev = r
	}
	out := strings.Trim(b.String(), "-._")
	if len(out) > maxTargetLength {
		out = out[:maxTargetLength]
	}
	return out
}

func (d *Destination) flush(batch []models.Event) {
	if len(batch) == 0 {
		return
	}
	defer func() {
		d.pending.Add(-int64(len(batch)))
		metrics.SetDestinationQueueSize(d.name, len(d.queue))
	}()

	ctx := logging.WithDestination(d.ctx, d.name)
	start := time.Now()
	batchID := uuid.NewString()

	var lastErr error
	for _, g := range d.groupByTarget(batch) {
		if err := d.deliver(ctx, batchID, g.target, g.events); err != nil {
			lastErr = err
		}
	}
	metrics.ObserveDestinationFlush(d.name, time.Since(start))
	d.batches.Add(1)

	if lastErr == nil {
		metrics.IncDestinationBatch(d.name, "success")
		return
	}
	// A batch split across targets still counts as one failed batch.
	d.statusMu.Lock()
	d.lastError = lastErr.Error()
	d.statusMu.Unlock()
	d.failedBatches.Add(1)
	metrics.IncDestinationFailedBatch(d.name)
	metrics.IncDestinationBatch(d.name, "failed")
}

// deliver writes the events of one target with retries. On exhaustion the
// events are recorded in the failure index under batchID.
func (d *Destination) deliver(ctx context.Context, batchID, target string, events []models.Event) error {
	attempts := 0

	err := retry.RetryWithCallback(ctx, d.policy, func() (err error) {
		attempts++
		defer func() {
			if r := recover(); r != nil {
				err = errors.RecoverPanic(r)
				d.logger.ErrorwCtx(ctx, "Panic recovered during destination write",
					"error", err,
					"target", target,
				)
			}
		}()

		attemptCtx, cancel := context.WithTimeout(ctx, d.flushTimeout)
		defer cancel()
		if p, ok := d.writer.(Pinger); ok {
			if err := p.Ping(attemptCtx); err != nil {
				return errors.ErrDestinationWrite.WithCause(err)
			}
		}
		return d.writer.Write(attemptCtx, target, events)
	}, func(attempt int, err error, nextDelay time.Duration) {
		d.retries.Add(1)
		metrics.IncDestinationRetry(d.name)
		d.logger.WarnwCtx(ctx, "Retrying destination write",
			"attempt", attempt,
			"max_attempts", d.policy.MaxAttempts,
			"next_delay", nextDelay,
			"target", target,
			"batch_size", len(events),
			"error", err,
		)
	})
	if err == nil {
		d.statusMu.Lock()
		d.lastFlushAt = time.Now().UTC()
		d.statusMu.Unlock()
		d.written.Add(int64(len(events)))
		metrics.AddDestinationEventsWritten(d.name, len(events))
		return nil
	}

	d.logger.ErrorwCtx(ctx, "Destination batch failed after retries",
		"target", target,
		"batch_size", len(events),
		"attempts", attempts,
		"error", err,
	)
	d.recordFailure(ctx, batchID, target, events, attempts, err)
	return err
}

func (d *Destination) recordFailure(ctx context.Context, batchID, target string, events []models.Event, attempts int, cause error) {
	if d.failures == nil {
		return
	}

	batch := FailedBatch{
		BatchID:     batchID,
		Destination: d.name,
		Target:      target,
		EventCount:  len(events),
		EventIDs:    make([]string, 0, len(events)),
		Samples:     make([]string, 0, maxSampleMessages),
		Attempts:    attempts,
		Error:       cause.Error(),
		FailedAt:    time.Now().UTC(),
	}
	for i := range events {
		batch.EventIDs = append(batch.EventIDs, events[i].ID)
		if len(batch.Samples) < maxSampleMessages {
			batch.Samples = append(batch.Samples, events[i].RawMessage)
		}
	}

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.flushTimeout)
	defer cancel()
	if err := d.failures.Record(recordCtx, batch); err != nil {
		d.logger.ErrorwCtx(ctx, "Failed to record failed batch",
			"batch_id", batch.BatchID,
			"error", err,
		)
	}
}
