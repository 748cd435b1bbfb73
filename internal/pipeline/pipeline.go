package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/crop-diagnosis/internal/domain"
	"github.com/couchcryptid/crop-diagnosis/internal/observability"
	"golang.org/x/sync/errgroup"
)

const (
	defaultWorkers    = 4
	defaultMinBackoff = 200 * time.Millisecond
	defaultMaxBackoff = 5 * time.Second
)

// BatchExtractor reads up to batchSize diagnosis requests from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawEvent, error)
}

// Transformer turns one request message into an outcome message.
type Transformer interface {
	Transform(ctx context.Context, raw domain.RawEvent) (domain.OutputEvent, error)
}

// BatchLoader publishes outcome messages to the destination.
type BatchLoader interface {
	LoadBatch(ctx context.Context, events []domain.OutputEvent) error
}

// Pipeline drains diagnosis requests from a source, diagnoses each batch on
// a bounded set of goroutines and publishes the outcomes in request order.
// A request's offset is committed once its outcome is published, or straight
// away when the request is rejected.
type Pipeline struct {
	extractor   BatchExtractor
	transformer Transformer
	loader      BatchLoader
	logger      *slog.Logger
	metrics     *observability.Metrics
	batchSize   int
	workers     int
	minBackoff  time.Duration
	maxBackoff  time.Duration
	ready       atomic.Bool
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithWorkers sets how many requests of a batch are diagnosed at once.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithBackoff sets the retry delay range used after extract or load failures.
func WithBackoff(minDelay, maxDelay time.Duration) Option {
	return func(p *Pipeline) {
		if minDelay > 0 && maxDelay >= minDelay {
			p.minBackoff, p.maxBackoff = minDelay, maxDelay
		}
	}
}

// New creates a Pipeline with the given stages and observability.
func New(e BatchExtractor, t Transformer, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, batchSize int, opts ...Option) *Pipeline {
	p := &Pipeline{
		extractor:   e,
		transformer: t,
		loader:      l,
		logger:      logger,
		metrics:     metrics,
		batchSize:   batchSize,
		workers:     defaultWorkers,
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CheckReadiness returns nil once the worker has published at least one batch.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("diagnosis worker has not published any outcomes yet")
	}
	return nil
}

// Run processes batches until the context is cancelled. Source and sink
// failures are logged and retried with exponential backoff, so Run only
// returns on shutdown.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("diagnosis worker started", "batch_size", p.batchSize, "workers", p.workers)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	retry := backoff{min: p.minBackoff, max: p.maxBackoff}
	for ctx.Err() == nil {
		err := p.processBatch(ctx)
		if err == nil {
			retry.reset()
			continue
		}
		if ctx.Err() != nil {
			break
		}
		p.logger.Error("diagnosis batch failed", "error", err, "retry_in", retry.next())
		if !retry.wait(ctx) {
			break
		}
	}

	p.logger.Info("diagnosis worker stopping", "reason", context.Cause(ctx))
	return nil
}

// outcome is the result of diagnosing one request of a batch.
type outcome struct {
	event domain.OutputEvent
	err   error
}

// processBatch runs one extract, diagnose, publish cycle.
func (p *Pipeline) processBatch(ctx context.Context) error {
	start := time.Now()

	requests, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		return fmt.Errorf("extract batch: %w", err)
	}
	if len(requests) == 0 {
		return nil
	}
	p.metrics.MessagesConsumed.Add(float64(len(requests)))
	p.metrics.BatchSize.Observe(float64(len(requests)))

	outcomes := p.diagnose(ctx, requests)

	published := make([]domain.OutputEvent, 0, len(requests))
	accepted := make([]domain.RawEvent, 0, len(requests))
	for i, o := range outcomes {
		raw := requests[i]
		if o.err != nil {
			p.logger.Warn("diagnosis request rejected, skipping message",
				"error", o.err, "topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
			p.metrics.TransformErrors.Inc()
			p.commit(ctx, raw)
			continue
		}
		published = append(published, o.event)
		accepted = append(accepted, raw)
	}
	if len(published) == 0 {
		return nil
	}

	if err := p.loader.LoadBatch(ctx, published); err != nil {
		return fmt.Errorf("publish %d outcomes: %w", len(published), err)
	}
	p.metrics.MessagesProduced.Add(float64(len(published)))
	for _, raw := range accepted {
		p.commit(ctx, raw)
	}

	p.metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
	p.ready.Store(true)
	return nil
}

// diagnose transforms every request with at most p.workers in flight. The
// returned slice is indexed like requests.
func (p *Pipeline) diagnose(ctx context.Context, requests []domain.RawEvent) []outcome {
	outcomes := make([]outcome, len(requests))

	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, raw := range requests {
		g.Go(func() error {
			outcomes[i].event, outcomes[i].err = p.transformer.Transform(ctx, raw)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (p *Pipeline) commit(ctx context.Context, raw domain.RawEvent) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

// backoff is a doubling retry delay capped at max.
type backoff struct {
	min, max time.Duration
	current  time.Duration
}

func (b *backoff) reset() { b.current = 0 }

// next returns the delay the following wait will use.
func (b *backoff) next() time.Duration {
	if b.current == 0 {
		return b.min
	}
	return min(b.current*2, b.max)
}

// wait sleeps for the next delay. It returns false if ctx ended first.
func (b *backoff) wait(ctx context.Context) bool {
	b.current = b.next()
	timer := time.NewTimer(b.current)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
