// Package runner drives a full corpus through matching and verification.
//
// The corpus arrives pre-sharded. Shards run concurrently under an
// errgroup; inside each shard a weighted semaphore caps in-flight
// verifications. Classified domains are buffered per outcome class and
// flushed to the sink in batches, so the writer sees large transactions
// instead of one insert per domain.
//
// Cancellation stops admission of new domains; verifications already in
// flight are allowed to finish and are flushed.
package runner

import (
	"context"
	"fmt"
	"sync"

	"github.com/apex/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"geohint/internal/metrics"
	"geohint/internal/model"
)

// Verifier classifies one domain. The verification orchestrator satisfies
// it.
type Verifier interface {
	VerifyDomain(ctx context.Context, d *model.Domain) (model.Outcome, error)
}

// Matcher finds candidate locations in a domain name and returns how many
// it found.
type Matcher interface {
	Match(d *model.Domain) int
}

// Sink receives classified domains in batches.
type Sink interface {
	WriteBatch(ctx context.Context, outcome model.Outcome, domains []*model.Domain) error
}

// Config tunes the run.
type Config struct {
	// TasksPerShard caps concurrent verifications within one shard.
	TasksPerShard int64
	// BatchSize is the per-outcome buffer size that triggers a flush.
	BatchSize int
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		TasksPerShard: 25,
		BatchSize:     1000,
	}
}

// Summary tallies one run.
type Summary struct {
	Total    int
	Outcomes map[model.Outcome]int
}

// Runner executes a corpus run.
type Runner struct {
	cfg      Config
	matcher  Matcher
	verifier Verifier
	sink     Sink
	stats    *metrics.Metrics
	logger   log.Interface
}

// Option configures a Runner.
type Option func(*Runner)

// WithMetrics attaches pipeline instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.stats = m }
}

// WithLogger sets the runner logger.
func WithLogger(l log.Interface) Option {
	return func(r *Runner) { r.logger = l }
}

// New creates a Runner.
func New(cfg Config, matcher Matcher, verifier Verifier, sink Sink, opts ...Option) *Runner {
	if cfg.TasksPerShard < 1 {
		cfg.TasksPerShard = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	r := &Runner{
		cfg:      cfg,
		matcher:  matcher,
		verifier: verifier,
		sink:     sink,
		logger:   log.Log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run processes every shard and returns the outcome tally. The first sink
// error aborts the run.
func (r *Runner) Run(ctx context.Context, shards [][]*model.Domain) (Summary, error) {
	buf := newBatcher(r.sink, r.cfg.BatchSize)

	g, gctx := errgroup.WithContext(ctx)
	for i, shard := range shards {
		g.Go(func() error {
			return r.runShard(gctx, i, shard, buf)
		})
	}
	err := g.Wait()

	// Flush whatever finished, even on a failed run.
	if ferr := buf.FlushAll(context.WithoutCancel(ctx)); ferr != nil && err == nil {
		err = ferr
	}

	summary := buf.Summary()
	r.logger.WithFields(log.Fields{
		"total":  summary.Total,
		"shards": len(shards),
	}).Info("run finished")
	return summary, err
}

// runShard matches and verifies one shard's domains under the per-shard
// concurrency cap.
func (r *Runner) runShard(ctx context.Context, shard int, domains []*model.Domain, buf *batcher) error {
	sem := semaphore.NewWeighted(r.cfg.TasksPerShard)
	// In-flight tasks outlive cancellation; only admission checks ctx.
	taskCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	for _, d := range domains {
		if r.matcher.Match(d) == 0 {
			if err := buf.Add(taskCtx, model.OutcomeNoHint, d); err != nil {
				fail(err)
				break
			}
			r.stats.Outcome(model.OutcomeNoHint)
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			// Canceled: stop admitting, let running tasks drain.
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			outcome := r.verifyOne(taskCtx, d)
			if err := buf.Add(taskCtx, outcome, d); err != nil {
				fail(err)
				return
			}
			r.stats.Outcome(outcome)
		}()
	}

	wg.Wait()
	if firstErr != nil {
		return fmt.Errorf("shard %d: %w", shard, firstErr)
	}
	return ctx.Err()
}

// verifyOne classifies a single domain, converting panics and errors into
// the no-location outcome so one bad domain cannot take down the run.
func (r *Runner) verifyOne(ctx context.Context, d *model.Domain) (outcome model.Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.WithFields(log.Fields{
				"domain": d.Name,
				"panic":  fmt.Sprint(rec),
			}).Error("verification panicked")
			outcome = model.OutcomeNoLocation
		}
	}()

	outcome, err := r.verifier.VerifyDomain(ctx, d)
	if err != nil {
		r.logger.WithError(err).WithField("domain", d.Name).Warn("verification failed")
		return model.OutcomeNoLocation
	}
	return outcome
}

// batcher buffers domains per outcome class and flushes full buffers.
type batcher struct {
	sink Sink
	size int

	mu      sync.Mutex
	pending map[model.Outcome][]*model.Domain
	counts  map[model.Outcome]int
	total   int
}

func newBatcher(sink Sink, size int) *batcher {
	return &batcher{
		sink:    sink,
		size:    size,
		pending: make(map[model.Outcome][]*model.Domain),
		counts:  make(map[model.Outcome]int),
	}
}

// Add buffers one domain, flushing its outcome class if the buffer is full.
func (b *batcher) Add(ctx context.Context, outcome model.Outcome, d *model.Domain) error {
	b.mu.Lock()
	b.pending[outcome] = append(b.pending[outcome], d)
	b.counts[outcome]++
	b.total++
	var batch []*model.Domain
	if len(b.pending[outcome]) >= b.size {
		batch = b.pending[outcome]
		b.pending[outcome] = nil
	}
	b.mu.Unlock()

	if batch == nil {
		return nil
	}
	if err := b.sink.WriteBatch(ctx, outcome, batch); err != nil {
		return fmt.Errorf("flush %s batch: %w", outcome, err)
	}
	return nil
}

// FlushAll writes every non-empty buffer.
func (b *batcher) FlushAll(ctx context.Context) error {
	b.mu.Lock()
	pending := b.pending
	b.pending = make(map[model.Outcome][]*model.Domain)
	b.mu.Unlock()

	for _, outcome := range model.Outcomes() {
		batch := pending[outcome]
		if len(batch) == 0 {
			continue
		}
		if err := b.sink.WriteBatch(ctx, outcome, batch); err != nil {
			return fmt.Errorf("flush %s batch: %w", outcome, err)
		}
	}
	return nil
}

// Summary returns the tally accumulated so far.
func (b *batcher) Summary() Summary {
	b.mu.Lock()
	defer b.mu.Unlock()
	counts := make(map[model.Outcome]int, len(b.counts))
	for k, v := range b.counts {
		counts[k] = v
	}
	return Summary{Total: b.total, Outcomes: counts}
}
