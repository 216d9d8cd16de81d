// Package indexing runs the classify, chunk, embed and store pipeline on a
// bounded worker pool.
package indexing

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/triage/internal/domain"
	"github.com/kailas-cloud/triage/internal/domain/entity"
	"github.com/kailas-cloud/triage/internal/domain/job"
)

// Config sizes the pool.
type Config struct {
	Workers          int
	QueueSize        int
	EmbedConcurrency int
	MaxAttempts      int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
}

// DefaultConfig returns the standard pool sizing.
func DefaultConfig() Config {
	return Config{
		Workers:          4,
		QueueSize:        256,
		EmbedConcurrency: 4,
		MaxAttempts:      3,
		InitialBackoff:   500 * time.Millisecond,
		MaxBackoff:       10 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.EmbedConcurrency <= 0 {
		c.EmbedConcurrency = d.EmbedConcurrency
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
}

// Metrics are optional; nil fields are skipped.
type Metrics struct {
	Jobs       *prometheus.CounterVec // label: status
	QueueDepth prometheus.Gauge
	Duration   prometheus.Histogram
}

var (
	errSuperseded = errors.New("superseded by a newer submission")
	errPoolClosed = errors.New("indexing pool is shut down")
)

const writeStripes = 64

type task struct {
	job job.Job
	gen uint64
}

// inflight tracks the newest submission of an entity.
type inflight struct {
	gen    uint64
	cancel context.CancelFunc
}

// Pool is the indexing worker pool.
type Pool struct {
	cfg        Config
	classifier Classifier
	chunker    Chunker
	embed      domain.Embedder
	store      VectorStore
	jobs       JobRepository
	metrics    Metrics
	logger     *zap.Logger
	now        func() time.Time
	newID      func() string

	queue chan task

	mu      sync.Mutex
	seq     uint64
	latest  map[string]*inflight
	closed  bool
	started bool

	// writeMu serializes generation checks with store writes per entity.
	writeMu [writeStripes]sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures the Pool.
type Option func(*Pool)

// WithConfig overrides pool sizing.
func WithConfig(c Config) Option {
	return func(p *Pool) { p.cfg = c }
}

// WithMetrics sets pool metrics.
func WithMetrics(m Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// New creates a pool. Call Start to launch workers.
func New(
	classifier Classifier, chunker Chunker, embed domain.Embedder,
	store VectorStore, jobs JobRepository, opts ...Option,
) *Pool {
	p := &Pool{
		cfg:        DefaultConfig(),
		classifier: classifier,
		chunker:    chunker,
		embed:      embed,
		store:      store,
		jobs:       jobs,
		logger:     zap.NewNop(),
		now:        time.Now,
		newID:      uuid.NewString,
		latest:     map[string]*inflight{},
	}
	for _, o := range opts {
		o(p)
	}
	p.cfg.applyDefaults()
	p.queue = make(chan task, p.cfg.QueueSize)
	p.ctx, p.cancel = context.WithCancel(context.Background())
	return p
}

// Start launches the workers. It is a no-op on a started pool.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	for range p.cfg.Workers {
		p.wg.Add(1)
		go p.worker()
	}
	p.logger.Info("Indexing pool started",
		zap.Int("workers", p.cfg.Workers),
		zap.Int("queue_size", p.cfg.QueueSize),
	)
}

// Close stops accepting work, cancels in-flight jobs and waits for workers
// or ctx. Jobs still queued keep their queued status.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for indexing workers: %w", ctx.Err())
	}
}

// Submit queues e for indexing and returns the queued job. A newer
// submission of the same entity supersedes any older one. A full queue
// returns domain.ErrQueueFull; the job is then stored as failed so it can
// be retried.
func (p *Pool) Submit(ctx context.Context, e entity.Entity) (job.Job, error) {
	e.Normalize(p.now())
	if err := e.Validate(); err != nil {
		return job.Job{}, err
	}
	return p.enqueue(ctx, job.New(p.newID(), e, p.now()))
}

// Retry resubmits a failed job under the same id.
func (p *Pool) Retry(ctx context.Context, org, id string) (job.Job, error) {
	if err := domain.CheckOrganization(org); err != nil {
		return job.Job{}, err
	}
	j, err := p.jobs.Get(ctx, org, id)
	if err != nil {
		return job.Job{}, fmt.Errorf("get job: %w", err)
	}
	if !j.Retryable() {
		return job.Job{}, fmt.Errorf("%w: job %s is %s, only failed jobs can be retried",
			domain.ErrInvalidInput, id, j.Status)
	}
	j.Status = job.StatusQueued
	j.Attempts = 0
	j.Error = ""
	j.UpdatedAt = p.now().UTC()
	return p.enqueue(ctx, j)
}

// Delete removes an entity's records and supersedes any in-flight indexing of it.
func (p *Pool) Delete(ctx context.Context, org, entityID string) (int, error) {
	if err := domain.CheckOrganization(org); err != nil {
		return 0, err
	}
	if !entity.ValidID(entityID) {
		return 0, fmt.Errorf("%w: invalid entity id %q", domain.ErrInvalidInput, entityID)
	}
	key := entityKey(org, entityID)

	p.mu.Lock()
	p.seq++
	if prev, ok := p.latest[key]; ok && prev.cancel != nil {
		prev.cancel()
	}
	p.latest[key] = &inflight{gen: p.seq}
	gen := p.seq
	p.mu.Unlock()
	defer p.release(key, gen)

	mu := p.lockFor(key)
	mu.Lock()
	defer mu.Unlock()
	n, err := p.store.DeleteByEntity(ctx, org, entityID)
	if err != nil {
		return 0, fmt.Errorf("delete entity: %w", err)
	}
	return n, nil
}

// Get returns a job of org.
func (p *Pool) Get(ctx context.Context, org, id string) (job.Job, error) {
	if err := domain.CheckOrganization(org); err != nil {
		return job.Job{}, err
	}
	return p.jobs.Get(ctx, org, id)
}

// List returns jobs of org filtered by status.
func (p *Pool) List(ctx context.Context, org string, status job.Status, limit int) ([]job.Job, error) {
	if err := domain.CheckOrganization(org); err != nil {
		return nil, err
	}
	return p.jobs.List(ctx, org, status, limit)
}

// QueueDepth returns the number of queued tasks.
func (p *Pool) QueueDepth() int { return len(p.queue) }

func (p *Pool) enqueue(ctx context.Context, j job.Job) (job.Job, error) {
	if err := p.jobs.Save(ctx, j); err != nil {
		return job.Job{}, fmt.Errorf("save job: %w", err)
	}
	key := entityKey(j.OrganizationID, j.EntityID)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return p.reject(ctx, j, errPoolClosed)
	}
	p.seq++
	t := task{job: j, gen: p.seq}
	select {
	case p.queue <- t:
	default:
		p.mu.Unlock()
		return p.reject(ctx, j, domain.ErrQueueFull)
	}
	if prev, ok := p.latest[key]; ok && prev.cancel != nil {
		prev.cancel()
	}
	p.latest[key] = &inflight{gen: t.gen}
	p.mu.Unlock()

	p.setDepth()
	p.count(job.StatusQueued)
	return j, nil
}

func (p *Pool) reject(ctx context.Context, j job.Job, cause error) (job.Job, error) {
	j.Status = job.StatusFailed
	j.Error = cause.Error()
	j.UpdatedAt = p.now().UTC()
	if err := p.jobs.Save(ctx, j); err != nil {
		p.logger.Warn("Failed to save rejected job", zap.String("job_id", j.ID), zap.Error(err))
	}
	p.count(job.StatusFailed)
	return j, cause
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case t := <-p.queue:
			p.setDepth()
			p.process(t)
		}
	}
}

// begin registers t as running. It reports false when a newer submission exists.
func (p *Pool) begin(key string, gen uint64) (context.Context, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur, ok := p.latest[key]
	if !ok || cur.gen != gen {
		return nil, false
	}
	ctx, cancel := context.WithCancel(p.ctx)
	cur.cancel = cancel
	return ctx, true
}

// current reports whether gen is still the newest submission of key.
func (p *Pool) current(key string, gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur, ok := p.latest[key]
	return ok && cur.gen == gen
}

// release forgets key once its newest submission is done.
func (p *Pool) release(key string, gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.latest[key]; ok && cur.gen == gen {
		if cur.cancel != nil {
			cur.cancel()
		}
		delete(p.latest, key)
	}
}

func (p *Pool) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &p.writeMu[h.Sum32()%writeStripes]
}

// guarded runs a store write only while gen is the newest submission of key.
func (p *Pool) guarded(key string, gen uint64, write func() error) error {
	mu := p.lockFor(key)
	mu.Lock()
	defer mu.Unlock()
	if !p.current(key, gen) {
		return errSuperseded
	}
	return write()
}

func (p *Pool) process(t task) {
	j := t.job
	key := entityKey(j.OrganizationID, j.EntityID)
	log := p.logger.With(
		zap.String("job_id", j.ID),
		zap.String("organization_id", j.OrganizationID),
		zap.String("entity_id", j.EntityID),
	)
	// Status writes must survive cancellation of the job itself.
	saveCtx := context.WithoutCancel(p.ctx)

	ctx, ok := p.begin(key, t.gen)
	if !ok {
		p.finish(saveCtx, log, &j, job.StatusSuperseded, nil)
		return
	}
	defer p.release(key, t.gen)

	start := p.now()
	j.Status = job.StatusRunning
	j.UpdatedAt = start.UTC()
	p.save(saveCtx, log, j)

	// Classification runs once per run of the job; retries repeat indexing only.
	j.Classification = nil
	op := func() error {
		j.Attempts++
		err := p.run(ctx, key, t.gen, &j)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, errSuperseded), !p.current(key, t.gen):
			return backoff.Permanent(errSuperseded)
		case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrTenantRequired):
			return backoff.Permanent(err)
		}
		log.Warn("Indexing attempt failed", zap.Int("attempt", j.Attempts), zap.Error(err))
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.InitialBackoff
	b.MaxInterval = p.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.cfg.MaxAttempts-1)), ctx))

	if p.metrics.Duration != nil {
		p.metrics.Duration.Observe(p.now().Sub(start).Seconds())
	}
	switch {
	case err == nil:
		p.finish(saveCtx, log, &j, j.Status, nil)
	case errors.Is(err, errSuperseded) || !p.current(key, t.gen):
		p.finish(saveCtx, log, &j, job.StatusSuperseded, nil)
	default:
		if p.ctx.Err() != nil {
			err = fmt.Errorf("interrupted by shutdown: %w", err)
		}
		p.finish(saveCtx, log, &j, job.StatusFailed, &domain.IndexJobError{
			JobID: j.ID, EntityID: j.EntityID, Attempts: j.Attempts, Err: err,
		})
	}
}

func (p *Pool) finish(ctx context.Context, log *zap.Logger, j *job.Job, st job.Status, err error) {
	j.Status = st
	j.UpdatedAt = p.now().UTC()
	if err != nil {
		j.Error = err.Error()
		log.Error("Indexing job failed", zap.Int("attempts", j.Attempts), zap.Error(err))
	} else {
		j.Error = ""
		log.Info("Indexing job finished",
			zap.String("status", string(st)),
			zap.Int("chunks", j.Chunks),
			zap.Int("skipped_chunks", j.SkippedChunks),
		)
	}
	p.save(ctx, log, *j)
	p.count(st)
}

func (p *Pool) save(ctx context.Context, log *zap.Logger, j job.Job) {
	if err := p.jobs.Save(ctx, j); err != nil {
		log.Warn("Failed to save job status", zap.String("status", string(j.Status)), zap.Error(err))
	}
}

func (p *Pool) count(st job.Status) {
	if p.metrics.Jobs != nil {
		p.metrics.Jobs.WithLabelValues(string(st)).Inc()
	}
}

func (p *Pool) setDepth() {
	if p.metrics.QueueDepth != nil {
		p.metrics.QueueDepth.Set(float64(len(p.queue)))
	}
}

func entityKey(org, entityID string) string {
	return org + "\x00" + entityID
}
