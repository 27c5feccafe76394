package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/selfscope/selfscope/internal/metrics"
)

// Handler processes one job. A returned error schedules a retry; after
// MaxAttempts the job is dead-lettered.
type Handler func(ctx context.Context, job Job) error

// PoolConfig tunes the worker pool.
type PoolConfig struct {
	Workers       int
	Consumer      string
	PollInterval  time.Duration
	LeaseTTL      time.Duration
	BatchSize     int
	MaxAttempts   int
	RetryBackoff  time.Duration
	RetryMaxDelay time.Duration
}

func (c *PoolConfig) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Consumer == "" {
		c.Consumer = "selfscope-worker"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 30 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 8
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 5 * time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 5 * time.Minute
	}
}

// Pool polls the queue and dispatches leased jobs to registered handlers.
type Pool struct {
	queue    *Queue
	cfg      PoolConfig
	handlers map[Kind]Handler
}

// NewPool creates a worker pool over the queue.
func NewPool(queue *Queue, cfg PoolConfig) *Pool {
	cfg.applyDefaults()
	return &Pool{
		queue:    queue,
		cfg:      cfg,
		handlers: make(map[Kind]Handler),
	}
}

// Register binds a handler to a job kind. Later registrations win.
func (p *Pool) Register(kind Kind, h Handler) {
	p.handlers[kind] = h
}

// Run starts the worker goroutines and blocks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	log.Info().Int("workers", p.cfg.Workers).Msg("Job worker pool started")

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		worker := fmt.Sprintf("%s-%d", p.cfg.Consumer, i)
		g.Go(func() error {
			p.runWorker(ctx, worker)
			return nil
		})
	}
	err := g.Wait()
	log.Info().Msg("Job worker pool stopped")
	return err
}

func (p *Pool) runWorker(ctx context.Context, consumer string) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drain(ctx, consumer)
		}
	}
}

// drain processes due jobs until the queue is empty or ctx is cancelled.
func (p *Pool) drain(ctx context.Context, consumer string) {
	for {
		if ctx.Err() != nil {
			return
		}
		leased, err := p.queue.Lease(ctx, consumer, p.cfg.BatchSize, time.Now().UTC(), p.cfg.LeaseTTL)
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Str("consumer", consumer).Msg("Job lease failed")
			}
			return
		}
		if len(leased) == 0 {
			return
		}
		for _, job := range leased {
			p.process(ctx, consumer, job)
		}
	}
}

func (p *Pool) process(ctx context.Context, consumer string, job *Job) {
	start := time.Now()
	handler, ok := p.handlers[job.Kind]
	if !ok {
		// No handler will ever succeed for this kind; dead-letter immediately.
		p.finish(ctx, consumer, job, fmt.Errorf("no handler registered for kind %q", job.Kind), true)
		return
	}

	err := handler(ctx, *job)
	metrics.JobDuration.WithLabelValues(string(job.Kind)).Observe(time.Since(start).Seconds())

	exhausted := job.AttemptCount+1 >= p.cfg.MaxAttempts
	p.finish(ctx, consumer, job, err, exhausted)
}

func (p *Pool) finish(ctx context.Context, consumer string, job *Job, handlerErr error, exhausted bool) {
	now := time.Now().UTC()
	switch {
	case handlerErr == nil:
		if err := p.queue.MarkSucceeded(ctx, job.ID, consumer, now); err != nil {
			log.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to mark job succeeded")
		}
		metrics.JobsProcessedTotal.WithLabelValues(string(job.Kind), "succeeded").Inc()

	case exhausted:
		log.Error().Err(handlerErr).
			Str("job_id", job.ID).
			Str("kind", string(job.Kind)).
			Int("attempts", job.AttemptCount+1).
			Msg("Job dead-lettered")
		if err := p.queue.MarkDead(ctx, job.ID, consumer, handlerErr.Error(), now); err != nil {
			log.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to mark job dead")
		}
		metrics.JobsProcessedTotal.WithLabelValues(string(job.Kind), "dead").Inc()

	default:
		next := now.Add(p.backoff(job.AttemptCount))
		log.Warn().Err(handlerErr).
			Str("job_id", job.ID).
			Str("kind", string(job.Kind)).
			Time("next_attempt_at", next).
			Msg("Job failed, scheduling retry")
		if err := p.queue.MarkRetry(ctx, job.ID, consumer, next, handlerErr.Error()); err != nil {
			log.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to mark job for retry")
		}
		metrics.JobsProcessedTotal.WithLabelValues(string(job.Kind), "retried").Inc()
	}
}

// backoff returns an exponential delay for the given completed attempt count,
// capped at RetryMaxDelay.
func (p *Pool) backoff(attempts int) time.Duration {
	delay := p.cfg.RetryBackoff
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= p.cfg.RetryMaxDelay {
			return p.cfg.RetryMaxDelay
		}
	}
	if delay > p.cfg.RetryMaxDelay {
		delay = p.cfg.RetryMaxDelay
	}
	return delay
}

// RunQueueDepthMetrics refreshes the queue depth gauge until ctx is cancelled.
func RunQueueDepthMetrics(ctx context.Context, queue *Queue, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			counts, err := queue.CountByStatus(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("Failed to count jobs for queue depth metrics")
				continue
			}
			for _, status := range []Status{StatusPending, StatusLeased, StatusSucceeded, StatusDead} {
				metrics.QueueDepth.WithLabelValues(string(status)).Set(float64(counts[status]))
			}
		}
	}
}
