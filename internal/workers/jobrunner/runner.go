package jobrunner

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"geoaudit/internal/ports"
)

// HandlerFunc executes one job. A returned error makes the job eligible for retry.
type HandlerFunc func(ctx context.Context, job ports.Job) error

// Registry maps job kinds to their handlers.
type Registry map[ports.JobKind]HandlerFunc

// ExhaustedFunc is called once a job has failed its last attempt.
type ExhaustedFunc func(ctx context.Context, job ports.Job, err error)

type Options struct {
	PollInterval time.Duration
	// Lease is how long a claimed job stays invisible to other workers.
	Lease       time.Duration
	OnExhausted ExhaustedFunc
	Logger      zerolog.Logger
	Now         func() time.Time
	RNG         *rand.Rand
}

// Runner claims jobs from a JobStore and runs them on per-queue worker pools.
type Runner struct {
	store       ports.JobStore
	queues      []QueueConfig
	handlers    Registry
	onExhausted ExhaustedFunc
	log         zerolog.Logger
	poll        time.Duration
	lease       time.Duration
	now         func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

func New(store ports.JobStore, queues []QueueConfig, handlers Registry, opts Options) (*Runner, error) {
	for _, q := range queues {
		for _, k := range q.Kinds {
			if handlers[k] == nil {
				return nil, fmt.Errorf("queue %s: no handler registered for %s", q.Name, k)
			}
		}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.Lease <= 0 {
		opts.Lease = 10 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.RNG == nil {
		opts.RNG = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Runner{
		store:       store,
		queues:      queues,
		handlers:    handlers,
		onExhausted: opts.OnExhausted,
		log:         opts.Logger,
		poll:        opts.PollInterval,
		lease:       opts.Lease,
		now:         opts.Now,
		rng:         opts.RNG,
	}, nil
}

// Run starts a dispatcher and Concurrency workers per queue and blocks until
// ctx is cancelled and every worker has returned.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, q := range r.queues {
		if q.Concurrency < 1 {
			continue
		}
		r.runQueue(ctx, q, &wg)
		r.log.Info().Str("queue", q.Name).Int("concurrency", q.Concurrency).Msg("jobrunner: queue started")
	}
	wg.Wait()
	r.log.Info().Msg("jobrunner: stopped")
}

func (r *Runner) runQueue(ctx context.Context, q QueueConfig, wg *sync.WaitGroup) {
	// unbuffered: a job is only claimed once a worker is ready for it
	jobsCh := make(chan ports.JobRecord)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(jobsCh)
		ticker := time.NewTicker(r.poll)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			for {
				rec, found, err := r.store.ClaimNext(ctx, q.Name, r.lease)
				if err != nil {
					if ctx.Err() == nil {
						r.log.Error().Err(err).Str("queue", q.Name).Msg("jobrunner: claim failed")
					}
					break
				}
				if !found {
					break
				}
				select {
				case jobsCh <- rec:
				case <-ctx.Done():
					// lease expiry hands the claimed job to the next process
					return
				}
			}
		}
	}()

	for i := 0; i < q.Concurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for rec := range jobsCh {
				if err := r.execute(ctx, q, rec); err != nil {
					r.log.Warn().Err(err).Str("queue", q.Name).Int("worker", idx).
						Str("job_id", rec.ID).Str("kind", string(rec.Kind)).Int("attempt", rec.Attempts).
						Msg("jobrunner: job attempt failed")
				}
			}
		}(i)
	}
}

// ProcessOnce claims and runs at most one job from queue synchronously.
// It reports whether a job was claimed and returns the handler error.
func (r *Runner) ProcessOnce(ctx context.Context, queue string) (bool, error) {
	var cfg *QueueConfig
	for i := range r.queues {
		if r.queues[i].Name == queue {
			cfg = &r.queues[i]
			break
		}
	}
	if cfg == nil {
		return false, fmt.Errorf("unknown queue %q", queue)
	}
	rec, found, err := r.store.ClaimNext(ctx, queue, r.lease)
	if err != nil || !found {
		return false, err
	}
	return true, r.execute(ctx, *cfg, rec)
}

func (r *Runner) execute(ctx context.Context, q QueueConfig, rec ports.JobRecord) error {
	log := r.log.With().Str("queue", q.Name).Str("job_id", rec.ID).Str("kind", string(rec.Kind)).Logger()

	job, err := ports.DecodeJob(rec.Kind, rec.Payload)
	if err != nil {
		log.Error().Err(err).Msg("jobrunner: dropping undecodable job")
		if mErr := r.store.MarkFailed(ctx, rec.ID, err.Error()); mErr != nil {
			log.Error().Err(mErr).Msg("jobrunner: mark failed")
		}
		return err
	}
	handler := r.handlers[rec.Kind]
	if handler == nil {
		err := fmt.Errorf("no handler for job kind %s", rec.Kind)
		if mErr := r.store.MarkFailed(ctx, rec.ID, err.Error()); mErr != nil {
			log.Error().Err(mErr).Msg("jobrunner: mark failed")
		}
		return err
	}

	herr := call(ctx, handler, job)
	if herr == nil {
		if err := r.store.MarkCompleted(ctx, rec.ID); err != nil {
			log.Error().Err(err).Msg("jobrunner: mark completed")
		}
		return nil
	}

	if rec.Attempts < rec.MaxAttempts {
		next := r.nextRetryAt(rec.Attempts, q.Backoff)
		if err := r.store.MarkRetry(ctx, rec.ID, herr.Error(), next); err != nil {
			log.Error().Err(err).Msg("jobrunner: schedule retry")
		}
		return herr
	}

	log.Error().Err(herr).Int("attempts", rec.Attempts).Str("audit_order_id", job.OrderID()).Msg("jobrunner: job exhausted retries")
	if err := r.store.MarkFailed(ctx, rec.ID, herr.Error()); err != nil {
		log.Error().Err(err).Msg("jobrunner: mark failed")
	}
	if r.onExhausted != nil {
		r.onExhausted(ctx, job, herr)
	}
	return herr
}

func (r *Runner) nextRetryAt(attempt int, cfg BackoffConfig) time.Time {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	return NextRetryAt(r.now(), attempt, cfg, r.rng)
}

// ErrHandlerPanic wraps a recovered handler panic.
var ErrHandlerPanic = errors.New("job handler panicked")

func call(ctx context.Context, h HandlerFunc, job ports.Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, p)
		}
	}()
	return h(ctx, job)
}
