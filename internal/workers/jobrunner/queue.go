package jobrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"geoaudit/internal/ports"
)

// Queue names, one per stage.
const (
	QueueRun         = "audit-run"
	QueueCrawlResult = "audit-crawl-result"
	QueueAnalyze     = "audit-analyze"
	QueueReport      = "audit-report"
	QueueTimeout     = "audit-timeout"
)

// QueueConfig configures one named queue.
type QueueConfig struct {
	Name        string
	Kinds       []ports.JobKind
	Concurrency int
	MaxAttempts int
	Backoff     BackoffConfig
}

// DefaultQueues is the stage table. The run and report queues stay at
// concurrency 1: the crawl agent is sequential per account and PDF rendering
// is memory bound.
func DefaultQueues() []QueueConfig {
	return []QueueConfig{
		{Name: QueueRun, Kinds: []ports.JobKind{ports.KindRunAudit}, Concurrency: 1, MaxAttempts: 3, Backoff: DefaultBackoff()},
		{Name: QueueCrawlResult, Kinds: []ports.JobKind{ports.KindCrawlComplete}, Concurrency: 4, MaxAttempts: 5, Backoff: DefaultBackoff()},
		{Name: QueueAnalyze, Kinds: []ports.JobKind{ports.KindAnalyzeObservations}, Concurrency: 2, MaxAttempts: 3, Backoff: DefaultBackoff()},
		{Name: QueueReport, Kinds: []ports.JobKind{ports.KindGenerateReport}, Concurrency: 1, MaxAttempts: 3, Backoff: DefaultBackoff()},
		{Name: QueueTimeout, Kinds: []ports.JobKind{ports.KindCheckTimeout}, Concurrency: 2, MaxAttempts: 3, Backoff: DefaultBackoff()},
	}
}

// Queue routes jobs to their configured queue and writes them to a JobStore.
type Queue struct {
	store  ports.JobStore
	routes map[ports.JobKind]QueueConfig
	now    func() time.Time
}

func NewQueue(store ports.JobStore, queues []QueueConfig) (*Queue, error) {
	routes := make(map[ports.JobKind]QueueConfig)
	for _, q := range queues {
		for _, k := range q.Kinds {
			if prev, dup := routes[k]; dup {
				return nil, fmt.Errorf("job kind %s routed to both %s and %s", k, prev.Name, q.Name)
			}
			routes[k] = q
		}
	}
	return &Queue{store: store, routes: routes, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (q *Queue) Enqueue(ctx context.Context, job ports.Job) error {
	return q.EnqueueIn(ctx, job, 0)
}

// EnqueueIn schedules job to become claimable after delay.
func (q *Queue) EnqueueIn(ctx context.Context, job ports.Job, delay time.Duration) error {
	cfg, ok := q.routes[job.Kind()]
	if !ok {
		return fmt.Errorf("no queue configured for job kind %s", job.Kind())
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode %s job: %w", job.Kind(), err)
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if delay < 0 {
		delay = 0
	}
	rec := ports.JobRecord{
		ID:          uuid.NewString(),
		Queue:       cfg.Name,
		Kind:        job.Kind(),
		Payload:     payload,
		MaxAttempts: maxAttempts,
		RunAt:       q.now().Add(delay),
	}
	if err := q.store.Insert(ctx, rec); err != nil {
		return fmt.Errorf("enqueue %s job: %w", job.Kind(), err)
	}
	return nil
}

var _ ports.JobQueue = (*Queue)(nil)
