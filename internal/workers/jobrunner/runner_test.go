package jobrunner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"geoaudit/internal/adapters/memory"
	"geoaudit/internal/ports"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var testQueues = []QueueConfig{
	{Name: QueueAnalyze, Kinds: []ports.JobKind{ports.KindAnalyzeObservations}, Concurrency: 2, MaxAttempts: 3, Backoff: DefaultBackoff()},
	{Name: QueueTimeout, Kinds: []ports.JobKind{ports.KindCheckTimeout}, Concurrency: 1, MaxAttempts: 1, Backoff: DefaultBackoff()},
}

type exhausted struct {
	job ports.Job
	err error
}

func setup(t *testing.T, handlers Registry) (*Runner, *memory.JobStore, *testClock, *[]exhausted) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	store := memory.NewJobStore(clock.Now)
	var calls []exhausted
	r, err := New(store, testQueues, handlers, Options{
		OnExhausted: func(ctx context.Context, job ports.Job, err error) { calls = append(calls, exhausted{job, err}) },
		Logger:      zerolog.Nop(),
		Now:         clock.Now,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r, store, clock, &calls
}

func insert(t *testing.T, store *memory.JobStore, clock *testClock, id, queue string, kind ports.JobKind, payload string, maxAttempts int) {
	t.Helper()
	err := store.Insert(context.Background(), ports.JobRecord{
		ID: id, Queue: queue, Kind: kind, Payload: []byte(payload), MaxAttempts: maxAttempts, RunAt: clock.Now(),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestNew_RequiresHandlerPerRoutedKind(t *testing.T) {
	store := memory.NewJobStore(nil)
	_, err := New(store, testQueues, Registry{
		ports.KindAnalyzeObservations: func(context.Context, ports.Job) error { return nil },
	}, Options{})
	if err == nil || !strings.Contains(err.Error(), string(ports.KindCheckTimeout)) {
		t.Fatalf("err = %v, want missing handler for check_timeout", err)
	}
}

func TestProcessOnce_SuccessCompletesJob(t *testing.T) {
	var got ports.AnalyzeObservationsJob
	r, store, clock, _ := setup(t, Registry{
		ports.KindAnalyzeObservations: Handle(func(ctx context.Context, j ports.AnalyzeObservationsJob) error {
			got = j
			return nil
		}),
		ports.KindCheckTimeout: Handle(func(context.Context, ports.CheckTimeoutJob) error { return nil }),
	})
	insert(t, store, clock, "job_1", QueueAnalyze, ports.KindAnalyzeObservations, `{"auditOrderId":"ord_1"}`, 3)

	claimed, err := r.ProcessOnce(context.Background(), QueueAnalyze)
	if err != nil || !claimed {
		t.Fatalf("ProcessOnce = %v, %v", claimed, err)
	}
	if got.AuditOrderID != "ord_1" {
		t.Fatalf("handler got %+v", got)
	}
	if n := len(store.Jobs(memory.JobCompleted)); n != 1 {
		t.Fatalf("completed jobs = %d, want 1", n)
	}

	claimed, err = r.ProcessOnce(context.Background(), QueueAnalyze)
	if err != nil || claimed {
		t.Fatalf("empty queue ProcessOnce = %v, %v", claimed, err)
	}
}

func TestProcessOnce_FailureSchedulesRetryThenExhausts(t *testing.T) {
	boom := errors.New("analyzer: 503")
	r, store, clock, calls := setup(t, Registry{
		ports.KindAnalyzeObservations: Handle(func(context.Context, ports.AnalyzeObservationsJob) error { return boom }),
		ports.KindCheckTimeout:        Handle(func(context.Context, ports.CheckTimeoutJob) error { return nil }),
	})
	insert(t, store, clock, "job_1", QueueAnalyze, ports.KindAnalyzeObservations, `{"auditOrderId":"ord_1"}`, 3)
	ctx := context.Background()

	for attempt := 1; attempt <= 3; attempt++ {
		claimed, err := r.ProcessOnce(ctx, QueueAnalyze)
		if !claimed || !errors.Is(err, boom) {
			t.Fatalf("attempt %d: ProcessOnce = %v, %v", attempt, claimed, err)
		}
		if attempt < 3 {
			queued := store.Jobs(memory.JobQueued)
			if len(queued) != 1 || queued[0].LastError != boom.Error() || queued[0].Attempts != attempt {
				t.Fatalf("attempt %d: queued = %+v", attempt, queued)
			}
			if queued[0].RunAt.After(clock.Now().Add(2 * time.Minute)) {
				t.Fatalf("retry scheduled too late: %v", queued[0].RunAt)
			}
			clock.Advance(2*time.Minute + time.Second)
		}
	}

	if n := len(store.Jobs(memory.JobFailed)); n != 1 {
		t.Fatalf("failed jobs = %d, want 1", n)
	}
	if len(*calls) != 1 || (*calls)[0].job.OrderID() != "ord_1" || !errors.Is((*calls)[0].err, boom) {
		t.Fatalf("exhausted calls = %+v", *calls)
	}
}

func TestProcessOnce_PanicIsAFailure(t *testing.T) {
	r, store, clock, calls := setup(t, Registry{
		ports.KindAnalyzeObservations: Handle(func(context.Context, ports.AnalyzeObservationsJob) error { return nil }),
		ports.KindCheckTimeout: Handle(func(context.Context, ports.CheckTimeoutJob) error {
			panic("nil map")
		}),
	})
	insert(t, store, clock, "job_1", QueueTimeout, ports.KindCheckTimeout, `{"auditOrderId":"ord_1"}`, 1)

	_, err := r.ProcessOnce(context.Background(), QueueTimeout)
	if !errors.Is(err, ErrHandlerPanic) {
		t.Fatalf("err = %v, want ErrHandlerPanic", err)
	}
	if len(*calls) != 1 {
		t.Fatalf("exhausted calls = %d, want 1", len(*calls))
	}
}

func TestProcessOnce_UndecodableJobIsDropped(t *testing.T) {
	called := false
	r, store, clock, calls := setup(t, Registry{
		ports.KindAnalyzeObservations: Handle(func(context.Context, ports.AnalyzeObservationsJob) error {
			called = true
			return nil
		}),
		ports.KindCheckTimeout: Handle(func(context.Context, ports.CheckTimeoutJob) error { return nil }),
	})
	insert(t, store, clock, "job_1", QueueAnalyze, ports.KindAnalyzeObservations, `{"auditOrderId":""}`, 3)

	if _, err := r.ProcessOnce(context.Background(), QueueAnalyze); err == nil {
		t.Fatal("expected decode error")
	}
	if called || len(*calls) != 0 {
		t.Fatalf("handler called = %v, exhausted = %d", called, len(*calls))
	}
	if n := len(store.Jobs(memory.JobFailed)); n != 1 {
		t.Fatalf("failed jobs = %d, want 1", n)
	}
}

func TestProcessOnce_UnknownQueue(t *testing.T) {
	r, _, _, _ := setup(t, Registry{
		ports.KindAnalyzeObservations: Handle(func(context.Context, ports.AnalyzeObservationsJob) error { return nil }),
		ports.KindCheckTimeout:        Handle(func(context.Context, ports.CheckTimeoutJob) error { return nil }),
	})
	if _, err := r.ProcessOnce(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for unknown queue")
	}
}

func TestQueue_RoutesAndDelays(t *testing.T) {
	store := memory.NewJobStore(nil)
	q, err := NewQueue(store, DefaultQueues())
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	ctx := context.Background()
	before := time.Now().UTC()
	if err := q.EnqueueIn(ctx, ports.CheckTimeoutJob{AuditOrderID: "ord_1"}, 15*time.Minute); err != nil {
		t.Fatalf("EnqueueIn: %v", err)
	}
	if err := q.Enqueue(ctx, ports.CrawlCompleteJob{AuditOrderID: "ord_1", Status: "completed"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	jobs := store.Jobs("")
	if len(jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(jobs))
	}
	if jobs[0].Queue != QueueTimeout || jobs[0].RunAt.Before(before.Add(15*time.Minute)) {
		t.Fatalf("timeout job = %+v", jobs[0])
	}
	if jobs[1].Queue != QueueCrawlResult || jobs[1].MaxAttempts != 5 {
		t.Fatalf("crawl job = %+v", jobs[1])
	}
	decoded, err := ports.DecodeJob(jobs[1].Kind, jobs[1].Payload)
	if err != nil || decoded.(ports.CrawlCompleteJob).Status != "completed" {
		t.Fatalf("decoded = %+v, %v", decoded, err)
	}

	if _, err := NewQueue(store, append(DefaultQueues(), QueueConfig{Name: "dup", Kinds: []ports.JobKind{ports.KindRunAudit}})); err == nil {
		t.Fatal("expected duplicate route error")
	}
}

func TestRun_DrainsQueuesUntilCancelled(t *testing.T) {
	store := memory.NewJobStore(nil)
	done := make(chan string, 3)
	r, err := New(store, testQueues, Registry{
		ports.KindAnalyzeObservations: Handle(func(ctx context.Context, j ports.AnalyzeObservationsJob) error {
			done <- j.AuditOrderID
			return nil
		}),
		ports.KindCheckTimeout: Handle(func(ctx context.Context, j ports.CheckTimeoutJob) error {
			done <- j.AuditOrderID
			return nil
		}),
	}, Options{PollInterval: 10 * time.Millisecond, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	q, err := NewQueue(store, testQueues)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	for _, job := range []ports.Job{
		ports.AnalyzeObservationsJob{AuditOrderID: "a"},
		ports.AnalyzeObservationsJob{AuditOrderID: "b"},
		ports.CheckTimeoutJob{AuditOrderID: "c"},
	} {
		if err := q.Enqueue(ctx, job); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	stopped := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(stopped)
	}()

	seen := map[string]bool{}
	timeout := time.After(5 * time.Second)
	for len(seen) < 3 {
		select {
		case id := <-done:
			seen[id] = true
		case <-timeout:
			t.Fatalf("only processed %v", seen)
		}
	}
	cancel()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
