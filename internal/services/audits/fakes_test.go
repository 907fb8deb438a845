package audits

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"geoaudit/internal/adapters/memory"
	"geoaudit/internal/domain"
	"geoaudit/internal/ports"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type queuedJob struct {
	job   ports.Job
	delay time.Duration
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []queuedJob
	err  error
}

func (q *fakeQueue) Enqueue(ctx context.Context, job ports.Job) error {
	return q.EnqueueIn(ctx, job, 0)
}

func (q *fakeQueue) EnqueueIn(ctx context.Context, job ports.Job, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, queuedJob{job: job, delay: delay})
	return nil
}

func (q *fakeQueue) ofKind(kind ports.JobKind) []queuedJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []queuedJob
	for _, j := range q.jobs {
		if j.job.Kind() == kind {
			out = append(out, j)
		}
	}
	return out
}

type fakeCrawler struct {
	calls  int
	briefs []domain.Brief
	err    error
}

func (c *fakeCrawler) Trigger(ctx context.Context, brief domain.Brief) (string, error) {
	c.calls++
	c.briefs = append(c.briefs, brief)
	if c.err != nil {
		return "", c.err
	}
	return fmt.Sprintf("agent_%d", c.calls), nil
}

type fakeAnalyzer struct {
	calls    int
	analysis domain.StructuredAnalysis
	raw      []byte
	err      error
}

func (a *fakeAnalyzer) Analyze(ctx context.Context, obs domain.Observations, brand domain.BrandContext) (domain.StructuredAnalysis, []byte, error) {
	a.calls++
	return a.analysis, a.raw, a.err
}

type fakeRenderer struct {
	calls int
	err   error
}

func (r *fakeRenderer) GenerateReport(ctx context.Context, order domain.AuditOrder) (string, error) {
	r.calls++
	if r.err != nil {
		return "", r.err
	}
	return "audits/" + order.ID + "/report.pdf", nil
}

type fakePayment struct {
	intents []string
	err     error
}

func (p *fakePayment) Refund(ctx context.Context, paymentIntentID string) (ports.Refund, error) {
	p.intents = append(p.intents, paymentIntentID)
	if p.err != nil {
		return ports.Refund{}, p.err
	}
	return ports.Refund{ID: "re_" + paymentIntentID, Status: "succeeded", Amount: 4900}, nil
}

type fakeStorage struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploadErr error
}

func newFakeStorage() *fakeStorage { return &fakeStorage{objects: make(map[string][]byte)} }

func (s *fakeStorage) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploadErr != nil {
		return s.uploadErr
	}
	s.objects[key] = append([]byte(nil), data...)
	return nil
}

func (s *fakeStorage) Download(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, errors.New("object not found: " + key)
	}
	return data, nil
}

func (s *fakeStorage) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://files.test/%s?ttl=%d", key, int(ttl.Seconds())), nil
}

func (s *fakeStorage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

type fakeNotifier struct {
	ready  []string
	failed []string
}

func (n *fakeNotifier) ReportReady(ctx context.Context, order domain.AuditOrder) error {
	n.ready = append(n.ready, order.ID)
	return nil
}

func (n *fakeNotifier) AuditFailed(ctx context.Context, order domain.AuditOrder) error {
	n.failed = append(n.failed, order.ID)
	return nil
}

type fakeBriefs struct{ err error }

func (b *fakeBriefs) Assemble(ctx context.Context, order domain.AuditOrder) (domain.Brief, error) {
	if b.err != nil {
		return domain.Brief{}, b.err
	}
	return testBrief(order.ID), nil
}

func testBrief(orderID string) domain.Brief {
	return domain.Brief{
		AuditID:     orderID,
		Brand:       domain.Brand{Name: "Acme", Domain: "acme.fr"},
		Competitors: []domain.Competitor{{Name: "Rival", Domain: "rival.fr"}},
		Locale:      "fr-FR",
	}
}

const testObservations = `{
	"client": {"name": "Acme", "domain": "acme.fr", "pagesCrawled": 12, "hasFaq": true, "avgWordCount": 640, "citationCount": 3},
	"competitors": [
		{"name": "Rival", "domain": "www.rival.fr", "pagesCrawled": 8, "hasBlog": true, "citationCount": 9},
		{"name": "Other", "domain": "other.com", "pagesCrawled": 5}
	]
}`

func testAnalysis() domain.StructuredAnalysis {
	return domain.StructuredAnalysis{
		GeoScore: 65,
		Verdict:  "correcte",
		Findings: []domain.Finding{
			{Title: "No FAQ schema", Severity: domain.SeverityMedium},
			{Title: "Invisible in AI answers", Severity: domain.SeverityCritical},
			{Title: "Thin product pages", Severity: domain.SeverityHigh},
			{Title: "Few citations", Severity: domain.SeverityLow},
		},
		Actions: []domain.Action{
			{Title: "Add Organization schema", Tier: domain.SeverityCritical},
			{Title: "Publish comparison pages", Tier: domain.SeverityHigh},
			{Title: "Answer top prompts", Tier: domain.SeverityHigh},
		},
		ExternalPresence: &domain.ExternalPresenceScore{Score: 40},
		Competitors:      []domain.CompetitorInsight{{Name: "Rival", Domain: "rival.fr"}},
	}
}

type harness struct {
	svc      *Service
	clock    *clock
	orders   *memory.OrderRepository
	queue    *fakeQueue
	crawler  *fakeCrawler
	analyzer *fakeAnalyzer
	renderer *fakeRenderer
	payment  *fakePayment
	storage  *fakeStorage
	notifier *fakeNotifier
	briefs   *fakeBriefs
}

const defaultMaxCrawlRetries = 2

func newHarness(t *testing.T) *harness {
	return newHarnessWith(t, Options{MaxCrawlRetries: defaultMaxCrawlRetries})
}

func newHarnessWith(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		clock:    &clock{now: t0},
		orders:   memory.NewOrderRepository(),
		queue:    &fakeQueue{},
		crawler:  &fakeCrawler{},
		analyzer: &fakeAnalyzer{analysis: testAnalysis(), raw: []byte(`{"geoScore":65}`)},
		renderer: &fakeRenderer{},
		payment:  &fakePayment{},
		storage:  newFakeStorage(),
		notifier: &fakeNotifier{},
		briefs:   &fakeBriefs{},
	}
	opts.Logger = zerolog.Nop()
	opts.Now = h.clock.Now
	h.svc = New(Deps{
		Orders:   h.orders,
		Jobs:     h.queue,
		Crawler:  h.crawler,
		Analyzer: h.analyzer,
		Renderer: h.renderer,
		Payment:  h.payment,
		Storage:  h.storage,
		Notifier: h.notifier,
		Briefs:   h.briefs,
	}, opts)
	return h
}

// seed creates an order and walks it to status through the public transitions.
func (h *harness) seed(t *testing.T, id string, status domain.Status) domain.AuditOrder {
	t.Helper()
	brief, err := testBrief(id).Marshal()
	if err != nil {
		t.Fatalf("marshal brief: %v", err)
	}
	order, err := domain.NewAuditOrder(id, "user_1", "project_1", 4900, "EUR", brief, h.clock.Now())
	if err != nil {
		t.Fatalf("NewAuditOrder: %v", err)
	}
	steps := map[domain.Status][]func(domain.AuditOrder) (domain.AuditOrder, error){
		domain.StatusPending: nil,
		domain.StatusPaid:    {markPaid},
		domain.StatusCrawling: {
			markPaid,
			func(o domain.AuditOrder) (domain.AuditOrder, error) { return o.MarkCrawling("agent_0", t0) },
		},
		domain.StatusAnalyzing: {
			markPaid,
			func(o domain.AuditOrder) (domain.AuditOrder, error) { return o.MarkCrawling("agent_0", t0) },
			func(o domain.AuditOrder) (domain.AuditOrder, error) {
				return o.MarkAnalyzing(observationsKey(id), domain.PageCounts{Client: 12, Competitors: 13}, []string{"Rival", "Other"}, false, t0)
			},
		},
	}
	fns, ok := steps[status]
	if !ok {
		t.Fatalf("seed: unsupported status %s", status)
	}
	for _, fn := range fns {
		if order, err = fn(order); err != nil {
			t.Fatalf("seed %s: %v", status, err)
		}
	}
	created, err := h.orders.Create(context.Background(), order)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if status == domain.StatusAnalyzing {
		h.storage.objects[observationsKey(id)] = []byte(testObservations)
	}
	return created
}

func markPaid(o domain.AuditOrder) (domain.AuditOrder, error) { return o.MarkPaid("pi_1", t0) }

func (h *harness) get(t *testing.T, id string) domain.AuditOrder {
	t.Helper()
	o, err := h.orders.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return o
}

func completedJob(id string) ports.CrawlCompleteJob {
	return ports.CrawlCompleteJob{
		AuditOrderID: id,
		AgentID:      "agent_0",
		Status:       CrawlStatusCompleted,
		Observations: json.RawMessage(testObservations),
	}
}
