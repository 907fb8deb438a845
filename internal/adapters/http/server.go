// Package httpadapter exposes the crawl and payment webhooks and the admin API.
package httpadapter

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"geoaudit/internal/domain"
	"geoaudit/internal/ports"
	"geoaudit/internal/services/audits"
)

const defaultReportLinkTTL = 15 * time.Minute

// Orchestrator is the part of the audit service driven over HTTP.
type Orchestrator interface {
	HandlePayment(ctx context.Context, orderID, paymentIntentID string) error
	CreateOrder(ctx context.Context, in audits.CreateOrderInput) (domain.AuditOrder, error)
	GetOrder(ctx context.Context, id string) (domain.AuditOrder, error)
	ListByProject(ctx context.Context, projectID string) ([]domain.AuditOrder, error)
	ListByUser(ctx context.Context, userID string) ([]domain.AuditOrder, error)
	ActiveOrders(ctx context.Context) ([]domain.AuditOrder, error)
	Retry(ctx context.Context, id, stage string) (domain.AuditOrder, error)
	RefundOrder(ctx context.Context, id string) (domain.AuditOrder, error)
	ReportLink(ctx context.Context, id string, ttl time.Duration) (string, error)
}

type Options struct {
	CrawlWebhookToken    string
	PaymentWebhookSecret string
	AdminToken           string
	ReportLinkTTL        time.Duration
	Logger               zerolog.Logger
	Now                  func() time.Time
}

type Server struct {
	audits Orchestrator
	jobs   ports.JobQueue
	opts   Options
	log    zerolog.Logger
	now    func() time.Time
}

func New(svc Orchestrator, jobs ports.JobQueue, opts Options) *Server {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.ReportLinkTTL <= 0 {
		opts.ReportLinkTTL = defaultReportLinkTTL
	}
	return &Server{
		audits: svc,
		jobs:   jobs,
		opts:   opts,
		log:    opts.Logger.With().Str("component", "http").Logger(),
		now:    opts.Now,
	}
}

// api/openapi.yaml documents these routes; the generated models are for API
// clients and are not checked in.
//go:generate sh -c "cd ../../.. && go run github.com/oapi-codegen/oapi-codegen/v2/cmd/oapi-codegen -config api/oapi-codegen.yaml api/openapi.yaml"

// Routes returns the chi router serving every endpoint.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		requestLogger(s.log),
		middleware.Recoverer,
	)

	r.Get("/healthz", s.healthz)

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/crawl", s.crawlWebhook)
		r.Post("/payment", s.paymentWebhook)
	})

	r.Route("/admin/audit-orders", func(r chi.Router) {
		r.Use(requireBearer(s.opts.AdminToken))
		r.Post("/", s.createOrder)
		r.Get("/", s.listOrders)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getOrder)
			r.Post("/retry/{stage}", s.retryOrder)
			r.Post("/refund", s.refundOrder)
			r.Get("/report-link", s.reportLink)
		})
	})
	return r
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
