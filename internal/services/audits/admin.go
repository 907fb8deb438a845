package audits

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"geoaudit/internal/domain"
	"geoaudit/internal/ports"
)

// ErrRefundNotIssued is returned by a manual refund the provider did not complete.
var ErrRefundNotIssued = errors.New("refund was not issued")

// Retry stages accepted by Retry.
const (
	StageCrawl    = "crawl"
	StageAnalysis = "analysis"
	StagePdf      = "pdf"
)

type CreateOrderInput struct {
	UserID      string
	ProjectID   string
	AmountCents int64
	Currency    string
	Brief       json.RawMessage
}

// CreateOrder registers a checkout in PENDING.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (domain.AuditOrder, error) {
	if len(in.Brief) > 0 && !json.Valid(in.Brief) {
		return domain.AuditOrder{}, domain.NewError(domain.CodeInvalidInput, "brief must be valid JSON", domain.ErrInvalidInput)
	}
	order, err := domain.NewAuditOrder(uuid.NewString(), in.UserID, in.ProjectID, in.AmountCents, in.Currency, in.Brief, s.now())
	if err != nil {
		return order, err
	}
	created, err := s.orders.Create(ctx, order)
	if err != nil {
		return order, fmt.Errorf("create order: %w", err)
	}
	log := s.logFor("create_order", created.ID)
	log.Info().Str("project_id", created.ProjectID).Int64("amount_cents", created.AmountCents).Msg("order created")
	return created, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (domain.AuditOrder, error) {
	return s.orders.Get(ctx, id)
}

func (s *Service) ListByProject(ctx context.Context, projectID string) ([]domain.AuditOrder, error) {
	return s.orders.ListByProject(ctx, projectID)
}

func (s *Service) ListByUser(ctx context.Context, userID string) ([]domain.AuditOrder, error) {
	return s.orders.ListByUser(ctx, userID)
}

// ActiveOrders lists orders currently moving through the pipeline.
func (s *Service) ActiveOrders(ctx context.Context) ([]domain.AuditOrder, error) {
	return s.orders.ListActive(ctx)
}

// Retry restarts a failed order from stage. Manual retries share the order's
// retry counter and stop at the manual cap.
func (s *Service) Retry(ctx context.Context, id, stage string) (domain.AuditOrder, error) {
	switch stage {
	case StageCrawl:
		return s.RetryCrawl(ctx, id)
	case StageAnalysis:
		return s.RetryAnalysis(ctx, id)
	case StagePdf:
		return s.RetryReport(ctx, id)
	default:
		return domain.AuditOrder{}, domain.NewError(domain.CodeInvalidInput, fmt.Sprintf("unknown retry stage %q", stage), domain.ErrInvalidInput)
	}
}

func (s *Service) RetryCrawl(ctx context.Context, id string) (domain.AuditOrder, error) {
	return s.retry(ctx, id, StageCrawl, domain.AuditOrder.ResetForCrawlRetry, ports.RunAuditJob{AuditOrderID: id})
}

func (s *Service) RetryAnalysis(ctx context.Context, id string) (domain.AuditOrder, error) {
	return s.retry(ctx, id, StageAnalysis, domain.AuditOrder.ResetForAnalysisRetry, ports.AnalyzeObservationsJob{AuditOrderID: id})
}

func (s *Service) RetryReport(ctx context.Context, id string) (domain.AuditOrder, error) {
	return s.retry(ctx, id, StagePdf, domain.AuditOrder.ResetForPdfRetry, ports.GenerateReportJob{AuditOrderID: id})
}

func (s *Service) retry(ctx context.Context, id, stage string, reset func(domain.AuditOrder, time.Time) (domain.AuditOrder, error), next ports.Job) (domain.AuditOrder, error) {
	log := s.logFor("retry_"+stage, id)

	order, err := s.orders.Get(ctx, id)
	if err != nil {
		return order, err
	}
	now := s.now()
	bumped, err := order.IncrementRetry(s.maxManualRetries, now)
	if err != nil {
		return order, err
	}
	restarted, err := reset(bumped, now)
	if err != nil {
		return order, err
	}
	saved, err := s.orders.Save(ctx, restarted)
	if err != nil {
		return order, err
	}
	if err := s.jobs.Enqueue(ctx, next); err != nil {
		return saved, fmt.Errorf("enqueue %s: %w", next.Kind(), err)
	}
	log.Info().Int("retry_count", saved.RetryCount).Str("status", string(saved.Status)).Msg("manual retry scheduled")
	return saved, nil
}

// RefundOrder is the manual refund path for failed orders whose automatic
// refund did not go through.
func (s *Service) RefundOrder(ctx context.Context, id string) (domain.AuditOrder, error) {
	order, err := s.orders.Get(ctx, id)
	if err != nil {
		return order, err
	}
	if !order.CanBeRefunded() {
		return order, domain.NewError(domain.CodeInvalidTransition, "order cannot be refunded", domain.ErrInvalidTransition)
	}
	refunded := s.refunder.Execute(ctx, order)
	if !refunded.IsRefunded() {
		return order, ErrRefundNotIssued
	}
	return refunded, nil
}

// ReportLink returns a time-limited download URL for the order's report.
func (s *Service) ReportLink(ctx context.Context, id string, ttl time.Duration) (string, error) {
	order, err := s.orders.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if !order.HasReport() {
		return "", domain.NewError(domain.CodeNotFound, "report is not available yet", domain.ErrNotFound)
	}
	return s.storage.SignedURL(ctx, order.ReportURL, ttl)
}
