// Package audits drives audit orders through crawl, analysis and report
// generation. Every handler starts from the persisted order status and treats
// a rejected transition as a duplicate delivery.
package audits

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"geoaudit/internal/domain"
	"geoaudit/internal/ports"
)

const defaultMaxManualRetries = 3

// Deps are the collaborators of the orchestration service.
type Deps struct {
	Orders   ports.AuditOrderRepository
	Jobs     ports.JobQueue
	Crawler  ports.CrawlAgent
	Analyzer ports.Analyzer
	Renderer ports.PdfRenderer
	Payment  ports.Payment
	Storage  ports.FileStorage
	Notifier ports.Notifier
	Briefs   ports.BriefAssembler
}

type Options struct {
	// MaxCrawlRetries caps automatic crawl re-triggers on retryable agent
	// errors. Zero disables them.
	MaxCrawlRetries int
	// MaxManualRetries caps administrative retries. Both share RetryCount.
	MaxManualRetries int
	Logger           zerolog.Logger
	Now              func() time.Time
}

type Service struct {
	orders   ports.AuditOrderRepository
	jobs     ports.JobQueue
	crawler  ports.CrawlAgent
	analyzer ports.Analyzer
	renderer ports.PdfRenderer
	storage  ports.FileStorage
	notifier ports.Notifier
	briefs   ports.BriefAssembler
	refunder *Refunder

	maxCrawlRetries  int
	maxManualRetries int
	log              zerolog.Logger
	now              func() time.Time
}

func New(deps Deps, opts Options) *Service {
	if opts.MaxCrawlRetries < 0 {
		opts.MaxCrawlRetries = 0
	}
	if opts.MaxManualRetries <= 0 {
		opts.MaxManualRetries = defaultMaxManualRetries
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		orders:           deps.Orders,
		jobs:             deps.Jobs,
		crawler:          deps.Crawler,
		analyzer:         deps.Analyzer,
		renderer:         deps.Renderer,
		storage:          deps.Storage,
		notifier:         deps.Notifier,
		briefs:           deps.Briefs,
		refunder:         NewRefunder(deps.Orders, deps.Payment, opts.Logger, opts.Now),
		maxCrawlRetries:  opts.MaxCrawlRetries,
		maxManualRetries: opts.MaxManualRetries,
		log:              opts.Logger,
		now:              opts.Now,
	}
}

func (s *Service) Refunder() *Refunder { return s.refunder }

func (s *Service) logFor(useCase, orderID string) zerolog.Logger {
	return s.log.With().Str("use_case", useCase).Str("audit_order_id", orderID).Logger()
}

// loadActive fetches an order for a job handler. A missing order is logged
// and reported as ok=false so the job is dropped instead of retried.
func (s *Service) loadActive(ctx context.Context, log zerolog.Logger, id string) (domain.AuditOrder, bool, error) {
	order, err := s.orders.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn().Msg("audit order not found, dropping job")
		return order, false, nil
	}
	if err != nil {
		return order, false, err
	}
	return order, true, nil
}

// save persists next. A stale write means a concurrent delivery already moved
// the order; callers get ok=false and stop without error.
func (s *Service) save(ctx context.Context, log zerolog.Logger, next domain.AuditOrder) (domain.AuditOrder, bool, error) {
	saved, err := s.orders.Save(ctx, next)
	if errors.Is(err, domain.ErrStaleOrder) {
		log.Info().Str("status", string(next.Status)).Msg("order changed concurrently, skipping")
		return next, false, nil
	}
	if err != nil {
		return next, false, err
	}
	return saved, true, nil
}

// failAndCompensate moves a live order to FAILED, refunds and notifies.
// It is a no-op for orders that already left the live states.
func (s *Service) failAndCompensate(ctx context.Context, log zerolog.Logger, order domain.AuditOrder, reason string) error {
	failed, err := order.MarkFailed(reason, s.now())
	if errors.Is(err, domain.ErrInvalidTransition) {
		log.Info().Str("status", string(order.Status)).Msg("order already terminal, not failing again")
		return nil
	}
	if err != nil {
		return err
	}
	return s.compensate(ctx, log, failed)
}

// compensate persists an order already in a failure terminal, then runs the
// best-effort refund and failure notification.
func (s *Service) compensate(ctx context.Context, log zerolog.Logger, failed domain.AuditOrder) error {
	saved, ok, err := s.save(ctx, log, failed)
	if err != nil || !ok {
		return err
	}
	log.Warn().Str("status", string(saved.Status)).Str("reason", saved.FailureReason).Msg("audit failed")
	saved = s.refunder.Execute(ctx, saved)
	if err := s.notifier.AuditFailed(ctx, saved); err != nil {
		log.Error().Err(err).Msg("failure notification not sent")
	}
	return nil
}
