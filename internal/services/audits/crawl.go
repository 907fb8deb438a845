package audits

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"geoaudit/internal/domain"
	"geoaudit/internal/ports"
)

// Crawl callback statuses.
const (
	CrawlStatusCompleted = "completed"
	CrawlStatusPartial   = "partial"
	CrawlStatusFailed    = "failed"
)

// retryableCrawlErrors are agent error codes worth a fresh crawl run.
var retryableCrawlErrors = map[string]bool{
	"TIMEOUT":           true,
	"RATE_LIMITED":      true,
	"NAVIGATION_ERROR":  true,
	"AGENT_UNAVAILABLE": true,
	"NETWORK_ERROR":     true,
}

// IsRetryableCrawlError reports whether the agent error code is transient.
func IsRetryableCrawlError(code string) bool {
	return retryableCrawlErrors[strings.ToUpper(strings.TrimSpace(code))]
}

func observationsKey(orderID string) string { return "audits/" + orderID + "/observations.json" }

// HandleCrawlComplete processes an accepted crawl callback.
func (s *Service) HandleCrawlComplete(ctx context.Context, job ports.CrawlCompleteJob) error {
	log := s.logFor("handle_crawl_complete", job.AuditOrderID).With().Str("crawl_status", job.Status).Logger()

	order, ok, err := s.loadActive(ctx, log, job.AuditOrderID)
	if err != nil || !ok {
		return err
	}
	if order.Status == domain.StatusAnalyzing || order.IsTerminal() {
		log.Info().Str("status", string(order.Status)).Msg("duplicate crawl callback, ignoring")
		return nil
	}
	if order.Status != domain.StatusCrawling {
		log.Warn().Str("status", string(order.Status)).Msg("unexpected crawl callback, ignoring")
		return nil
	}
	if job.AgentID != "" && order.CrawlAgentID != "" && job.AgentID != order.CrawlAgentID {
		log.Info().Str("agent_id", job.AgentID).Str("current_agent_id", order.CrawlAgentID).Msg("callback from superseded crawl run, ignoring")
		return nil
	}

	switch strings.ToLower(job.Status) {
	case CrawlStatusCompleted, CrawlStatusPartial:
		return s.acceptObservations(ctx, log, order, job)
	case CrawlStatusFailed:
		return s.handleCrawlFailure(ctx, log, order, job)
	default:
		log.Warn().Msg("unknown crawl status, ignoring")
		return nil
	}
}

func (s *Service) acceptObservations(ctx context.Context, log zerolog.Logger, order domain.AuditOrder, job ports.CrawlCompleteJob) error {
	obs, err := domain.ParseObservations(job.Observations)
	if err != nil {
		return s.failAndCompensate(ctx, log, order, err.Error())
	}

	key := observationsKey(order.ID)
	if err := s.storage.Upload(ctx, key, job.Observations, "application/json"); err != nil {
		return fmt.Errorf("store observations: %w", err)
	}

	partial := strings.EqualFold(job.Status, CrawlStatusPartial)
	analyzing, err := order.MarkAnalyzing(key, obs.PageCounts(), obs.CompetitorNames(), partial, s.now())
	if err != nil {
		return err
	}
	if _, ok, err := s.save(ctx, log, analyzing); err != nil || !ok {
		return err
	}
	if err := s.jobs.Enqueue(ctx, ports.AnalyzeObservationsJob{AuditOrderID: order.ID}); err != nil {
		return fmt.Errorf("enqueue analysis: %w", err)
	}
	log.Info().Int("pages", obs.PageCounts().Total()).Bool("partial", partial).Msg("observations stored, analysis scheduled")
	return nil
}

func (s *Service) handleCrawlFailure(ctx context.Context, log zerolog.Logger, order domain.AuditOrder, job ports.CrawlCompleteJob) error {
	reason := crawlFailureReason(job)
	if !IsRetryableCrawlError(job.ErrorCode) {
		return s.failAndCompensate(ctx, log, order, reason)
	}

	bumped, err := order.IncrementRetry(s.maxCrawlRetries, s.now())
	if errors.Is(err, domain.ErrRetryLimitReached) {
		log.Warn().Int("retry_count", order.RetryCount).Msg("crawl retry budget exhausted")
		return s.failAndCompensate(ctx, log, order, reason)
	}
	if err != nil {
		return err
	}
	brief, err := order.Brief()
	if err != nil {
		return s.failAndCompensate(ctx, log, order, err.Error())
	}

	brief.RunID = crawlRunID(order.ID, bumped.RetryCount)
	agentID, err := s.crawler.Trigger(ctx, brief)
	if err != nil {
		return fmt.Errorf("re-trigger crawl: %w", err)
	}
	rearmed, err := bumped.RearmCrawl(agentID, s.now())
	if err != nil {
		return err
	}
	if _, ok, err := s.save(ctx, log, rearmed); err != nil || !ok {
		return err
	}
	if err := s.scheduleWatchdog(ctx, order.ID); err != nil {
		return err
	}
	log.Info().Str("error_code", job.ErrorCode).Int("retry_count", rearmed.RetryCount).Str("agent_id", agentID).Msg("crawl re-triggered")
	return nil
}

func crawlFailureReason(job ports.CrawlCompleteJob) string {
	switch {
	case job.ErrorCode != "" && job.ErrorMessage != "":
		return job.ErrorCode + ": " + job.ErrorMessage
	case job.ErrorMessage != "":
		return job.ErrorMessage
	case job.ErrorCode != "":
		return job.ErrorCode
	default:
		return "crawl failed"
	}
}
