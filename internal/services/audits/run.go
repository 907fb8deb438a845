package audits

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"geoaudit/internal/domain"
	"geoaudit/internal/ports"
)

// watchdogSlack pushes the timeout check past TimeoutAt, which must be
// strictly in the past for IsTimedOut to hold.
const watchdogSlack = 30 * time.Second

// RunAudit assembles the brief and triggers the crawl agent. Trigger errors
// are returned so the queue retries the job.
func (s *Service) RunAudit(ctx context.Context, job ports.RunAuditJob) error {
	log := s.logFor("run_audit", job.AuditOrderID)

	order, ok, err := s.loadActive(ctx, log, job.AuditOrderID)
	if err != nil || !ok {
		return err
	}
	if order.Status != domain.StatusPaid {
		log.Info().Str("status", string(order.Status)).Msg("order not paid, skipping run")
		return nil
	}

	brief, err := s.briefs.Assemble(ctx, order)
	if err != nil {
		if errors.Is(err, domain.ErrPermanentContent) || errors.Is(err, domain.ErrInvalidInput) {
			return s.failAndCompensate(ctx, log, order, "brief could not be assembled: "+err.Error())
		}
		return fmt.Errorf("assemble brief: %w", err)
	}
	if err := brief.Validate(); err != nil {
		return s.failAndCompensate(ctx, log, order, err.Error())
	}
	payload, err := brief.Marshal()
	if err != nil {
		return fmt.Errorf("encode brief: %w", err)
	}
	withBrief, err := order.WithBrief(payload, s.now())
	if err != nil {
		return err
	}
	order, ok, err = s.save(ctx, log, withBrief)
	if err != nil || !ok {
		return err
	}

	brief.RunID = crawlRunID(order.ID, order.RetryCount)
	agentID, err := s.crawler.Trigger(ctx, brief)
	if err != nil {
		return fmt.Errorf("trigger crawl: %w", err)
	}

	crawling, err := order.MarkCrawling(agentID, s.now())
	if err != nil {
		return err
	}
	if _, ok, err := s.save(ctx, log, crawling); err != nil || !ok {
		return err
	}
	if err := s.scheduleWatchdog(ctx, order.ID); err != nil {
		return err
	}
	log.Info().Str("agent_id", agentID).Msg("crawl triggered")
	return nil
}

// crawlRunID keys one crawl attempt of an order. Manual and automatic retries
// both bump RetryCount, so every attempt gets a fresh id.
func crawlRunID(orderID string, attempt int) string {
	return orderID + ":" + strconv.Itoa(attempt)
}

func (s *Service) scheduleWatchdog(ctx context.Context, orderID string) error {
	if err := s.jobs.EnqueueIn(ctx, ports.CheckTimeoutJob{AuditOrderID: orderID}, domain.CrawlWindow+watchdogSlack); err != nil {
		return fmt.Errorf("schedule timeout check: %w", err)
	}
	return nil
}
