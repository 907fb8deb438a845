package audits

import (
	"context"
	"fmt"
	"time"

	"geoaudit/internal/domain"
	"geoaudit/internal/ports"
)

// CheckTimeout is the crawl watchdog. It fails the order only when it is still
// waiting for a callback past its deadline; a re-armed or advanced order is
// left alone.
func (s *Service) CheckTimeout(ctx context.Context, job ports.CheckTimeoutJob) error {
	log := s.logFor("check_timeout", job.AuditOrderID)

	order, ok, err := s.loadActive(ctx, log, job.AuditOrderID)
	if err != nil || !ok {
		return err
	}
	now := s.now()
	if !order.IsTimedOut(now) {
		return nil
	}

	var timedOut domain.AuditOrder
	if order.Status == domain.StatusProcessing {
		timedOut, err = order.MarkTimedOut(now)
	} else {
		timedOut, err = order.MarkFailed("timed out", now)
	}
	if err != nil {
		return err
	}
	log.Warn().Str("status", string(order.Status)).Time("timeout_at", *order.TimeoutAt).Msg("no crawl callback before deadline")
	return s.compensate(ctx, log, timedOut)
}

// SweepTimeouts enqueues a timeout check for every order past its deadline.
// It backs up delayed jobs that were lost or never scheduled.
func (s *Service) SweepTimeouts(ctx context.Context) (int, error) {
	orders, err := s.orders.ListTimedOut(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("list timed out orders: %w", err)
	}
	n := 0
	for _, o := range orders {
		if err := s.jobs.Enqueue(ctx, ports.CheckTimeoutJob{AuditOrderID: o.ID}); err != nil {
			return n, fmt.Errorf("enqueue timeout check for %s: %w", o.ID, err)
		}
		n++
	}
	return n, nil
}

// RunSweeper calls SweepTimeouts every interval until ctx is cancelled.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		n, err := s.SweepTimeouts(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.log.Error().Err(err).Msg("timeout sweep failed")
			}
			continue
		}
		if n > 0 {
			s.log.Info().Int("orders", n).Msg("timeout sweep scheduled checks")
		}
	}
}
