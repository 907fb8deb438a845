package audits

import (
	"context"

	"geoaudit/internal/ports"
)

// HandleJobExhausted is the backstop for jobs that used up every attempt: a
// still-live order is failed, refunded and the customer notified.
func (s *Service) HandleJobExhausted(ctx context.Context, job ports.Job, jobErr error) {
	log := s.logFor("job_exhausted", job.OrderID()).With().Str("kind", string(job.Kind())).Logger()

	order, ok, err := s.loadActive(ctx, log, job.OrderID())
	if err != nil {
		log.Error().Err(err).Msg("could not load order after exhausted job")
		return
	}
	if !ok {
		return
	}
	if order.IsTerminal() {
		log.Info().Str("status", string(order.Status)).Msg("order already terminal")
		return
	}

	reason := "job failed"
	if jobErr != nil {
		reason = jobErr.Error()
	}
	if err := s.failAndCompensate(ctx, log, order, reason); err != nil {
		log.Error().Err(err).Msg("could not fail order after exhausted job")
	}
}
