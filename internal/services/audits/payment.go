package audits

import (
	"context"
	"errors"
	"fmt"

	"geoaudit/internal/domain"
	"geoaudit/internal/ports"
)

// HandlePayment records a successful payment and schedules the audit run.
// A duplicate payment webhook is acknowledged without side effects.
func (s *Service) HandlePayment(ctx context.Context, orderID, paymentIntentID string) error {
	log := s.logFor("handle_payment", orderID)

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load order: %w", err)
	}
	paid, err := order.MarkPaid(paymentIntentID, s.now())
	if errors.Is(err, domain.ErrInvalidTransition) {
		log.Info().Str("status", string(order.Status)).Msg("payment already recorded")
		return nil
	}
	if err != nil {
		return err
	}
	if _, ok, err := s.save(ctx, log, paid); err != nil || !ok {
		return err
	}
	if err := s.jobs.Enqueue(ctx, ports.RunAuditJob{AuditOrderID: orderID}); err != nil {
		return fmt.Errorf("enqueue run audit: %w", err)
	}
	log.Info().Str("payment_intent_id", paymentIntentID).Msg("order paid, audit scheduled")
	return nil
}
