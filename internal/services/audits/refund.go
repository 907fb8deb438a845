package audits

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"geoaudit/internal/domain"
	"geoaudit/internal/ports"
)

// Refunder is the compensating action for failed paid orders. It never
// returns an error: a refund must not block the failure flow.
type Refunder struct {
	orders  ports.AuditOrderRepository
	payment ports.Payment
	log     zerolog.Logger
	now     func() time.Time
}

func NewRefunder(orders ports.AuditOrderRepository, payment ports.Payment, log zerolog.Logger, now func() time.Time) *Refunder {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Refunder{orders: orders, payment: payment, log: log, now: now}
}

// Execute refunds order when eligible and returns the resulting snapshot, or
// the original order when nothing was (or could be) refunded.
func (r *Refunder) Execute(ctx context.Context, order domain.AuditOrder) domain.AuditOrder {
	log := r.log.With().Str("use_case", "refund_order").Str("audit_order_id", order.ID).Logger()
	if !order.CanBeRefunded() {
		log.Info().
			Str("status", string(order.Status)).
			Bool("has_payment_intent", order.PaymentIntentID != "").
			Bool("already_refunded", order.IsRefunded()).
			Msg("order not refundable, skipping")
		return order
	}

	refund, err := r.payment.Refund(ctx, order.PaymentIntentID)
	if err != nil {
		log.Error().Err(err).Str("payment_intent_id", order.PaymentIntentID).Msg("refund failed, manual follow-up required")
		return order
	}

	refunded, err := order.MarkRefunded(refund.ID, r.now())
	if err != nil {
		log.Error().Err(err).Str("refund_id", refund.ID).Msg("refund issued but order rejected it")
		return order
	}
	saved, err := r.orders.Save(ctx, refunded)
	if err != nil {
		log.Error().Err(err).Str("refund_id", refund.ID).Msg("refund issued but not persisted, reconcile manually")
		return order
	}
	log.Info().Str("refund_id", refund.ID).Str("refund_status", refund.Status).Int64("amount", refund.Amount).Msg("order refunded")
	return saved
}
