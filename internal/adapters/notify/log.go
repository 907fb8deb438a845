// Package notify delivers customer notifications. Email rendering lives in
// another service; this notifier records the event it would send.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"geoaudit/internal/domain"
	"geoaudit/internal/ports"
)

const reportLinkTTL = 7 * 24 * time.Hour

type LogNotifier struct {
	log     zerolog.Logger
	storage ports.FileStorage
}

// NewLogNotifier builds a notifier. storage may be nil, in which case report
// notifications carry no download link.
func NewLogNotifier(log zerolog.Logger, storage ports.FileStorage) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "notifier").Logger(), storage: storage}
}

func (n *LogNotifier) ReportReady(ctx context.Context, order domain.AuditOrder) error {
	ev := n.log.Info().
		Str("event", "audit.report_ready").
		Str("audit_order_id", order.ID).
		Str("user_id", order.UserID).
		Str("status", string(order.Status)).
		Int("geo_score", order.GeoScore())
	if n.storage != nil && order.HasReport() {
		link, err := n.storage.SignedURL(ctx, order.ReportURL, reportLinkTTL)
		if err != nil {
			return fmt.Errorf("notify: sign report link: %w", err)
		}
		ev = ev.Str("report_link", link)
	}
	ev.Msg("notification sent")
	return nil
}

func (n *LogNotifier) AuditFailed(_ context.Context, order domain.AuditOrder) error {
	n.log.Info().
		Str("event", "audit.failed").
		Str("audit_order_id", order.ID).
		Str("user_id", order.UserID).
		Str("status", string(order.Status)).
		Bool("refunded", order.IsRefunded()).
		Msg("notification sent")
	return nil
}

var _ ports.Notifier = (*LogNotifier)(nil)
