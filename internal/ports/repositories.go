package ports

import (
	"context"
	"time"

	"geoaudit/internal/domain"
)

// AuditOrderRepository stores audit order snapshots.
//
// Save is a conditional write: it succeeds only when the stored version equals
// order.Version and returns the persisted snapshot with the bumped version.
// A mismatch yields domain.ErrStaleOrder.
type AuditOrderRepository interface {
	Create(ctx context.Context, order domain.AuditOrder) (domain.AuditOrder, error)
	Get(ctx context.Context, id string) (domain.AuditOrder, error)
	Save(ctx context.Context, order domain.AuditOrder) (domain.AuditOrder, error)
	ListByProject(ctx context.Context, projectID string) ([]domain.AuditOrder, error)
	ListByUser(ctx context.Context, userID string) ([]domain.AuditOrder, error)
	// ListActive returns every non-terminal order past PENDING.
	ListActive(ctx context.Context) ([]domain.AuditOrder, error)
	// ListTimedOut returns orders in a watchdog-monitored state whose deadline is before now.
	ListTimedOut(ctx context.Context, now time.Time) ([]domain.AuditOrder, error)
}
