// Package memory holds process-local adapters used when no database is
// configured and as fakes in tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"geoaudit/internal/domain"
	"geoaudit/internal/ports"
)

type OrderRepository struct {
	mu     sync.RWMutex
	orders map[string]domain.AuditOrder
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{orders: make(map[string]domain.AuditOrder)}
}

func (r *OrderRepository) Create(ctx context.Context, order domain.AuditOrder) (domain.AuditOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orders[order.ID]; exists {
		return domain.AuditOrder{}, domain.NewError(domain.CodeInvalidInput, "audit order already exists", domain.ErrInvalidInput)
	}
	order.Version = 1
	r.orders[order.ID] = order
	return order, nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (domain.AuditOrder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return domain.AuditOrder{}, domain.ErrNotFound
	}
	return o, nil
}

func (r *OrderRepository) Save(ctx context.Context, order domain.AuditOrder) (domain.AuditOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.orders[order.ID]
	if !ok {
		return domain.AuditOrder{}, domain.ErrNotFound
	}
	if cur.Version != order.Version {
		return domain.AuditOrder{}, domain.ErrStaleOrder
	}
	order.Version++
	r.orders[order.ID] = order
	return order, nil
}

func (r *OrderRepository) ListByProject(ctx context.Context, projectID string) ([]domain.AuditOrder, error) {
	return r.filter(func(o domain.AuditOrder) bool { return o.ProjectID == projectID }), nil
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]domain.AuditOrder, error) {
	return r.filter(func(o domain.AuditOrder) bool { return o.UserID == userID }), nil
}

func (r *OrderRepository) ListActive(ctx context.Context) ([]domain.AuditOrder, error) {
	return r.filter(func(o domain.AuditOrder) bool {
		return o.Status != domain.StatusPending && !o.IsTerminal()
	}), nil
}

func (r *OrderRepository) ListTimedOut(ctx context.Context, now time.Time) ([]domain.AuditOrder, error) {
	return r.filter(func(o domain.AuditOrder) bool { return o.IsTimedOut(now) }), nil
}

func (r *OrderRepository) filter(keep func(domain.AuditOrder) bool) []domain.AuditOrder {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.AuditOrder, 0)
	for _, o := range r.orders {
		if keep(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

var _ ports.AuditOrderRepository = (*OrderRepository)(nil)
