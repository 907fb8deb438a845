package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"geoaudit/internal/domain"
	"geoaudit/internal/ports"
)

const orderColumns = `
	id, user_id, project_id, status,
	COALESCE(payment_intent_id, ''), amount_cents, currency, paid_at, refunded_at, COALESCE(refund_id, ''),
	brief_payload, COALESCE(crawl_agent_id, ''), crawl_partial,
	COALESCE(crawl_data_url, ''), COALESCE(analysis_data_url, ''), COALESCE(report_url, ''),
	raw_result_payload, result, COALESCE(failure_reason, ''), retry_count, version,
	started_at, completed_at, failed_at, timeout_at, created_at, updated_at`

// OrderRepository implements ports.AuditOrderRepository.
type OrderRepository struct {
	db *DB
}

func NewOrderRepository(db *DB) *OrderRepository { return &OrderRepository{db: db} }

func (r *OrderRepository) Create(ctx context.Context, o domain.AuditOrder) (domain.AuditOrder, error) {
	result, err := json.Marshal(o.Result)
	if err != nil {
		return o, err
	}
	row := r.db.Pool.QueryRow(ctx, `
		INSERT INTO audit_orders (
			id, user_id, project_id, status, payment_intent_id, amount_cents, currency,
			paid_at, brief_payload, result, retry_count, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11, 1, $12, $13)
		RETURNING `+orderColumns,
		o.ID, o.UserID, o.ProjectID, string(o.Status), o.PaymentIntentID, o.AmountCents, o.Currency,
		o.PaidAt, jsonArg(o.BriefPayload), string(result), o.RetryCount, o.CreatedAt, o.UpdatedAt,
	)
	created, err := scanOrder(row)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return o, domain.NewError(domain.CodeInvalidInput, "audit order already exists", domain.ErrInvalidInput)
	}
	return created, err
}

func (r *OrderRepository) Get(ctx context.Context, id string) (domain.AuditOrder, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM audit_orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return o, domain.ErrNotFound
	}
	return o, err
}

// Save writes every mutable column when the stored version still matches.
func (r *OrderRepository) Save(ctx context.Context, o domain.AuditOrder) (domain.AuditOrder, error) {
	result, err := json.Marshal(o.Result)
	if err != nil {
		return o, err
	}
	row := r.db.Pool.QueryRow(ctx, `
		UPDATE audit_orders SET
			status = $3,
			payment_intent_id = NULLIF($4, ''),
			paid_at = $5,
			refunded_at = $6,
			refund_id = NULLIF($7, ''),
			brief_payload = $8,
			crawl_agent_id = NULLIF($9, ''),
			crawl_partial = $10,
			crawl_data_url = NULLIF($11, ''),
			analysis_data_url = NULLIF($12, ''),
			report_url = NULLIF($13, ''),
			raw_result_payload = $14,
			result = $15,
			failure_reason = NULLIF($16, ''),
			retry_count = $17,
			started_at = $18,
			completed_at = $19,
			failed_at = $20,
			timeout_at = $21,
			updated_at = $22,
			version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING `+orderColumns,
		o.ID, o.Version, string(o.Status), o.PaymentIntentID, o.PaidAt, o.RefundedAt, o.RefundID,
		jsonArg(o.BriefPayload), o.CrawlAgentID, o.CrawlPartial, o.CrawlDataURL, o.AnalysisDataURL, o.ReportURL,
		jsonArg(o.RawResultPayload), string(result), o.FailureReason, o.RetryCount,
		o.StartedAt, o.CompletedAt, o.FailedAt, o.TimeoutAt, o.UpdatedAt,
	)
	saved, err := scanOrder(row)
	if !errors.Is(err, pgx.ErrNoRows) {
		return saved, err
	}

	var exists bool
	if err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM audit_orders WHERE id = $1)`, o.ID).Scan(&exists); err != nil {
		return o, err
	}
	if !exists {
		return o, domain.ErrNotFound
	}
	return o, domain.ErrStaleOrder
}

func (r *OrderRepository) ListByProject(ctx context.Context, projectID string) ([]domain.AuditOrder, error) {
	return r.list(ctx, `WHERE project_id = $1 ORDER BY created_at DESC`, projectID)
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]domain.AuditOrder, error) {
	return r.list(ctx, `WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

func (r *OrderRepository) ListActive(ctx context.Context) ([]domain.AuditOrder, error) {
	return r.list(ctx, `WHERE status IN ('PAID', 'CRAWLING', 'ANALYZING', 'PROCESSING') ORDER BY created_at DESC`)
}

func (r *OrderRepository) ListTimedOut(ctx context.Context, now time.Time) ([]domain.AuditOrder, error) {
	return r.list(ctx, `WHERE status IN ('CRAWLING', 'PROCESSING') AND timeout_at < $1 ORDER BY timeout_at`, now)
}

func (r *OrderRepository) list(ctx context.Context, where string, args ...any) ([]domain.AuditOrder, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+orderColumns+` FROM audit_orders `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.AuditOrder, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row) (domain.AuditOrder, error) {
	var (
		o         domain.AuditOrder
		status    string
		brief     []byte
		rawResult []byte
		result    []byte
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.ProjectID, &status,
		&o.PaymentIntentID, &o.AmountCents, &o.Currency, &o.PaidAt, &o.RefundedAt, &o.RefundID,
		&brief, &o.CrawlAgentID, &o.CrawlPartial,
		&o.CrawlDataURL, &o.AnalysisDataURL, &o.ReportURL,
		&rawResult, &result, &o.FailureReason, &o.RetryCount, &o.Version,
		&o.StartedAt, &o.CompletedAt, &o.FailedAt, &o.TimeoutAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.AuditOrder{}, err
	}
	o.Status = domain.Status(status)
	if len(brief) > 0 {
		o.BriefPayload = brief
	}
	if len(rawResult) > 0 {
		o.RawResultPayload = rawResult
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &o.Result); err != nil {
			return domain.AuditOrder{}, fmt.Errorf("decode result of %s: %w", o.ID, err)
		}
	}
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	for _, ts := range []**time.Time{&o.PaidAt, &o.RefundedAt, &o.StartedAt, &o.CompletedAt, &o.FailedAt, &o.TimeoutAt} {
		if *ts != nil {
			utc := (*ts).UTC()
			*ts = &utc
		}
	}
	return o, nil
}

// jsonArg maps an empty payload to SQL NULL.
func jsonArg(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

var _ ports.AuditOrderRepository = (*OrderRepository)(nil)
