package httpadapter

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"geoaudit/internal/domain"
	"geoaudit/internal/services/audits"
)

type orderResponse struct {
	ID              string                `json:"id"`
	UserID          string                `json:"userId"`
	ProjectID       string                `json:"projectId"`
	Status          domain.Status         `json:"status"`
	PaymentIntentID string                `json:"paymentIntentId,omitempty"`
	AmountCents     int64                 `json:"amountCents"`
	Currency        string                `json:"currency"`
	RefundID        string                `json:"refundId,omitempty"`
	CrawlAgentID    string                `json:"crawlAgentId,omitempty"`
	CrawlPartial    bool                  `json:"crawlPartial"`
	CrawlDataURL    string                `json:"crawlDataUrl,omitempty"`
	AnalysisDataURL string                `json:"analysisDataUrl,omitempty"`
	ReportURL       string                `json:"reportUrl,omitempty"`
	FailureReason   string                `json:"failureReason,omitempty"`
	RetryCount      int                   `json:"retryCount"`
	Version         int                   `json:"version"`
	Result          domain.ResultMetadata `json:"result"`
	PaidAt          *time.Time            `json:"paidAt,omitempty"`
	RefundedAt      *time.Time            `json:"refundedAt,omitempty"`
	StartedAt       *time.Time            `json:"startedAt,omitempty"`
	CompletedAt     *time.Time            `json:"completedAt,omitempty"`
	FailedAt        *time.Time            `json:"failedAt,omitempty"`
	TimeoutAt       *time.Time            `json:"timeoutAt,omitempty"`
	CreatedAt       time.Time             `json:"createdAt"`
	UpdatedAt       time.Time             `json:"updatedAt"`
}

func toOrderResponse(o domain.AuditOrder) orderResponse {
	return orderResponse{
		ID:              o.ID,
		UserID:          o.UserID,
		ProjectID:       o.ProjectID,
		Status:          o.Status,
		PaymentIntentID: o.PaymentIntentID,
		AmountCents:     o.AmountCents,
		Currency:        o.Currency,
		RefundID:        o.RefundID,
		CrawlAgentID:    o.CrawlAgentID,
		CrawlPartial:    o.CrawlPartial,
		CrawlDataURL:    o.CrawlDataURL,
		AnalysisDataURL: o.AnalysisDataURL,
		ReportURL:       o.ReportURL,
		FailureReason:   o.FailureReason,
		RetryCount:      o.RetryCount,
		Version:         o.Version,
		Result:          o.Result,
		PaidAt:          o.PaidAt,
		RefundedAt:      o.RefundedAt,
		StartedAt:       o.StartedAt,
		CompletedAt:     o.CompletedAt,
		FailedAt:        o.FailedAt,
		TimeoutAt:       o.TimeoutAt,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

func toOrderList(orders []domain.AuditOrder) []orderResponse {
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	return out
}

type createOrderRequest struct {
	UserID      string          `json:"userId"`
	ProjectID   string          `json:"projectId"`
	AmountCents int64           `json:"amountCents"`
	Currency    string          `json:"currency"`
	Brief       json.RawMessage `json:"brief"`
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	order, err := s.audits.CreateOrder(r.Context(), audits.CreateOrderInput{
		UserID:      req.UserID,
		ProjectID:   req.ProjectID,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		Brief:       req.Brief,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

// listOrders takes exactly one filter: projectId, userId or active=true.
func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	var (
		projectID, userID *string
		active            *bool
	)
	q := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "projectId", q, &projectID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "userId", q, &userID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "active", q, &active); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var (
		orders []domain.AuditOrder
		err    error
	)
	switch {
	case projectID != nil && userID == nil && active == nil:
		orders, err = s.audits.ListByProject(r.Context(), *projectID)
	case userID != nil && projectID == nil && active == nil:
		orders, err = s.audits.ListByUser(r.Context(), *userID)
	case active != nil && *active && projectID == nil && userID == nil:
		orders, err = s.audits.ActiveOrders(r.Context())
	default:
		writeError(w, http.StatusBadRequest, "exactly one of projectId, userId or active=true is required")
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": toOrderList(orders)})
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	order, err := s.audits.GetOrder(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (s *Server) retryOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	order, err := s.audits.Retry(r.Context(), id, chi.URLParam(r, "stage"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toOrderResponse(order))
}

func (s *Server) refundOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	order, err := s.audits.RefundOrder(r.Context(), id)
	if errors.Is(err, audits.ErrRefundNotIssued) {
		writeError(w, http.StatusBadGateway, "the payment provider did not issue the refund")
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (s *Server) reportLink(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	var ttlSeconds *int
	if err := runtime.BindQueryParameter("form", true, false, "ttlSeconds", r.URL.Query(), &ttlSeconds); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ttl := s.opts.ReportLinkTTL
	if ttlSeconds != nil {
		if *ttlSeconds <= 0 || *ttlSeconds > 7*24*3600 {
			writeError(w, http.StatusBadRequest, "ttlSeconds must be between 1 and 604800")
			return
		}
		ttl = time.Duration(*ttlSeconds) * time.Second
	}

	url, err := s.audits.ReportLink(r.Context(), id, ttl)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"url":       url,
		"expiresAt": s.now().Add(ttl),
	})
}

// orderID binds the {id} path parameter, which must be a UUID.
func orderID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var id openapi_types.UUID
	err := runtime.BindStyledParameterWithLocation("simple", false, "id", runtime.ParamLocationPath, chi.URLParam(r, "id"), &id)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid audit order id")
		return "", false
	}
	return id.String(), true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if statusFor(err) >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("admin request failed")
	}
	writeDomainError(w, err)
}
