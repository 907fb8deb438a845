package httpadapter

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"geoaudit/internal/adapters/http/webhookauth"
	"geoaudit/internal/domain"
	"geoaudit/internal/ports"
)

const eventPaymentSucceeded = "payment_succeeded"

// crawlCallback is what the crawl agent posts when a run ends. Older agents
// send the observations under "result" and the error as a bare string.
type crawlCallback struct {
	AuditID      string          `json:"auditId"`
	AgentID      string          `json:"agentId"`
	Status       string          `json:"status"`
	Observations json.RawMessage `json:"observations"`
	Result       json.RawMessage `json:"result"`
	Error        json.RawMessage `json:"error"`
}

type crawlError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c crawlCallback) job() (ports.CrawlCompleteJob, error) {
	job := ports.CrawlCompleteJob{
		AuditOrderID: strings.TrimSpace(c.AuditID),
		AgentID:      strings.TrimSpace(c.AgentID),
		Status:       strings.ToLower(strings.TrimSpace(c.Status)),
		Observations: c.Observations,
	}
	if job.AuditOrderID == "" {
		return job, errors.New("auditId is required")
	}
	switch job.Status {
	case "completed", "partial", "failed":
	default:
		return job, errors.New("status must be completed, partial or failed")
	}
	if isJSONNull(job.Observations) {
		job.Observations = c.Result
	}
	if isJSONNull(job.Observations) {
		job.Observations = nil
	}

	if !isJSONNull(c.Error) {
		var msg string
		if err := json.Unmarshal(c.Error, &msg); err == nil {
			job.ErrorMessage = msg
		} else {
			var ce crawlError
			if err := json.Unmarshal(c.Error, &ce); err != nil {
				return job, errors.New("error must be a string or an object with code and message")
			}
			job.ErrorCode = strings.ToUpper(strings.TrimSpace(ce.Code))
			job.ErrorMessage = ce.Message
		}
	}
	return job, nil
}

func isJSONNull(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}

// crawlWebhook accepts a crawl callback and queues it. The work happens in
// the crawl-result worker so the agent gets its answer quickly.
func (s *Server) crawlWebhook(w http.ResponseWriter, r *http.Request) {
	if !bearerMatches(r, s.opts.CrawlWebhookToken) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	body, err := readBody(r, maxCallbackBytes)
	if errors.Is(err, errPayloadTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var cb crawlCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	job, err := cb.job()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.jobs.Enqueue(r.Context(), job); err != nil {
		s.log.Error().Err(err).Str("audit_order_id", job.AuditOrderID).Msg("enqueue crawl callback")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.log.Info().Str("audit_order_id", job.AuditOrderID).Str("crawl_status", job.Status).Str("agent_id", job.AgentID).Msg("crawl callback accepted")
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

type paymentEvent struct {
	Type string `json:"type"`
	Data struct {
		AuditOrderID    string `json:"auditOrderId"`
		PaymentIntentID string `json:"paymentIntentId"`
	} `json:"data"`
}

func (s *Server) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r, maxBodyBytes)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = webhookauth.Verify(webhookauth.Input{
		Secret:          s.opts.PaymentWebhookSecret,
		TimestampHeader: r.Header.Get("X-Event-Timestamp"),
		SignatureHeader: r.Header.Get("X-Signature"),
		Body:            body,
		Now:             s.now(),
	})
	switch {
	case err == nil:
	case errors.Is(err, webhookauth.ErrInvalidTimestamp), errors.Is(err, webhookauth.ErrTimestampOutsideWindow):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, webhookauth.ErrMissingSecret):
		s.log.Error().Msg("payment webhook secret not configured")
		writeError(w, http.StatusServiceUnavailable, "webhook not configured")
		return
	default:
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var ev paymentEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event payload")
		return
	}
	if ev.Type != eventPaymentSucceeded {
		s.log.Debug().Str("event_type", ev.Type).Msg("payment event ignored")
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if ev.Data.AuditOrderID == "" || ev.Data.PaymentIntentID == "" {
		writeError(w, http.StatusBadRequest, "auditOrderId and paymentIntentId are required")
		return
	}

	err = s.audits.HandlePayment(r.Context(), ev.Data.AuditOrderID, ev.Data.PaymentIntentID)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, domain.ErrNotFound):
		// acknowledged so the provider stops redelivering an event we can never apply
		s.log.Warn().Str("audit_order_id", ev.Data.AuditOrderID).Msg("payment for unknown audit order")
		w.WriteHeader(http.StatusAccepted)
	default:
		s.log.Error().Err(err).Str("audit_order_id", ev.Data.AuditOrderID).Msg("handle payment")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
