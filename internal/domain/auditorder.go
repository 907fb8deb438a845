package domain

import (
	"encoding/json"
	"slices"
	"strings"
	"time"
)

// Status is the lifecycle state of an AuditOrder.
//
//	PENDING -> PAID -> CRAWLING -> ANALYZING -> COMPLETED | PARTIAL
//	PAID -> PROCESSING -> COMPLETED | PARTIAL          (legacy single stage)
//	PAID | CRAWLING | ANALYZING | PROCESSING -> FAILED
//	CRAWLING | PROCESSING -> TIMEOUT
//	ANALYZING | PROCESSING -> SCHEMA_ERROR
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusPaid        Status = "PAID"
	StatusCrawling    Status = "CRAWLING"
	StatusAnalyzing   Status = "ANALYZING"
	StatusProcessing  Status = "PROCESSING"
	StatusCompleted   Status = "COMPLETED"
	StatusPartial     Status = "PARTIAL"
	StatusFailed      Status = "FAILED"
	StatusTimeout     Status = "TIMEOUT"
	StatusSchemaError Status = "SCHEMA_ERROR"
)

// CrawlWindow is how long an order may stay in CRAWLING/PROCESSING before the
// watchdog fails it.
const CrawlWindow = 15 * time.Minute

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusCrawling, StatusAnalyzing, StatusProcessing,
		StatusCompleted, StatusPartial, StatusFailed, StatusTimeout, StatusSchemaError:
		return true
	}
	return false
}

// Terminal reports whether no further forward transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartial, StatusFailed, StatusTimeout, StatusSchemaError:
		return true
	}
	return false
}

// FailedFamily reports whether s is one of the failure terminals that make an
// order eligible for a refund.
func (s Status) FailedFamily() bool {
	return s == StatusFailed || s == StatusTimeout || s == StatusSchemaError
}

func (s Status) in(set ...Status) bool { return slices.Contains(set, s) }

// ResultMetadata is the denormalized summary of an analysis, kept on the
// order row for listing and notification purposes.
type ResultMetadata struct {
	GeoScore              *int     `json:"geoScore,omitempty"`
	Verdict               string   `json:"verdict,omitempty"`
	TopFindings           []string `json:"topFindings,omitempty"`
	ActionCountCritical   int      `json:"actionCountCritical"`
	ActionCountHigh       int      `json:"actionCountHigh"`
	ActionCountMedium     int      `json:"actionCountMedium"`
	TotalActions          int      `json:"totalActions"`
	ExternalPresenceScore *int     `json:"externalPresenceScore,omitempty"`
	PagesAnalyzed         int      `json:"pagesAnalyzed"`
	CompetitorsAnalyzed   int      `json:"competitorsAnalyzed"`
}

func (m ResultMetadata) clone() ResultMetadata {
	m.TopFindings = slices.Clone(m.TopFindings)
	if m.GeoScore != nil {
		v := *m.GeoScore
		m.GeoScore = &v
	}
	if m.ExternalPresenceScore != nil {
		v := *m.ExternalPresenceScore
		m.ExternalPresenceScore = &v
	}
	return m
}

// AuditOrder is the aggregate root for one paid audit. It is a value type:
// every transition returns a new snapshot and leaves the receiver untouched.
type AuditOrder struct {
	ID        string
	UserID    string
	ProjectID string
	Status    Status

	PaymentIntentID string
	AmountCents     int64
	Currency        string
	PaidAt          *time.Time
	RefundedAt      *time.Time
	RefundID        string

	BriefPayload     json.RawMessage
	CrawlAgentID     string
	CrawlPartial     bool
	CrawlDataURL     string
	AnalysisDataURL  string
	ReportURL        string
	RawResultPayload json.RawMessage

	StartedAt   *time.Time
	CompletedAt *time.Time
	FailedAt    *time.Time
	TimeoutAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time

	RetryCount    int
	Version       int
	Result        ResultMetadata
	FailureReason string
}

// NewAuditOrder creates an order in PENDING at checkout time.
func NewAuditOrder(id, userID, projectID string, amountCents int64, currency string, brief json.RawMessage, now time.Time) (AuditOrder, error) {
	switch {
	case strings.TrimSpace(id) == "":
		return AuditOrder{}, NewError(CodeInvalidInput, "id is required", ErrInvalidInput)
	case strings.TrimSpace(userID) == "":
		return AuditOrder{}, NewError(CodeInvalidInput, "userId is required", ErrInvalidInput)
	case strings.TrimSpace(projectID) == "":
		return AuditOrder{}, NewError(CodeInvalidInput, "projectId is required", ErrInvalidInput)
	case amountCents <= 0:
		return AuditOrder{}, NewError(CodeInvalidInput, "amountCents must be positive", ErrInvalidInput)
	}
	if currency == "" {
		currency = "eur"
	}
	return AuditOrder{
		ID:           id,
		UserID:       userID,
		ProjectID:    projectID,
		Status:       StatusPending,
		AmountCents:  amountCents,
		Currency:     strings.ToLower(currency),
		BriefPayload: slices.Clone(brief),
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// clone returns a deep copy so the new snapshot never aliases the receiver.
func (o AuditOrder) clone(now time.Time) AuditOrder {
	n := o
	n.BriefPayload = slices.Clone(o.BriefPayload)
	n.RawResultPayload = slices.Clone(o.RawResultPayload)
	n.Result = o.Result.clone()
	n.UpdatedAt = now
	return n
}

func at(t time.Time) *time.Time { return &t }

func (o AuditOrder) MarkPaid(paymentIntentID string, now time.Time) (AuditOrder, error) {
	if o.Status != StatusPending {
		return o, invalidTransition("MarkPaid", o.Status, StatusPaid)
	}
	if strings.TrimSpace(paymentIntentID) == "" {
		return o, NewError(CodeInvalidInput, "payment intent id is required", ErrInvalidInput)
	}
	n := o.clone(now)
	n.Status = StatusPaid
	n.PaymentIntentID = paymentIntentID
	n.PaidAt = at(now)
	return n, nil
}

// WithBrief stores a freshly assembled brief. Status does not change.
func (o AuditOrder) WithBrief(brief json.RawMessage, now time.Time) (AuditOrder, error) {
	if !o.Status.in(StatusPending, StatusPaid) {
		return o, invalidTransition("WithBrief", o.Status, o.Status)
	}
	n := o.clone(now)
	n.BriefPayload = slices.Clone(brief)
	return n, nil
}

func (o AuditOrder) MarkCrawling(agentID string, now time.Time) (AuditOrder, error) {
	if o.Status != StatusPaid {
		return o, invalidTransition("MarkCrawling", o.Status, StatusCrawling)
	}
	n := o.clone(now)
	n.Status = StatusCrawling
	n.CrawlAgentID = agentID
	n.StartedAt = at(now)
	n.TimeoutAt = at(now.Add(CrawlWindow))
	return n, nil
}

// RearmCrawl records a re-triggered crawl run and supersedes the watchdog
// deadline. The order stays in CRAWLING.
func (o AuditOrder) RearmCrawl(agentID string, now time.Time) (AuditOrder, error) {
	if o.Status != StatusCrawling {
		return o, invalidTransition("RearmCrawl", o.Status, StatusCrawling)
	}
	n := o.clone(now)
	n.CrawlAgentID = agentID
	n.TimeoutAt = at(now.Add(CrawlWindow))
	return n, nil
}

// MarkProcessing enters the legacy single-stage pipeline.
func (o AuditOrder) MarkProcessing(now time.Time) (AuditOrder, error) {
	if o.Status != StatusPaid {
		return o, invalidTransition("MarkProcessing", o.Status, StatusProcessing)
	}
	n := o.clone(now)
	n.Status = StatusProcessing
	n.StartedAt = at(now)
	n.TimeoutAt = at(now.Add(CrawlWindow))
	return n, nil
}

func (o AuditOrder) MarkAnalyzing(crawlDataURL string, pages PageCounts, competitors []string, partial bool, now time.Time) (AuditOrder, error) {
	if o.Status != StatusCrawling {
		return o, invalidTransition("MarkAnalyzing", o.Status, StatusAnalyzing)
	}
	if strings.TrimSpace(crawlDataURL) == "" {
		return o, NewError(CodeInvalidInput, "crawl data url is required", ErrInvalidInput)
	}
	n := o.clone(now)
	n.Status = StatusAnalyzing
	n.CrawlDataURL = crawlDataURL
	n.CrawlPartial = partial
	n.TimeoutAt = nil
	n.Result.PagesAnalyzed = pages.Total()
	n.Result.CompetitorsAnalyzed = len(competitors)
	return n, nil
}

// StoreAnalysisResults attaches analysis metadata without completing the
// order, so the analysis survives a failing report render.
func (o AuditOrder) StoreAnalysisResults(meta ResultMetadata, analysisDataURL string, now time.Time) (AuditOrder, error) {
	if o.Status != StatusAnalyzing {
		return o, invalidTransition("StoreAnalysisResults", o.Status, StatusAnalyzing)
	}
	n := o.clone(now)
	pages, competitors := n.Result.PagesAnalyzed, n.Result.CompetitorsAnalyzed
	n.Result = meta.clone()
	if n.Result.PagesAnalyzed == 0 {
		n.Result.PagesAnalyzed = pages
	}
	if n.Result.CompetitorsAnalyzed == 0 {
		n.Result.CompetitorsAnalyzed = competitors
	}
	n.AnalysisDataURL = analysisDataURL
	return n, nil
}

func (o AuditOrder) MarkAnalysisCompleted(now time.Time) (AuditOrder, error) {
	if o.Status != StatusAnalyzing {
		return o, invalidTransition("MarkAnalysisCompleted", o.Status, StatusCompleted)
	}
	n := o.clone(now)
	n.Status = StatusCompleted
	n.CompletedAt = at(now)
	n.TimeoutAt = nil
	return n, nil
}

func (o AuditOrder) MarkCompleted(result ResultMetadata, now time.Time) (AuditOrder, error) {
	return o.complete("MarkCompleted", StatusCompleted, result, now)
}

func (o AuditOrder) MarkPartial(result ResultMetadata, now time.Time) (AuditOrder, error) {
	return o.complete("MarkPartial", StatusPartial, result, now)
}

func (o AuditOrder) complete(op string, to Status, result ResultMetadata, now time.Time) (AuditOrder, error) {
	if !o.Status.in(StatusAnalyzing, StatusProcessing) {
		return o, invalidTransition(op, o.Status, to)
	}
	n := o.clone(now)
	n.Status = to
	n.Result = result.clone()
	n.CompletedAt = at(now)
	n.TimeoutAt = nil
	return n, nil
}

func (o AuditOrder) AttachReport(url string, now time.Time) (AuditOrder, error) {
	if !o.Status.in(StatusCompleted, StatusPartial) {
		return o, invalidTransition("AttachReport", o.Status, o.Status)
	}
	if strings.TrimSpace(url) == "" {
		return o, NewError(CodeInvalidInput, "report url is required", ErrInvalidInput)
	}
	n := o.clone(now)
	n.ReportURL = url
	return n, nil
}

func (o AuditOrder) MarkFailed(reason string, now time.Time) (AuditOrder, error) {
	if !o.Status.in(StatusPaid, StatusCrawling, StatusAnalyzing, StatusProcessing) {
		return o, invalidTransition("MarkFailed", o.Status, StatusFailed)
	}
	n := o.clone(now)
	n.Status = StatusFailed
	n.FailureReason = reason
	n.FailedAt = at(now)
	n.TimeoutAt = nil
	return n, nil
}

func (o AuditOrder) MarkTimedOut(now time.Time) (AuditOrder, error) {
	if !o.Status.in(StatusCrawling, StatusProcessing) {
		return o, invalidTransition("MarkTimedOut", o.Status, StatusTimeout)
	}
	n := o.clone(now)
	n.Status = StatusTimeout
	n.FailureReason = "timed out"
	n.FailedAt = at(now)
	n.TimeoutAt = nil
	return n, nil
}

// MarkSchemaError keeps the rejected payload for forensic inspection.
func (o AuditOrder) MarkSchemaError(raw json.RawMessage, reason string, now time.Time) (AuditOrder, error) {
	if !o.Status.in(StatusAnalyzing, StatusProcessing) {
		return o, invalidTransition("MarkSchemaError", o.Status, StatusSchemaError)
	}
	n := o.clone(now)
	n.Status = StatusSchemaError
	n.RawResultPayload = slices.Clone(raw)
	n.FailureReason = reason
	n.FailedAt = at(now)
	n.TimeoutAt = nil
	return n, nil
}

func (o AuditOrder) MarkRefunded(refundID string, now time.Time) (AuditOrder, error) {
	if !o.CanBeRefunded() {
		return o, invalidTransition("MarkRefunded", o.Status, o.Status)
	}
	if strings.TrimSpace(refundID) == "" {
		return o, NewError(CodeInvalidInput, "refund id is required", ErrInvalidInput)
	}
	n := o.clone(now)
	n.RefundID = refundID
	n.RefundedAt = at(now)
	return n, nil
}

// ResetForCrawlRetry puts a failed paid order back to PAID, dropping every
// process artifact. Payment fields and the brief are kept.
func (o AuditOrder) ResetForCrawlRetry(now time.Time) (AuditOrder, error) {
	if !o.Status.in(StatusFailed, StatusTimeout) || o.IsRefunded() || o.PaymentIntentID == "" {
		return o, invalidTransition("ResetForCrawlRetry", o.Status, StatusPaid)
	}
	n := o.clone(now)
	n.Status = StatusPaid
	n.CrawlAgentID = ""
	n.CrawlPartial = false
	n.CrawlDataURL = ""
	n.AnalysisDataURL = ""
	n.ReportURL = ""
	n.RawResultPayload = nil
	n.StartedAt = nil
	n.CompletedAt = nil
	n.FailedAt = nil
	n.TimeoutAt = nil
	n.Result = ResultMetadata{}
	n.FailureReason = ""
	return n, nil
}

// ResetForAnalysisRetry reuses the stored observations and re-enters ANALYZING.
func (o AuditOrder) ResetForAnalysisRetry(now time.Time) (AuditOrder, error) {
	if !o.Status.in(StatusFailed, StatusSchemaError) || o.IsRefunded() || o.CrawlDataURL == "" {
		return o, invalidTransition("ResetForAnalysisRetry", o.Status, StatusAnalyzing)
	}
	n := o.clone(now)
	n.Status = StatusAnalyzing
	n.AnalysisDataURL = ""
	n.ReportURL = ""
	n.RawResultPayload = nil
	n.CompletedAt = nil
	n.FailedAt = nil
	n.FailureReason = ""
	n.Result = ResultMetadata{
		PagesAnalyzed:       o.Result.PagesAnalyzed,
		CompetitorsAnalyzed: o.Result.CompetitorsAnalyzed,
	}
	return n, nil
}

// ResetForPdfRetry keeps the stored analysis and re-enters ANALYZING so that
// only the report stage runs again.
func (o AuditOrder) ResetForPdfRetry(now time.Time) (AuditOrder, error) {
	if o.Status != StatusFailed || o.IsRefunded() || o.AnalysisDataURL == "" {
		return o, invalidTransition("ResetForPdfRetry", o.Status, StatusAnalyzing)
	}
	n := o.clone(now)
	n.Status = StatusAnalyzing
	n.ReportURL = ""
	n.CompletedAt = nil
	n.FailedAt = nil
	n.FailureReason = ""
	return n, nil
}

// IncrementRetry bumps RetryCount, refusing once max is reached.
func (o AuditOrder) IncrementRetry(max int, now time.Time) (AuditOrder, error) {
	if o.RetryCount >= max {
		return o, NewError(CodeRetryLimit, "retry limit reached", ErrRetryLimitReached)
	}
	n := o.clone(now)
	n.RetryCount++
	return n, nil
}

func (o AuditOrder) IsTerminal() bool { return o.Status.Terminal() }

func (o AuditOrder) IsFailed() bool { return o.Status.FailedFamily() }

func (o AuditOrder) IsRefunded() bool { return o.RefundedAt != nil || o.RefundID != "" }

func (o AuditOrder) CanBeRefunded() bool {
	return o.Status.FailedFamily() && o.PaymentIntentID != "" && !o.IsRefunded()
}

// IsTimedOut is true only while the watchdog-monitored state has outlived its deadline.
func (o AuditOrder) IsTimedOut(now time.Time) bool {
	if !o.Status.in(StatusCrawling, StatusProcessing) || o.TimeoutAt == nil {
		return false
	}
	return o.TimeoutAt.Before(now)
}

func (o AuditOrder) HasReport() bool { return o.ReportURL != "" }

func (o AuditOrder) HasAnalysis() bool { return o.AnalysisDataURL != "" }

// GeoScore returns the stored score, or -1 when no analysis has been stored.
func (o AuditOrder) GeoScore() int {
	if o.Result.GeoScore == nil {
		return -1
	}
	return *o.Result.GeoScore
}

// Brief decodes the stored brief payload.
func (o AuditOrder) Brief() (Brief, error) {
	var b Brief
	if len(o.BriefPayload) == 0 {
		return b, PermanentError("brief is missing", nil)
	}
	if err := json.Unmarshal(o.BriefPayload, &b); err != nil {
		return b, PermanentError("brief is not valid JSON", err)
	}
	return b, nil
}
