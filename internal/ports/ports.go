package ports

import (
	"context"
	"time"

	"geoaudit/internal/domain"
)

// CrawlAgent triggers the external crawl for a brief.
type CrawlAgent interface {
	Trigger(ctx context.Context, brief domain.Brief) (agentID string, err error)
}

// Analyzer sends observations to the AI analysis service. Raw carries the
// unparsed response body so schema failures can be kept for inspection.
type Analyzer interface {
	Analyze(ctx context.Context, obs domain.Observations, brand domain.BrandContext) (analysis domain.StructuredAnalysis, raw []byte, err error)
}

// PdfRenderer renders and stores the report, returning its storage url.
type PdfRenderer interface {
	GenerateReport(ctx context.Context, order domain.AuditOrder) (url string, err error)
}

// Refund is the payment provider's answer to a refund request.
type Refund struct {
	ID     string
	Status string
	Amount int64
}

// Payment issues refunds against a payment intent.
type Payment interface {
	Refund(ctx context.Context, paymentIntentID string) (Refund, error)
}

// FileStorage is object storage for intermediate artifacts and reports.
type FileStorage interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	Download(ctx context.Context, key string) ([]byte, error)
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}

// Notifier tells the customer about the outcome of an audit.
type Notifier interface {
	ReportReady(ctx context.Context, order domain.AuditOrder) error
	AuditFailed(ctx context.Context, order domain.AuditOrder) error
}

// BriefAssembler builds the crawl brief from upstream project data.
type BriefAssembler interface {
	Assemble(ctx context.Context, order domain.AuditOrder) (domain.Brief, error)
}
