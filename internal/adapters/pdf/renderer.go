// Package pdf renders audit reports through the rendering service and
// stores the resulting document.
package pdf

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"geoaudit/internal/domain"
	"geoaudit/internal/ports"
)

const (
	defaultTimeout = 2 * time.Minute
	maxPDFBytes    = 50 << 20
)

type Options struct {
	BaseURL    string
	APIKey     string
	Storage    ports.FileStorage
	HTTPClient *http.Client
}

type Renderer struct {
	baseURL string
	apiKey  string
	storage ports.FileStorage
	http    *http.Client
}

func New(opts Options) (*Renderer, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("pdf: base url is required")
	}
	if opts.Storage == nil {
		return nil, errors.New("pdf: storage is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	return &Renderer{baseURL: base, apiKey: strings.TrimSpace(opts.APIKey), storage: opts.Storage, http: hc}, nil
}

// ReportKey is where the report of an order is stored.
func ReportKey(orderID string) string { return "audits/" + orderID + "/report.pdf" }

type renderRequest struct {
	AuditID   string                `json:"auditId"`
	Brand     domain.Brand          `json:"brand"`
	Partial   bool                  `json:"partial"`
	Metadata  domain.ResultMetadata `json:"metadata"`
	Analysis  json.RawMessage       `json:"analysis"`
	CreatedAt time.Time             `json:"createdAt"`
}

// GenerateReport renders the stored analysis of order and uploads the PDF.
// It returns the storage key of the report.
func (r *Renderer) GenerateReport(ctx context.Context, order domain.AuditOrder) (string, error) {
	if order.AnalysisDataURL == "" {
		return "", domain.PermanentError("analysis is missing", nil)
	}
	analysis, err := r.storage.Download(ctx, order.AnalysisDataURL)
	if err != nil {
		return "", fmt.Errorf("pdf: load analysis: %w", err)
	}
	brief, err := order.Brief()
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(renderRequest{
		AuditID:   order.ID,
		Brand:     brief.Brand,
		Partial:   order.CrawlPartial,
		Metadata:  order.Result,
		Analysis:  analysis,
		CreatedAt: order.CreatedAt,
	})
	if err != nil {
		return "", fmt.Errorf("pdf: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/render", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/pdf")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("pdf: render: %w", err)
	}
	defer resp.Body.Close()
	doc, err := io.ReadAll(io.LimitReader(resp.Body, maxPDFBytes))
	if err != nil {
		return "", fmt.Errorf("pdf: read document: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("pdf: render returned %d", resp.StatusCode)
	}
	if !bytes.HasPrefix(doc, []byte("%PDF-")) {
		return "", errors.New("pdf: renderer did not return a PDF document")
	}

	key := ReportKey(order.ID)
	if err := r.storage.Upload(ctx, key, doc, "application/pdf"); err != nil {
		return "", fmt.Errorf("pdf: store report: %w", err)
	}
	return key, nil
}

var _ ports.PdfRenderer = (*Renderer)(nil)
