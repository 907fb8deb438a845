// Package analyzer calls the AI analysis service that turns crawl
// observations into a structured GEO analysis.
package analyzer

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
	defaultTimeout   = 2 * time.Minute
	maxResponseBytes = 5 << 20
)

type Options struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("analyzer: base url is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{baseURL: base, apiKey: strings.TrimSpace(opts.APIKey), model: strings.TrimSpace(opts.Model), http: hc}, nil
}

type analyzeRequest struct {
	Model        string              `json:"model,omitempty"`
	Brand        domain.BrandContext `json:"brand"`
	Observations domain.Observations `json:"observations"`
}

// Analyze posts the observations and decodes the analysis. The raw body is
// returned in every case it was read, so a rejected answer can be kept.
// Bodies that do not decode wrap domain.ErrSchemaViolation.
func (c *Client) Analyze(ctx context.Context, obs domain.Observations, brand domain.BrandContext) (domain.StructuredAnalysis, []byte, error) {
	var analysis domain.StructuredAnalysis

	body, err := json.Marshal(analyzeRequest{Model: c.model, Brand: brand, Observations: obs})
	if err != nil {
		return analysis, nil, fmt.Errorf("analyzer: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/analyze", bytes.NewReader(body))
	if err != nil {
		return analysis, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return analysis, nil, fmt.Errorf("analyzer: request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return analysis, nil, fmt.Errorf("analyzer: read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return analysis, raw, fmt.Errorf("analyzer: status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(stripFence(raw), &analysis); err != nil {
		return analysis, raw, fmt.Errorf("%w: %v", domain.ErrSchemaViolation, err)
	}
	return analysis, raw, nil
}

// stripFence removes a markdown code fence around a JSON document, which
// language models add even when told not to.
func stripFence(raw []byte) []byte {
	s := bytes.TrimSpace(raw)
	if !bytes.HasPrefix(s, []byte("```")) {
		return s
	}
	s = bytes.TrimPrefix(s, []byte("```"))
	if nl := bytes.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = bytes.TrimSuffix(bytes.TrimSpace(s), []byte("```"))
	return bytes.TrimSpace(s)
}

var _ ports.Analyzer = (*Client)(nil)
