// Package crawlagent triggers crawl runs on the external browsing agent.
package crawlagent

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

const defaultTimeout = 30 * time.Second

type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("crawlagent: base url is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{baseURL: base, apiKey: strings.TrimSpace(opts.APIKey), http: hc}, nil
}

type triggerResponse struct {
	AgentID string `json:"agentId"`
	ID      string `json:"id"`
}

// Trigger starts a crawl for brief and returns the run's agent id. The agent
// reports back on brief.CallbackURL. Requests are idempotent per brief.RunID,
// so a retried attempt starts a new run.
func (c *Client) Trigger(ctx context.Context, brief domain.Brief) (string, error) {
	body, err := json.Marshal(brief)
	if err != nil {
		return "", fmt.Errorf("crawlagent: encode brief: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/crawls", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey(brief))
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("crawlagent: trigger: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("crawlagent: read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("crawlagent: trigger returned %d: %s", resp.StatusCode, snippet(raw))
	}

	var out triggerResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("crawlagent: decode response: %w", err)
	}
	agentID := out.AgentID
	if agentID == "" {
		agentID = out.ID
	}
	if agentID == "" {
		return "", errors.New("crawlagent: response carries no agent id")
	}
	return agentID, nil
}

func idempotencyKey(brief domain.Brief) string {
	if brief.RunID != "" {
		return brief.RunID
	}
	return brief.AuditID
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

var _ ports.CrawlAgent = (*Client)(nil)
