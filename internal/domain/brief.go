package domain

import (
	"encoding/json"
	"strings"
)

// Brand identifies the audited client.
type Brand struct {
	Name   string `json:"name"`
	Domain string `json:"domain"`
}

// Competitor is a rival brand listed in the brief.
type Competitor struct {
	Name   string `json:"name"`
	Domain string `json:"domain"`
}

// Brief is the input sent to the crawl agent. It is assembled from upstream
// project, prompt and scan data.
type Brief struct {
	AuditID string `json:"auditId"`
	// RunID names one crawl attempt. It changes on every retry; AuditID does not.
	RunID       string       `json:"runId,omitempty"`
	Brand       Brand        `json:"brand"`
	Competitors []Competitor `json:"competitors,omitempty"`
	Prompts     []string     `json:"prompts,omitempty"`
	Locale      string       `json:"locale,omitempty"`
	CallbackURL string       `json:"callbackUrl,omitempty"`
}

func (b Brief) Validate() error {
	if strings.TrimSpace(b.Brand.Domain) == "" {
		return NewError(CodeInvalidInput, "brief brand domain is required", ErrInvalidInput)
	}
	return nil
}

func (b Brief) Marshal() (json.RawMessage, error) {
	return json.Marshal(b)
}

// BrandContext is what the analyzer needs to interpret observations.
type BrandContext struct {
	Name        string       `json:"name"`
	Domain      string       `json:"domain"`
	Competitors []Competitor `json:"competitors,omitempty"`
	Locale      string       `json:"locale,omitempty"`
}

func (b Brief) BrandContext() BrandContext {
	return BrandContext{
		Name:        b.Brand.Name,
		Domain:      b.Brand.Domain,
		Competitors: b.Competitors,
		Locale:      b.Locale,
	}
}
