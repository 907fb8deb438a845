package domain

import (
	"encoding/json"
	"strings"
)

// SiteObservation holds the facts the crawl agent collected for one site.
type SiteObservation struct {
	Name                string   `json:"name"`
	Domain              string   `json:"domain"`
	URL                 string   `json:"url,omitempty"`
	PagesCrawled        int      `json:"pagesCrawled"`
	StructuredDataTypes []string `json:"structuredDataTypes,omitempty"`
	HasFAQ              bool     `json:"hasFaq"`
	HasBlog             bool     `json:"hasBlog"`
	AvgWordCount        int      `json:"avgWordCount"`
	CitationCount       int      `json:"citationCount"`
}

// ExternalPresence summarises third-party mentions of the client.
type ExternalPresence struct {
	Mentions []string `json:"mentions,omitempty"`
	Sources  int      `json:"sources"`
}

// Observations is the raw crawl output for the client and its competitors.
type Observations struct {
	Client           SiteObservation   `json:"client"`
	Competitors      []SiteObservation `json:"competitors,omitempty"`
	ExternalPresence *ExternalPresence `json:"externalPresence,omitempty"`
}

// PageCounts is the lightweight page metadata extracted on crawl completion.
type PageCounts struct {
	Client      int
	Competitors int
}

func (p PageCounts) Total() int { return p.Client + p.Competitors }

// ParseObservations decodes raw crawl output. Decoding failures are permanent.
func ParseObservations(raw []byte) (Observations, error) {
	var obs Observations
	if len(raw) == 0 {
		return obs, PermanentError("observations are empty", nil)
	}
	if err := json.Unmarshal(raw, &obs); err != nil {
		return obs, PermanentError("observations are not valid JSON", err)
	}
	return obs, nil
}

func (o Observations) PageCounts() PageCounts {
	pc := PageCounts{Client: o.Client.PagesCrawled}
	for _, c := range o.Competitors {
		pc.Competitors += c.PagesCrawled
	}
	return pc
}

// CompetitorNames lists competitor names, falling back to the domain.
func (o Observations) CompetitorNames() []string {
	names := make([]string, 0, len(o.Competitors))
	for _, c := range o.Competitors {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			name = strings.TrimSpace(c.Domain)
		}
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}
