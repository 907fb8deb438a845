package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Severity ranks findings. Actions use the same scale as their tier.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank orders severities, lower is more severe. Unknown values sort last.
func (s Severity) Rank() int {
	switch Severity(strings.ToLower(string(s))) {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	default:
		return 4
	}
}

type Finding struct {
	Title    string   `json:"title"`
	Severity Severity `json:"severity"`
	Detail   string   `json:"detail,omitempty"`
}

type Action struct {
	Title  string   `json:"title"`
	Tier   Severity `json:"tier"`
	Detail string   `json:"detail,omitempty"`
}

type ExternalPresenceScore struct {
	Score int    `json:"score"`
	Notes string `json:"notes,omitempty"`
}

type CompetitorInsight struct {
	Name   string `json:"name"`
	Domain string `json:"domain"`
	Notes  string `json:"notes,omitempty"`
}

// SiteFacts are the comparable facts for one side of a comparison.
type SiteFacts struct {
	Domain              string   `json:"domain"`
	PagesCrawled        int      `json:"pagesCrawled"`
	StructuredDataTypes []string `json:"structuredDataTypes,omitempty"`
	HasFAQ              bool     `json:"hasFaq"`
	HasBlog             bool     `json:"hasBlog"`
	AvgWordCount        int      `json:"avgWordCount"`
	CitationCount       int      `json:"citationCount"`
}

func FactsOf(s SiteObservation) SiteFacts {
	return SiteFacts{
		Domain:              s.Domain,
		PagesCrawled:        s.PagesCrawled,
		StructuredDataTypes: s.StructuredDataTypes,
		HasFAQ:              s.HasFAQ,
		HasBlog:             s.HasBlog,
		AvgWordCount:        s.AvgWordCount,
		CitationCount:       s.CitationCount,
	}
}

// CompetitorComparison puts factual client data next to one competitor.
type CompetitorComparison struct {
	Competitor string    `json:"competitor"`
	Domain     string    `json:"domain"`
	Client     SiteFacts `json:"client"`
	Rival      SiteFacts `json:"rival"`
}

// StructuredAnalysis is the analyzer's interpretation of the observations.
type StructuredAnalysis struct {
	GeoScore         int                    `json:"geoScore"`
	Verdict          string                 `json:"verdict"`
	Summary          string                 `json:"summary,omitempty"`
	Findings         []Finding              `json:"findings"`
	Actions          []Action               `json:"actions"`
	ExternalPresence *ExternalPresenceScore `json:"externalPresence,omitempty"`
	Competitors      []CompetitorInsight    `json:"competitors,omitempty"`
	Comparisons      []CompetitorComparison `json:"comparisons,omitempty"`
}

// ErrSchemaViolation is wrapped by Validate failures.
var ErrSchemaViolation = errors.New("analysis schema violation")

// Validate checks the analyzer response against the expected schema.
func (a StructuredAnalysis) Validate() error {
	var problems []string
	if a.GeoScore < 0 || a.GeoScore > 100 {
		problems = append(problems, fmt.Sprintf("geoScore %d out of range", a.GeoScore))
	}
	if strings.TrimSpace(a.Verdict) == "" {
		problems = append(problems, "verdict is empty")
	}
	for i, f := range a.Findings {
		if strings.TrimSpace(f.Title) == "" {
			problems = append(problems, fmt.Sprintf("findings[%d].title is empty", i))
		}
	}
	for i, act := range a.Actions {
		if act.Tier.Rank() > 3 {
			problems = append(problems, fmt.Sprintf("actions[%d].tier %q is unknown", i, act.Tier))
		}
	}
	if a.ExternalPresence != nil && (a.ExternalPresence.Score < 0 || a.ExternalPresence.Score > 100) {
		problems = append(problems, "externalPresence.score out of range")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrSchemaViolation, strings.Join(problems, "; "))
	}
	return nil
}
