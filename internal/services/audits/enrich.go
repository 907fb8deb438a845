package audits

import (
	"net/url"
	"slices"
	"strings"

	"golang.org/x/net/publicsuffix"

	"geoaudit/internal/domain"
)

const topFindingsLimit = 3

// registrableDomain reduces a domain or URL to its eTLD+1, so that
// "https://www.shop.example.co.uk/x" and "example.co.uk" compare equal.
func registrableDomain(raw string) string {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "//" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.TrimSuffix(u.Hostname(), ".")
	registrable, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return registrable
}

// Enrich attaches factual client-vs-competitor comparisons taken from the raw
// observations. Competitors named by the analysis are matched to observed
// sites by registrable domain; with none named, every observed competitor is
// compared.
func Enrich(analysis domain.StructuredAnalysis, obs domain.Observations) domain.StructuredAnalysis {
	observed := make(map[string]domain.SiteObservation, len(obs.Competitors))
	for _, c := range obs.Competitors {
		if key := registrableDomain(c.Domain); key != "" {
			observed[key] = c
		} else if key := registrableDomain(c.URL); key != "" {
			observed[key] = c
		}
	}

	client := domain.FactsOf(obs.Client)
	var comparisons []domain.CompetitorComparison
	compare := func(name string, rival domain.SiteObservation) {
		if name == "" {
			name = rival.Name
		}
		comparisons = append(comparisons, domain.CompetitorComparison{
			Competitor: name,
			Domain:     rival.Domain,
			Client:     client,
			Rival:      domain.FactsOf(rival),
		})
	}

	if len(analysis.Competitors) == 0 {
		for _, c := range obs.Competitors {
			compare(c.Name, c)
		}
	} else {
		seen := make(map[string]bool)
		for _, insight := range analysis.Competitors {
			key := registrableDomain(insight.Domain)
			rival, ok := observed[key]
			if !ok || seen[key] {
				continue
			}
			seen[key] = true
			compare(insight.Name, rival)
		}
	}

	enriched := analysis
	enriched.Comparisons = comparisons
	return enriched
}

// ExtractMetadata derives the denormalized summary stored on the order.
func ExtractMetadata(analysis domain.StructuredAnalysis, obs domain.Observations) domain.ResultMetadata {
	score := analysis.GeoScore
	meta := domain.ResultMetadata{
		GeoScore:            &score,
		Verdict:             analysis.Verdict,
		TopFindings:         topFindings(analysis.Findings, topFindingsLimit),
		TotalActions:        len(analysis.Actions),
		PagesAnalyzed:       obs.PageCounts().Total(),
		CompetitorsAnalyzed: len(obs.Competitors),
	}
	for _, a := range analysis.Actions {
		switch a.Tier.Rank() {
		case 0:
			meta.ActionCountCritical++
		case 1:
			meta.ActionCountHigh++
		case 2:
			meta.ActionCountMedium++
		}
	}
	if analysis.ExternalPresence != nil {
		ext := analysis.ExternalPresence.Score
		meta.ExternalPresenceScore = &ext
	}
	return meta
}

func topFindings(findings []domain.Finding, n int) []string {
	sorted := slices.Clone(findings)
	slices.SortStableFunc(sorted, func(a, b domain.Finding) int {
		return a.Severity.Rank() - b.Severity.Rank()
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	titles := make([]string, 0, len(sorted))
	for _, f := range sorted {
		titles = append(titles, f.Title)
	}
	return titles
}
