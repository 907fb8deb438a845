// Package brief assembles the crawl brief from the payload captured at
// checkout.
package brief

import (
	"context"
	"strings"

	"geoaudit/internal/domain"
	"geoaudit/internal/ports"
)

const defaultLocale = "fr"

// StoredAssembler reuses the brief stored on the order and completes it with
// the fields only the orchestrator knows.
type StoredAssembler struct {
	callbackURL string
}

func NewStoredAssembler(callbackURL string) *StoredAssembler {
	return &StoredAssembler{callbackURL: callbackURL}
}

func (a *StoredAssembler) Assemble(_ context.Context, order domain.AuditOrder) (domain.Brief, error) {
	b, err := order.Brief()
	if err != nil {
		return b, err
	}
	b.AuditID = order.ID
	b.CallbackURL = a.callbackURL
	b.Brand.Domain = normalizeDomain(b.Brand.Domain)
	if b.Locale == "" {
		b.Locale = defaultLocale
	}

	seen := map[string]bool{b.Brand.Domain: true}
	competitors := make([]domain.Competitor, 0, len(b.Competitors))
	for _, c := range b.Competitors {
		c.Domain = normalizeDomain(c.Domain)
		if c.Domain == "" || seen[c.Domain] {
			continue
		}
		seen[c.Domain] = true
		competitors = append(competitors, c)
	}
	b.Competitors = competitors
	return b, nil
}

// normalizeDomain reduces a URL or host to a lower-case host without "www.".
func normalizeDomain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.Index(d, "://"); i >= 0 {
		d = d[i+3:]
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	return strings.TrimPrefix(d, "www.")
}

var _ ports.BriefAssembler = (*StoredAssembler)(nil)
