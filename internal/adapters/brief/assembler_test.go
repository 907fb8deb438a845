package brief

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"geoaudit/internal/domain"
)

func TestAssemble(t *testing.T) {
	order := domain.AuditOrder{
		ID: "ord_1",
		BriefPayload: json.RawMessage(`{
			"brand":{"name":"Acme","domain":"https://www.Acme.fr/"},
			"competitors":[
				{"name":"Rival","domain":"rival.fr"},
				{"name":"Rival again","domain":"https://rival.fr/pricing"},
				{"name":"Self","domain":"acme.fr"},
				{"name":"Nameless","domain":""}
			],
			"prompts":["meilleur logiciel de paie"]
		}`),
	}
	a := NewStoredAssembler("https://api.test/webhooks/crawl")
	b, err := a.Assemble(context.Background(), order)
	if err != nil {
		t.Fatal(err)
	}
	if b.AuditID != "ord_1" || b.CallbackURL != "https://api.test/webhooks/crawl" || b.Locale != "fr" {
		t.Fatalf("brief = %+v", b)
	}
	if b.Brand.Domain != "acme.fr" {
		t.Fatalf("brand domain = %q", b.Brand.Domain)
	}
	if len(b.Competitors) != 1 || b.Competitors[0].Name != "Rival" {
		t.Fatalf("competitors = %+v", b.Competitors)
	}
	if len(b.Prompts) != 1 {
		t.Fatalf("prompts = %v", b.Prompts)
	}
}

func TestAssembleMissingBriefIsPermanent(t *testing.T) {
	_, err := NewStoredAssembler("").Assemble(context.Background(), domain.AuditOrder{ID: "ord_1"})
	if !errors.Is(err, domain.ErrPermanentContent) {
		t.Fatalf("err = %v, want ErrPermanentContent", err)
	}
}
