package analyzer

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"geoaudit/internal/domain"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func respond(status int, body string) roundTripFunc {
	return func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: status,
			Body:       io.NopCloser(strings.NewReader(body)),
			Header:     http.Header{"Content-Type": {"application/json"}},
			Request:    r,
		}, nil
	}
}

func TestAnalyze(t *testing.T) {
	const valid = `{"geoScore":72,"verdict":"bonne","findings":[{"title":"No FAQ","severity":"high"}],"actions":[]}`

	tests := []struct {
		name       string
		rt         roundTripFunc
		wantScore  int
		wantSchema bool
		wantErr    bool
		wantRaw    bool
	}{
		{name: "plain json", rt: respond(http.StatusOK, valid), wantScore: 72, wantRaw: true},
		{name: "fenced json", rt: respond(http.StatusOK, "```json\n"+valid+"\n```"), wantScore: 72, wantRaw: true},
		{name: "prose instead of json", rt: respond(http.StatusOK, "I could not analyse this site."), wantErr: true, wantSchema: true, wantRaw: true},
		{name: "wrong field type", rt: respond(http.StatusOK, `{"geoScore":"high"}`), wantErr: true, wantSchema: true, wantRaw: true},
		{name: "server error is transient", rt: respond(http.StatusServiceUnavailable, `overloaded`), wantErr: true, wantRaw: true},
		{name: "transport error", rt: func(*http.Request) (*http.Response, error) { return nil, errors.New("dial tcp: refused") }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(Options{BaseURL: "https://analyzer.test", HTTPClient: &http.Client{Transport: tt.rt}})
			if err != nil {
				t.Fatal(err)
			}
			analysis, raw, err := c.Analyze(context.Background(), domain.Observations{}, domain.BrandContext{Domain: "acme.fr"})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if errors.Is(err, domain.ErrSchemaViolation) != tt.wantSchema {
				t.Fatalf("schema violation = %v, want %v", errors.Is(err, domain.ErrSchemaViolation), tt.wantSchema)
			}
			if (len(raw) > 0) != tt.wantRaw {
				t.Fatalf("raw = %q", raw)
			}
			if analysis.GeoScore != tt.wantScore {
				t.Fatalf("geoScore = %d", analysis.GeoScore)
			}
		})
	}
}

func TestAnalyzeSendsBrandAndModel(t *testing.T) {
	var body string
	rt := func(r *http.Request) (*http.Response, error) {
		if r.URL.String() != "https://analyzer.test/v1/analyze" || r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("request %s auth=%q", r.URL, r.Header.Get("Authorization"))
		}
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		return respond(http.StatusOK, `{"geoScore":1,"verdict":"faible"}`)(r)
	}
	c, err := New(Options{BaseURL: "https://analyzer.test/", APIKey: "k", Model: "geo-v2", HTTPClient: &http.Client{Transport: roundTripFunc(rt)}})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.Analyze(context.Background(), domain.Observations{}, domain.BrandContext{Name: "Acme", Domain: "acme.fr"}); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"model":"geo-v2"`, `"domain":"acme.fr"`, `"observations":`} {
		if !strings.Contains(body, want) {
			t.Errorf("request body %s misses %s", body, want)
		}
	}
}
