package navigator_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"parcelfetch/internal/config"
	"parcelfetch/internal/domain"
	"parcelfetch/internal/navigator"
)

func TestClassify(t *testing.T) {
	cases := map[int]domain.ErrorKind{
		http.StatusNotFound:            domain.KindPermanent,
		http.StatusGone:                domain.KindPermanent,
		http.StatusBadRequest:          domain.KindPermanent,
		http.StatusUnprocessableEntity: domain.KindPermanent,
		http.StatusUnauthorized:        domain.KindPermanent,
		http.StatusForbidden:           domain.KindPermanent,
		http.StatusTooManyRequests:     domain.KindTransient,
		http.StatusInternalServerError: domain.KindTransient,
		http.StatusBadGateway:          domain.KindTransient,
		http.StatusServiceUnavailable:  domain.KindTransient,
	}
	for status, want := range cases {
		if got := domain.KindOf(navigator.Classify(status, "")); got != want {
			t.Fatalf("status %d: kind %s, want %s", status, got, want)
		}
	}
}

func httpConfig(url string) *config.Config {
	cfg := config.Default()
	cc := cfg.Counties["charleston"]
	cc.DocURLs = map[string]string{
		"property_card": url + "/prc?pin={tms}",
		"deed":          url + "/deeds?pin={tms}",
		"tax_info":      url + "/tax?pin={tms}",
	}
	cfg.Counties["charleston"] = cc
	return cfg
}

func TestHTTPFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/prc":
			if r.URL.Query().Get("pin") != "5590200072" {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write(navigator.RenderPDF("card"))
		case "/deeds":
			w.Header().Set("X-Book-Page", "Book 1234 Page 567")
			_, _ = w.Write(navigator.RenderPDF("deed"))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	nav := navigator.NewHTTP(httpConfig(srv.URL), srv.Client())
	ctx := context.Background()

	doc, err := nav.Fetch(ctx, "charleston", "5590200072", "property_card")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if doc.ContentType != "application/pdf" || !bytes.HasPrefix(doc.Data, []byte("%PDF")) {
		t.Fatalf("doc = %+v", doc)
	}

	deed, err := nav.Fetch(ctx, "charleston", "5590200072", "deed")
	if err != nil || deed.Instance != "Book 1234 Page 567" {
		t.Fatalf("deed = %+v, %v", deed, err)
	}

	_, err = nav.Fetch(ctx, "charleston", "1111111111", "property_card")
	if domain.KindOf(err) != domain.KindPermanent {
		t.Fatalf("missing tms: %v", err)
	}
	_, err = nav.Fetch(ctx, "charleston", "5590200072", "tax_info")
	if domain.KindOf(err) != domain.KindTransient {
		t.Fatalf("503: %v", err)
	}
	_, err = nav.Fetch(ctx, "charleston", "5590200072", "tax_bill")
	if domain.KindOf(err) != domain.KindPermanent {
		t.Fatalf("unconfigured doc type: %v", err)
	}
}

func TestHTTPTransportErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	nav := navigator.NewHTTP(httpConfig(url), nil)
	_, err := nav.Fetch(context.Background(), "charleston", "5590200072", "property_card")
	if domain.KindOf(err) != domain.KindTransient {
		t.Fatalf("expected transient, got %v", err)
	}
}

func TestMockServesDemoData(t *testing.T) {
	m := &navigator.Mock{}
	ctx := context.Background()
	doc, err := m.Fetch(ctx, "charleston", "5590200072", "deed")
	if err != nil || doc.Instance != "Book 1234 Page 567" {
		t.Fatalf("deed = %+v, %v", doc, err)
	}
	n, err := api.PageCount(bytes.NewReader(doc.Data), nil)
	if err != nil || n != 1 {
		t.Fatalf("page count = %d, %v", n, err)
	}
	if _, err := m.Fetch(ctx, "berkeley", "5590200072", "deed"); domain.KindOf(err) != domain.KindPermanent {
		t.Fatalf("wrong county should be not found: %v", err)
	}
	if _, err := m.Fetch(ctx, "charleston", "5590200072", "tax_bill"); domain.KindOf(err) != domain.KindPermanent {
		t.Fatalf("unsupported type should be not found: %v", err)
	}
	if len(navigator.DemoTMSNumbers()) != 4 {
		t.Fatalf("demo set = %v", navigator.DemoTMSNumbers())
	}
}

func TestMockForcedFailure(t *testing.T) {
	m := &navigator.Mock{Fail: map[domain.DocTypeID]error{"tax_info": domain.Permanent("gone", nil)}}
	if _, err := m.Fetch(context.Background(), "charleston", "5590200072", "tax_info"); domain.KindOf(err) != domain.KindPermanent {
		t.Fatalf("forced failure: %v", err)
	}
}
