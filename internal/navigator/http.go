package navigator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"parcelfetch/internal/config"
	"parcelfetch/internal/domain"
)

const (
	maxDocumentBytes = 50 << 20
	headerBookPage   = "X-Book-Page"
	userAgent        = "parcelfetch/1.0"
)

// HTTP fetches documents from the URL templates configured per county.
type HTTP struct {
	Counties   map[string]config.County
	HTTPClient *http.Client
}

func NewHTTP(cfg *config.Config, client *http.Client) *HTTP {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &HTTP{Counties: cfg.Counties, HTTPClient: client}
}

func (h *HTTP) Fetch(ctx context.Context, county domain.CountyID, tms string, docType domain.DocTypeID) (Document, error) {
	cc, ok := h.Counties[string(county)]
	if !ok {
		return Document{}, domain.Permanent(fmt.Sprintf("county %s is not configured", county), nil)
	}
	tmpl := cc.DocURLs[string(docType)]
	if tmpl == "" {
		return Document{}, domain.Permanent(fmt.Sprintf("%s has no source for %s", county, docType), nil)
	}
	url := strings.ReplaceAll(tmpl, "{tms}", tms)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Document{}, domain.Permanent("invalid document url", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/pdf, */*")

	resp, err := h.HTTPClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Document{}, domain.Transient("request timed out", err)
		}
		return Document{}, domain.Transient("request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Document{}, Classify(resp.StatusCode, strings.TrimSpace(string(body)))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes+1))
	if err != nil {
		return Document{}, domain.Transient("reading response", err)
	}
	if len(data) > maxDocumentBytes {
		return Document{}, domain.Permanent("document exceeds size limit", nil)
	}
	return Document{
		Data:        data,
		Instance:    resp.Header.Get(headerBookPage),
		ContentType: resp.Header.Get("Content-Type"),
		Source:      url,
	}, nil
}

// Classify maps an HTTP status to a fetch error.
func Classify(status int, body string) error {
	msg := fmt.Sprintf("http %d", status)
	if body != "" {
		msg += ": " + body
	}
	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		return domain.Permanent("not found ("+msg+")", nil)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return domain.Permanent("invalid input ("+msg+")", nil)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.Permanent("unauthorized ("+msg+")", nil)
	case status == http.StatusTooManyRequests:
		return domain.Transient("rate limited by remote ("+msg+")", nil)
	case status == http.StatusRequestTimeout || status >= 500:
		return domain.Transient("server error ("+msg+")", nil)
	default:
		return domain.Permanent("unexpected response ("+msg+")", nil)
	}
}
