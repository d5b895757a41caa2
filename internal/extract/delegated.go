package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"parcelfetch/internal/domain"
)

// BackendEntity is one entity as reported by the semantic parser backend.
type BackendEntity struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

// Backend is the optional semantic parser service.
type Backend interface {
	Parse(ctx context.Context, text string) ([]BackendEntity, error)
}

var errMalformed = errors.New("malformed backend response")

// Delegated forwards text to a Backend and maps its answer onto the shared
// Entity model. Any backend failure falls back to the deterministic strategy.
type Delegated struct {
	backend  Backend
	vocab    *Vocabulary
	fallback Extractor
	logger   *slog.Logger
}

func NewDelegated(backend Backend, vocab *Vocabulary, fallback Extractor, logger *slog.Logger) *Delegated {
	if logger == nil {
		logger = slog.Default()
	}
	return &Delegated{
		backend:  backend,
		vocab:    vocab,
		fallback: fallback,
		logger:   logger.With("component", "extract.delegated"),
	}
}

func (d *Delegated) Extract(ctx context.Context, text string) []domain.Entity {
	raw, err := d.backend.Parse(ctx, text)
	if err == nil {
		var out []domain.Entity
		out, err = d.mapEntities(raw)
		if err == nil {
			return out
		}
	}
	d.logger.WarnContext(ctx, "semantic parser unavailable, using deterministic extraction", "error", err)
	return d.fallback.Extract(ctx, text)
}

func (d *Delegated) mapEntities(raw []BackendEntity) ([]domain.Entity, error) {
	out := make([]domain.Entity, 0, len(raw))
	for i, be := range raw {
		value := strings.TrimSpace(be.Value)
		if value == "" {
			return nil, fmt.Errorf("%w: entity %d has no value", errMalformed, i)
		}
		switch strings.ToLower(strings.TrimSpace(be.Kind)) {
		case "county":
			if id, ok := d.vocab.County(strings.TrimSuffix(strings.ToLower(value), " county")); ok {
				out = append(out, domain.CountyRef(value, id))
			} else if id, ok := d.vocab.County(value); ok {
				out = append(out, domain.CountyRef(value, id))
			} else {
				out = append(out, domain.Unrecognized(value))
			}
		case "tms", "tms_number", "parcel":
			normalized := NormalizeTMS(value)
			if len(d.vocab.MatchTMS(normalized)) > 0 {
				out = append(out, domain.TMSNumber(value, normalized))
			} else {
				out = append(out, domain.Unrecognized(value))
			}
		case "document_type", "doc_type":
			switch {
			case d.vocab.IsAll(value):
				out = append(out, domain.AllDocTypes(value))
			default:
				id, _ := d.vocab.DocType(strings.ReplaceAll(value, "_", " "))
				out = append(out, domain.DocTypeRef(value, id))
			}
		case "unrecognized", "other":
			out = append(out, domain.Unrecognized(value))
		default:
			return nil, fmt.Errorf("%w: entity %d has unknown kind %q", errMalformed, i, be.Kind)
		}
	}
	return out, nil
}

// HTTPBackend calls a semantic parser over HTTP: POST {Endpoint}/parse with
// {"text": ...}, answered by {"entities": [{"kind": ..., "value": ...}]}.
type HTTPBackend struct {
	Endpoint   string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

const defaultBackendTimeout = 10 * time.Second

// NewHTTPBackend returns a backend with its HTTP client already built, so
// Parse may be called from several goroutines.
func NewHTTPBackend(endpoint, apiKey string, timeout time.Duration) *HTTPBackend {
	if timeout <= 0 {
		timeout = defaultBackendTimeout
	}
	return &HTTPBackend{
		Endpoint:   endpoint,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: timeout},
		Timeout:    timeout,
	}
}

// BackendError wraps non-2xx responses.
type BackendError struct {
	StatusCode int
	Body       string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("parser backend error: status=%d body=%s", e.StatusCode, e.Body)
}

type parseRequest struct {
	Text string `json:"text"`
}

type parseResponse struct {
	Entities *[]BackendEntity `json:"entities"`
}

func (b *HTTPBackend) Parse(ctx context.Context, text string) ([]BackendEntity, error) {
	client := b.HTTPClient
	if client == nil {
		timeout := b.Timeout
		if timeout <= 0 {
			timeout = defaultBackendTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(parseRequest{Text: text}); err != nil {
		return nil, err
	}
	url := strings.TrimRight(b.Endpoint, "/") + "/parse"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if b.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.APIKey)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &BackendError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	var out parseResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if out.Entities == nil {
		return nil, fmt.Errorf("%w: missing entities", errMalformed)
	}
	return *out.Entities, nil
}
