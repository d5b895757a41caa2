package parcelfetchsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal parcelfetch HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{BaseURL: baseURL, Timeout: 10 * time.Second}
}

type Entity struct {
	Kind    string `json:"kind"`
	Text    string `json:"text"`
	County  string `json:"county,omitempty"`
	TMS     string `json:"tms,omitempty"`
	DocType string `json:"doc_type,omitempty"`
	All     bool   `json:"all,omitempty"`
}

type WorkflowSpec struct {
	Counties    []string          `json:"counties"`
	TMSNumbers  []string          `json:"tms_numbers"`
	DocTypes    []string          `json:"doc_types"`
	Assignments map[string]string `json:"assignments"`
}

type PlannedStep struct {
	TMS     string `json:"tms"`
	DocType string `json:"doc_type"`
	County  string `json:"county"`
}

type Skipped struct {
	TMS     string `json:"tms"`
	DocType string `json:"doc_type"`
	County  string `json:"county"`
	Reason  string `json:"reason"`
}

// Plan is the compiled form of an instruction.
type Plan struct {
	Instruction string        `json:"instruction"`
	Entities    []Entity      `json:"entities"`
	Spec        WorkflowSpec  `json:"spec"`
	Steps       []PlannedStep `json:"steps"`
	Skipped     []Skipped     `json:"skipped"`
}

type Run struct {
	ID          string   `json:"id"`
	Instruction string   `json:"instruction"`
	Status      string   `json:"status"`
	TMSNumbers  []string `json:"tms_numbers"`
	Steps       int      `json:"steps"`
	Succeeded   int      `json:"succeeded"`
	Failed      int      `json:"failed"`
	LogPath     string   `json:"log_path,omitempty"`
	StartedAt   string   `json:"started_at"`
	FinishedAt  string   `json:"finished_at"`
	ElapsedMS   int64    `json:"elapsed_ms"`
}

type Document struct {
	TMS         string    `json:"tms"`
	DocType     string    `json:"doc_type"`
	County      string    `json:"county"`
	Path        string    `json:"path"`
	SizeBytes   int64     `json:"size_bytes"`
	Checksum    string    `json:"checksum"`
	CollectedAt time.Time `json:"collected_at"`
}

type Event struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts"`
	RunID   string `json:"run_id"`
	Type    string `json:"type"`
	TMS     string `json:"tms,omitempty"`
	DocType string `json:"doc_type,omitempty"`
	Payload string `json:"payload_json"`
}

type RunDetail struct {
	Run       Run        `json:"run"`
	Documents []Document `json:"documents"`
	Events    []Event    `json:"events"`
}

type PropertyDocuments struct {
	TMS       string     `json:"tms"`
	Documents []Document `json:"documents"`
	Runs      []Run      `json:"runs"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Parse compiles an instruction without executing it. A rejected instruction
// returns an *APIError with status 422.
func (c *Client) Parse(ctx context.Context, instruction string) (Plan, error) {
	var resp Plan
	err := c.do(ctx, http.MethodPost, "v0/parse", map[string]string{"instruction": instruction}, &resp)
	return resp, err
}

// ListRuns lists recorded runs, optionally restricted to one TMS number.
func (c *Client) ListRuns(ctx context.Context, limit int, tms string) ([]Run, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if tms != "" {
		q.Set("tms", tms)
	}
	endpoint := "v0/runs"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []Run `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) GetRun(ctx context.Context, id string) (RunDetail, error) {
	var resp RunDetail
	err := c.do(ctx, http.MethodGet, "v0/runs/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) PropertyDocuments(ctx context.Context, tms string) (PropertyDocuments, error) {
	var resp PropertyDocuments
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/properties/%s/documents", url.PathEscape(tms)), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
