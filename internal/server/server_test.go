package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"parcelfetch/internal/app"
)

type testServer struct {
	URL     string
	Runtime *app.Runtime
	client  *http.Client
}

func newTestServer(t *testing.T, secret string) *testServer {
	t.Helper()
	workspace := t.TempDir()
	rt, err := app.Open(app.Options{Workspace: workspace, OutputDir: filepath.Join(workspace, "output"), Mock: true})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	handler, err := New(Config{Runtime: rt, BasePath: "/v0", Auth: AuthConfig{JWTSecret: secret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		_ = rt.Close()
	})
	return &testServer{URL: srv.URL, Runtime: rt, client: srv.Client()}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, "")
	resp, body := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", resp.StatusCode, body)
	}
}

func TestOpenAPIConcurrentFirstRequests(t *testing.T) {
	ts := newTestServer(t, "")
	var wg sync.WaitGroup
	bodies := make(chan []byte, 8)
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := ts.client.Get(ts.URL + "/v0/openapi.json")
			if err != nil {
				errs <- err
				return
			}
			defer resp.Body.Close()
			data, err := io.ReadAll(resp.Body)
			if err != nil {
				errs <- err
				return
			}
			bodies <- data
		}()
	}
	wg.Wait()
	close(bodies)
	close(errs)
	for err := range errs {
		t.Fatalf("get openapi: %v", err)
	}
	var first []byte
	for b := range bodies {
		var doc map[string]any
		if err := json.Unmarshal(b, &doc); err != nil || doc["openapi"] == nil {
			t.Fatalf("bad openapi document: %v %s", err, b)
		}
		if first == nil {
			first = b
		} else if !bytes.Equal(first, b) {
			t.Fatalf("openapi documents differ between requests")
		}
	}
}

func TestParse(t *testing.T) {
	ts := newTestServer(t, "")
	resp, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/parse",
		ParseRequest{Instruction: "Collect all documents for Charleston County TMS 5590200072"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("parse status %d: %s", resp.StatusCode, body)
	}
	var got ParseResponse
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Steps) != 3 || got.Spec.Assignments["5590200072"] != "charleston" {
		t.Fatalf("parse = %+v", got)
	}
}

func TestParseValidationEnvelope(t *testing.T) {
	ts := newTestServer(t, "")
	resp, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/parse",
		ParseRequest{Instruction: "Collect all documents for Charleston County TMS 12345"}, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Error.Code != "validation_failed" || env.Error.Details["reason"] == nil {
		t.Fatalf("envelope = %+v", env.Error)
	}
}

func TestRunsAndProperties(t *testing.T) {
	ts := newTestServer(t, "")
	out, err := ts.Runtime.Execute(context.Background(), "property card and deed for Berkeley County TMS 2590502005", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	runID := out.Report.Result.RunID

	resp, body := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/runs?tms=259-05-02-005", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("runs status %d: %s", resp.StatusCode, body)
	}
	var list RunList
	if err := json.Unmarshal(body, &list); err != nil || len(list.Items) != 1 || list.Items[0].ID != runID {
		t.Fatalf("runs = %s (%v)", body, err)
	}

	resp, body = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/runs/"+runID, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("run status %d: %s", resp.StatusCode, body)
	}
	var detail RunDetail
	if err := json.Unmarshal(body, &detail); err != nil || len(detail.Documents) != 2 || len(detail.Events) == 0 {
		t.Fatalf("detail = %s (%v)", body, err)
	}

	resp, _ = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/runs/missing", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing run status %d", resp.StatusCode)
	}

	resp, body = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/properties/2590502005/documents", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("documents status %d: %s", resp.StatusCode, body)
	}
	var docs PropertyDocuments
	if err := json.Unmarshal(body, &docs); err != nil || len(docs.Documents) != 2 || len(docs.Runs) != 1 {
		t.Fatalf("documents = %s (%v)", body, err)
	}

	resp, _ = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/properties/abc/documents", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad tms status %d", resp.StatusCode)
	}
}

func TestJWTAuth(t *testing.T) {
	const secret = "test-secret"
	ts := newTestServer(t, secret)

	resp, _ := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health must stay open, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/runs", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
	bad, err := SignToken("other-secret", "alice", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, _ = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/runs", nil, map[string]string{"Authorization": "Bearer " + bad})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with foreign token, got %d", resp.StatusCode)
	}
	good, err := SignToken(secret, "alice", []string{"runs.read"})
	if err != nil {
		t.Fatal(err)
	}
	resp, body := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/runs", nil, map[string]string{"Authorization": "Bearer " + good})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d: %s", resp.StatusCode, body)
	}
}
