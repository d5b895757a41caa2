package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"parcelfetch/internal/app"
	"parcelfetch/internal/domain"
	"parcelfetch/internal/events"
)

func newRuntime(t *testing.T) *app.Runtime {
	t.Helper()
	dir := t.TempDir()
	rt, err := app.Open(app.Options{Workspace: dir, OutputDir: filepath.Join(dir, "output"), Mock: true})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func TestExecuteRecordsHistoryAndLog(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()
	out, err := rt.Execute(ctx, "Collect all documents for Charleston County TMS 5590200072", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	res := out.Report.Result
	if res.Status != domain.RunSuccess || len(res.Documents) != 3 {
		t.Fatalf("result = %s docs=%d errors=%+v", res.Status, len(res.Documents), res.Errors)
	}

	raw, err := os.ReadFile(out.LogPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var logDoc app.ExecutionLog
	if err := json.Unmarshal(raw, &logDoc); err != nil {
		t.Fatalf("decode log: %v", err)
	}
	if logDoc.RunID != res.RunID || len(logDoc.Transitions) != 6 || logDoc.Summary.TotalDocuments != 3 {
		t.Fatalf("log = %+v", logDoc.Summary)
	}
	if filepath.Base(filepath.Dir(out.LogPath)) != "logs" {
		t.Fatalf("log path = %s", out.LogPath)
	}

	r, err := rt.History(ctx)
	if err != nil {
		t.Fatal(err)
	}
	run, err := r.GetRun(ctx, res.RunID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != domain.RunSuccess || run.Succeeded != 3 || run.Failed != 0 || run.LogPath != out.LogPath {
		t.Fatalf("run = %+v", run)
	}
	runs, err := r.ListRuns(ctx, 10, "5590200072")
	if err != nil || len(runs) != 1 {
		t.Fatalf("runs by tms = %+v, %v", runs, err)
	}
	other, err := r.ListRuns(ctx, 10, "2590502005")
	if err != nil || len(other) != 0 {
		t.Fatalf("runs for other tms = %+v, %v", other, err)
	}
	docs, err := r.DocumentsByTMS(ctx, "5590200072")
	if err != nil || len(docs) != 3 {
		t.Fatalf("documents = %+v, %v", docs, err)
	}
	evts, err := r.EventsForRun(ctx, res.RunID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 8 || evts[0].Type != events.TypeRunStarted || evts[len(evts)-1].Type != events.TypeRunFinished {
		t.Fatalf("events = %d (%+v)", len(evts), evts)
	}
}

func TestExecuteRerunKeepsLatestDocuments(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := rt.Execute(ctx, "property card for Berkeley County TMS 2590502005", nil); err != nil {
			t.Fatalf("execute %d: %v", i, err)
		}
	}
	r, err := rt.History(ctx)
	if err != nil {
		t.Fatal(err)
	}
	docs, err := r.DocumentsByTMS(ctx, "2590502005")
	if err != nil || len(docs) != 1 {
		t.Fatalf("documents = %+v, %v", docs, err)
	}
	runs, err := r.ListRuns(ctx, 0, "")
	if err != nil || len(runs) != 2 {
		t.Fatalf("runs = %d, %v", len(runs), err)
	}
}

func TestExecuteValidationSkipsEngine(t *testing.T) {
	rt := newRuntime(t)
	ctx := context.Background()
	_, err := rt.Execute(ctx, "Collect all documents for Charleston County TMS 12345", nil)
	if !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if code := app.ExitCode(domain.ExecutionResult{}, err); code != 2 {
		t.Fatalf("exit code = %d", code)
	}
	if _, statErr := os.Stat(filepath.Join(rt.Config.Output.Dir, "logs")); !os.IsNotExist(statErr) {
		t.Fatalf("no execution log should be written")
	}
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		res  domain.ExecutionResult
		err  error
		want int
	}{
		{domain.ExecutionResult{Status: domain.RunSuccess}, nil, 0},
		{domain.ExecutionResult{Status: domain.RunPartialFailure}, nil, 0},
		{domain.ExecutionResult{Status: domain.RunFailure}, nil, 1},
		{domain.ExecutionResult{}, context.Canceled, 130},
		{domain.ExecutionResult{}, errors.New("disk full"), 1},
	}
	for _, c := range cases {
		if got := app.ExitCode(c.res, c.err); got != c.want {
			t.Fatalf("ExitCode(%s, %v) = %d, want %d", c.res.Status, c.err, got, c.want)
		}
	}
}
