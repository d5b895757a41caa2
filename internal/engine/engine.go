// Package engine executes a WorkflowSpec: it expands it into Steps and runs
// them on a bounded worker pool through the rate limiter, the retry policy,
// the navigator and the organizer.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"parcelfetch/internal/config"
	"parcelfetch/internal/domain"
	"parcelfetch/internal/navigator"
	"parcelfetch/internal/progress"
	"parcelfetch/internal/ratelimit"
	"parcelfetch/internal/retry"
)

// Limiter hands out per-domain tokens.
type Limiter interface {
	Acquire(ctx context.Context, domain string) error
}

// Store persists fetched documents.
type Store interface {
	Store(tms string, docType domain.DocTypeID, county domain.CountyID, doc navigator.Document) (domain.DocumentRecord, error)
}

type Engine struct {
	Config    *config.Config
	Navigator navigator.Navigator
	Store     Store
	Limiter   Limiter
	Retry     retry.Policy
	Logger    *slog.Logger
	// Observer receives every transition with the snapshot it produced.
	Observer progress.Observer
	Now      func() time.Time
	NewID    func() string
}

// New wires an engine with the limiter and retry policy derived from cfg.
func New(cfg *config.Config, nav navigator.Navigator, store Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Config:    cfg,
		Navigator: nav,
		Store:     store,
		Limiter:   ratelimit.FromConfig(cfg),
		Retry:     retry.FromConfig(cfg.Retry, cfg.Engine.StepTimeout.Std()),
		Logger:    logger.With("component", "engine"),
		Now:       time.Now,
		NewID:     uuid.NewString,
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Report is a finished run: its result plus the ordered transition log.
type Report struct {
	Result      domain.ExecutionResult `json:"result"`
	Transitions []domain.Transition    `json:"transitions"`
}

// Execute runs spec with at most limit Steps in flight and returns the
// aggregated result.
func (e *Engine) Execute(ctx context.Context, spec domain.WorkflowSpec, limit int) (domain.ExecutionResult, error) {
	rep, err := e.Run(ctx, spec, limit)
	return rep.Result, err
}

// Run is Execute returning the transition log as well. Per-step failures are
// part of the result; the error is only set when the engine is not wired.
func (e *Engine) Run(ctx context.Context, spec domain.WorkflowSpec, limit int) (Report, error) {
	if e.Config == nil || e.Navigator == nil || e.Store == nil {
		return Report{}, errors.New("engine: config, navigator and store are required")
	}
	if limit < 1 {
		limit = 1
	}
	runID := e.newID()
	log := e.logger().With("run_id", runID)
	started := e.now()

	steps, skipped := Expand(e.Config, spec)
	for _, s := range skipped {
		log.Info("step skipped", "tms", s.TMS, "doc_type", s.DocType, "county", s.County, "reason", s.Reason)
	}
	log.Info("run started", "steps", len(steps), "skipped", len(skipped), "concurrency", limit)

	tracker := progress.New(len(steps), e.Observer)
	queue := make(chan int, len(steps))
	for i := range steps {
		queue <- i
	}
	close(queue)

	records := make([]*domain.DocumentRecord, len(steps))
	var g errgroup.Group
	for w := 0; w < min(limit, max(len(steps), 1)); w++ {
		g.Go(func() error {
			for i := range queue {
				r := &stepRun{engine: e, step: &steps[i], tracker: tracker, log: log}
				records[i] = r.execute(ctx)
			}
			return nil
		})
	}
	_ = g.Wait()
	tracker.Close()

	transitions := tracker.Log()
	result := domain.ExecutionResult{
		RunID:     runID,
		Steps:     steps,
		Documents: []domain.DocumentRecord{},
		Errors:    []domain.StepError{},
		Skipped:   skipped,
		StartedAt: started.UTC(),
	}
	index := make(map[domain.StepKey]int, len(steps))
	for i, s := range steps {
		index[s.Key()] = i
	}
	succeeded, failed := 0, 0
	for _, tr := range transitions {
		switch tr.To {
		case domain.StepSucceeded:
			succeeded++
			if rec := records[index[tr.Step]]; rec != nil {
				result.Documents = append(result.Documents, *rec)
			}
		case domain.StepFailed:
			failed++
			result.Errors = append(result.Errors, domain.StepError{
				Step: tr.Step, County: tr.County, Kind: tr.Kind, Message: tr.Message,
			})
		}
	}
	result.Status = domain.StatusFor(succeeded, failed)
	result.Elapsed = e.now().Sub(started)

	log.Info("run finished", "status", result.Status, "succeeded", succeeded, "failed", failed, "elapsed", result.Elapsed)
	return Report{Result: result, Transitions: transitions}, nil
}

func (e *Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

// stepRun carries one Step through its states. Only the worker that owns it
// mutates the Step.
type stepRun struct {
	engine  *Engine
	step    *domain.Step
	tracker *progress.Tracker
	log     *slog.Logger
}

func (r *stepRun) execute(ctx context.Context) *domain.DocumentRecord {
	e, st := r.engine, r.step
	if ctx.Err() != nil {
		r.fail(domain.KindCancelled, "run cancelled before step started")
		return nil
	}
	r.move(domain.StepInProgress, "", "")

	if e.Limiter != nil {
		if err := e.Limiter.Acquire(ctx, e.Config.DomainFor(st.County)); err != nil {
			if ctx.Err() != nil {
				r.fail(domain.KindCancelled, "run cancelled while waiting for rate limit")
			} else {
				r.fail(domain.KindRateLimited, err.Error())
			}
			return nil
		}
	}

	policy := e.Retry
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		r.log.Warn("retrying fetch", "tms", st.TMS, "doc_type", st.DocType, "county", st.County,
			"attempt", attempt, "wait", wait, "error", err)
	}
	var doc navigator.Document
	attempts, err := policy.Run(ctx, func(actx context.Context) error {
		d, err := e.Navigator.Fetch(actx, st.County, st.TMS, st.DocType)
		if err != nil {
			return err
		}
		doc = d
		return nil
	})
	st.Attempts = attempts
	if err != nil {
		r.fail(domain.KindOf(err), err.Error())
		return nil
	}

	rec, err := e.Store.Store(st.TMS, st.DocType, st.County, doc)
	if err != nil {
		r.fail(domain.KindValidation, err.Error())
		return nil
	}
	r.move(domain.StepSucceeded, "", rec.Path)
	return &rec
}

func (r *stepRun) fail(kind domain.ErrorKind, msg string) {
	r.step.LastError = kind
	r.move(domain.StepFailed, kind, msg)
}

func (r *stepRun) move(to domain.StepStatus, kind domain.ErrorKind, msg string) {
	st := r.step
	from := st.Status
	if err := ensureStepTransition(from, to); err != nil {
		r.log.Error("dropping transition", "tms", st.TMS, "doc_type", st.DocType, "error", err)
		return
	}
	st.Status = to
	r.tracker.Record(domain.Transition{
		Step:     st.Key(),
		County:   st.County,
		From:     from,
		To:       to,
		Attempts: st.Attempts,
		Kind:     kind,
		Message:  msg,
		At:       r.engine.now().UTC(),
	})
	attrs := []any{"tms", st.TMS, "doc_type", st.DocType, "county", st.County, "from", from, "to", to}
	switch to {
	case domain.StepFailed:
		r.log.Warn("step failed", append(attrs, "kind", kind, "attempts", st.Attempts, "error", msg)...)
	case domain.StepSucceeded:
		r.log.Info("step succeeded", append(attrs, "attempts", st.Attempts, "path", msg)...)
	default:
		r.log.Debug("step transition", attrs...)
	}
}

// Summary renders a one-line description of a result.
func Summary(res domain.ExecutionResult) string {
	return fmt.Sprintf("%s: %d documents, %d errors, %d steps in %s",
		res.Status, len(res.Documents), len(res.Errors), len(res.Steps), res.Elapsed.Round(time.Millisecond))
}
