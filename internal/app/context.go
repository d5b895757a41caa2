// Package app wires configuration, the compiler, the engine and run history
// into the runtime shared by the CLI and the HTTP API.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"parcelfetch/internal/compile"
	"parcelfetch/internal/config"
	"parcelfetch/internal/db"
	"parcelfetch/internal/domain"
	"parcelfetch/internal/engine"
	"parcelfetch/internal/events"
	"parcelfetch/internal/extract"
	"parcelfetch/internal/migrate"
	"parcelfetch/internal/navigator"
	"parcelfetch/internal/organizer"
	"parcelfetch/internal/progress"
	"parcelfetch/internal/repo"
)

type Options struct {
	Workspace   string
	OutputDir   string
	Concurrency int
	Mock        bool
	Logger      *slog.Logger
	// Config overrides loading parcelfetch.yml from Workspace.
	Config *config.Config
}

type Runtime struct {
	Workspace string
	Config    *config.Config
	Logger    *slog.Logger
	Compiler  *compile.Compiler
	Organizer *organizer.Organizer
	Navigator navigator.Navigator
	Events    events.Writer

	mu   sync.Mutex
	conn *sql.DB
}

// Open resolves the effective config for the workspace and builds the
// collaborators. The history database is opened lazily.
func Open(opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.LoadOptional(opts.Workspace)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if opts.OutputDir != "" {
		cfg.Output.Dir = opts.OutputDir
	}
	if opts.Concurrency > 0 {
		cfg.Engine.Concurrency = opts.Concurrency
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ex, err := extract.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	comp, err := compile.New(cfg, ex, logger)
	if err != nil {
		return nil, err
	}
	var nav navigator.Navigator = navigator.NewHTTP(cfg, nil)
	if opts.Mock {
		nav = &navigator.Mock{Latency: 50 * time.Millisecond}
	}
	return &Runtime{
		Workspace: opts.Workspace,
		Config:    cfg,
		Logger:    logger,
		Compiler:  comp,
		Organizer: organizer.FromConfig(cfg, "", logger),
		Navigator: nav,
	}, nil
}

// History opens and migrates the run history database on first use.
func (rt *Runtime) History(ctx context.Context) (repo.Repo, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.conn == nil {
		conn, err := db.Open(ctx, rt.Workspace)
		if err != nil {
			return repo.Repo{}, err
		}
		if _, err := migrate.Migrate(ctx, conn); err != nil {
			conn.Close()
			return repo.Repo{}, fmt.Errorf("migrate: %w", err)
		}
		rt.conn = conn
	}
	return repo.Repo{DB: rt.conn}, nil
}

func (rt *Runtime) Close() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.conn == nil {
		return nil
	}
	err := rt.conn.Close()
	rt.conn = nil
	return err
}

// Outcome is everything produced by one executed instruction.
type Outcome struct {
	Plan    compile.Plan
	Report  engine.Report
	LogPath string
}

// Execute compiles instruction and, when it is valid, runs it, writes the
// execution log and records the run in history. A compile failure is
// returned as a *domain.ValidationError before anything executes.
func (rt *Runtime) Execute(ctx context.Context, instruction string, observer progress.Observer) (Outcome, error) {
	plan, err := rt.Compiler.CompileText(ctx, instruction)
	if err != nil {
		return Outcome{Plan: plan}, err
	}
	eng := engine.New(rt.Config, rt.Navigator, rt.Organizer, rt.Logger)
	eng.Observer = observer
	rep, err := eng.Run(ctx, plan.Spec, rt.Config.Engine.Concurrency)
	if err != nil {
		return Outcome{Plan: plan}, err
	}
	out := Outcome{Plan: plan, Report: rep}

	logPath, err := rt.Organizer.WriteRunLog(rep.Result.RunID, NewExecutionLog(plan, rep))
	if err != nil {
		return out, err
	}
	out.LogPath = logPath

	// history must be written even when the run itself was interrupted
	if err := rt.RecordRun(context.WithoutCancel(ctx), plan, rep, logPath); err != nil {
		rt.Logger.Warn("run history not recorded", "run_id", rep.Result.RunID, "error", err)
	}
	return out, nil
}

// RecordRun stores the run, its documents and its transition log in one
// transaction.
func (rt *Runtime) RecordRun(ctx context.Context, plan compile.Plan, rep engine.Report, logPath string) error {
	r, err := rt.History(ctx)
	if err != nil {
		return err
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res := rep.Result
	run := repo.RunFromResult(plan.Instruction, plan.Spec, res, logPath)
	if err := r.InsertRunTx(ctx, tx, run); err != nil {
		return err
	}
	if err := rt.Events.Append(ctx, tx, events.TypeRunStarted, run.ID, "", "", events.EventPayload{
		"instruction": plan.Instruction,
		"spec":        plan.Spec,
	}); err != nil {
		return err
	}
	for _, s := range res.Skipped {
		if err := rt.Events.Append(ctx, tx, events.TypeStepSkipped, run.ID, s.TMS, s.DocType, events.EventPayload{
			"county": s.County, "reason": s.Reason,
		}); err != nil {
			return err
		}
	}
	for _, tr := range rep.Transitions {
		if err := rt.Events.AppendTransition(ctx, tx, run.ID, tr); err != nil {
			return err
		}
	}
	for _, d := range res.Documents {
		if err := r.InsertDocumentTx(ctx, tx, run.ID, d); err != nil {
			return err
		}
	}
	if err := rt.Events.Append(ctx, tx, events.TypeRunFinished, run.ID, "", "", events.EventPayload{
		"status": res.Status, "succeeded": run.Succeeded, "failed": run.Failed, "elapsed_ms": run.ElapsedMS,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// ExitCode maps an execute outcome to the CLI exit status.
func ExitCode(res domain.ExecutionResult, err error) int {
	switch {
	case err == nil && res.Status == domain.RunFailure:
		return 1
	case err == nil:
		return 0
	case domain.IsValidation(err):
		return 2
	case errors.Is(err, context.Canceled):
		return 130
	default:
		return 1
	}
}
