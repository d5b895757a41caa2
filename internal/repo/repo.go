package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"parcelfetch/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const runColumns = `id,instruction,status,tms_json,steps,succeeded,failed,COALESCE(log_path,''),started_at,finished_at,elapsed_ms`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (domain.Run, error) {
	var r domain.Run
	var tmsJSON string
	err := row.Scan(&r.ID, &r.Instruction, &r.Status, &tmsJSON, &r.Steps, &r.Succeeded, &r.Failed, &r.LogPath, &r.StartedAt, &r.FinishedAt, &r.ElapsedMS)
	if err == sql.ErrNoRows {
		return r, ErrNotFound
	}
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal([]byte(tmsJSON), &r.TMSNumbers); err != nil {
		return r, fmt.Errorf("decode run %s tms list: %w", r.ID, err)
	}
	return r, nil
}

// RunFromResult builds the persisted summary of a finished run.
func RunFromResult(instruction string, spec domain.WorkflowSpec, res domain.ExecutionResult, logPath string) domain.Run {
	run := domain.Run{
		ID:          res.RunID,
		Instruction: instruction,
		Status:      res.Status,
		TMSNumbers:  append([]string{}, spec.TMSNumbers...),
		Steps:       len(res.Steps),
		LogPath:     logPath,
		StartedAt:   res.StartedAt.UTC().Format(time.RFC3339),
		FinishedAt:  res.StartedAt.Add(res.Elapsed).UTC().Format(time.RFC3339),
		ElapsedMS:   res.Elapsed.Milliseconds(),
	}
	for _, st := range res.Steps {
		switch st.Status {
		case domain.StepSucceeded:
			run.Succeeded++
		case domain.StepFailed:
			run.Failed++
		}
	}
	return run
}

func (r Repo) InsertRunTx(ctx context.Context, tx *sql.Tx, run domain.Run) error {
	tmsJSON, err := json.Marshal(run.TMSNumbers)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO runs(id,instruction,status,tms_json,steps,succeeded,failed,log_path,started_at,finished_at,elapsed_ms) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		run.ID, run.Instruction, run.Status, string(tmsJSON), run.Steps, run.Succeeded, run.Failed, nullable(run.LogPath), run.StartedAt, run.FinishedAt, run.ElapsedMS)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (r Repo) InsertDocumentTx(ctx context.Context, tx *sql.Tx, runID string, d domain.DocumentRecord) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO documents(run_id,tms,doc_type,county,path,size_bytes,checksum,collected_at) VALUES (?,?,?,?,?,?,?,?)`,
		runID, d.TMS, d.DocType, d.County, d.Path, d.SizeBytes, d.Checksum, d.CollectedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (r Repo) GetRun(ctx context.Context, id string) (domain.Run, error) {
	return scanRun(r.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id=?`, id))
}

// ListRuns returns the most recent runs first. A non-empty tms restricts the
// list to runs that requested it.
func (r Repo) ListRuns(ctx context.Context, limit int, tms string) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if tms != "" {
		clauses = append(clauses, "EXISTS (SELECT 1 FROM json_each(runs.tms_json) WHERE json_each.value=?)")
		args = append(args, tms)
	}
	query := fmt.Sprintf(`SELECT %s FROM runs WHERE %s ORDER BY started_at DESC, id DESC LIMIT ?`, runColumns, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

// DocumentsByTMS returns the latest record per document type for tms.
func (r Repo) DocumentsByTMS(ctx context.Context, tms string) ([]domain.DocumentRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT d.tms,d.doc_type,d.county,d.path,d.size_bytes,d.checksum,d.collected_at
FROM documents d
WHERE d.tms=? AND d.id = (SELECT MAX(id) FROM documents WHERE tms=d.tms AND doc_type=d.doc_type)
ORDER BY d.doc_type`, tms)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDocuments(rows)
}

func (r Repo) DocumentsForRun(ctx context.Context, runID string) ([]domain.DocumentRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT tms,doc_type,county,path,size_bytes,checksum,collected_at FROM documents WHERE run_id=? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDocuments(rows)
}

func scanDocuments(rows *sql.Rows) ([]domain.DocumentRecord, error) {
	var res []domain.DocumentRecord
	for rows.Next() {
		var d domain.DocumentRecord
		var collected string
		if err := rows.Scan(&d.TMS, &d.DocType, &d.County, &d.Path, &d.SizeBytes, &d.Checksum, &collected); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, collected); err == nil {
			d.CollectedAt = ts
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// EventsForRun returns a run's events in insertion order.
func (r Repo) EventsForRun(ctx context.Context, runID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,run_id,type,COALESCE(tms,''),COALESCE(doc_type,''),payload_json FROM events WHERE run_id=? ORDER BY id ASC LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.RunID, &e.Type, &e.TMS, &e.DocType, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
