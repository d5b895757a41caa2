package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"parcelfetch/internal/domain"
)

const (
	TypeRunStarted     = "run.started"
	TypeStepTransition = "step.transition"
	TypeStepSkipped    = "step.skipped"
	TypeRunFinished    = "run.finished"
)

// Writer appends rows to the events table inside a caller's transaction.
type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, runID, tms string, docType domain.DocTypeID, payload EventPayload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	return w.appendAt(ctx, tx, now().UTC(), evtType, runID, tms, docType, payload)
}

// AppendTransition records one step transition, stamped with the time it
// happened rather than the time it was written.
func (w Writer) AppendTransition(ctx context.Context, tx *sql.Tx, runID string, tr domain.Transition) error {
	payload := EventPayload{
		"seq":    tr.Seq,
		"county": tr.County,
		"from":   tr.From,
		"to":     tr.To,
	}
	if tr.Attempts > 0 {
		payload["attempts"] = tr.Attempts
	}
	if tr.Kind != "" {
		payload["kind"] = tr.Kind
	}
	if tr.Message != "" {
		payload["message"] = tr.Message
	}
	at := tr.At
	if at.IsZero() {
		at = time.Now()
	}
	return w.appendAt(ctx, tx, at.UTC(), TypeStepTransition, runID, tr.Step.TMS, tr.Step.DocType, payload)
}

func (w Writer) appendAt(ctx context.Context, tx *sql.Tx, ts time.Time, evtType, runID, tms string, docType domain.DocTypeID, payload EventPayload) error {
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,run_id,type,tms,doc_type,payload_json) VALUES (?,?,?,?,?,?)`,
		ts.Format(time.RFC3339Nano), runID, evtType, nullable(tms), nullable(string(docType)), string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
