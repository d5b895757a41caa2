package app

import (
	"time"

	"parcelfetch/internal/compile"
	"parcelfetch/internal/domain"
	"parcelfetch/internal/engine"
)

// ExecutionLog is the document written to logs/execution_<run-id>.json.
type ExecutionLog struct {
	RunID       string                 `json:"run_id"`
	Instruction string                 `json:"instruction"`
	Entities    []domain.Entity        `json:"entities"`
	Spec        domain.WorkflowSpec    `json:"spec"`
	Transitions []domain.Transition    `json:"transitions"`
	Skipped     []domain.Skipped       `json:"skipped"`
	Result      domain.ExecutionResult `json:"result"`
	StartedAt   time.Time              `json:"started_at"`
	FinishedAt  time.Time              `json:"finished_at"`
	ElapsedMS   int64                  `json:"elapsed_ms"`
	Summary     LogSummary             `json:"summary"`
}

type LogSummary struct {
	TotalSteps     int     `json:"total_steps"`
	TotalDocuments int     `json:"total_documents"`
	TotalBytes     int64   `json:"total_bytes"`
	Errors         int     `json:"errors"`
	SuccessRate    float64 `json:"success_rate"`
}

func NewExecutionLog(plan compile.Plan, rep engine.Report) ExecutionLog {
	res := rep.Result
	skipped := res.Skipped
	if skipped == nil {
		skipped = []domain.Skipped{}
	}
	sum := LogSummary{
		TotalSteps:     len(res.Steps),
		TotalDocuments: len(res.Documents),
		Errors:         len(res.Errors),
		SuccessRate:    100,
	}
	for _, d := range res.Documents {
		sum.TotalBytes += d.SizeBytes
	}
	if sum.TotalSteps > 0 {
		sum.SuccessRate = float64(sum.TotalDocuments) / float64(sum.TotalSteps) * 100
	}
	return ExecutionLog{
		RunID:       res.RunID,
		Instruction: plan.Instruction,
		Entities:    plan.Entities,
		Spec:        plan.Spec,
		Transitions: rep.Transitions,
		Skipped:     skipped,
		Result:      res,
		StartedAt:   res.StartedAt,
		FinishedAt:  res.StartedAt.Add(res.Elapsed),
		ElapsedMS:   res.Elapsed.Milliseconds(),
		Summary:     sum,
	}
}
