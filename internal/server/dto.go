package server

import (
	"parcelfetch/internal/domain"
)

// Request payloads

type ParseRequest struct {
	Instruction string `json:"instruction" minLength:"1" example:"Collect all documents for Charleston County TMS 5590200072"`
}

// Response payloads

type PlannedStep struct {
	TMS     string           `json:"tms"`
	DocType domain.DocTypeID `json:"doc_type"`
	County  domain.CountyID  `json:"county"`
}

type ParseResponse struct {
	Instruction string              `json:"instruction"`
	Entities    []domain.Entity     `json:"entities"`
	Spec        domain.WorkflowSpec `json:"spec"`
	Steps       []PlannedStep       `json:"steps"`
	Skipped     []domain.Skipped    `json:"skipped"`
}

type RunList struct {
	Items []domain.Run `json:"items"`
}

type RunDetail struct {
	Run       domain.Run              `json:"run"`
	Documents []domain.DocumentRecord `json:"documents"`
	Events    []domain.Event          `json:"events"`
}

type PropertyDocuments struct {
	TMS       string                  `json:"tms"`
	Documents []domain.DocumentRecord `json:"documents"`
	Runs      []domain.Run            `json:"runs"`
}

func plannedSteps(steps []domain.Step) []PlannedStep {
	out := make([]PlannedStep, 0, len(steps))
	for _, s := range steps {
		out = append(out, PlannedStep{TMS: s.TMS, DocType: s.DocType, County: s.County})
	}
	return out
}

func nonNilSkipped(in []domain.Skipped) []domain.Skipped {
	if in == nil {
		return []domain.Skipped{}
	}
	return in
}
