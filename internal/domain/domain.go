package domain

import (
	"fmt"
	"time"
)

type CountyID string

type DocTypeID string

// EntityKind tags the variant carried by an Entity.
type EntityKind string

const (
	EntityCounty       EntityKind = "county"
	EntityTMS          EntityKind = "tms"
	EntityDocType      EntityKind = "document_type"
	EntityUnrecognized EntityKind = "unrecognized"
)

// Entity is one typed span extracted from an instruction.
//
// County is set for EntityCounty; DocType is set for EntityDocType when the
// phrase resolved to a known type; All marks an "all documents" reference.
type Entity struct {
	Kind    EntityKind `json:"kind"`
	Text    string     `json:"text"`
	County  CountyID   `json:"county,omitempty"`
	TMS     string     `json:"tms,omitempty"`
	DocType DocTypeID  `json:"doc_type,omitempty"`
	All     bool       `json:"all,omitempty"`
}

func CountyRef(text string, id CountyID) Entity {
	return Entity{Kind: EntityCounty, Text: text, County: id}
}

func TMSNumber(text, normalized string) Entity {
	return Entity{Kind: EntityTMS, Text: text, TMS: normalized}
}

func DocTypeRef(text string, id DocTypeID) Entity {
	return Entity{Kind: EntityDocType, Text: text, DocType: id}
}

func AllDocTypes(text string) Entity {
	return Entity{Kind: EntityDocType, Text: text, All: true}
}

func Unrecognized(text string) Entity {
	return Entity{Kind: EntityUnrecognized, Text: text}
}

// WorkflowSpec is the validated description of everything a run must fetch.
// Counties and DocTypes are kept sorted; TMSNumbers keep instruction order.
type WorkflowSpec struct {
	Counties    []CountyID          `json:"counties"`
	TMSNumbers  []string            `json:"tms_numbers"`
	DocTypes    []DocTypeID         `json:"doc_types"`
	Assignments map[string]CountyID `json:"assignments"`
}

type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepSucceeded  StepStatus = "succeeded"
	StepFailed     StepStatus = "failed"
)

func (s StepStatus) Terminal() bool {
	return s == StepSucceeded || s == StepFailed
}

type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindTransient   ErrorKind = "transient"
	KindPermanent   ErrorKind = "permanent"
	KindRateLimited ErrorKind = "rate_limited"
	KindCancelled   ErrorKind = "cancelled"
)

// StepKey identifies a Step; one Step exists per (tms, doc_type).
type StepKey struct {
	TMS     string    `json:"tms"`
	DocType DocTypeID `json:"doc_type"`
}

func (k StepKey) String() string {
	return fmt.Sprintf("%s/%s", k.TMS, k.DocType)
}

type Step struct {
	County    CountyID   `json:"county"`
	TMS       string     `json:"tms"`
	DocType   DocTypeID  `json:"doc_type"`
	Status    StepStatus `json:"status"`
	Attempts  int        `json:"attempt_count"`
	LastError ErrorKind  `json:"last_error,omitempty"`
}

func (s Step) Key() StepKey {
	return StepKey{TMS: s.TMS, DocType: s.DocType}
}

// Transition is one reported Step state change.
type Transition struct {
	Seq      int        `json:"seq"`
	Step     StepKey    `json:"step"`
	County   CountyID   `json:"county"`
	From     StepStatus `json:"from"`
	To       StepStatus `json:"to"`
	Attempts int        `json:"attempts,omitempty"`
	Kind     ErrorKind  `json:"kind,omitempty"`
	Message  string     `json:"message,omitempty"`
	At       time.Time  `json:"at"`
}

// Skipped records an expansion pair that was filtered out before scheduling.
type Skipped struct {
	TMS     string    `json:"tms"`
	DocType DocTypeID `json:"doc_type"`
	County  CountyID  `json:"county"`
	Reason  string    `json:"reason"`
}

type DocumentRecord struct {
	TMS         string    `json:"tms"`
	DocType     DocTypeID `json:"doc_type"`
	County      CountyID  `json:"county"`
	Path        string    `json:"path"`
	SizeBytes   int64     `json:"size_bytes"`
	Checksum    string    `json:"checksum"`
	CollectedAt time.Time `json:"collected_at"`
}

type RunStatus string

const (
	RunSuccess        RunStatus = "success"
	RunPartialFailure RunStatus = "partial_failure"
	RunFailure        RunStatus = "failure"
)

type StepError struct {
	Step    StepKey   `json:"step"`
	County  CountyID  `json:"county"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

type ExecutionResult struct {
	RunID     string           `json:"run_id"`
	Status    RunStatus        `json:"status"`
	Steps     []Step           `json:"steps"`
	Documents []DocumentRecord `json:"documents"`
	Errors    []StepError      `json:"errors"`
	Skipped   []Skipped        `json:"skipped,omitempty"`
	StartedAt time.Time        `json:"started_at"`
	Elapsed   time.Duration    `json:"elapsed"`
}

// StatusFor derives a run status from terminal step counts.
func StatusFor(succeeded, failed int) RunStatus {
	switch {
	case failed == 0:
		return RunSuccess
	case succeeded == 0:
		return RunFailure
	default:
		return RunPartialFailure
	}
}

type Run struct {
	ID          string    `json:"id"`
	Instruction string    `json:"instruction"`
	Status      RunStatus `json:"status"`
	TMSNumbers  []string  `json:"tms_numbers"`
	Steps       int       `json:"steps"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	LogPath     string    `json:"log_path,omitempty"`
	StartedAt   string    `json:"started_at" format:"date-time"`
	FinishedAt  string    `json:"finished_at" format:"date-time"`
	ElapsedMS   int64     `json:"elapsed_ms"`
}

type Event struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts" format:"date-time"`
	RunID   string `json:"run_id"`
	Type    string `json:"type"`
	TMS     string `json:"tms,omitempty"`
	DocType string `json:"doc_type,omitempty"`
	Payload string `json:"payload_json"`
}
