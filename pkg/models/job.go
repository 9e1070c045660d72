package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobType string

const (
	JobTypeGate   JobType = "gate"
	JobTypeRecipe JobType = "recipe"
)

type JobStatus string

const (
	JobStatusRunning  JobStatus = "running"
	JobStatusPass     JobStatus = "pass"
	JobStatusFail     JobStatus = "fail"
	JobStatusWarn     JobStatus = "warn"
	JobStatusError    JobStatus = "error"
	JobStatusCanceled JobStatus = "canceled"
)

// Terminal reports whether no further transition is allowed from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusPass, JobStatusFail, JobStatusWarn, JobStatusError, JobStatusCanceled:
		return true
	}
	return false
}

type Progress struct {
	Total int `json:"total"`
	Done  int `json:"done"`
}

// Job tracks an async gate or recipe run. The API returns the handle with 202;
// clients poll GET /api/v1/jobs/{job_id} or follow the SSE stream until the
// status is terminal.
type Job struct {
	ID             uuid.UUID  `db:"id"              json:"job_id"`
	OwnerID        string     `db:"owner_id"        json:"owner_id"`
	Type           JobType    `db:"type"            json:"type"`
	TargetID       string     `db:"target_id"       json:"target_id"`
	Status         JobStatus  `db:"status"          json:"status"`
	StartedAt      time.Time  `db:"started_at"      json:"started_at"`
	FinishedAt     *time.Time `db:"finished_at"     json:"finished_at,omitempty"`
	Progress       Progress   `db:"progress"        json:"progress"`
	TraceID        string     `db:"trace_id"        json:"trace_id"`
	IdempotencyKey string     `db:"idempotency_key" json:"idempotency_key,omitempty"`
	Error          string     `db:"error_message"   json:"error,omitempty"`
}

// JobResult is the persisted result artifact of a finished job.
type JobResult struct {
	JobID   uuid.UUID        `json:"job_id"`
	Status  JobStatus        `json:"status"`
	Results []GateRunResult  `json:"results,omitempty"`
	Recipe  *RecipeRunResult `json:"recipe,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// LogEvent is one NDJSON line of a job's audit log. Fields are flattened
// next to ts and event when marshalled.
type LogEvent struct {
	TS     time.Time
	Event  string
	Fields map[string]any
}

func (e LogEvent) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(e.Fields)+2)
	for k, v := range e.Fields {
		m[k] = v
	}
	m["ts"] = e.TS.UTC().Format(time.RFC3339Nano)
	m["event"] = e.Event
	return json.Marshal(m)
}
