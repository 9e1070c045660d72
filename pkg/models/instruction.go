package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	InstructionStatusPending    = "pending"
	InstructionStatusQueued     = "queued"
	InstructionStatusProcessing = "processing"
	InstructionStatusCompleted  = "completed"
	InstructionStatusFailed     = "failed"
)

const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// SquadInstruction is a tasked work item for a squad on a project.
type SquadInstruction struct {
	ID          uuid.UUID      `db:"id"           json:"id"`
	SquadID     uuid.UUID      `db:"squad_id"     json:"squad_id"`
	ProjectID   int64          `db:"project_id"   json:"project_id"`
	Content     string         `db:"content"      json:"content"`
	Priority    string         `db:"priority"     json:"priority"`
	Status      string         `db:"status"       json:"status"`
	Metadata    map[string]any `db:"metadata"     json:"metadata,omitempty"`
	CreatedBy   string         `db:"created_by"   json:"created_by"`
	CreatedAt   time.Time      `db:"created_at"   json:"created_at"`
	CompletedAt *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
}

// InstructionRouting is the provider suggestion attached when an instruction is queued.
type InstructionRouting struct {
	ProviderSuggested   string    `json:"provider_suggested"`
	Reasoning           string    `json:"reasoning"`
	EstimatedCompletion time.Time `json:"estimated_completion"`
}
