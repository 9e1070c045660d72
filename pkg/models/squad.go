package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	SquadStatusActive   = "active"
	SquadStatusInactive = "inactive"
	SquadStatusArchived = "archived"
)

const (
	ProjectStatusActive   = "active"
	ProjectStatusDisabled = "disabled"
	ProjectStatusArchived = "archived"
)

const (
	AttachmentStatusActive   = "active"
	AttachmentStatusDetached = "detached"
)

const (
	MemberRoleLead        = "lead"
	MemberRoleSpecialist  = "specialist"
	MemberRoleContributor = "contributor"

	MemberStatusActive   = "active"
	MemberStatusInactive = "inactive"
)

// Squad is a named group of agents working on projects. The slug is unique
// among non-deleted squads and derived from the name at creation.
type Squad struct {
	ID        uuid.UUID  `db:"id"         json:"id"`
	Name      string     `db:"name"       json:"name"`
	Slug      string     `db:"slug"       json:"slug"`
	Mission   string     `db:"mission"    json:"mission,omitempty"`
	Domain    string     `db:"domain"     json:"domain"`
	Status    string     `db:"status"     json:"status"`
	CreatedBy string     `db:"created_by" json:"created_by"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"-"`
}

type SquadMember struct {
	SquadID         uuid.UUID       `db:"squad_id"        json:"squad_id"`
	AgentID         uuid.UUID       `db:"agent_id"        json:"agent_id"`
	AgentName       string          `db:"agent_name"      json:"agent_name,omitempty"`
	Role            string          `db:"role"            json:"role"`
	Specializations []string        `db:"specializations" json:"specializations"`
	Permissions     map[string]bool `db:"permissions"     json:"permissions"`
	Status          string          `db:"status"          json:"status"`
	CreatedAt       time.Time       `db:"created_at"      json:"created_at"`
}

type Agent struct {
	ID   uuid.UUID `db:"id"   json:"id"`
	Name string    `db:"name" json:"name"`
}

type Project struct {
	ID        int64     `db:"id"         json:"id"`
	Name      string    `db:"name"       json:"name"`
	Status    string    `db:"status"     json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ProjectSquadAttachment links a squad to a project. Detaching flips the
// status and stamps detached_at; rows are never deleted.
type ProjectSquadAttachment struct {
	ProjectID  int64      `db:"project_id"  json:"project_id"`
	SquadID    uuid.UUID  `db:"squad_id"    json:"squad_id"`
	Status     string     `db:"status"      json:"status"`
	AttachedBy string     `db:"attached_by" json:"attached_by"`
	AttachedAt time.Time  `db:"attached_at" json:"attached_at"`
	DetachedAt *time.Time `db:"detached_at" json:"detached_at,omitempty"`
}

// SquadDetail is the cached read model returned by GET squad.
type SquadDetail struct {
	Squad
	Members     []SquadMember    `json:"members"`
	Projects    []Project        `json:"projects"`
	Performance SquadPerformance `json:"performance"`
}

type DailyActivity struct {
	Date      string `json:"date"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
}

type SquadPerformance struct {
	InstructionsTotal     int             `json:"instructions_total"`
	InstructionsCompleted int             `json:"instructions_completed"`
	InstructionsFailed    int             `json:"instructions_failed"`
	AvgCompletionHours    float64         `json:"avg_completion_time_hours"`
	SuccessRate           float64         `json:"success_rate"`
	RecentActivity        []DailyActivity `json:"recent_activity"`
}
