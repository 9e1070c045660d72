package store

import (
	"context"
	"errors"

	"github.com/arka-squad/arka-labs-sub000/pkg/models"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface used by the HTTP layer for health and
// authentication. PostgresStore additionally implements squads.Repository,
// raci.Repository and runner.JobStore.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	ListAPIKeys(ctx context.Context, subject string) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, subject string) error
}

// SquadUpdate is a partial squad update. Nil fields keep their value.
type SquadUpdate struct {
	Name    *string
	Mission *string
	Domain  *string
	Status  *string
}

// SquadActivity counts what blocks a squad deletion.
type SquadActivity struct {
	ActiveAttachments int
	OpenInstructions  int
}

// openInstructionStatuses are the instruction states that still need work.
const openInstructionStatuses = `('pending', 'queued', 'processing')`
