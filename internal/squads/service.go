// Package squads implements the squad lifecycle: squads, members, project
// attachments and instructions, guarded by the state validators.
package squads

import (
	"context"
	"log/slog"
	"time"

	"github.com/arka-squad/arka-labs-sub000/internal/cache"
	"github.com/arka-squad/arka-labs-sub000/internal/events"
	"github.com/arka-squad/arka-labs-sub000/internal/store"
	"github.com/arka-squad/arka-labs-sub000/pkg/models"
	"github.com/google/uuid"
)

const (
	MaxActiveMembers      = 20
	MaxProjectSquads      = 10
	MaxSquadProjects      = 10
	PerformanceWindowDays = 30
	DefaultDetailTTL      = 600 * time.Second
)

// Repository is the persistence the squad services need. store.PostgresStore implements it.
type Repository interface {
	StateReader

	SlugExists(ctx context.Context, slug string) (bool, error)
	CreateSquad(ctx context.Context, sq *models.Squad) error
	GetSquad(ctx context.Context, id uuid.UUID) (*models.Squad, error)
	// UpdateSquad applies upd; archiving detaches active attachments in the same transaction.
	UpdateSquad(ctx context.Context, id uuid.UUID, upd store.SquadUpdate) (*models.Squad, error)
	SoftDeleteSquad(ctx context.Context, id uuid.UUID) error
	CountSquadActivity(ctx context.Context, id uuid.UUID) (store.SquadActivity, error)
	ListActiveMembers(ctx context.Context, squadID uuid.UUID) ([]models.SquadMember, error)
	ListAttachedProjects(ctx context.Context, squadID uuid.UUID) ([]models.Project, error)
	GetSquadPerformance(ctx context.Context, squadID uuid.UUID, days int) (*models.SquadPerformance, error)

	GetAgent(ctx context.Context, id uuid.UUID) (*models.Agent, error)
	GetMember(ctx context.Context, squadID, agentID uuid.UUID) (*models.SquadMember, error)
	CountActiveMembers(ctx context.Context, squadID uuid.UUID) (int, error)
	CountActiveLeads(ctx context.Context, squadID uuid.UUID) (int, error)
	UpsertMember(ctx context.Context, m *models.SquadMember) error
	DeactivateMember(ctx context.Context, squadID, agentID uuid.UUID) error
	CountAgentActiveInstructions(ctx context.Context, squadID, agentID uuid.UUID) (int, error)

	GetAttachment(ctx context.Context, projectID int64, squadID uuid.UUID) (*models.ProjectSquadAttachment, error)
	CountActiveProjectSquads(ctx context.Context, projectID int64) (int, error)
	CountActiveSquadProjects(ctx context.Context, squadID uuid.UUID) (int, error)
	UpsertAttachment(ctx context.Context, a *models.ProjectSquadAttachment) error
	DetachSquad(ctx context.Context, projectID int64, squadID uuid.UUID) (*models.ProjectSquadAttachment, error)
	CountActiveInstructions(ctx context.Context, squadID uuid.UUID, projectID int64) (int, error)

	CreateInstruction(ctx context.Context, in *models.SquadInstruction) error
	MarkInstructionQueued(ctx context.Context, id uuid.UUID, metadata map[string]any) error
}

type Service struct {
	repo      Repository
	state     *Validator
	cache     cache.Cache
	cacheTTL  time.Duration
	publisher events.Publisher
	now       func() time.Time
}

type Option func(*Service)

// WithCache caches squad details in c for ttl.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		state:     NewValidator(repo),
		cacheTTL:  DefaultDetailTTL,
		publisher: events.Nop{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) invalidate(ctx context.Context, squadID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cache.SquadDetailKey(squadID)); err != nil {
		slog.Error("squad_cache_invalidate_failed", "squad_id", squadID, "error", err)
	}
}
