package squads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/arka-squad/arka-labs-sub000/internal/cache"
	"github.com/arka-squad/arka-labs-sub000/internal/events"
	"github.com/arka-squad/arka-labs-sub000/internal/store"
	"github.com/arka-squad/arka-labs-sub000/pkg/models"
	"github.com/google/uuid"
)

// Domains lists the business domains a squad can belong to.
var Domains = []string{"RH", "Tech", "Marketing", "Finance", "Ops"}

type CreateSquadInput struct {
	Name      string `json:"name"`
	Mission   string `json:"mission"`
	Domain    string `json:"domain"`
	CreatedBy string `json:"-"`
}

// UpdateSquadInput is a partial update; nil fields are left unchanged.
type UpdateSquadInput struct {
	Name    *string `json:"name"`
	Mission *string `json:"mission"`
	Domain  *string `json:"domain"`
	Status  *string `json:"status"`
}

func (in UpdateSquadInput) empty() bool {
	return in.Name == nil && in.Mission == nil && in.Domain == nil && in.Status == nil
}

func validateName(f fieldErrors, name string) {
	n := utf8.RuneCountInString(strings.TrimSpace(name))
	if n < 3 || n > 100 {
		f["name"] = "must be between 3 and 100 characters"
	}
}

func validateMission(f fieldErrors, mission string) {
	if utf8.RuneCountInString(mission) > 800 {
		f["mission"] = "must be at most 800 characters"
	}
}

func validateDomain(f fieldErrors, domain string) {
	if !slices.Contains(Domains, domain) {
		f["domain"] = "must be one of " + strings.Join(Domains, ", ")
	}
}

func (s *Service) Create(ctx context.Context, in CreateSquadInput) (*models.Squad, error) {
	f := fieldErrors{}
	validateName(f, in.Name)
	validateMission(f, in.Mission)
	validateDomain(f, in.Domain)
	base := GenerateSlug(in.Name)
	if base == "" && f["name"] == "" {
		f["name"] = "must contain letters or digits"
	}
	if err := f.err(); err != nil {
		return nil, err
	}

	slug, err := s.EnsureUniqueSlug(ctx, base)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	sq := &models.Squad{
		ID:        uuid.New(),
		Name:      strings.TrimSpace(in.Name),
		Slug:      slug,
		Mission:   in.Mission,
		Domain:    in.Domain,
		Status:    models.SquadStatusActive,
		CreatedBy: in.CreatedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateSquad(ctx, sq); err != nil {
		return nil, fmt.Errorf("creating squad: %w", err)
	}

	slog.Info("squad_created", "squad_id", sq.ID, "slug", sq.Slug, "created_by", sq.CreatedBy)
	return sq, nil
}

// Get returns the squad detail, served from the cache when present.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.SquadDetail, error) {
	key := cache.SquadDetailKey(id)
	if s.cache != nil {
		raw, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			slog.Error("squad_cache_read_failed", "squad_id", id, "error", err)
		}
		if ok {
			var d models.SquadDetail
			if err := json.Unmarshal(raw, &d); err == nil {
				return &d, nil
			}
		}
	}

	sq, err := s.repo.GetSquad(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSquadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting squad: %w", err)
	}
	members, err := s.repo.ListActiveMembers(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	projects, err := s.repo.ListAttachedProjects(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	perf, err := s.Performance(ctx, id)
	if err != nil {
		return nil, err
	}

	d := &models.SquadDetail{Squad: *sq, Members: members, Projects: projects, Performance: *perf}
	if d.Members == nil {
		d.Members = []models.SquadMember{}
	}
	if d.Projects == nil {
		d.Projects = []models.Project{}
	}

	if s.cache != nil {
		if raw, err := json.Marshal(d); err == nil {
			if err := s.cache.Set(ctx, key, raw, s.cacheTTL); err != nil {
				slog.Error("squad_cache_write_failed", "squad_id", id, "error", err)
			}
		}
	}
	return d, nil
}

// Performance summarises the squad's instructions over the last PerformanceWindowDays.
func (s *Service) Performance(ctx context.Context, id uuid.UUID) (*models.SquadPerformance, error) {
	p, err := s.repo.GetSquadPerformance(ctx, id, PerformanceWindowDays)
	if err != nil {
		return nil, fmt.Errorf("squad performance: %w", err)
	}
	if p.InstructionsTotal > 0 {
		p.SuccessRate = round(float64(p.InstructionsCompleted)/float64(p.InstructionsTotal), 2)
	}
	p.AvgCompletionHours = round(p.AvgCompletionHours, 1)
	if p.RecentActivity == nil {
		p.RecentActivity = []models.DailyActivity{}
	}
	return p, nil
}

func round(v float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(v*pow) / pow
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateSquadInput) (*models.Squad, error) {
	f := fieldErrors{}
	if in.Name != nil {
		validateName(f, *in.Name)
	}
	if in.Mission != nil {
		validateMission(f, *in.Mission)
	}
	if in.Domain != nil {
		validateDomain(f, *in.Domain)
	}
	if err := f.err(); err != nil {
		return nil, err
	}
	if in.empty() {
		return nil, ErrNoUpdates
	}

	r := s.state.ValidateSquadState(ctx, id, models.SquadStatusActive, models.SquadStatusInactive)
	if r.CurrentState == "" {
		return nil, squadStateErr(r)
	}
	if in.Status != nil {
		if err := CheckSquadTransition(r.CurrentState, *in.Status); err != nil {
			return nil, err
		}
	}
	if !r.Valid {
		return nil, squadStateErr(r)
	}

	upd := store.SquadUpdate{Mission: in.Mission, Domain: in.Domain, Status: in.Status}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		upd.Name = &name
	}
	sq, err := s.repo.UpdateSquad(ctx, id, upd)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSquadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("updating squad: %w", err)
	}
	s.invalidate(ctx, id)

	if in.Status != nil {
		slog.Info("squad_status_changed", "squad_id", id, "from", r.CurrentState, "to", *in.Status)
		events.PublishAsync(s.publisher, events.Event{
			Type:       events.SquadStatusChanged,
			OccurredAt: s.now().UTC(),
			Data:       map[string]any{"squad_id": id, "from": r.CurrentState, "to": *in.Status},
		})
	}
	return sq, nil
}

// Delete soft-deletes a squad that has no active attachments or open instructions.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.repo.GetSquad(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrSquadNotFound
		}
		return fmt.Errorf("getting squad: %w", err)
	}
	act, err := s.repo.CountSquadActivity(ctx, id)
	if err != nil {
		return fmt.Errorf("counting squad activity: %w", err)
	}
	if act.ActiveAttachments > 0 || act.OpenInstructions > 0 {
		return ErrSquadHasActivity
	}
	if err := s.repo.SoftDeleteSquad(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrSquadNotFound
		}
		return fmt.Errorf("deleting squad: %w", err)
	}
	s.invalidate(ctx, id)
	slog.Info("squad_deleted", "squad_id", id)
	return nil
}
