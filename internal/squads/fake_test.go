package squads_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/arka-squad/arka-labs-sub000/internal/store"
	"github.com/arka-squad/arka-labs-sub000/pkg/models"
	"github.com/google/uuid"
)

type attachKey struct {
	project int64
	squad   uuid.UUID
}

type memberKey struct {
	squad uuid.UUID
	agent uuid.UUID
}

// fakeRepo is an in-memory squads.Repository.
type fakeRepo struct {
	mu           sync.Mutex
	squads       map[uuid.UUID]*models.Squad
	projects     map[int64]*models.Project
	agents       map[uuid.UUID]*models.Agent
	members      map[memberKey]*models.SquadMember
	attachments  map[attachKey]*models.ProjectSquadAttachment
	instructions map[uuid.UUID]*models.SquadInstruction
	agentOpen    map[memberKey]int
	perf         models.SquadPerformance

	statusErr error
	getCalls  int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		squads:       map[uuid.UUID]*models.Squad{},
		projects:     map[int64]*models.Project{},
		agents:       map[uuid.UUID]*models.Agent{},
		members:      map[memberKey]*models.SquadMember{},
		attachments:  map[attachKey]*models.ProjectSquadAttachment{},
		instructions: map[uuid.UUID]*models.SquadInstruction{},
		agentOpen:    map[memberKey]int{},
	}
}

func (f *fakeRepo) addSquad(status string) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.squads[id] = &models.Squad{ID: id, Name: "squad " + id.String()[:4], Slug: id.String(), Domain: "Tech", Status: status}
	return id
}

func (f *fakeRepo) addProject(id int64, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projects[id] = &models.Project{ID: id, Name: "project", Status: status}
}

func (f *fakeRepo) addAgent() uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.agents[id] = &models.Agent{ID: id, Name: "agent-" + id.String()[:4]}
	return id
}

func (f *fakeRepo) attach(project int64, squad uuid.UUID, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attachments[attachKey{project, squad}] = &models.ProjectSquadAttachment{ProjectID: project, SquadID: squad, Status: status}
}

func (f *fakeRepo) SquadStatus(_ context.Context, id uuid.UUID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return "", f.statusErr
	}
	sq, ok := f.squads[id]
	if !ok || sq.DeletedAt != nil {
		return "", store.ErrNotFound
	}
	return sq.Status, nil
}

func (f *fakeRepo) ProjectStatus(_ context.Context, id int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return "", store.ErrNotFound
	}
	return p.Status, nil
}

func (f *fakeRepo) AttachmentStatus(_ context.Context, squadID uuid.UUID, projectID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attachments[attachKey{projectID, squadID}]
	if !ok {
		return "", store.ErrNotFound
	}
	return a.Status, nil
}

func (f *fakeRepo) SlugExists(_ context.Context, slug string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sq := range f.squads {
		if sq.Slug == slug && sq.DeletedAt == nil {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) CreateSquad(_ context.Context, sq *models.Squad) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *sq
	f.squads[sq.ID] = &cp
	return nil
}

func (f *fakeRepo) GetSquad(_ context.Context, id uuid.UUID) (*models.Squad, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	sq, ok := f.squads[id]
	if !ok || sq.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	cp := *sq
	return &cp, nil
}

func (f *fakeRepo) UpdateSquad(_ context.Context, id uuid.UUID, upd store.SquadUpdate) (*models.Squad, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sq, ok := f.squads[id]
	if !ok || sq.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	if upd.Name != nil {
		sq.Name = *upd.Name
	}
	if upd.Mission != nil {
		sq.Mission = *upd.Mission
	}
	if upd.Domain != nil {
		sq.Domain = *upd.Domain
	}
	if upd.Status != nil {
		sq.Status = *upd.Status
		if sq.Status == models.SquadStatusArchived {
			now := time.Now()
			for k, a := range f.attachments {
				if k.squad == id && a.Status == models.AttachmentStatusActive {
					a.Status = models.AttachmentStatusDetached
					a.DetachedAt = &now
				}
			}
		}
	}
	cp := *sq
	return &cp, nil
}

func (f *fakeRepo) SoftDeleteSquad(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sq, ok := f.squads[id]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now()
	sq.DeletedAt = &now
	return nil
}

func openInstruction(status string) bool {
	return status == models.InstructionStatusPending || status == models.InstructionStatusQueued || status == models.InstructionStatusProcessing
}

func (f *fakeRepo) CountSquadActivity(_ context.Context, id uuid.UUID) (store.SquadActivity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var act store.SquadActivity
	for k, a := range f.attachments {
		if k.squad == id && a.Status == models.AttachmentStatusActive {
			act.ActiveAttachments++
		}
	}
	for _, in := range f.instructions {
		if in.SquadID == id && openInstruction(in.Status) {
			act.OpenInstructions++
		}
	}
	return act, nil
}

func (f *fakeRepo) ListActiveMembers(_ context.Context, squadID uuid.UUID) ([]models.SquadMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.SquadMember
	for k, m := range f.members {
		if k.squad == squadID && m.Status == models.MemberStatusActive {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListAttachedProjects(_ context.Context, squadID uuid.UUID) ([]models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Project
	for k, a := range f.attachments {
		if k.squad == squadID && a.Status == models.AttachmentStatusActive {
			if p, ok := f.projects[k.project]; ok {
				out = append(out, *p)
			}
		}
	}
	return out, nil
}

func (f *fakeRepo) GetSquadPerformance(_ context.Context, _ uuid.UUID, _ int) (*models.SquadPerformance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.perf
	return &p, nil
}

func (f *fakeRepo) GetAgent(_ context.Context, id uuid.UUID) (*models.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return a, nil
}

func (f *fakeRepo) GetMember(_ context.Context, squadID, agentID uuid.UUID) (*models.SquadMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[memberKey{squadID, agentID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeRepo) countMembers(squadID uuid.UUID, role string) int {
	n := 0
	for k, m := range f.members {
		if k.squad == squadID && m.Status == models.MemberStatusActive && (role == "" || m.Role == role) {
			n++
		}
	}
	return n
}

func (f *fakeRepo) CountActiveMembers(_ context.Context, squadID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.countMembers(squadID, ""), nil
}

func (f *fakeRepo) CountActiveLeads(_ context.Context, squadID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.countMembers(squadID, models.MemberRoleLead), nil
}

func (f *fakeRepo) UpsertMember(_ context.Context, m *models.SquadMember) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *m
	f.members[memberKey{m.SquadID, m.AgentID}] = &cp
	return nil
}

func (f *fakeRepo) DeactivateMember(_ context.Context, squadID, agentID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[memberKey{squadID, agentID}]
	if !ok {
		return store.ErrNotFound
	}
	m.Status = models.MemberStatusInactive
	return nil
}

func (f *fakeRepo) CountAgentActiveInstructions(_ context.Context, squadID, agentID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.agentOpen[memberKey{squadID, agentID}], nil
}

func (f *fakeRepo) GetAttachment(_ context.Context, projectID int64, squadID uuid.UUID) (*models.ProjectSquadAttachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attachments[attachKey{projectID, squadID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeRepo) CountActiveProjectSquads(_ context.Context, projectID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for k, a := range f.attachments {
		if k.project == projectID && a.Status == models.AttachmentStatusActive {
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) CountActiveSquadProjects(_ context.Context, squadID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for k, a := range f.attachments {
		if k.squad == squadID && a.Status == models.AttachmentStatusActive {
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) UpsertAttachment(_ context.Context, a *models.ProjectSquadAttachment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *a
	f.attachments[attachKey{a.ProjectID, a.SquadID}] = &cp
	return nil
}

func (f *fakeRepo) DetachSquad(_ context.Context, projectID int64, squadID uuid.UUID) (*models.ProjectSquadAttachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attachments[attachKey{projectID, squadID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	now := time.Now()
	a.Status = models.AttachmentStatusDetached
	a.DetachedAt = &now
	cp := *a
	return &cp, nil
}

func (f *fakeRepo) CountActiveInstructions(_ context.Context, squadID uuid.UUID, projectID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, in := range f.instructions {
		if in.SquadID == squadID && in.ProjectID == projectID && openInstruction(in.Status) {
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) CreateInstruction(_ context.Context, in *models.SquadInstruction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *in
	f.instructions[in.ID] = &cp
	return nil
}

func (f *fakeRepo) MarkInstructionQueued(_ context.Context, id uuid.UUID, metadata map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	in, ok := f.instructions[id]
	if !ok {
		return errors.New("instruction not found")
	}
	in.Status = models.InstructionStatusQueued
	in.Metadata = metadata
	return nil
}

// fakeCache is a map-backed cache.Cache.
type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeCache() *fakeCache { return &fakeCache{data: map[string][]byte{}} }

func (c *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *fakeCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *fakeCache) Ping(context.Context) error { return nil }

func (c *fakeCache) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if _, ok, _ := c.Get(ctx, key); ok {
		return false, nil
	}
	return true, c.Set(ctx, key, value, ttl)
}

func (c *fakeCache) SetJobStatus(context.Context, uuid.UUID, string, time.Duration) error { return nil }

func (c *fakeCache) GetJobStatus(context.Context, uuid.UUID) (string, bool, error) {
	return "", false, nil
}

func (c *fakeCache) IncrWithExpiry(context.Context, string, time.Duration) (int64, error) {
	return 1, nil
}
