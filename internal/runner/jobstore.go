package runner

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arka-squad/arka-labs-sub000/pkg/models"
	"github.com/google/uuid"
)

// JobStore persists job handles. Create must be atomic per owner: the
// dedupe lookup, the ceiling check and the insert happen as one step.
type JobStore interface {
	// Create returns the running job of the same owner and target when there
	// is one, ErrConcurrencyLimit when the owner already runs ceiling jobs,
	// and otherwise inserts job and returns (nil, nil).
	Create(ctx context.Context, job *models.Job, ceiling int) (*models.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, done int) error
	// Finish moves a running job to a terminal status. Any other transition
	// returns ErrInvalidTransition.
	Finish(ctx context.Context, id uuid.UUID, status models.JobStatus, errMsg string, finishedAt time.Time) error
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]models.Job, error)
	// Heartbeat marks the running jobs ids as alive at at.
	Heartbeat(ctx context.Context, ids []uuid.UUID, at time.Time) error
	// FailStale moves running jobs whose last heartbeat is before staleBefore
	// to error and returns how many it moved.
	FailStale(ctx context.Context, staleBefore time.Time, errMsg string, finishedAt time.Time) (int64, error)
}

// MemoryJobStore is a process-local JobStore.
type MemoryJobStore struct {
	mu    sync.Mutex
	jobs  map[uuid.UUID]*models.Job
	beats map[uuid.UUID]time.Time
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs:  make(map[uuid.UUID]*models.Job),
		beats: make(map[uuid.UUID]time.Time),
	}
}

func (s *MemoryJobStore) Create(_ context.Context, job *models.Job, ceiling int) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	running := 0
	for _, j := range s.jobs {
		if j.OwnerID != job.OwnerID || j.Status != models.JobStatusRunning {
			continue
		}
		if j.TargetID == job.TargetID {
			cp := *j
			return &cp, nil
		}
		running++
	}
	if ceiling > 0 && running >= ceiling {
		return nil, ErrConcurrencyLimit
	}
	cp := *job
	s.jobs[job.ID] = &cp
	s.beats[job.ID] = job.StartedAt
	return nil, nil
}

func (s *MemoryJobStore) Get(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *MemoryJobStore) UpdateProgress(_ context.Context, id uuid.UUID, done int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	j.Progress.Done = done
	return nil
}

func (s *MemoryJobStore) Finish(_ context.Context, id uuid.UUID, status models.JobStatus, errMsg string, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if j.Status != models.JobStatusRunning || !status.Terminal() {
		return ErrInvalidTransition
	}
	j.Status = status
	j.Error = errMsg
	t := finishedAt
	j.FinishedAt = &t
	return nil
}

func (s *MemoryJobStore) ListByOwner(_ context.Context, ownerID string, limit int) ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Job{}
	for _, j := range s.jobs {
		if j.OwnerID == ownerID {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].StartedAt.After(out[k].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryJobStore) Heartbeat(_ context.Context, ids []uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if j, ok := s.jobs[id]; ok && j.Status == models.JobStatusRunning {
			s.beats[id] = at
		}
	}
	return nil
}

func (s *MemoryJobStore) FailStale(_ context.Context, staleBefore time.Time, errMsg string, finishedAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, j := range s.jobs {
		if j.Status != models.JobStatusRunning || !s.beats[id].Before(staleBefore) {
			continue
		}
		j.Status = models.JobStatusError
		j.Error = errMsg
		t := finishedAt
		j.FinishedAt = &t
		n++
	}
	return n, nil
}
