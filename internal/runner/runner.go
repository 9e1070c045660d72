// Package runner executes gates and recipes as asynchronous jobs.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/arka-squad/arka-labs-sub000/internal/artifact"
	"github.com/arka-squad/arka-labs-sub000/internal/cache"
	"github.com/arka-squad/arka-labs-sub000/internal/events"
	"github.com/arka-squad/arka-labs-sub000/internal/gates"
	"github.com/arka-squad/arka-labs-sub000/internal/idempotency"
	"github.com/arka-squad/arka-labs-sub000/internal/metrics"
	"github.com/arka-squad/arka-labs-sub000/pkg/models"
	"github.com/google/uuid"
)

const (
	DefaultCeiling = 5
	MaxRetry       = 5
	MaxTimeoutMS   = 5 * 60 * 1000

	statusTTL = time.Hour

	// A running job is stale once it has missed this many heartbeats.
	staleHeartbeats = 3
	finishAttempts  = 3
)

var finishBackoff = 100 * time.Millisecond

// GateRunRequest asks for a single gate to run.
type GateRunRequest struct {
	GateID         string
	Inputs         map[string]any
	Retry          int
	TimeoutMS      int
	IdempotencyKey string
	TraceID        string
	Role           string
}

// RecipeRunRequest asks for a catalog recipe to run. Inputs are handed to every step.
type RecipeRunRequest struct {
	RecipeID       string
	Inputs         map[string]any
	IdempotencyKey string
	TraceID        string
	Role           string
}

// Submission is the outcome of a submit call.
type Submission struct {
	Job *models.Job
	// Reused is set when the idempotency key already pointed at a live job.
	Reused bool
	// Deduplicated is set when the same target was already running for the owner.
	Deduplicated bool
}

type plan struct {
	jobType  models.JobType
	targetID string
	steps    []models.GateStep
}

// Runner is the job registry. Submissions are serialized; jobs run concurrently.
type Runner struct {
	registry *gates.Registry
	store    JobStore
	idem     idempotency.Cache
	results  artifact.ResultStore

	exec *Executor
	orch *Orchestrator

	publisher events.Publisher
	status    cache.Cache
	ceiling   int
	now       func() time.Time
	heartbeat time.Duration
	hbStop    context.CancelFunc
	hbDone    chan struct{}

	baseCtx context.Context
	stop    context.CancelFunc

	submitMu sync.Mutex

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
	closed  bool
	wg      sync.WaitGroup
}

// Option configures a Runner.
type Option func(*Runner)

func WithCeiling(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.ceiling = n
		}
	}
}

func WithPublisher(p events.Publisher) Option {
	return func(r *Runner) { r.publisher = p }
}

// WithStatusCache mirrors job status into c for cheap polling.
func WithStatusCache(c cache.Cache) Option {
	return func(r *Runner) { r.status = c }
}

// WithHeartbeat marks this runner's jobs alive every interval and fails
// running jobs that missed three heartbeats, including jobs left behind by
// a process that died. The first sweep runs when New returns.
func WithHeartbeat(interval time.Duration) Option {
	return func(r *Runner) { r.heartbeat = interval }
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
		r.exec.now = now
	}
}

func New(registry *gates.Registry, store JobStore, idem idempotency.Cache, logs artifact.LogSink, results artifact.ResultStore, opts ...Option) *Runner {
	exec := NewExecutor(registry, logs)
	ctx, stop := context.WithCancel(context.Background())
	r := &Runner{
		registry:  registry,
		store:     store,
		idem:      idem,
		results:   results,
		exec:      exec,
		orch:      NewOrchestrator(exec),
		publisher: events.Nop{},
		ceiling:   DefaultCeiling,
		now:       time.Now,
		baseCtx:   ctx,
		stop:      stop,
		cancels:   make(map[uuid.UUID]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.heartbeat > 0 {
		hbCtx, hbStop := context.WithCancel(context.Background())
		r.hbStop = hbStop
		r.hbDone = make(chan struct{})
		go r.keepAlive(hbCtx)
	}
	return r
}

func (r *Runner) keepAlive(ctx context.Context) {
	defer close(r.hbDone)
	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		r.beat(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Runner) beat(ctx context.Context) {
	now := r.now().UTC()
	if ids := r.liveIDs(); len(ids) > 0 {
		if err := r.store.Heartbeat(ctx, ids, now); err != nil {
			slog.Error("job_heartbeat_failed", "jobs", len(ids), "error", err)
		}
	}
	n, err := r.store.FailStale(ctx, now.Add(-staleHeartbeats*r.heartbeat), ErrJobOrphaned.Error(), now)
	if err != nil {
		slog.Error("stale_job_sweep_failed", "error", err)
		return
	}
	if n > 0 {
		slog.Warn("stale_jobs_failed", "count", n)
	}
}

func (r *Runner) liveIDs() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(r.cancels))
	for id := range r.cancels {
		ids = append(ids, id)
	}
	return ids
}

// SubmitGate starts a single-gate job.
func (r *Runner) SubmitGate(ctx context.Context, ownerID string, req GateRunRequest) (*Submission, error) {
	check, ok := r.registry.Lookup(req.GateID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGate, req.GateID)
	}
	if !gates.HasScope(req.Role, check.Meta().Scope) {
		return nil, ErrForbiddenScope
	}
	if req.Retry < 0 || req.Retry > MaxRetry {
		return nil, fmt.Errorf("%w: retry must be between 0 and %d", ErrInvalidStep, MaxRetry)
	}
	if req.TimeoutMS < 0 || req.TimeoutMS > MaxTimeoutMS {
		return nil, fmt.Errorf("%w: timeout_ms must be between 0 and %d", ErrInvalidStep, MaxTimeoutMS)
	}
	step := models.GateStep{
		ID:        req.GateID,
		GateID:    req.GateID,
		Inputs:    req.Inputs,
		Retry:     req.Retry,
		TimeoutMS: req.TimeoutMS,
	}
	return r.submit(ctx, ownerID, req.IdempotencyKey, req.TraceID, plan{
		jobType:  models.JobTypeGate,
		targetID: req.GateID,
		steps:    []models.GateStep{step},
	})
}

// SubmitRecipe starts a recipe job. Run inputs override the catalog step inputs.
func (r *Runner) SubmitRecipe(ctx context.Context, ownerID string, req RecipeRunRequest) (*Submission, error) {
	rec, ok := r.registry.Recipe(req.RecipeID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRecipe, req.RecipeID)
	}
	if !gates.HasScope(req.Role, rec.Scope) {
		return nil, ErrForbiddenScope
	}
	steps := make([]models.GateStep, len(rec.Steps))
	for i, s := range rec.Steps {
		in := make(map[string]any, len(s.Inputs)+len(req.Inputs))
		maps.Copy(in, s.Inputs)
		maps.Copy(in, req.Inputs)
		s.Inputs = in
		steps[i] = s
	}
	return r.submit(ctx, ownerID, req.IdempotencyKey, req.TraceID, plan{
		jobType:  models.JobTypeRecipe,
		targetID: rec.ID,
		steps:    steps,
	})
}

func (r *Runner) submit(ctx context.Context, ownerID, key, traceID string, p plan) (*Submission, error) {
	if len(p.steps) == 0 {
		return nil, ErrNoSteps
	}

	r.submitMu.Lock()
	defer r.submitMu.Unlock()

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, ErrShuttingDown
	}

	scoped := idempotency.ScopedKey(ownerID, key)
	if scoped != "" {
		id, found, err := r.idem.Get(ctx, scoped)
		if err != nil {
			return nil, fmt.Errorf("reading idempotency key: %w", err)
		}
		if found {
			job, err := r.store.Get(ctx, id)
			switch {
			case err == nil:
				return &Submission{Job: job, Reused: true}, nil
			case !errors.Is(err, ErrJobNotFound):
				return nil, err
			}
		}
	}

	if traceID == "" {
		traceID = uuid.NewString()
	}
	job := &models.Job{
		ID:             uuid.New(),
		OwnerID:        ownerID,
		Type:           p.jobType,
		TargetID:       p.targetID,
		Status:         models.JobStatusRunning,
		StartedAt:      r.now().UTC(),
		Progress:       models.Progress{Total: len(p.steps)},
		TraceID:        traceID,
		IdempotencyKey: key,
	}
	existing, err := r.store.Create(ctx, job, r.ceiling)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &Submission{Job: existing, Deduplicated: true}, nil
	}

	if scoped != "" {
		if err := r.idem.Set(ctx, scoped, job.ID); err != nil {
			slog.Error("idempotency_set_failed", "job_id", job.ID, "error", err)
		}
		if err := r.idem.Sweep(ctx); err != nil {
			slog.Error("idempotency_sweep_failed", "error", err)
		}
	}

	jobCtx, cancel := context.WithCancel(withTrace(r.baseCtx, traceID))
	r.mu.Lock()
	r.cancels[job.ID] = cancel
	r.mu.Unlock()
	r.wg.Add(1)

	r.mirrorStatus(job.ID, job.Status)
	metrics.RecordJobStarted(ctx, string(job.Type))
	events.PublishAsync(r.publisher, events.Event{
		Type:    events.JobStarted,
		TraceID: traceID,
		Data:    map[string]any{"job_id": job.ID, "owner_id": ownerID, "type": job.Type, "target_id": job.TargetID},
	})
	slog.Info("job_started", "job_id", job.ID, "type", job.Type, "target_id", job.TargetID, "owner_id", ownerID, "trace_id", traceID)

	runJob := *job
	go r.run(jobCtx, &runJob, p)

	return &Submission{Job: job}, nil
}

func (r *Runner) run(ctx context.Context, job *models.Job, p plan) {
	defer r.wg.Done()
	defer r.forget(job.ID)

	result := &models.JobResult{JobID: job.ID}
	func() {
		defer func() {
			if v := recover(); v != nil {
				slog.Error("job_panic", "job_id", job.ID, "panic", v)
				result.Status = models.JobStatusError
				result.Error = fmt.Sprintf("panic: %v", v)
			}
		}()
		r.execute(ctx, job, p, result)
	}()
	r.finish(ctx, job, result)
}

func (r *Runner) execute(ctx context.Context, job *models.Job, p plan, result *models.JobResult) {
	if err := r.exec.log(ctx, job.ID, EventStart, map[string]any{
		"type":      job.Type,
		"target_id": job.TargetID,
		"trace_id":  job.TraceID,
	}); err != nil {
		result.Status, result.Error = models.JobStatusError, err.Error()
		return
	}

	progress := func(done int) {
		if err := r.store.UpdateProgress(context.WithoutCancel(ctx), job.ID, done); err != nil {
			slog.Error("job_progress_failed", "job_id", job.ID, "error", err)
		}
	}

	var runErr error
	switch p.jobType {
	case models.JobTypeRecipe:
		rr, err := r.orch.Run(ctx, job.ID, p.targetID, p.steps, progress)
		result.Recipe = &rr
		for _, s := range rr.Steps {
			if s.GateResult != nil {
				result.Results = append(result.Results, *s.GateResult)
			}
		}
		result.Status = rr.Status
		runErr = err
	default:
		res, err := r.exec.Execute(ctx, job.ID, p.steps[0])
		progress(1)
		if err == nil {
			result.Results = []models.GateRunResult{*res}
			result.Status = res.Status
		}
		runErr = err
	}

	switch {
	case ctx.Err() != nil:
		result.Status = models.JobStatusCanceled
		result.Error = "canceled"
	case runErr != nil && isInternal(runErr):
		result.Status, result.Error = models.JobStatusError, runErr.Error()
	case runErr != nil:
		result.Status, result.Error = models.JobStatusFail, runErr.Error()
	}
}

func (r *Runner) finish(ctx context.Context, job *models.Job, result *models.JobResult) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := r.results.WriteResult(wctx, result); err != nil {
		slog.Error("job_result_write_failed", "job_id", job.ID, "error", err)
		result.Status = models.JobStatusError
		result.Error = "persisting result: " + err.Error()
	}

	fields := map[string]any{"status": result.Status}
	if result.Error != "" {
		fields["error"] = result.Error
	}
	_ = r.exec.log(wctx, job.ID, EventDone, fields)

	finishedAt := r.now().UTC()
	if err := r.persistFinish(ctx, job.ID, result, finishedAt); err != nil {
		// The row stays running until the stale sweep fails it, so nothing
		// announces this outcome.
		slog.Error("job_finish_failed", "job_id", job.ID, "status", result.Status, "error", err)
		_ = r.exec.log(wctx, job.ID, EventFinishFailed, map[string]any{"status": result.Status, "error": err.Error()})
		r.dropStatus(job.ID)
		return
	}

	r.mirrorStatus(job.ID, result.Status)
	metrics.RecordJobFinished(wctx, string(job.Type), string(result.Status), finishedAt.Sub(job.StartedAt))
	events.PublishAsync(r.publisher, events.Event{
		Type:    events.JobFinished,
		TraceID: job.TraceID,
		Data: map[string]any{
			"job_id":    job.ID,
			"owner_id":  job.OwnerID,
			"type":      job.Type,
			"target_id": job.TargetID,
			"status":    result.Status,
			"error":     result.Error,
		},
	})
	slog.Info("job_finished", "job_id", job.ID, "status", result.Status, "trace_id", job.TraceID)
}

// persistFinish records the terminal status, retrying transient store
// errors on a context detached from the job.
func (r *Runner) persistFinish(ctx context.Context, id uuid.UUID, result *models.JobResult, finishedAt time.Time) error {
	var err error
	for attempt := 1; attempt <= finishAttempts; attempt++ {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		err = r.store.Finish(actx, id, result.Status, result.Error, finishedAt)
		cancel()
		if err == nil || errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrJobNotFound) {
			return err
		}
		if attempt < finishAttempts {
			slog.Warn("job_finish_retry", "job_id", id, "attempt", attempt, "error", err)
			time.Sleep(time.Duration(attempt) * finishBackoff)
		}
	}
	return err
}

func (r *Runner) mirrorStatus(id uuid.UUID, status models.JobStatus) {
	if r.status == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.status.SetJobStatus(ctx, id, string(status), statusTTL); err != nil {
		slog.Error("job_status_cache_failed", "job_id", id, "error", err)
	}
}

// dropStatus removes the mirror so Status reads the store.
func (r *Runner) dropStatus(id uuid.UUID) {
	if r.status == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.status.Delete(ctx, cache.JobStatusKey(id)); err != nil {
		slog.Error("job_status_cache_failed", "job_id", id, "error", err)
	}
}

func (r *Runner) forget(id uuid.UUID) {
	r.mu.Lock()
	cancel, ok := r.cancels[id]
	delete(r.cancels, id)
	r.mu.Unlock()
	if ok {
		cancel()
	}
}

// Get returns the job handle.
func (r *Runner) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return r.store.Get(ctx, id)
}

// Result returns the result artifact of a finished job.
func (r *Runner) Result(ctx context.Context, id uuid.UUID) (*models.JobResult, error) {
	return r.results.ReadResult(ctx, id)
}

func (r *Runner) List(ctx context.Context, ownerID string, limit int) ([]models.Job, error) {
	return r.store.ListByOwner(ctx, ownerID, limit)
}

// Status returns the mirrored status when available, falling back to the store.
func (r *Runner) Status(ctx context.Context, id uuid.UUID) (models.JobStatus, error) {
	if r.status != nil {
		if s, ok, err := r.status.GetJobStatus(ctx, id); err == nil && ok {
			return models.JobStatus(s), nil
		}
	}
	job, err := r.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return job.Status, nil
}

// Cancel stops a running job; it finishes as canceled.
func (r *Runner) Cancel(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	cancel, ok := r.cancels[id]
	r.mu.Unlock()
	if ok {
		cancel()
		slog.Info("job_cancel_requested", "job_id", id)
		return nil
	}
	if _, err := r.store.Get(ctx, id); err != nil {
		return err
	}
	return ErrJobNotRunning
}

// Running reports the number of jobs executing in this process.
func (r *Runner) Running() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.cancels))
}

// Wait blocks until the job leaves the running state or ctx is done.
func (r *Runner) Wait(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		job, err := r.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Status.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Shutdown refuses new submissions, cancels in-flight jobs and waits for
// them to finish or for ctx to expire.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.stop()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	// Heartbeats continue while jobs drain.
	defer r.stopHeartbeat()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) stopHeartbeat() {
	if r.hbStop == nil {
		return
	}
	r.hbStop()
	<-r.hbDone
}
