package runner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arka-squad/arka-labs-sub000/internal/artifact"
	"github.com/arka-squad/arka-labs-sub000/internal/events"
	"github.com/arka-squad/arka-labs-sub000/internal/gates"
	"github.com/arka-squad/arka-labs-sub000/internal/idempotency"
	"github.com/arka-squad/arka-labs-sub000/pkg/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	runner *Runner
	store  *MemoryJobStore
	files  *artifact.FileStore
}

func newHarness(t *testing.T, checks ...gates.Check) *harness {
	t.Helper()
	reg := gates.NewRegistry()
	for _, c := range checks {
		reg.Register(c)
	}
	h := &harness{store: NewMemoryJobStore(), files: artifact.NewFileStore(t.TempDir())}
	h.runner = New(reg, h.store, idempotency.NewMemoryCache(0), h.files, h.files)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.runner.Shutdown(ctx)
	})
	return h
}

func (h *harness) wait(t *testing.T, id uuid.UUID) *models.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := h.runner.Wait(ctx, id)
	require.NoError(t, err)
	return job
}

func (h *harness) events(t *testing.T, id uuid.UUID) []map[string]any {
	t.Helper()
	data, err := h.files.ReadLog(context.Background(), id)
	require.NoError(t, err)
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	return out
}

func eventNames(evs []map[string]any) []string {
	names := make([]string, len(evs))
	for i, e := range evs {
		names[i] = e["event"].(string)
	}
	return names
}

func verdictCheck(id string, status models.JobStatus) *gates.FuncCheck {
	return &gates.FuncCheck{
		Info: gates.Meta{ID: id, Scope: models.ScopeSafe},
		RunFunc: func(context.Context, map[string]any, gates.RunContext) (*models.GateRunResult, error) {
			return &models.GateRunResult{Status: status, Metrics: map[string]any{}}, nil
		},
	}
}

func blockingCheck(id string, release <-chan struct{}) *gates.FuncCheck {
	return &gates.FuncCheck{
		Info: gates.Meta{ID: id, Scope: models.ScopeSafe},
		RunFunc: func(ctx context.Context, _ map[string]any, _ gates.RunContext) (*models.GateRunResult, error) {
			select {
			case <-release:
				return &models.GateRunResult{Status: models.JobStatusPass}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
}

func gateReq(id, key string) GateRunRequest {
	return GateRunRequest{GateID: id, IdempotencyKey: key, Role: models.RoleEditor}
}

func TestSubmitGate_PassWritesLogAndResult(t *testing.T) {
	h := newHarness(t, verdictCheck("g.ok", models.JobStatusPass))

	sub, err := h.runner.SubmitGate(context.Background(), "u1", gateReq("g.ok", "k1"))
	require.NoError(t, err)
	assert.False(t, sub.Reused)
	assert.Equal(t, models.JobStatusRunning, sub.Job.Status)
	assert.Equal(t, 1, sub.Job.Progress.Total)
	assert.NotEmpty(t, sub.Job.TraceID)

	job := h.wait(t, sub.Job.ID)
	assert.Equal(t, models.JobStatusPass, job.Status)
	assert.NotNil(t, job.FinishedAt)
	assert.Equal(t, 1, job.Progress.Done)

	assert.Equal(t, []string{"start", "gate:start", "gate:pass", "done"}, eventNames(h.events(t, job.ID)))

	res, err := h.runner.Result(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPass, res.Status)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "g.ok", res.Results[0].GateID, "empty gate_id is stamped from the step")
}

func TestSubmitGate_RetryThenPass(t *testing.T) {
	var calls atomic.Int32
	flaky := &gates.FuncCheck{
		Info: gates.Meta{ID: "g.flaky", Scope: models.ScopeSafe},
		RunFunc: func(context.Context, map[string]any, gates.RunContext) (*models.GateRunResult, error) {
			if calls.Add(1) == 1 {
				return nil, errors.New("transient")
			}
			return &models.GateRunResult{Status: models.JobStatusPass}, nil
		},
	}
	h := newHarness(t, flaky)

	req := gateReq("g.flaky", "k1")
	req.Retry = 1
	sub, err := h.runner.SubmitGate(context.Background(), "u1", req)
	require.NoError(t, err)

	job := h.wait(t, sub.Job.ID)
	assert.Equal(t, models.JobStatusPass, job.Status)
	assert.Equal(t, int32(2), calls.Load())

	evs := h.events(t, job.ID)
	var retries []map[string]any
	for _, e := range evs {
		if e["event"] == EventGateRetry {
			retries = append(retries, e)
		}
	}
	require.Len(t, retries, 1)
	assert.Equal(t, float64(1), retries[0]["attempt"])
	assert.Equal(t, "transient", retries[0]["error"])
	assert.Equal(t,
		[]string{"start", "gate:start", "gate:retry", "gate:pass", "done"},
		eventNames(evs), "the retry is logged before the pass")
}

func TestSubmitGate_RetriesExhaustedFails(t *testing.T) {
	var calls atomic.Int32
	broken := &gates.FuncCheck{
		Info: gates.Meta{ID: "g.broken", Scope: models.ScopeSafe},
		RunFunc: func(context.Context, map[string]any, gates.RunContext) (*models.GateRunResult, error) {
			calls.Add(1)
			return nil, errors.New("boom")
		},
	}
	h := newHarness(t, broken)

	req := gateReq("g.broken", "k1")
	req.Retry = 2
	sub, err := h.runner.SubmitGate(context.Background(), "u1", req)
	require.NoError(t, err)

	job := h.wait(t, sub.Job.ID)
	assert.Equal(t, models.JobStatusFail, job.Status)
	assert.Equal(t, "gate g.broken: boom", job.Error)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t,
		[]string{"start", "gate:start", "gate:retry", "gate:retry", "gate:fail", "done"},
		eventNames(h.events(t, job.ID)))

	res, err := h.runner.Result(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFail, res.Status)
	assert.Equal(t, job.Error, res.Error)
}

func TestSubmitGate_TimeoutFailsBeforeCheckReturns(t *testing.T) {
	slow := &gates.FuncCheck{
		Info: gates.Meta{ID: "g.slow", Scope: models.ScopeSafe},
		// Ignores ctx: the attempt must be abandoned, not stopped.
		RunFunc: func(context.Context, map[string]any, gates.RunContext) (*models.GateRunResult, error) {
			time.Sleep(200 * time.Millisecond)
			return &models.GateRunResult{Status: models.JobStatusPass}, nil
		},
	}
	h := newHarness(t, slow)

	req := gateReq("g.slow", "k1")
	req.TimeoutMS = 50
	start := time.Now()
	sub, err := h.runner.SubmitGate(context.Background(), "u1", req)
	require.NoError(t, err)

	job := h.wait(t, sub.Job.ID)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
	assert.Equal(t, models.JobStatusFail, job.Status)
	assert.Contains(t, job.Error, ErrStepTimeout.Error())
	assert.Equal(t,
		[]string{"start", "gate:start", "gate:fail", "done"},
		eventNames(h.events(t, job.ID)))
}

func TestSubmitGate_VerdictFailIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	check := &gates.FuncCheck{
		Info: gates.Meta{ID: "g.red", Scope: models.ScopeSafe},
		RunFunc: func(context.Context, map[string]any, gates.RunContext) (*models.GateRunResult, error) {
			calls.Add(1)
			return &models.GateRunResult{Status: models.JobStatusFail, Message: "budget exceeded"}, nil
		},
	}
	h := newHarness(t, check)

	req := gateReq("g.red", "k1")
	req.Retry = 3
	sub, err := h.runner.SubmitGate(context.Background(), "u1", req)
	require.NoError(t, err)

	job := h.wait(t, sub.Job.ID)
	assert.Equal(t, models.JobStatusFail, job.Status)
	assert.Empty(t, job.Error)
	assert.Equal(t, int32(1), calls.Load())

	evs := h.events(t, job.ID)
	assert.Equal(t, []string{"start", "gate:start", "gate:fail", "done"}, eventNames(evs))
	assert.Equal(t, "fail", evs[2]["status"])
}

func TestSubmitGate_ValidationFailureIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	check := &gates.FuncCheck{
		Info:         gates.Meta{ID: "g.strict", Scope: models.ScopeSafe},
		ValidateFunc: func(map[string]any) error { return errors.New("url is required") },
		RunFunc: func(context.Context, map[string]any, gates.RunContext) (*models.GateRunResult, error) {
			calls.Add(1)
			return &models.GateRunResult{}, nil
		},
	}
	h := newHarness(t, check)

	req := gateReq("g.strict", "k1")
	req.Retry = 2
	sub, err := h.runner.SubmitGate(context.Background(), "u1", req)
	require.NoError(t, err)

	job := h.wait(t, sub.Job.ID)
	assert.Equal(t, models.JobStatusFail, job.Status)
	assert.Equal(t, int32(0), calls.Load())
	assert.NotContains(t, eventNames(h.events(t, job.ID)), EventGateRetry)
}

func TestSubmitGate_PanicEndsAsError(t *testing.T) {
	check := &gates.FuncCheck{
		Info: gates.Meta{ID: "g.panic", Scope: models.ScopeSafe},
		RunFunc: func(context.Context, map[string]any, gates.RunContext) (*models.GateRunResult, error) {
			panic("nil map")
		},
	}
	h := newHarness(t, check)

	req := gateReq("g.panic", "k1")
	req.Retry = 2
	sub, err := h.runner.SubmitGate(context.Background(), "u1", req)
	require.NoError(t, err)

	job := h.wait(t, sub.Job.ID)
	assert.Equal(t, models.JobStatusError, job.Status)
	assert.Contains(t, job.Error, "panicked")
}

func TestSubmitGate_IdempotencyKeyReusesJob(t *testing.T) {
	h := newHarness(t, verdictCheck("g.ok", models.JobStatusPass))
	ctx := context.Background()

	first, err := h.runner.SubmitGate(ctx, "u1", gateReq("g.ok", "same"))
	require.NoError(t, err)
	h.wait(t, first.Job.ID)

	second, err := h.runner.SubmitGate(ctx, "u1", gateReq("g.ok", "same"))
	require.NoError(t, err)
	assert.True(t, second.Reused)
	assert.Equal(t, first.Job.ID, second.Job.ID)

	other, err := h.runner.SubmitGate(ctx, "u2", gateReq("g.ok", "same"))
	require.NoError(t, err)
	assert.False(t, other.Reused, "keys are scoped per owner")
	assert.NotEqual(t, first.Job.ID, other.Job.ID)
	h.wait(t, other.Job.ID)
}

func TestSubmitGate_IdempotencyKeyConcurrent(t *testing.T) {
	h := newHarness(t, verdictCheck("g.ok", models.JobStatusPass))
	ctx := context.Background()

	const n = 16
	ids := make([]uuid.UUID, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			sub, err := h.runner.SubmitGate(ctx, "u1", gateReq("g.ok", "same"))
			errs[i] = err
			if err == nil {
				ids[i] = sub.Job.ID
			}
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	h.wait(t, ids[0])

	jobs, err := h.store.ListByOwner(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, jobs, 1, "one stored job for one key")
}

func TestSubmitGate_DedupesRunningTarget(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, blockingCheck("g.block", release))
	ctx := context.Background()

	first, err := h.runner.SubmitGate(ctx, "u1", gateReq("g.block", "k1"))
	require.NoError(t, err)

	second, err := h.runner.SubmitGate(ctx, "u1", gateReq("g.block", "k2"))
	require.NoError(t, err)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.Job.ID, second.Job.ID)

	close(release)
	assert.Equal(t, models.JobStatusPass, h.wait(t, first.Job.ID).Status)
}

func TestSubmitGate_ConcurrencyCeiling(t *testing.T) {
	release := make(chan struct{})
	var checks []gates.Check
	for i := 0; i < 6; i++ {
		checks = append(checks, blockingCheck(fmt.Sprintf("g.block.%d", i), release))
	}
	h := newHarness(t, checks...)
	ctx := context.Background()

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		sub, err := h.runner.SubmitGate(ctx, "u1", gateReq(fmt.Sprintf("g.block.%d", i), fmt.Sprintf("k%d", i)))
		require.NoError(t, err)
		ids = append(ids, sub.Job.ID)
	}

	_, err := h.runner.SubmitGate(ctx, "u1", gateReq("g.block.5", "k5"))
	require.ErrorIs(t, err, ErrConcurrencyLimit)
	assert.Equal(t, "concurrency-limit", err.Error())

	_, err = h.runner.SubmitGate(ctx, "u2", gateReq("g.block.5", "k5"))
	assert.NoError(t, err, "the ceiling is per owner")

	close(release)
	for _, id := range ids {
		h.wait(t, id)
	}
	_, err = h.runner.SubmitGate(ctx, "u1", gateReq("g.block.5", "k6"))
	assert.NoError(t, err, "finished jobs free their slot")
}

func TestSubmitGate_Rejections(t *testing.T) {
	owner := &gates.FuncCheck{
		Info: gates.Meta{ID: "g.owner", Scope: models.ScopeOwnerOnly},
		RunFunc: func(context.Context, map[string]any, gates.RunContext) (*models.GateRunResult, error) {
			return &models.GateRunResult{}, nil
		},
	}
	h := newHarness(t, owner)
	ctx := context.Background()

	_, err := h.runner.SubmitGate(ctx, "u1", gateReq("nope", "k"))
	assert.ErrorIs(t, err, ErrUnknownGate)

	_, err = h.runner.SubmitGate(ctx, "u1", gateReq("g.owner", "k"))
	assert.ErrorIs(t, err, ErrForbiddenScope)

	req := gateReq("g.owner", "k")
	req.Role = models.RoleOwner
	req.Retry = MaxRetry + 1
	_, err = h.runner.SubmitGate(ctx, "u1", req)
	assert.ErrorIs(t, err, ErrInvalidStep)
}

func TestCancel(t *testing.T) {
	h := newHarness(t, blockingCheck("g.block", make(chan struct{})))
	ctx := context.Background()

	sub, err := h.runner.SubmitGate(ctx, "u1", gateReq("g.block", "k1"))
	require.NoError(t, err)
	require.NoError(t, h.runner.Cancel(ctx, sub.Job.ID))

	job := h.wait(t, sub.Job.ID)
	assert.Equal(t, models.JobStatusCanceled, job.Status)

	res, err := h.runner.Result(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCanceled, res.Status)

	assert.Eventually(t, func() bool {
		return errors.Is(h.runner.Cancel(ctx, sub.Job.ID), ErrJobNotRunning)
	}, time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, h.runner.Cancel(ctx, uuid.New()), ErrJobNotFound)
}

func TestShutdown_CancelsInFlightAndRefusesNew(t *testing.T) {
	h := newHarness(t, blockingCheck("g.block", make(chan struct{})), verdictCheck("g.ok", models.JobStatusPass))
	ctx := context.Background()

	sub, err := h.runner.SubmitGate(ctx, "u1", gateReq("g.block", "k1"))
	require.NoError(t, err)

	sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, h.runner.Shutdown(sctx))

	job, err := h.runner.Get(ctx, sub.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCanceled, job.Status)
	assert.Equal(t, int64(0), h.runner.Running())

	_, err = h.runner.SubmitGate(ctx, "u1", gateReq("g.ok", "k2"))
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestSubmitRecipe_ParallelGroupAndFailFast(t *testing.T) {
	reg := gates.NewRegistry()
	for _, c := range []gates.Check{
		verdictCheck("g.a", models.JobStatusPass),
		verdictCheck("g.b", models.JobStatusWarn),
		verdictCheck("g.c", models.JobStatusFail),
		verdictCheck("g.d", models.JobStatusPass),
	} {
		reg.Register(c)
	}
	require.NoError(t, reg.AddRecipe(gates.Recipe{
		ID: "r.demo",
		Steps: []models.GateStep{
			{ID: "a", GateID: "g.a", Parallel: true},
			{ID: "b", GateID: "g.b", Parallel: true},
			{ID: "c", GateID: "g.c"},
			{ID: "d", GateID: "g.d"},
		},
	}))
	store := NewMemoryJobStore()
	files := artifact.NewFileStore(t.TempDir())
	r := New(reg, store, idempotency.NewMemoryCache(0), files, files)
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })

	sub, err := r.SubmitRecipe(context.Background(), "u1", RecipeRunRequest{RecipeID: "r.demo", IdempotencyKey: "k", Role: models.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, 4, sub.Job.Progress.Total)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := r.Wait(ctx, sub.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFail, job.Status)
	assert.Equal(t, 3, job.Progress.Done)

	res, err := r.Result(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Recipe)
	assert.Equal(t, models.RecipeSummary{Pass: 1, Fail: 1, Warn: 1}, res.Recipe.Summary)

	var statuses []models.JobStatus
	for _, s := range res.Recipe.Steps {
		statuses = append(statuses, s.Status)
	}
	assert.Equal(t, []models.JobStatus{
		models.JobStatusPass, models.JobStatusWarn, models.JobStatusFail, models.StepStatusSkipped,
	}, statuses)
	assert.Len(t, res.Results, 3)
}

func TestOrchestrator_ParallelStepsOverlap(t *testing.T) {
	var started sync.WaitGroup
	started.Add(2)
	barrier := func(id string) *gates.FuncCheck {
		return &gates.FuncCheck{
			Info: gates.Meta{ID: id, Scope: models.ScopeSafe},
			RunFunc: func(ctx context.Context, _ map[string]any, _ gates.RunContext) (*models.GateRunResult, error) {
				started.Done()
				done := make(chan struct{})
				go func() { started.Wait(); close(done) }()
				select {
				case <-done:
					return &models.GateRunResult{Status: models.JobStatusPass}, nil
				case <-time.After(time.Second):
					return &models.GateRunResult{Status: models.JobStatusFail, Message: "siblings did not overlap"}, nil
				}
			},
		}
	}
	reg := gates.NewRegistry()
	reg.Register(barrier("g.x"))
	reg.Register(barrier("g.y"))
	exec := NewExecutor(reg, artifact.NewFileStore(t.TempDir()))
	orch := NewOrchestrator(exec)

	var progress []int
	var mu sync.Mutex
	rr, err := orch.Run(context.Background(), uuid.New(), "r.par", []models.GateStep{
		{GateID: "g.x", Parallel: true},
		{GateID: "g.y", Parallel: true},
	}, func(done int) {
		mu.Lock()
		progress = append(progress, done)
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPass, rr.Status)
	assert.Equal(t, 2, rr.Summary.Pass)
	assert.ElementsMatch(t, []int{1, 2}, progress)
	assert.Equal(t, "g.x", rr.Steps[0].ID)
}

func TestOrchestrator_StepErrorSkipsRest(t *testing.T) {
	reg := gates.NewRegistry()
	reg.Register(&gates.FuncCheck{
		Info: gates.Meta{ID: "g.err", Scope: models.ScopeSafe},
		RunFunc: func(context.Context, map[string]any, gates.RunContext) (*models.GateRunResult, error) {
			return nil, errors.New("unreachable host")
		},
	})
	reg.Register(verdictCheck("g.ok", models.JobStatusPass))
	orch := NewOrchestrator(NewExecutor(reg, artifact.NewFileStore(t.TempDir())))

	rr, err := orch.Run(context.Background(), uuid.New(), "r", []models.GateStep{
		{ID: "first", GateID: "g.err"},
		{ID: "second", GateID: "g.ok"},
	}, nil)

	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "g.err", se.GateID)
	assert.Equal(t, models.JobStatusFail, rr.Status)
	assert.Equal(t, models.JobStatusFail, rr.Steps[0].Status)
	assert.Equal(t, "gate g.err: unreachable host", rr.Steps[0].Error)
	assert.Equal(t, models.StepStatusSkipped, rr.Steps[1].Status)
}

func TestGroupSteps(t *testing.T) {
	steps := []models.GateStep{
		{GateID: "a"},
		{GateID: "b", Parallel: true},
		{GateID: "c", Parallel: true},
		{GateID: "d"},
		{GateID: "e", Parallel: true},
	}
	assert.Equal(t, [][]int{{0}, {1, 2}, {3}, {4}}, groupSteps(steps))
	assert.Nil(t, groupSteps(nil))
}

// finishlessStore never records a terminal status, like a database that
// went away while the job ran.
type finishlessStore struct {
	*MemoryJobStore
	calls atomic.Int32
}

func (s *finishlessStore) Finish(context.Context, uuid.UUID, models.JobStatus, string, time.Time) error {
	s.calls.Add(1)
	return errors.New("connection refused")
}

type recordingPublisher struct {
	mu    sync.Mutex
	types []string
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, ev.Type)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.types...)
}

func TestFinishFailure_RetriedThenSweptNotAnnounced(t *testing.T) {
	prev := finishBackoff
	finishBackoff = time.Millisecond
	t.Cleanup(func() { finishBackoff = prev })

	reg := gates.NewRegistry()
	reg.Register(verdictCheck("g.ok", models.JobStatusPass))
	st := &finishlessStore{MemoryJobStore: NewMemoryJobStore()}
	files := artifact.NewFileStore(t.TempDir())
	pub := &recordingPublisher{}
	r := New(reg, st, idempotency.NewMemoryCache(0), files, files,
		WithPublisher(pub), WithHeartbeat(20*time.Millisecond))
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })
	ctx := context.Background()

	sub, err := r.SubmitGate(ctx, "u1", gateReq("g.ok", "k1"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, err := st.Get(ctx, sub.Job.ID)
		return err == nil && job.Status == models.JobStatusError
	}, 2*time.Second, 10*time.Millisecond, "the stale sweep fails the job")

	job, err := st.Get(ctx, sub.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, ErrJobOrphaned.Error(), job.Error)
	assert.Equal(t, int32(finishAttempts), st.calls.Load())

	data, err := files.ReadLog(ctx, sub.Job.ID)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"event":"finish:fail"`)

	time.Sleep(50 * time.Millisecond)
	assert.NotContains(t, pub.seen(), events.JobFinished)

	again, err := r.SubmitGate(ctx, "u1", gateReq("g.ok", "k2"))
	require.NoError(t, err)
	assert.False(t, again.Deduplicated)
	assert.NotEqual(t, sub.Job.ID, again.Job.ID)
}

func TestHeartbeat_FailsOrphansKeepsLiveJobs(t *testing.T) {
	release := make(chan struct{})
	reg := gates.NewRegistry()
	reg.Register(blockingCheck("g.block", release))
	st := NewMemoryJobStore()
	ctx := context.Background()

	// Left running by a process that died an hour ago.
	orphan := &models.Job{
		ID: uuid.New(), OwnerID: "u1", TargetID: "g.block", Type: models.JobTypeGate,
		Status: models.JobStatusRunning, StartedAt: time.Now().Add(-time.Hour),
	}
	_, err := st.Create(ctx, orphan, 0)
	require.NoError(t, err)

	files := artifact.NewFileStore(t.TempDir())
	r := New(reg, st, idempotency.NewMemoryCache(0), files, files, WithHeartbeat(10*time.Millisecond))
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })

	require.Eventually(t, func() bool {
		job, err := st.Get(ctx, orphan.ID)
		return err == nil && job.Status == models.JobStatusError
	}, 2*time.Second, 5*time.Millisecond)

	sub, err := r.SubmitGate(ctx, "u1", gateReq("g.block", "k1"))
	require.NoError(t, err)
	assert.False(t, sub.Deduplicated, "the orphan no longer holds the target")

	time.Sleep(100 * time.Millisecond)
	live, err := st.Get(ctx, sub.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, live.Status, "heartbeats keep a live job running")

	close(release)
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	job, err := r.Wait(wctx, sub.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPass, job.Status)
}

func TestMemoryJobStore_HeartbeatAndFailStale(t *testing.T) {
	s := NewMemoryJobStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	quiet := &models.Job{ID: uuid.New(), OwnerID: "u1", TargetID: "a", Status: models.JobStatusRunning, StartedAt: base}
	beating := &models.Job{ID: uuid.New(), OwnerID: "u1", TargetID: "b", Status: models.JobStatusRunning, StartedAt: base}
	done := &models.Job{ID: uuid.New(), OwnerID: "u1", TargetID: "c", Status: models.JobStatusRunning, StartedAt: base}
	for _, j := range []*models.Job{quiet, beating, done} {
		_, err := s.Create(ctx, j, 0)
		require.NoError(t, err)
	}
	require.NoError(t, s.Finish(ctx, done.ID, models.JobStatusPass, "", base.Add(time.Second)))
	require.NoError(t, s.Heartbeat(ctx, []uuid.UUID{beating.ID, done.ID}, base.Add(time.Minute)))

	n, err := s.FailStale(ctx, base.Add(30*time.Second), "lost", base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, _ := s.Get(ctx, quiet.ID)
	assert.Equal(t, models.JobStatusError, got.Status)
	assert.Equal(t, "lost", got.Error)
	require.NotNil(t, got.FinishedAt)

	got, _ = s.Get(ctx, beating.ID)
	assert.Equal(t, models.JobStatusRunning, got.Status)
	got, _ = s.Get(ctx, done.ID)
	assert.Equal(t, models.JobStatusPass, got.Status)
}

func TestMemoryJobStore_FinishOnlyFromRunning(t *testing.T) {
	s := NewMemoryJobStore()
	ctx := context.Background()
	job := &models.Job{ID: uuid.New(), OwnerID: "u1", TargetID: "g", Status: models.JobStatusRunning, StartedAt: time.Now()}

	existing, err := s.Create(ctx, job, 5)
	require.NoError(t, err)
	assert.Nil(t, existing)

	require.NoError(t, s.Finish(ctx, job.ID, models.JobStatusPass, "", time.Now()))
	assert.ErrorIs(t, s.Finish(ctx, job.ID, models.JobStatusFail, "", time.Now()), ErrInvalidTransition)
	assert.ErrorIs(t, s.Finish(ctx, uuid.New(), models.JobStatusFail, "", time.Now()), ErrJobNotFound)

	other := &models.Job{ID: uuid.New(), OwnerID: "u1", TargetID: "g2", Status: models.JobStatusRunning, StartedAt: time.Now()}
	_, err = s.Create(ctx, other, 5)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Finish(ctx, other.ID, models.JobStatusRunning, "", time.Now()), ErrInvalidTransition)
}

func TestMemoryJobStore_ListByOwnerNewestFirst(t *testing.T) {
	s := NewMemoryJobStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := s.Create(ctx, &models.Job{
			ID: uuid.New(), OwnerID: "u1", TargetID: fmt.Sprintf("g%d", i),
			Status: models.JobStatusRunning, StartedAt: base.Add(time.Duration(i) * time.Minute),
		}, 0)
		require.NoError(t, err)
	}

	jobs, err := s.ListByOwner(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "g2", jobs[0].TargetID)
	assert.Equal(t, "g1", jobs[1].TargetID)

	none, err := s.ListByOwner(ctx, "u9", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
