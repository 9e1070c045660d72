package runner

import (
	"context"
	"sync"

	"github.com/arka-squad/arka-labs-sub000/pkg/models"
	"github.com/google/uuid"
)

// ProgressFunc is called with the number of completed steps.
type ProgressFunc func(done int)

// Orchestrator runs recipe steps in order. Adjacent parallel steps run as one group.
type Orchestrator struct {
	exec *Executor
}

func NewOrchestrator(exec *Executor) *Orchestrator {
	return &Orchestrator{exec: exec}
}

// Run executes steps and aggregates their results. The returned error is the
// first step error in declared order, if any.
func (o *Orchestrator) Run(ctx context.Context, jobID uuid.UUID, recipeID string, steps []models.GateStep, progress ProgressFunc) (models.RecipeRunResult, error) {
	out := models.RecipeRunResult{
		RecipeID: recipeID,
		Steps:    make([]models.RecipeStepResult, len(steps)),
	}
	for i, s := range steps {
		out.Steps[i] = models.RecipeStepResult{ID: stepID(s), Status: models.StepStatusSkipped}
	}

	var (
		mu       sync.Mutex
		done     int
		firstErr error
	)
	complete := func() {
		mu.Lock()
		done++
		n := done
		mu.Unlock()
		if progress != nil {
			progress(n)
		}
	}

	for _, group := range groupSteps(steps) {
		if ctx.Err() != nil {
			break
		}
		errs := make([]error, len(group))
		if len(group) == 1 {
			errs[0] = o.runStep(ctx, jobID, steps, group[0], &out)
			complete()
		} else {
			var wg sync.WaitGroup
			for gi, idx := range group {
				wg.Add(1)
				go func(gi, idx int) {
					defer wg.Done()
					errs[gi] = o.runStep(ctx, jobID, steps, idx, &out)
					complete()
				}(gi, idx)
			}
			wg.Wait()
		}

		failed := false
		for gi, idx := range group {
			if errs[gi] != nil {
				failed = true
				if firstErr == nil {
					firstErr = errs[gi]
				}
			}
			if out.Steps[idx].Status == models.JobStatusFail {
				failed = true
			}
		}
		if failed {
			break
		}
	}

	for _, s := range out.Steps {
		switch s.Status {
		case models.JobStatusPass:
			out.Summary.Pass++
		case models.JobStatusWarn:
			out.Summary.Warn++
		case models.JobStatusFail, models.JobStatusError:
			out.Summary.Fail++
		}
	}
	switch {
	case out.Summary.Fail > 0:
		out.Status = models.JobStatusFail
	case out.Summary.Warn > 0:
		out.Status = models.JobStatusWarn
	default:
		out.Status = models.JobStatusPass
	}
	return out, firstErr
}

// runStep writes only out.Steps[idx], so parallel members never share a slot.
func (o *Orchestrator) runStep(ctx context.Context, jobID uuid.UUID, steps []models.GateStep, idx int, out *models.RecipeRunResult) error {
	res, err := o.exec.Execute(ctx, jobID, steps[idx])
	sr := &out.Steps[idx]
	if err != nil {
		sr.Status = models.JobStatusFail
		if isInternal(err) {
			sr.Status = models.JobStatusError
		}
		sr.Error = err.Error()
		return err
	}
	sr.Status = res.Status
	sr.GateResult = res
	return nil
}

// groupSteps splits steps into execution groups: each maximal run of
// adjacent parallel steps is one group, every other step is its own group.
func groupSteps(steps []models.GateStep) [][]int {
	var groups [][]int
	for i := 0; i < len(steps); {
		if !steps[i].Parallel {
			groups = append(groups, []int{i})
			i++
			continue
		}
		var g []int
		for i < len(steps) && steps[i].Parallel {
			g = append(g, i)
			i++
		}
		groups = append(groups, g)
	}
	return groups
}

func stepID(s models.GateStep) string {
	if s.ID != "" {
		return s.ID
	}
	return s.GateID
}
