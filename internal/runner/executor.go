package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/arka-squad/arka-labs-sub000/internal/artifact"
	"github.com/arka-squad/arka-labs-sub000/internal/gates"
	"github.com/arka-squad/arka-labs-sub000/internal/metrics"
	"github.com/arka-squad/arka-labs-sub000/pkg/models"
	"github.com/google/uuid"
)

// Log event names written to the job audit log.
const (
	EventStart        = "start"
	EventDone         = "done"
	EventGateStart    = "gate:start"
	EventGateRetry    = "gate:retry"
	EventGatePass     = "gate:pass"
	EventGateFail     = "gate:fail"
	// EventFinishFailed follows done when the terminal status could not be stored.
	EventFinishFailed = "finish:fail"
)

type traceKey struct{}

func withTrace(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

func traceFrom(ctx context.Context) string {
	s, _ := ctx.Value(traceKey{}).(string)
	return s
}

// Executor runs a single gate step with retries and an optional per-attempt timeout.
type Executor struct {
	registry *gates.Registry
	logs     artifact.LogSink
	now      func() time.Time
}

func NewExecutor(registry *gates.Registry, logs artifact.LogSink) *Executor {
	return &Executor{registry: registry, logs: logs, now: time.Now}
}

// Execute runs step for jobID. A verdict of fail is returned as a result, not
// an error; errors mean the step could not produce a verdict.
func (e *Executor) Execute(ctx context.Context, jobID uuid.UUID, step models.GateStep) (*models.GateRunResult, error) {
	if err := e.log(ctx, jobID, EventGateStart, map[string]any{"gate_id": step.GateID}); err != nil {
		return nil, err
	}

	check, ok := e.registry.Lookup(step.GateID)
	if !ok {
		return nil, e.fail(ctx, jobID, step.GateID, 0, ErrUnknownGate)
	}
	if err := check.Validate(step.Inputs); err != nil {
		return nil, e.fail(ctx, jobID, step.GateID, 0, err)
	}

	attempts := step.Retry + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		rc := gates.RunContext{JobID: jobID, TraceID: traceFrom(ctx), Attempt: attempt}
		res, err := e.attempt(ctx, check, step, rc)
		if err == nil && res == nil {
			err = errors.New("check returned no result")
		}
		if err == nil {
			return e.verdict(ctx, jobID, step.GateID, res)
		}

		var pe *PanicError
		if errors.As(err, &pe) {
			metrics.RecordGateAttempt(ctx, step.GateID, "fail")
			_ = e.log(ctx, jobID, EventGateFail, map[string]any{"gate_id": step.GateID, "error": err.Error()})
			return nil, err
		}

		lastErr = err
		if attempt == attempts || ctx.Err() != nil {
			return nil, e.fail(ctx, jobID, step.GateID, attempt, lastErr)
		}
		metrics.RecordGateAttempt(ctx, step.GateID, "retry")
		slog.Info("gate_retry", "job_id", jobID, "gate_id", step.GateID, "attempt", attempt, "error", err)
		if err := e.log(ctx, jobID, EventGateRetry, map[string]any{
			"gate_id": step.GateID,
			"attempt": attempt,
			"error":   err.Error(),
		}); err != nil {
			return nil, err
		}
	}
	return nil, e.fail(ctx, jobID, step.GateID, attempts, lastErr)
}

func (e *Executor) verdict(ctx context.Context, jobID uuid.UUID, gateID string, res *models.GateRunResult) (*models.GateRunResult, error) {
	if res.GateID == "" {
		res.GateID = gateID
	}
	if res.Status == "" {
		res.Status = models.JobStatusPass
	}
	event := EventGatePass
	outcome := "pass"
	if res.Status == models.JobStatusFail {
		event, outcome = EventGateFail, "fail"
	}
	metrics.RecordGateAttempt(ctx, gateID, outcome)
	if err := e.log(ctx, jobID, event, map[string]any{"gate_id": gateID, "status": res.Status}); err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Executor) fail(ctx context.Context, jobID uuid.UUID, gateID string, attempts int, cause error) error {
	metrics.RecordGateAttempt(ctx, gateID, "fail")
	if err := e.log(ctx, jobID, EventGateFail, map[string]any{"gate_id": gateID, "error": cause.Error()}); err != nil {
		return err
	}
	return &StepError{GateID: gateID, Attempts: attempts, Err: cause}
}

type outcome struct {
	res *models.GateRunResult
	err error
}

// attempt runs the check in its own goroutine so a timeout or cancellation
// returns promptly. The goroutine's context is canceled but it is not stopped.
func (e *Executor) attempt(ctx context.Context, check gates.Check, step models.GateStep, rc gates.RunContext) (*models.GateRunResult, error) {
	actx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if v := recover(); v != nil {
				done <- outcome{err: &PanicError{GateID: step.GateID, Value: v}}
			}
		}()
		res, err := check.Run(actx, step.Inputs, rc)
		done <- outcome{res: res, err: err}
	}()

	var timeout <-chan time.Time
	if step.TimeoutMS > 0 {
		timer := time.NewTimer(time.Duration(step.TimeoutMS) * time.Millisecond)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case o := <-done:
		return o.res, o.err
	case <-timeout:
		return nil, fmt.Errorf("%w after %dms", ErrStepTimeout, step.TimeoutMS)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Executor) log(ctx context.Context, jobID uuid.UUID, event string, fields map[string]any) error {
	// Log writes must outlive a canceled job context.
	wctx := context.WithoutCancel(ctx)
	if err := e.logs.Append(wctx, jobID, models.LogEvent{TS: e.now(), Event: event, Fields: fields}); err != nil {
		slog.Error("job_log_append_failed", "job_id", jobID, "event", event, "error", err)
		return &PersistError{Err: err}
	}
	return nil
}
