package runner

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownGate       = errors.New("unknown gate")
	ErrUnknownRecipe     = errors.New("unknown recipe")
	ErrNoSteps           = errors.New("no steps to run")
	ErrInvalidStep       = errors.New("invalid step")
	ErrForbiddenScope    = errors.New("role not allowed for scope")
	ErrConcurrencyLimit  = errors.New("concurrency-limit")
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrJobNotRunning     = errors.New("job is not running")
	ErrStepTimeout       = errors.New("step timed out")
	ErrShuttingDown      = errors.New("runner is shutting down")
	ErrJobOrphaned       = errors.New("job stopped reporting before it finished")
)

// StepError is returned when a step exhausted its attempts or failed validation.
type StepError struct {
	GateID   string
	Attempts int
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("gate %s: %v", e.GateID, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// PanicError wraps a panic raised inside a check.
type PanicError struct {
	GateID string
	Value  any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("gate %s panicked: %v", e.GateID, e.Value)
}

// PersistError wraps a failure to write the audit log.
type PersistError struct {
	Err error
}

func (e *PersistError) Error() string { return "persisting job log: " + e.Err.Error() }
func (e *PersistError) Unwrap() error { return e.Err }

// isInternal reports whether err should end the job as error rather than fail.
func isInternal(err error) bool {
	var pe *PanicError
	var we *PersistError
	return errors.As(err, &pe) || errors.As(err, &we)
}
