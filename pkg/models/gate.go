package models

// Gate scopes gate who may launch a gate or recipe.
const (
	ScopeSafe      = "safe"
	ScopeOwnerOnly = "owner-only"
)

// GateStep is one unit of work handed to the step executor.
type GateStep struct {
	ID        string         `json:"id,omitempty"        yaml:"id"`
	GateID    string         `json:"gate_id"             yaml:"gate_id"`
	Inputs    map[string]any `json:"inputs,omitempty"    yaml:"inputs"`
	Retry     int            `json:"retry,omitempty"     yaml:"retry"`
	TimeoutMS int            `json:"timeout_ms,omitempty" yaml:"timeout_ms"`
	Parallel  bool           `json:"parallel,omitempty"  yaml:"parallel"`
}

// GateRunResult is what a gate check produces.
type GateRunResult struct {
	GateID   string         `json:"gate_id"`
	Status   JobStatus      `json:"status"`
	Metrics  map[string]any `json:"metrics"`
	Evidence []any          `json:"evidence"`
	Message  string         `json:"message,omitempty"`
}

type RecipeSummary struct {
	Pass int `json:"pass"`
	Fail int `json:"fail"`
	Warn int `json:"warn"`
}

// StepStatusSkipped marks recipe steps never started because an earlier step failed.
const StepStatusSkipped JobStatus = "skipped"

type RecipeStepResult struct {
	ID         string         `json:"id"`
	Status     JobStatus      `json:"status"`
	GateResult *GateRunResult `json:"gate_result,omitempty"`
	Error      string         `json:"error,omitempty"`
}

type RecipeRunResult struct {
	RecipeID string             `json:"recipe_id"`
	Status   JobStatus          `json:"status"`
	Summary  RecipeSummary      `json:"summary"`
	Steps    []RecipeStepResult `json:"steps"`
}
