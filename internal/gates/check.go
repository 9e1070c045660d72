// Package gates holds the static catalog of gate checks and recipes.
//
// Gates are compiled into the binary and looked up by id; nothing is loaded
// or evaluated at runtime. Recipes are declared in catalog.yaml and validated
// against the registered gates when the registry is built.
package gates

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/arka-squad/arka-labs-sub000/pkg/models"
	"github.com/google/uuid"
)

// Meta describes a gate for catalog listings and scope checks.
type Meta struct {
	ID            string   `json:"id"`
	Version       string   `json:"version"`
	Title         string   `json:"title"`
	Category      string   `json:"category"`
	Scope         string   `json:"scope"`
	Risk          string   `json:"risk"`
	EstDurationMS int      `json:"est_duration_ms"`
	Inputs        []string `json:"inputs"`
	Tags          []string `json:"tags"`
}

// RunContext is passed to every attempt of a check.
type RunContext struct {
	JobID   uuid.UUID
	TraceID string
	Attempt int
}

// Check is a single named gate.
type Check interface {
	Meta() Meta
	Validate(inputs map[string]any) error
	Run(ctx context.Context, inputs map[string]any, rc RunContext) (*models.GateRunResult, error)
}

// FuncCheck adapts plain functions to Check. A nil ValidateFunc accepts any input.
type FuncCheck struct {
	Info         Meta
	ValidateFunc func(inputs map[string]any) error
	RunFunc      func(ctx context.Context, inputs map[string]any, rc RunContext) (*models.GateRunResult, error)
}

func (f *FuncCheck) Meta() Meta { return f.Info }

func (f *FuncCheck) Validate(inputs map[string]any) error {
	if f.ValidateFunc == nil {
		return nil
	}
	return f.ValidateFunc(inputs)
}

func (f *FuncCheck) Run(ctx context.Context, inputs map[string]any, rc RunContext) (*models.GateRunResult, error) {
	return f.RunFunc(ctx, inputs, rc)
}

// Recipe is an ordered list of gate steps run as one job.
type Recipe struct {
	ID      string            `json:"id"      yaml:"id"`
	Version string            `json:"version" yaml:"version"`
	Title   string            `json:"title"   yaml:"title"`
	Scope   string            `json:"scope"   yaml:"scope"`
	Tags    []string          `json:"tags"    yaml:"tags"`
	Steps   []models.GateStep `json:"steps"   yaml:"steps"`
}

// Registry is the lookup table for gates and recipes. It is safe for
// concurrent reads once populated.
type Registry struct {
	mu      sync.RWMutex
	checks  map[string]Check
	recipes map[string]Recipe
}

func NewRegistry() *Registry {
	return &Registry{
		checks:  make(map[string]Check),
		recipes: make(map[string]Recipe),
	}
}

// Register adds a check. Registering the same id twice is a programming error.
func (r *Registry) Register(c Check) {
	id := c.Meta().ID
	if id == "" {
		panic("gates: check registered without id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.checks[id]; dup {
		panic(fmt.Sprintf("gates: duplicate check %q", id))
	}
	r.checks[id] = c
}

func (r *Registry) Lookup(id string) (Check, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.checks[id]
	return c, ok
}

// List returns the metadata of every registered gate, sorted by id.
func (r *Registry) List() []Meta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Meta, 0, len(r.checks))
	for _, c := range r.checks {
		out = append(out, c.Meta())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AddRecipe registers a recipe after checking that every step names a known gate.
func (r *Registry) AddRecipe(rec Recipe) error {
	if rec.ID == "" {
		return fmt.Errorf("recipe without id")
	}
	if len(rec.Steps) == 0 {
		return fmt.Errorf("recipe %s: no steps", rec.ID)
	}
	if rec.Scope == "" {
		rec.Scope = models.ScopeSafe
	}
	if rec.Scope != models.ScopeSafe && rec.Scope != models.ScopeOwnerOnly {
		return fmt.Errorf("recipe %s: unknown scope %q", rec.ID, rec.Scope)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range rec.Steps {
		if _, ok := r.checks[s.GateID]; !ok {
			return fmt.Errorf("recipe %s: step %d references unknown gate %q", rec.ID, i, s.GateID)
		}
		if s.ID == "" {
			rec.Steps[i].ID = s.GateID
		}
	}
	if _, dup := r.recipes[rec.ID]; dup {
		return fmt.Errorf("recipe %s: duplicate id", rec.ID)
	}
	r.recipes[rec.ID] = rec
	return nil
}

func (r *Registry) Recipe(id string) (Recipe, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.recipes[id]
	return rec, ok
}

// Recipes returns every recipe, sorted by id.
func (r *Registry) Recipes() []Recipe {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Recipe, 0, len(r.recipes))
	for _, rec := range r.recipes {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// HasScope reports whether role may run something declared with scope.
func HasScope(role, scope string) bool {
	switch scope {
	case models.ScopeOwnerOnly:
		return role == models.RoleOwner
	case models.ScopeSafe:
		return role == models.RoleEditor || role == models.RoleAdmin || role == models.RoleOwner
	}
	return false
}
