package raci

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/arka-squad/arka-labs-sub000/pkg/models"
)

const dbFailure = "Failed to validate RACI assignments due to database error"

var (
	ErrInvalidAssignment = errors.New("invalid RACI assignment")
	ErrInvariant         = errors.New("RACI invariant violated")
)

// ViolationError carries the messages behind ErrInvalidAssignment or ErrInvariant.
type ViolationError struct {
	Kind       error
	Violations []string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("%s: %d violation(s)", e.Kind, len(e.Violations))
}

func (e *ViolationError) Unwrap() error { return e.Kind }

// Repository stores project assignments. store.PostgresStore implements it.
type Repository interface {
	ListAssignments(ctx context.Context, projectID int64) ([]models.RACIAssignment, error)
	// UpsertAssignments writes all assignments in one transaction.
	UpsertAssignments(ctx context.Context, projectID int64, assignments []models.RACIAssignment) error
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// ValidateProject checks proposed against the project's stored assignments.
func (s *Service) ValidateProject(ctx context.Context, projectID int64, proposed []models.RACIAssignment) Result {
	existing, err := s.repo.ListAssignments(ctx, projectID)
	if err != nil {
		slog.Error("raci_validation_failed", "project_id", projectID, "error", err)
		return Result{Violations: []string{dbFailure}}
	}
	return Validate(existing, proposed)
}

// Assign validates proposed and writes it only when no violation is found.
func (s *Service) Assign(ctx context.Context, projectID int64, proposed []models.RACIAssignment) (Result, error) {
	var shape []string
	for _, a := range proposed {
		shape = append(shape, ValidateSingle(a)...)
	}
	if len(shape) > 0 {
		return Result{Violations: shape}, &ViolationError{Kind: ErrInvalidAssignment, Violations: shape}
	}

	existing, err := s.repo.ListAssignments(ctx, projectID)
	if err != nil {
		return Result{Violations: []string{dbFailure}}, fmt.Errorf("loading RACI assignments: %w", err)
	}
	res := Validate(existing, proposed)
	if !res.IsValid {
		return res, &ViolationError{Kind: ErrInvariant, Violations: res.Violations}
	}

	if err := s.repo.UpsertAssignments(ctx, projectID, proposed); err != nil {
		return Result{}, fmt.Errorf("saving RACI assignments: %w", err)
	}
	slog.Info("raci_assigned", "project_id", projectID, "count", len(proposed))
	return res, nil
}
