package squads

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/arka-squad/arka-labs-sub000/internal/events"
	"github.com/arka-squad/arka-labs-sub000/internal/metrics"
	"github.com/arka-squad/arka-labs-sub000/pkg/models"
	"github.com/google/uuid"
)

const (
	ProviderClaude = "claude"
	ProviderGPT    = "gpt"
	ProviderGemini = "gemini"

	estimatedCompletion = 2 * time.Hour
)

var providerReasoning = map[string]string{
	ProviderClaude: "Task requires structured analysis and detailed reasoning",
	ProviderGPT:    "Fast processing needed for urgent or straightforward task",
	ProviderGemini: "Creative or content generation task detected",
}

type CreateInstructionInput struct {
	ProjectID int64  `json:"project_id"`
	Content   string `json:"content"`
	Priority  string `json:"priority"`
	CreatedBy string `json:"-"`
}

// QueuedInstruction is a created instruction with its routing suggestion.
type QueuedInstruction struct {
	Instruction models.SquadInstruction
	Routing     models.InstructionRouting
}

func validPriority(p string) bool {
	switch p {
	case models.PriorityLow, models.PriorityNormal, models.PriorityHigh, models.PriorityUrgent:
		return true
	}
	return false
}

// SuggestProvider picks a provider from the priority and keywords of content.
func SuggestProvider(content, priority string) string {
	lower := strings.ToLower(content)
	switch {
	case priority == models.PriorityUrgent || strings.Contains(lower, "urgent") || strings.Contains(lower, "immediate"):
		return ProviderGPT
	case strings.Contains(lower, "analysis") || strings.Contains(lower, "complex") || strings.Contains(lower, "detailed"):
		return ProviderClaude
	case strings.Contains(lower, "creative") || strings.Contains(lower, "marketing") || strings.Contains(lower, "content"):
		return ProviderGemini
	}
	return ProviderClaude
}

// Route builds the routing suggestion for an instruction queued at now.
func Route(content, priority string, now time.Time) models.InstructionRouting {
	p := SuggestProvider(content, priority)
	return models.InstructionRouting{
		ProviderSuggested:   p,
		Reasoning:           providerReasoning[p],
		EstimatedCompletion: now.Add(estimatedCompletion),
	}
}

// CreateInstruction queues an instruction for an active squad on an active,
// attached project. Disabled projects return ErrProjectLocked.
func (s *Service) CreateInstruction(ctx context.Context, squadID uuid.UUID, in CreateInstructionInput) (*QueuedInstruction, error) {
	if in.Priority == "" {
		in.Priority = models.PriorityNormal
	}
	f := fieldErrors{}
	if n := utf8.RuneCountInString(strings.TrimSpace(in.Content)); n < 10 || n > 2000 {
		f["content"] = "must be between 10 and 2000 characters"
	}
	if !validPriority(in.Priority) {
		f["priority"] = "must be low, normal, high or urgent"
	}
	if in.ProjectID <= 0 {
		f["project_id"] = "must be a positive integer"
	}
	if err := f.err(); err != nil {
		return nil, err
	}

	// A disabled project is locked whatever the squad or attachment state.
	pr := s.state.ValidateProjectState(ctx, in.ProjectID)
	if pr.CurrentState == models.ProjectStatusDisabled {
		return nil, ErrProjectLocked
	}
	if r := s.state.ValidateSquadState(ctx, squadID); !r.Valid {
		return nil, squadStateErr(r)
	}
	if !pr.Valid {
		return nil, projectStateErr(pr)
	}
	if a := s.state.CheckSquadProjectAttachment(ctx, squadID, in.ProjectID); !a.Attached {
		if a.Status == "" && a.Error == "Check failed" {
			return nil, fmt.Errorf("squad attachment check: %s", a.Error)
		}
		return nil, ErrSquadNotAttached
	}

	now := s.now().UTC()
	instr := models.SquadInstruction{
		ID:        uuid.New(),
		SquadID:   squadID,
		ProjectID: in.ProjectID,
		Content:   strings.TrimSpace(in.Content),
		Priority:  in.Priority,
		Status:    models.InstructionStatusPending,
		CreatedBy: in.CreatedBy,
		CreatedAt: now,
	}
	if err := s.repo.CreateInstruction(ctx, &instr); err != nil {
		return nil, fmt.Errorf("creating instruction: %w", err)
	}

	routing := Route(instr.Content, instr.Priority, now)
	meta := map[string]any{
		"provider_suggested":   routing.ProviderSuggested,
		"estimated_completion": routing.EstimatedCompletion.Format(time.RFC3339),
	}
	if err := s.repo.MarkInstructionQueued(ctx, instr.ID, meta); err != nil {
		return nil, fmt.Errorf("queueing instruction: %w", err)
	}
	instr.Status = models.InstructionStatusQueued
	instr.Metadata = meta

	metrics.RecordInstructionQueued(ctx, routing.ProviderSuggested)
	events.PublishAsync(s.publisher, events.Event{
		Type:       events.InstructionQueued,
		OccurredAt: now,
		Data: map[string]any{
			"instruction_id":     instr.ID,
			"squad_id":           squadID,
			"project_id":         in.ProjectID,
			"priority":           instr.Priority,
			"provider_suggested": routing.ProviderSuggested,
		},
	})
	slog.Info("squad_instruction_created",
		"instruction_id", instr.ID,
		"squad_id", squadID,
		"project_id", in.ProjectID,
		"priority", instr.Priority,
		"provider_suggested", routing.ProviderSuggested,
	)
	return &QueuedInstruction{Instruction: instr, Routing: routing}, nil
}
