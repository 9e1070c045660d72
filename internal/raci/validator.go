// Package raci checks RACI invariants on project document assignments.
package raci

import (
	"fmt"
	"slices"
	"strings"

	"github.com/arka-squad/arka-labs-sub000/pkg/models"
)

// Result is the outcome of an invariant check.
type Result struct {
	IsValid    bool     `json:"is_valid"`
	Violations []string `json:"violations"`
}

type entry struct {
	a      models.RACIAssignment
	stored bool
}

// Validate merges proposed into existing and checks, per document:
// exactly one Accountable, at least one Responsible, and no agent holding
// both A and R. A proposed assignment replaces at most one stored entry of
// the same document and agent; everything else is appended.
func Validate(existing, proposed []models.RACIAssignment) Result {
	var order []string
	byDoc := map[string][]entry{}
	add := func(doc string, e entry) {
		if _, ok := byDoc[doc]; !ok {
			order = append(order, doc)
		}
		byDoc[doc] = append(byDoc[doc], e)
	}

	for _, a := range existing {
		add(a.DocumentID, entry{a: a, stored: true})
	}
	for _, a := range proposed {
		entries := byDoc[a.DocumentID]
		i := slices.IndexFunc(entries, func(e entry) bool { return e.stored && e.a.AgentID == a.AgentID })
		if i >= 0 {
			entries[i] = entry{a: a}
			continue
		}
		add(a.DocumentID, entry{a: a})
	}

	violations := []string{}
	for _, doc := range order {
		violations = append(violations, checkDocument(doc, byDoc[doc])...)
	}
	return Result{IsValid: len(violations) == 0, Violations: violations}
}

func checkDocument(doc string, entries []entry) []string {
	var (
		out         []string
		accountable []string
		responsible int
		agents      []string
		roles       = map[string][]models.RACIRole{}
	)
	for _, e := range entries {
		switch e.a.Role {
		case models.RACIAccountable:
			accountable = append(accountable, e.a.AgentID)
		case models.RACIResponsible:
			responsible++
		}
		if _, ok := roles[e.a.AgentID]; !ok {
			agents = append(agents, e.a.AgentID)
		}
		roles[e.a.AgentID] = append(roles[e.a.AgentID], e.a.Role)
	}

	switch {
	case len(accountable) == 0:
		out = append(out, fmt.Sprintf("Document '%s' has no Accountable (A) role assigned", doc))
	case len(accountable) > 1:
		out = append(out, fmt.Sprintf("Document '%s' has multiple Accountable (A) roles: %s", doc, strings.Join(accountable, ", ")))
	}
	if responsible == 0 {
		out = append(out, fmt.Sprintf("Document '%s' has no Responsible (R) role assigned", doc))
	}
	for _, agent := range agents {
		r := roles[agent]
		if slices.Contains(r, models.RACIAccountable) && slices.Contains(r, models.RACIResponsible) {
			out = append(out, fmt.Sprintf("Agent '%s' cannot have both Accountable (A) and Responsible (R) roles on document '%s'", agent, doc))
		}
	}
	return out
}

// ValidateSingle checks the shape of one assignment.
func ValidateSingle(a models.RACIAssignment) []string {
	var out []string
	if strings.TrimSpace(a.DocumentID) == "" {
		out = append(out, "Document ID is required")
	}
	if strings.TrimSpace(a.AgentID) == "" {
		out = append(out, "Agent ID is required")
	}
	switch a.Role {
	case models.RACIAccountable, models.RACIResponsible, models.RACIConsulted, models.RACIInformed:
	default:
		out = append(out, fmt.Sprintf("Invalid RACI role '%s'. Must be A, R, C, or I", a.Role))
	}
	return out
}
