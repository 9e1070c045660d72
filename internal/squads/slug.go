package squads

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

const maxSlugAttempts = 10

var (
	slugStrip  = regexp.MustCompile(`[^a-z0-9\s-]`)
	slugSpaces = regexp.MustCompile(`\s+`)
	slugDashes = regexp.MustCompile(`-+`)
)

// GenerateSlug derives a URL-safe slug from a squad name.
func GenerateSlug(name string) string {
	s := strings.ToLower(name)
	s = slugStrip.ReplaceAllString(s, "")
	s = slugSpaces.ReplaceAllString(s, "-")
	s = slugDashes.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// EnsureUniqueSlug returns base, or base-1, base-2... whichever is free first.
func (s *Service) EnsureUniqueSlug(ctx context.Context, base string) (string, error) {
	slug := base
	for attempt := 1; attempt <= maxSlugAttempts; attempt++ {
		taken, err := s.repo.SlugExists(ctx, slug)
		if err != nil {
			return "", fmt.Errorf("checking slug %q: %w", slug, err)
		}
		if !taken {
			return slug, nil
		}
		slug = fmt.Sprintf("%s-%d", base, attempt)
	}
	return "", ErrSlugExhausted
}
