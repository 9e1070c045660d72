package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func SquadDetailKey(squadID uuid.UUID) string {
	return fmt.Sprintf("squad:%s", squadID)
}

func JobStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s", jobID)
}

func IdempotencyKey(scopedKey string) string {
	return fmt.Sprintf("idem:%s", scopedKey)
}

func WebhookEventKey(eventID string) string {
	return fmt.Sprintf("webhook:event:%s", eventID)
}

func RateLimitKey(subject string) string {
	return fmt.Sprintf("ratelimit:%s", subject)
}
