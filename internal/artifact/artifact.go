// Package artifact persists job audit logs and result documents.
package artifact

import (
	"context"
	"errors"
	"fmt"

	"github.com/arka-squad/arka-labs-sub000/pkg/models"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("artifact not found")

// LogSink receives audit log events. Append must be durable when it returns.
type LogSink interface {
	Append(ctx context.Context, jobID uuid.UUID, ev models.LogEvent) error
}

// LogReader returns the raw NDJSON log of a job.
type LogReader interface {
	ReadLog(ctx context.Context, jobID uuid.UUID) ([]byte, error)
}

// ResultStore persists the final result document of a job.
type ResultStore interface {
	WriteResult(ctx context.Context, res *models.JobResult) error
	ReadResult(ctx context.Context, jobID uuid.UUID) (*models.JobResult, error)
}

func logPath(jobID uuid.UUID) string {
	return fmt.Sprintf("logs/gates/%s.ndjson", jobID)
}

func resultPath(jobID uuid.UUID) string {
	return fmt.Sprintf("results/gates/%s.json", jobID)
}
