package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	mw "github.com/arka-squad/arka-labs-sub000/internal/api/middleware"
	"github.com/arka-squad/arka-labs-sub000/internal/api/response"
	"github.com/arka-squad/arka-labs-sub000/internal/artifact"
	"github.com/arka-squad/arka-labs-sub000/internal/metrics"
	"github.com/arka-squad/arka-labs-sub000/internal/runner"
	"github.com/arka-squad/arka-labs-sub000/pkg/models"
	"github.com/google/uuid"
)

// JobReader reads job handles and their result artifacts.
type JobReader interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)
	Result(ctx context.Context, id uuid.UUID) (*models.JobResult, error)
}

// JobLister lists an owner's jobs, newest first.
type JobLister interface {
	List(ctx context.Context, ownerID string, limit int) ([]models.Job, error)
}

// JobCanceler cancels a running job.
type JobCanceler interface {
	JobReader
	Cancel(ctx context.Context, id uuid.UUID) error
}

const (
	defaultJobListLimit = 20
	maxJobListLimit     = 100
)

var (
	streamPollInterval = 200 * time.Millisecond
	streamKeepalive    = 15 * time.Second
)

type jobView struct {
	*models.Job
	Result *models.JobResult `json:"result,omitempty"`
}

// ownedJob loads the job and hides jobs of other owners from non-admin callers.
func ownedJob(w http.ResponseWriter, r *http.Request, jr JobReader, id uuid.UUID) (*models.Job, bool) {
	p, ok := principal(w, r)
	if !ok {
		return nil, false
	}
	job, err := jr.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	if job.OwnerID != p.Subject && !slices.Contains(mw.AdminPlus, p.Role) {
		writeError(w, r, runner.ErrJobNotFound)
		return nil, false
	}
	return job, true
}

// NewListJobsHandler returns GET /api/v1/jobs?limit=. Callers only see their own jobs.
func NewListJobsHandler(jl JobLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := principal(w, r)
		if !ok {
			return
		}
		limit := defaultJobListLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > maxJobListLimit {
				response.Error(w, http.StatusBadRequest, "INVALID_LIMIT",
					fmt.Sprintf("limit must be between 1 and %d", maxJobListLimit), nil)
				return
			}
			limit = n
		}
		jobs, err := jl.List(r.Context(), p.Subject, limit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if jobs == nil {
			jobs = []models.Job{}
		}
		response.JSON(w, jobs)
	}
}

// NewGetJobHandler returns GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(jr JobReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "jobID", "INVALID_JOB_ID")
		if !ok {
			return
		}
		job, ok := ownedJob(w, r, jr, id)
		if !ok {
			return
		}

		view := jobView{Job: job}
		if job.Status.Terminal() {
			res, err := jr.Result(r.Context(), id)
			switch {
			case err == nil:
				view.Result = res
			case !errors.Is(err, artifact.ErrNotFound):
				slog.Error("job_result_read_failed", "job_id", id, "error", err)
			}
		}
		response.JSON(w, view)
	}
}

// NewCancelJobHandler returns POST /api/v1/jobs/{jobID}/cancel.
func NewCancelJobHandler(jc JobCanceler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "jobID", "INVALID_JOB_ID")
		if !ok {
			return
		}
		if _, ok := ownedJob(w, r, jc, id); !ok {
			return
		}
		if err := jc.Cancel(r.Context(), id); err != nil {
			writeError(w, r, err)
			return
		}
		response.Accepted(w, map[string]any{"job_id": id, "status": "canceling"})
	}
}

// NewJobLogsHandler returns GET /api/v1/jobs/{jobID}/logs as NDJSON.
func NewJobLogsHandler(jr JobReader, logs artifact.LogReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "jobID", "INVALID_JOB_ID")
		if !ok {
			return
		}
		if _, ok := ownedJob(w, r, jr, id); !ok {
			return
		}
		data, err := logs.ReadLog(r.Context(), id)
		if errors.Is(err, artifact.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "LOGS_NOT_FOUND", "No logs for this job", nil)
			return
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.NDJSON(w, data)
	}
}

// NewStreamHandler returns GET /api/v1/gates/stream?job_id=. It emits an
// open frame, every new log record, and a done frame once the job is terminal.
func NewStreamHandler(jr JobReader, logs artifact.LogReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.URL.Query().Get("job_id"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_INPUT", "job_id query parameter is required", nil)
			return
		}
		if _, ok := ownedJob(w, r, jr, id); !ok {
			return
		}

		rc := http.NewResponseController(w)
		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache, no-transform")
		h.Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		metrics.AddSSEConnection()
		defer metrics.RemoveSSEConnection()

		send := func(v any) error {
			b, err := json.Marshal(v)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
				return err
			}
			return rc.Flush()
		}
		if err := send(map[string]any{"t": "open", "job_id": id, "trace_id": mw.GetTraceID(r)}); err != nil {
			return
		}

		poll := time.NewTicker(streamPollInterval)
		defer poll.Stop()
		keepalive := time.NewTicker(streamKeepalive)
		defer keepalive.Stop()

		var offset int
		drain := func() error {
			data, err := logs.ReadLog(r.Context(), id)
			if err != nil && !errors.Is(err, artifact.ErrNotFound) {
				slog.Error("stream_log_read_failed", "job_id", id, "error", err)
			}
			lines, consumed := completeLines(data, offset)
			offset = consumed
			for _, line := range lines {
				if err := send(line); err != nil {
					return err
				}
			}
			return nil
		}

		for {
			select {
			case <-r.Context().Done():
				return
			case <-keepalive.C:
				if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
					return
				}
				if err := rc.Flush(); err != nil {
					return
				}
			case <-poll.C:
				if err := drain(); err != nil {
					return
				}

				status := "unknown"
				job, err := jr.Get(r.Context(), id)
				if err == nil {
					if !job.Status.Terminal() {
						continue
					}
					status = string(job.Status)
				}
				// Records appended between the read and the status check.
				if err := drain(); err != nil {
					return
				}
				send(map[string]any{"t": "done", "status": status})
				return
			}
		}
	}
}

// completeLines returns the newline-terminated JSON records of data after
// offset and the new offset. A trailing partial line is left for the next poll.
func completeLines(data []byte, offset int) ([]json.RawMessage, int) {
	if offset >= len(data) {
		return nil, offset
	}
	var out []json.RawMessage
	rest := data[offset:]
	for {
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSpace(rest[:i])
		offset += i + 1
		rest = rest[i+1:]
		if len(line) > 0 && json.Valid(line) {
			out = append(out, json.RawMessage(line))
		}
	}
	return out, offset
}
