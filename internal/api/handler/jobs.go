package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/api/response"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/jobs"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/store"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
	"github.com/google/uuid"
)

// Retrier re-runs a finished job as a new row.
type Retrier interface {
	Retry(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

var validStatuses = map[string]bool{
	models.JobStatusPending: true,
	models.JobStatusRunning: true,
	models.JobStatusDone:    true,
	models.JobStatusFailed:  true,
}

// NewListJobsHandler serves GET /api/v1/jobs.
func NewListJobsHandler(s store.JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var problems []string
		filter := store.JobFilter{
			Status: r.URL.Query().Get("status"),
			Type:   models.JobType(r.URL.Query().Get("job_type")),
		}
		if filter.Status != "" && !validStatuses[filter.Status] {
			problems = append(problems, "status must be one of PENDING, RUNNING, DONE, FAILED")
		}
		if filter.Type != "" && !knownType(filter.Type) {
			problems = append(problems, "unknown job_type")
		}
		var err error
		if filter.TenantID, err = queryUUID(r, "tenant_id"); err != nil {
			problems = append(problems, "tenant_id must be a uuid")
		}
		if filter.AOIID, err = queryUUID(r, "aoi_id"); err != nil {
			problems = append(problems, "aoi_id must be a uuid")
		}
		if filter.Page, err = queryInt(r, "page", 1); err != nil {
			problems = append(problems, "page must be an integer")
		}
		if filter.Limit, err = queryInt(r, "limit", 20); err != nil {
			problems = append(problems, "limit must be an integer")
		}
		if len(problems) > 0 {
			response.BadRequest(w, "Invalid job filter", problems)
			return
		}

		list, total, err := s.ListJobs(r.Context(), filter)
		if err != nil {
			slog.Error("listing jobs", "error", err)
			response.Internal(w)
			return
		}
		limit, offset := filter.Normalize()
		response.Collection(w, list, response.Page(offset/limit+1, limit, total))
	}
}

// NewGetJobHandler serves GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(s store.JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "jobID")
		if !ok {
			return
		}
		job, err := s.GetJob(r.Context(), id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			response.NotFound(w, "Job")
		case err != nil:
			slog.Error("loading job", "job_id", id, "error", err)
			response.Internal(w)
		default:
			response.JSON(w, job)
		}
	}
}

// NewRetryJobHandler serves POST /api/v1/jobs/{jobID}/retry.
func NewRetryJobHandler(rt Retrier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "jobID")
		if !ok {
			return
		}
		job, err := rt.Retry(r.Context(), id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			response.NotFound(w, "Job")
		case errors.Is(err, jobs.ErrNotRetryable):
			response.Error(w, http.StatusConflict, response.CodeConflict, err.Error(), nil)
		case err != nil:
			slog.Error("retrying job", "job_id", id, "error", err)
			response.Internal(w)
		default:
			response.Accepted(w, job)
		}
	}
}

func knownType(t models.JobType) bool {
	for _, known := range models.AllJobTypes {
		if t == known {
			return true
		}
	}
	return false
}
