package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/api/response"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/insight"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/jobs"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/pipeline"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/store"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/isoweek"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
)

const defaultLookback = 12

// Enqueuer creates and publishes jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, p jobs.Params) (*models.Job, bool, error)
}

type backfillRequest struct {
	Weeks          int    `json:"weeks"`
	EndYear        *int   `json:"end_year"`
	EndWeek        *int   `json:"end_week"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (b backfillRequest) validate() (*isoweek.Week, []string) {
	var problems []string
	if b.Weeks < 1 || b.Weeks > jobs.MaxBackfillWeeks {
		problems = append(problems, fmt.Sprintf("weeks must be between 1 and %d", jobs.MaxBackfillWeeks))
	}
	if (b.EndYear == nil) != (b.EndWeek == nil) {
		problems = append(problems, "end_year and end_week must be given together")
		return nil, problems
	}
	if b.EndYear == nil {
		return nil, problems
	}
	w, err := isoweek.New(*b.EndYear, *b.EndWeek)
	if err != nil {
		problems = append(problems, err.Error())
		return nil, problems
	}
	return &w, problems
}

// NewBackfillHandler serves POST /api/v1/aois/{aoiID}/backfill.
func NewBackfillHandler(aois store.AOIStore, enq Enqueuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "aoiID")
		if !ok {
			return
		}
		var req backfillRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "Request body must be valid JSON", nil)
			return
		}
		end, problems := req.validate()
		if len(problems) > 0 {
			response.BadRequest(w, "Invalid backfill request", problems)
			return
		}

		aoi, err := aois.GetAOI(r.Context(), id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			response.NotFound(w, "AOI")
			return
		case err != nil:
			slog.Error("loading aoi", "aoi_id", id, "error", err)
			response.Internal(w)
			return
		}

		job, created, err := enq.Enqueue(r.Context(), pipeline.BackfillParams(pipeline.BackfillRequest{
			TenantID:       aoi.TenantID,
			AOIID:          aoi.ID,
			Weeks:          req.Weeks,
			End:            end,
			IdempotencyKey: req.IdempotencyKey,
		}))
		if err != nil && job == nil {
			slog.Error("enqueueing backfill", "aoi_id", id, "error", err)
			response.Internal(w)
			return
		}
		if err != nil {
			// The row is PENDING; the next identical request republishes it.
			slog.Warn("backfill not published", "job_id", job.ID, "error", err)
		}
		if created {
			response.Accepted(w, job)
			return
		}
		response.JSON(w, job)
	}
}

// NewSignalsHandler serves GET /api/v1/aois/{aoiID}/signals.
func NewSignalsHandler(s store.SignalStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "aoiID")
		if !ok {
			return
		}
		filter := store.SignalFilter{
			AOIID:      id,
			SignalType: r.URL.Query().Get("type"),
			Status:     r.URL.Query().Get("status"),
		}
		var problems []string
		var err error
		if filter.From, err = queryWeek(r, "from"); err != nil {
			problems = append(problems, "from: "+err.Error())
		}
		if filter.To, err = queryWeek(r, "to"); err != nil {
			problems = append(problems, "to: "+err.Error())
		}
		if len(problems) > 0 {
			response.BadRequest(w, "Invalid signal filter", problems)
			return
		}
		list, err := s.ListSignals(r.Context(), filter)
		if err != nil {
			slog.Error("listing signals", "aoi_id", id, "error", err)
			response.Internal(w)
			return
		}
		if list == nil {
			list = []*models.OpportunitySignal{}
		}
		response.JSON(w, list)
	}
}

// NewAlertsHandler serves GET /api/v1/aois/{aoiID}/alerts.
func NewAlertsHandler(s store.SignalStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "aoiID")
		if !ok {
			return
		}
		statuses := queryList(r, "status")
		for _, st := range statuses {
			if st != models.AlertStatusOpen && st != models.AlertStatusAck && st != models.AlertStatusResolved {
				response.BadRequest(w, "Invalid alert filter", []string{"unknown status " + st})
				return
			}
		}
		list, err := s.ListAlerts(r.Context(), id, statuses...)
		if err != nil {
			slog.Error("listing alerts", "aoi_id", id, "error", err)
			response.Internal(w)
			return
		}
		if list == nil {
			list = []*models.Alert{}
		}
		response.JSON(w, list)
	}
}

// NewInsightsHandler serves GET /api/v1/aois/{aoiID}/insights.
func NewInsightsHandler(engine *insight.Engine, now func() time.Time) http.HandlerFunc {
	if now == nil {
		now = time.Now
	}
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(w, r, "aoiID")
		if !ok {
			return
		}
		end, err := queryWeek(r, "end")
		if err != nil {
			response.BadRequest(w, "Invalid insight request", []string{"end: " + err.Error()})
			return
		}
		if end == nil {
			e := insight.DefaultEnd(now())
			end = &e
		}
		lookback, err := queryInt(r, "lookback", defaultLookback)
		if err != nil || lookback < 1 || lookback > insight.MaxLookback {
			response.BadRequest(w, "Invalid insight request",
				[]string{fmt.Sprintf("lookback must be between 1 and %d", insight.MaxLookback)})
			return
		}
		list, err := engine.Generate(r.Context(), id, *end, lookback)
		if err != nil {
			slog.Error("generating insights", "aoi_id", id, "error", err)
			response.Internal(w)
			return
		}
		if list == nil {
			list = []models.Insight{}
		}
		response.JSON(w, map[string]any{
			"aoi_id":   id,
			"end":      end.String(),
			"lookback": lookback,
			"insights": list,
		})
	}
}
