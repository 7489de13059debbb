package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/jobs"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/isoweek"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
	"github.com/google/uuid"
)

const dateLayout = "2006-01-02"

// BackfillRequest is the caller-facing form of a BACKFILL job.
type BackfillRequest struct {
	TenantID uuid.UUID
	AOIID    uuid.UUID
	Weeks    int
	// End defaults to the last complete week when the job runs.
	End *isoweek.Week
	// IdempotencyKey is derived from the other fields when empty.
	IdempotencyKey string
}

// BackfillParams builds the job parameters for r. The job row is keyed by
// the batch key so resubmitting an identical request is a no-op.
func BackfillParams(r BackfillRequest) jobs.Params {
	aoi := r.AOIID
	payload := map[string]any{"weeks": r.Weeks}
	if r.End != nil {
		payload["end_year"] = r.End.Year
		payload["end_week"] = r.End.Week
	}
	key := r.IdempotencyKey
	if key != "" {
		payload["idempotency_key"] = key
	} else if r.End != nil {
		key = BatchKey(r.AOIID, r.Weeks, *r.End)
	}
	p := jobs.Params{
		TenantID: r.TenantID,
		AOIID:    &aoi,
		Type:     models.JobTypeBackfill,
		Payload:  payload,
	}
	if key != "" {
		p.IdempotencyKey = "backfill:" + key
	}
	return p
}

// BatchKey derives the batch idempotency key of a request without one.
func BatchKey(aoiID uuid.UUID, weeks int, end isoweek.Week) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("backfill|%s|%d|%s", aoiID, weeks, end)))
	return hex.EncodeToString(sum[:16])
}

// Backfill creates, oldest week first, one PROCESS_WEEK and one
// PROCESS_RADAR_WEEK job per week, then one PROCESS_WEATHER job over the
// whole range and one WARM_CACHE job. A batch key seen before returns the
// stored batch and only republishes its still pending jobs.
func (p *Pipeline) Backfill(ctx context.Context, req jobs.Request) (jobs.Outcome, error) {
	if _, err := p.loadAOI(ctx, req.AOIID); err != nil {
		return jobs.Outcome{}, err
	}

	n, _ := req.Int("weeks")
	end := isoweek.Of(p.now()).Prev()
	if y, ok := req.Int("end_year"); ok {
		w, _ := req.Int("end_week")
		end = isoweek.Week{Year: y, Week: w}
	}
	weeks := isoweek.LastN(end, n)

	key, ok := req.String("idempotency_key")
	if !ok {
		key = BatchKey(req.AOIID, n, end)
	}

	children := p.backfillJobs(req, key, weeks)
	batch := &models.BackfillBatch{IdempotencyKey: key, TenantID: req.TenantID, AOIID: req.AOIID}
	created, err := p.Store.CreateBackfillBatch(ctx, batch, children)
	if err != nil {
		return jobs.Outcome{}, fmt.Errorf("creating backfill batch: %w", err)
	}

	if !created {
		children = children[:0]
		for _, id := range batch.JobIDs {
			job, err := p.Store.GetJob(ctx, id)
			if err != nil {
				return jobs.Outcome{}, fmt.Errorf("loading batch job %s: %w", id, err)
			}
			children = append(children, job)
		}
		p.log(req).Info("backfill batch already exists", "batch", key, "jobs", len(batch.JobIDs))
	}
	if err := p.Enqueuer.PublishAll(ctx, children); err != nil {
		return jobs.Outcome{}, err
	}

	ids := make([]string, len(batch.JobIDs))
	for i, id := range batch.JobIDs {
		ids[i] = id.String()
	}
	return jobs.Done(map[string]any{
		"batch":   key,
		"reused":  !created,
		"from":    weeks[0].String(),
		"to":      end.String(),
		"job_ids": ids,
	}), nil
}

func (p *Pipeline) backfillJobs(req jobs.Request, key string, weeks []isoweek.Week) []*models.Job {
	aoi := req.AOIID
	child := func(jobType models.JobType, suffix string, payload map[string]any) *models.Job {
		payload["backfill"] = key
		return jobs.NewJob(jobs.Params{
			TenantID:       req.TenantID,
			AOIID:          &aoi,
			Type:           jobType,
			Payload:        payload,
			IdempotencyKey: fmt.Sprintf("%s:%s:%s", key, jobType, suffix),
		})
	}

	out := make([]*models.Job, 0, 2*len(weeks)+2)
	for _, w := range weeks {
		for _, t := range []models.JobType{models.JobTypeProcessWeek, models.JobTypeProcessRadarWeek} {
			out = append(out, child(t, w.String(), map[string]any{"year": w.Year, "week": w.Week}))
		}
	}
	start := weeks[0].Start().Format(dateLayout)
	stop := weeks[len(weeks)-1].End().Format(dateLayout)
	out = append(out,
		child(models.JobTypeProcessWeather, start+"/"+stop, map[string]any{"start_date": start, "end_date": stop}),
		child(models.JobTypeWarmCache, "tiles", map[string]any{}),
	)
	return out
}
