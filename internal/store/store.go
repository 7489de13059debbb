package store

import (
	"context"
	"errors"
	"time"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/isoweek"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrStaleTransition means the job was no longer in a status the requested
// transition may start from, usually because another delivery finished it.
var ErrStaleTransition = errors.New("stale job status transition")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	JobStore
	AOIStore
	DerivedStore
	SignalStore
	MosaicStore
	OperatorKeyStore
}

type JobStore interface {
	// CreateJob inserts job. When job.IdempotencyKey matches an existing row
	// nothing is inserted, job is overwritten with that row and created is false.
	CreateJob(ctx context.Context, job *models.Job) (created bool, err error)
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	GetJobByIdempotencyKey(ctx context.Context, key string) (*models.Job, error)
	// UpdateJobStatus applies one conditional update. It returns
	// ErrStaleTransition when the current status does not allow the move.
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error)

	// CreateBackfillBatch atomically records batch and inserts jobs. When the
	// batch key already exists nothing is written, batch is overwritten with
	// the stored batch and created is false.
	CreateBackfillBatch(ctx context.Context, batch *models.BackfillBatch, jobs []*models.Job) (created bool, err error)
	GetBackfillBatch(ctx context.Context, key string) (*models.BackfillBatch, error)
}

type AOIStore interface {
	UpsertAOI(ctx context.Context, aoi *models.AOI) error
	GetAOI(ctx context.Context, id uuid.UUID) (*models.AOI, error)
	ListActiveAOIs(ctx context.Context) ([]*models.AOI, error)
	UpsertSeason(ctx context.Context, season *models.Season) error
	// GetSeason returns the season of aoiID whose date range contains on.
	GetSeason(ctx context.Context, aoiID uuid.UUID, on time.Time) (*models.Season, error)
}

type DerivedStore interface {
	UpsertDerivedAsset(ctx context.Context, asset *models.DerivedAsset) error
	GetDerivedAsset(ctx context.Context, aoiID uuid.UUID, week isoweek.Week) (*models.DerivedAsset, error)
	ListDerivedAssets(ctx context.Context, aoiID uuid.UUID, from, to isoweek.Week) ([]*models.DerivedAsset, error)

	UpsertDerivedRadarAsset(ctx context.Context, asset *models.DerivedRadarAsset) error
	GetDerivedRadarAsset(ctx context.Context, aoiID uuid.UUID, week isoweek.Week) (*models.DerivedRadarAsset, error)
	ListDerivedRadarAssets(ctx context.Context, aoiID uuid.UUID, from, to isoweek.Week) ([]*models.DerivedRadarAsset, error)

	UpsertWeatherDaily(ctx context.Context, rows []*models.DerivedWeatherDaily) error
	ListWeatherDaily(ctx context.Context, aoiID uuid.UUID, from, to time.Time) ([]*models.DerivedWeatherDaily, error)

	UpsertForecast(ctx context.Context, f *models.Forecast) error
	GetForecast(ctx context.Context, aoiID uuid.UUID, week isoweek.Week) (*models.Forecast, error)
}

type SignalStore interface {
	// UpsertSignal inserts or updates on (aoi_id, year, week, signal_type)
	// and sets ID and CreatedAt from the stored row.
	UpsertSignal(ctx context.Context, sig *models.OpportunitySignal) error
	ListSignals(ctx context.Context, filter SignalFilter) ([]*models.OpportunitySignal, error)
	// CreateAlertIfAbsent inserts alert unless an OPEN or ACK alert of the
	// same type already exists for the AOI.
	CreateAlertIfAbsent(ctx context.Context, alert *models.Alert) (created bool, err error)
	ListAlerts(ctx context.Context, aoiID uuid.UUID, statuses ...string) ([]*models.Alert, error)
}

type MosaicStore interface {
	UpsertMosaic(ctx context.Context, rec *models.MosaicRecord) error
	GetMosaic(ctx context.Context, tenantID uuid.UUID, collection string, week isoweek.Week) (*models.MosaicRecord, error)
}

type OperatorKeyStore interface {
	GetOperatorKeysByPrefix(ctx context.Context, prefix string) ([]*models.OperatorKey, error)
	UpdateOperatorKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateOperatorKey(ctx context.Context, key *models.OperatorKey) error
	ListOperatorKeys(ctx context.Context) ([]*models.OperatorKey, error)
	RevokeOperatorKey(ctx context.Context, id uuid.UUID) error
}

type JobFilter struct {
	TenantID *uuid.UUID
	AOIID    *uuid.UUID
	Status   string
	Type     models.JobType
	// RunningBefore selects RUNNING jobs last updated before this instant.
	RunningBefore time.Time
	Page          int
	Limit         int
}

// Normalize applies pagination defaults.
func (f JobFilter) Normalize() (limit, offset int) {
	limit = f.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	return limit, (page - 1) * limit
}

type SignalFilter struct {
	AOIID      uuid.UUID
	SignalType string
	Status     string
	From       *isoweek.Week
	To         *isoweek.Week
}

// allowedFrom lists the statuses each target status may be entered from.
// RUNNING -> RUNNING covers redelivery after a worker crash.
var allowedFrom = map[string][]string{
	models.JobStatusRunning: {models.JobStatusPending, models.JobStatusRunning},
	models.JobStatusDone:    {models.JobStatusRunning},
	models.JobStatusFailed:  {models.JobStatusPending, models.JobStatusRunning},
}

// AllowedFrom reports the statuses a job may move to status from.
func AllowedFrom(status string) []string {
	return allowedFrom[status]
}

// JobUpdate carries the optional fields of a status update.
type JobUpdate struct {
	ErrorMessage *string
	Result       map[string]any
}

type JobUpdateOption func(*JobUpdate)

func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *JobUpdate) {
		p.ErrorMessage = &msg
	}
}

// WithResult merges result into the job payload under the "result" key.
func WithResult(result map[string]any) JobUpdateOption {
	return func(p *JobUpdate) {
		p.Result = result
	}
}

// ApplyJobUpdateOptions folds opts into a JobUpdate.
func ApplyJobUpdateOptions(opts ...JobUpdateOption) JobUpdate {
	var u JobUpdate
	for _, opt := range opts {
		opt(&u)
	}
	return u
}
