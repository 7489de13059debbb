package jobs

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/internal/queue"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/isoweek"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
	"github.com/google/uuid"
)

// ErrValidation marks a payload that can never be processed.
var ErrValidation = errors.New("invalid job payload")

// MaxBackfillWeeks bounds one backfill request.
const MaxBackfillWeeks = 104

const dateLayout = "2006-01-02"

// ValidationError lists every problem found in one payload.
type ValidationError struct {
	JobType  models.JobType
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s payload: %s", e.JobType, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Request is a validated job message handed to a handler.
type Request struct {
	Job      *models.Job
	TenantID uuid.UUID
	// AOIID is uuid.Nil for tenant-wide jobs.
	AOIID uuid.UUID
	// Week is the zero Week for jobs that are not week-scoped.
	Week   isoweek.Week
	Fields map[string]any
}

func (r Request) Int(key string) (int, bool) {
	return intField(r.Fields, key)
}

func (r Request) String(key string) (string, bool) {
	s, ok := r.Fields[key].(string)
	return s, ok && s != ""
}

func (r Request) Date(key string) (time.Time, bool) {
	s, ok := r.String(key)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(dateLayout, s)
	return t, err == nil
}

type requirement struct {
	aoi  bool
	week bool
}

var requirements = map[models.JobType]requirement{
	models.JobTypeBackfill:         {aoi: true},
	models.JobTypeProcessWeek:      {aoi: true, week: true},
	models.JobTypeProcessWeather:   {aoi: true},
	models.JobTypeProcessRadarWeek: {aoi: true, week: true},
	models.JobTypeCalculateStats:   {aoi: true, week: true},
	models.JobTypeSignalsWeek:      {aoi: true, week: true},
	models.JobTypeAlertsWeek:       {aoi: true, week: true},
	models.JobTypeForecastWeek:     {aoi: true, week: true},
	models.JobTypeCreateMosaic:     {week: true},
	models.JobTypeDetectHarvest:    {aoi: true, week: true},
	models.JobTypeWarmCache:        {aoi: true},
}

// Validate checks the keys msg must carry for its job type and returns the
// parsed request. Any error it returns wraps ErrValidation.
func Validate(msg queue.Message) (Request, error) {
	req := Request{Fields: msg.Fields}
	verr := &ValidationError{JobType: msg.JobType}

	rule, known := requirements[msg.JobType]
	if !known {
		verr.Problems = append(verr.Problems, fmt.Sprintf("unknown job_type %q", msg.JobType))
		return req, verr
	}

	if id, err := uuidField(msg.Fields, "tenant_id"); err != nil {
		verr.Problems = append(verr.Problems, err.Error())
	} else {
		req.TenantID = id
	}

	if rule.aoi {
		if id, err := uuidField(msg.Fields, "aoi_id"); err != nil {
			verr.Problems = append(verr.Problems, err.Error())
		} else {
			req.AOIID = id
		}
	}

	if rule.week {
		if w, err := weekFields(msg.Fields, "year", "week"); err != nil {
			verr.Problems = append(verr.Problems, err.Error())
		} else {
			req.Week = w
		}
	}

	switch msg.JobType {
	case models.JobTypeBackfill:
		verr.Problems = append(verr.Problems, checkBackfill(msg.Fields)...)
	case models.JobTypeProcessWeather:
		verr.Problems = append(verr.Problems, checkDateRange(msg.Fields)...)
	case models.JobTypeWarmCache:
		verr.Problems = append(verr.Problems, checkZoom(msg.Fields)...)
	}

	if len(verr.Problems) > 0 {
		return req, verr
	}
	return req, nil
}

func checkBackfill(fields map[string]any) []string {
	var problems []string
	n, ok := intField(fields, "weeks")
	switch {
	case !ok:
		problems = append(problems, "weeks is required")
	case n < 1 || n > MaxBackfillWeeks:
		problems = append(problems, fmt.Sprintf("weeks must be between 1 and %d", MaxBackfillWeeks))
	}
	_, hasYear := fields["end_year"]
	_, hasWeek := fields["end_week"]
	if hasYear || hasWeek {
		if _, err := weekFields(fields, "end_year", "end_week"); err != nil {
			problems = append(problems, err.Error())
		}
	}
	return problems
}

func checkDateRange(fields map[string]any) []string {
	var problems []string
	start, err := dateField(fields, "start_date")
	if err != nil {
		problems = append(problems, err.Error())
	}
	end, err := dateField(fields, "end_date")
	if err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) == 0 && end.Before(start) {
		problems = append(problems, "end_date is before start_date")
	}
	return problems
}

func checkZoom(fields map[string]any) []string {
	minZ, hasMin := intField(fields, "min_zoom")
	maxZ, hasMax := intField(fields, "max_zoom")
	if hasMin && hasMax && minZ > maxZ {
		return []string{"min_zoom is above max_zoom"}
	}
	if (hasMin && (minZ < 0 || minZ > 22)) || (hasMax && (maxZ < 0 || maxZ > 22)) {
		return []string{"zoom must be between 0 and 22"}
	}
	return nil
}

func uuidField(fields map[string]any, key string) (uuid.UUID, error) {
	raw, ok := fields[key].(string)
	if !ok || raw == "" {
		return uuid.Nil, fmt.Errorf("%s is required", key)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s is not a uuid", key)
	}
	return id, nil
}

func weekFields(fields map[string]any, yearKey, weekKey string) (isoweek.Week, error) {
	year, ok := intField(fields, yearKey)
	if !ok {
		return isoweek.Week{}, fmt.Errorf("%s is required", yearKey)
	}
	week, ok := intField(fields, weekKey)
	if !ok {
		return isoweek.Week{}, fmt.Errorf("%s is required", weekKey)
	}
	return isoweek.New(year, week)
}

func dateField(fields map[string]any, key string) (time.Time, error) {
	raw, ok := fields[key].(string)
	if !ok || raw == "" {
		return time.Time{}, fmt.Errorf("%s is required", key)
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be YYYY-MM-DD", key)
	}
	return t, nil
}

// intField accepts JSON numbers, Go ints and numeric strings.
func intField(fields map[string]any, key string) (int, bool) {
	switch v := fields[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	default:
		return 0, false
	}
}
