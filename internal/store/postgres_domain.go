package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/isoweek"
	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// --- AOIs & Seasons ---

const aoiColumns = `id, tenant_id, name, geometry, min_lon, min_lat, max_lon, max_lat, active, created_at`

func scanAOI(row pgx.Row) (*models.AOI, error) {
	var a models.AOI
	var geometry []byte
	if err := row.Scan(&a.ID, &a.TenantID, &a.Name, &geometry,
		&a.BBox[0], &a.BBox[1], &a.BBox[2], &a.BBox[3], &a.Active, &a.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(geometry, &a.Geometry); err != nil {
		return nil, fmt.Errorf("decode aoi geometry: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) UpsertAOI(ctx context.Context, aoi *models.AOI) error {
	if aoi.ID == uuid.Nil {
		aoi.ID = uuid.New()
	}
	if aoi.CreatedAt.IsZero() {
		aoi.CreatedAt = time.Now().UTC()
	}
	geometry, err := json.Marshal(aoi.Geometry)
	if err != nil {
		return fmt.Errorf("encode aoi geometry: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO aois (`+aoiColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name, geometry = EXCLUDED.geometry,
		   min_lon = EXCLUDED.min_lon, min_lat = EXCLUDED.min_lat,
		   max_lon = EXCLUDED.max_lon, max_lat = EXCLUDED.max_lat,
		   active = EXCLUDED.active`,
		aoi.ID, aoi.TenantID, aoi.Name, geometry,
		aoi.BBox[0], aoi.BBox[1], aoi.BBox[2], aoi.BBox[3], aoi.Active, aoi.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert aoi: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAOI(ctx context.Context, id uuid.UUID) (*models.AOI, error) {
	a, err := scanAOI(s.pool.QueryRow(ctx, `SELECT `+aoiColumns+` FROM aois WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get aoi: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ListActiveAOIs(ctx context.Context) ([]*models.AOI, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+aoiColumns+` FROM aois WHERE active ORDER BY tenant_id, created_at`)
	if err != nil {
		return nil, fmt.Errorf("list active aois: %w", err)
	}
	defer rows.Close()

	aois := []*models.AOI{}
	for rows.Next() {
		a, err := scanAOI(rows)
		if err != nil {
			return nil, fmt.Errorf("scan aoi: %w", err)
		}
		aois = append(aois, a)
	}
	return aois, rows.Err()
}

func (s *PostgresStore) UpsertSeason(ctx context.Context, season *models.Season) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO seasons (aoi_id, crop, start_date, end_date, baseline_yield_tph, reference_ndvi_integral)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (aoi_id, start_date) DO UPDATE SET
		   crop = EXCLUDED.crop, end_date = EXCLUDED.end_date,
		   baseline_yield_tph = EXCLUDED.baseline_yield_tph,
		   reference_ndvi_integral = EXCLUDED.reference_ndvi_integral`,
		season.AOIID, season.Crop, season.StartDate, season.EndDate,
		season.BaselineYieldTPH, season.ReferenceNDVIIntegral)
	if err != nil {
		return fmt.Errorf("upsert season: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSeason(ctx context.Context, aoiID uuid.UUID, on time.Time) (*models.Season, error) {
	var se models.Season
	err := s.pool.QueryRow(ctx,
		`SELECT aoi_id, crop, start_date, end_date, baseline_yield_tph, reference_ndvi_integral
		 FROM seasons WHERE aoi_id = $1 AND start_date <= $2::date AND end_date >= $2::date
		 ORDER BY start_date DESC LIMIT 1`, aoiID, on.UTC(),
	).Scan(&se.AOIID, &se.Crop, &se.StartDate, &se.EndDate, &se.BaselineYieldTPH, &se.ReferenceNDVIIntegral)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get season: %w", err)
	}
	return &se, nil
}

// --- Derived assets ---

const derivedColumns = `tenant_id, aoi_id, year, week, scene_id, cloud_cover, ndvi_mean, ndre_mean, reci_mean, srre_mean, ndwi_mean, degraded, updated_at`

func scanDerived(row pgx.Row) (*models.DerivedAsset, error) {
	var d models.DerivedAsset
	if err := row.Scan(&d.TenantID, &d.AOIID, &d.Year, &d.Week, &d.SceneID, &d.CloudCover,
		&d.NDVIMean, &d.NDREMean, &d.RECIMean, &d.SRREMean, &d.NDWIMean, &d.Degraded, &d.UpdatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *PostgresStore) UpsertDerivedAsset(ctx context.Context, a *models.DerivedAsset) error {
	a.UpdatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO derived_assets (`+derivedColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (aoi_id, year, week) DO UPDATE SET
		   scene_id = EXCLUDED.scene_id, cloud_cover = EXCLUDED.cloud_cover,
		   ndvi_mean = EXCLUDED.ndvi_mean, ndre_mean = EXCLUDED.ndre_mean,
		   reci_mean = EXCLUDED.reci_mean, srre_mean = EXCLUDED.srre_mean,
		   ndwi_mean = EXCLUDED.ndwi_mean, degraded = EXCLUDED.degraded,
		   updated_at = EXCLUDED.updated_at`,
		a.TenantID, a.AOIID, a.Year, a.Week, a.SceneID, a.CloudCover,
		a.NDVIMean, a.NDREMean, a.RECIMean, a.SRREMean, a.NDWIMean, a.Degraded, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert derived asset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDerivedAsset(ctx context.Context, aoiID uuid.UUID, week isoweek.Week) (*models.DerivedAsset, error) {
	d, err := scanDerived(s.pool.QueryRow(ctx,
		`SELECT `+derivedColumns+` FROM derived_assets WHERE aoi_id = $1 AND year = $2 AND week = $3`,
		aoiID, week.Year, week.Week))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get derived asset: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) ListDerivedAssets(ctx context.Context, aoiID uuid.UUID, from, to isoweek.Week) ([]*models.DerivedAsset, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+derivedColumns+` FROM derived_assets
		 WHERE aoi_id = $1 AND (year, week) >= ($2, $3) AND (year, week) <= ($4, $5)
		 ORDER BY year, week`,
		aoiID, from.Year, from.Week, to.Year, to.Week)
	if err != nil {
		return nil, fmt.Errorf("list derived assets: %w", err)
	}
	defer rows.Close()

	out := []*models.DerivedAsset{}
	for rows.Next() {
		d, err := scanDerived(rows)
		if err != nil {
			return nil, fmt.Errorf("scan derived asset: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

const radarColumns = `tenant_id, aoi_id, year, week, scene_count, rvi_mean, vv_mean, vh_mean, degraded, updated_at`

func scanRadar(row pgx.Row) (*models.DerivedRadarAsset, error) {
	var r models.DerivedRadarAsset
	if err := row.Scan(&r.TenantID, &r.AOIID, &r.Year, &r.Week, &r.SceneCount,
		&r.RVIMean, &r.VVMean, &r.VHMean, &r.Degraded, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) UpsertDerivedRadarAsset(ctx context.Context, a *models.DerivedRadarAsset) error {
	a.UpdatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO derived_radar_assets (`+radarColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (aoi_id, year, week) DO UPDATE SET
		   scene_count = EXCLUDED.scene_count, rvi_mean = EXCLUDED.rvi_mean,
		   vv_mean = EXCLUDED.vv_mean, vh_mean = EXCLUDED.vh_mean,
		   degraded = EXCLUDED.degraded, updated_at = EXCLUDED.updated_at`,
		a.TenantID, a.AOIID, a.Year, a.Week, a.SceneCount,
		a.RVIMean, a.VVMean, a.VHMean, a.Degraded, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert derived radar asset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDerivedRadarAsset(ctx context.Context, aoiID uuid.UUID, week isoweek.Week) (*models.DerivedRadarAsset, error) {
	r, err := scanRadar(s.pool.QueryRow(ctx,
		`SELECT `+radarColumns+` FROM derived_radar_assets WHERE aoi_id = $1 AND year = $2 AND week = $3`,
		aoiID, week.Year, week.Week))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get derived radar asset: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListDerivedRadarAssets(ctx context.Context, aoiID uuid.UUID, from, to isoweek.Week) ([]*models.DerivedRadarAsset, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+radarColumns+` FROM derived_radar_assets
		 WHERE aoi_id = $1 AND (year, week) >= ($2, $3) AND (year, week) <= ($4, $5)
		 ORDER BY year, week`,
		aoiID, from.Year, from.Week, to.Year, to.Week)
	if err != nil {
		return nil, fmt.Errorf("list derived radar assets: %w", err)
	}
	defer rows.Close()

	out := []*models.DerivedRadarAsset{}
	for rows.Next() {
		r, err := scanRadar(rows)
		if err != nil {
			return nil, fmt.Errorf("scan derived radar asset: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const weatherColumns = `tenant_id, aoi_id, date, precipitation_mm, temp_min_c, temp_max_c, temp_mean_c, et0_mm, source, updated_at`

func (s *PostgresStore) UpsertWeatherDaily(ctx context.Context, rows []*models.DerivedWeatherDaily) error {
	if len(rows) == 0 {
		return nil
	}
	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, r := range rows {
		r.UpdatedAt = now
		batch.Queue(
			`INSERT INTO derived_weather_daily (`+weatherColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (aoi_id, date) DO UPDATE SET
			   precipitation_mm = EXCLUDED.precipitation_mm,
			   temp_min_c = EXCLUDED.temp_min_c, temp_max_c = EXCLUDED.temp_max_c,
			   temp_mean_c = EXCLUDED.temp_mean_c, et0_mm = EXCLUDED.et0_mm,
			   source = EXCLUDED.source, updated_at = EXCLUDED.updated_at`,
			r.TenantID, r.AOIID, r.Date, r.PrecipitationMM, r.TempMinC, r.TempMaxC,
			r.TempMeanC, r.ET0MM, r.Source, r.UpdatedAt)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert weather daily: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListWeatherDaily(ctx context.Context, aoiID uuid.UUID, from, to time.Time) ([]*models.DerivedWeatherDaily, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+weatherColumns+` FROM derived_weather_daily
		 WHERE aoi_id = $1 AND date >= $2::date AND date <= $3::date ORDER BY date`,
		aoiID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("list weather daily: %w", err)
	}
	defer rows.Close()

	out := []*models.DerivedWeatherDaily{}
	for rows.Next() {
		var w models.DerivedWeatherDaily
		if err := rows.Scan(&w.TenantID, &w.AOIID, &w.Date, &w.PrecipitationMM, &w.TempMinC,
			&w.TempMaxC, &w.TempMeanC, &w.ET0MM, &w.Source, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan weather daily: %w", err)
		}
		out = append(out, &w)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertForecast(ctx context.Context, f *models.Forecast) error {
	f.UpdatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO forecasts (tenant_id, aoi_id, year, week, crop, yield_tph, confidence, observations, model, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (aoi_id, year, week) DO UPDATE SET
		   crop = EXCLUDED.crop, yield_tph = EXCLUDED.yield_tph,
		   confidence = EXCLUDED.confidence, observations = EXCLUDED.observations,
		   model = EXCLUDED.model, updated_at = EXCLUDED.updated_at`,
		f.TenantID, f.AOIID, f.Year, f.Week, f.Crop, f.YieldTPH, f.Confidence,
		f.Observations, f.Model, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert forecast: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetForecast(ctx context.Context, aoiID uuid.UUID, week isoweek.Week) (*models.Forecast, error) {
	var f models.Forecast
	err := s.pool.QueryRow(ctx,
		`SELECT tenant_id, aoi_id, year, week, crop, yield_tph, confidence, observations, model, updated_at
		 FROM forecasts WHERE aoi_id = $1 AND year = $2 AND week = $3`,
		aoiID, week.Year, week.Week,
	).Scan(&f.TenantID, &f.AOIID, &f.Year, &f.Week, &f.Crop, &f.YieldTPH, &f.Confidence,
		&f.Observations, &f.Model, &f.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get forecast: %w", err)
	}
	return &f, nil
}

// --- Signals & Alerts ---

const signalColumns = `id, tenant_id, aoi_id, year, week, signal_type, severity, confidence, score, evidence, recommended_actions, status, created_at, updated_at`

func scanSignal(row pgx.Row) (*models.OpportunitySignal, error) {
	var sig models.OpportunitySignal
	var evidence []byte
	if err := row.Scan(&sig.ID, &sig.TenantID, &sig.AOIID, &sig.Year, &sig.Week, &sig.SignalType,
		&sig.Severity, &sig.Confidence, &sig.Score, &evidence, &sig.RecommendedActions,
		&sig.Status, &sig.CreatedAt, &sig.UpdatedAt); err != nil {
		return nil, err
	}
	sig.Evidence = map[string]any{}
	if len(evidence) > 0 {
		if err := json.Unmarshal(evidence, &sig.Evidence); err != nil {
			return nil, fmt.Errorf("decode signal evidence: %w", err)
		}
	}
	return &sig, nil
}

func (s *PostgresStore) UpsertSignal(ctx context.Context, sig *models.OpportunitySignal) error {
	if sig.ID == uuid.Nil {
		sig.ID = uuid.New()
	}
	if sig.Status == "" {
		sig.Status = models.SignalStatusActive
	}
	if sig.RecommendedActions == nil {
		sig.RecommendedActions = []string{}
	}
	evidence, err := json.Marshal(sig.Evidence)
	if err != nil {
		return fmt.Errorf("encode signal evidence: %w", err)
	}
	now := time.Now().UTC()

	// Re-running the producing job refreshes score and evidence but keeps
	// the row identity and any operator-set status.
	err = s.pool.QueryRow(ctx,
		`INSERT INTO opportunity_signals (`+signalColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
		 ON CONFLICT (aoi_id, year, week, signal_type) DO UPDATE SET
		   severity = EXCLUDED.severity, confidence = EXCLUDED.confidence,
		   score = EXCLUDED.score, evidence = EXCLUDED.evidence,
		   recommended_actions = EXCLUDED.recommended_actions,
		   updated_at = EXCLUDED.updated_at
		 RETURNING id, status, created_at, updated_at`,
		sig.ID, sig.TenantID, sig.AOIID, sig.Year, sig.Week, sig.SignalType, sig.Severity,
		sig.Confidence, sig.Score, evidence, sig.RecommendedActions, sig.Status, now,
	).Scan(&sig.ID, &sig.Status, &sig.CreatedAt, &sig.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert signal: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSignals(ctx context.Context, filter SignalFilter) ([]*models.OpportunitySignal, error) {
	conditions := []string{"aoi_id = $1"}
	args := []any{filter.AOIID}
	argIdx := 2

	if filter.SignalType != "" {
		conditions = append(conditions, fmt.Sprintf("signal_type = $%d", argIdx))
		args = append(args, filter.SignalType)
		argIdx++
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("(year, week) >= ($%d, $%d)", argIdx, argIdx+1))
		args = append(args, filter.From.Year, filter.From.Week)
		argIdx += 2
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("(year, week) <= ($%d, $%d)", argIdx, argIdx+1))
		args = append(args, filter.To.Year, filter.To.Week)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+signalColumns+` FROM opportunity_signals WHERE `+strings.Join(conditions, " AND ")+
			` ORDER BY year, week, signal_type`, args...)
	if err != nil {
		return nil, fmt.Errorf("list signals: %w", err)
	}
	defer rows.Close()

	out := []*models.OpportunitySignal{}
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateAlertIfAbsent(ctx context.Context, alert *models.Alert) (bool, error) {
	if alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}
	if alert.Status == "" {
		alert.Status = models.AlertStatusOpen
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO alerts (id, tenant_id, aoi_id, alert_type, severity, status, signal_id, message, year, week, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (aoi_id, alert_type) WHERE status IN ('OPEN', 'ACK') DO NOTHING`,
		alert.ID, alert.TenantID, alert.AOIID, alert.AlertType, alert.Severity, alert.Status,
		alert.SignalID, alert.Message, alert.Year, alert.Week, alert.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("create alert: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ListAlerts(ctx context.Context, aoiID uuid.UUID, statuses ...string) ([]*models.Alert, error) {
	query := `SELECT id, tenant_id, aoi_id, alert_type, severity, status, signal_id, message, year, week, created_at
		 FROM alerts WHERE aoi_id = $1`
	args := []any{aoiID}
	if len(statuses) > 0 {
		query += ` AND status = ANY($2)`
		args = append(args, statuses)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	out := []*models.Alert{}
	for rows.Next() {
		var a models.Alert
		if err := rows.Scan(&a.ID, &a.TenantID, &a.AOIID, &a.AlertType, &a.Severity, &a.Status,
			&a.SignalID, &a.Message, &a.Year, &a.Week, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// --- Mosaics ---

func (s *PostgresStore) UpsertMosaic(ctx context.Context, rec *models.MosaicRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO mosaics (tenant_id, collection, year, week, mosaic_id, object_key, item_count, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (tenant_id, collection, year, week) DO UPDATE SET
		   mosaic_id = EXCLUDED.mosaic_id, object_key = EXCLUDED.object_key,
		   item_count = EXCLUDED.item_count, updated_at = EXCLUDED.updated_at`,
		rec.TenantID, rec.Collection, rec.Year, rec.Week, rec.MosaicID, rec.ObjectKey,
		rec.ItemCount, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert mosaic: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMosaic(ctx context.Context, tenantID uuid.UUID, collection string, week isoweek.Week) (*models.MosaicRecord, error) {
	var m models.MosaicRecord
	err := s.pool.QueryRow(ctx,
		`SELECT tenant_id, collection, year, week, mosaic_id, object_key, item_count, updated_at
		 FROM mosaics WHERE tenant_id = $1 AND collection = $2 AND year = $3 AND week = $4`,
		tenantID, collection, week.Year, week.Week,
	).Scan(&m.TenantID, &m.Collection, &m.Year, &m.Week, &m.MosaicID, &m.ObjectKey, &m.ItemCount, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get mosaic: %w", err)
	}
	return &m, nil
}
