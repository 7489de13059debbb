package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bomyoungkim-gmail/vivacampo-app-sub001/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Jobs ---

const jobColumns = `id, tenant_id, aoi_id, job_type, status, payload, error_message, idempotency_key, created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	var payload []byte
	if err := row.Scan(&j.ID, &j.TenantID, &j.AOIID, &j.Type, &j.Status, &payload,
		&j.ErrorMessage, &j.IdempotencyKey, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Payload = map[string]any{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &j.Payload); err != nil {
			return nil, fmt.Errorf("decode job payload: %w", err)
		}
	}
	return &j, nil
}

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func prepareJob(job *models.Job) ([]byte, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	if job.Payload == nil {
		job.Payload = map[string]any{}
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode job payload: %w", err)
	}
	return payload, nil
}

// insertJob inserts job unless its idempotency key exists, in which case
// job is replaced by the stored row.
func insertJob(ctx context.Context, db execer, job *models.Job) (bool, error) {
	payload, err := prepareJob(job)
	if err != nil {
		return false, err
	}
	tag, err := db.Exec(ctx,
		`INSERT INTO jobs (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (idempotency_key) DO NOTHING`,
		job.ID, job.TenantID, job.AOIID, job.Type, job.Status, payload,
		job.ErrorMessage, job.IdempotencyKey, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return false, ErrDuplicateKey
		}
		return false, fmt.Errorf("create job: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if job.IdempotencyKey == nil {
		return false, fmt.Errorf("create job: no row inserted for %s", job.ID)
	}
	existing, err := scanJob(db.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE idempotency_key = $1`, *job.IdempotencyKey))
	if err != nil {
		return false, fmt.Errorf("get job by idempotency key: %w", err)
	}
	*job = *existing
	return false, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) (bool, error) {
	return insertJob(ctx, s.pool, job)
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) GetJobByIdempotencyKey(ctx context.Context, key string) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE idempotency_key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job by idempotency key: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error {
	params := ApplyJobUpdateOptions(opts...)

	from := AllowedFrom(status)
	if len(from) == 0 {
		return fmt.Errorf("invalid target job status %q", status)
	}

	query := `UPDATE jobs SET status = $2, updated_at = $3`
	args := []any{id, status, time.Now().UTC()}
	argIdx := 4

	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	}
	if params.Result != nil {
		result, err := json.Marshal(map[string]any{"result": params.Result})
		if err != nil {
			return fmt.Errorf("encode job result: %w", err)
		}
		query += fmt.Sprintf(", payload = payload || $%d::jsonb", argIdx)
		args = append(args, result)
		argIdx++
	}

	query += fmt.Sprintf(" WHERE id = $1 AND status = ANY($%d)", argIdx)
	args = append(args, from)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check job: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStaleTransition
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error) {
	conditions := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	if filter.TenantID != nil {
		conditions = append(conditions, fmt.Sprintf("tenant_id = $%d", argIdx))
		args = append(args, *filter.TenantID)
		argIdx++
	}
	if filter.AOIID != nil {
		conditions = append(conditions, fmt.Sprintf("aoi_id = $%d", argIdx))
		args = append(args, *filter.AOIID)
		argIdx++
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}
	if filter.Type != "" {
		conditions = append(conditions, fmt.Sprintf("job_type = $%d", argIdx))
		args = append(args, filter.Type)
		argIdx++
	}
	if !filter.RunningBefore.IsZero() {
		conditions = append(conditions, fmt.Sprintf("status = 'RUNNING' AND updated_at < $%d", argIdx))
		args = append(args, filter.RunningBefore)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM jobs WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	limit, offset := filter.Normalize()
	dataQuery := fmt.Sprintf(
		`SELECT %s FROM jobs WHERE %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		jobColumns, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, total, rows.Err()
}

func (s *PostgresStore) CreateBackfillBatch(ctx context.Context, batch *models.BackfillBatch, jobs []*models.Job) (bool, error) {
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin backfill batch: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// The unique key serializes concurrent batches with the same key: the
	// loser blocks here until the winner commits, then inserts nothing.
	tag, err := tx.Exec(ctx,
		`INSERT INTO backfill_batches (idempotency_key, tenant_id, aoi_id, job_ids, created_at)
		 VALUES ($1, $2, $3, '[]'::jsonb, $4)
		 ON CONFLICT (idempotency_key) DO NOTHING`,
		batch.IdempotencyKey, batch.TenantID, batch.AOIID, batch.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("create backfill batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		_ = tx.Rollback(ctx)
		existing, err := s.GetBackfillBatch(ctx, batch.IdempotencyKey)
		if err != nil {
			return false, err
		}
		*batch = *existing
		return false, nil
	}

	ids := make([]uuid.UUID, 0, len(jobs))
	for _, job := range jobs {
		if _, err := insertJob(ctx, tx, job); err != nil {
			return false, err
		}
		ids = append(ids, job.ID)
	}

	encoded, err := json.Marshal(ids)
	if err != nil {
		return false, fmt.Errorf("encode batch job ids: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE backfill_batches SET job_ids = $2 WHERE idempotency_key = $1`,
		batch.IdempotencyKey, encoded); err != nil {
		return false, fmt.Errorf("record batch job ids: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit backfill batch: %w", err)
	}
	batch.JobIDs = ids
	return true, nil
}

func (s *PostgresStore) GetBackfillBatch(ctx context.Context, key string) (*models.BackfillBatch, error) {
	var b models.BackfillBatch
	var ids []byte
	err := s.pool.QueryRow(ctx,
		`SELECT idempotency_key, tenant_id, aoi_id, job_ids, created_at
		 FROM backfill_batches WHERE idempotency_key = $1`, key,
	).Scan(&b.IdempotencyKey, &b.TenantID, &b.AOIID, &ids, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get backfill batch: %w", err)
	}
	if err := json.Unmarshal(ids, &b.JobIDs); err != nil {
		return nil, fmt.Errorf("decode batch job ids: %w", err)
	}
	return &b, nil
}

// --- Operator Keys ---

const operatorKeyColumns = `id, name, key_hash, key_prefix, scopes, last_used_at, revoked_at, created_at`

func scanOperatorKey(row pgx.Row) (*models.OperatorKey, error) {
	var k models.OperatorKey
	if err := row.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
		&k.LastUsedAt, &k.RevokedAt, &k.CreatedAt); err != nil {
		return nil, err
	}
	return &k, nil
}

func (s *PostgresStore) GetOperatorKeysByPrefix(ctx context.Context, prefix string) ([]*models.OperatorKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+operatorKeyColumns+` FROM operator_keys WHERE key_prefix = $1 AND revoked_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get operator key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.OperatorKey
	for rows.Next() {
		k, err := scanOperatorKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan operator key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateOperatorKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE operator_keys SET last_used_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update operator key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateOperatorKey(ctx context.Context, key *models.OperatorKey) error {
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO operator_keys (id, name, key_hash, key_prefix, scopes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create operator key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListOperatorKeys(ctx context.Context) ([]*models.OperatorKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+operatorKeyColumns+` FROM operator_keys WHERE revoked_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list operator keys: %w", err)
	}
	defer rows.Close()

	keys := []*models.OperatorKey{}
	for rows.Next() {
		k, err := scanOperatorKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan operator key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) RevokeOperatorKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE operator_keys SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke operator key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
