package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/bin2nlp/bin2nlp/pkg/apperr"
	"github.com/bin2nlp/bin2nlp/pkg/log"
	"github.com/bin2nlp/bin2nlp/pkg/models"
)

// PostgresStore implements Store on top of pgx for the transactional,
// lock-sensitive paths (dequeue, rate limiting) and sqlx for simpler
// struct-scanned reads (spec §10.2 domain stack).
type PostgresStore struct {
	pool *pgxpool.Pool
	sqlx *sqlx.DB
}

// NewPostgresStore opens a pgxpool against dsn and wraps a parallel sqlx
// handle over the same pgx/v5/stdlib driver for convenience scans.
func NewPostgresStore(ctx context.Context, dsn string, maxConns int) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse dsn: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: connect: %w", err)
	}

	sdb, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: sqlx connect: %w", err)
	}

	return &PostgresStore{pool: pool, sqlx: sdb}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
	_ = s.sqlx.Close()
}

// ---- Jobs ----

func (s *PostgresStore) InsertJob(ctx context.Context, j *models.Job) error {
	cfg, err := json.Marshal(j.Config)
	if err != nil {
		return fmt.Errorf("storage: marshal config: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (
			id, status, priority, file_hash, filename, file_reference,
			analysis_config, submitted_by, correlation_id,
			progress_percentage, current_stage, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,0,'queued',$10,$10)`,
		j.ID, j.Status, j.Priority, j.FileHash, j.Filename, j.FileReference,
		cfg, j.SubmittedBy, j.CorrelationID, j.CreatedAt)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "insert job", err)
	}
	return nil
}

const jobColumns = `id, status, priority, file_hash, filename, file_reference,
	analysis_config, result_reference, error_message, error_kind,
	progress_percentage, current_stage, worker_id, created_at, started_at,
	updated_at, completed_at, submitted_by, correlation_id,
	processing_time_seconds, retry_count, tokens_in, tokens_out, estimated_cost_usd`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	var cfg []byte
	var processingTime *float64
	if err := row.Scan(
		&j.ID, &j.Status, &j.Priority, &j.FileHash, &j.Filename, &j.FileReference,
		&cfg, &j.ResultReference, &j.ErrorMessage, &j.ErrorKind,
		&j.ProgressPercentage, &j.CurrentStage, &j.WorkerID, &j.CreatedAt, &j.StartedAt,
		&j.UpdatedAt, &j.CompletedAt, &j.SubmittedBy, &j.CorrelationID,
		&processingTime, &j.RetryCount, &j.TokensIn, &j.TokensOut, &j.EstimatedCostUSD,
	); err != nil {
		return nil, err
	}
	j.ProcessingTimeSeconds = processingTime
	if err := json.Unmarshal(cfg, &j.Config); err != nil {
		return nil, fmt.Errorf("storage: unmarshal config: %w", err)
	}
	return &j, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "job not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "get job", err)
	}
	return j, nil
}

func (s *PostgresStore) GetJobByFileHashAndConfig(ctx context.Context, fileHash, cacheKey string) (*models.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM jobs j
		JOIN cache_entries c ON c.cache_key = $2
		WHERE j.file_hash = $1 AND j.status = 'completed'
		ORDER BY j.created_at DESC LIMIT 1`, fileHash, cacheKey)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "lookup cached job", err)
	}
	return j, nil
}

// DequeueNextJob selects the highest-priority, oldest pending job using
// FOR UPDATE SKIP LOCKED so concurrent workers never collide on the same
// row (spec §4.7).
func (s *PostgresStore) DequeueNextJob(ctx context.Context, workerID string) (*models.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "begin dequeue tx", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT id FROM jobs
		WHERE status = 'pending'
		ORDER BY
			CASE priority
				WHEN 'urgent' THEN 0
				WHEN 'high' THEN 1
				WHEN 'normal' THEN 2
				WHEN 'low' THEN 3
				ELSE 2
			END,
			created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1`)
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.KindInternal, "select pending job", err)
	}

	now := time.Now().UTC()
	row = tx.QueryRow(ctx, `
		UPDATE jobs SET status = 'in_progress', worker_id = $2, started_at = $3, updated_at = $3
		WHERE id = $1
		RETURNING `+jobColumns, id, workerID, now)
	j, err := scanJob(row)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "claim job", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "commit dequeue tx", err)
	}
	return j, nil
}

func (s *PostgresStore) UpdateJobProgress(ctx context.Context, id string, percent int, stage string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET progress_percentage = $2, current_stage = $3, updated_at = now()
		WHERE id = $1 AND status = 'in_progress'`, id, percent, stage)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "update progress", err)
	}
	return nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, id, resultReference string, tokensIn, tokensOut int64, costUSD float64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
			status = 'completed',
			result_reference = $2,
			progress_percentage = 100,
			current_stage = 'completed',
			worker_id = NULL,
			completed_at = now(),
			updated_at = now(),
			processing_time_seconds = EXTRACT(EPOCH FROM (now() - started_at)),
			tokens_in = $3,
			tokens_out = $4,
			estimated_cost_usd = $5
		WHERE id = $1`, id, resultReference, tokensIn, tokensOut, costUSD)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "complete job", err)
	}
	return nil
}

func (s *PostgresStore) FailJob(ctx context.Context, id, kind, message string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
			status = 'failed',
			error_kind = $2,
			error_message = $3,
			worker_id = NULL,
			completed_at = now(),
			updated_at = now(),
			processing_time_seconds = EXTRACT(EPOCH FROM (now() - started_at))
		WHERE id = $1 AND status NOT IN ('completed','failed','cancelled')`, id, kind, message)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "fail job", err)
	}
	return nil
}

// CancelJob transitions a pending job straight to cancelled, or flags an
// in-progress job's cancellation bit for the worker to observe at its next
// checkpoint (spec §4.7).
func (s *PostgresStore) CancelJob(ctx context.Context, id string) (bool, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, false, apperr.Wrap(apperr.KindInternal, "begin cancel tx", err)
	}
	defer tx.Rollback(ctx)

	var status models.JobStatus
	if err := tx.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, id).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, false, apperr.New(apperr.KindNotFound, "job not found")
		}
		return false, false, apperr.Wrap(apperr.KindInternal, "lookup job for cancel", err)
	}

	switch status {
	case models.JobStatusPending:
		if _, err := tx.Exec(ctx, `UPDATE jobs SET status='cancelled', completed_at=now(), updated_at=now() WHERE id=$1`, id); err != nil {
			return false, false, apperr.Wrap(apperr.KindInternal, "cancel pending job", err)
		}
		return true, false, tx.Commit(ctx)
	case models.JobStatusInProgress:
		if _, err := tx.Exec(ctx, `UPDATE jobs SET cancel_requested = true, updated_at = now() WHERE id=$1`, id); err != nil {
			return false, false, apperr.Wrap(apperr.KindInternal, "flag cancellation", err)
		}
		return true, true, tx.Commit(ctx)
	default:
		return false, false, apperr.New(apperr.KindConflict, "job already terminal")
	}
}

func (s *PostgresStore) IsCancelled(ctx context.Context, id string) (bool, error) {
	var cancelled bool
	err := s.pool.QueryRow(ctx, `SELECT cancel_requested FROM jobs WHERE id = $1`, id).Scan(&cancelled)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, apperr.New(apperr.KindNotFound, "job not found")
	}
	if err != nil {
		return false, apperr.Wrap(apperr.KindInternal, "check cancellation", err)
	}
	return cancelled, nil
}

// ReclaimStaleJobs requeues in_progress jobs whose updated_at predates
// staleSince, incrementing their retry counter, or fails them outright
// once the retry cap is reached (spec §4.7, §5 crash safety).
func (s *PostgresStore) ReclaimStaleJobs(ctx context.Context, staleSince time.Time, maxRetries int) (int, int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, 0, apperr.Wrap(apperr.KindInternal, "begin reclaim tx", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, retry_count FROM jobs
		WHERE status = 'in_progress' AND updated_at < $1
		FOR UPDATE SKIP LOCKED`, staleSince)
	if err != nil {
		return 0, 0, apperr.Wrap(apperr.KindInternal, "select stale jobs", err)
	}
	type stale struct {
		id    string
		retry int
	}
	var staleJobs []stale
	for rows.Next() {
		var st stale
		if err := rows.Scan(&st.id, &st.retry); err != nil {
			rows.Close()
			return 0, 0, apperr.Wrap(apperr.KindInternal, "scan stale job", err)
		}
		staleJobs = append(staleJobs, st)
	}
	rows.Close()

	var requeued, failed int
	for _, st := range staleJobs {
		if st.retry+1 > maxRetries {
			if _, err := tx.Exec(ctx, `
				UPDATE jobs SET status='failed', error_kind='worker_lost',
					error_message='lease expired and retry cap reached',
					worker_id=NULL, completed_at=now(), updated_at=now()
				WHERE id=$1`, st.id); err != nil {
				return requeued, failed, apperr.Wrap(apperr.KindInternal, "fail stale job", err)
			}
			failed++
		} else {
			if _, err := tx.Exec(ctx, `
				UPDATE jobs SET status='pending', worker_id=NULL, retry_count=retry_count+1,
					cancel_requested=false, updated_at=now()
				WHERE id=$1`, st.id); err != nil {
				return requeued, failed, apperr.Wrap(apperr.KindInternal, "requeue stale job", err)
			}
			requeued++
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return requeued, failed, apperr.Wrap(apperr.KindInternal, "commit reclaim tx", err)
	}
	if requeued+failed > 0 {
		log.WithComponent("storage").Info().Int("requeued", requeued).Int("failed", failed).Msg("reclaimed stale job leases")
	}
	return requeued, failed, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, status models.JobStatus, limit int) ([]*models.Job, error) {
	var rows pgx.Rows
	var err error
	if status == "" {
		rows, err = s.pool.Query(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT $1`, limit)
	} else {
		rows, err = s.pool.Query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status=$1 ORDER BY created_at DESC LIMIT $2`, status, limit)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list jobs", err)
	}
	defer rows.Close()

	var out []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "scan job row", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// ---- Cache ----

func (s *PostgresStore) GetCacheEntry(ctx context.Context, cacheKey string, now time.Time) (*models.CacheEntry, error) {
	var e models.CacheEntry
	err := s.pool.QueryRow(ctx, `
		SELECT cache_key, file_path, expires_at, last_accessed, access_count, data_size_bytes
		FROM cache_entries WHERE cache_key = $1 AND expires_at > $2`, cacheKey, now).
		Scan(&e.CacheKey, &e.FilePath, &e.ExpiresAt, &e.LastAccessed, &e.AccessCount, &e.DataSizeBytes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "get cache entry", err)
	}
	return &e, nil
}

func (s *PostgresStore) PutCacheEntry(ctx context.Context, e *models.CacheEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cache_entries (cache_key, file_path, expires_at, last_accessed, access_count, data_size_bytes)
		VALUES ($1,$2,$3,$4,1,$5)
		ON CONFLICT (cache_key) DO UPDATE SET
			file_path = EXCLUDED.file_path,
			expires_at = EXCLUDED.expires_at,
			last_accessed = EXCLUDED.last_accessed,
			data_size_bytes = EXCLUDED.data_size_bytes`,
		e.CacheKey, e.FilePath, e.ExpiresAt, e.LastAccessed, e.DataSizeBytes)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "put cache entry", err)
	}
	return nil
}

func (s *PostgresStore) TouchCacheEntry(ctx context.Context, cacheKey string, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE cache_entries SET access_count = access_count + 1, last_accessed = $2
		WHERE cache_key = $1`, cacheKey, now)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "touch cache entry", err)
	}
	return nil
}

func (s *PostgresStore) GCCacheEntries(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM cache_entries WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindInternal, "gc cache entries", err)
	}
	return int(tag.RowsAffected()), nil
}

// ---- Rate limiting ----

// CheckAndConsume implements the two-step sliding-window check of spec
// §4.5 inside a single transaction: prune expired buckets for this scope
// and identifier, sum what remains, and upsert the current window only if
// admitted.
func (s *PostgresStore) CheckAndConsume(ctx context.Context, scope models.RateLimitScope, identifier string, windowSeconds, maxRequests int) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, apperr.Wrap(apperr.KindInternal, "begin rate limit tx", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	windowStart := now.Truncate(time.Duration(windowSeconds) * time.Second)
	staleBefore := now.Add(-time.Duration(windowSeconds) * time.Second)

	if _, err := tx.Exec(ctx, `
		DELETE FROM rate_limits WHERE scope=$1 AND identifier=$2 AND window_start < $3`,
		scope, identifier, staleBefore); err != nil {
		return false, apperr.Wrap(apperr.KindInternal, "prune rate limit buckets", err)
	}

	var sum int
	if err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(request_count),0) FROM rate_limits WHERE scope=$1 AND identifier=$2`,
		scope, identifier).Scan(&sum); err != nil {
		return false, apperr.Wrap(apperr.KindInternal, "sum rate limit buckets", err)
	}

	if sum >= maxRequests {
		return false, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO rate_limits (scope, identifier, window_start, request_count, window_size_seconds, max_requests)
		VALUES ($1,$2,$3,1,$4,$5)
		ON CONFLICT (scope, identifier, window_start) DO UPDATE SET request_count = rate_limits.request_count + 1`,
		scope, identifier, windowStart, windowSeconds, maxRequests); err != nil {
		return false, apperr.Wrap(apperr.KindInternal, "upsert rate limit bucket", err)
	}

	return true, tx.Commit(ctx)
}

func (s *PostgresStore) GCRateLimitBuckets(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rate_limits WHERE window_start < $1`, olderThan)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindInternal, "gc rate limit buckets", err)
	}
	return int(tag.RowsAffected()), nil
}

// ---- API keys ----

func (s *PostgresStore) CreateAPIKey(ctx context.Context, k *models.ApiKey) error {
	perms := make([]string, len(k.Permissions))
	for i, p := range k.Permissions {
		perms[i] = string(p)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO api_keys (key_id, key_hash, user_id, tier, permissions, status, expires_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		k.KeyID, k.KeyHash, k.UserID, k.Tier, perms, k.Status, k.ExpiresAt, k.CreatedAt)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "create api key", err)
	}
	return nil
}

type apiKeyRow struct {
	KeyID       string     `db:"key_id"`
	KeyHash     string     `db:"key_hash"`
	UserID      string     `db:"user_id"`
	Tier        string     `db:"tier"`
	Permissions []string   `db:"permissions"`
	Status      string     `db:"status"`
	ExpiresAt   *time.Time `db:"expires_at"`
	CreatedAt   time.Time  `db:"created_at"`
	LastUsedAt  *time.Time `db:"last_used_at"`
}

func (r apiKeyRow) toModel() *models.ApiKey {
	perms := make([]models.Permission, len(r.Permissions))
	for i, p := range r.Permissions {
		perms[i] = models.Permission(p)
	}
	return &models.ApiKey{
		KeyID: r.KeyID, KeyHash: r.KeyHash, UserID: r.UserID,
		Tier: models.Tier(r.Tier), Permissions: perms, Status: models.KeyStatus(r.Status),
		ExpiresAt: r.ExpiresAt, CreatedAt: r.CreatedAt, LastUsedAt: r.LastUsedAt,
	}
}

func (s *PostgresStore) GetAPIKeyByHash(ctx context.Context, keyHash string) (*models.ApiKey, error) {
	var r apiKeyRow
	err := s.sqlx.GetContext(ctx, &r, `SELECT key_id, key_hash, user_id, tier, permissions, status, expires_at, created_at, last_used_at
		FROM api_keys WHERE key_hash = $1`, keyHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || err.Error() == "sql: no rows in result set" {
			return nil, apperr.New(apperr.KindUnauthorized, "unknown api key")
		}
		return nil, apperr.Wrap(apperr.KindInternal, "get api key", err)
	}
	return r.toModel(), nil
}

func (s *PostgresStore) ListAPIKeysByUser(ctx context.Context, userID string) ([]*models.ApiKey, error) {
	var rows []apiKeyRow
	if err := s.sqlx.SelectContext(ctx, &rows, `SELECT key_id, key_hash, user_id, tier, permissions, status, expires_at, created_at, last_used_at
		FROM api_keys WHERE user_id = $1 ORDER BY created_at DESC`, userID); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list api keys", err)
	}
	out := make([]*models.ApiKey, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, userID, keyID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE api_keys SET status='revoked' WHERE user_id=$1 AND key_id=$2`, userID, keyID)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "revoke api key", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "api key not found")
	}
	return nil
}

func (s *PostgresStore) TouchAPIKeyLastUsed(ctx context.Context, keyID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE api_keys SET last_used_at = $2 WHERE key_id = $1`, keyID, at)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "touch api key", err)
	}
	return nil
}

func (s *PostgresStore) AnyAdminExists(ctx context.Context) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM api_keys WHERE 'admin' = ANY(permissions) AND status='active')`).Scan(&exists)
	if err != nil {
		return false, apperr.Wrap(apperr.KindInternal, "check admin exists", err)
	}
	return exists, nil
}

// ---- Worker heartbeats ----

func (s *PostgresStore) UpsertHeartbeat(ctx context.Context, h *models.WorkerHeartbeat) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO worker_heartbeats (worker_id, last_heartbeat, current_job_id)
		VALUES ($1,$2,$3)
		ON CONFLICT (worker_id) DO UPDATE SET last_heartbeat = EXCLUDED.last_heartbeat, current_job_id = EXCLUDED.current_job_id`,
		h.WorkerID, h.LastHeartbeat, h.CurrentJobID)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "upsert heartbeat", err)
	}
	return nil
}

func (s *PostgresStore) ListHeartbeats(ctx context.Context) ([]*models.WorkerHeartbeat, error) {
	rows, err := s.pool.Query(ctx, `SELECT worker_id, last_heartbeat, current_job_id FROM worker_heartbeats`)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list heartbeats", err)
	}
	defer rows.Close()
	var out []*models.WorkerHeartbeat
	for rows.Next() {
		var h models.WorkerHeartbeat
		if err := rows.Scan(&h.WorkerID, &h.LastHeartbeat, &h.CurrentJobID); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "scan heartbeat", err)
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteHeartbeat(ctx context.Context, workerID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM worker_heartbeats WHERE worker_id = $1`, workerID)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "delete heartbeat", err)
	}
	return nil
}

// ---- Alerts ----

func (s *PostgresStore) CreateAlert(ctx context.Context, a *models.Alert) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO alerts (id, rule, severity, status, message, value, threshold, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)`,
		a.ID, a.Rule, a.Severity, a.Status, a.Message, a.Value, a.Threshold, a.CreatedAt)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "create alert", err)
	}
	return nil
}

func (s *PostgresStore) ListAlerts(ctx context.Context, status models.AlertStatus) ([]*models.Alert, error) {
	var rows pgx.Rows
	var err error
	if status == "" {
		rows, err = s.pool.Query(ctx, `SELECT id, rule, severity, status, message, value, threshold, created_at, updated_at, resolved_at FROM alerts ORDER BY created_at DESC`)
	} else {
		rows, err = s.pool.Query(ctx, `SELECT id, rule, severity, status, message, value, threshold, created_at, updated_at, resolved_at FROM alerts WHERE status=$1 ORDER BY created_at DESC`, status)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list alerts", err)
	}
	defer rows.Close()
	var out []*models.Alert
	for rows.Next() {
		var a models.Alert
		if err := rows.Scan(&a.ID, &a.Rule, &a.Severity, &a.Status, &a.Message, &a.Value, &a.Threshold, &a.CreatedAt, &a.UpdatedAt, &a.ResolvedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "scan alert", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateAlertStatus(ctx context.Context, id string, status models.AlertStatus, at time.Time) error {
	var resolvedAt interface{}
	if status == models.AlertStatusResolved {
		resolvedAt = at
	}
	tag, err := s.pool.Exec(ctx, `UPDATE alerts SET status=$2, updated_at=$3, resolved_at=COALESCE($4, resolved_at) WHERE id=$1`,
		id, status, at, resolvedAt)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "update alert status", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "alert not found")
	}
	return nil
}

func (s *PostgresStore) CountJobsByStatus(ctx context.Context) (map[models.JobStatus]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "count jobs", err)
	}
	defer rows.Close()
	out := map[models.JobStatus]int64{}
	for rows.Next() {
		var status models.JobStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "scan job count", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}
