package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cronicorn/cronicorn/internal/domain"
	"github.com/cronicorn/cronicorn/internal/governor"
	"github.com/cronicorn/cronicorn/internal/repository"
	"github.com/cronicorn/cronicorn/internal/secrets"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// JobsRepository is the SQL-backed implementation of repository.JobsRepo.
// Its claim query is adapted from the teacher's JobRepository.Claim
// (internal/infrastructure/postgres/job_repo.go), swapping the teacher's
// `status = 'pending'` claim for the spec's due-time + pause + lock
// predicate (spec.md §4.2 step 1), and its firing/advance transaction is
// adapted from ScheduleRepository.ClaimAndFire.
type JobsRepository struct {
	pool   *pgxpool.Pool
	box    *secrets.Box
}

func NewJobsRepository(pool *pgxpool.Pool, box *secrets.Box) *JobsRepository {
	return &JobsRepository{pool: pool, box: box}
}

func (r *JobsRepository) CreateJob(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	query := `
		INSERT INTO jobs (user_id, name, description, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, user_id, name, description, status, created_at, updated_at`

	row := r.pool.QueryRow(ctx, query, job.UserID, job.Name, job.Description, job.Status)
	return scanJob(row)
}

func (r *JobsRepository) GetJob(ctx context.Context, id, userID string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, name, description, status, created_at, updated_at
		FROM jobs WHERE id = $1 AND user_id = $2`, id, userID)
	return scanJob(row)
}

func (r *JobsRepository) GetJobByID(ctx context.Context, id string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, name, description, status, created_at, updated_at
		FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

func (r *JobsRepository) ListJobs(ctx context.Context, input repository.ListJobsInput) ([]*domain.Job, error) {
	args := []any{input.UserID}
	where := []string{"user_id = $1"}
	if input.Status != "" {
		args = append(args, input.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := fmt.Sprintf(`
		SELECT id, user_id, name, description, status, created_at, updated_at
		FROM jobs WHERE %s ORDER BY created_at DESC, id DESC`, strings.Join(where, " AND "))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *JobsRepository) UpdateJob(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE jobs SET name = $2, description = $3, status = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING id, user_id, name, description, status, created_at, updated_at`,
		job.ID, job.Name, job.Description, job.Status)
	return scanJob(row)
}

// ArchiveJob sets the job to archived; ON DELETE CASCADE on endpoints'
// foreign key handles the cascade to endpoints (and transitively to runs
// and sessions) described in spec.md §3.
func (r *JobsRepository) ArchiveJob(ctx context.Context, id, userID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs SET status = 'archived', updated_at = NOW()
		WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("archive job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

func (r *JobsRepository) AddEndpoint(ctx context.Context, e *domain.Endpoint) (*domain.Endpoint, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	headersPlain, headersSensitive, err := r.encodeHeaders(e.Headers)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO endpoints (
			job_id, tenant_id, baseline_cron, baseline_interval_ms,
			min_interval_ms, max_interval_ms, url, method,
			headers_plain, headers_encrypted, body_json, timeout_ms,
			max_execution_time_ms, max_response_size_kb, next_run_at, name, description
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING ` + endpointColumns

	row := r.pool.QueryRow(ctx, query,
		e.JobID, e.TenantID, e.BaselineCron, e.BaselineIntervalMs,
		e.MinIntervalMs, e.MaxIntervalMs, e.URL, e.Method,
		headersPlain, headersSensitive, e.BodyJSON, e.TimeoutMs,
		e.MaxExecutionTimeMs, e.MaxResponseSizeKb, e.NextRunAt, e.Name, e.Description,
	)
	return r.scanEndpoint(row)
}

func (r *JobsRepository) UpdateEndpoint(ctx context.Context, e *domain.Endpoint) (*domain.Endpoint, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	headersPlain, headersSensitive, err := r.encodeHeaders(e.Headers)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE endpoints SET
			baseline_cron = $2, baseline_interval_ms = $3,
			min_interval_ms = $4, max_interval_ms = $5,
			url = $6, method = $7, headers_plain = $8, headers_encrypted = $9,
			body_json = $10, timeout_ms = $11, max_execution_time_ms = $12,
			max_response_size_kb = $13, name = $14, description = $15, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + endpointColumns

	row := r.pool.QueryRow(ctx, query,
		e.ID, e.BaselineCron, e.BaselineIntervalMs,
		e.MinIntervalMs, e.MaxIntervalMs,
		e.URL, e.Method, headersPlain, headersSensitive,
		e.BodyJSON, e.TimeoutMs, e.MaxExecutionTimeMs,
		e.MaxResponseSizeKb, e.Name, e.Description,
	)
	return r.scanEndpoint(row)
}

func (r *JobsRepository) GetEndpoint(ctx context.Context, id, userID string) (*domain.Endpoint, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+endpointColumns+` FROM endpoints WHERE id = $1 AND tenant_id = $2`, id, userID)
	return r.scanEndpoint(row)
}

func (r *JobsRepository) GetEndpointByID(ctx context.Context, id string) (*domain.Endpoint, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+endpointColumns+` FROM endpoints WHERE id = $1`, id)
	return r.scanEndpoint(row)
}

func (r *JobsRepository) ListEndpointsByJob(ctx context.Context, jobID, userID string) ([]*domain.Endpoint, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+endpointColumns+` FROM endpoints WHERE job_id = $1 AND tenant_id = $2 ORDER BY created_at ASC`, jobID, userID)
	if err != nil {
		return nil, fmt.Errorf("list endpoints by job: %w", err)
	}
	defer rows.Close()

	var out []*domain.Endpoint
	for rows.Next() {
		e, err := r.scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *JobsRepository) DeleteEndpoint(ctx context.Context, id, userID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM endpoints WHERE id = $1 AND tenant_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete endpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEndpointNotFound
	}
	return nil
}

// defaultLockDurationMs is the floor applied to an endpoint's own
// maxExecutionTimeMs when computing its claim lock deadline (spec.md
// §4.2 step 1: "max(endpoint.maxExecutionTimeMs, default 60_000)").
const defaultLockDurationMs = 60_000

// ClaimDueEndpoints is the pessimistic-claim query from spec.md §4.2 step
// 1: select up to limit endpoints due within withinMs whose pause/lock
// windows have elapsed, and in the same statement lock each one until
// max(its own maxExecutionTimeMs, 60s) from now — not a single duration
// shared by the whole batch, since a slow endpoint claimed alongside fast
// ones must not be reclaimable before it can finish. FOR UPDATE SKIP
// LOCKED is the same concurrency primitive the teacher's
// JobRepository.Claim uses to make this safe across worker processes.
func (r *JobsRepository) ClaimDueEndpoints(ctx context.Context, limit int, withinMs int64) ([]*domain.Endpoint, error) {
	query := `
		UPDATE endpoints
		SET locked_until = NOW() + (GREATEST(COALESCE(endpoints.max_execution_time_ms, $3), $3) || ' milliseconds')::interval
		WHERE id IN (
			SELECT id FROM endpoints
			WHERE next_run_at <= NOW() + ($2 || ' milliseconds')::interval
			  AND (paused_until IS NULL OR paused_until <= NOW())
			  AND (locked_until IS NULL OR locked_until <= NOW())
			ORDER BY next_run_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + endpointColumns

	rows, err := r.pool.Query(ctx, query, limit, withinMs, defaultLockDurationMs)
	if err != nil {
		return nil, fmt.Errorf("claim due endpoints: %w", err)
	}
	defer rows.Close()

	var out []*domain.Endpoint
	for rows.Next() {
		e, err := r.scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *JobsRepository) SetLock(ctx context.Context, endpointID string, until time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE endpoints SET locked_until = $2 WHERE id = $1`, endpointID, until)
	return err
}

func (r *JobsRepository) ClearLock(ctx context.Context, endpointID string) error {
	_, err := r.pool.Exec(ctx, `UPDATE endpoints SET locked_until = NULL WHERE id = $1`, endpointID)
	return err
}

func (r *JobsRepository) SetNextRunAtIfEarlier(ctx context.Context, endpointID string, when time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE endpoints SET next_run_at = $2, updated_at = NOW() WHERE id = $1 AND next_run_at > $2`,
		endpointID, when)
	return err
}

// UpdateAfterRun applies spec.md §4.2.1 in one transaction: advance
// lastRunAt/failureCount/nextRunAt, clear an expired hint, and release the
// lock — all-or-nothing so a crash never leaks a lock (spec.md §5).
func (r *JobsRepository) UpdateAfterRun(ctx context.Context, endpointID string, now time.Time, next governor.Decision, outcome repository.RunOutcome) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var failureCountExpr string
	if outcome.Status == domain.RunSuccess {
		failureCountExpr = "0"
	} else {
		failureCountExpr = "failure_count + 1"
	}

	_, err = tx.Exec(ctx, fmt.Sprintf(`
		UPDATE endpoints SET
			last_run_at = $2,
			failure_count = %s,
			next_run_at = $3,
			locked_until = NULL,
			ai_hint_interval_ms = CASE WHEN ai_hint_expires_at IS NOT NULL AND ai_hint_expires_at <= $2 THEN NULL ELSE ai_hint_interval_ms END,
			ai_hint_next_run_at = CASE WHEN ai_hint_expires_at IS NOT NULL AND ai_hint_expires_at <= $2 THEN NULL ELSE ai_hint_next_run_at END,
			ai_hint_reason      = CASE WHEN ai_hint_expires_at IS NOT NULL AND ai_hint_expires_at <= $2 THEN NULL ELSE ai_hint_reason END,
			ai_hint_expires_at  = CASE WHEN ai_hint_expires_at IS NOT NULL AND ai_hint_expires_at <= $2 THEN NULL ELSE ai_hint_expires_at END,
			updated_at = NOW()
		WHERE id = $1`, failureCountExpr),
		endpointID, now, next.NextRunAt,
	)
	if err != nil {
		return fmt.Errorf("advance endpoint: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *JobsRepository) WriteAIHint(ctx context.Context, endpointID string, hint repository.AIHint) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE endpoints SET
			ai_hint_interval_ms = $2,
			ai_hint_next_run_at = $3,
			ai_hint_expires_at  = $4,
			ai_hint_reason      = $5,
			updated_at = NOW()
		WHERE id = $1`,
		endpointID, hint.IntervalMs, hint.NextRunAt, hint.ExpiresAt, hint.Reason)
	if err != nil {
		return fmt.Errorf("write ai hint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEndpointNotFound
	}
	return nil
}

func (r *JobsRepository) ClearAIHints(ctx context.Context, endpointID string, reason string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE endpoints SET
			ai_hint_interval_ms = NULL, ai_hint_next_run_at = NULL,
			ai_hint_expires_at = NULL, ai_hint_reason = $2, updated_at = NOW()
		WHERE id = $1`, endpointID, reason)
	if err != nil {
		return fmt.Errorf("clear ai hints: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEndpointNotFound
	}
	return nil
}

func (r *JobsRepository) SetPausedUntil(ctx context.Context, endpointID string, until *time.Time, reason string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE endpoints SET paused_until = $2, ai_hint_reason = COALESCE($3, ai_hint_reason), updated_at = NOW() WHERE id = $1`,
		endpointID, until, nullIfEmpty(reason))
	if err != nil {
		return fmt.Errorf("set paused until: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEndpointNotFound
	}
	return nil
}

func (r *JobsRepository) ResetFailureCount(ctx context.Context, endpointID string) error {
	_, err := r.pool.Exec(ctx, `UPDATE endpoints SET failure_count = 0, updated_at = NOW() WHERE id = $1`, endpointID)
	return err
}

// GetUsage sums sessions.tokenUsage since the given time for every
// endpoint owned by userID — the raw query backing quota.CanProceed.
func (r *JobsRepository) GetUsage(ctx context.Context, userID string, since time.Time) (repository.Usage, error) {
	var tokens *int64
	err := r.pool.QueryRow(ctx, `
		SELECT SUM(s.token_usage)
		FROM sessions s
		JOIN endpoints e ON e.id = s.endpoint_id
		WHERE e.tenant_id = $1 AND s.analyzed_at >= $2`, userID, since).Scan(&tokens)
	if err != nil {
		return repository.Usage{}, fmt.Errorf("get usage: %w", err)
	}
	if tokens == nil {
		return repository.Usage{}, nil
	}
	return repository.Usage{TokensUsed: *tokens}, nil
}

const endpointColumns = `
	id, job_id, tenant_id, baseline_cron, baseline_interval_ms,
	min_interval_ms, max_interval_ms,
	ai_hint_interval_ms, ai_hint_next_run_at, ai_hint_expires_at, ai_hint_reason,
	paused_until, last_run_at, next_run_at, failure_count,
	url, method, headers_plain, headers_encrypted, body_json, timeout_ms,
	max_execution_time_ms, max_response_size_kb, locked_until,
	name, description, created_at, updated_at`

func (r *JobsRepository) scanEndpoint(row rowScanner) (*domain.Endpoint, error) {
	var e domain.Endpoint
	var headersPlain, headersEncrypted []byte
	err := row.Scan(
		&e.ID, &e.JobID, &e.TenantID, &e.BaselineCron, &e.BaselineIntervalMs,
		&e.MinIntervalMs, &e.MaxIntervalMs,
		&e.AIHintIntervalMs, &e.AIHintNextRunAt, &e.AIHintExpiresAt, &e.AIHintReason,
		&e.PausedUntil, &e.LastRunAt, &e.NextRunAt, &e.FailureCount,
		&e.URL, &e.Method, &headersPlain, &headersEncrypted, &e.BodyJSON, &e.TimeoutMs,
		&e.MaxExecutionTimeMs, &e.MaxResponseSizeKb, &e.LockedUntil,
		&e.Name, &e.Description, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrEndpointNotFound
		}
		return nil, fmt.Errorf("scan endpoint: %w", err)
	}

	headers, err := r.decodeHeaders(headersPlain, headersEncrypted)
	if err != nil {
		return nil, fmt.Errorf("decode headers for endpoint %s: %w", e.ID, err)
	}
	e.Headers = headers
	return &e, nil
}

// encodeHeaders splits a header map into plain/sensitive halves and seals
// the sensitive half, per spec.md §4.7 ("only record-level headers whose
// names match a sensitivity pattern ... trigger encryption at write time").
func (r *JobsRepository) encodeHeaders(headers map[string]string) (plainJSON []byte, encryptedWire *string, err error) {
	plain, sensitive := r.box.SplitSensitive(headers)
	plainJSON, err = json.Marshal(plain)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal plain headers: %w", err)
	}
	if len(sensitive) == 0 {
		return plainJSON, nil, nil
	}
	wire, err := r.box.EncryptHeaders(sensitive)
	if err != nil {
		return nil, nil, fmt.Errorf("encrypt sensitive headers: %w", err)
	}
	return plainJSON, &wire, nil
}

func (r *JobsRepository) decodeHeaders(plainJSON, encryptedWire []byte) (map[string]string, error) {
	headers := make(map[string]string)
	if len(plainJSON) > 0 {
		if err := json.Unmarshal(plainJSON, &headers); err != nil {
			return nil, fmt.Errorf("unmarshal plain headers: %w", err)
		}
	}
	if len(encryptedWire) > 0 {
		sensitive, err := r.box.DecryptHeaders(string(encryptedWire))
		if err != nil {
			return nil, err
		}
		for k, v := range sensitive {
			headers[k] = v
		}
	}
	return headers, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var j domain.Job
	err := row.Scan(&j.ID, &j.UserID, &j.Name, &j.Description, &j.Status, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return &j, nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
