package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cronicorn/cronicorn/internal/domain"
	"github.com/cronicorn/cronicorn/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RunsRepository is the SQL-backed implementation of repository.RunsRepo.
// Create/Finish follow the teacher's AttemptRepository
// (CreateAttempt/CompleteAttempt) shape; CleanupZombieRuns generalizes the
// teacher's reaper queries (FailStale) from jobs to runs.
type RunsRepository struct {
	pool *pgxpool.Pool
}

func NewRunsRepository(pool *pgxpool.Pool) *RunsRepository {
	return &RunsRepository{pool: pool}
}

const runColumns = `id, endpoint_id, attempt, source, started_at, finished_at, duration_ms, status, status_code, response_body, error_message, error_details`

func (r *RunsRepository) Create(ctx context.Context, in repository.CreateRunInput) (*domain.Run, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO runs (endpoint_id, attempt, source, started_at, status)
		VALUES ($1, $2, $3, NOW(), 'running')
		RETURNING `+runColumns,
		in.EndpointID, in.Attempt, in.Source)
	return scanRun(row)
}

func (r *RunsRepository) Finish(ctx context.Context, runID string, in repository.FinishRunInput) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE runs SET
			finished_at = NOW(), duration_ms = $2, status = $3,
			status_code = $4, response_body = $5, error_message = $6
		WHERE id = $1 AND status = 'running'`,
		runID, in.DurationMs, in.Status, in.StatusCode, in.ResponseBody, in.ErrorMessage)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRunAlreadyFinished
	}
	return nil
}

func (r *RunsRepository) ListRuns(ctx context.Context, input repository.ListRunsInput) ([]*domain.Run, error) {
	args := []any{input.EndpointID}
	where := []string{"endpoint_id = $1"}
	if input.Status != "" {
		args = append(args, input.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if input.CursorTime != nil {
		args = append(args, *input.CursorTime, input.CursorID)
		where = append(where, fmt.Sprintf("(started_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit)

	query := fmt.Sprintf(`SELECT %s FROM runs WHERE %s ORDER BY started_at DESC, id DESC LIMIT $%d`,
		runColumns, joinAnd(where), len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (r *RunsRepository) GetRunDetails(ctx context.Context, runID string) (*domain.Run, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, runID)
	return scanRun(row)
}

func (r *RunsRepository) GetHealthSummary(ctx context.Context, endpointID string, since time.Time) (repository.HealthSummary, error) {
	var summary repository.HealthSummary
	var avgDuration *float64
	var lastRun *time.Time

	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'success'),
			COUNT(*) FILTER (WHERE status IN ('failed', 'canceled')),
			AVG(duration_ms) FILTER (WHERE duration_ms IS NOT NULL),
			MAX(started_at)
		FROM runs WHERE endpoint_id = $1 AND started_at >= $2`,
		endpointID, since,
	).Scan(&summary.SuccessCount, &summary.FailureCount, &avgDuration, &lastRun)
	if err != nil {
		return repository.HealthSummary{}, fmt.Errorf("get health summary: %w", err)
	}
	if avgDuration != nil {
		summary.AvgDurationMs = *avgDuration
	}
	summary.LastRun = lastRun

	streak, err := r.failureStreak(ctx, endpointID)
	if err != nil {
		return repository.HealthSummary{}, err
	}
	summary.FailureStreak = streak
	return summary, nil
}

// failureStreak counts consecutive failures from the most recent run
// backwards, stopping at the first success.
func (r *RunsRepository) failureStreak(ctx context.Context, endpointID string) (int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status FROM runs
		WHERE endpoint_id = $1 AND status IN ('success', 'failed', 'canceled')
		ORDER BY started_at DESC LIMIT 100`, endpointID)
	if err != nil {
		return 0, fmt.Errorf("failure streak: %w", err)
	}
	defer rows.Close()

	streak := 0
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return 0, err
		}
		if status == string(domain.RunSuccess) {
			break
		}
		streak++
	}
	return streak, rows.Err()
}

func (r *RunsRepository) GetEndpointsWithRecentRuns(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT endpoint_id FROM runs WHERE started_at >= $1`, since)
	if err != nil {
		return nil, fmt.Errorf("get endpoints with recent runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *RunsRepository) GetLatestResponse(ctx context.Context, endpointID string) (*domain.Run, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE endpoint_id = $1 AND finished_at IS NOT NULL
		ORDER BY started_at DESC LIMIT 1`, endpointID)
	run, err := scanRun(row)
	if errors.Is(err, domain.ErrRunNotFound) {
		return nil, nil
	}
	return run, err
}

func (r *RunsRepository) GetResponseHistory(ctx context.Context, endpointID string, limit, offset int) (repository.ResponseHistoryPage, error) {
	if limit <= 0 || limit > 10 {
		limit = 10
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM runs WHERE endpoint_id = $1 AND finished_at IS NOT NULL`, endpointID).Scan(&total); err != nil {
		return repository.ResponseHistoryPage{}, fmt.Errorf("count response history: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE endpoint_id = $1 AND finished_at IS NOT NULL
		ORDER BY started_at DESC LIMIT $2 OFFSET $3`, endpointID, limit, offset)
	if err != nil {
		return repository.ResponseHistoryPage{}, fmt.Errorf("get response history: %w", err)
	}
	defer rows.Close()

	var out []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return repository.ResponseHistoryPage{}, err
		}
		if run.ResponseBody != nil && len(*run.ResponseBody) > 1000 {
			truncated := (*run.ResponseBody)[:1000]
			run.ResponseBody = &truncated
		}
		out = append(out, run)
	}
	return repository.ResponseHistoryPage{Runs: out, TotalCount: total}, rows.Err()
}

func (r *RunsRepository) GetSiblingLatestResponses(ctx context.Context, jobID, excludeEndpointID string) ([]repository.SiblingResponse, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT e.id, e.name, e.next_run_at,
		       (e.ai_hint_expires_at IS NOT NULL AND e.ai_hint_expires_at > NOW()) AS has_hint,
		       lr.response_body
		FROM endpoints e
		LEFT JOIN LATERAL (
			SELECT response_body FROM runs
			WHERE endpoint_id = e.id AND finished_at IS NOT NULL
			ORDER BY started_at DESC LIMIT 1
		) lr ON true
		WHERE e.job_id = $1 AND e.id != $2`, jobID, excludeEndpointID)
	if err != nil {
		return nil, fmt.Errorf("get sibling latest responses: %w", err)
	}
	defer rows.Close()

	var out []repository.SiblingResponse
	for rows.Next() {
		var s repository.SiblingResponse
		if err := rows.Scan(&s.EndpointID, &s.EndpointName, &s.NextRunAt, &s.HasActiveHint, &s.LatestResponse); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CleanupZombieRuns is the zombie-reap query from spec.md §4.2.2 —
// generalized from the teacher's reaper FailStale, which marked stale
// *jobs* failed; here it marks stuck *runs* failed without touching
// endpoint state, leaving reconciliation to the next scheduler tick.
func (r *RunsRepository) CleanupZombieRuns(ctx context.Context, olderThanMs int64) (int, error) {
	cutoff := time.Now().Add(-time.Duration(olderThanMs) * time.Millisecond)
	tag, err := r.pool.Exec(ctx, `
		UPDATE runs SET
			status = 'failed',
			finished_at = NOW(),
			duration_ms = EXTRACT(EPOCH FROM (NOW() - started_at)) * 1000,
			error_message = 'zombie run: exceeded threshold without finishing'
		WHERE status = 'running' AND started_at <= $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup zombie runs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func joinAnd(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += " AND " + p
	}
	return out
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var run domain.Run
	err := row.Scan(
		&run.ID, &run.EndpointID, &run.Attempt, &run.Source, &run.StartedAt,
		&run.FinishedAt, &run.DurationMs, &run.Status, &run.StatusCode,
		&run.ResponseBody, &run.ErrorMessage, &run.ErrorDetails,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRunNotFound
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	return &run, nil
}
