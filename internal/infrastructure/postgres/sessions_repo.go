package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cronicorn/cronicorn/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionsRepository is the SQL-backed implementation of
// repository.SessionsRepo. Sessions are immutable once written (spec.md
// §3), so unlike JobsRepository/RunsRepository there is no update path —
// only Create and reads, mirroring the teacher's append-only AttemptRepository
// shape but for analysis sessions instead of execution attempts.
type SessionsRepository struct {
	pool *pgxpool.Pool
}

func NewSessionsRepository(pool *pgxpool.Pool) *SessionsRepository {
	return &SessionsRepository{pool: pool}
}

const sessionColumns = `id, endpoint_id, analyzed_at, tool_calls, reasoning, token_usage, duration_ms, next_analysis_at, endpoint_failure_count`

func (r *SessionsRepository) Create(ctx context.Context, s *domain.Session) (*domain.Session, error) {
	toolCallsJSON, err := json.Marshal(s.ToolCalls)
	if err != nil {
		return nil, fmt.Errorf("marshal tool calls: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO sessions (endpoint_id, analyzed_at, tool_calls, reasoning, token_usage, duration_ms, next_analysis_at, endpoint_failure_count)
		VALUES ($1, NOW(), $2, $3, $4, $5, $6, $7)
		RETURNING `+sessionColumns,
		s.EndpointID, toolCallsJSON, s.Reasoning, s.TokenUsage, s.DurationMs, s.NextAnalysisAt, s.EndpointFailureCount)
	return scanSession(row)
}

func (r *SessionsRepository) GetLastSession(ctx context.Context, endpointID string) (*domain.Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE endpoint_id = $1 ORDER BY analyzed_at DESC LIMIT 1`, endpointID)
	s, err := scanSession(row)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil, nil
	}
	return s, err
}

func (r *SessionsRepository) GetRecentSessions(ctx context.Context, endpointID string, limit, offset int) ([]*domain.Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE endpoint_id = $1 ORDER BY analyzed_at DESC LIMIT $2 OFFSET $3`, endpointID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("get recent sessions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SessionsRepository) GetTotalTokenUsage(ctx context.Context, endpointID string, since time.Time) (int64, error) {
	var total *int64
	err := r.pool.QueryRow(ctx, `
		SELECT SUM(token_usage) FROM sessions WHERE endpoint_id = $1 AND analyzed_at >= $2`,
		endpointID, since).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("get total token usage: %w", err)
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var s domain.Session
	var toolCallsJSON []byte
	err := row.Scan(
		&s.ID, &s.EndpointID, &s.AnalyzedAt, &toolCallsJSON, &s.Reasoning,
		&s.TokenUsage, &s.DurationMs, &s.NextAnalysisAt, &s.EndpointFailureCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if len(toolCallsJSON) > 0 {
		if err := json.Unmarshal(toolCallsJSON, &s.ToolCalls); err != nil {
			return nil, fmt.Errorf("unmarshal tool calls: %w", err)
		}
	}
	return &s, nil
}
