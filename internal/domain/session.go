package domain

import (
	"errors"
	"time"
)

var ErrSessionNotFound = errors.New("session not found")

// ToolCall records one invocation the LLM made during an analysis session,
// in the order it happened, for auditing.
type ToolCall struct {
	Tool   string
	Args   map[string]any
	Result map[string]any
}

// Session is one AI analysis of one endpoint. It is immutable once written.
type Session struct {
	ID         string
	EndpointID string
	AnalyzedAt time.Time

	ToolCalls []ToolCall
	Reasoning string

	TokenUsage *int64
	DurationMs *int64

	NextAnalysisAt      *time.Time
	EndpointFailureCount *int
}
