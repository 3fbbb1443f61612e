// Package planner implements the AI planner worker of spec.md §4.4: an
// independent tick loop that discovers endpoints with recent activity,
// decides which are due for analysis, and drives a tool-using LLM session
// against each one sequentially. Its Start/ticker shape mirrors
// internal/scheduler.Worker's, generalized from a batch-and-fan-out tick
// to the planner's deliberately sequential per-endpoint loop (spec.md
// §4.4 step 3: "one failure must not abort others", not "run in
// parallel").
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/cronicorn/cronicorn/internal/clock"
	"github.com/cronicorn/cronicorn/internal/domain"
	"github.com/cronicorn/cronicorn/internal/llm"
	"github.com/cronicorn/cronicorn/internal/metrics"
	"github.com/cronicorn/cronicorn/internal/repository"
	"github.com/cronicorn/cronicorn/internal/requestid"
	"github.com/cronicorn/cronicorn/internal/tools"
)

// maxToolIterations bounds the agentic loop so a model that never calls
// submit_analysis can't keep a session running forever.
const maxToolIterations = 8

// Config bounds one Worker's timing knobs, backing directly onto the
// AI_* env vars spec.md §6 names.
type Config struct {
	AnalysisInterval time.Duration
	LookbackMinutes  int
	MaxTokens        int
}

// Worker is the AI planner's tick loop: discover due endpoints, analyze
// each sequentially, persist a session per analysis.
type Worker struct {
	jobs      repository.JobsRepo
	runs      repository.RunsRepo
	sessions  repository.SessionsRepo
	quota     repository.QuotaGuard
	users     repository.UsersRepo
	llmClient *llm.Client
	clock     clock.Clock
	logger    *slog.Logger
	cfg       Config
}

func NewWorker(jobs repository.JobsRepo, runs repository.RunsRepo, sessions repository.SessionsRepo, quota repository.QuotaGuard, users repository.UsersRepo, llmClient *llm.Client, clk clock.Clock, logger *slog.Logger, cfg Config) *Worker {
	return &Worker{
		jobs:      jobs,
		runs:      runs,
		sessions:  sessions,
		quota:     quota,
		users:     users,
		llmClient: llmClient,
		clock:     clk,
		logger:    logger.With("component", "planner"),
		cfg:       cfg,
	}
}

// Start runs the tick loop until ctx is canceled.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.AnalysisInterval)
	defer ticker.Stop()

	w.logger.Info("planner worker started", "analysis_interval", w.cfg.AnalysisInterval, "lookback_minutes", w.cfg.LookbackMinutes)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("planner worker shut down")
			metrics.WorkerShutdownsTotal.Inc()
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	now := w.clock.Now()
	since := now.Add(-time.Duration(w.cfg.LookbackMinutes) * time.Minute)

	ids, err := w.runs.GetEndpointsWithRecentRuns(ctx, since)
	if err != nil {
		w.logger.Error("discover endpoints with recent runs", "error", err)
		return
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if err := w.analyzeIfDue(ctx, id, now); err != nil {
			w.logger.Error("analyze endpoint", "endpoint_id", id, "error", err)
		}
	}
}

// analyzeIfDue implements spec.md §4.4 step 2: decide whether an endpoint
// is due for analysis (first analysis, scheduled reanalysis, or a
// state-change override), then run the analysis if so.
func (w *Worker) analyzeIfDue(ctx context.Context, endpointID string, now time.Time) error {
	endpoint, err := w.jobs.GetEndpointByID(ctx, endpointID)
	if err != nil {
		return fmt.Errorf("load endpoint: %w", err)
	}

	lastSession, err := w.sessions.GetLastSession(ctx, endpointID)
	if err != nil {
		return fmt.Errorf("load last session: %w", err)
	}

	due, reason := isDue(endpoint, lastSession, now)
	if !due {
		return nil
	}
	w.logger.Debug("endpoint due for analysis", "endpoint_id", endpointID, "reason", reason)

	return w.analyze(ctx, endpoint, lastSession, now)
}

func isDue(e *domain.Endpoint, lastSession *domain.Session, now time.Time) (bool, string) {
	if lastSession == nil {
		return true, "first-analysis"
	}
	if lastSession.NextAnalysisAt != nil && !lastSession.NextAnalysisAt.After(now) {
		return true, "scheduled"
	}
	if lastSession.EndpointFailureCount != nil && e.FailureCount > *lastSession.EndpointFailureCount {
		return true, "state-change"
	}
	return false, ""
}

// analyze runs spec.md §4.4.1: quota check, health summary, prompt build,
// tool-using LLM loop, session persistence.
func (w *Worker) analyze(ctx context.Context, e *domain.Endpoint, lastSession *domain.Session, now time.Time) error {
	start := now
	sessionStart := time.Now()

	sessionID := requestid.New()
	ctx = requestid.WithSessionID(ctx, sessionID)

	ok, err := w.quota.CanProceed(ctx, e.TenantID)
	if err != nil {
		return fmt.Errorf("quota check: %w", err)
	}
	if !ok {
		w.logger.WarnContext(ctx, "quota exceeded, skipping analysis", "endpoint_id", e.ID, "tenant_id", e.TenantID)
		metrics.PlannerSessionsSkippedTotal.WithLabelValues("quota_exceeded").Inc()
		return nil
	}

	var jobID string
	var job *domain.Job
	if e.JobID != nil {
		jobID = *e.JobID
		job, err = w.jobs.GetJobByID(ctx, jobID)
		if err != nil {
			return fmt.Errorf("load job: %w", err)
		}
	} else {
		job = &domain.Job{Name: "(ungrouped)"}
	}

	health, err := w.runs.GetHealthSummary(ctx, e.ID, now.Add(-24*time.Hour))
	if err != nil {
		return fmt.Errorf("health summary: %w", err)
	}

	registry := tools.New(w.jobs, w.runs, e.ID, jobID, w.clock)
	prompt := buildPrompt(start, job, e, health, lastSession)

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: prompt},
	}

	toolCalls, reasoning, nextAnalysisAt, usage, submitted, err := w.runToolLoop(ctx, messages, registry)
	if err != nil {
		return fmt.Errorf("tool loop: %w", err)
	}
	if !submitted {
		w.logger.WarnContext(ctx, "analysis session ended without submit_analysis", "endpoint_id", e.ID)
		if reasoning == "" {
			reasoning = "(analysis ended without a final submit_analysis call)"
		}
	}

	durationMs := time.Since(sessionStart).Milliseconds()
	failureCount := e.FailureCount

	session := &domain.Session{
		ID:                   sessionID,
		EndpointID:           e.ID,
		AnalyzedAt:           now,
		ToolCalls:            toolCalls,
		Reasoning:            reasoning,
		TokenUsage:           &usage,
		DurationMs:           &durationMs,
		NextAnalysisAt:       nextAnalysisAt,
		EndpointFailureCount: &failureCount,
	}

	if _, err := w.sessions.Create(ctx, session); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}

	if err := w.quota.RecordUsage(ctx, e.TenantID, usage); err != nil {
		w.logger.WarnContext(ctx, "record usage", "endpoint_id", e.ID, "error", err)
	}

	outcome := "submitted"
	if !submitted {
		outcome = "no_submit"
	}
	metrics.PlannerSessionDuration.WithLabelValues(outcome).Observe(time.Since(sessionStart).Seconds())
	metrics.PlannerTokensUsedTotal.WithLabelValues(string(w.tierOf(ctx, e.TenantID))).Add(float64(usage))

	w.logger.InfoContext(ctx, "analysis session complete", "endpoint_id", e.ID, "tool_calls", len(toolCalls), "tokens", usage, "duration_ms", durationMs)
	return nil
}

// runToolLoop drives the agentic loop of spec.md §4.4.1 step 4: the model
// may call read/write tools repeatedly before terminating with exactly
// one submit_analysis call. Returns the ordered tool call log, the final
// reasoning text, the requested reanalysis deadline (if any), total token
// usage, and whether submit_analysis was actually reached.
func (w *Worker) runToolLoop(ctx context.Context, messages []openai.ChatCompletionMessage, registry *tools.Registry) ([]domain.ToolCall, string, *time.Time, int64, bool, error) {
	var log []domain.ToolCall
	var totalTokens int64
	var reasoning string
	var nextAnalysisAt *time.Time

	for i := 0; i < maxToolIterations; i++ {
		result, err := w.llmClient.CompleteWithTools(ctx, messages, registry.Definitions())
		if err != nil {
			return log, reasoning, nextAnalysisAt, totalTokens, false, err
		}
		totalTokens += int64(result.Usage.TotalTokens)

		if len(result.ToolCalls) == 0 {
			// No tool call and no submission — treat trailing content as
			// the reasoning and end the loop without a terminal call.
			if result.Content != "" {
				reasoning = result.Content
			}
			return log, reasoning, nextAnalysisAt, totalTokens, false, nil
		}

		messages = append(messages, openai.ChatCompletionMessage{
			Role:      openai.ChatMessageRoleAssistant,
			Content:   result.Content,
			ToolCalls: result.ToolCalls,
		})

		for _, call := range result.ToolCalls {
			metrics.PlannerToolCallsTotal.WithLabelValues(call.Function.Name).Inc()

			var args map[string]any
			_ = json.Unmarshal([]byte(call.Function.Arguments), &args)

			output, execErr := registry.Dispatch(ctx, call.Function.Name, call.Function.Arguments)
			entry := domain.ToolCall{Tool: call.Function.Name, Args: args}
			var toolResultJSON string
			if execErr != nil {
				entry.Result = map[string]any{"error": execErr.Error()}
				toolResultJSON = fmt.Sprintf(`{"error":%q}`, execErr.Error())
			} else {
				entry.Result = output
				b, _ := json.Marshal(output)
				toolResultJSON = string(b)
			}
			log = append(log, entry)

			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: call.ID,
				Content:    toolResultJSON,
			})

			if call.Function.Name == tools.SubmitAnalysis && execErr == nil {
				var submit tools.SubmitAnalysisArgs
				if err := json.Unmarshal([]byte(call.Function.Arguments), &submit); err == nil {
					reasoning = submit.Reasoning
					if submit.NextAnalysisInMs != nil {
						t := w.clock.Now().Add(time.Duration(*submit.NextAnalysisInMs) * time.Millisecond)
						nextAnalysisAt = &t
					}
				}
				return log, reasoning, nextAnalysisAt, totalTokens, true, nil
			}
		}
	}

	w.logger.WarnContext(ctx, "tool loop exceeded max iterations without submit_analysis")
	return log, reasoning, nextAnalysisAt, totalTokens, false, nil
}

// tierOf resolves a tenant's tier for metrics labeling only; lookup
// failures fall back to "unknown" rather than failing the analysis.
func (w *Worker) tierOf(ctx context.Context, tenantID string) domain.Tier {
	user, err := w.users.FindByID(ctx, tenantID)
	if err != nil {
		return "unknown"
	}
	return user.Tier
}
