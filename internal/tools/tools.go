// Package tools implements the LLM tool surface of spec.md §4.5: a
// name-keyed dispatch map from tool name to {schema, execute}, bound to a
// single (endpointID, jobID) pair at construction. This is the "no
// reflection or dynamic code evaluation" dispatch spec.md §9 calls for,
// grounded in the teacher's plain-switch command routing in
// internal/usecase (one case per operation, explicit argument structs).
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/cronicorn/cronicorn/internal/clock"
	"github.com/cronicorn/cronicorn/internal/repository"
)

// ErrUnknownTool is returned by Dispatch for a name not in the registry.
var ErrUnknownTool = fmt.Errorf("unknown tool")

// SubmitAnalysis is the terminal tool name (spec.md §4.5). The planner
// loop checks for this name itself rather than routing it through
// Dispatch's side-effecting tools, since it ends the session instead of
// mutating the endpoint.
const SubmitAnalysis = "submit_analysis"

// tool pairs an OpenAI-visible function schema with its local executor.
type tool struct {
	def     openai.Tool
	execute func(ctx context.Context, args json.RawMessage) (map[string]any, error)
}

// Registry is the endpoint-scoped tool surface handed to one analysis
// session (spec.md §4.5 "bound to a single (endpointId, jobId)").
type Registry struct {
	jobs       repository.JobsRepo
	runs       repository.RunsRepo
	endpointID string
	jobID      string
	clock      clock.Clock

	byName map[string]tool
	order  []string
}

// New builds the tool registry for one endpoint's analysis session.
func New(jobs repository.JobsRepo, runs repository.RunsRepo, endpointID, jobID string, clk clock.Clock) *Registry {
	r := &Registry{
		jobs:       jobs,
		runs:       runs,
		endpointID: endpointID,
		jobID:      jobID,
		clock:      clk,
		byName:     make(map[string]tool),
	}
	r.register("get_latest_response", "Return the most recent finished run's response body, timestamp, and status.", schemaNoArgs, r.getLatestResponse)
	r.register("get_response_history", "Return recent finished runs newest-first, paginated, with response bodies truncated to 1000 characters.", schemaResponseHistory, r.getResponseHistory)
	r.register("get_sibling_latest_responses", "Return the latest response, schedule, and active-hint metadata for every other endpoint in this job.", schemaNoArgs, r.getSiblingLatestResponses)
	r.register("propose_interval", "Set a temporary AI interval hint and nudge the next run to occur sooner if needed.", schemaProposeInterval, r.proposeInterval)
	r.register("propose_next_time", "Set a one-shot AI next-run hint for a specific point in time.", schemaProposeNextTime, r.proposeNextTime)
	r.register("pause_until", "Pause or unpause this endpoint until a given time.", schemaPauseUntil, r.pauseUntil)
	r.register("clear_hints", "Clear all active AI hints on this endpoint.", schemaClearHints, r.clearHints)
	r.register(SubmitAnalysis, "End the analysis session with a final justification. Must be the last tool call.", schemaSubmitAnalysis, r.submitAnalysis)
	return r
}

func (r *Registry) register(name, description string, schema json.RawMessage, execute func(context.Context, json.RawMessage) (map[string]any, error)) {
	r.byName[name] = tool{
		def: openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        name,
				Description: description,
				Parameters:  schema,
			},
		},
		execute: execute,
	}
	r.order = append(r.order, name)
}

// Definitions returns the tool schemas in registration order, for the
// chat completion request's Tools field.
func (r *Registry) Definitions() []openai.Tool {
	defs := make([]openai.Tool, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.byName[name].def)
	}
	return defs
}

// Dispatch parses and executes one model-proposed tool call. It validates
// only that the tool name is known and the arguments parse as JSON; each
// tool validates its own field-level constraints.
func (r *Registry) Dispatch(ctx context.Context, name string, argsJSON string) (map[string]any, error) {
	t, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	raw := json.RawMessage(argsJSON)
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	return t.execute(ctx, raw)
}

// ---- read tools ----

func (r *Registry) getLatestResponse(ctx context.Context, _ json.RawMessage) (map[string]any, error) {
	run, err := r.runs.GetLatestResponse(ctx, r.endpointID)
	if err != nil {
		return nil, fmt.Errorf("get latest response: %w", err)
	}
	if run == nil {
		return map[string]any{"found": false}, nil
	}
	result := map[string]any{
		"found":     true,
		"timestamp": run.StartedAt,
		"status":    string(run.Status),
	}
	if run.ResponseBody != nil {
		result["responseBody"] = *run.ResponseBody
	}
	return result, nil
}

func (r *Registry) getResponseHistory(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var in struct {
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("parse get_response_history args: %w", err)
	}
	if in.Limit < 1 || in.Limit > 10 {
		return nil, fmt.Errorf("limit must be in [1,10], got %d", in.Limit)
	}
	if in.Offset < 0 {
		return nil, fmt.Errorf("offset must be >= 0, got %d", in.Offset)
	}

	page, err := r.runs.GetResponseHistory(ctx, r.endpointID, in.Limit, in.Offset)
	if err != nil {
		return nil, fmt.Errorf("get response history: %w", err)
	}

	runs := make([]map[string]any, 0, len(page.Runs))
	for _, run := range page.Runs {
		entry := map[string]any{
			"startedAt": run.StartedAt,
			"status":    string(run.Status),
		}
		if run.StatusCode != nil {
			entry["statusCode"] = *run.StatusCode
		}
		if run.ResponseBody != nil {
			entry["responseBody"] = *run.ResponseBody
		}
		runs = append(runs, entry)
	}

	return map[string]any{
		"runs":       runs,
		"limit":      in.Limit,
		"offset":     in.Offset,
		"totalCount": page.TotalCount,
	}, nil
}

func (r *Registry) getSiblingLatestResponses(ctx context.Context, _ json.RawMessage) (map[string]any, error) {
	siblings, err := r.runs.GetSiblingLatestResponses(ctx, r.jobID, r.endpointID)
	if err != nil {
		return nil, fmt.Errorf("get sibling latest responses: %w", err)
	}

	out := make([]map[string]any, 0, len(siblings))
	for _, s := range siblings {
		entry := map[string]any{
			"endpointId":    s.EndpointID,
			"endpointName":  s.EndpointName,
			"nextRunAt":     s.NextRunAt,
			"hasActiveHint": s.HasActiveHint,
		}
		if s.LatestResponse != nil {
			entry["latestResponse"] = *s.LatestResponse
		}
		out = append(out, entry)
	}
	return map[string]any{"siblings": out}, nil
}

// ---- write tools ----

func (r *Registry) proposeInterval(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var in struct {
		IntervalMs  int64  `json:"intervalMs"`
		TTLMinutes  int    `json:"ttlMinutes"`
		Reason      string `json:"reason"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("parse propose_interval args: %w", err)
	}
	if in.IntervalMs < 1 {
		return nil, fmt.Errorf("intervalMs must be positive, got %d", in.IntervalMs)
	}
	if in.TTLMinutes < 1 {
		return nil, fmt.Errorf("ttlMinutes must be positive, got %d", in.TTLMinutes)
	}

	now := r.clock.Now()
	expiresAt := now.Add(time.Duration(in.TTLMinutes) * time.Minute)
	var reason *string
	if in.Reason != "" {
		reason = &in.Reason
	}

	if err := r.jobs.WriteAIHint(ctx, r.endpointID, repository.AIHint{
		IntervalMs: &in.IntervalMs,
		ExpiresAt:  expiresAt,
		Reason:     reason,
	}); err != nil {
		return nil, fmt.Errorf("write interval hint: %w", err)
	}

	nudge := now.Add(time.Duration(in.IntervalMs) * time.Millisecond)
	if err := r.jobs.SetNextRunAtIfEarlier(ctx, r.endpointID, nudge); err != nil {
		return nil, fmt.Errorf("nudge next run: %w", err)
	}

	return map[string]any{"ok": true, "expiresAt": expiresAt}, nil
}

func (r *Registry) proposeNextTime(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var in struct {
		NextRunAtIso string `json:"nextRunAtIso"`
		TTLMinutes   int    `json:"ttlMinutes"`
		Reason       string `json:"reason"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("parse propose_next_time args: %w", err)
	}
	nextRunAt, err := time.Parse(time.RFC3339, in.NextRunAtIso)
	if err != nil {
		return nil, fmt.Errorf("parse nextRunAtIso: %w", err)
	}
	if in.TTLMinutes < 1 {
		return nil, fmt.Errorf("ttlMinutes must be positive, got %d", in.TTLMinutes)
	}

	now := r.clock.Now()
	expiresAt := now.Add(time.Duration(in.TTLMinutes) * time.Minute)
	var reason *string
	if in.Reason != "" {
		reason = &in.Reason
	}

	if err := r.jobs.WriteAIHint(ctx, r.endpointID, repository.AIHint{
		NextRunAt: &nextRunAt,
		ExpiresAt: expiresAt,
		Reason:    reason,
	}); err != nil {
		return nil, fmt.Errorf("write oneshot hint: %w", err)
	}

	if err := r.jobs.SetNextRunAtIfEarlier(ctx, r.endpointID, nextRunAt); err != nil {
		return nil, fmt.Errorf("nudge next run: %w", err)
	}

	return map[string]any{"ok": true, "expiresAt": expiresAt}, nil
}

func (r *Registry) pauseUntil(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var in struct {
		UntilIso *string `json:"untilIso"`
		Reason   string  `json:"reason"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("parse pause_until args: %w", err)
	}

	var until *time.Time
	if in.UntilIso != nil && *in.UntilIso != "" {
		t, err := time.Parse(time.RFC3339, *in.UntilIso)
		if err != nil {
			return nil, fmt.Errorf("parse untilIso: %w", err)
		}
		until = &t
	}

	if err := r.jobs.SetPausedUntil(ctx, r.endpointID, until, in.Reason); err != nil {
		return nil, fmt.Errorf("set paused until: %w", err)
	}

	return map[string]any{"ok": true, "paused": until != nil}, nil
}

func (r *Registry) clearHints(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var in struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("parse clear_hints args: %w", err)
	}
	if in.Reason == "" {
		return nil, fmt.Errorf("reason is required")
	}

	if err := r.jobs.ClearAIHints(ctx, r.endpointID, in.Reason); err != nil {
		return nil, fmt.Errorf("clear hints: %w", err)
	}

	return map[string]any{"ok": true}, nil
}

// ---- terminal tool ----

// submitAnalysis validates the terminal tool's argument shape and echoes
// it back; the planner is responsible for persisting the session, since
// this call ends the loop rather than mutating the endpoint.
func (r *Registry) submitAnalysis(_ context.Context, args json.RawMessage) (map[string]any, error) {
	var in SubmitAnalysisArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("parse submit_analysis args: %w", err)
	}
	if in.Reasoning == "" {
		return nil, fmt.Errorf("reasoning is required")
	}
	if in.NextAnalysisInMs != nil {
		if *in.NextAnalysisInMs < 300_000 || *in.NextAnalysisInMs > 86_400_000 {
			return nil, fmt.Errorf("next_analysis_in_ms must be in [300000,86400000], got %d", *in.NextAnalysisInMs)
		}
	}
	return map[string]any{"ok": true}, nil
}

// SubmitAnalysisArgs is the terminal tool's argument shape, exported so
// the planner can re-parse the same JSON for session persistence.
type SubmitAnalysisArgs struct {
	Reasoning        string  `json:"reasoning"`
	ActionsTaken     string  `json:"actions_taken"`
	Confidence       float64 `json:"confidence"`
	NextAnalysisInMs *int64  `json:"next_analysis_in_ms"`
}
