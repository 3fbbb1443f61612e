package planner_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/cronicorn/cronicorn/internal/clock"
	"github.com/cronicorn/cronicorn/internal/domain"
	"github.com/cronicorn/cronicorn/internal/llm"
	"github.com/cronicorn/cronicorn/internal/memrepo"
	"github.com/cronicorn/cronicorn/internal/planner"
	"github.com/cronicorn/cronicorn/internal/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeOpenAI serves a scripted sequence of chat completion responses: a
// read-tool call on the first turn, then submit_analysis on the second —
// the minimal shape of the agentic loop spec.md §4.4.1 step 4 describes.
func fakeOpenAI(t *testing.T) *httptest.Server {
	t.Helper()
	turn := 0
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		turn++
		var resp openai.ChatCompletionResponse
		resp.ID = "cmpl-test"
		resp.Usage = openai.Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120}

		var toolCall openai.ToolCall
		if turn == 1 {
			toolCall = openai.ToolCall{
				ID:   "call-1",
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      "get_latest_response",
					Arguments: "{}",
				},
			}
		} else {
			toolCall = openai.ToolCall{
				ID:   "call-2",
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      "submit_analysis",
					Arguments: `{"reasoning":"endpoint is healthy, no change needed","next_analysis_in_ms":900000}`,
				},
			}
		}

		resp.Choices = []openai.ChatCompletionChoice{{
			Index: 0,
			Message: openai.ChatCompletionMessage{
				Role:      openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{toolCall},
			},
			FinishReason: openai.FinishReasonToolCalls,
		}}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestWorkerAnalyzesFirstTimeEndpointAndPersistsSession(t *testing.T) {
	srv := fakeOpenAI(t)
	defer srv.Close()

	store := memrepo.New()
	runs := memrepo.NewRuns(store)
	sessions := memrepo.NewSessions(store)

	store.PutUser(&domain.User{ID: "tenant-1", Email: "a@example.com", Tier: domain.TierPro})

	interval := int64(60_000)
	now := time.Now()
	ep := &domain.Endpoint{
		ID:                 "ep-1",
		TenantID:           "tenant-1",
		BaselineIntervalMs: &interval,
		URL:                "https://example.test/hook",
		Method:             domain.MethodGET,
		NextRunAt:          now.Add(time.Minute),
	}
	store.PutEndpoint(ep)

	ctx := context.Background()
	run, err := runs.Create(ctx, repository.CreateRunInput{EndpointID: "ep-1", Attempt: 1, Source: domain.SourceBaselineInterval})
	if err != nil {
		t.Fatalf("seed run: %v", err)
	}
	if err := runs.Finish(ctx, run.ID, repository.FinishRunInput{Status: domain.RunSuccess, DurationMs: 42}); err != nil {
		t.Fatalf("finish seed run: %v", err)
	}

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL
	llmClient := llm.NewWithConfig(cfg, "gpt-4o-mini", 1500, 0.7, discardLogger())

	worker := planner.NewWorker(store, runs, sessions, store, store, llmClient, clock.Real{}, discardLogger(), planner.Config{
		AnalysisInterval: 20 * time.Millisecond,
		LookbackMinutes:  5,
		MaxTokens:        1500,
	})

	runCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	go worker.Start(runCtx)
	<-runCtx.Done()

	session, err := sessions.GetLastSession(ctx, "ep-1")
	if err != nil {
		t.Fatalf("get last session: %v", err)
	}
	if session == nil {
		t.Fatal("expected a session to be persisted")
	}
	if session.Reasoning == "" {
		t.Error("expected non-empty reasoning")
	}
	if session.NextAnalysisAt == nil {
		t.Error("expected next analysis deadline to be set from submit_analysis")
	}
	if session.TokenUsage == nil || *session.TokenUsage == 0 {
		t.Error("expected non-zero token usage")
	}
}
