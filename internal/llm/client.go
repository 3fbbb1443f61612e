// Package llm wraps go-openai's tool-calling chat completions behind a
// narrow client the AI planner worker drives (spec.md §4.4.1 step 4). It is
// a generalization of the teacher's internal/scheduler/executor.go pooled
// *http.Client pattern: one reusable client per process, request-scoped
// context timeouts, structured slog around each call.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// ErrNoChoices is returned when the provider responds with zero choices —
// a malformed response the caller should treat as a fatal analysis error.
var ErrNoChoices = errors.New("llm: provider returned no choices")

// Usage mirrors the token accounting fields the quota guard persists via
// sessions.tokenUsage (spec.md §4.6).
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Result is the parsed outcome of one chat completion turn.
type Result struct {
	Content      string
	ToolCalls    []openai.ToolCall
	FinishReason string
	Usage        Usage
}

// Client drives tool-calling chat completions against an OpenAI-compatible
// endpoint.
type Client struct {
	oa          *openai.Client
	model       string
	maxTokens   int
	temperature float32
	logger      *slog.Logger
}

// New builds a Client. apiKey, model, maxTokens, and temperature come from
// config.Config's AI* fields (SPEC_FULL.md §10.1).
func New(apiKey, model string, maxTokens int, temperature float64, logger *slog.Logger) *Client {
	cfg := openai.DefaultConfig(apiKey)
	cfg.HTTPClient = &http.Client{
		Timeout: 2 * time.Minute,
	}
	return NewWithConfig(cfg, model, maxTokens, temperature, logger)
}

// NewWithConfig builds a Client from an explicit openai.ClientConfig,
// letting callers point BaseURL at a mock server — used by planner tests
// to exercise the tool loop against a fake OpenAI-compatible endpoint
// instead of a hand-rolled interface, the same way scheduler tests run
// dispatcher.Dispatcher against an httptest server instead of faking it.
func NewWithConfig(cfg openai.ClientConfig, model string, maxTokens int, temperature float64, logger *slog.Logger) *Client {
	return &Client{
		oa:          openai.NewClientWithConfig(cfg),
		model:       model,
		maxTokens:   maxTokens,
		temperature: float32(temperature),
		logger:      logger.With("component", "llm"),
	}
}

// CompleteWithTools sends one chat completion turn with the given message
// history and tool definitions, and returns the model's reply: either
// assistant content or a batch of tool calls to execute next (spec.md
// §4.4.1 step 4's agentic loop).
func (c *Client) CompleteWithTools(ctx context.Context, messages []openai.ChatCompletionMessage, tools []openai.Tool) (Result, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Tools:       tools,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}

	c.logger.DebugContext(ctx, "sending chat completion", "messages", len(messages), "tools", len(tools))

	resp, err := c.oa.CreateChatCompletion(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, ErrNoChoices
	}

	choice := resp.Choices[0]
	result := Result{
		Content:      choice.Message.Content,
		ToolCalls:    choice.Message.ToolCalls,
		FinishReason: string(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}

	c.logger.DebugContext(ctx, "chat completion done",
		"finish_reason", result.FinishReason,
		"tool_calls", len(result.ToolCalls),
		"total_tokens", result.Usage.TotalTokens,
	)

	return result, nil
}
