// Package agent holds the reasoning loop that turns one user message into one
// answer, plus the orchestrator the channels talk to.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"officeagent/internal/domain"
	"officeagent/internal/metrics"
)

const defaultMaxIterations = 10

// DefaultSystemPrompt is the instruction the office assistant runs with unless
// configuration overrides it.
const DefaultSystemPrompt = "You are a helpful office assistant. You have access to the following tools: " +
	"list_contacts, list_invoices, and upload_document. " +
	"Always use the upload_document tool when the user wants to upload a file."

// ErrMaxIterations is returned when the provider keeps requesting tools past
// the iteration limit.
var ErrMaxIterations = errors.New("agent: maximum tool iterations reached")

// Tools is the subset of the tool registry the agent needs.
type Tools interface {
	Definitions() []domain.ToolDefinition
	Execute(ctx context.Context, name string, args map[string]any) (string, error)
}

// Agent answers a message by alternating provider calls and tool executions
// until the provider produces a reply without tool calls.
type Agent struct {
	provider      domain.Provider
	tools         Tools
	systemPrompt  string
	maxIterations int
	rateLimiter   *RateLimiter
	logger        *slog.Logger
}

// noTools is the registry an agent runs with when none is configured: no
// definitions, and every call is an unknown tool.
type noTools struct{}

func (noTools) Definitions() []domain.ToolDefinition { return nil }

func (noTools) Execute(_ context.Context, name string, _ map[string]any) (string, error) {
	return "", fmt.Errorf("unknown tool: %s", name)
}

type Config struct {
	Provider domain.Provider
	// Tools may be left unset for a tool-less agent. A typed nil pointer is
	// not unset and must not be passed.
	Tools         Tools
	SystemPrompt  string
	MaxIterations int
	RateLimiter   *RateLimiter // optional
	Logger        *slog.Logger
}

func New(cfg Config) *Agent {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.RateLimiter == nil {
		cfg.RateLimiter = NewRateLimiter(defaultRateBurst, defaultRatePerMinute)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tools == nil {
		cfg.Tools = noTools{}
	}
	return &Agent{
		provider:      cfg.Provider,
		tools:         cfg.Tools,
		systemPrompt:  cfg.SystemPrompt,
		maxIterations: cfg.MaxIterations,
		rateLimiter:   cfg.RateLimiter,
		logger:        cfg.Logger,
	}
}

// Run processes a single message synchronously. Each call starts a fresh
// conversation; nothing is remembered between calls.
func (a *Agent) Run(ctx context.Context, message string) (string, error) {
	logger := a.logger
	if id := domain.TurnID(ctx); id != "" {
		logger = logger.With("turn", id)
	}

	messages := []domain.Message{
		{Role: "system", Content: a.systemPrompt},
		{Role: "user", Content: message},
	}

	toolDefs := a.tools.Definitions()

	for iteration := 0; iteration < a.maxIterations; iteration++ {
		logger.Debug("agent iteration", "iteration", iteration+1, "messages", len(messages))

		if err := a.rateLimiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit: %w", err)
		}

		start := time.Now()
		metrics.LLMRequestsTotal.Inc()
		resp, err := a.provider.Chat(ctx, domain.ChatRequest{
			Messages: messages,
			Tools:    toolDefs,
		})
		metrics.LLMLatency.ObserveSince(start)
		if err != nil {
			metrics.LLMErrorsTotal.Inc()
			return "", fmt.Errorf("LLM error: %w", err)
		}

		if !resp.HasToolCalls() {
			logger.Info("agent finished",
				"iterations", iteration+1,
				"response_len", len(resp.Content),
			)
			return resp.Content, nil
		}

		messages = append(messages, domain.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, tc := range resp.ToolCalls {
			result, isError := a.executeTool(ctx, logger, tc)
			messages = append(messages, domain.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
				IsError:    isError,
			})
		}
	}

	logger.Warn("agent hit iteration limit", "max_iterations", a.maxIterations)
	return "", ErrMaxIterations
}

// executeTool runs one tool call. Failures are reported back to the provider
// as an error-flagged result rather than aborting the turn.
func (a *Agent) executeTool(ctx context.Context, logger *slog.Logger, tc domain.ToolCall) (string, bool) {
	logger.Info("executing tool", "tool", tc.Name)
	metrics.ToolExecutions(tc.Name).Inc()

	if logger.Enabled(ctx, slog.LevelDebug) {
		if argsJSON, err := json.Marshal(tc.Arguments); err == nil {
			logger.Debug("tool arguments", "tool", tc.Name, "args", string(argsJSON))
		}
	}

	result, err := a.tools.Execute(ctx, tc.Name, tc.Arguments)
	if err != nil {
		logger.Warn("tool failed", "tool", tc.Name, "error", err)
		return fmt.Sprintf("Error executing tool %s: %s", tc.Name, err.Error()), true
	}

	logger.Debug("tool completed", "tool", tc.Name, "result_len", len(result))
	return result, false
}

var _ domain.Runner = (*Agent)(nil)
