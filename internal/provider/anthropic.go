package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"officeagent/internal/domain"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/samber/lo"
)

const (
	defaultModel     = "claude-sonnet-4-6"
	defaultMaxTokens = 4096
)

// Anthropic implements domain.Provider on top of the Anthropic Messages API.
type Anthropic struct {
	client    *anthropic.Client
	model     string
	maxTokens int
	logger    *slog.Logger
}

type AnthropicConfig struct {
	APIKey     string
	Model      string
	MaxTokens  int
	BaseURL    string // optional, tests point this at a local server
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewAnthropic creates the provider. SDK retries are disabled: a failed call
// is reported once to the caller.
func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	client := anthropic.NewClient(opts...)

	return &Anthropic{
		client:    &client,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    cfg.Logger,
	}
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = a.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.maxTokens
	}

	system, messages := toAnthropicMessages(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
		Tools:     toAnthropicTools(req.Tools),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	a.logger.Debug("anthropic request", "model", model, "messages", len(messages), "tools", len(params.Tools))

	start := time.Now()
	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	out, err := fromAnthropicMessage(msg)
	if err != nil {
		return nil, err
	}
	out.LatencyMs = time.Since(start).Milliseconds()

	a.logger.Debug("anthropic response",
		"stop_reason", out.FinishReason,
		"tool_calls", len(out.ToolCalls),
		"input_tokens", out.Usage.PromptTokens,
		"output_tokens", out.Usage.CompletionTokens,
		"latency_ms", out.LatencyMs,
	)
	return out, nil
}

// toAnthropicMessages splits off the system prompt and converts the rest.
// Consecutive tool results are folded into a single user message, which is
// what the API expects after an assistant turn with several tool_use blocks.
func toAnthropicMessages(in []domain.Message) (string, []anthropic.MessageParam) {
	var system []string
	var out []anthropic.MessageParam
	var pendingResults []anthropic.ContentBlockParamUnion

	flushResults := func() {
		if len(pendingResults) > 0 {
			out = append(out, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, m := range in {
		switch m.Role {
		case "system":
			system = append(system, m.Content)
		case "tool":
			pendingResults = append(pendingResults, anthropic.ContentBlockParamUnion{
				OfToolResult: &anthropic.ToolResultBlockParam{
					ToolUseID: m.ToolCallID,
					Content: []anthropic.ToolResultBlockParamContentUnion{
						{OfText: &anthropic.TextBlockParam{Text: m.Content}},
					},
					IsError: anthropic.Bool(m.IsError),
				},
			})
		case "assistant":
			flushResults()
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				args := tc.Arguments
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    tc.ID,
						Name:  tc.Name,
						Input: args,
					},
				})
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		default:
			flushResults()
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	flushResults()

	return strings.Join(system, "\n\n"), out
}

func toAnthropicTools(defs []domain.ToolDefinition) []anthropic.ToolUnionParam {
	if len(defs) == 0 {
		return nil
	}
	tools := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		tools = append(tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        d.Name,
				Description: anthropic.String(d.Description),
				InputSchema: toInputSchema(d.Parameters),
			},
		})
	}
	return tools
}

// toInputSchema carries a JSON schema object over to the SDK type. Keys the
// SDK has no field for, such as additionalProperties, travel as extra fields.
func toInputSchema(schema map[string]any) anthropic.ToolInputSchemaParam {
	out := anthropic.ToolInputSchemaParam{Properties: schema["properties"]}
	if out.Properties == nil {
		out.Properties = map[string]any{}
	}
	switch req := schema["required"].(type) {
	case []string:
		out.Required = req
	case []any:
		for _, r := range req {
			if name, ok := r.(string); ok {
				out.Required = append(out.Required, name)
			}
		}
	}
	extra := lo.OmitByKeys(schema, []string{"type", "properties", "required"})
	if len(extra) > 0 {
		out.ExtraFields = extra
	}
	return out
}

func fromAnthropicMessage(msg *anthropic.Message) (*domain.ChatResponse, error) {
	out := &domain.ChatResponse{
		FinishReason: string(msg.StopReason),
		Usage: domain.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}

	var text strings.Builder
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(b.Text)
		case anthropic.ToolUseBlock:
			raw, err := json.Marshal(b.Input)
			if err != nil {
				return nil, fmt.Errorf("tool_use %s input: %w", b.Name, err)
			}
			args := map[string]any{}
			if len(raw) > 0 && string(raw) != "null" {
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, fmt.Errorf("tool_use %s input: %w", b.Name, err)
				}
			}
			out.ToolCalls = append(out.ToolCalls, domain.ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: args,
			})
		}
	}
	out.Content = text.String()
	return out, nil
}

var _ domain.Provider = (*Anthropic)(nil)
