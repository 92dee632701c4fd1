package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"officeagent/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedProvider returns the queued responses in order and records every request.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*domain.ChatResponse
	err       error
	requests  []domain.ChatRequest
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// Copy the slice; the agent appends to it after the call.
	req.Messages = append([]domain.Message(nil), req.Messages...)
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	if len(p.responses) == 0 {
		return &domain.ChatResponse{Content: "done"}, nil
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

type fakeTools struct {
	defs    []domain.ToolDefinition
	results map[string]string
	errs    map[string]error
	calls   []string
}

func (f *fakeTools) Definitions() []domain.ToolDefinition { return f.defs }

func (f *fakeTools) Execute(_ context.Context, name string, _ map[string]any) (string, error) {
	f.calls = append(f.calls, name)
	if err := f.errs[name]; err != nil {
		return "", err
	}
	return f.results[name], nil
}

func newTestAgent(p domain.Provider, tools Tools, maxIter int) *Agent {
	return New(Config{
		Provider:      p,
		Tools:         tools,
		MaxIterations: maxIter,
		RateLimiter:   NewRateLimiter(100, 60000),
		Logger:        quietLogger(),
	})
}

func TestAgent_DirectAnswer(t *testing.T) {
	p := &scriptedProvider{responses: []*domain.ChatResponse{{Content: "Hallo!"}}}
	tools := &fakeTools{defs: []domain.ToolDefinition{{Name: "list_contacts"}}}
	a := newTestAgent(p, tools, 0)

	resp, err := a.Run(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "Hallo!", resp)

	require.Len(t, p.requests, 1)
	msgs := p.requests[0].Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, DefaultSystemPrompt, msgs[0].Content)
	assert.Equal(t, "user", msgs[1].Role)
	assert.Equal(t, "hi", msgs[1].Content)
	assert.Len(t, p.requests[0].Tools, 1)
	assert.Empty(t, tools.calls)
}

func TestAgent_ToolRoundTrip(t *testing.T) {
	p := &scriptedProvider{responses: []*domain.ChatResponse{
		{ToolCalls: []domain.ToolCall{
			{ID: "1", Name: "list_contacts"},
			{ID: "2", Name: "list_invoices"},
		}},
		{Content: "You have 2 contacts."},
	}}
	tools := &fakeTools{results: map[string]string{
		"list_contacts": `[{"id":"c1"},{"id":"c2"}]`,
		"list_invoices": `[]`,
	}}
	a := newTestAgent(p, tools, 0)

	resp, err := a.Run(context.Background(), "how many contacts?")
	require.NoError(t, err)
	assert.Equal(t, "You have 2 contacts.", resp)
	assert.Equal(t, []string{"list_contacts", "list_invoices"}, tools.calls)

	require.Len(t, p.requests, 2)
	second := p.requests[1].Messages
	require.Len(t, second, 5)
	assert.Equal(t, "assistant", second[2].Role)
	assert.Equal(t, "tool", second[3].Role)
	assert.Equal(t, "1", second[3].ToolCallID)
	assert.Equal(t, `[{"id":"c1"},{"id":"c2"}]`, second[3].Content)
	assert.Equal(t, "2", second[4].ToolCallID)
	assert.False(t, second[4].IsError)
}

func TestAgent_ToolErrorBecomesErrorResult(t *testing.T) {
	p := &scriptedProvider{responses: []*domain.ChatResponse{
		{ToolCalls: []domain.ToolCall{{ID: "1", Name: "list_contacts"}}},
		{Content: "The accounting service is unavailable."},
	}}
	tools := &fakeTools{errs: map[string]error{"list_contacts": errors.New("HTTP 500")}}
	a := newTestAgent(p, tools, 0)

	resp, err := a.Run(context.Background(), "contacts")
	require.NoError(t, err)
	assert.Equal(t, "The accounting service is unavailable.", resp)

	result := p.requests[1].Messages[3]
	assert.True(t, result.IsError)
	assert.Equal(t, "Error executing tool list_contacts: HTTP 500", result.Content)
}

func TestAgent_ProviderError(t *testing.T) {
	cause := errors.New("overloaded")
	a := newTestAgent(&scriptedProvider{err: cause}, &fakeTools{}, 0)

	_, err := a.Run(context.Background(), "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
}

func TestAgent_MaxIterations(t *testing.T) {
	loop := &domain.ChatResponse{ToolCalls: []domain.ToolCall{{ID: "x", Name: "list_contacts"}}}
	p := &scriptedProvider{responses: []*domain.ChatResponse{loop, loop, loop}}
	tools := &fakeTools{results: map[string]string{"list_contacts": "[]"}}
	a := newTestAgent(p, tools, 2)

	_, err := a.Run(context.Background(), "loop forever")
	assert.ErrorIs(t, err, ErrMaxIterations)
	assert.Len(t, p.requests, 2)
}

func TestAgent_CustomSystemPrompt(t *testing.T) {
	p := &scriptedProvider{}
	a := New(Config{Provider: p, SystemPrompt: "be brief", Logger: quietLogger()})

	_, err := a.Run(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "be brief", p.requests[0].Messages[0].Content)
}

func TestAgent_WithoutToolsAnswersUnknownTool(t *testing.T) {
	p := &scriptedProvider{responses: []*domain.ChatResponse{
		{ToolCalls: []domain.ToolCall{{ID: "1", Name: "list_contacts"}}},
		{Content: "I cannot look that up."},
	}}
	a := New(Config{Provider: p, RateLimiter: NewRateLimiter(100, 60000), Logger: quietLogger()})

	resp, err := a.Run(context.Background(), "contacts")
	require.NoError(t, err)
	assert.Equal(t, "I cannot look that up.", resp)

	assert.Empty(t, p.requests[0].Tools)
	result := p.requests[1].Messages[3]
	assert.True(t, result.IsError)
	assert.Equal(t, "Error executing tool list_contacts: unknown tool: list_contacts", result.Content)
}

func TestAgent_NoStateBetweenRuns(t *testing.T) {
	p := &scriptedProvider{}
	a := newTestAgent(p, &fakeTools{}, 0)

	_, err := a.Run(context.Background(), "first")
	require.NoError(t, err)
	_, err = a.Run(context.Background(), "second")
	require.NoError(t, err)

	require.Len(t, p.requests, 2)
	assert.Len(t, p.requests[1].Messages, 2)
	assert.Equal(t, "second", p.requests[1].Messages[1].Content)
}

func TestAgent_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := New(Config{
		Provider:    &scriptedProvider{},
		RateLimiter: NewRateLimiter(1, 1),
		Logger:      quietLogger(),
	})
	// Drain the only token so Wait has to block on ctx.
	require.NoError(t, a.rateLimiter.Wait(context.Background()))

	_, err := a.Run(ctx, "hi")
	assert.ErrorIs(t, err, context.Canceled)
}
