package domain

import "context"

// Runner turns one user message into one response. The orchestrator and the
// agent both implement it; channels only ever see a Runner.
type Runner interface {
	Run(ctx context.Context, message string) (string, error)
}

// Channel is a front end that feeds user input to a Runner.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
}

type turnIDKey struct{}

// WithTurnID tags ctx with the correlation id of the current user turn.
func WithTurnID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, turnIDKey{}, id)
}

// TurnID returns the correlation id set by WithTurnID, or "".
func TurnID(ctx context.Context) string {
	id, _ := ctx.Value(turnIDKey{}).(string)
	return id
}
