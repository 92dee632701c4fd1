package domain

import "context"

// Tool is a named, schema-described operation the provider may invoke.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
}
