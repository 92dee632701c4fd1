package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"officeagent/internal/domain"

	"github.com/invopop/jsonschema"
	"github.com/samber/lo"
)

// Registry is the fixed set of tools the agent may call. It is built once
// and never changes afterwards, so it needs no locking.
type Registry struct {
	tools  map[string]domain.Tool
	logger *slog.Logger
}

// NewRegistry builds a registry from tools. A later tool with the same name
// replaces an earlier one.
func NewRegistry(logger *slog.Logger, tools ...domain.Tool) *Registry {
	r := &Registry{
		tools:  make(map[string]domain.Tool, len(tools)),
		logger: logger,
	}
	for _, t := range tools {
		r.tools[t.Name()] = t
		logger.Debug("registered tool", "name", t.Name())
	}
	return r
}

func (r *Registry) Get(name string) domain.Tool {
	return r.tools[name]
}

func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	t := r.Get(name)
	if t == nil {
		return "", fmt.Errorf("unknown tool: %s (available: %v)", name, r.Names())
	}
	return t.Execute(ctx, args)
}

// Definitions returns the tool declarations sorted by name.
func (r *Registry) Definitions() []domain.ToolDefinition {
	defs := lo.Map(r.Names(), func(name string, _ int) domain.ToolDefinition {
		t := r.tools[name]
		return domain.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		}
	})
	return defs
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := lo.Keys(r.tools)
	sort.Strings(names)
	return names
}

// SchemaFor reflects the JSON Schema "parameters" object of a tool input struct.
func SchemaFor[T any]() map[string]any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	data, err := json.Marshal(reflector.Reflect(v))
	if err != nil {
		panic(fmt.Sprintf("tool schema: %v", err))
	}
	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil {
		panic(fmt.Sprintf("tool schema: %v", err))
	}
	delete(schema, "$schema")
	delete(schema, "$id")
	if _, ok := schema["properties"]; !ok {
		schema["properties"] = map[string]any{}
	}
	return schema
}

func ArgsString(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	v, ok := args[key]
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}
