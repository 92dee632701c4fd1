package agent

import (
	"context"
	"log/slog"
	"time"

	"officeagent/internal/domain"
)

// Orchestrator is the entry point both channels call. It currently forwards
// every message to a single agent; routing between several agents would be
// added here.
type Orchestrator struct {
	agent  domain.Runner
	logger *slog.Logger
}

type OrchestratorConfig struct {
	Agent  domain.Runner
	Logger *slog.Logger
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{agent: cfg.Agent, logger: cfg.Logger}
}

// Run hands the message to the agent and returns its answer unchanged.
func (o *Orchestrator) Run(ctx context.Context, message string) (string, error) {
	start := time.Now()
	resp, err := o.agent.Run(ctx, message)
	o.logger.Debug("orchestrator run",
		"turn", domain.TurnID(ctx),
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err != nil,
	)
	return resp, err
}

var _ domain.Runner = (*Orchestrator)(nil)
