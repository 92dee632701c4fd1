package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"officeagent/internal/domain"
)

// CLI is the interactive terminal front end. It is strictly sequential: one
// line in, one Runner call, one answer out.
type CLI struct {
	runner domain.Runner
	logger *slog.Logger
	in     io.Reader
	out    io.Writer
}

type CLIConfig struct {
	Runner domain.Runner
	Logger *slog.Logger
	In     io.Reader
	Out    io.Writer
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CLI{
		runner: cfg.Runner,
		logger: cfg.Logger,
		in:     cfg.In,
		out:    cfg.Out,
	}
}

func (c *CLI) Name() string { return "cli" }

// Start runs the REPL until the user types exit or quit, stdin reaches EOF, or
// ctx is cancelled. A Runner error ends the loop and is returned.
func (c *CLI) Start(ctx context.Context) error {
	_, _ = fmt.Fprintln(c.out, "Company Agents - Multi-Agent System")
	_, _ = fmt.Fprintln(c.out, "Type 'exit' to quit.")
	_, _ = fmt.Fprintln(c.out)

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		_, _ = fmt.Fprint(c.out, "You: ")
		if !scanner.Scan() {
			_, _ = fmt.Fprintln(c.out)
			return scanner.Err() // nil on EOF
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if isExit(line) {
			c.logger.Debug("user requested quit")
			return nil
		}

		resp, err := c.runner.Run(ctx, line)
		if err != nil {
			return fmt.Errorf("run: %w", err)
		}
		_, _ = fmt.Fprintf(c.out, "Agent: %s\n\n", resp)
	}
}

func isExit(line string) bool {
	return strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit")
}

var _ domain.Channel = (*CLI)(nil)
