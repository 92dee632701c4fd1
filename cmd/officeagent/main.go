package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"officeagent/internal/agent"
	"officeagent/internal/botframework"
	"officeagent/internal/channel"
	"officeagent/internal/config"
	"officeagent/internal/httpclient"
	"officeagent/internal/lexoffice"
	"officeagent/internal/provider"
	"officeagent/internal/tool"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	version    = "0.1.0"
	logLevel   = new(slog.LevelVar)
	logger     *slog.Logger
	configPath string
	teamsMode  bool
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "officeagent",
		Short:         "Company Agents - Multi-Agent System",
		Long:          "An office assistant for lexoffice, available as an interactive CLI or as a Microsoft Teams bot.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runRoot,
	}

	root.Flags().BoolVar(&teamsMode, "teams", false, "start the Teams bot server (port 3978) instead of the CLI")
	root.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath, "path to the YAML config file")

	root.AddCommand(doctorCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		logger.Error("officeagent failed", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, falling back to defaults when it is absent,
// and applies the configured log level.
func loadConfig() (*config.Config, error) {
	cfg, found, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := logLevel.UnmarshalText([]byte(strings.ToLower(cfg.Log.Level))); err != nil {
		logLevel.Set(slog.LevelInfo)
	}
	if !found {
		logger.Warn("config file not found, using defaults", "path", configPath)
	}
	logger.Debug("configuration loaded", "config", fmt.Sprintf("%+v", *config.Sanitize(cfg)))
	return cfg, nil
}

func runRoot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	orchestrator := buildOrchestrator(cfg)

	if teamsMode {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runTeams(ctx, cfg, orchestrator)
	}

	cli := channel.NewCLI(channel.CLIConfig{Runner: orchestrator, Logger: logger})
	return cli.Start(context.Background())
}

// buildOrchestrator wires lexoffice client -> tools -> provider -> agent.
func buildOrchestrator(cfg *config.Config) *agent.Orchestrator {
	lex := lexoffice.NewClient(lexoffice.Config{
		BaseURL:    cfg.Lexoffice.BaseURL,
		APIKey:     cfg.Lexoffice.APIKey,
		HTTPClient: httpclient.New(time.Duration(cfg.Lexoffice.TimeoutSeconds) * time.Second),
		Logger:     logger.With("component", "lexoffice"),
	})
	if cfg.Lexoffice.APIKey == "" {
		logger.Warn("LEXOFFICE_API_KEY is not set, lexoffice tools will report a configuration error")
	}

	tools := tool.NewLexofficeRegistry(lex, logger.With("component", "tools"))

	if cfg.Anthropic.APIKey == "" {
		logger.Warn("ANTHROPIC_API_KEY is not set, model requests will fail")
	}
	llm := provider.NewAnthropic(provider.AnthropicConfig{
		APIKey:     cfg.Anthropic.APIKey,
		Model:      cfg.Anthropic.Model,
		MaxTokens:  cfg.Anthropic.MaxTokens,
		HTTPClient: httpclient.New(3 * time.Minute),
		Logger:     logger.With("component", "anthropic"),
	})

	officeAgent := agent.New(agent.Config{
		Provider:      llm,
		Tools:         tools,
		SystemPrompt:  cfg.Anthropic.SystemPrompt,
		MaxIterations: cfg.Anthropic.MaxIterations,
		RateLimiter:   agent.NewRateLimiter(cfg.Anthropic.Burst, cfg.Anthropic.RequestsPerMinute),
		Logger:        logger.With("component", "agent"),
	})

	logger.Info("office agent ready", "model", cfg.Anthropic.Model, "tools", tools.Names())
	return agent.NewOrchestrator(agent.OrchestratorConfig{Agent: officeAgent, Logger: logger})
}

func runTeams(ctx context.Context, cfg *config.Config, runner *agent.Orchestrator) error {
	if err := config.ValidateTeams(cfg); err != nil {
		return err
	}
	tc := cfg.Teams
	botHTTP := httpclient.New(60 * time.Second)

	var auth botframework.Authenticator = botframework.NoAuth{}
	if tc.AppID == "" {
		logger.Warn("AZURE_APP_ID is not set, inbound token validation is disabled (emulator mode)")
	} else {
		auth = botframework.NewJWTAuthenticator(botframework.JWTAuthenticatorConfig{
			AppID:      tc.AppID,
			TenantID:   tc.TenantID,
			HTTPClient: botHTTP,
			Logger:     logger.With("component", "bot-auth"),
		})
	}

	connector := botframework.NewConnector(botframework.ConnectorConfig{
		AppID:        tc.AppID,
		ClientSecret: tc.ClientSecret,
		TenantID:     tc.TenantID,
		HTTPClient:   botHTTP,
		Logger:       logger.With("component", "connector"),
	})

	teams := channel.NewTeams(channel.TeamsConfig{
		Addr:               tc.Addr(),
		AllowedTenant:      tc.TenantID,
		UploadsDir:         tc.UploadsDir,
		MaxConcurrentRuns:  tc.MaxConcurrentRuns,
		MaxAttachmentBytes: tc.MaxAttachmentBytes,
		Runner:             runner,
		Authenticator:      auth,
		Replier:            connector,
		HTTPClient:         httpclient.New(2 * time.Minute),
		Logger:             logger.With("component", "teams"),
	})

	fmt.Printf("Teams Bot Server gestartet auf Port %d.\n", tc.Port)
	fmt.Printf("Messaging-Endpunkt: http://%s/api/messages\n", tc.Addr())
	return teams.Start(ctx)
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(config.Sanitize(cfg))
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})
	return cmd
}
