package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrTenantRequired is returned by ValidateTeams when no tenant is configured.
var ErrTenantRequired = errors.New("AZURE_TENANT_ID is not set. Single-tenant bots require an explicit " +
	"tenant so the Bot Framework can validate tokens against the correct " +
	"Azure AD authority (login.microsoftonline.com/<tenant_id>)")

// Config is the root configuration for officeagent.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Lexoffice LexofficeConfig `yaml:"lexoffice"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Teams     TeamsConfig     `yaml:"teams"`
}

type LogConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
}

type LexofficeConfig struct {
	APIKey         string `yaml:"apiKey"`
	BaseURL        string `yaml:"baseURL"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

type AnthropicConfig struct {
	APIKey            string  `yaml:"apiKey"`
	Model             string  `yaml:"model"`
	MaxTokens         int     `yaml:"maxTokens"`
	MaxIterations     int     `yaml:"maxIterations"`
	RequestsPerMinute float64 `yaml:"requestsPerMinute"`
	Burst             int     `yaml:"burst"`
	SystemPrompt      string  `yaml:"systemPrompt,omitempty"` // overrides the built-in instruction
}

type TeamsConfig struct {
	AppID              string `yaml:"appId"`
	ClientSecret       string `yaml:"clientSecret"`
	TenantID           string `yaml:"tenantId"`
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	UploadsDir         string `yaml:"uploadsDir"`
	MaxConcurrentRuns  int    `yaml:"maxConcurrentRuns"`
	MaxAttachmentBytes int64  `yaml:"maxAttachmentBytes"`
}

// Addr returns the listen address of the bot server.
func (t TeamsConfig) Addr() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// DefaultConfigPath is looked up in the working directory when --config is not given.
const DefaultConfigPath = "officeagent.yaml"

// Load reads the YAML file at path (when it exists) on top of Defaults and then
// applies environment overrides. A missing file is not an error; found reports
// whether a file was read.
func Load(path string) (cfg *Config, found bool, err error) {
	cfg = Defaults()

	path = ExpandPath(path)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		found = true
		data = []byte(ExpandEnvVars(string(data)))
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, false, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, false, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	ApplyEnv(cfg)
	cfg.Teams.UploadsDir = ExpandPath(cfg.Teams.UploadsDir)

	if err := Validate(cfg); err != nil {
		return nil, found, fmt.Errorf("config validation: %w", err)
	}
	return cfg, found, nil
}

// ApplyEnv overrides config values with the process environment. Only
// non-empty variables take effect.
func ApplyEnv(cfg *Config) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.Lexoffice.APIKey, "LEXOFFICE_API_KEY")
	set(&cfg.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	set(&cfg.Anthropic.Model, "ANTHROPIC_MODEL")
	set(&cfg.Teams.AppID, "AZURE_APP_ID")
	set(&cfg.Teams.ClientSecret, "AZURE_CLIENT_SECRET")
	set(&cfg.Teams.TenantID, "AZURE_TENANT_ID")

	if strings.EqualFold(os.Getenv("DEBUG"), "true") {
		cfg.Log.Level = "debug"
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset VAR
// without default expands to the empty string so missing secrets stay missing.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		if val, ok := os.LookupEnv(groups[1]); ok && val != "" {
			return val
		}
		if len(groups) >= 3 {
			return groups[2]
		}
		return ""
	})
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "log.level must be one of: debug, info, warn, error")
	}

	if cfg.Lexoffice.BaseURL == "" {
		errs = append(errs, "lexoffice.baseURL is required")
	}
	if cfg.Lexoffice.TimeoutSeconds < 1 {
		errs = append(errs, "lexoffice.timeoutSeconds must be >= 1")
	}

	if cfg.Anthropic.Model == "" {
		errs = append(errs, "anthropic.model is required")
	}
	if cfg.Anthropic.MaxTokens < 1 {
		errs = append(errs, "anthropic.maxTokens must be >= 1")
	}
	if cfg.Anthropic.MaxIterations < 1 || cfg.Anthropic.MaxIterations > 100 {
		errs = append(errs, "anthropic.maxIterations must be between 1 and 100")
	}
	if cfg.Anthropic.RequestsPerMinute < 0 {
		errs = append(errs, "anthropic.requestsPerMinute must be >= 0")
	}

	if cfg.Teams.Port < 0 || cfg.Teams.Port > 65535 {
		errs = append(errs, "teams.port must be between 0 and 65535")
	}
	if cfg.Teams.UploadsDir == "" {
		errs = append(errs, "teams.uploadsDir is required")
	}
	if cfg.Teams.MaxConcurrentRuns < 1 || cfg.Teams.MaxConcurrentRuns > 256 {
		errs = append(errs, "teams.maxConcurrentRuns must be between 1 and 256")
	}
	if cfg.Teams.MaxAttachmentBytes < 1 {
		errs = append(errs, "teams.maxAttachmentBytes must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ValidateTeams checks the settings the bot server cannot start without.
func ValidateTeams(cfg *Config) error {
	if strings.TrimSpace(cfg.Teams.TenantID) == "" {
		return ErrTenantRequired
	}
	return nil
}

// Sanitize returns a copy with secrets masked, safe to log.
func Sanitize(cfg *Config) *Config {
	c := *cfg
	c.Lexoffice.APIKey = mask(c.Lexoffice.APIKey)
	c.Anthropic.APIKey = mask(c.Anthropic.APIKey)
	c.Teams.ClientSecret = mask(c.Teams.ClientSecret)
	return &c
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
