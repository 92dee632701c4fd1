package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every variable ApplyEnv reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"LEXOFFICE_API_KEY", "ANTHROPIC_API_KEY", "ANTHROPIC_MODEL",
		"AZURE_APP_ID", "AZURE_CLIENT_SECRET", "AZURE_TENANT_ID", "DEBUG",
	} {
		t.Setenv(k, "")
	}
}

// --- Validate ---

func TestValidate_Defaults(t *testing.T) {
	require.NoError(t, Validate(Defaults()))
}

func TestValidate_MaxIterations(t *testing.T) {
	cfg := Defaults()
	cfg.Anthropic.MaxIterations = 0
	assert.Error(t, Validate(cfg))

	cfg.Anthropic.MaxIterations = 101
	assert.Error(t, Validate(cfg))

	cfg.Anthropic.MaxIterations = 1
	assert.NoError(t, Validate(cfg))
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Defaults()
	cfg.Teams.Port = -1
	assert.Error(t, Validate(cfg))

	cfg.Teams.Port = 70000
	assert.Error(t, Validate(cfg))
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.Log.Level = "verbose"
	assert.Error(t, Validate(cfg))
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Teams.MaxConcurrentRuns = 0
	cfg.Lexoffice.BaseURL = ""

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "teams.maxConcurrentRuns")
	assert.Contains(t, err.Error(), "lexoffice.baseURL")
}

func TestValidateTeams_RequiresTenant(t *testing.T) {
	cfg := Defaults()
	assert.ErrorIs(t, ValidateTeams(cfg), ErrTenantRequired)

	cfg.Teams.TenantID = "tenant-1"
	assert.NoError(t, ValidateTeams(cfg))
}

// --- Load ---

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, found, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 3978, cfg.Teams.Port)
	assert.Equal(t, "https://api.lexoffice.io/v1", cfg.Lexoffice.BaseURL)
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_LEX_KEY", "lex-from-file")
	path := filepath.Join(t.TempDir(), "officeagent.yaml")
	content := `
lexoffice:
  apiKey: ${TEST_LEX_KEY}
teams:
  port: 4000
  tenantId: ${TEST_TENANT:-tenant-default}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, found, err := Load(path)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "lex-from-file", cfg.Lexoffice.APIKey)
	assert.Equal(t, 4000, cfg.Teams.Port)
	assert.Equal(t, "tenant-default", cfg.Teams.TenantID)
	// untouched sections keep their defaults
	assert.Equal(t, "claude-sonnet-4-6", cfg.Anthropic.Model)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "officeagent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("teams:\n  tenantId: from-file\n"), 0o644))
	t.Setenv("AZURE_TENANT_ID", "from-env")
	t.Setenv("DEBUG", "TRUE")

	cfg, _, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Teams.TenantID)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "officeagent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("teams: [unclosed"), 0o644))

	_, _, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_ValidatesConfig(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "officeagent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("anthropic:\n  maxIterations: 0\n"), 0o644))

	_, _, err := Load(path)
	assert.Error(t, err)
}

// --- Sanitize ---

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Lexoffice.APIKey = "lexoffice-secret-key"
	cfg.Anthropic.APIKey = "sk-ant-1234567890"
	cfg.Teams.ClientSecret = "short"

	s := Sanitize(cfg)
	assert.Equal(t, "lexo****-key", s.Lexoffice.APIKey)
	assert.NotEqual(t, cfg.Anthropic.APIKey, s.Anthropic.APIKey)
	assert.Equal(t, "****", s.Teams.ClientSecret)
	// original untouched
	assert.Equal(t, "lexoffice-secret-key", cfg.Lexoffice.APIKey)
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_SimpleSubstitution(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-abc123")
	assert.Equal(t, `apiKey: "sk-abc123"`, ExpandEnvVars(`apiKey: "${TEST_API_KEY}"`))
}

func TestExpandEnvVars_DefaultValue(t *testing.T) {
	os.Unsetenv("NONEXISTENT_VAR_12345")
	assert.Equal(t, "port: 8080", ExpandEnvVars("port: ${NONEXISTENT_VAR_12345:-8080}"))
}

func TestExpandEnvVars_SetVarOverridesDefault(t *testing.T) {
	t.Setenv("MY_PORT", "9090")
	assert.Equal(t, "port: 9090", ExpandEnvVars("port: ${MY_PORT:-8080}"))
}

func TestExpandEnvVars_UnsetVarNoDefault_IsEmpty(t *testing.T) {
	os.Unsetenv("TOTALLY_UNSET_VAR_XYZ")
	assert.Equal(t, `key: ""`, ExpandEnvVars(`key: "${TOTALLY_UNSET_VAR_XYZ}"`))
}

func TestExpandEnvVars_NoVarsInInput(t *testing.T) {
	input := "key: value\nnumber: 42"
	assert.Equal(t, input, ExpandEnvVars(input))
}
