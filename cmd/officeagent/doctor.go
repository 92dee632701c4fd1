package main

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"officeagent/internal/config"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, credentials and connectivity",
		Long: `Verifies that the configuration loads, the API keys for lexoffice and
Anthropic are present, the Teams settings are complete, the uploads
directory is writable and the lexoffice API is reachable.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("officeagent doctor v%s\n\n", version)

			var passed, warned, failed int
			pass := func(check, detail string) { printPass(check, detail); passed++ }
			warn := func(check, detail string) { printWarn(check, detail); warned++ }
			fail := func(check, detail string) { printFail(check, detail); failed++ }

			if _, err := os.Stat(configPath); err != nil {
				warn("Config file", fmt.Sprintf("not found at %s, defaults and environment apply", configPath))
			} else {
				pass("Config file", configPath)
			}

			cfg, _, err := config.Load(configPath)
			if err != nil {
				fail("Config validation", err.Error())
				fmt.Printf("\n%d passed, %d warnings, %d failed\n", passed, warned, failed)
				return fmt.Errorf("%d check(s) failed", failed)
			}
			pass("Config validation", "valid")

			if cfg.Lexoffice.APIKey == "" {
				fail("Lexoffice API key", "LEXOFFICE_API_KEY is not set")
			} else {
				pass("Lexoffice API key", "configured")
			}
			if cfg.Anthropic.APIKey == "" {
				fail("Anthropic API key", "ANTHROPIC_API_KEY is not set")
			} else {
				pass("Anthropic API key", cfg.Anthropic.Model)
			}

			if err := config.ValidateTeams(cfg); err != nil {
				warn("Teams tenant", "AZURE_TENANT_ID is not set, --teams will refuse to start")
			} else {
				pass("Teams tenant", cfg.Teams.TenantID)
			}
			if cfg.Teams.AppID == "" {
				warn("Teams app id", "AZURE_APP_ID is not set, bot runs in emulator mode")
			} else if cfg.Teams.ClientSecret == "" {
				fail("Teams app secret", "AZURE_CLIENT_SECRET is not set")
			} else {
				pass("Teams credentials", cfg.Teams.AppID)
			}

			if err := checkWritableDir(cfg.Teams.UploadsDir); err != nil {
				fail("Uploads dir", err.Error())
			} else {
				pass("Uploads dir", cfg.Teams.UploadsDir)
			}

			if err := checkPort(cfg.Teams.Addr()); err != nil {
				warn("Bot port", fmt.Sprintf("%s may be in use: %v", cfg.Teams.Addr(), err))
			} else {
				pass("Bot port", cfg.Teams.Addr()+" available")
			}

			if err := checkReachable(cfg.Lexoffice.BaseURL); err != nil {
				warn("Lexoffice API", err.Error())
			} else {
				pass("Lexoffice API", cfg.Lexoffice.BaseURL)
			}

			fmt.Printf("\nResults: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
}

func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create %s: %w", dir, err)
	}
	marker := filepath.Join(dir, ".doctor")
	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		return fmt.Errorf("%s not writable: %w", dir, err)
	}
	return os.Remove(marker)
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}

// checkReachable dials the API host; it does not authenticate.
func checkReachable(baseURL string) error {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid base URL %q", baseURL)
	}
	host := u.Host
	if u.Port() == "" {
		port := "443"
		if u.Scheme == "http" {
			port = "80"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}
	conn, err := net.DialTimeout("tcp", host, 5*time.Second)
	if err != nil {
		return fmt.Errorf("cannot reach %s: %w", host, err)
	}
	return conn.Close()
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
