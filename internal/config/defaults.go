package config

func Defaults() *Config {
	return &Config{
		Log: LogConfig{
			Level: "info",
		},
		Lexoffice: LexofficeConfig{
			BaseURL:        "https://api.lexoffice.io/v1",
			TimeoutSeconds: 60,
		},
		Anthropic: AnthropicConfig{
			Model:             "claude-sonnet-4-6",
			MaxTokens:         4096,
			MaxIterations:     10,
			RequestsPerMinute: 30,
			Burst:             5,
		},
		Teams: TeamsConfig{
			Host:               "0.0.0.0",
			Port:               3978,
			UploadsDir:         "uploads",
			MaxConcurrentRuns:  8,
			MaxAttachmentBytes: 50 * 1024 * 1024,
		},
	}
}
