package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config carries everything the process needs from the environment. Secrets
// are required; the rest has working defaults.
type Config struct {
	GitHubToken  string
	GeminiAPIKey string
	DatabaseDSN  string

	Username    string
	Concurrency int
	MaxPages    int
	GeminiModel string
	Debug       bool
}

// Load reads a .env file when present, then the process environment. Missing
// required values fail here, before any client is constructed.
func Load() (*Config, error) {
	// Optional: the environment itself may already be populated.
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	for _, key := range []string{
		"GITHUB_TOKEN", "GEMINI_API_KEY", "DATABASE_DSN",
		"MAINTAINER_USER", "MAINTAINER_CONCURRENCY", "MAINTAINER_MAX_PAGES",
		"MAINTAINER_MODEL", "MAINTAINER_DEBUG",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", key, err)
		}
	}
	v.SetDefault("MAINTAINER_CONCURRENCY", 5)
	v.SetDefault("MAINTAINER_MAX_PAGES", 10)
	v.SetDefault("MAINTAINER_MODEL", "gemini-2.5-flash-lite")
	v.SetDefault("MAINTAINER_DEBUG", false)

	cfg := &Config{
		GitHubToken:  v.GetString("GITHUB_TOKEN"),
		GeminiAPIKey: v.GetString("GEMINI_API_KEY"),
		DatabaseDSN:  v.GetString("DATABASE_DSN"),
		Username:     v.GetString("MAINTAINER_USER"),
		Concurrency:  v.GetInt("MAINTAINER_CONCURRENCY"),
		MaxPages:     v.GetInt("MAINTAINER_MAX_PAGES"),
		GeminiModel:  v.GetString("MAINTAINER_MODEL"),
		Debug:        v.GetBool("MAINTAINER_DEBUG"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.GitHubToken == "" {
		return fmt.Errorf("config: GITHUB_TOKEN is required")
	}
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("config: GEMINI_API_KEY is required")
	}
	if c.DatabaseDSN == "" {
		return fmt.Errorf("config: DATABASE_DSN is required")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("config: MAINTAINER_CONCURRENCY must be at least 1, got %d", c.Concurrency)
	}
	if c.MaxPages < 1 {
		return fmt.Errorf("config: MAINTAINER_MAX_PAGES must be at least 1, got %d", c.MaxPages)
	}
	return nil
}
