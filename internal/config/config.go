// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	// Directory is the hosted identity provider owning user accounts and
	// staff sign-ins.
	Directory DirectoryConfig

	// Email configures the shared inbox: outbound provider and inbound
	// ingestion restrictions.
	Email EmailConfig

	// AgentOfflineTTL is how long an agent may go unseen before the presence
	// sweeper flips them offline.
	AgentOfflineTTL time.Duration
}

// DirectoryConfig holds identity-provider API access.
type DirectoryConfig struct {
	APIURL    string
	SecretKey string
}

// EmailConfig holds email provider and ingestion settings.
type EmailConfig struct {
	ServiceURL          string
	ServiceKey          string
	FromAddress         string
	AllowedDestinations []string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/console.db"),
		Directory: DirectoryConfig{
			APIURL:    getEnv("DIRECTORY_API_URL", "https://api.clerk.com/v1"),
			SecretKey: getEnv("DIRECTORY_SECRET_KEY", ""),
		},
		Email: EmailConfig{
			ServiceURL:          getEnv("EMAIL_SERVICE_URL", "https://api.resend.com"),
			ServiceKey:          getEnv("EMAIL_SERVICE_KEY", ""),
			FromAddress:         getEnv("EMAIL_FROM_ADDRESS", "support@beanjournal.site"),
			AllowedDestinations: splitList(getEnv("INBOUND_ALLOWED_DESTINATIONS", "")),
		},
		AgentOfflineTTL: getEnvDuration("AGENT_OFFLINE_TTL", 10*time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Email.FromAddress == "" {
		return fmt.Errorf("EMAIL_FROM_ADDRESS cannot be empty")
	}
	if c.AgentOfflineTTL <= 0 {
		return fmt.Errorf("AGENT_OFFLINE_TTL must be > 0")
	}
	if !c.IsDevelopment() && c.Directory.SecretKey == "" {
		return fmt.Errorf("DIRECTORY_SECRET_KEY is required outside development")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
