// Package config contains everything related to configuration
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the static application configuration resolved at startup.
// Mutable user preferences live in the settings service instead.
type Config struct {
	SettingsPath       string
	HistoryPath        string
	DatabasePath       string
	ClaudeConfigDir    string
	CodexConfigDir     string
	GeminiConfigDir    string
	GoogleClientID     string
	GoogleClientSecret string
	HTTPTimeout        time.Duration
	CLITimeout         time.Duration
	Debug              bool
}

// Default values
const (
	defaultHTTPTimeout = 30 * time.Second
	defaultCLITimeout  = 2 * time.Second
)

// Load reads configuration from .env files and environment variables.
func Load() (*Config, error) {
	// Try loading .env from multiple locations
	for _, path := range getEnvPaths() {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			break
		}
	}

	home, _ := os.UserHomeDir()
	configDir := filepath.Join(home, ".config", "quotebar")

	cfg := &Config{
		SettingsPath:       getEnvString("QUOTEBAR_SETTINGS_PATH", filepath.Join(configDir, "settings.json")),
		HistoryPath:        getEnvString("QUOTEBAR_HISTORY_PATH", filepath.Join(configDir, "request-history.json")),
		DatabasePath:       getEnvString("QUOTEBAR_DATABASE_PATH", filepath.Join(configDir, "usage.db")),
		ClaudeConfigDir:    getEnvString("QUOTEBAR_CLAUDE_DIR", filepath.Join(home, ".claude")),
		CodexConfigDir:     getEnvString("QUOTEBAR_CODEX_DIR", filepath.Join(home, ".codex")),
		GeminiConfigDir:    getEnvString("QUOTEBAR_GEMINI_DIR", filepath.Join(home, ".gemini")),
		GoogleClientID:     getEnvString("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnvString("GOOGLE_CLIENT_SECRET", ""),
		HTTPTimeout:        getEnvDuration("QUOTEBAR_HTTP_TIMEOUT", defaultHTTPTimeout),
		CLITimeout:         getEnvDuration("QUOTEBAR_CLI_TIMEOUT", defaultCLITimeout),
		Debug:              getEnvBool("QUOTEBAR_DEBUG", false),
	}

	// Ensure the config directory exists for settings, history and database
	for _, p := range []string{cfg.SettingsPath, cfg.HistoryPath, cfg.DatabasePath} {
		if err := ensureDir(filepath.Dir(p)); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// getEnvPaths returns a list of paths to check for .env files.
func getEnvPaths() []string {
	var paths []string

	// Current directory
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".env"))
	}

	// Home directory location
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "quotebar", ".env"))
	}

	return paths
}

// getEnvString retrieves a string environment variable or returns the default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable or returns the default.
// Accepts values like "30s", "1m", "500ms".
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		// Try parsing as seconds if no unit specified
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns the default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// ensureDir creates a directory and all parent directories if they don't exist.
func ensureDir(path string) error {
	if path == "" || path == "." {
		return nil
	}
	return os.MkdirAll(path, 0o750)
}
