package app

import (
	"converge/internal/config"
	"converge/pkg/logging"
)

// Config holds the application configuration
type Config struct {
	// LogLevel and LogFormat configure the logger
	LogLevel  logging.LogLevel
	LogFormat logging.Format

	// Silent discards all log output
	Silent bool

	// ConfigPath is the directory holding config.yaml
	ConfigPath string

	// ModeOverride replaces the mode from config.yaml when set
	ModeOverride config.Mode

	// Loaded configuration, set by NewApplication
	Converge *config.Config
}

// NewConfig creates a new application configuration
func NewConfig(level logging.LogLevel, format logging.Format, configPath string) *Config {
	return &Config{
		LogLevel:   level,
		LogFormat:  format,
		ConfigPath: configPath,
	}
}
