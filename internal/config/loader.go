package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"converge/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/converge"
	configFileName = "config.yaml"
)

func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}

	return filepath.Join(homeDir, userConfigDir)
}

// LoadConfig loads config.yaml from configPath. Defaults are applied first,
// then the file, then validation. A missing file yields the defaults.
func LoadConfig(configPath string) (Config, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
			config.applyDefaults()
			return config, nil
		}
		logging.Info("ConfigLoader", "Error loading config.yaml from %s: %s", configFilePath, err)
		return Config{}, NewConfigurationError(configFilePath, configFileName, "io", err)
	}

	config, err = Parse(data)
	if err != nil {
		var verrs ValidationErrors
		if errors.As(err, &verrs) {
			return Config{}, NewConfigurationError(configFilePath, configFileName, "validation", verrs)
		}
		return Config{}, NewConfigurationError(configFilePath, configFileName, "parse", err,
			"check the YAML syntax and that durations are written like \"30s\"")
	}
	logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)
	return config, nil
}

// Parse decodes a config.yaml document over the defaults and validates it.
func Parse(data []byte) (Config, error) {
	config := GetDefaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, err
	}
	config.applyDefaults()
	if err := Validate(config); err != nil {
		return Config{}, err
	}
	return config, nil
}
