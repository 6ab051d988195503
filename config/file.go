package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	configDirName  = ".bdm"
	configFileName = "config.yaml"
)

// ConfigDir returns ~/.bdm, where the config file and the default stores
// live.
func ConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, configDirName), nil
}

// ConfigFilePath returns the path of the config file. BDM_CONFIG overrides
// the default ~/.bdm/config.yaml.
func ConfigFilePath() (string, error) {
	if path := os.Getenv("BDM_CONFIG"); path != "" {
		return path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// LoadConfigFile loads the config file. Returns nil if the file doesn't exist
// (not an error). Returns error if the file exists but cannot be parsed.
// Settings the file leaves out keep their defaults.
func LoadConfigFile() (*Config, error) {
	configPath, err := ConfigFilePath()
	if err != nil {
		return nil, err
	}
	return LoadConfigFileFrom(configPath)
}

// LoadConfigFileFrom is LoadConfigFile for an explicit path.
func LoadConfigFileFrom(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Decoding over the defaults keeps every key the file omits.
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.Path = configPath

	return cfg, nil
}

// WriteDefaultConfigFile writes the default configuration to the config file
// path, with storage under ~/.bdm. It reports whether a file was written; an
// existing file is left alone unless force is set.
func WriteDefaultConfigFile(force bool) (bool, error) {
	configPath, err := ConfigFilePath()
	if err != nil {
		return false, err
	}
	dir, err := ConfigDir()
	if err != nil {
		return false, err
	}

	cfg := Default()
	cfg.Storage.DSN = filepath.Join(dir, defaultSQLiteFile)
	return writeConfigFile(configPath, cfg, force)
}

func writeConfigFile(configPath string, cfg *Config, force bool) (bool, error) {
	if _, err := os.Stat(configPath); err == nil && !force {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o700); err != nil {
		return false, fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return false, fmt.Errorf("failed to encode config: %w", err)
	}

	header := []byte("# bdm configuration. Environment variables (BDM_*) override these values.\n")
	if err := os.WriteFile(configPath, append(header, data...), 0o600); err != nil {
		return false, fmt.Errorf("failed to write config file: %w", err)
	}

	return true, nil
}
