// Package config loads highwind settings from YAML files for the CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/refinery29/highwind"
)

// Load reads and validates one settings file.
func Load(filePath string) (*highwind.Settings, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var settings highwind.Settings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &settings, nil
}

// LoadFromDir loads every YAML settings file in a directory. Each file
// describes one independent server instance.
func LoadFromDir(dirPath string) ([]*highwind.Settings, error) {
	files, err := filepath.Glob(filepath.Join(dirPath, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("error finding YAML files: %w", err)
	}

	ymlFiles, err := filepath.Glob(filepath.Join(dirPath, "*.yml"))
	if err != nil {
		return nil, fmt.Errorf("error finding YML files: %w", err)
	}
	files = append(files, ymlFiles...)

	if len(files) == 0 {
		return nil, fmt.Errorf("no YAML configuration files found in %s", dirPath)
	}

	var configs []*highwind.Settings
	for _, file := range files {
		settings, err := Load(file)
		if err != nil {
			return nil, fmt.Errorf("error loading config from %s: %w", file, err)
		}
		configs = append(configs, settings)
	}

	return configs, nil
}

// Dir returns the directory settings files are looked up in.
func Dir() string {
	if configDir := os.Getenv("CONFIG_DIR"); configDir != "" {
		return configDir
	}
	return "./config"
}
