// Package config loads the daemon configuration and imposter definition
// files.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shamd/shamd/pkg/imposter"
)

// Common errors for configuration loading.
var (
	ErrFileNotFound = errors.New("configuration file not found")
	ErrEmptyFile    = errors.New("configuration file is empty")
	ErrInvalidJSON  = errors.New("invalid JSON syntax")
	ErrInvalidYAML  = errors.New("invalid YAML syntax")
)

// Config is the daemon configuration.
type Config struct {
	// AdminPort is the port of the management API.
	AdminPort int `yaml:"adminPort" json:"adminPort"`

	// LogLevel is debug, info, warn, or error.
	LogLevel string `yaml:"logLevel" json:"logLevel"`

	// LogFormat is text or json.
	LogFormat string `yaml:"logFormat" json:"logFormat"`

	// ImposterFiles are imposter definition files loaded at boot.
	ImposterFiles []string `yaml:"imposterFiles" json:"imposterFiles"`
}

// Default returns the default daemon configuration.
func Default() *Config {
	return &Config{
		AdminPort: 2525,
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// LoadFromFile reads a Config from a JSON or YAML file, detected by
// extension (.yaml/.yml for YAML, otherwise JSON). Unset fields keep their
// defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if isYAMLExt(path) {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidYAML, path, err)
		}
		return cfg, nil
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidJSON, path, err)
	}
	return cfg, nil
}

// LoadImposters reads imposter definitions from a JSON file holding either
// {"imposters": [...]} or a bare array. Imposter files are JSON only:
// predicate objects are order-sensitive and YAML decoding does not preserve
// raw key order.
func LoadImposters(path string) ([]imposter.Imposter, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}

	var wrapped struct {
		Imposters []imposter.Imposter `json:"imposters"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Imposters != nil {
		return wrapped.Imposters, nil
	}

	var bare []imposter.Imposter
	if err := json.Unmarshal(data, &bare); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidJSON, path, err)
	}
	return bare, nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFile, path)
	}
	return data, nil
}

func isYAMLExt(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
