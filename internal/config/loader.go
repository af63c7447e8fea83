// Package config provides configuration loading for patternbank.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/patternbank/internal/namespace"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	envPrefix = "PATTERNBANK_"
)

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (PATTERNBANK_STORE_PATH, PATTERNBANK_LOGGING_LEVEL, ...)
//  2. YAML config file (~/.config/patternbank/config.yaml by default)
//  3. Hardcoded defaults
//
// Environment variables strip the PATTERNBANK_ prefix, lowercase, and split
// on the first underscore into section.field:
//
//	PATTERNBANK_STORE_PATH       -> store.path
//	PATTERNBANK_DECAY_CUTOFF_AGE -> decay.cutoff_age
//
// Configuration files larger than 1MB are rejected.
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "patternbank", "config.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		// Open once and validate the descriptor to avoid a TOCTOU race.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		// PATTERNBANK_STORE_PATH -> store.path; the field part keeps its
		// underscores (decay.cutoff_age).
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// EnsureConfigDir creates the patternbank config directory if it does not
// exist, with owner-only permissions.
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(home, ".config", "patternbank")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}

	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Store.Path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Store.Path = filepath.Join(home, ".config", "patternbank", "patterns.db")
		}
	}

	if cfg.Instance.ID == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.Instance.ID = host
		} else {
			cfg.Instance.ID = "patternbank"
		}
	}
	if cfg.Instance.ActorScope == "" {
		cfg.Instance.ActorScope = string(namespace.ScopeWorkspace)
	}

	if cfg.Similarity.TitleWeight == 0 && cfg.Similarity.ContentWeight == 0 &&
		cfg.Similarity.FileWeight == 0 && cfg.Similarity.NamespaceWeight == 0 {
		cfg.Similarity.TitleWeight = 0.4
		cfg.Similarity.ContentWeight = 0.3
		cfg.Similarity.FileWeight = 0.2
		cfg.Similarity.NamespaceWeight = 0.1
	}
	if cfg.Similarity.SimilarThreshold == 0 {
		cfg.Similarity.SimilarThreshold = 0.80
	}
	if cfg.Similarity.ConflictDivergence == 0 {
		cfg.Similarity.ConflictDivergence = 0.25
	}

	if cfg.Decay.Epsilon == 0 {
		cfg.Decay.Epsilon = 0.01
	}
	if cfg.Decay.CutoffAge == 0 {
		cfg.Decay.CutoffAge = 30 * 24 * time.Hour
	}
	if cfg.Decay.Interval == 0 {
		cfg.Decay.Interval = 24 * time.Hour
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
