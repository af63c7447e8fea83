package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/patternbank/internal/namespace"
)

// Config is the root configuration for patternbank.
type Config struct {
	Store      StoreConfig      `koanf:"store"`
	Instance   InstanceConfig   `koanf:"instance"`
	Similarity SimilarityConfig `koanf:"similarity"`
	Decay      DecayConfig      `koanf:"decay"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// StoreConfig configures the SQLite pattern store.
type StoreConfig struct {
	// Path is the SQLite database file. ":memory:" is accepted for tests.
	Path string `koanf:"path"`
}

// InstanceConfig identifies this instance and its default actor scope.
type InstanceConfig struct {
	// ID appears in export document headers. Defaults to the hostname.
	ID string `koanf:"id"`

	// ActorScope is the default scope for CLI-driven writes. "framework"
	// or "workspace".
	ActorScope string `koanf:"actor_scope"`
}

// SimilarityConfig configures the scoring weights and thresholds.
type SimilarityConfig struct {
	TitleWeight        float64 `koanf:"title_weight"`
	ContentWeight      float64 `koanf:"content_weight"`
	FileWeight         float64 `koanf:"file_weight"`
	NamespaceWeight    float64 `koanf:"namespace_weight"`
	SimilarThreshold   float64 `koanf:"similar_threshold"`
	ConflictDivergence float64 `koanf:"conflict_divergence"`
}

// DecayConfig configures the passive decay sweep.
type DecayConfig struct {
	// Epsilon is the confidence subtracted per sweep from stale,
	// unpinned patterns.
	Epsilon float64 `koanf:"epsilon"`

	// CutoffAge marks a pattern stale when it has not been accessed for
	// this long.
	CutoffAge time.Duration `koanf:"cutoff_age"`

	// Interval is the scheduler period between sweeps.
	Interval time.Duration `koanf:"interval"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is "json" or "console".
	Format string `koanf:"format"`
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path cannot be empty")
	}

	switch namespace.ActorScope(c.Instance.ActorScope) {
	case namespace.ScopeFramework, namespace.ScopeWorkspace:
	default:
		return fmt.Errorf("instance.actor_scope must be %q or %q, got %q",
			namespace.ScopeFramework, namespace.ScopeWorkspace, c.Instance.ActorScope)
	}

	for name, w := range map[string]float64{
		"similarity.title_weight":     c.Similarity.TitleWeight,
		"similarity.content_weight":   c.Similarity.ContentWeight,
		"similarity.file_weight":      c.Similarity.FileWeight,
		"similarity.namespace_weight": c.Similarity.NamespaceWeight,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("%s must be in [0,1], got %v", name, w)
		}
	}
	if c.Similarity.SimilarThreshold <= 0 || c.Similarity.SimilarThreshold > 1 {
		return fmt.Errorf("similarity.similar_threshold must be in (0,1], got %v", c.Similarity.SimilarThreshold)
	}

	if c.Decay.Epsilon < 0 || c.Decay.Epsilon > 1 {
		return fmt.Errorf("decay.epsilon must be in [0,1], got %v", c.Decay.Epsilon)
	}
	if c.Decay.CutoffAge < 0 {
		return fmt.Errorf("decay.cutoff_age cannot be negative")
	}
	if c.Decay.Interval < 0 {
		return fmt.Errorf("decay.interval cannot be negative")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}

	return nil
}
