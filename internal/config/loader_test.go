package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	// Missing file falls back to defaults entirely.
	cfg, err := LoadWithFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.Store.Path)
	assert.NotEmpty(t, cfg.Instance.ID)
	assert.Equal(t, "workspace", cfg.Instance.ActorScope)
	assert.Equal(t, 0.4, cfg.Similarity.TitleWeight)
	assert.Equal(t, 0.3, cfg.Similarity.ContentWeight)
	assert.Equal(t, 0.2, cfg.Similarity.FileWeight)
	assert.Equal(t, 0.1, cfg.Similarity.NamespaceWeight)
	assert.Equal(t, 0.80, cfg.Similarity.SimilarThreshold)
	assert.Equal(t, 0.01, cfg.Decay.Epsilon)
	assert.Equal(t, 30*24*time.Hour, cfg.Decay.CutoffAge)
	assert.Equal(t, 24*time.Hour, cfg.Decay.Interval)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadFromYAML(t *testing.T) {
	path := writeConfig(t, `
store:
  path: /tmp/patterns-test.db
instance:
  id: ci-runner
  actor_scope: framework
decay:
  epsilon: 0.02
logging:
  level: debug
  format: console
`)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/patterns-test.db", cfg.Store.Path)
	assert.Equal(t, "ci-runner", cfg.Instance.ID)
	assert.Equal(t, "framework", cfg.Instance.ActorScope)
	assert.Equal(t, 0.02, cfg.Decay.Epsilon)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	// Unset sections still get defaults.
	assert.Equal(t, 0.80, cfg.Similarity.SimilarThreshold)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: info
`)
	t.Setenv("PATTERNBANK_LOGGING_LEVEL", "warn")
	t.Setenv("PATTERNBANK_INSTANCE_ID", "env-instance")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "env-instance", cfg.Instance.ID)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad actor scope", "instance:\n  actor_scope: superuser\n"},
		{"bad log level", "logging:\n  level: loud\n"},
		{"bad log format", "logging:\n  format: xml\n"},
		{"negative epsilon", "decay:\n  epsilon: -0.5\n"},
		{"weight out of range", "similarity:\n  title_weight: 1.5\n  content_weight: 0.1\n  file_weight: 0.1\n  namespace_weight: 0.1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadWithFile(writeConfig(t, tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadRejectsOversizeFile(t *testing.T) {
	big := make([]byte, maxConfigFileSize+1)
	for i := range big {
		big[i] = '#'
	}
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, big, 0600))

	_, err := LoadWithFile(path)
	assert.ErrorContains(t, err, "too large")
}
