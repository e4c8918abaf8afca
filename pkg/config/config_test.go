package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 0.80, cfg.Router.ConfidenceThreshold)
	assert.Equal(t, 30, cfg.Execution.TimeoutSec)
	assert.Equal(t, 60, cfg.LLM.TimeoutSec)
	assert.Equal(t, "./data/intent_model.json", cfg.Classifier.ModelPath)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
router:
  confidenceThreshold: 0.6
  structuredLabels: true
execution:
  timeoutSec: 10
  dryRun: true
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 0.6, cfg.Router.ConfidenceThreshold)
	assert.True(t, cfg.Router.StructuredLabels)
	assert.Equal(t, 10, cfg.Execution.TimeoutSec)
	assert.True(t, cfg.Execution.DryRun)
}

func TestLoadFileRejectsBadThreshold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("router:\n  confidenceThreshold: 1.5\n"), 0644))

	_, err := LoadFile(path)
	assert.Error(t, err)
}
