package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "./projects", cfg.ProjectsRoot)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 120*time.Second, cfg.LLMTimeout())
	assert.Equal(t, 72*time.Hour, cfg.DebugRetention())
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_LLM_KEY", "sekrit")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
projects_root: /data/projects
llm:
  api_key: ${TEST_LLM_KEY}
  model: gpt-4o-mini
  timeout_seconds: 30
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/projects", cfg.ProjectsRoot)
	assert.Equal(t, "sekrit", cfg.LLM.APIKey)
	assert.Equal(t, 30*time.Second, cfg.LLMTimeout())
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm: ["), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}
