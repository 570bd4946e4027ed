package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 100, cfg.Cache.MemoryLimit)
	assert.Equal(t, 0.9, cfg.Analyzer.Suggestions.PrecompileSavingsRatio)
	assert.Equal(t, int64(100), cfg.Analyzer.Suggestions.VolumeThreshold)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("QCACHE_TEST_DIR", dir)

	content := `
cache:
  dir: ${QCACHE_TEST_DIR}/cache
  ttl: 30m
  memory_limit: 50
templates:
  watch: true
analyzer:
  retention_days: 7
  suggestions:
    precompile_min_count: 3
log:
  level: debug
`
	path := filepath.Join(dir, "qcache.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "cache"), cfg.Cache.Dir)
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 50, cfg.Cache.MemoryLimit)
	assert.True(t, cfg.Templates.Watch)
	assert.Equal(t, filepath.Join(dir, "cache", "templates.json"), cfg.Templates.Path)
	assert.Equal(t, filepath.Join(dir, "cache", "query_log.db"), cfg.Analyzer.DBPath)
	assert.Equal(t, 7, cfg.Analyzer.RetentionDays)
	assert.Equal(t, int64(3), cfg.Analyzer.Suggestions.PrecompileMinCount)
	// untouched thresholds keep their defaults
	assert.Equal(t, int64(20), cfg.Analyzer.Suggestions.LoadHourThreshold)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/qcache.yaml")
	require.Error(t, err)
}

func TestLoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qcache.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache:\n  memory_limit: 0\n"), 0o644))

	_, err := Load(path)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestResolveExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := Default()
	require.NoError(t, cfg.Resolve())
	assert.Equal(t, filepath.Join(home, ".qcache"), cfg.Cache.Dir)
}
