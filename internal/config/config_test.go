package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadClean(t *testing.T) *Config {
	t.Helper()
	viper.Reset()
	cfg, err := Load()
	require.NoError(t, err)
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	os.Unsetenv("HELMD_DATA_DIR")
	os.Unsetenv("HELMD_LOG_LEVEL")

	cfg := loadClean(t)
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "Library", "Application Support", "Helm"), cfg.DataDir)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.Verbose())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HELMD_DATA_DIR", dir)
	t.Setenv("HELMD_LOG_LEVEL", "debug")

	cfg := loadClean(t)
	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Verbose())
}

func TestLoad_CreatesDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "helm-data")
	t.Setenv("HELMD_DATA_DIR", dir)
	t.Setenv("HELMD_LOG_LEVEL", "info")

	_ = loadClean(t)
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestLoad_UnknownLogLevelFallsBackToInfo(t *testing.T) {
	t.Setenv("HELMD_DATA_DIR", t.TempDir())
	t.Setenv("HELMD_LOG_LEVEL", "chatty")

	cfg := loadClean(t)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestDBPath_JoinsDataDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HELMD_DATA_DIR", dir)
	t.Setenv("HELMD_LOG_LEVEL", "info")

	cfg := loadClean(t)
	assert.Equal(t, filepath.Join(dir, "helm.db"), cfg.DBPath())
}
