package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	RunLabel string
	Throttle struct {
		Limit   int
		Backoff time.Duration
	}
	Walltime time.Duration
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func TestLoadConfig_MergesOverrides(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.yaml"), `
runLabel: base
throttle:
  limit: 10
  backoff: 30s
walltime: "1:00:00"
`)
	override := filepath.Join(dir, "override.yaml")
	writeFile(t, override, `
throttle:
  limit: 50
`)

	var c testConfig
	_, err := LoadConfig(&c, dir, []string{override})
	require.NoError(t, err)
	assert.Equal(t, "base", c.RunLabel)
	assert.Equal(t, 50, c.Throttle.Limit)
	assert.Equal(t, 30*time.Second, c.Throttle.Backoff)
	assert.Equal(t, time.Hour, c.Walltime)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.yaml"), "runLabel: base\n")
	t.Setenv("SWEEP_RUNLABEL", "fromenv")

	var c testConfig
	_, err := LoadConfig(&c, dir, nil)
	require.NoError(t, err)
	assert.Equal(t, "fromenv", c.RunLabel)
}

func TestLoadConfig_MissingDefault(t *testing.T) {
	var c testConfig
	_, err := LoadConfig(&c, t.TempDir(), nil)
	assert.Error(t, err)
}
