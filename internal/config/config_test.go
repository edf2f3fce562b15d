package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unlua/internal/config"
	"unlua/internal/opt"
	"unlua/internal/trace"
)

func writeFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, config.FileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, opt.DefaultPasses, cfg.Optimize.Passes)
	assert.True(t, cfg.Cache.Enabled)

	tc, err := cfg.TraceConfig()
	require.NoError(t, err)
	assert.Equal(t, trace.LevelOff, tc.Level)
	assert.Equal(t, trace.ModeRing, tc.Mode)
}

func TestLoad_Overrides(t *testing.T) {
	path := writeFile(t, t.TempDir(), `
[optimize]
passes = ["propagate"]
max_rounds = 3
jobs = 2

[trace]
level = "detail"
mode = "both"
output = "trace.ndjson"

[cache]
enabled = false
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, []string{"propagate"}, cfg.Optimize.Passes)
	assert.Equal(t, 3, cfg.Optimize.MaxRounds)
	assert.Equal(t, 2, cfg.Optimize.Jobs)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, 4096, cfg.Trace.RingSize, "unset keys keep their default")

	tc, err := cfg.TraceConfig()
	require.NoError(t, err)
	assert.Equal(t, trace.LevelDetail, tc.Level)
	assert.Equal(t, trace.ModeBoth, tc.Mode)
	assert.Equal(t, "trace.ndjson", tc.OutputPath)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{"syntax", "[optimize\n", []string{"failed to parse TOML"}},
		{"unknown key", "[optimize]\nunroll = true\n", []string{"unknown key optimize.unroll"}},
		{"unknown pass", "[optimize]\npasses = [\"inline\"]\n", []string{"unknown pass", `"inline"`}},
		{"empty passes", "[optimize]\npasses = []\n", []string{"[optimize].passes is empty"}},
		{"rounds", "[optimize]\nmax_rounds = 0\n", []string{"max_rounds must be positive"}},
		{"jobs and level", "[optimize]\njobs = -1\n[trace]\nlevel = \"loud\"\n", []string{"jobs must not be negative", "[trace].level"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), tt.content)
			_, err := config.Load(path)
			require.Error(t, err)
			for _, w := range tt.want {
				assert.Contains(t, err.Error(), w)
			}
		})
	}
}

func TestDiscover_WalksUp(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "[optimize]\nmax_rounds = 5\n")
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	found, ok, err := config.Find(nested)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, path, found)

	cfg, err := config.Discover(nested)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Optimize.MaxRounds)
}

func TestDiscover_NoFile(t *testing.T) {
	// a fresh temp dir has no unlua.toml above it unless the host has one
	dir := t.TempDir()
	if _, ok, _ := config.Find(dir); ok {
		t.Skip("an unlua.toml exists above the temp directory")
	}
	cfg, err := config.Discover(dir)
	require.NoError(t, err)
	assert.Empty(t, cfg.Path)
	assert.Equal(t, config.Default(), cfg)
}
