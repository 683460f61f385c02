package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("prune", pflag.ContinueOnError)
	fs.String("language", "", "")
	fs.String("rules", "", "")
	fs.Int("max-iterations", DefaultMaxIterations, "")
	fs.Int("workers", 0, "")
	fs.String("max-file-size", DefaultMaxFileSize, "")
	fs.Bool("dry-run", false, "")
	fs.String("format", DefaultFormat, "")
	fs.String("log-level", DefaultLogLevel, "")
	fs.StringArray("set", nil, "")
	require.NoError(t, fs.Parse(args))
	return fs
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("", t.TempDir(), nil)
	require.NoError(t, err)

	assert.Empty(t, cfg.Language)
	assert.Equal(t, DefaultMaxIterations, cfg.MaxIterations)
	assert.Equal(t, 0, cfg.Workers)
	assert.Equal(t, uint64(1000*1000), cfg.MaxFileBytes())
	assert.Equal(t, FormatTOON, cfg.Format)
	assert.False(t, cfg.DryRun)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoadFileInDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeConfig(t, dir, `language: java
max_iterations: 50
max_file_size: 2MiB
format: diff
substitutions:
  stale_flag_name: NEW_PATH
logging:
  level: debug
`)

	cfg, err := Load("", dir, nil)
	require.NoError(t, err)
	assert.Equal(t, "java", cfg.Language)
	assert.Equal(t, 50, cfg.MaxIterations)
	assert.Equal(t, uint64(2*1024*1024), cfg.MaxFileBytes())
	assert.Equal(t, FormatDiff, cfg.Format)
	assert.Equal(t, "NEW_PATH", cfg.Substitutions["stale_flag_name"])
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestLoadFlagsOverrideFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeConfig(t, dir, `max_iterations: 50
format: diff
substitutions:
  stale_flag_name: OLD
  flag_api: isOn
`)

	flags := newFlags(t, "--max-iterations", "7", "--set", "stale_flag_name=NEW", "--set", "Owner=a=b")
	cfg, err := Load(path, t.TempDir(), flags)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.MaxIterations)
	// Unset flags keep the file's value rather than the flag default.
	assert.Equal(t, FormatDiff, cfg.Format)
	assert.Equal(t, "NEW", cfg.Substitutions["stale_flag_name"])
	assert.Equal(t, "isOn", cfg.Substitutions["flag_api"])
	assert.Equal(t, "a=b", cfg.Substitutions["Owner"])
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("PRUNE_MAX_ITERATIONS", "12")
	t.Setenv("PRUNE_LOGGING_LEVEL", "warn")

	cfg, err := Load("", t.TempDir(), nil)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.MaxIterations)
	assert.Equal(t, slog.LevelWarn, cfg.SlogLevel())
}

func TestLoadExplicitMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), "", nil)
	require.Error(t, err)
}

func TestLoadValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    error
	}{
		{"iterations", "max_iterations: 0\n", ErrInvalidIterations},
		{"workers", "workers: -1\n", ErrInvalidWorkers},
		{"file size", "max_file_size: lots\n", ErrInvalidFileSize},
		{"format", "format: xml\n", ErrInvalidFormat},
		{"log level", "logging:\n  level: chatty\n", ErrInvalidLogLevel},
		{"log format", "logging:\n  format: xml\n", ErrInvalidLogFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			writeConfig(t, dir, tt.content)
			_, err := Load("", dir, nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestLoadBadSet(t *testing.T) {
	t.Parallel()

	_, err := Load("", t.TempDir(), newFlags(t, "--set", "novalue"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSubstitution))
}
