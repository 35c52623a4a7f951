package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFromFileEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := LoadFromFile("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 3, cfg.Worker.MaxConcurrentWorkers)
	assert.Equal(t, "info", cfg.Logging.Level)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, "fabrica.toml", `
environment = "production"

[server]
port = 9090

[worker]
max_concurrent_workers = 8

[logging]
level = "debug"
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Worker.MaxConcurrentWorkers)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Fields the file leaves out keep their defaults
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, "./data", cfg.Storage.Badger.Path)
}

func TestLoadFromFileEnvWinsOverFile(t *testing.T) {
	path := writeConfigFile(t, "fabrica.toml", `
[server]
port = 9090
`)

	t.Setenv("FABRICA_SERVER_PORT", "7070")
	t.Setenv("FABRICA_LOG_LEVEL", "warn")
	t.Setenv("FABRICA_LOG_OUTPUT", "stdout, file")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, []string{"stdout", "file"}, cfg.Logging.Output)
}

func TestLoadFromFilesLaterFileWins(t *testing.T) {
	base := writeConfigFile(t, "base.toml", `
[server]
port = 9090
host = "0.0.0.0"
`)
	local := writeConfigFile(t, "local.toml", `
[server]
port = 9191
`)

	cfg, err := LoadFromFiles(base, local)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
}

func TestLoadFromFileMissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.Storage.Badger.Path = ""
	assert.Error(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.Worker.MaxConcurrentWorkers = 0
	assert.Error(t, cfg.Validate())
}
