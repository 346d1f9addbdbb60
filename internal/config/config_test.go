package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	perrors "github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("FLASH_OFFLINE_SOCK", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:5173", cfg.Origin)
	assert.Equal(t, "/", cfg.Scope)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, "cache.bbolt", filepath.Base(cfg.DB))
	assert.Equal(t, "control.sock", filepath.Base(cfg.Socket))
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("FLASH_OFFLINE_ORIGIN", "https://games.example")
	t.Setenv("FLASH_OFFLINE_SCOPE", "/flash/")
	t.Setenv("FLASH_OFFLINE_TIMEOUT", "5s")
	t.Setenv("FLASH_OFFLINE_DB", "/tmp/x.bbolt")
	t.Setenv("FLASH_OFFLINE_DEBUG", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, "/tmp/x.bbolt", cfg.DB)
	assert.True(t, cfg.Debug)

	scope, err := cfg.ScopeURL()
	require.NoError(t, err)
	assert.Equal(t, "https://games.example/flash/", scope.String())
}

func TestLoadRejectsRelativeOrigin(t *testing.T) {
	t.Setenv("FLASH_OFFLINE_ORIGIN", "games.example")

	_, err := Load()
	require.Error(t, err)
	assert.Equal(t, perrors.CodeInvalidConfig, perrors.GetCode(err))
}

func TestLoadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`generation: flash-games-v4
assets:
  - ./
  - ./index.html
  - ./offline.html
`), 0o644))

	m, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, "flash-games-v4", m.Generation)
	assert.Equal(t, "./index.html", m.Root)
	assert.Equal(t, "./offline.html", m.Offline)

	s := m.Script()
	assert.Equal(t, "flash-games-v4-shell", s.ShellPartition())
	assert.Len(t, s.Assets, 3)
}

func TestLoadManifestErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadManifest(filepath.Join(dir, "missing.yaml"))
	assert.Equal(t, perrors.CodeInvalidConfig, perrors.GetCode(err))

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("assets: [./a, ./a]\ngeneration: v1\n"), 0o644))
	_, err = LoadManifest(bad)
	assert.Equal(t, perrors.CodeInvalidConfig, perrors.GetCode(err))
}

func TestDefaultManifest(t *testing.T) {
	m, err := LoadManifest("")
	require.NoError(t, err)
	assert.Equal(t, "flash-games-v3", m.Generation)
	assert.Contains(t, m.Assets, "./assets/swf/MusicCatch2.swf")
	assert.NoError(t, m.Script().Validate())
}
