package appdir_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revharvest/revharvest/internal/appdir"
)

func TestConfigDir(t *testing.T) {
	dir, err := appdir.ConfigDir()
	require.NoError(t, err)
	assert.NotEmpty(t, dir)
	assert.True(t, filepath.IsAbs(dir), "expected absolute path, got %q", dir)
	assert.True(t, strings.HasSuffix(dir, "/revharvest") || strings.HasSuffix(dir, `\revharvest`),
		"expected path ending in /revharvest or \\revharvest, got %q", dir)
}

func TestDataDir_XDGOverride(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_DATA_HOME", tmp)

	dir, err := appdir.DataDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tmp, "revharvest"), dir)
}

func TestEnsureDir_CreatesDir(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "a", "b")

	require.NoError(t, appdir.EnsureDir(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestEnsureFile_CreatesFileAndDir(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "subdir", "file.txt")

	err := appdir.EnsureFile(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestEnsureFile_Idempotent(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "file.txt")

	require.NoError(t, appdir.EnsureFile(path))
	require.NoError(t, appdir.EnsureFile(path)) // second call must not error
}
