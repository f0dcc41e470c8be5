package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize_CreatesAllDirectories(t *testing.T) {
	tmpDir := t.TempDir()

	require.NoError(t, Initialize(tmpDir))

	for _, dir := range []string{".omc/state", ".omc/notepads", ".omc/logs"} {
		path := filepath.Join(tmpDir, dir)
		info, err := os.Stat(path)
		require.NoError(t, err, "Directory %s should exist", dir)
		assert.True(t, info.IsDir(), "%s should be a directory", dir)
		assert.Equal(t, os.FileMode(0700), info.Mode().Perm(),
			"Directory %s should have 0700 permissions", dir)
	}
}

func TestInitialize_IdempotentCalls(t *testing.T) {
	tmpDir := t.TempDir()

	require.NoError(t, Initialize(tmpDir))
	assert.NoError(t, Initialize(tmpDir), "Second initialize should be idempotent")
}

func TestInitialize_BlockedByFile(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, RootDirName), []byte("not a dir"), 0600))

	assert.Error(t, Initialize(tmpDir))
}

func TestIsInitialized(t *testing.T) {
	tmpDir := t.TempDir()

	ok, err := IsInitialized(tmpDir)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, Initialize(tmpDir))

	ok, err = IsInitialized(tmpDir)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPaths(t *testing.T) {
	assert.Equal(t, filepath.Join("/p", ".omc", "state"), StateDir("/p"))
	assert.Equal(t, filepath.Join("/p", ".omc", "notepads"), NotepadsDir("/p"))
	assert.Equal(t, filepath.Join("/p", ".omc", "logs"), LogsDir("/p"))
	assert.Equal(t, filepath.Join("/p", ".omc", "loopkeeper.yaml"), ConfigPath("/p"))
}
