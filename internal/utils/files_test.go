package utils_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/insightloom/internal/utils"
)

func TestSafeWriteFileReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, utils.SafeWriteFile(path, []byte("a: 1\n")))
	require.NoError(t, utils.SafeWriteFile(path, []byte("a: 2\n")))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a: 2\n", string(b))
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestCheckWritable(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, utils.CheckWritable(dir))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "probe file removed")

	assert.Error(t, utils.CheckWritable(filepath.Join(dir, "missing")))
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	assert.Equal(t, filepath.Join(home, ".insightloom"), utils.ExpandHome("~/.insightloom"))
	assert.Equal(t, "/tmp/x", utils.ExpandHome("/tmp/x"))
}
