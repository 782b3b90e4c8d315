// file: internal/fileops/atomic_test.go
// version: 1.0.0
// guid: 5e4d3c2b-1a09-4f8e-9d7c-6b5a4f3e2d1c

package fileops

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	// Arrange
	dir := t.TempDir()
	path := filepath.Join(dir, "state", "snapshot.json")

	// Act
	require.NoError(t, WriteFileAtomic(path, []byte(`{"v":1}`), 0o600))
	require.NoError(t, WriteFileAtomic(path, []byte(`{"v":2}`), 0o600))

	// Assert
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestVerifyFileIntegrity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.epub")
	require.NoError(t, os.WriteFile(path, []byte("Hello, World!"), 0o644))

	ok, err := VerifyFileIntegrity(path, HashBytes([]byte("Hello, World!")))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyFileIntegrity(path, HashBytes([]byte("other")))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = VerifyFileIntegrity(filepath.Join(t.TempDir(), "missing"), "x")
	assert.Error(t, err)
}
