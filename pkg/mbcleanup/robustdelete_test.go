package mbcleanup

import (
	"bytes"
	"errors"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDeleter(buf *bytes.Buffer) *Deleter {
	return New(10, time.Millisecond, log.New(buf, "", 0))
}

func TestRobustDeleteReadOnlyTree(t *testing.T) {
	root := filepath.Join(t.TempDir(), "export")
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(nested, "data.bin"), []byte("x"), 0400))
	require.NoError(t, os.Chmod(nested, 0500))
	require.NoError(t, os.Chmod(filepath.Join(root, "a"), 0500))

	assert.True(t, newTestDeleter(&bytes.Buffer{}).RobustDelete(root))

	_, err := os.Stat(root)
	assert.True(t, os.IsNotExist(err))
}

func TestRobustDeleteMissingPath(t *testing.T) {
	assert.True(t, newTestDeleter(&bytes.Buffer{}).RobustDelete(filepath.Join(t.TempDir(), "nope")))
}

func TestRobustDeleteRetriesUntilSuccess(t *testing.T) {
	root := t.TempDir()

	calls := 0
	deleter := newTestDeleter(&bytes.Buffer{})
	deleter.removeAll = func(path string) error {
		calls++
		if calls < 3 {
			return errors.New("locked")
		}
		return os.RemoveAll(path)
	}

	assert.True(t, deleter.RobustDelete(root))
	assert.Equal(t, 3, calls)
}

func TestRobustDeleteGivesUpAfterAttempts(t *testing.T) {
	root := t.TempDir()
	logBuf := &bytes.Buffer{}

	calls := 0
	deleter := newTestDeleter(logBuf)
	deleter.removeAll = func(path string) error {
		calls++
		return errors.New("locked")
	}

	assert.False(t, deleter.RobustDelete(root))
	assert.Equal(t, 10, calls)
	assert.Contains(t, logBuf.String(), "giving up deleting")
}

func TestSizeAndContainsData(t *testing.T) {
	dir := t.TempDir()

	assert.False(t, ContainsData(dir))

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty"), nil, 0600))
	assert.False(t, ContainsData(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "data"), []byte("12345"), 0600))
	assert.True(t, ContainsData(dir))

	size, err := Size(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)

	assert.False(t, ContainsData(filepath.Join(dir, "empty")))
	assert.True(t, ContainsData(filepath.Join(dir, "sub", "data")))
	assert.False(t, ContainsData(filepath.Join(dir, "missing")))
}
