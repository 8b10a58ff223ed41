package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockedCurrentFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), lockName)
	l := flock.New(path)
	ok, err := l.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	t.Cleanup(func() { _ = l.Unlock() })

	assert.True(t, lockedCurrentFile(l))

	// Another process unlinks and recreates the sentinel while we hold the
	// old inode.
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	assert.False(t, lockedCurrentFile(l))

	require.NoError(t, os.Remove(path))
	assert.False(t, lockedCurrentFile(l), "missing sentinel")
}
