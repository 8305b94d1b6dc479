package shmdoorbell

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "varserver.pid")
	d := New(path)

	require.NoError(t, d.Publish())

	pid, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestWithdrawRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "varserver.pid")
	d := New(path)
	require.NoError(t, d.Publish())

	d.Withdraw()

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestEmptyPathIsNoop(t *testing.T) {
	d := New("")
	assert.NoError(t, d.Publish())
	d.Withdraw() // must not panic
}

func TestReadMalformedPidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "varserver.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0o644))

	_, err := Read(path)
	assert.Error(t, err)
}

func TestReadMissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "missing.pid"))
	assert.Error(t, err)
}
