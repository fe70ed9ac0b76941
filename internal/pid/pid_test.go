package pid_test

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"codeberg.org/mutker/procmon/internal/errors"
	"codeberg.org/mutker/procmon/internal/pid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndRemove(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, pid.Write(dir))

	bytes, err := os.ReadFile(filepath.Join(dir, "procmon.pid"))
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(bytes))

	require.NoError(t, pid.Remove(dir))
	_, err = os.Stat(filepath.Join(dir, "procmon.pid"))
	assert.True(t, os.IsNotExist(err))

	// Removing twice is fine
	require.NoError(t, pid.Remove(dir))
}

func TestWriteAlreadyRunning(t *testing.T) {
	dir := t.TempDir()

	// The parent of the test binary is alive for the duration of the test.
	ppid := os.Getppid()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "procmon.pid"), []byte(strconv.Itoa(ppid)), 0o600))

	err := pid.Write(dir)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrAlreadyRunning))
}

func TestWriteStaleFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "procmon.pid"), []byte("not-a-pid"), 0o600))

	require.NoError(t, pid.Write(dir))
}
