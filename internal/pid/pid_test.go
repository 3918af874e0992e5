package pid_test

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"codeberg.org/mutker/itrack/internal/errors"
	"codeberg.org/mutker/itrack/internal/pid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "itrack.pid")

	require.NoError(t, pid.Write(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))

	// Rewriting our own PID is not a conflict.
	require.NoError(t, pid.Write(path))

	require.NoError(t, pid.Remove(path))
	assert.NoFileExists(t, path)
	assert.NoError(t, pid.Remove(path))
}

func TestWriteRefusesLiveProcess(t *testing.T) {
	if os.Getpid() == 1 {
		t.Skip("running as init")
	}
	path := filepath.Join(t.TempDir(), "itrack.pid")
	require.NoError(t, os.WriteFile(path, []byte("1\n"), 0o600))

	err := pid.Write(path)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrAlreadyRunning))
}

func TestWriteReplacesGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "itrack.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0o600))

	err := pid.Write(path)
	assert.True(t, errors.HasCode(err, errors.ErrInternal))
}

func TestDefaultPath(t *testing.T) {
	assert.Equal(t, filepath.Join(os.TempDir(), "itrack.pid"), pid.DefaultPath())
}
