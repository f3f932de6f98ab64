package pipeline

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartupLock_AcquireThenRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	lock := newStartupLock(path)

	require.NoError(t, lock.Acquire())
	require.NoError(t, lock.Release())
}

func TestStartupLock_SecondAcquireFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	first := newStartupLock(path)
	require.NoError(t, first.Acquire())
	defer first.Release()

	second := newStartupLock(path)
	err := second.Acquire()
	assert.True(t, errors.Is(err, ErrAlreadyRunning))
}

func TestStartupLock_ReleaseIsIdempotent(t *testing.T) {
	lock := newStartupLock(filepath.Join(t.TempDir(), "lock"))
	assert.NoError(t, lock.Release())
}
