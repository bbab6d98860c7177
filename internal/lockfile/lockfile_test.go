package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireLock(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir)
	require.NoError(t, err)
	defer lock.Release()

	content, err := os.ReadFile(filepath.Join(dir, LockFileName))
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("pid=%d\n", os.Getpid()), string(content))
}

func TestAcquireLock_Conflict(t *testing.T) {
	dir := t.TempDir()

	first, err := AcquireLock(dir)
	require.NoError(t, err)
	defer first.Release()

	second, err := AcquireLock(dir)
	if err == nil {
		second.Release()
		t.Fatal("second acquisition should fail")
	}

	var lockErr *LockError
	require.True(t, errors.As(err, &lockErr))
	assert.Equal(t, fmt.Sprintf("PID %d (running)", os.Getpid()), lockErr.Holder)
	assert.Contains(t, err.Error(), "another StudyPipe instance")
	assert.Contains(t, err.Error(), dir)
}

func TestRelease(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir)
	require.NoError(t, err)
	require.NoError(t, lock.Release())
	require.NoError(t, lock.Release())

	_, err = os.Stat(filepath.Join(dir, LockFileName))
	assert.True(t, os.IsNotExist(err))

	again, err := AcquireLock(dir)
	require.NoError(t, err)
	again.Release()
}

func TestAcquireLock_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")

	lock, err := AcquireLock(dir)
	require.NoError(t, err)
	defer lock.Release()

	assert.DirExists(t, dir)
}

func TestParsePID(t *testing.T) {
	assert.Equal(t, 1234, parsePID("pid=1234\n"))
	assert.Equal(t, 42, parsePID("host=x pid=42"))
	assert.Zero(t, parsePID("garbage"))
	assert.Zero(t, parsePID("pid=\n"))
}

func TestDescribeHolder_StalePID(t *testing.T) {
	path := filepath.Join(t.TempDir(), LockFileName)
	require.NoError(t, os.WriteFile(path, []byte("pid=999999999\n"), 0o644))
	assert.Equal(t, "PID 999999999 (not running)", describeHolder(path))
}
