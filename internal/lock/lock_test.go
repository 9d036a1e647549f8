package lock

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireThenSecondFails(t *testing.T) {
	dir := t.TempDir()

	a := NewManager(dir)
	require.NoError(t, a.Acquire())
	disc, err := a.Publish("127.0.0.1", 9230, "")
	require.NoError(t, err)
	require.Len(t, disc.Secret, 64)

	b := NewManager(dir)
	err = b.Acquire()
	require.Error(t, err)
	var already *ErrAlreadyRunning
	require.ErrorAs(t, err, &already)
	require.Equal(t, os.Getpid(), already.PID)
}

func TestStaleLockIsReclaimed(t *testing.T) {
	dir := t.TempDir()

	a := NewManager(dir)
	require.NoError(t, a.Acquire())
	_, err := a.Publish("127.0.0.1", 9230, "")
	require.NoError(t, err)

	// Simulate a crashed prior host: lock claims an unrelated pid, and the
	// discovery heartbeat is old enough to count as stale.
	stale := LockFile{PID: 999999999, StartedAt: time.Now().Add(-time.Hour), WorkspacePath: dir}
	require.NoError(t, writeAtomic(a.lockPath, stale))

	old, err := readDiscoveryFile(a.discoveryPath)
	require.NoError(t, err)
	old.HeartbeatAt = time.Now().Add(-time.Minute)
	require.NoError(t, writeAtomic(a.discoveryPath, old))

	c := NewManager(dir)
	require.NoError(t, c.Acquire())
}

func TestSecretPriorityEnvOverridesPersisted(t *testing.T) {
	dir := t.TempDir()

	a := NewManager(dir)
	require.NoError(t, a.Acquire())
	disc, err := a.Publish("127.0.0.1", 9230, "")
	require.NoError(t, err)
	persisted := disc.Secret
	// Each host releases the lock before the next starts; the discovery
	// file, and the secret in it, stays behind.
	a.Release()

	b := NewManager(dir)
	require.NoError(t, b.Acquire())
	reused, err := b.Publish("127.0.0.1", 9231, "")
	require.NoError(t, err)
	require.Equal(t, persisted, reused.Secret)
	b.Release()

	c := NewManager(dir)
	require.NoError(t, c.Acquire())
	overridden, err := c.Publish("127.0.0.1", 9232, "explicit-secret")
	require.NoError(t, err)
	require.Equal(t, "explicit-secret", overridden.Secret)
}

func TestReleaseRemovesLockFile(t *testing.T) {
	dir := t.TempDir()

	a := NewManager(dir)
	require.NoError(t, a.Acquire())
	a.StartHeartbeat()
	a.Release()

	_, err := os.Stat(a.lockPath)
	require.True(t, os.IsNotExist(err))
}
