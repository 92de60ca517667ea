package coordinator

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jasoncavinder/helm/internal/errs"
	"github.com/jasoncavinder/helm/internal/models"
	"github.com/jasoncavinder/helm/internal/repository"
)

func newTestCoordinator(t *testing.T, maxConcurrent int) (*Coordinator, *repository.Store) {
	t.Helper()
	store, err := repository.Open(filepath.Join(t.TempDir(), "coord-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store, nil, maxConcurrent), store
}

func waitForTerminal(t *testing.T, store *repository.Store, taskID uint64) models.TaskRecord {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		task, ok, err := store.GetTask(context.Background(), taskID)
		require.NoError(t, err)
		require.True(t, ok)
		if models.IsTerminal(task.Status) {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %d did not reach a terminal state in time", taskID)
	return models.TaskRecord{}
}

func TestSubmit_CompletesSuccessfully(t *testing.T) {
	c, store := newTestCoordinator(t, 2)
	task, err := c.Submit("npm", models.TaskInstall, "task.install", map[string]string{"package": "lodash"},
		func(ctx context.Context) error { return nil })
	require.NoError(t, err)

	got := waitForTerminal(t, store, task.ID)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Nil(t, got.ErrorKind)
}

func TestSubmit_FailurePropagatesErrorKind(t *testing.T) {
	c, store := newTestCoordinator(t, 2)
	task, err := c.Submit("npm", models.TaskInstall, "task.install", map[string]string{"package": "lodash"},
		func(ctx context.Context) error {
			return errs.New(models.ErrProcessFailure, "npm", models.TaskInstall, "install", "boom")
		})
	require.NoError(t, err)

	got := waitForTerminal(t, store, task.ID)
	assert.Equal(t, models.StatusFailed, got.Status)
	require.NotNil(t, got.ErrorKind)
	assert.Equal(t, models.ErrProcessFailure, *got.ErrorKind)
}

func TestCancel_TransitionsQueuedTaskDirectlyToCancelled(t *testing.T) {
	// Fill the only worker slot so the next task stays Queued until cancelled.
	c, store := newTestCoordinator(t, 1)
	block := make(chan struct{})
	_, err := c.Submit("npm", models.TaskInstall, "task.install", nil, func(ctx context.Context) error {
		<-block
		return nil
	})
	require.NoError(t, err)

	queuedTask, err := c.Submit("pip", models.TaskInstall, "task.install", nil, func(ctx context.Context) error { return nil })
	require.NoError(t, err)

	require.True(t, c.Cancel(queuedTask.ID))
	got := waitForTerminal(t, store, queuedTask.ID)
	assert.Equal(t, models.StatusCancelled, got.Status)

	close(block)
}

func TestCancel_RunningTaskObservesContextDone(t *testing.T) {
	c, store := newTestCoordinator(t, 2)
	started := make(chan struct{})
	task, err := c.Submit("cargo", models.TaskUpgrade, "task.upgrade", nil, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return errs.New(models.ErrCancelled, "cargo", models.TaskUpgrade, "upgrade", "cancelled")
	})
	require.NoError(t, err)

	<-started
	require.True(t, c.Cancel(task.ID))
	got := waitForTerminal(t, store, task.ID)
	assert.Equal(t, models.StatusCancelled, got.Status)
}

func TestCancel_UnknownTaskReturnsFalse(t *testing.T) {
	c, _ := newTestCoordinator(t, 1)
	assert.False(t, c.Cancel(999999))
}

func TestSameManagerTasksRunSerially(t *testing.T) {
	c, store := newTestCoordinator(t, 4)
	var running atomic.Int32
	var maxObserved atomic.Int32
	work := func(ctx context.Context) error {
		n := running.Add(1)
		if n > maxObserved.Load() {
			maxObserved.Store(n)
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return nil
	}
	t1, err := c.Submit("homebrew_formula", models.TaskUpgrade, "x", nil, work)
	require.NoError(t, err)
	t2, err := c.Submit("homebrew_formula", models.TaskUpgrade, "x", nil, work)
	require.NoError(t, err)

	waitForTerminal(t, store, t1.ID)
	waitForTerminal(t, store, t2.ID)
	assert.LessOrEqual(t, maxObserved.Load(), int32(1))
}

func TestTerminalPersistFailureStillNotifiesFailed(t *testing.T) {
	// Closing the store underneath a Running task makes every terminal
	// persist attempt fail; the coordinator must still declare the task
	// Failed with a storage attribution instead of leaving observers
	// watching a phantom Running task.
	c, store := newTestCoordinator(t, 2)

	terminals := make(chan models.TaskRecord, 4)
	c.SetObserver(func(task models.TaskRecord) {
		if models.IsTerminal(task.Status) {
			terminals <- task
		}
	})

	running := make(chan struct{})
	release := make(chan struct{})
	_, err := c.Submit("npm", models.TaskInstall, "task.install", nil, func(ctx context.Context) error {
		close(running)
		<-release
		return nil
	})
	require.NoError(t, err)

	<-running
	require.NoError(t, store.Close())
	close(release)

	select {
	case got := <-terminals:
		assert.Equal(t, models.StatusFailed, got.Status)
		require.NotNil(t, got.ErrorKind)
		assert.Equal(t, models.ErrStorageFailure, *got.ErrorKind)
	case <-time.After(2 * time.Second):
		t.Fatal("no terminal notification after persist retries were exhausted")
	}
}
