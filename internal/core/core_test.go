package core

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jasoncavinder/helm/internal/adapter"
	"github.com/jasoncavinder/helm/internal/adapterrt"
	"github.com/jasoncavinder/helm/internal/coordinator"
	"github.com/jasoncavinder/helm/internal/models"
	"github.com/jasoncavinder/helm/internal/repository"
)

func newTestRuntime(t *testing.T, adapters map[string]adapter.Manager) (*Runtime, *repository.Store) {
	t.Helper()
	store, err := repository.Open(filepath.Join(t.TempDir(), "core-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	coord := coordinator.New(store, nil, 4)
	rt := adapterrt.New(adapters)
	return New(store, coord, rt, nil), store
}

func waitTerminal(t *testing.T, store *repository.Store, taskID uint64) models.TaskRecord {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		task, ok, err := store.GetTask(context.Background(), taskID)
		require.NoError(t, err)
		if ok && models.IsTerminal(task.Status) {
			return task
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("task never reached a terminal state")
	return models.TaskRecord{}
}

func TestTriggerRemoteSearchForManager_ReturnsTaskID(t *testing.T) {
	rt, store := newTestRuntime(t, map[string]adapter.Manager{
		"npm": {
			ID: "npm",
			Search: func(ctx context.Context, query string) (adapter.SearchResponse, error) {
				return adapter.SearchResponse{Entries: []models.SearchCacheEntry{
					{ManagerID: "npm", Name: "lodash", SourceManager: "npm"},
				}}, nil
			},
		},
	})

	taskID, err := rt.TriggerRemoteSearchForManager(context.Background(), "npm", "lodash")
	require.NoError(t, err)
	assert.NotZero(t, taskID)

	task := waitTerminal(t, store, taskID)
	assert.Equal(t, models.StatusCompleted, task.Status)
}

func TestTriggerRemoteSearchForManager_UnknownManagerErrors(t *testing.T) {
	rt, _ := newTestRuntime(t, nil)
	_, err := rt.TriggerRemoteSearchForManager(context.Background(), "not-a-manager", "x")
	assert.Error(t, err)
}

func TestUpgradePackage_SafeModeBlocksDirectSoftwareupdate(t *testing.T) {
	rt, _ := newTestRuntime(t, nil)
	require.NoError(t, rt.pol.SetSafeMode(context.Background(), true))

	_, err := rt.UpgradePackage(context.Background(), "softwareupdate", "macOS Sequoia Update")
	assert.Error(t, err)
}

func TestPinPackage_VirtualWhenNoCapability(t *testing.T) {
	rt, _ := newTestRuntime(t, map[string]adapter.Manager{"cargo": {ID: "cargo"}})
	applied, err := rt.PinPackage(context.Background(), "cargo", "ripgrep", "")
	require.NoError(t, err)
	assert.True(t, applied)

	pins, err := rt.store.ListPins(context.Background(), "cargo")
	require.NoError(t, err)
	require.Len(t, pins, 1)
	assert.Equal(t, models.PinVirtual, pins[0].Source)
}

func TestPinPackage_RefusedWhenAlreadyNativelyPinned(t *testing.T) {
	rt, store := newTestRuntime(t, map[string]adapter.Manager{"cargo": {ID: "cargo"}})
	require.NoError(t, store.ReplaceInstalledPackages(context.Background(), "cargo", []models.InstalledPackage{
		{Ref: models.PackageRef{ManagerID: "cargo", Name: "ripgrep"}, Pinned: true},
	}))

	_, err := rt.PinPackage(context.Background(), "cargo", "ripgrep", "")
	assert.Error(t, err)
}

func TestUnpinPackage_VirtualDeletesRecord(t *testing.T) {
	rt, store := newTestRuntime(t, map[string]adapter.Manager{"cargo": {ID: "cargo"}})
	ref := models.PackageRef{ManagerID: "cargo", Name: "ripgrep"}
	require.NoError(t, store.UpsertPin(context.Background(), models.PinRecord{ManagerID: ref.ManagerID, PackageName: ref.Name, Source: models.PinVirtual}))

	ok, err := rt.UnpinPackage(context.Background(), "cargo", "ripgrep")
	require.NoError(t, err)
	assert.True(t, ok)

	_, found, err := store.GetPin(context.Background(), ref)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInstallManager_TaskFailsUnsupportedCapability(t *testing.T) {
	rt, store := newTestRuntime(t, nil)
	taskID, err := rt.InstallManager(context.Background(), "npm")
	require.NoError(t, err)

	task := waitTerminal(t, store, taskID)
	assert.Equal(t, models.StatusFailed, task.Status)
	require.NotNil(t, task.ErrorKind)
	assert.Equal(t, models.ErrUnsupportedCapability, *task.ErrorKind)
}

func TestPreviewUpgradePlan_DelegatesToBuildPlan(t *testing.T) {
	rt, store := newTestRuntime(t, nil)
	require.NoError(t, store.ReplaceOutdatedPackages(context.Background(), "npm", []models.OutdatedPackage{
		{Ref: models.PackageRef{ManagerID: "npm", Name: "lodash"}, CandidateVersion: "5.0.0"},
	}))

	steps, err := rt.PreviewUpgradePlan(context.Background(), false, false)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "npm:lodash", steps[0].StepID)
}

func TestTakeLastErrorKey_DrainsOnceThenNilUntilNewFailure(t *testing.T) {
	rt, _ := newTestRuntime(t, map[string]adapter.Manager{
		"npm": {ID: "npm", Install: func(ctx context.Context, req adapter.Request) (adapter.MutationResponse, error) {
			return adapter.MutationResponse{}, assertErr{}
		}},
	})

	taskID, err := rt.InstallPackage(context.Background(), "npm", "left-pad")
	require.NoError(t, err)
	waitTerminal(t, rt.store, taskID)

	key, err := rt.TakeLastErrorKey(context.Background())
	require.NoError(t, err)
	require.NotNil(t, key)

	key2, err := rt.TakeLastErrorKey(context.Background())
	require.NoError(t, err)
	assert.Nil(t, key2)
}

func TestResetDatabase_Succeeds(t *testing.T) {
	rt, _ := newTestRuntime(t, nil)
	ok, err := rt.ResetDatabase(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

type assertErr struct{}

func (assertErr) Error() string { return "install failed" }

func TestTriggerRemoteSearchForManager_SupersedeCancelsPreviousTask(t *testing.T) {
	rt, store := newTestRuntime(t, map[string]adapter.Manager{
		"npm": {
			ID: "npm",
			Search: func(ctx context.Context, query string) (adapter.SearchResponse, error) {
				return adapter.SearchResponse{}, nil
			},
		},
	})

	first, err := rt.TriggerRemoteSearchForManager(context.Background(), "npm", "py")
	require.NoError(t, err)
	second, err := rt.TriggerRemoteSearchForManager(context.Background(), "npm", "pyt")
	require.NoError(t, err)

	// The first fetch is still inside its debounce sleep when the grace
	// period elapses and its task is cancelled; the second runs to
	// completion.
	firstTask := waitTerminal(t, store, first)
	assert.Equal(t, models.StatusCancelled, firstTask.Status)
	secondTask := waitTerminal(t, store, second)
	assert.Equal(t, models.StatusCompleted, secondTask.Status)
}

func TestTriggerRemoteSearch_FansOutOnlyToSearchCapableManagers(t *testing.T) {
	searched := make(map[string]bool)
	var mu sync.Mutex
	mark := func(id string) func(ctx context.Context, query string) (adapter.SearchResponse, error) {
		return func(ctx context.Context, query string) (adapter.SearchResponse, error) {
			mu.Lock()
			searched[id] = true
			mu.Unlock()
			return adapter.SearchResponse{}, nil
		}
	}
	rt, store := newTestRuntime(t, map[string]adapter.Manager{
		"npm":              {ID: "npm", Search: mark("npm")},
		"homebrew_formula": {ID: "homebrew_formula", Search: mark("homebrew_formula")},
	})

	taskIDs := rt.TriggerRemoteSearch(context.Background(), "lodash")
	require.NotEmpty(t, taskIDs)
	for _, id := range taskIDs {
		waitTerminal(t, store, id)
	}

	// cargo declares no Search capability, so no task may exist for it.
	cargoTasks, err := store.ListTasks(context.Background(), "cargo", nil, 0)
	require.NoError(t, err)
	assert.Empty(t, cargoTasks)
}

func TestUpgradePackage_InvalidNameRejectedBeforeSubmission(t *testing.T) {
	rt, store := newTestRuntime(t, nil)
	_, err := rt.UpgradePackage(context.Background(), "npm", "--force-evil")
	require.Error(t, err)

	tasks, err := store.ListTasks(context.Background(), "npm", nil, 0)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestVirtualPinExcludesPackageFromUpgradePlan(t *testing.T) {
	// npm declares no native Pin capability, so PinPackage writes a
	// virtual PinRecord. The adapter-reported outdated rows know nothing
	// about it; the merged read must still exclude the package.
	rt, store := newTestRuntime(t, map[string]adapter.Manager{"npm": {ID: "npm"}})
	ctx := context.Background()
	require.NoError(t, store.ReplaceOutdatedPackages(ctx, "npm", []models.OutdatedPackage{
		{Ref: models.PackageRef{ManagerID: "npm", Name: "eslint"}, CandidateVersion: "9.0.0"},
		{Ref: models.PackageRef{ManagerID: "npm", Name: "typescript"}, CandidateVersion: "5.5.0"},
	}))

	applied, err := rt.PinPackage(ctx, "npm", "eslint", "")
	require.NoError(t, err)
	require.True(t, applied)

	steps, err := rt.PreviewUpgradePlan(ctx, false, false)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "npm:typescript", steps[0].StepID)

	// include_pinned brings the pinned package back into the plan.
	withPinned, err := rt.PreviewUpgradePlan(ctx, true, false)
	require.NoError(t, err)
	assert.Len(t, withPinned, 2)

	// The boundary's outdated listing reflects the merged pin state too.
	outdated, err := rt.ListOutdatedPackages(ctx)
	require.NoError(t, err)
	for _, o := range outdated {
		if o.Ref.Name == "eslint" {
			assert.True(t, o.Pinned)
		}
	}

	// Unpinning restores the package to the plan.
	ok, err := rt.UnpinPackage(ctx, "npm", "eslint")
	require.NoError(t, err)
	require.True(t, ok)
	steps, err = rt.PreviewUpgradePlan(ctx, false, false)
	require.NoError(t, err)
	assert.Len(t, steps, 2)
}
