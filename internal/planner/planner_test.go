package planner

import (
	"context"
	"path/filepath"
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

func outdatedFixture() []models.OutdatedPackage {
	return []models.OutdatedPackage{
		{Ref: models.PackageRef{ManagerID: "mise", Name: "node"}, CandidateVersion: "20.0.0"},
		{Ref: models.PackageRef{ManagerID: "npm", Name: "eslint"}, CandidateVersion: "9.0.0", Pinned: true},
		{Ref: models.PackageRef{ManagerID: "homebrew_formula", Name: "git"}, CandidateVersion: "2.45.0"},
		{Ref: models.PackageRef{ManagerID: "softwareupdate", Name: "macOS 14.5"}, CandidateVersion: "14.5"},
	}
}

func basePolicy() models.PolicyState {
	return models.PolicyState{
		ManagerEnabled: map[string]bool{},
	}
}

func TestBuildPlan_Determinism(t *testing.T) {
	policy := basePolicy()
	steps := BuildPlan(outdatedFixture(), policy, false, true)

	require.Len(t, steps, 3)
	assert.Equal(t, "mise", steps[0].ManagerID)
	assert.Equal(t, "node", steps[0].PackageName)
	assert.Equal(t, "homebrew_formula", steps[1].ManagerID)
	assert.Equal(t, "git", steps[1].PackageName)
	assert.Equal(t, "softwareupdate", steps[2].ManagerID)
	assert.Equal(t, "softwareupdate:__confirm_os_updates__", steps[2].StepID)
	for i, s := range steps {
		assert.Equal(t, i, s.OrderIndex)
	}

	again := BuildPlan(outdatedFixture(), policy, false, true)
	require.Len(t, again, len(steps))
	for i := range steps {
		assert.Equal(t, steps[i].StepID, again[i].StepID)
		assert.Equal(t, steps[i].OrderIndex, again[i].OrderIndex)
	}
}

func TestBuildPlan_PinnedExcludedUnlessIncludePinned(t *testing.T) {
	policy := basePolicy()
	steps := BuildPlan(outdatedFixture(), policy, false, true)
	for _, s := range steps {
		assert.NotEqual(t, "eslint", s.PackageName)
	}

	withPinned := BuildPlan(outdatedFixture(), policy, true, true)
	found := false
	for _, s := range withPinned {
		if s.PackageName == "eslint" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestBuildPlan_SafeModeBlocksSoftwareupdate(t *testing.T) {
	policy := basePolicy()
	policy.SafeMode = true
	steps := BuildPlan(outdatedFixture(), policy, false, true)
	for _, s := range steps {
		assert.NotEqual(t, "softwareupdate", s.ManagerID)
	}
}

func TestBuildPlan_DisabledManagerExcluded(t *testing.T) {
	policy := basePolicy()
	policy.ManagerEnabled["homebrew_formula"] = false
	steps := BuildPlan(outdatedFixture(), policy, false, true)
	for _, s := range steps {
		assert.NotEqual(t, "homebrew_formula", s.ManagerID)
	}
}

func newTestExecutor(t *testing.T, adapters map[string]adapter.Manager) (*Executor, *repository.Store) {
	t.Helper()
	store, err := repository.Open(filepath.Join(t.TempDir(), "planner-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	coord := coordinator.New(store, nil, 4)
	rt := adapterrt.New(adapters)
	return NewExecutor(coord, rt, store), store
}

func waitRunDrained(t *testing.T, store *repository.Store, stepCount int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		tasks, err := store.ListTasks(context.Background(), "", nil, 0)
		require.NoError(t, err)
		if len(tasks) >= stepCount {
			allTerminal := true
			for _, tk := range tasks {
				if !models.IsTerminal(tk.Status) {
					allTerminal = false
					break
				}
			}
			if allTerminal {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("run did not drain in time")
}

func TestExecutor_Run_ExecutesStepsToCompletion(t *testing.T) {
	adapters := map[string]adapter.Manager{
		"mise": {
			ID: "mise",
			Upgrade: func(ctx context.Context, req adapter.Request) (adapter.MutationResponse, error) {
				return adapter.MutationResponse{Executed: true}, nil
			},
		},
	}
	exec, store := newTestExecutor(t, adapters)
	steps := []models.UpgradePlanStep{
		{StepID: "mise:node", ManagerID: "mise", Authority: models.Authoritative, PackageName: "node", ReasonLabelKey: "plan.reason.outdated"},
	}
	handle := exec.Run(context.Background(), steps)
	require.NotNil(t, handle)

	waitRunDrained(t, store, 1)
	tasks, err := store.ListTasks(context.Background(), "mise", nil, 0)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.StatusCompleted, tasks[0].Status)
}

func TestExecutor_Run_SoftwareupdateStepUpgradesWithSyntheticName(t *testing.T) {
	var gotName string
	adapters := map[string]adapter.Manager{
		"softwareupdate": {
			ID: "softwareupdate",
			Upgrade: func(ctx context.Context, req adapter.Request) (adapter.MutationResponse, error) {
				gotName = req.PackageName
				return adapter.MutationResponse{Executed: true}, nil
			},
			ListOutdated: func(ctx context.Context) (adapter.ListOutdatedResponse, error) {
				return adapter.ListOutdatedResponse{}, nil
			},
		},
	}
	exec, store := newTestExecutor(t, adapters)
	steps := []models.UpgradePlanStep{
		{StepID: "softwareupdate:__confirm_os_updates__", ManagerID: "softwareupdate", Authority: models.Guarded, PackageName: osUpdateStepName, ReasonLabelKey: "plan.reason.os_update"},
	}
	exec.Run(context.Background(), steps)
	waitRunDrained(t, store, 1)
	assert.Equal(t, osUpdateStepName, gotName)
}

func TestOutdatedVerifier_RefreshesStoreAndReportsMembership(t *testing.T) {
	stillListed := true
	adapters := map[string]adapter.Manager{
		"homebrew_formula": {
			ID: "homebrew_formula",
			ListOutdated: func(ctx context.Context) (adapter.ListOutdatedResponse, error) {
				if stillListed {
					return adapter.ListOutdatedResponse{Packages: []models.OutdatedPackage{
						{Ref: models.PackageRef{ManagerID: "homebrew_formula", Name: "wget"}, CandidateVersion: "1.21.4"},
					}}, nil
				}
				return adapter.ListOutdatedResponse{}, nil
			},
		},
	}
	exec, store := newTestExecutor(t, adapters)
	verify := OutdatedVerifier(exec.rt, store)

	outdated, candidate, err := verify(context.Background(), "homebrew_formula", "wget")
	require.NoError(t, err)
	assert.True(t, outdated)
	assert.Equal(t, "1.21.4", candidate)

	stillListed = false
	outdated, _, err = verify(context.Background(), "homebrew_formula", "wget")
	require.NoError(t, err)
	assert.False(t, outdated)

	rows, err := store.ListOutdatedPackages(context.Background(), "homebrew_formula")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestExecutor_Cancel_InvalidatesRunBeforeLaterPhases(t *testing.T) {
	started := make(chan struct{}, 1)
	adapters := map[string]adapter.Manager{
		"mise": {
			ID: "mise",
			Upgrade: func(ctx context.Context, req adapter.Request) (adapter.MutationResponse, error) {
				started <- struct{}{}
				<-ctx.Done()
				return adapter.MutationResponse{}, ctx.Err()
			},
		},
		"npm": {
			ID: "npm",
			Upgrade: func(ctx context.Context, req adapter.Request) (adapter.MutationResponse, error) {
				t.Fatal("a later phase must not run after Cancel invalidates the run token")
				return adapter.MutationResponse{}, nil
			},
		},
	}
	exec, store := newTestExecutor(t, adapters)
	steps := []models.UpgradePlanStep{
		{StepID: "mise:node", ManagerID: "mise", Authority: models.Authoritative, PackageName: "node", ReasonLabelKey: "plan.reason.outdated"},
		{StepID: "npm:eslint", ManagerID: "npm", Authority: models.Standard, PackageName: "eslint", ReasonLabelKey: "plan.reason.outdated"},
	}
	handle := exec.Run(context.Background(), steps)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first phase step never started")
	}
	handle.Cancel()

	deadline := time.Now().Add(1 * time.Second)
	for time.Now().Before(deadline) {
		tasks, err := store.ListTasks(context.Background(), "mise", nil, 0)
		require.NoError(t, err)
		if len(tasks) == 1 && models.IsTerminal(tasks[0].Status) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	npmTasks, err := store.ListTasks(context.Background(), "npm", nil, 0)
	require.NoError(t, err)
	assert.Empty(t, npmTasks)
}
