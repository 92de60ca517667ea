// Package core is the typed in-process facade: every operation the JSON
// boundary exposes is a method here first, so an embedder gets the full
// surface without going through HTTP. internal/api/rest handlers stay thin
// wrappers over this package.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jasoncavinder/helm/internal/adapter"
	"github.com/jasoncavinder/helm/internal/adapterrt"
	"github.com/jasoncavinder/helm/internal/coordinator"
	"github.com/jasoncavinder/helm/internal/errs"
	"github.com/jasoncavinder/helm/internal/models"
	"github.com/jasoncavinder/helm/internal/pkg/validate"
	"github.com/jasoncavinder/helm/internal/planner"
	"github.com/jasoncavinder/helm/internal/policy"
	"github.com/jasoncavinder/helm/internal/refresh"
	"github.com/jasoncavinder/helm/internal/registry"
	"github.com/jasoncavinder/helm/internal/repository"
	"github.com/jasoncavinder/helm/internal/search"
)

// SupersedeGrace is how long a superseded remote search keeps running
// before its task is cancelled — long enough for a near-complete fetch to
// land and enrich the cache, short enough that an abandoned query does not
// hold a manager lane.
const SupersedeGrace = 200 * time.Millisecond

// Runtime wires every component into the full boundary operation set.
type Runtime struct {
	store     *repository.Store
	coord     *coordinator.Coordinator
	rt        *adapterrt.Runtime
	refresher *refresh.Orchestrator
	search    *search.Pipeline
	plan      *planner.Executor
	pol       *policy.Store
	logger    *slog.Logger

	mu             sync.Mutex
	lastSearchTask map[string]uint64 // managerID -> last submitted remote search task id
	lastErrorSeen  time.Time
}

func New(store *repository.Store, coord *coordinator.Coordinator, rt *adapterrt.Runtime, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		store:          store,
		coord:          coord,
		rt:             rt,
		refresher:      refresh.New(coord, rt, store, logger),
		search:         search.New(store, rt),
		plan:           planner.NewExecutor(coord, rt, store),
		pol:            policy.New(store),
		logger:         logger,
		lastSearchTask: make(map[string]uint64),
	}
}

// TriggerRefresh runs a full authority-phased detection sweep in the
// background and returns a batch id the caller can use to correlate
// progress via list_manager_status / list_tasks; the batch id itself is
// not a persisted join key (no table models a task batch). A sweep already
// in flight is not duplicated; the caller still gets a batch id and can
// observe the running sweep's tasks.
func (r *Runtime) TriggerRefresh(ctx context.Context) string {
	batchID := fmt.Sprintf("refresh-%d", time.Now().UnixNano())
	go r.refresher.RefreshAll(context.Background())
	return batchID
}

// SetTaskObserver forwards every task state transition to fn; used by the
// websocket hub for push updates.
func (r *Runtime) SetTaskObserver(fn func(models.TaskRecord)) {
	r.coord.SetObserver(fn)
}

// SetStatusObserver forwards every manager status write during detection
// sweeps to fn.
func (r *Runtime) SetStatusObserver(fn func(models.ManagerStatus)) {
	r.refresher.SetStatusObserver(fn)
}

func (r *Runtime) ListTasks(ctx context.Context, limit int) ([]models.TaskRecord, error) {
	return r.store.ListTasks(ctx, "", nil, limit)
}

func (r *Runtime) CancelTask(ctx context.Context, taskID uint64) bool {
	return r.coord.Cancel(taskID)
}

func (r *Runtime) ListInstalledPackages(ctx context.Context) ([]models.InstalledPackage, error) {
	return r.store.ListInstalledPackages(ctx, "")
}

func (r *Runtime) ListOutdatedPackages(ctx context.Context) ([]models.OutdatedPackage, error) {
	return r.store.ListOutdatedPackages(ctx, "")
}

func (r *Runtime) ListManagerStatus(ctx context.Context) ([]models.ManagerStatus, error) {
	return r.store.ListManagerStatus(ctx)
}

func (r *Runtime) SearchLocal(ctx context.Context, query string) ([]models.SearchCacheEntry, error) {
	return r.search.Local(ctx, query)
}

// TriggerRemoteSearchForManager submits the pipeline's debounced remote
// fetch as a coordinator task. Any earlier remote search this Runtime
// submitted for the same manager is superseded: its task is cancelled
// after SupersedeGrace, so a fast run of keystrokes leaves only the last
// query's task live while a nearly-finished fetch may still complete and
// enrich the cache.
func (r *Runtime) TriggerRemoteSearchForManager(ctx context.Context, managerID, query string) (uint64, error) {
	if _, ok := registry.Get(managerID); !ok {
		return 0, errs.New(models.ErrInvalidInput, managerID, models.TaskSearch, "trigger_remote_search_for_manager", "unknown manager id")
	}

	r.mu.Lock()
	if prevID, ok := r.lastSearchTask[managerID]; ok {
		time.AfterFunc(SupersedeGrace, func() { r.coord.Cancel(prevID) })
	}
	r.mu.Unlock()

	task, err := r.coord.Submit(managerID, models.TaskSearch, "task.search", map[string]string{"query": query}, func(ctx context.Context) error {
		return r.search.FetchRemote(ctx, managerID, query)
	})
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	r.lastSearchTask[managerID] = task.ID
	r.mu.Unlock()
	return task.ID, nil
}

// TriggerRemoteSearch fans the query out to every enabled manager that
// declares Search, returning the submitted task ids. Managers whose
// submission fails are skipped; the fan-out is best-effort by design since
// one manager's failure must not starve the others.
func (r *Runtime) TriggerRemoteSearch(ctx context.Context, query string) []uint64 {
	statuses, err := r.store.ListManagerStatus(ctx)
	enabled := make(map[string]bool, len(statuses))
	if err == nil {
		for _, st := range statuses {
			enabled[st.ManagerID] = st.Enabled
		}
	}
	var taskIDs []uint64
	for _, desc := range registry.All() {
		if !desc.IsImplemented || !desc.Capabilities.Has(models.CapSearch) {
			continue
		}
		if on, known := enabled[desc.ID]; known && !on {
			continue
		}
		id, err := r.TriggerRemoteSearchForManager(ctx, desc.ID, query)
		if err != nil {
			r.logger.Warn("remote search fan-out skipped manager", "manager_id", desc.ID, "error", err)
			continue
		}
		taskIDs = append(taskIDs, id)
	}
	return taskIDs
}

// checkPackageOp validates the manager id and package name before a task
// record is created — a rejected mutation never spawns a child process nor
// leaves a Queued row behind.
func checkPackageOp(managerID, packageName string, taskType models.TaskType, operation string) error {
	if _, ok := registry.Get(managerID); !ok {
		return errs.New(models.ErrInvalidInput, managerID, taskType, operation, "unknown manager id")
	}
	if !validate.PackageName(packageName) {
		return errs.New(models.ErrInvalidInput, managerID, taskType, operation, "invalid package name")
	}
	return nil
}

func (r *Runtime) UpgradePackage(ctx context.Context, managerID, packageName string) (uint64, error) {
	if err := checkPackageOp(managerID, packageName, models.TaskUpgrade, "upgrade_package"); err != nil {
		return 0, err
	}
	safeMode, err := r.pol.GetSafeMode(ctx)
	if err != nil {
		return 0, errs.Wrap(models.ErrStorageFailure, managerID, models.TaskUpgrade, "upgrade_package", err)
	}
	if safeMode && managerID == "softwareupdate" {
		return 0, errs.New(models.ErrInvalidInput, managerID, models.TaskUpgrade, "upgrade_package", "safe mode forbids direct softwareupdate upgrades")
	}
	task, err := r.coord.Submit(managerID, models.TaskUpgrade, "task.upgrade", map[string]string{"package": packageName}, func(ctx context.Context) error {
		req := adapter.Request{PackageName: packageName}
		_, err := r.rt.Upgrade(ctx, managerID, req, planner.OutdatedVerifier(r.rt, r.store))
		return err
	})
	if err != nil {
		return 0, err
	}
	return task.ID, nil
}

func (r *Runtime) InstallPackage(ctx context.Context, managerID, packageName string) (uint64, error) {
	if err := checkPackageOp(managerID, packageName, models.TaskInstall, "install_package"); err != nil {
		return 0, err
	}
	task, err := r.coord.Submit(managerID, models.TaskInstall, "task.install", map[string]string{"package": packageName}, func(ctx context.Context) error {
		_, err := r.rt.Install(ctx, managerID, adapter.Request{PackageName: packageName})
		return err
	})
	if err != nil {
		return 0, err
	}
	return task.ID, nil
}

func (r *Runtime) UninstallPackage(ctx context.Context, managerID, packageName string) (uint64, error) {
	if err := checkPackageOp(managerID, packageName, models.TaskUninstall, "uninstall_package"); err != nil {
		return 0, err
	}
	task, err := r.coord.Submit(managerID, models.TaskUninstall, "task.uninstall", map[string]string{"package": packageName}, func(ctx context.Context) error {
		_, err := r.rt.Uninstall(ctx, managerID, adapter.Request{PackageName: packageName})
		return err
	})
	if err != nil {
		return 0, err
	}
	return task.ID, nil
}

// PinPackage uses the manager's native Pin capability when declared,
// persisting the resulting pin as NATIVE; otherwise it writes a VIRTUAL
// PinRecord, refusing (InvalidInput) when the package already carries a
// native pin the manager itself reports.
func (r *Runtime) PinPackage(ctx context.Context, managerID, packageName, version string) (bool, error) {
	if err := checkPackageOp(managerID, packageName, models.TaskPin, "pin_package"); err != nil {
		return false, err
	}
	desc, _ := registry.Get(managerID)
	var verPtr *string
	if version != "" {
		verPtr = &version
	}

	if desc.Capabilities.Has(models.CapPin) {
		resp, err := r.rt.Pin(ctx, managerID, adapter.Request{PackageName: packageName, Version: version})
		if err != nil {
			return false, err
		}
		if err := r.store.UpsertPin(ctx, models.PinRecord{ManagerID: managerID, PackageName: packageName, Version: verPtr, Source: models.PinNative}); err != nil {
			return false, errs.Wrap(models.ErrStorageFailure, managerID, models.TaskPin, "pin_package", err)
		}
		return resp.Applied, nil
	}

	installed, err := r.store.ListInstalledPackages(ctx, managerID)
	if err != nil {
		return false, errs.Wrap(models.ErrStorageFailure, managerID, models.TaskPin, "pin_package", err)
	}
	for _, p := range installed {
		if p.Ref.Name == packageName && p.Pinned {
			return false, errs.New(models.ErrInvalidInput, managerID, models.TaskPin, "pin_package", "package already natively pinned")
		}
	}
	if err := r.store.UpsertPin(ctx, models.PinRecord{ManagerID: managerID, PackageName: packageName, Version: verPtr, Source: models.PinVirtual}); err != nil {
		return false, errs.Wrap(models.ErrStorageFailure, managerID, models.TaskPin, "pin_package", err)
	}
	return true, nil
}

func (r *Runtime) UnpinPackage(ctx context.Context, managerID, packageName string) (bool, error) {
	if err := checkPackageOp(managerID, packageName, models.TaskUnpin, "unpin_package"); err != nil {
		return false, err
	}
	desc, _ := registry.Get(managerID)
	ref := models.PackageRef{ManagerID: managerID, Name: packageName}
	if desc.Capabilities.Has(models.CapUnpin) {
		resp, err := r.rt.Unpin(ctx, managerID, adapter.Request{PackageName: packageName})
		if err != nil {
			return false, err
		}
		if err := r.store.DeletePin(ctx, ref); err != nil {
			return false, errs.Wrap(models.ErrStorageFailure, managerID, models.TaskUnpin, "unpin_package", err)
		}
		return resp.Applied, nil
	}
	if err := r.store.DeletePin(ctx, ref); err != nil {
		return false, errs.Wrap(models.ErrStorageFailure, managerID, models.TaskUnpin, "unpin_package", err)
	}
	return true, nil
}

// InstallManager, UpdateManager, UninstallManager act on the manager's own
// binary rather than a package it manages. Only UpdateManager has an
// adapter capability (SelfUpdate, e.g. "brew update"); no adapter models
// installing or removing its own toolchain binary, so those two always
// submit a task that terminates UnsupportedCapability rather than silently
// accepting a call nothing can service (the boundary still requires a
// task_id return for every one of these three operations).
func (r *Runtime) UpdateManager(ctx context.Context, managerID string) (uint64, error) {
	task, err := r.coord.Submit(managerID, models.TaskUpgrade, "task.update_manager", nil, func(ctx context.Context) error {
		_, err := r.rt.SelfUpdate(ctx, managerID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return task.ID, nil
}

func (r *Runtime) InstallManager(ctx context.Context, managerID string) (uint64, error) {
	return r.unsupportedManagerTask(ctx, managerID, models.TaskInstall, "task.install_manager", "install_manager")
}

func (r *Runtime) UninstallManager(ctx context.Context, managerID string) (uint64, error) {
	return r.unsupportedManagerTask(ctx, managerID, models.TaskUninstall, "task.uninstall_manager", "uninstall_manager")
}

func (r *Runtime) unsupportedManagerTask(ctx context.Context, managerID string, taskType models.TaskType, labelKey, operation string) (uint64, error) {
	task, err := r.coord.Submit(managerID, taskType, labelKey, nil, func(ctx context.Context) error {
		return errs.New(models.ErrUnsupportedCapability, managerID, taskType, operation, "no adapter manages its own installation")
	})
	if err != nil {
		return 0, err
	}
	return task.ID, nil
}

// UpgradeAll builds the deterministic plan and executes it phase by phase,
// returning the run token (formatted as the opaque task_batch_id) the
// caller can later pass to CancelUpgradeRun.
func (r *Runtime) UpgradeAll(ctx context.Context, includePinned, allowOSUpdates bool) (string, error) {
	steps, err := r.PreviewUpgradePlan(ctx, includePinned, allowOSUpdates)
	if err != nil {
		return "", err
	}
	handle := r.plan.Run(context.Background(), steps)
	return strconv.FormatUint(handle.Token(), 10), nil
}

// CancelUpgradeRun is "cancel remaining" for a scoped execution: it
// invalidates the run token (no further step is submitted) and cancels
// every task already submitted for that run. Returns false for a batch id
// that is not a live run token.
func (r *Runtime) CancelUpgradeRun(ctx context.Context, batchID string) bool {
	token, err := strconv.ParseUint(batchID, 10, 64)
	if err != nil {
		return false
	}
	return r.plan.CancelToken(token)
}

func (r *Runtime) PreviewUpgradePlan(ctx context.Context, includePinned, allowOSUpdates bool) ([]models.UpgradePlanStep, error) {
	outdated, err := r.store.ListOutdatedPackages(ctx, "")
	if err != nil {
		return nil, errs.Wrap(models.ErrStorageFailure, "", models.TaskUpgrade, "preview_upgrade_plan", err)
	}
	state, err := r.pol.State(ctx)
	if err != nil {
		return nil, err
	}
	return planner.BuildPlan(outdated, state, includePinned, allowOSUpdates), nil
}

func (r *Runtime) GetSafeMode(ctx context.Context) (bool, error) { return r.pol.GetSafeMode(ctx) }
func (r *Runtime) SetSafeMode(ctx context.Context, on bool) (bool, error) {
	if err := r.pol.SetSafeMode(ctx, on); err != nil {
		return false, err
	}
	return on, nil
}

func (r *Runtime) GetHomebrewKegAutoCleanup(ctx context.Context) (bool, error) {
	return r.pol.GetHomebrewKegAutoCleanup(ctx)
}
func (r *Runtime) SetHomebrewKegAutoCleanup(ctx context.Context, on bool) (bool, error) {
	if err := r.pol.SetHomebrewKegAutoCleanup(ctx, on); err != nil {
		return false, err
	}
	return on, nil
}

func (r *Runtime) ListPackageKegPolicies(ctx context.Context) (map[models.PackageRef]models.KegPolicyMode, error) {
	return r.pol.ListPackageKegPolicies(ctx)
}

func (r *Runtime) SetPackageKegPolicy(ctx context.Context, ref models.PackageRef, mode models.KegPolicyMode) error {
	return r.pol.SetPackageKegPolicy(ctx, ref, mode)
}

func (r *Runtime) GetTaskOutput(ctx context.Context, taskID uint64) (models.TaskOutput, bool, error) {
	return r.store.GetTaskOutput(ctx, taskID)
}

func (r *Runtime) ListTaskLogs(ctx context.Context, taskID uint64, limit int) ([]models.LogRecord, error) {
	logs, err := r.store.ListTaskLogs(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(logs) > limit {
		logs = logs[len(logs)-limit:]
	}
	return logs, nil
}

// TakeLastErrorKey drains the most recent localization-ready error key:
// "service.error." plus the lowercased error kind of the most recently
// failed task this call has not already returned. Drain state is scoped to
// this Runtime instance.
func (r *Runtime) TakeLastErrorKey(ctx context.Context) (*string, error) {
	failed := models.StatusFailed
	tasks, err := r.store.ListTasks(ctx, "", &failed, 1)
	if err != nil {
		return nil, errs.Wrap(models.ErrStorageFailure, "", "", "take_last_error_key", err)
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	latest := tasks[0]
	r.mu.Lock()
	defer r.mu.Unlock()
	if latest.TerminalAt == nil || !latest.TerminalAt.After(r.lastErrorSeen) {
		return nil, nil
	}
	r.lastErrorSeen = *latest.TerminalAt
	key := "service.error.internal_error"
	if latest.ErrorKind != nil {
		key = fmt.Sprintf("service.error.%s", strings.ToLower(string(*latest.ErrorKind)))
	}
	return &key, nil
}

func (r *Runtime) ResetDatabase(ctx context.Context) (bool, error) {
	if err := r.store.ResetDatabase(ctx); err != nil {
		return false, errs.Wrap(models.ErrStorageFailure, "", "", "reset_database", err)
	}
	return true, nil
}
