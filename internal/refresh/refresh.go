// Package refresh is the Refresh Orchestrator: it walks the manager
// registry in authority order — Authoritative, then Standard, then
// Guarded, then DetectionOnly — running a bounded-concurrency sweep within
// each phase before starting the next. Each step is its own coordinator
// task: Detection always runs first, and list_installed / list_outdated
// only fire for a manager that Detect reported present.
package refresh

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jasoncavinder/helm/internal/adapterrt"
	"github.com/jasoncavinder/helm/internal/coordinator"
	"github.com/jasoncavinder/helm/internal/errs"
	"github.com/jasoncavinder/helm/internal/models"
	"github.com/jasoncavinder/helm/internal/registry"
	"github.com/jasoncavinder/helm/internal/repository"
)

const defaultPhaseWorkers = 4

// StuckTimeout clears the orchestrator's in-flight flag if a sweep has not
// finished after this long. The flag is only tracking state — the
// underlying tasks still reach terminal status through the Process
// Runner's own per-operation timeouts.
const StuckTimeout = 120 * time.Second

// detectionFreshness is how recently a DetectionOnly manager must have been
// seen for its detection step to be skipped. Filesystem probes for app
// bundles do not change minute to minute.
const detectionFreshness = 15 * time.Minute

var phaseOrder = []models.Authority{
	models.Authoritative, models.Standard, models.Guarded, models.DetectionOnly,
}

// Orchestrator runs a full authority-phased refresh sweep on demand.
type Orchestrator struct {
	coord        *coordinator.Coordinator
	rt           *adapterrt.Runtime
	store        *repository.Store
	logger       *slog.Logger
	phaseWorkers int

	// WarmupSearch submits an empty-query search per detected manager with
	// the Search capability, pre-filling the cache before the user types.
	WarmupSearch bool

	inFlight atomic.Bool

	statusMu  sync.RWMutex
	statusObs func(models.ManagerStatus)
}

func New(coord *coordinator.Coordinator, rt *adapterrt.Runtime, store *repository.Store, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{coord: coord, rt: rt, store: store, logger: logger, phaseWorkers: defaultPhaseWorkers}
}

// SetStatusObserver registers a callback invoked whenever a manager status
// row is written during a detection sweep, mirroring the coordinator's task
// observer for the websocket push side.
func (o *Orchestrator) SetStatusObserver(fn func(models.ManagerStatus)) {
	o.statusMu.Lock()
	o.statusObs = fn
	o.statusMu.Unlock()
}

func (o *Orchestrator) notifyStatus(status models.ManagerStatus) {
	o.statusMu.RLock()
	fn := o.statusObs
	o.statusMu.RUnlock()
	if fn != nil {
		fn(status)
	}
}

// RefreshAll runs every phase in order, waiting for one phase's tasks to
// reach a terminal state before starting the next. A sweep already in
// flight is not duplicated. If a sweep wedges, the tracking flag clears
// after StuckTimeout so the next trigger is not locked out forever.
func (o *Orchestrator) RefreshAll(ctx context.Context) {
	if !o.inFlight.CompareAndSwap(false, true) {
		return
	}
	valve := time.AfterFunc(StuckTimeout, func() {
		if o.inFlight.CompareAndSwap(true, false) {
			o.logger.Warn("refresh sweep exceeded stuck timeout; tracking flag cleared")
		}
	})
	defer func() {
		valve.Stop()
		o.inFlight.Store(false)
	}()

	for _, authority := range phaseOrder {
		o.refreshPhase(ctx, registry.ByAuthority(authority))
	}
}

// InFlight reports whether a sweep is currently tracked as running.
func (o *Orchestrator) InFlight() bool {
	return o.inFlight.Load()
}

// RefreshManager runs the detection and listing steps for a single manager
// outside the phase sweep — the manual per-manager refresh trigger.
func (o *Orchestrator) RefreshManager(ctx context.Context, managerID string) {
	desc, ok := registry.Get(managerID)
	if !ok {
		return
	}
	o.refreshOne(ctx, desc)
}

func (o *Orchestrator) refreshPhase(ctx context.Context, descs []models.ManagerDescriptor) {
	sem := make(chan struct{}, o.phaseWorkers)
	var wg sync.WaitGroup
	for _, d := range descs {
		if !d.IsImplemented || !d.Capabilities.Has(models.CapDetect) {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(d models.ManagerDescriptor) {
			defer wg.Done()
			defer func() { <-sem }()
			o.refreshOne(ctx, d)
		}(d)
	}
	wg.Wait()
}

// refreshOne runs the per-manager step sequence: Detection, then — if the
// manager was detected — list_installed and list_outdated as separate
// tasks, each gated on the corresponding capability. Step failures are
// recorded on their own task and never abort the other steps or managers.
func (o *Orchestrator) refreshOne(ctx context.Context, d models.ManagerDescriptor) {
	if d.Authority == models.DetectionOnly && o.recentlySeen(ctx, d.ID) {
		return
	}

	task, err := o.coord.Submit(d.ID, models.TaskDetection, "task.detect", map[string]string{}, func(ctx context.Context) error {
		return o.detect(ctx, d)
	})
	if err != nil {
		o.logger.Error("refresh: submit detection failed", "manager_id", d.ID, "error", err)
		return
	}
	o.waitForTerminal(ctx, task.ID)

	// Detection status is whatever the just-terminal task persisted.
	status, ok, err := o.store.GetManagerStatus(ctx, d.ID)
	if err != nil || !ok || !status.Detected {
		return
	}

	var stepIDs []uint64
	if d.Capabilities.Has(models.CapListInstalled) {
		if t, err := o.coord.Submit(d.ID, models.TaskRefresh, "task.list_installed", map[string]string{}, func(ctx context.Context) error {
			return o.listInstalled(ctx, d.ID)
		}); err == nil {
			stepIDs = append(stepIDs, t.ID)
		}
	}
	if d.Capabilities.Has(models.CapListOutdated) {
		if t, err := o.coord.Submit(d.ID, models.TaskRefresh, "task.list_outdated", map[string]string{}, func(ctx context.Context) error {
			return o.listOutdated(ctx, d.ID)
		}); err == nil {
			stepIDs = append(stepIDs, t.ID)
		}
	}
	if o.WarmupSearch && d.Capabilities.Has(models.CapSearch) {
		if t, err := o.coord.Submit(d.ID, models.TaskSearch, "task.search", map[string]string{"query": ""}, func(ctx context.Context) error {
			return o.warmup(ctx, d.ID)
		}); err == nil {
			stepIDs = append(stepIDs, t.ID)
		}
	}
	for _, id := range stepIDs {
		o.waitForTerminal(ctx, id)
	}
}

// recentlySeen reports whether managerID was detected within the freshness
// window.
func (o *Orchestrator) recentlySeen(ctx context.Context, managerID string) bool {
	st, ok, err := o.store.GetManagerStatus(ctx, managerID)
	if err != nil || !ok || !st.Detected {
		return false
	}
	return time.Since(st.LastSeenAt) < detectionFreshness
}

func (o *Orchestrator) detect(ctx context.Context, d models.ManagerDescriptor) error {
	detectResp, err := o.rt.Detect(ctx, d.ID)
	if err != nil {
		return err
	}
	status := models.ManagerStatus{
		ManagerID:       d.ID,
		Detected:        detectResp.Detected,
		Version:         detectResp.Version,
		ExecutablePath:  detectResp.ExecutablePath,
		Enabled:         d.DefaultEnabled,
		IsImplemented:   d.IsImplemented,
		CapabilityFlags: d.Capabilities,
	}
	if existing, ok, err := o.store.GetManagerStatus(ctx, d.ID); err == nil && ok {
		status.Enabled = existing.Enabled
	}
	if err := o.store.UpsertManagerStatus(ctx, status); err != nil {
		return errs.Wrap(models.ErrStorageFailure, d.ID, models.TaskDetection, "persist_manager_status", err)
	}
	o.notifyStatus(status)
	return nil
}

func (o *Orchestrator) listInstalled(ctx context.Context, managerID string) error {
	resp, err := o.rt.ListInstalled(ctx, managerID)
	if err != nil {
		return err
	}
	if err := o.store.ReplaceInstalledPackages(ctx, managerID, resp.Packages); err != nil {
		return errs.Wrap(models.ErrStorageFailure, managerID, models.TaskRefresh, "persist_installed", err)
	}
	if resp.SkippedLines > 0 {
		o.logger.Debug("refresh: skipped unparseable lines", "manager_id", managerID, "operation", "list_installed", "skipped", resp.SkippedLines)
	}
	return nil
}

func (o *Orchestrator) listOutdated(ctx context.Context, managerID string) error {
	resp, err := o.rt.ListOutdated(ctx, managerID)
	if err != nil {
		return err
	}
	if err := o.store.ReplaceOutdatedPackages(ctx, managerID, resp.Packages); err != nil {
		return errs.Wrap(models.ErrStorageFailure, managerID, models.TaskRefresh, "persist_outdated", err)
	}
	if resp.SkippedLines > 0 {
		o.logger.Debug("refresh: skipped unparseable lines", "manager_id", managerID, "operation", "list_outdated", "skipped", resp.SkippedLines)
	}
	return nil
}

// warmup runs an empty-query search and merges whatever comes back into
// the cache, so the first interactive keystroke has local rows to rank.
func (o *Orchestrator) warmup(ctx context.Context, managerID string) error {
	resp, err := o.rt.Search(ctx, managerID, "")
	if err != nil {
		return err
	}
	for _, e := range resp.Entries {
		if err := o.store.UpsertSearchCacheEntry(ctx, e); err != nil {
			return errs.Wrap(models.ErrStorageFailure, managerID, models.TaskSearch, "persist_search_cache", err)
		}
	}
	return nil
}

// waitForTerminal polls for task completion. The coordinator's execution is
// asynchronous by design (callers elsewhere fire tasks and return
// immediately); the phase sweep is the one caller that needs to know a
// step has actually finished before moving on.
func (o *Orchestrator) waitForTerminal(ctx context.Context, taskID uint64) {
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		task, ok, err := o.store.GetTask(ctx, taskID)
		if err != nil || !ok {
			return
		}
		if models.IsTerminal(task.Status) {
			return
		}
	}
}
