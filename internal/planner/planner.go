// Package planner is the Upgrade Planner: it turns the current
// OutdatedPackage set plus PolicyState into a deterministic,
// authority-ranked plan, then (on request) executes that plan phase by
// phase through the Task Coordinator.
package planner

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jasoncavinder/helm/internal/adapter"
	"github.com/jasoncavinder/helm/internal/adapterrt"
	"github.com/jasoncavinder/helm/internal/coordinator"
	"github.com/jasoncavinder/helm/internal/errs"
	"github.com/jasoncavinder/helm/internal/models"
	"github.com/jasoncavinder/helm/internal/registry"
	"github.com/jasoncavinder/helm/internal/repository"
)

const (
	softwareupdateManagerID = "softwareupdate"
	osUpdateStepName        = "__confirm_os_updates__"
)

// PhaseTimeout bounds how long a scoped execution waits for a phase's
// in-flight steps to drain before treating the phase as stuck and
// invalidating the run token.
const PhaseTimeout = 300 * time.Second

var phaseOrder = []models.Authority{
	models.Authoritative, models.Standard, models.Guarded, models.DetectionOnly,
}

// BuildPlan computes the ordered plan: exclude pinned packages unless
// includePinned, exclude disabled managers, exclude
// softwareupdate unless allowOSUpdates && !safe_mode, one step per
// (manager, package) except softwareupdate which collapses into a single
// synthetic step. Sort key: authority rank, per-manager arrival index,
// manager_id, package_name; OrderIndex is then renumbered to the step's
// final plan position so it is strictly increasing across phases.
func BuildPlan(outdated []models.OutdatedPackage, policy models.PolicyState, includePinned, allowOSUpdates bool) []models.UpgradePlanStep {
	orderIdx := make(map[string]int)
	seenOS := false
	var steps []models.UpgradePlanStep

	for _, pkg := range outdated {
		mgrID := pkg.Ref.ManagerID
		if enabled, ok := policy.ManagerEnabled[mgrID]; ok && !enabled {
			continue
		}
		desc, ok := registry.Get(mgrID)
		if !ok {
			continue
		}

		if mgrID == softwareupdateManagerID {
			if !allowOSUpdates || policy.SafeMode || seenOS {
				continue
			}
			seenOS = true
			idx := orderIdx[mgrID]
			orderIdx[mgrID] = idx + 1
			steps = append(steps, models.UpgradePlanStep{
				StepID:         mgrID + ":" + osUpdateStepName,
				OrderIndex:     idx,
				ManagerID:      mgrID,
				Authority:      desc.Authority,
				PackageName:    osUpdateStepName,
				ReasonLabelKey: "plan.reason.os_update",
				ReasonLabelArgs: map[string]string{
					"manager": mgrID,
				},
				InitialStatus: models.StatusQueued,
			})
			continue
		}

		if pkg.Pinned && !includePinned {
			continue
		}

		idx := orderIdx[mgrID]
		orderIdx[mgrID] = idx + 1
		steps = append(steps, models.UpgradePlanStep{
			StepID:         mgrID + ":" + pkg.Ref.Name,
			OrderIndex:     idx,
			ManagerID:      mgrID,
			Authority:      desc.Authority,
			PackageName:    pkg.Ref.Name,
			ReasonLabelKey: "plan.reason.outdated",
			ReasonLabelArgs: map[string]string{
				"package": pkg.Ref.Name,
				"manager": mgrID,
			},
			InitialStatus: models.StatusQueued,
		})
	}

	sort.SliceStable(steps, func(i, j int) bool {
		a, b := steps[i], steps[j]
		if ra, rb := models.AuthorityRank(a.Authority), models.AuthorityRank(b.Authority); ra != rb {
			return ra < rb
		}
		if a.OrderIndex != b.OrderIndex {
			return a.OrderIndex < b.OrderIndex
		}
		if a.ManagerID != b.ManagerID {
			return a.ManagerID < b.ManagerID
		}
		return a.PackageName < b.PackageName
	})
	for i := range steps {
		steps[i].OrderIndex = i
	}
	return steps
}

// RunHandle represents one in-flight scoped execution of a plan. Cancel is
// the only operation a caller needs: it invalidates the run token, which
// stops any step not yet submitted, and cancels every task the executor
// has already submitted for this run.
type RunHandle struct {
	token uint64
	exec  *Executor
}

func (h *RunHandle) Cancel() {
	h.exec.invalidate(h.token)
}

// Token returns the run token identifying this execution, suitable for
// formatting as an opaque batch id.
func (h *RunHandle) Token() uint64 {
	return h.token
}

var tokenSeq uint64

// Executor runs a plan phase by phase in authority order, submitting one
// Upgrade task per step through the Task Coordinator, and waits for a
// phase to reach a no-in-flight state before advancing to the next.
type Executor struct {
	coord *coordinator.Coordinator
	rt    *adapterrt.Runtime
	store *repository.Store

	mu     sync.Mutex
	active map[uint64]map[string]uint64 // run token -> step id -> task id
}

func NewExecutor(coord *coordinator.Coordinator, rt *adapterrt.Runtime, store *repository.Store) *Executor {
	return &Executor{coord: coord, rt: rt, store: store, active: make(map[uint64]map[string]uint64)}
}

// Run starts executing steps asynchronously and returns immediately with a
// handle the caller can Cancel.
func (e *Executor) Run(ctx context.Context, steps []models.UpgradePlanStep) *RunHandle {
	token := atomic.AddUint64(&tokenSeq, 1)
	e.mu.Lock()
	e.active[token] = make(map[string]uint64)
	e.mu.Unlock()

	go e.runPhases(ctx, token, steps)
	return &RunHandle{token: token, exec: e}
}

func (e *Executor) runPhases(ctx context.Context, token uint64, steps []models.UpgradePlanStep) {
	defer e.cleanup(token)
	byAuthority := make(map[models.Authority][]models.UpgradePlanStep)
	for _, s := range steps {
		byAuthority[s.Authority] = append(byAuthority[s.Authority], s)
	}
	for _, authority := range phaseOrder {
		phaseSteps := byAuthority[authority]
		if len(phaseSteps) == 0 {
			continue
		}
		if !e.isLive(token) {
			return
		}
		e.submitPhase(ctx, token, phaseSteps)
		if !e.waitPhaseDrained(ctx, token, PhaseTimeout) {
			// Stuck or superseded phase: invalidate rather than advance, per
			// the per-phase timeout rule.
			e.invalidate(token)
			return
		}
	}
}

func (e *Executor) submitPhase(ctx context.Context, token uint64, steps []models.UpgradePlanStep) {
	for _, step := range steps {
		step := step
		labelArgs := map[string]string{"plan_step_id": step.StepID}
		for k, v := range step.ReasonLabelArgs {
			labelArgs[k] = v
		}
		task, err := e.coord.Submit(step.ManagerID, models.TaskUpgrade, step.ReasonLabelKey, labelArgs, func(ctx context.Context) error {
			return e.runStep(ctx, token, step)
		})
		if err != nil {
			continue
		}
		e.mu.Lock()
		if live, ok := e.active[token]; ok {
			live[step.StepID] = task.ID
		}
		e.mu.Unlock()
	}
}

func (e *Executor) runStep(ctx context.Context, token uint64, step models.UpgradePlanStep) error {
	if !e.isLive(token) {
		return errs.New(models.ErrCancelled, step.ManagerID, models.TaskUpgrade, "upgrade", "run token superseded")
	}
	// The synthetic softwareupdate step also goes through Upgrade: the
	// adapter maps the confirm-all name to `softwareupdate --install --all`.
	req := adapter.Request{PackageName: step.PackageName}
	_, err := e.rt.Upgrade(ctx, step.ManagerID, req, OutdatedVerifier(e.rt, e.store))
	return err
}

// OutdatedVerifier backs adapterrt.Runtime.Upgrade's IneffectiveUpgrade
// check. It re-queries the manager's list_outdated live (the cached rows
// still contain the package the upgrade just processed), refreshes the
// persisted set from what it sees, and reports whether the package is
// still listed. A manager whose adapter cannot list outdated packages is
// unverifiable and passes.
func OutdatedVerifier(rt *adapterrt.Runtime, store *repository.Store) func(ctx context.Context, managerID, packageName string) (bool, string, error) {
	return func(ctx context.Context, managerID, packageName string) (bool, string, error) {
		resp, err := rt.ListOutdated(ctx, managerID)
		if err != nil {
			if e, ok := errs.As(err); ok && e.Kind == models.ErrUnsupportedCapability {
				return false, "", nil
			}
			return false, "", err
		}
		if err := store.ReplaceOutdatedPackages(ctx, managerID, resp.Packages); err != nil {
			return false, "", errs.Wrap(models.ErrStorageFailure, managerID, models.TaskUpgrade, "verify_outdated", err)
		}
		for _, o := range resp.Packages {
			if o.Ref.Name == packageName {
				return true, o.CandidateVersion, nil
			}
		}
		return false, "", nil
	}
}

func (e *Executor) waitPhaseDrained(ctx context.Context, token uint64, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
		if !e.isLive(token) {
			return false
		}
		if e.phaseDrained(token) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
	}
}

func (e *Executor) phaseDrained(token uint64) bool {
	e.mu.Lock()
	live := e.active[token]
	taskIDs := make([]uint64, 0, len(live))
	for _, id := range live {
		taskIDs = append(taskIDs, id)
	}
	e.mu.Unlock()
	for _, id := range taskIDs {
		task, ok, err := e.store.GetTask(context.Background(), id)
		if err != nil || !ok {
			continue
		}
		if !models.IsTerminal(task.Status) {
			return false
		}
	}
	return true
}

func (e *Executor) isLive(token uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.active[token]
	return ok
}

// CancelToken is the by-token variant of RunHandle.Cancel for callers that
// only kept the formatted batch id. Returns false if the token is not a
// live run.
func (e *Executor) CancelToken(token uint64) bool {
	e.mu.Lock()
	_, live := e.active[token]
	e.mu.Unlock()
	if !live {
		return false
	}
	e.invalidate(token)
	return true
}

// invalidate implements "Cancel remaining": it drops the run token (so any
// step not yet submitted, and any callback still running under runStep,
// observes isLive()==false) and cancels every task the executor has
// observed for this run, live or already scheduled.
func (e *Executor) invalidate(token uint64) {
	e.mu.Lock()
	live := e.active[token]
	delete(e.active, token)
	e.mu.Unlock()
	for _, taskID := range live {
		e.coord.Cancel(taskID)
	}
}

func (e *Executor) cleanup(token uint64) {
	e.mu.Lock()
	delete(e.active, token)
	e.mu.Unlock()
}
