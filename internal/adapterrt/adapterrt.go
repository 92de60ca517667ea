// Package adapterrt is the Adapter Execution Runtime: it validates that a
// requested capability is declared by the target manager's descriptor and
// that user-supplied package names are safe to place in argv, resolves the
// concrete adapter, invokes it, and performs post-upgrade verification.
package adapterrt

import (
	"context"

	"github.com/jasoncavinder/helm/internal/adapter"
	"github.com/jasoncavinder/helm/internal/errs"
	"github.com/jasoncavinder/helm/internal/models"
	"github.com/jasoncavinder/helm/internal/pkg/validate"
	"github.com/jasoncavinder/helm/internal/registry"
)

// Runtime dispatches capability invocations to the adapter set.
type Runtime struct {
	adapters map[string]adapter.Manager
}

func New(adapters map[string]adapter.Manager) *Runtime {
	return &Runtime{adapters: adapters}
}

func (rt *Runtime) lookup(managerID string, cap models.Capability, taskType models.TaskType, operation string) (adapter.Manager, error) {
	desc, ok := registry.Get(managerID)
	if !ok {
		return adapter.Manager{}, errs.New(models.ErrInvalidInput, managerID, taskType, operation, "unknown manager id")
	}
	if !desc.Capabilities.Has(cap) {
		return adapter.Manager{}, errs.New(models.ErrUnsupportedCapability, managerID, taskType, operation, string(cap)+" not declared")
	}
	mgr, ok := rt.adapters[managerID]
	if !ok {
		return adapter.Manager{}, errs.New(models.ErrInternal, managerID, taskType, operation, "descriptor present but adapter not registered")
	}
	return mgr, nil
}

// checkRequest rejects a malformed package name or version before any argv
// is built: empty or whitespace-padded names, names that an argv parser
// would read as a flag, and oversized input all fail here, never in the
// child process.
func checkRequest(req adapter.Request, managerID string, taskType models.TaskType, operation string) error {
	if !validate.PackageName(req.PackageName) {
		return errs.New(models.ErrInvalidInput, managerID, taskType, operation, "invalid package name")
	}
	if !validate.Version(req.Version) {
		return errs.New(models.ErrInvalidInput, managerID, taskType, operation, "invalid version string")
	}
	return nil
}

func (rt *Runtime) Detect(ctx context.Context, managerID string) (adapter.DetectResponse, error) {
	mgr, err := rt.lookup(managerID, models.CapDetect, models.TaskDetection, "detect")
	if err != nil {
		return adapter.DetectResponse{}, err
	}
	if mgr.Detect == nil {
		return adapter.DetectResponse{}, errs.New(models.ErrUnsupportedCapability, managerID, models.TaskDetection, "detect", "adapter has no Detect implementation")
	}
	return mgr.Detect(ctx)
}

func (rt *Runtime) ListInstalled(ctx context.Context, managerID string) (adapter.ListInstalledResponse, error) {
	mgr, err := rt.lookup(managerID, models.CapListInstalled, models.TaskDetection, "list_installed")
	if err != nil {
		return adapter.ListInstalledResponse{}, err
	}
	if mgr.ListInstalled == nil {
		return adapter.ListInstalledResponse{}, errs.New(models.ErrUnsupportedCapability, managerID, models.TaskDetection, "list_installed", "adapter has no ListInstalled implementation")
	}
	return mgr.ListInstalled(ctx)
}

func (rt *Runtime) ListOutdated(ctx context.Context, managerID string) (adapter.ListOutdatedResponse, error) {
	mgr, err := rt.lookup(managerID, models.CapListOutdated, models.TaskDetection, "list_outdated")
	if err != nil {
		return adapter.ListOutdatedResponse{}, err
	}
	if mgr.ListOutdated == nil {
		return adapter.ListOutdatedResponse{}, errs.New(models.ErrUnsupportedCapability, managerID, models.TaskDetection, "list_outdated", "adapter has no ListOutdated implementation")
	}
	return mgr.ListOutdated(ctx)
}

func (rt *Runtime) Search(ctx context.Context, managerID, query string) (adapter.SearchResponse, error) {
	mgr, err := rt.lookup(managerID, models.CapSearch, models.TaskSearch, "search")
	if err != nil {
		return adapter.SearchResponse{}, err
	}
	if mgr.Search == nil {
		return adapter.SearchResponse{}, errs.New(models.ErrUnsupportedCapability, managerID, models.TaskSearch, "search", "adapter has no Search implementation")
	}
	return mgr.Search(ctx, query)
}

func (rt *Runtime) Install(ctx context.Context, managerID string, req adapter.Request) (adapter.MutationResponse, error) {
	mgr, err := rt.lookup(managerID, models.CapInstall, models.TaskInstall, "install")
	if err != nil {
		return adapter.MutationResponse{}, err
	}
	if err := checkRequest(req, managerID, models.TaskInstall, "install"); err != nil {
		return adapter.MutationResponse{}, err
	}
	if mgr.Install == nil {
		return adapter.MutationResponse{}, errs.New(models.ErrUnsupportedCapability, managerID, models.TaskInstall, "install", "adapter has no Install implementation")
	}
	return mgr.Install(ctx, req)
}

func (rt *Runtime) Uninstall(ctx context.Context, managerID string, req adapter.Request) (adapter.MutationResponse, error) {
	mgr, err := rt.lookup(managerID, models.CapUninstall, models.TaskUninstall, "uninstall")
	if err != nil {
		return adapter.MutationResponse{}, err
	}
	if err := checkRequest(req, managerID, models.TaskUninstall, "uninstall"); err != nil {
		return adapter.MutationResponse{}, err
	}
	if mgr.Uninstall == nil {
		return adapter.MutationResponse{}, errs.New(models.ErrUnsupportedCapability, managerID, models.TaskUninstall, "uninstall", "adapter has no Uninstall implementation")
	}
	return mgr.Uninstall(ctx, req)
}

// Upgrade invokes the adapter's Upgrade and then verifies the result via
// verifyOutdated — a callback that re-queries list_outdated for
// (managerID, req.PackageName). A package still present after a
// reported-executed upgrade is an IneffectiveUpgrade ProcessFailure,
// whatever candidate version it is now listed at: the candidate version
// the callback returns is not compared with the one before the upgrade.
// list_outdated is the oracle, not the upgrade command's exit code.
func (rt *Runtime) Upgrade(ctx context.Context, managerID string, req adapter.Request, verifyOutdated func(ctx context.Context, managerID, packageName string) (stillOutdated bool, candidateVersion string, err error)) (adapter.MutationResponse, error) {
	mgr, err := rt.lookup(managerID, models.CapUpgrade, models.TaskUpgrade, "upgrade")
	if err != nil {
		return adapter.MutationResponse{}, err
	}
	if err := checkRequest(req, managerID, models.TaskUpgrade, "upgrade"); err != nil {
		return adapter.MutationResponse{}, err
	}
	if mgr.Upgrade == nil {
		return adapter.MutationResponse{}, errs.New(models.ErrUnsupportedCapability, managerID, models.TaskUpgrade, "upgrade", "adapter has no Upgrade implementation")
	}
	result, err := mgr.Upgrade(ctx, req)
	if err != nil {
		return result, err
	}
	if verifyOutdated == nil || req.PackageName == "" {
		result.Verified = true
		return result, nil
	}
	stillOutdated, _, verr := verifyOutdated(ctx, managerID, req.PackageName)
	if verr != nil {
		return result, verr
	}
	if stillOutdated {
		return result, errs.New(models.ErrProcessFailure, managerID, models.TaskUpgrade, "upgrade",
			"IneffectiveUpgrade: package still outdated after reported-successful upgrade")
	}
	result.Verified = true
	return result, nil
}

func (rt *Runtime) Pin(ctx context.Context, managerID string, req adapter.Request) (adapter.PinResponse, error) {
	mgr, err := rt.lookup(managerID, models.CapPin, models.TaskPin, "pin")
	if err != nil {
		return adapter.PinResponse{}, err
	}
	if err := checkRequest(req, managerID, models.TaskPin, "pin"); err != nil {
		return adapter.PinResponse{}, err
	}
	if mgr.Pin == nil {
		return adapter.PinResponse{}, errs.New(models.ErrUnsupportedCapability, managerID, models.TaskPin, "pin", "adapter has no native Pin")
	}
	return mgr.Pin(ctx, req)
}

func (rt *Runtime) Unpin(ctx context.Context, managerID string, req adapter.Request) (adapter.PinResponse, error) {
	mgr, err := rt.lookup(managerID, models.CapUnpin, models.TaskUnpin, "unpin")
	if err != nil {
		return adapter.PinResponse{}, err
	}
	if err := checkRequest(req, managerID, models.TaskUnpin, "unpin"); err != nil {
		return adapter.PinResponse{}, err
	}
	if mgr.Unpin == nil {
		return adapter.PinResponse{}, errs.New(models.ErrUnsupportedCapability, managerID, models.TaskUnpin, "unpin", "adapter has no native Unpin")
	}
	return mgr.Unpin(ctx, req)
}

func (rt *Runtime) SelfUpdate(ctx context.Context, managerID string) (adapter.MutationResponse, error) {
	mgr, err := rt.lookup(managerID, models.CapSelfUpdate, models.TaskUpgrade, "self_update")
	if err != nil {
		return adapter.MutationResponse{}, err
	}
	if mgr.SelfUpdate == nil {
		return adapter.MutationResponse{}, errs.New(models.ErrUnsupportedCapability, managerID, models.TaskUpgrade, "self_update", "adapter has no SelfUpdate")
	}
	return mgr.SelfUpdate(ctx)
}
