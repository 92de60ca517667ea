// Package rest implements the JSON HTTP boundary. Every
// handler is a thin wrapper: all logic lives in internal/core.Runtime.
package rest

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/jasoncavinder/helm/internal/core"
	"github.com/jasoncavinder/helm/internal/errs"
	"github.com/jasoncavinder/helm/internal/models"
)

type Handler struct {
	rt *core.Runtime
}

func NewHandler(rt *core.Runtime) *Handler {
	return &Handler{rt: rt}
}

func SetupRoutes(router *mux.Router, h *Handler) {
	router.HandleFunc("/refresh", h.TriggerRefresh).Methods("POST")

	router.HandleFunc("/tasks", h.ListTasks).Methods("GET")
	router.HandleFunc("/tasks/{taskId}/cancel", h.CancelTask).Methods("POST")
	router.HandleFunc("/tasks/{taskId}/output", h.GetTaskOutput).Methods("GET")
	router.HandleFunc("/tasks/{taskId}/logs", h.ListTaskLogs).Methods("GET")

	router.HandleFunc("/packages/installed", h.ListInstalledPackages).Methods("GET")
	router.HandleFunc("/packages/outdated", h.ListOutdatedPackages).Methods("GET")
	router.HandleFunc("/packages/upgrade", h.UpgradePackage).Methods("POST")
	router.HandleFunc("/packages/install", h.InstallPackage).Methods("POST")
	router.HandleFunc("/packages/uninstall", h.UninstallPackage).Methods("POST")
	router.HandleFunc("/packages/pin", h.PinPackage).Methods("POST")
	router.HandleFunc("/packages/unpin", h.UnpinPackage).Methods("POST")

	router.HandleFunc("/managers", h.ListManagerStatus).Methods("GET")
	router.HandleFunc("/managers/{managerId}/install", h.InstallManager).Methods("POST")
	router.HandleFunc("/managers/{managerId}/update", h.UpdateManager).Methods("POST")
	router.HandleFunc("/managers/{managerId}/uninstall", h.UninstallManager).Methods("POST")

	router.HandleFunc("/upgrade-all", h.UpgradeAll).Methods("POST")
	router.HandleFunc("/upgrade-all/{batchId}/cancel", h.CancelUpgradeRun).Methods("POST")
	router.HandleFunc("/upgrade-plan", h.PreviewUpgradePlan).Methods("GET")

	router.HandleFunc("/search", h.SearchLocal).Methods("GET")
	router.HandleFunc("/search/remote", h.TriggerRemoteSearchForManager).Methods("POST")
	router.HandleFunc("/search/remote-all", h.TriggerRemoteSearch).Methods("POST")

	router.HandleFunc("/settings/safe-mode", h.GetSafeMode).Methods("GET")
	router.HandleFunc("/settings/safe-mode", h.SetSafeMode).Methods("PUT")
	router.HandleFunc("/settings/homebrew-keg-auto-cleanup", h.GetHomebrewKegAutoCleanup).Methods("GET")
	router.HandleFunc("/settings/homebrew-keg-auto-cleanup", h.SetHomebrewKegAutoCleanup).Methods("PUT")
	router.HandleFunc("/settings/keg-policies", h.ListPackageKegPolicies).Methods("GET")
	router.HandleFunc("/settings/keg-policies", h.SetPackageKegPolicy).Methods("PUT")

	router.HandleFunc("/errors/last", h.TakeLastErrorKey).Methods("GET")
	router.HandleFunc("/database/reset", h.ResetDatabase).Methods("POST")

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}).Methods("GET")

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, "not found")
	})
}

func (h *Handler) TriggerRefresh(w http.ResponseWriter, r *http.Request) {
	batchID := h.rt.TriggerRefresh(r.Context())
	respondJSON(w, http.StatusAccepted, map[string]string{"task_batch_id": batchID})
}

func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 0)
	tasks, err := h.rt.ListTasks(r.Context(), limit)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tasks)
}

func (h *Handler) CancelTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := pathUint(r, "taskId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid taskId")
		return
	}
	ok := h.rt.CancelTask(r.Context(), taskID)
	respondJSON(w, http.StatusOK, map[string]bool{"cancelled": ok})
}

func (h *Handler) GetTaskOutput(w http.ResponseWriter, r *http.Request) {
	taskID, err := pathUint(r, "taskId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid taskId")
		return
	}
	out, found, err := h.rt.GetTaskOutput(r.Context(), taskID)
	if err != nil {
		respondErr(w, err)
		return
	}
	if !found {
		respondError(w, http.StatusNotFound, "no output for task")
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handler) ListTaskLogs(w http.ResponseWriter, r *http.Request) {
	taskID, err := pathUint(r, "taskId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid taskId")
		return
	}
	limit := intQuery(r, "limit", 0)
	logs, err := h.rt.ListTaskLogs(r.Context(), taskID, limit)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, logs)
}

func (h *Handler) ListInstalledPackages(w http.ResponseWriter, r *http.Request) {
	pkgs, err := h.rt.ListInstalledPackages(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, pkgs)
}

func (h *Handler) ListOutdatedPackages(w http.ResponseWriter, r *http.Request) {
	pkgs, err := h.rt.ListOutdatedPackages(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, pkgs)
}

func (h *Handler) ListManagerStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.rt.ListManagerStatus(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, statuses)
}

func (h *Handler) SearchLocal(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	results, err := h.rt.SearchLocal(r.Context(), query)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, results)
}

type remoteSearchRequest struct {
	ManagerID string `json:"manager_id"`
	Query     string `json:"query"`
}

func (h *Handler) TriggerRemoteSearchForManager(w http.ResponseWriter, r *http.Request) {
	var req remoteSearchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	taskID, err := h.rt.TriggerRemoteSearchForManager(r.Context(), req.ManagerID, req.Query)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]uint64{"task_id": taskID})
}

// TriggerRemoteSearch fans one query out to every enabled,
// search-capable manager.
func (h *Handler) TriggerRemoteSearch(w http.ResponseWriter, r *http.Request) {
	var req remoteSearchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	taskIDs := h.rt.TriggerRemoteSearch(r.Context(), req.Query)
	if taskIDs == nil {
		taskIDs = []uint64{}
	}
	respondJSON(w, http.StatusAccepted, map[string][]uint64{"task_ids": taskIDs})
}

type packageRequest struct {
	ManagerID   string `json:"manager_id"`
	PackageName string `json:"package_name"`
	Version     string `json:"version"`
}

func (h *Handler) UpgradePackage(w http.ResponseWriter, r *http.Request) {
	var req packageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	taskID, err := h.rt.UpgradePackage(r.Context(), req.ManagerID, req.PackageName)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]uint64{"task_id": taskID})
}

func (h *Handler) InstallPackage(w http.ResponseWriter, r *http.Request) {
	var req packageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	taskID, err := h.rt.InstallPackage(r.Context(), req.ManagerID, req.PackageName)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]uint64{"task_id": taskID})
}

func (h *Handler) UninstallPackage(w http.ResponseWriter, r *http.Request) {
	var req packageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	taskID, err := h.rt.UninstallPackage(r.Context(), req.ManagerID, req.PackageName)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]uint64{"task_id": taskID})
}

func (h *Handler) PinPackage(w http.ResponseWriter, r *http.Request) {
	var req packageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	applied, err := h.rt.PinPackage(r.Context(), req.ManagerID, req.PackageName, req.Version)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"applied": applied})
}

func (h *Handler) UnpinPackage(w http.ResponseWriter, r *http.Request) {
	var req packageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	applied, err := h.rt.UnpinPackage(r.Context(), req.ManagerID, req.PackageName)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"applied": applied})
}

func (h *Handler) InstallManager(w http.ResponseWriter, r *http.Request) {
	managerID := mux.Vars(r)["managerId"]
	taskID, err := h.rt.InstallManager(r.Context(), managerID)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]uint64{"task_id": taskID})
}

func (h *Handler) UpdateManager(w http.ResponseWriter, r *http.Request) {
	managerID := mux.Vars(r)["managerId"]
	taskID, err := h.rt.UpdateManager(r.Context(), managerID)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]uint64{"task_id": taskID})
}

func (h *Handler) UninstallManager(w http.ResponseWriter, r *http.Request) {
	managerID := mux.Vars(r)["managerId"]
	taskID, err := h.rt.UninstallManager(r.Context(), managerID)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]uint64{"task_id": taskID})
}

type upgradeAllRequest struct {
	IncludePinned  bool `json:"include_pinned"`
	AllowOSUpdates bool `json:"allow_os_updates"`
}

func (h *Handler) UpgradeAll(w http.ResponseWriter, r *http.Request) {
	var req upgradeAllRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	batchID, err := h.rt.UpgradeAll(r.Context(), req.IncludePinned, req.AllowOSUpdates)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"task_batch_id": batchID})
}

func (h *Handler) CancelUpgradeRun(w http.ResponseWriter, r *http.Request) {
	cancelled := h.rt.CancelUpgradeRun(r.Context(), mux.Vars(r)["batchId"])
	respondJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (h *Handler) PreviewUpgradePlan(w http.ResponseWriter, r *http.Request) {
	includePinned := boolQuery(r, "include_pinned")
	allowOSUpdates := boolQuery(r, "allow_os_updates")
	steps, err := h.rt.PreviewUpgradePlan(r.Context(), includePinned, allowOSUpdates)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, steps)
}

func (h *Handler) GetSafeMode(w http.ResponseWriter, r *http.Request) {
	on, err := h.rt.GetSafeMode(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"safe_mode": on})
}

func (h *Handler) SetSafeMode(w http.ResponseWriter, r *http.Request) {
	var req map[string]bool
	if !decodeJSON(w, r, &req) {
		return
	}
	on, err := h.rt.SetSafeMode(r.Context(), req["safe_mode"])
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"safe_mode": on})
}

func (h *Handler) GetHomebrewKegAutoCleanup(w http.ResponseWriter, r *http.Request) {
	on, err := h.rt.GetHomebrewKegAutoCleanup(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"homebrew_keg_auto_cleanup": on})
}

func (h *Handler) SetHomebrewKegAutoCleanup(w http.ResponseWriter, r *http.Request) {
	var req map[string]bool
	if !decodeJSON(w, r, &req) {
		return
	}
	on, err := h.rt.SetHomebrewKegAutoCleanup(r.Context(), req["homebrew_keg_auto_cleanup"])
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"homebrew_keg_auto_cleanup": on})
}

type kegPolicyEntry struct {
	ManagerID   string `json:"manager_id"`
	PackageName string `json:"package_name"`
	Mode        int    `json:"mode"`
}

func (h *Handler) ListPackageKegPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.rt.ListPackageKegPolicies(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	out := make([]kegPolicyEntry, 0, len(policies))
	for ref, mode := range policies {
		out = append(out, kegPolicyEntry{ManagerID: ref.ManagerID, PackageName: ref.Name, Mode: int(mode)})
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handler) SetPackageKegPolicy(w http.ResponseWriter, r *http.Request) {
	var req kegPolicyEntry
	if !decodeJSON(w, r, &req) {
		return
	}
	ref := models.PackageRef{ManagerID: req.ManagerID, Name: req.PackageName}
	if err := h.rt.SetPackageKegPolicy(r.Context(), ref, models.KegPolicyMode(req.Mode)); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) TakeLastErrorKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.rt.TakeLastErrorKey(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]*string{"error_key": key})
}

func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	ok, err := h.rt.ResetDatabase(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": ok})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func pathUint(r *http.Request, name string) (uint64, error) {
	return strconv.ParseUint(mux.Vars(r)[name], 10, 64)
}

func intQuery(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func boolQuery(r *http.Request, name string) bool {
	on, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return on
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondErr maps a tagged error's Kind to an HTTP status the way the
// error taxonomy categorizes failures: input/capability problems are client errors,
// everything else is a server-side failure.
func respondErr(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case models.ErrInvalidInput, models.ErrUnsupportedCapability, models.ErrNotInstalled:
		status = http.StatusBadRequest
	case models.ErrTimeout:
		status = http.StatusGatewayTimeout
	case models.ErrCancelled:
		status = http.StatusConflict
	}
	respondError(w, status, err.Error())
}
