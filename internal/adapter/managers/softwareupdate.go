package managers

import (
	"context"
	"strings"

	"github.com/jasoncavinder/helm/internal/adapter"
	"github.com/jasoncavinder/helm/internal/models"
)

const softwareupdateID = "softwareupdate"

// confirmOSUpdatesName is the synthetic package name the Upgrade Planner
// binds its fixed softwareupdate:__confirm_os_updates__ step id to.
const confirmOSUpdatesName = "__confirm_os_updates__"

// NewSoftwareUpdate builds the adapter for macOS's built-in
// `softwareupdate` CLI. There is no install/uninstall/pin concept for OS
// updates — only detection, listing, and a single confirm-and-apply-all
// upgrade step.
func NewSoftwareUpdate(r runner) adapter.Manager {
	return adapter.Manager{
		ID: softwareupdateID,
		Detect: func(ctx context.Context) (adapter.DetectResponse, error) {
			path, err := r.Resolve("softwareupdate")
			if err != nil {
				return adapter.DetectResponse{Detected: false}, nil
			}
			return adapter.DetectResponse{Detected: true, ExecutablePath: ptr(path)}, nil
		},
		ListOutdated: func(ctx context.Context) (adapter.ListOutdatedResponse, error) {
			res, err := r.Run(ctx, softwareupdateID, models.TaskDetection, "list_outdated", "softwareupdate",
				[]string{"--list"}, defaultTimeout)
			if err != nil {
				return adapter.ListOutdatedResponse{}, err
			}
			var out []models.OutdatedPackage
			skipped := scanLines(res.Stdout, func(line string) bool {
				if !strings.HasPrefix(line, "* Label:") && !strings.HasPrefix(line, "*   Label:") {
					return true
				}
				name := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(line, "*   Label:"), "* Label:"))
				if name == "" {
					return false
				}
				restart := strings.Contains(strings.ToLower(line), "restart")
				out = append(out, models.OutdatedPackage{
					Ref:             models.PackageRef{ManagerID: softwareupdateID, Name: name},
					CandidateVersion: name,
					RestartRequired:  restart,
				})
				return true
			})
			return adapter.ListOutdatedResponse{Packages: out, SkippedLines: skipped}, nil
		},
		Upgrade: func(ctx context.Context, req adapter.Request) (adapter.MutationResponse, error) {
			args := []string{"--install", "--all"}
			if req.PackageName != "" && req.PackageName != confirmOSUpdatesName {
				args = []string{"--install", req.PackageName}
			}
			if _, err := r.Run(ctx, softwareupdateID, models.TaskUpgrade, "upgrade", "softwareupdate",
				args, longTimeout); err != nil {
				return adapter.MutationResponse{}, err
			}
			return adapter.MutationResponse{Executed: true, Verified: false}, nil
		},
	}
}
