package managers

import (
	"context"
	"strings"

	"github.com/jasoncavinder/helm/internal/adapter"
	"github.com/jasoncavinder/helm/internal/models"
)

const miseID = "mise"

// NewMise builds the adapter for mise-managed language runtimes. mise pins
// are expressed as `.mise.toml`/`.tool-versions` entries; this adapter uses
// `mise pin` (global scope) rather than writing config files directly, so
// pin state stays observable through mise's own CLI.
func NewMise(r runner) adapter.Manager {
	return adapter.Manager{
		ID: miseID,
		Detect: func(ctx context.Context) (adapter.DetectResponse, error) {
			return detectByVersionFlag(ctx, r, miseID, "mise", []string{"--version"})
		},
		ListInstalled: func(ctx context.Context) (adapter.ListInstalledResponse, error) {
			res, err := r.Run(ctx, miseID, models.TaskDetection, "list_installed", "mise",
				[]string{"list"}, defaultTimeout)
			if err != nil {
				return adapter.ListInstalledResponse{}, err
			}
			var pkgs []models.InstalledPackage
			skipped := scanLines(res.Stdout, func(line string) bool {
				fields := strings.Fields(line)
				if len(fields) < 2 || strings.HasPrefix(fields[0], "Tool") {
					return false
				}
				pkgs = append(pkgs, models.InstalledPackage{
					Ref:              models.PackageRef{ManagerID: miseID, Name: fields[0]},
					InstalledVersion: ptr(fields[1]),
				})
				return true
			})
			return adapter.ListInstalledResponse{Packages: pkgs, SkippedLines: skipped}, nil
		},
		ListOutdated: func(ctx context.Context) (adapter.ListOutdatedResponse, error) {
			res, err := r.Run(ctx, miseID, models.TaskDetection, "list_outdated", "mise",
				[]string{"outdated"}, defaultTimeout)
			if err != nil {
				return adapter.ListOutdatedResponse{}, err
			}
			var out []models.OutdatedPackage
			skipped := scanLines(res.Stdout, func(line string) bool {
				fields := strings.Fields(line)
				if len(fields) < 3 || strings.HasPrefix(fields[0], "Tool") {
					return false
				}
				out = append(out, models.OutdatedPackage{
					Ref:              models.PackageRef{ManagerID: miseID, Name: fields[0]},
					InstalledVersion: ptr(fields[1]),
					CandidateVersion: fields[2],
				})
				return true
			})
			return adapter.ListOutdatedResponse{Packages: out, SkippedLines: skipped}, nil
		},
		Install: func(ctx context.Context, req adapter.Request) (adapter.MutationResponse, error) {
			target := req.PackageName
			if req.Version != "" {
				target = req.PackageName + "@" + req.Version
			}
			if _, err := r.Run(ctx, miseID, models.TaskInstall, "install", "mise",
				[]string{"install", target}, longTimeout); err != nil {
				return adapter.MutationResponse{}, err
			}
			return adapter.MutationResponse{Executed: true, Verified: true}, nil
		},
		Uninstall: func(ctx context.Context, req adapter.Request) (adapter.MutationResponse, error) {
			if _, err := r.Run(ctx, miseID, models.TaskUninstall, "uninstall", "mise",
				[]string{"uninstall", req.PackageName}, longTimeout); err != nil {
				return adapter.MutationResponse{}, err
			}
			return adapter.MutationResponse{Executed: true, Verified: true}, nil
		},
		Upgrade: func(ctx context.Context, req adapter.Request) (adapter.MutationResponse, error) {
			if _, err := r.Run(ctx, miseID, models.TaskUpgrade, "upgrade", "mise",
				[]string{"upgrade", req.PackageName}, longTimeout); err != nil {
				return adapter.MutationResponse{}, err
			}
			return adapter.MutationResponse{Executed: true, Verified: false}, nil
		},
		Pin: func(ctx context.Context, req adapter.Request) (adapter.PinResponse, error) {
			target := req.PackageName
			if req.Version != "" {
				target = req.PackageName + "@" + req.Version
			}
			if _, err := r.Run(ctx, miseID, models.TaskPin, "pin", "mise",
				[]string{"pin", "--global", target}, defaultTimeout); err != nil {
				return adapter.PinResponse{}, err
			}
			return adapter.PinResponse{Applied: true, Source: models.PinNative}, nil
		},
		Unpin: func(ctx context.Context, req adapter.Request) (adapter.PinResponse, error) {
			if _, err := r.Run(ctx, miseID, models.TaskUnpin, "unpin", "mise",
				[]string{"unpin", "--global", req.PackageName}, defaultTimeout); err != nil {
				return adapter.PinResponse{}, err
			}
			return adapter.PinResponse{Applied: true, Source: models.PinNative}, nil
		},
	}
}
