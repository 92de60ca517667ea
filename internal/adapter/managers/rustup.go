package managers

import (
	"context"
	"strings"

	"github.com/jasoncavinder/helm/internal/adapter"
	"github.com/jasoncavinder/helm/internal/models"
)

const rustupID = "rustup"

// NewRustup builds the adapter for rustup-managed toolchains. A toolchain
// label (e.g. "stable-aarch64-apple-darwin") is the package name — rustup
// has no separate notion of package vs. version for a toolchain entry.
func NewRustup(r runner) adapter.Manager {
	return adapter.Manager{
		ID: rustupID,
		Detect: func(ctx context.Context) (adapter.DetectResponse, error) {
			return detectByVersionFlag(ctx, r, rustupID, "rustup", []string{"--version"})
		},
		ListInstalled: func(ctx context.Context) (adapter.ListInstalledResponse, error) {
			res, err := r.Run(ctx, rustupID, models.TaskDetection, "list_installed", "rustup",
				[]string{"toolchain", "list"}, defaultTimeout)
			if err != nil {
				return adapter.ListInstalledResponse{}, err
			}
			var pkgs []models.InstalledPackage
			skipped := scanLines(res.Stdout, func(line string) bool {
				// Format: "stable-aarch64-apple-darwin (default)"
				fields := strings.Fields(line)
				if len(fields) < 1 {
					return false
				}
				pkgs = append(pkgs, models.InstalledPackage{
					Ref: models.PackageRef{ManagerID: rustupID, Name: fields[0]},
				})
				return true
			})
			return adapter.ListInstalledResponse{Packages: pkgs, SkippedLines: skipped}, nil
		},
		ListOutdated: func(ctx context.Context) (adapter.ListOutdatedResponse, error) {
			// rustup check reports updateable toolchains and components.
			res, err := r.Run(ctx, rustupID, models.TaskDetection, "list_outdated", "rustup",
				[]string{"check"}, defaultTimeout)
			if err != nil {
				return adapter.ListOutdatedResponse{}, err
			}
			var out []models.OutdatedPackage
			skipped := scanLines(res.Stdout, func(line string) bool {
				// Format: "stable-aarch64-apple-darwin - Update available : 1.75.0 -> 1.76.0"
				if !strings.Contains(line, "Update available") {
					return true
				}
				parts := strings.SplitN(line, " - Update available : ", 2)
				if len(parts) != 2 {
					return false
				}
				versions := strings.SplitN(parts[1], " -> ", 2)
				if len(versions) != 2 {
					return false
				}
				out = append(out, models.OutdatedPackage{
					Ref:              models.PackageRef{ManagerID: rustupID, Name: strings.TrimSpace(parts[0])},
					InstalledVersion: ptr(strings.TrimSpace(versions[0])),
					CandidateVersion: strings.TrimSpace(versions[1]),
				})
				return true
			})
			return adapter.ListOutdatedResponse{Packages: out, SkippedLines: skipped}, nil
		},
		Install: func(ctx context.Context, req adapter.Request) (adapter.MutationResponse, error) {
			if _, err := r.Run(ctx, rustupID, models.TaskInstall, "install", "rustup",
				[]string{"toolchain", "install", req.PackageName}, longTimeout); err != nil {
				return adapter.MutationResponse{}, err
			}
			return adapter.MutationResponse{Executed: true, Verified: true}, nil
		},
		Uninstall: func(ctx context.Context, req adapter.Request) (adapter.MutationResponse, error) {
			if _, err := r.Run(ctx, rustupID, models.TaskUninstall, "uninstall", "rustup",
				[]string{"toolchain", "uninstall", req.PackageName}, longTimeout); err != nil {
				return adapter.MutationResponse{}, err
			}
			return adapter.MutationResponse{Executed: true, Verified: true}, nil
		},
		Upgrade: func(ctx context.Context, req adapter.Request) (adapter.MutationResponse, error) {
			if _, err := r.Run(ctx, rustupID, models.TaskUpgrade, "upgrade", "rustup",
				[]string{"toolchain", "install", req.PackageName, "--force"}, longTimeout); err != nil {
				return adapter.MutationResponse{}, err
			}
			return adapter.MutationResponse{Executed: true, Verified: false}, nil
		},
	}
}
