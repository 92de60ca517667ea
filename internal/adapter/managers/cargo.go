package managers

import (
	"context"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/jasoncavinder/helm/internal/adapter"
	"github.com/jasoncavinder/helm/internal/models"
)

const cargoID = "cargo"

// NewCargo builds the adapter for `cargo install --list` managed binaries.
// cargo has no "outdated" subcommand of its own; this adapter shells out to
// the commonly-installed `cargo-install-update` (cargo-update crate) when
// present, and degrades to an empty outdated set when it is not, rather
// than failing the whole refresh phase.
func NewCargo(r runner) adapter.Manager {
	return adapter.Manager{
		ID: cargoID,
		Detect: func(ctx context.Context) (adapter.DetectResponse, error) {
			return detectByVersionFlag(ctx, r, cargoID, "cargo", []string{"--version"})
		},
		ListInstalled: func(ctx context.Context) (adapter.ListInstalledResponse, error) {
			res, err := r.Run(ctx, cargoID, models.TaskDetection, "list_installed", "cargo",
				[]string{"install", "--list"}, defaultTimeout)
			if err != nil {
				return adapter.ListInstalledResponse{}, err
			}
			var pkgs []models.InstalledPackage
			skipped := scanLines(res.Stdout, func(line string) bool {
				// Crate header lines look like "ripgrep v14.0.3:"; the
				// binaries a crate installs follow on their own (indented)
				// lines and are skipped here since scanLines strips
				// indentation, they are distinguished by not ending in ":".
				if !strings.HasSuffix(line, ":") {
					return true
				}
				header := strings.TrimSuffix(line, ":")
				idx := strings.LastIndex(header, " v")
				if idx < 0 {
					return false
				}
				name := header[:idx]
				version := header[idx+2:]
				if name == "" || version == "" {
					return false
				}
				pkgs = append(pkgs, models.InstalledPackage{
					Ref:              models.PackageRef{ManagerID: cargoID, Name: name},
					InstalledVersion: ptr(version),
				})
				return true
			})
			return adapter.ListInstalledResponse{Packages: pkgs, SkippedLines: skipped}, nil
		},
		ListOutdated: func(ctx context.Context) (adapter.ListOutdatedResponse, error) {
			if _, err := r.Resolve("cargo-install-update"); err != nil {
				return adapter.ListOutdatedResponse{}, nil
			}
			res, err := r.Run(ctx, cargoID, models.TaskDetection, "list_outdated", "cargo",
				[]string{"install-update", "--list"}, defaultTimeout)
			if err != nil {
				return adapter.ListOutdatedResponse{}, err
			}
			var out []models.OutdatedPackage
			skipped := scanLines(res.Stdout, func(line string) bool {
				// Header: "Package  Installed  Latest  Needs update"
				fields := strings.Fields(line)
				if len(fields) < 4 {
					return true
				}
				name, installed, candidate, needsUpdate := fields[0], fields[1], fields[2], fields[3]
				if needsUpdate != "Yes" {
					return true
				}
				iv, ierr := semver.NewVersion(installed)
				cv, cerr := semver.NewVersion(candidate)
				if ierr != nil || cerr != nil || !cv.GreaterThan(iv) {
					return true
				}
				out = append(out, models.OutdatedPackage{
					Ref:              models.PackageRef{ManagerID: cargoID, Name: name},
					InstalledVersion: ptr(installed),
					CandidateVersion: candidate,
				})
				return true
			})
			return adapter.ListOutdatedResponse{Packages: out, SkippedLines: skipped}, nil
		},
		Install: func(ctx context.Context, req adapter.Request) (adapter.MutationResponse, error) {
			args := []string{"install", req.PackageName}
			if req.Version != "" {
				args = append(args, "--version", req.Version)
			}
			if _, err := r.Run(ctx, cargoID, models.TaskInstall, "install", "cargo", args, longTimeout); err != nil {
				return adapter.MutationResponse{}, err
			}
			return adapter.MutationResponse{Executed: true, Verified: true}, nil
		},
		Uninstall: func(ctx context.Context, req adapter.Request) (adapter.MutationResponse, error) {
			if _, err := r.Run(ctx, cargoID, models.TaskUninstall, "uninstall", "cargo",
				[]string{"uninstall", req.PackageName}, longTimeout); err != nil {
				return adapter.MutationResponse{}, err
			}
			return adapter.MutationResponse{Executed: true, Verified: true}, nil
		},
		Upgrade: func(ctx context.Context, req adapter.Request) (adapter.MutationResponse, error) {
			if _, err := r.Run(ctx, cargoID, models.TaskUpgrade, "upgrade", "cargo",
				[]string{"install", req.PackageName, "--force"}, longTimeout); err != nil {
				return adapter.MutationResponse{}, err
			}
			return adapter.MutationResponse{Executed: true, Verified: false}, nil
		},
	}
}
