package managers

import (
	"context"
	"strings"

	"github.com/jasoncavinder/helm/internal/adapter"
	"github.com/jasoncavinder/helm/internal/models"
)

const gemID = "gem"

// NewGem builds the adapter for user-installed RubyGems.
func NewGem(r runner) adapter.Manager {
	return adapter.Manager{
		ID: gemID,
		Detect: func(ctx context.Context) (adapter.DetectResponse, error) {
			return detectByVersionFlag(ctx, r, gemID, "gem", []string{"--version"})
		},
		ListInstalled: func(ctx context.Context) (adapter.ListInstalledResponse, error) {
			res, err := r.Run(ctx, gemID, models.TaskDetection, "list_installed", "gem",
				[]string{"list", "--local"}, defaultTimeout)
			if err != nil {
				return adapter.ListInstalledResponse{}, err
			}
			var pkgs []models.InstalledPackage
			skipped := scanLines(res.Stdout, func(line string) bool {
				// Format: "rake (13.1.0, 13.0.6)" — take the newest (first) version.
				open := strings.Index(line, "(")
				close := strings.Index(line, ")")
				if open < 0 || close < open {
					return false
				}
				name := strings.TrimSpace(line[:open])
				versions := strings.Split(line[open+1:close], ",")
				if name == "" || len(versions) == 0 {
					return false
				}
				pkgs = append(pkgs, models.InstalledPackage{
					Ref:              models.PackageRef{ManagerID: gemID, Name: name},
					InstalledVersion: ptr(strings.TrimSpace(versions[0])),
				})
				return true
			})
			return adapter.ListInstalledResponse{Packages: pkgs, SkippedLines: skipped}, nil
		},
		ListOutdated: func(ctx context.Context) (adapter.ListOutdatedResponse, error) {
			res, err := r.Run(ctx, gemID, models.TaskDetection, "list_outdated", "gem",
				[]string{"outdated", "--local"}, defaultTimeout)
			if err != nil {
				return adapter.ListOutdatedResponse{}, err
			}
			var out []models.OutdatedPackage
			skipped := scanLines(res.Stdout, func(line string) bool {
				// Format: "rake (13.0.6 < 13.1.0)"
				open := strings.Index(line, "(")
				close := strings.Index(line, ")")
				if open < 0 || close < open {
					return false
				}
				name := strings.TrimSpace(line[:open])
				parts := strings.Split(line[open+1:close], "<")
				if name == "" || len(parts) != 2 {
					return false
				}
				out = append(out, models.OutdatedPackage{
					Ref:              models.PackageRef{ManagerID: gemID, Name: name},
					InstalledVersion: ptr(strings.TrimSpace(parts[0])),
					CandidateVersion: strings.TrimSpace(parts[1]),
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
			if _, err := r.Run(ctx, gemID, models.TaskInstall, "install", "gem", args, longTimeout); err != nil {
				return adapter.MutationResponse{}, err
			}
			return adapter.MutationResponse{Executed: true, Verified: true}, nil
		},
		Uninstall: func(ctx context.Context, req adapter.Request) (adapter.MutationResponse, error) {
			if _, err := r.Run(ctx, gemID, models.TaskUninstall, "uninstall", "gem",
				[]string{"uninstall", req.PackageName, "--executables"}, longTimeout); err != nil {
				return adapter.MutationResponse{}, err
			}
			return adapter.MutationResponse{Executed: true, Verified: true}, nil
		},
		Upgrade: func(ctx context.Context, req adapter.Request) (adapter.MutationResponse, error) {
			if _, err := r.Run(ctx, gemID, models.TaskUpgrade, "upgrade", "gem",
				[]string{"update", req.PackageName}, longTimeout); err != nil {
				return adapter.MutationResponse{}, err
			}
			return adapter.MutationResponse{Executed: true, Verified: false}, nil
		},
	}
}
