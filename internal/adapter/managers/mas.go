package managers

import (
	"context"
	"strings"

	"github.com/jasoncavinder/helm/internal/adapter"
	"github.com/jasoncavinder/helm/internal/models"
)

const masID = "mas"

// NewMas builds the adapter for `mas` (Mac App Store CLI). App ids are
// numeric App Store identifiers; the display name is used as the package
// name since that is what a user recognizes.
func NewMas(r runner) adapter.Manager {
	return adapter.Manager{
		ID: masID,
		Detect: func(ctx context.Context) (adapter.DetectResponse, error) {
			return detectByVersionFlag(ctx, r, masID, "mas", []string{"version"})
		},
		ListInstalled: func(ctx context.Context) (adapter.ListInstalledResponse, error) {
			res, err := r.Run(ctx, masID, models.TaskDetection, "list_installed", "mas",
				[]string{"list"}, defaultTimeout)
			if err != nil {
				return adapter.ListInstalledResponse{}, err
			}
			var pkgs []models.InstalledPackage
			skipped := scanLines(res.Stdout, func(line string) bool {
				// Format: "409183694 Keynote (12.2.1)"
				fields := strings.SplitN(line, " ", 2)
				if len(fields) != 2 {
					return false
				}
				rest := fields[1]
				open := strings.LastIndex(rest, "(")
				close := strings.LastIndex(rest, ")")
				name := rest
				var version *string
				if open > 0 && close > open {
					name = strings.TrimSpace(rest[:open])
					version = ptr(rest[open+1 : close])
				}
				pkgs = append(pkgs, models.InstalledPackage{
					Ref:              models.PackageRef{ManagerID: masID, Name: name},
					InstalledVersion: version,
				})
				return true
			})
			return adapter.ListInstalledResponse{Packages: pkgs, SkippedLines: skipped}, nil
		},
		ListOutdated: func(ctx context.Context) (adapter.ListOutdatedResponse, error) {
			res, err := r.Run(ctx, masID, models.TaskDetection, "list_outdated", "mas",
				[]string{"outdated"}, defaultTimeout)
			if err != nil {
				return adapter.ListOutdatedResponse{}, err
			}
			var out []models.OutdatedPackage
			skipped := scanLines(res.Stdout, func(line string) bool {
				// Format: "409183694 Keynote (12.2.1 -> 13.0)"
				fields := strings.SplitN(line, " ", 2)
				if len(fields) != 2 {
					return false
				}
				rest := fields[1]
				open := strings.LastIndex(rest, "(")
				close := strings.LastIndex(rest, ")")
				if open < 0 || close < open {
					return false
				}
				name := strings.TrimSpace(rest[:open])
				versions := strings.SplitN(rest[open+1:close], " -> ", 2)
				if len(versions) != 2 {
					return false
				}
				out = append(out, models.OutdatedPackage{
					Ref:              models.PackageRef{ManagerID: masID, Name: name},
					InstalledVersion: ptr(strings.TrimSpace(versions[0])),
					CandidateVersion: strings.TrimSpace(versions[1]),
				})
				return true
			})
			return adapter.ListOutdatedResponse{Packages: out, SkippedLines: skipped}, nil
		},
		Upgrade: func(ctx context.Context, req adapter.Request) (adapter.MutationResponse, error) {
			if _, err := r.Run(ctx, masID, models.TaskUpgrade, "upgrade", "mas",
				[]string{"upgrade", req.PackageName}, longTimeout); err != nil {
				return adapter.MutationResponse{}, err
			}
			return adapter.MutationResponse{Executed: true, Verified: false}, nil
		},
	}
}
