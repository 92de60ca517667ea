package managers

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jasoncavinder/helm/internal/adapter"
	"github.com/jasoncavinder/helm/internal/errs"
	"github.com/jasoncavinder/helm/internal/models"
)

const homebrewCaskID = "homebrew_cask"

// NewHomebrewCask builds the adapter for `brew` cask operations. Shares
// the brew binary with homebrew_formula but is a distinct manager id since
// its capability set and category differ.
func NewHomebrewCask(r runner) adapter.Manager {
	return adapter.Manager{
		ID: homebrewCaskID,
		Detect: func(ctx context.Context) (adapter.DetectResponse, error) {
			return detectByVersionFlag(ctx, r, homebrewCaskID, "brew", []string{"--version"})
		},
		ListInstalled: func(ctx context.Context) (adapter.ListInstalledResponse, error) {
			res, err := r.Run(ctx, homebrewCaskID, models.TaskDetection, "list_installed", "brew",
				[]string{"list", "--cask", "--versions"}, defaultTimeout)
			if err != nil {
				return adapter.ListInstalledResponse{}, err
			}
			var pkgs []models.InstalledPackage
			skipped := scanLines(res.Stdout, func(line string) bool {
				fields := strings.Fields(line)
				if len(fields) < 1 {
					return false
				}
				var version *string
				if len(fields) > 1 {
					version = ptr(fields[len(fields)-1])
				}
				pkgs = append(pkgs, models.InstalledPackage{
					Ref:              models.PackageRef{ManagerID: homebrewCaskID, Name: fields[0]},
					InstalledVersion: version,
				})
				return true
			})
			return adapter.ListInstalledResponse{Packages: pkgs, SkippedLines: skipped}, nil
		},
		ListOutdated: func(ctx context.Context) (adapter.ListOutdatedResponse, error) {
			res, err := r.Run(ctx, homebrewCaskID, models.TaskDetection, "list_outdated", "brew",
				[]string{"outdated", "--cask", "--json=v2"}, defaultTimeout)
			if err != nil {
				return adapter.ListOutdatedResponse{}, err
			}
			var payload struct {
				Casks []struct {
					Name              string `json:"name"`
					InstalledVersions []string `json:"installed_versions"`
					CurrentVersion    string `json:"current_version"`
				} `json:"casks"`
			}
			if len(strings.TrimSpace(string(res.Stdout))) == 0 {
				return adapter.ListOutdatedResponse{}, nil
			}
			if err := json.Unmarshal(res.Stdout, &payload); err != nil {
				return adapter.ListOutdatedResponse{}, errs.Wrap(models.ErrParseFailure, homebrewCaskID, models.TaskDetection, "list_outdated", err)
			}
			out := make([]models.OutdatedPackage, 0, len(payload.Casks))
			for _, c := range payload.Casks {
				var installed *string
				if len(c.InstalledVersions) > 0 {
					installed = ptr(c.InstalledVersions[0])
				}
				out = append(out, models.OutdatedPackage{
					Ref:              models.PackageRef{ManagerID: homebrewCaskID, Name: c.Name},
					InstalledVersion: installed,
					CandidateVersion: c.CurrentVersion,
				})
			}
			return adapter.ListOutdatedResponse{Packages: out}, nil
		},
		Search: func(ctx context.Context, query string) (adapter.SearchResponse, error) {
			res, err := r.Run(ctx, homebrewCaskID, models.TaskSearch, "search", "brew",
				[]string{"search", "--cask", query}, defaultTimeout)
			if err != nil {
				return adapter.SearchResponse{}, err
			}
			var entries []models.SearchCacheEntry
			skipped := scanLines(res.Stdout, func(line string) bool {
				if strings.HasPrefix(line, "==>") {
					return true
				}
				entries = append(entries, models.SearchCacheEntry{
					ManagerID: homebrewCaskID, Name: line, SourceManager: homebrewCaskID, OriginQuery: query,
				})
				return true
			})
			return adapter.SearchResponse{Entries: entries, SkippedLines: skipped}, nil
		},
		Install: func(ctx context.Context, req adapter.Request) (adapter.MutationResponse, error) {
			_, err := r.Run(ctx, homebrewCaskID, models.TaskInstall, "install", "brew",
				[]string{"install", "--cask", req.PackageName}, longTimeout)
			if err != nil {
				return adapter.MutationResponse{}, err
			}
			return adapter.MutationResponse{Executed: true, Verified: true}, nil
		},
		Uninstall: func(ctx context.Context, req adapter.Request) (adapter.MutationResponse, error) {
			_, err := r.Run(ctx, homebrewCaskID, models.TaskUninstall, "uninstall", "brew",
				[]string{"uninstall", "--cask", req.PackageName}, longTimeout)
			if err != nil {
				return adapter.MutationResponse{}, err
			}
			return adapter.MutationResponse{Executed: true, Verified: true}, nil
		},
		Upgrade: func(ctx context.Context, req adapter.Request) (adapter.MutationResponse, error) {
			_, err := r.Run(ctx, homebrewCaskID, models.TaskUpgrade, "upgrade", "brew",
				[]string{"upgrade", "--cask", req.PackageName}, longTimeout)
			if err != nil {
				return adapter.MutationResponse{}, err
			}
			return adapter.MutationResponse{Executed: true, Verified: false}, nil
		},
	}
}
