package managers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jasoncavinder/helm/internal/adapter"
	"github.com/jasoncavinder/helm/internal/errs"
	"github.com/jasoncavinder/helm/internal/models"
)

const homebrewFormulaID = "homebrew_formula"

// NewHomebrewFormula builds the adapter for `brew` formula operations.
// Grounded on kcli.go's exec.CommandContext + buffered stdout/stderr
// pattern, generalized to brew's JSON-shaped list output.
func NewHomebrewFormula(r runner) adapter.Manager {
	return adapter.Manager{
		ID: homebrewFormulaID,
		Detect: func(ctx context.Context) (adapter.DetectResponse, error) {
			return detectByVersionFlag(ctx, r, homebrewFormulaID, "brew", []string{"--version"})
		},
		ListInstalled: func(ctx context.Context) (adapter.ListInstalledResponse, error) {
			res, err := r.Run(ctx, homebrewFormulaID, models.TaskDetection, "list_installed", "brew",
				[]string{"list", "--formula", "--versions"}, defaultTimeout)
			if err != nil {
				return adapter.ListInstalledResponse{}, err
			}
			var pkgs []models.InstalledPackage
			skipped := scanLines(res.Stdout, func(line string) bool {
				fields := strings.Fields(line)
				if len(fields) < 1 {
					return false
				}
				name := fields[0]
				var version *string
				if len(fields) > 1 {
					version = ptr(fields[len(fields)-1])
				}
				pkgs = append(pkgs, models.InstalledPackage{
					Ref:              models.PackageRef{ManagerID: homebrewFormulaID, Name: name},
					InstalledVersion: version,
				})
				return true
			})
			return adapter.ListInstalledResponse{Packages: pkgs, SkippedLines: skipped}, nil
		},
		ListOutdated: func(ctx context.Context) (adapter.ListOutdatedResponse, error) {
			res, err := r.Run(ctx, homebrewFormulaID, models.TaskDetection, "list_outdated", "brew",
				[]string{"outdated", "--formula", "--json=v2"}, defaultTimeout)
			if err != nil {
				return adapter.ListOutdatedResponse{}, err
			}
			var payload struct {
				Formulae []struct {
					Name              string `json:"name"`
					InstalledVersions []string `json:"installed_versions"`
					CurrentVersion    string `json:"current_version"`
					Pinned            bool   `json:"pinned"`
				} `json:"formulae"`
			}
			if len(strings.TrimSpace(string(res.Stdout))) == 0 {
				return adapter.ListOutdatedResponse{}, nil
			}
			if err := json.Unmarshal(res.Stdout, &payload); err != nil {
				return adapter.ListOutdatedResponse{}, errs.Wrap(models.ErrParseFailure, homebrewFormulaID, models.TaskDetection, "list_outdated", err)
			}
			out := make([]models.OutdatedPackage, 0, len(payload.Formulae))
			for _, f := range payload.Formulae {
				var installed *string
				if len(f.InstalledVersions) > 0 {
					installed = ptr(f.InstalledVersions[0])
				}
				out = append(out, models.OutdatedPackage{
					Ref:              models.PackageRef{ManagerID: homebrewFormulaID, Name: f.Name},
					InstalledVersion: installed,
					CandidateVersion: f.CurrentVersion,
					Pinned:           f.Pinned,
				})
			}
			return adapter.ListOutdatedResponse{Packages: out}, nil
		},
		Search: func(ctx context.Context, query string) (adapter.SearchResponse, error) {
			res, err := r.Run(ctx, homebrewFormulaID, models.TaskSearch, "search", "brew",
				[]string{"search", "--formula", query}, defaultTimeout)
			if err != nil {
				return adapter.SearchResponse{}, err
			}
			var entries []models.SearchCacheEntry
			skipped := scanLines(res.Stdout, func(line string) bool {
				if strings.HasPrefix(line, "==>") {
					return true // section header, not an error
				}
				entries = append(entries, models.SearchCacheEntry{
					ManagerID: homebrewFormulaID, Name: line, SourceManager: homebrewFormulaID, OriginQuery: query,
				})
				return true
			})
			return adapter.SearchResponse{Entries: entries, SkippedLines: skipped}, nil
		},
		Install: func(ctx context.Context, req adapter.Request) (adapter.MutationResponse, error) {
			name := req.PackageName
			if req.Version != "" {
				name = fmt.Sprintf("%s@%s", req.PackageName, req.Version)
			}
			_, err := r.Run(ctx, homebrewFormulaID, models.TaskInstall, "install", "brew",
				[]string{"install", "--formula", name}, longTimeout)
			if err != nil {
				return adapter.MutationResponse{}, err
			}
			return adapter.MutationResponse{Executed: true, Verified: true}, nil
		},
		Uninstall: func(ctx context.Context, req adapter.Request) (adapter.MutationResponse, error) {
			_, err := r.Run(ctx, homebrewFormulaID, models.TaskUninstall, "uninstall", "brew",
				[]string{"uninstall", "--formula", req.PackageName}, longTimeout)
			if err != nil {
				return adapter.MutationResponse{}, err
			}
			return adapter.MutationResponse{Executed: true, Verified: true}, nil
		},
		Upgrade: func(ctx context.Context, req adapter.Request) (adapter.MutationResponse, error) {
			_, err := r.Run(ctx, homebrewFormulaID, models.TaskUpgrade, "upgrade", "brew",
				[]string{"upgrade", "--formula", req.PackageName}, longTimeout)
			if err != nil {
				return adapter.MutationResponse{}, err
			}
			return adapter.MutationResponse{Executed: true, Verified: false}, nil
		},
		Pin: func(ctx context.Context, req adapter.Request) (adapter.PinResponse, error) {
			_, err := r.Run(ctx, homebrewFormulaID, models.TaskPin, "pin", "brew",
				[]string{"pin", req.PackageName}, defaultTimeout)
			if err != nil {
				return adapter.PinResponse{}, err
			}
			return adapter.PinResponse{Applied: true, Source: models.PinNative}, nil
		},
		Unpin: func(ctx context.Context, req adapter.Request) (adapter.PinResponse, error) {
			_, err := r.Run(ctx, homebrewFormulaID, models.TaskUnpin, "unpin", "brew",
				[]string{"unpin", req.PackageName}, defaultTimeout)
			if err != nil {
				return adapter.PinResponse{}, err
			}
			return adapter.PinResponse{Applied: true, Source: models.PinNative}, nil
		},
		SelfUpdate: func(ctx context.Context) (adapter.MutationResponse, error) {
			_, err := r.Run(ctx, homebrewFormulaID, models.TaskUpgrade, "self_update", "brew",
				[]string{"update"}, longTimeout)
			if err != nil {
				return adapter.MutationResponse{}, err
			}
			return adapter.MutationResponse{Executed: true, Verified: true}, nil
		},
	}
}
