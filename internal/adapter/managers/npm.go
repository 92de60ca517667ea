package managers

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jasoncavinder/helm/internal/adapter"
	"github.com/jasoncavinder/helm/internal/errs"
	"github.com/jasoncavinder/helm/internal/models"
)

const npmID = "npm"

// NewNPM builds the adapter for globally-installed npm packages.
func NewNPM(r runner) adapter.Manager {
	return adapter.Manager{
		ID: npmID,
		Detect: func(ctx context.Context) (adapter.DetectResponse, error) {
			return detectByVersionFlag(ctx, r, npmID, "npm", []string{"--version"})
		},
		ListInstalled: func(ctx context.Context) (adapter.ListInstalledResponse, error) {
			res, err := r.Run(ctx, npmID, models.TaskDetection, "list_installed", "npm",
				[]string{"list", "--global", "--depth=0", "--json"}, defaultTimeout)
			if err != nil {
				return adapter.ListInstalledResponse{}, err
			}
			var payload struct {
				Dependencies map[string]struct {
					Version string `json:"version"`
				} `json:"dependencies"`
			}
			if len(strings.TrimSpace(string(res.Stdout))) == 0 {
				return adapter.ListInstalledResponse{}, nil
			}
			if err := json.Unmarshal(res.Stdout, &payload); err != nil {
				return adapter.ListInstalledResponse{}, errs.Wrap(models.ErrParseFailure, npmID, models.TaskDetection, "list_installed", err)
			}
			out := make([]models.InstalledPackage, 0, len(payload.Dependencies))
			for name, dep := range payload.Dependencies {
				out = append(out, models.InstalledPackage{
					Ref:              models.PackageRef{ManagerID: npmID, Name: name},
					InstalledVersion: models.NormalizeVersion(dep.Version),
				})
			}
			return adapter.ListInstalledResponse{Packages: out}, nil
		},
		ListOutdated: func(ctx context.Context) (adapter.ListOutdatedResponse, error) {
			// npm outdated exits 1 when results are present; that is not a
			// Process Runner failure here, it is the documented contract.
			res, err := r.Run(ctx, npmID, models.TaskDetection, "list_outdated", "npm",
				[]string{"outdated", "--global", "--json"}, defaultTimeout)
			if err != nil {
				if e, ok := errs.As(err); !ok || e.Kind != models.ErrProcessFailure || len(res.Stdout) == 0 {
					return adapter.ListOutdatedResponse{}, err
				}
			}
			var payload map[string]struct {
				Current string `json:"current"`
				Wanted  string `json:"wanted"`
				Latest  string `json:"latest"`
			}
			if len(strings.TrimSpace(string(res.Stdout))) == 0 {
				return adapter.ListOutdatedResponse{}, nil
			}
			if jerr := json.Unmarshal(res.Stdout, &payload); jerr != nil {
				return adapter.ListOutdatedResponse{}, errs.Wrap(models.ErrParseFailure, npmID, models.TaskDetection, "list_outdated", jerr)
			}
			out := make([]models.OutdatedPackage, 0, len(payload))
			for name, info := range payload {
				out = append(out, models.OutdatedPackage{
					Ref:              models.PackageRef{ManagerID: npmID, Name: name},
					InstalledVersion: models.NormalizeVersion(info.Current),
					CandidateVersion: info.Latest,
				})
			}
			return adapter.ListOutdatedResponse{Packages: out}, nil
		},
		Search: func(ctx context.Context, query string) (adapter.SearchResponse, error) {
			res, err := r.Run(ctx, npmID, models.TaskSearch, "search", "npm",
				[]string{"search", query, "--json"}, defaultTimeout)
			if err != nil {
				return adapter.SearchResponse{}, err
			}
			var payload []struct {
				Name        string `json:"name"`
				Version     string `json:"version"`
				Description string `json:"description"`
			}
			if len(strings.TrimSpace(string(res.Stdout))) == 0 {
				return adapter.SearchResponse{}, nil
			}
			if err := json.Unmarshal(res.Stdout, &payload); err != nil {
				return adapter.SearchResponse{}, errs.Wrap(models.ErrParseFailure, npmID, models.TaskSearch, "search", err)
			}
			out := make([]models.SearchCacheEntry, 0, len(payload))
			for _, p := range payload {
				out = append(out, models.SearchCacheEntry{
					ManagerID: npmID, Name: p.Name, Version: models.NormalizeVersion(p.Version),
					Summary: p.Description, SourceManager: npmID, OriginQuery: query,
				})
			}
			return adapter.SearchResponse{Entries: out}, nil
		},
		Install: func(ctx context.Context, req adapter.Request) (adapter.MutationResponse, error) {
			name := req.PackageName
			if req.Version != "" {
				name = req.PackageName + "@" + req.Version
			}
			if _, err := r.Run(ctx, npmID, models.TaskInstall, "install", "npm",
				[]string{"install", "--global", name}, longTimeout); err != nil {
				return adapter.MutationResponse{}, err
			}
			return adapter.MutationResponse{Executed: true, Verified: true}, nil
		},
		Uninstall: func(ctx context.Context, req adapter.Request) (adapter.MutationResponse, error) {
			if _, err := r.Run(ctx, npmID, models.TaskUninstall, "uninstall", "npm",
				[]string{"uninstall", "--global", req.PackageName}, longTimeout); err != nil {
				return adapter.MutationResponse{}, err
			}
			return adapter.MutationResponse{Executed: true, Verified: true}, nil
		},
		Upgrade: func(ctx context.Context, req adapter.Request) (adapter.MutationResponse, error) {
			if _, err := r.Run(ctx, npmID, models.TaskUpgrade, "upgrade", "npm",
				[]string{"update", "--global", req.PackageName}, longTimeout); err != nil {
				return adapter.MutationResponse{}, err
			}
			return adapter.MutationResponse{Executed: true, Verified: false}, nil
		},
	}
}
