package managers

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jasoncavinder/helm/internal/adapter"
	"github.com/jasoncavinder/helm/internal/errs"
	"github.com/jasoncavinder/helm/internal/models"
)

const pipID = "pip"

// NewPip builds the adapter for user-scope pip packages (`pip3`).
func NewPip(r runner) adapter.Manager {
	return adapter.Manager{
		ID: pipID,
		Detect: func(ctx context.Context) (adapter.DetectResponse, error) {
			return detectByVersionFlag(ctx, r, pipID, "pip3", []string{"--version"})
		},
		ListInstalled: func(ctx context.Context) (adapter.ListInstalledResponse, error) {
			res, err := r.Run(ctx, pipID, models.TaskDetection, "list_installed", "pip3",
				[]string{"list", "--user", "--format=json"}, defaultTimeout)
			if err != nil {
				return adapter.ListInstalledResponse{}, err
			}
			var payload []struct {
				Name    string `json:"name"`
				Version string `json:"version"`
			}
			if len(strings.TrimSpace(string(res.Stdout))) == 0 {
				return adapter.ListInstalledResponse{}, nil
			}
			if err := json.Unmarshal(res.Stdout, &payload); err != nil {
				return adapter.ListInstalledResponse{}, errs.Wrap(models.ErrParseFailure, pipID, models.TaskDetection, "list_installed", err)
			}
			out := make([]models.InstalledPackage, 0, len(payload))
			for _, p := range payload {
				out = append(out, models.InstalledPackage{
					Ref:              models.PackageRef{ManagerID: pipID, Name: p.Name},
					InstalledVersion: models.NormalizeVersion(p.Version),
				})
			}
			return adapter.ListInstalledResponse{Packages: out}, nil
		},
		ListOutdated: func(ctx context.Context) (adapter.ListOutdatedResponse, error) {
			res, err := r.Run(ctx, pipID, models.TaskDetection, "list_outdated", "pip3",
				[]string{"list", "--user", "--outdated", "--format=json"}, defaultTimeout)
			if err != nil {
				return adapter.ListOutdatedResponse{}, err
			}
			var payload []struct {
				Name          string `json:"name"`
				Version       string `json:"version"`
				LatestVersion string `json:"latest_version"`
			}
			if len(strings.TrimSpace(string(res.Stdout))) == 0 {
				return adapter.ListOutdatedResponse{}, nil
			}
			if err := json.Unmarshal(res.Stdout, &payload); err != nil {
				return adapter.ListOutdatedResponse{}, errs.Wrap(models.ErrParseFailure, pipID, models.TaskDetection, "list_outdated", err)
			}
			out := make([]models.OutdatedPackage, 0, len(payload))
			for _, p := range payload {
				out = append(out, models.OutdatedPackage{
					Ref:              models.PackageRef{ManagerID: pipID, Name: p.Name},
					InstalledVersion: models.NormalizeVersion(p.Version),
					CandidateVersion: p.LatestVersion,
				})
			}
			return adapter.ListOutdatedResponse{Packages: out}, nil
		},
		Search: func(ctx context.Context, query string) (adapter.SearchResponse, error) {
			// PyPI's XML-RPC search endpoint was retired; pip has no local
			// search replacement, so this adapter reports an empty result
			// set rather than fabricating a capability it does not have.
			return adapter.SearchResponse{}, nil
		},
		Install: func(ctx context.Context, req adapter.Request) (adapter.MutationResponse, error) {
			name := req.PackageName
			if req.Version != "" {
				name = req.PackageName + "==" + req.Version
			}
			if _, err := r.Run(ctx, pipID, models.TaskInstall, "install", "pip3",
				[]string{"install", "--user", name}, longTimeout); err != nil {
				return adapter.MutationResponse{}, err
			}
			return adapter.MutationResponse{Executed: true, Verified: true}, nil
		},
		Uninstall: func(ctx context.Context, req adapter.Request) (adapter.MutationResponse, error) {
			if _, err := r.Run(ctx, pipID, models.TaskUninstall, "uninstall", "pip3",
				[]string{"uninstall", "--yes", req.PackageName}, longTimeout); err != nil {
				return adapter.MutationResponse{}, err
			}
			return adapter.MutationResponse{Executed: true, Verified: true}, nil
		},
		Upgrade: func(ctx context.Context, req adapter.Request) (adapter.MutationResponse, error) {
			if _, err := r.Run(ctx, pipID, models.TaskUpgrade, "upgrade", "pip3",
				[]string{"install", "--user", "--upgrade", req.PackageName}, longTimeout); err != nil {
				return adapter.MutationResponse{}, err
			}
			return adapter.MutationResponse{Executed: true, Verified: false}, nil
		},
	}
}
