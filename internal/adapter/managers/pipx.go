package managers

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jasoncavinder/helm/internal/adapter"
	"github.com/jasoncavinder/helm/internal/errs"
	"github.com/jasoncavinder/helm/internal/models"
)

const pipxID = "pipx"

// NewPipx builds the adapter for pipx-managed Python CLI applications.
func NewPipx(r runner) adapter.Manager {
	return adapter.Manager{
		ID: pipxID,
		Detect: func(ctx context.Context) (adapter.DetectResponse, error) {
			return detectByVersionFlag(ctx, r, pipxID, "pipx", []string{"--version"})
		},
		ListInstalled: func(ctx context.Context) (adapter.ListInstalledResponse, error) {
			res, err := r.Run(ctx, pipxID, models.TaskDetection, "list_installed", "pipx",
				[]string{"list", "--json"}, defaultTimeout)
			if err != nil {
				return adapter.ListInstalledResponse{}, err
			}
			var payload struct {
				Venvs map[string]struct {
					Metadata struct {
						MainPackage struct {
							Package        string `json:"package"`
							PackageVersion string `json:"package_version"`
						} `json:"main_package"`
					} `json:"metadata"`
				} `json:"venvs"`
			}
			if len(strings.TrimSpace(string(res.Stdout))) == 0 {
				return adapter.ListInstalledResponse{}, nil
			}
			if err := json.Unmarshal(res.Stdout, &payload); err != nil {
				return adapter.ListInstalledResponse{}, errs.Wrap(models.ErrParseFailure, pipxID, models.TaskDetection, "list_installed", err)
			}
			out := make([]models.InstalledPackage, 0, len(payload.Venvs))
			for name, venv := range payload.Venvs {
				pkgName := venv.Metadata.MainPackage.Package
				if pkgName == "" {
					pkgName = name
				}
				out = append(out, models.InstalledPackage{
					Ref:              models.PackageRef{ManagerID: pipxID, Name: pkgName},
					InstalledVersion: models.NormalizeVersion(venv.Metadata.MainPackage.PackageVersion),
				})
			}
			return adapter.ListInstalledResponse{Packages: out}, nil
		},
		Install: func(ctx context.Context, req adapter.Request) (adapter.MutationResponse, error) {
			name := req.PackageName
			if req.Version != "" {
				name = req.PackageName + "==" + req.Version
			}
			if _, err := r.Run(ctx, pipxID, models.TaskInstall, "install", "pipx",
				[]string{"install", name}, longTimeout); err != nil {
				return adapter.MutationResponse{}, err
			}
			return adapter.MutationResponse{Executed: true, Verified: true}, nil
		},
		Uninstall: func(ctx context.Context, req adapter.Request) (adapter.MutationResponse, error) {
			if _, err := r.Run(ctx, pipxID, models.TaskUninstall, "uninstall", "pipx",
				[]string{"uninstall", req.PackageName}, longTimeout); err != nil {
				return adapter.MutationResponse{}, err
			}
			return adapter.MutationResponse{Executed: true, Verified: true}, nil
		},
		Upgrade: func(ctx context.Context, req adapter.Request) (adapter.MutationResponse, error) {
			if _, err := r.Run(ctx, pipxID, models.TaskUpgrade, "upgrade", "pipx",
				[]string{"upgrade", req.PackageName}, longTimeout); err != nil {
				return adapter.MutationResponse{}, err
			}
			return adapter.MutationResponse{Executed: true, Verified: false}, nil
		},
	}
}
