package managers

import (
	"context"

	"github.com/jasoncavinder/helm/internal/adapter"
	"github.com/jasoncavinder/helm/internal/models"
)

const goID = "go"

// NewGo builds the adapter for `go install`-managed binaries. The go
// toolchain keeps no registry of installed binaries or their module
// versions (GOBIN has no metadata file); list_installed is therefore
// reported empty rather than guessed from $GOBIN contents, which would
// misreport version for any binary not built with module info embedded.
func NewGo(r runner) adapter.Manager {
	return adapter.Manager{
		ID: goID,
		Detect: func(ctx context.Context) (adapter.DetectResponse, error) {
			return detectByVersionFlag(ctx, r, goID, "go", []string{"version"})
		},
		ListInstalled: func(ctx context.Context) (adapter.ListInstalledResponse, error) {
			return adapter.ListInstalledResponse{}, nil
		},
		Install: func(ctx context.Context, req adapter.Request) (adapter.MutationResponse, error) {
			target := req.PackageName
			if req.Version != "" {
				target = req.PackageName + "@" + req.Version
			} else {
				target = req.PackageName + "@latest"
			}
			if _, err := r.Run(ctx, goID, models.TaskInstall, "install", "go",
				[]string{"install", target}, longTimeout); err != nil {
				return adapter.MutationResponse{}, err
			}
			return adapter.MutationResponse{Executed: true, Verified: true}, nil
		},
		Upgrade: func(ctx context.Context, req adapter.Request) (adapter.MutationResponse, error) {
			if _, err := r.Run(ctx, goID, models.TaskUpgrade, "upgrade", "go",
				[]string{"install", req.PackageName + "@latest"}, longTimeout); err != nil {
				return adapter.MutationResponse{}, err
			}
			return adapter.MutationResponse{Executed: true, Verified: false}, nil
		},
	}
}
