package managers

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/jasoncavinder/helm/internal/adapter"
	"github.com/jasoncavinder/helm/internal/models"
)

const (
	sparkleID   = "sparkle"
	setappID    = "setapp"
	parallelsID = "parallels"
)

// NewSparkle reports the set of installed /Applications bundles that embed
// a Sparkle.framework — the update mechanism many indie Mac apps use.
// There is no CLI to shell out to; detection and listing both walk the
// filesystem. DetectionOnly managers never gain mutating capabilities.
func NewSparkle() adapter.Manager {
	return adapter.Manager{
		ID: sparkleID,
		Detect: func(ctx context.Context) (adapter.DetectResponse, error) {
			apps := scanApplicationsForFramework("Sparkle.framework")
			return adapter.DetectResponse{Detected: len(apps) > 0}, nil
		},
		ListInstalled: func(ctx context.Context) (adapter.ListInstalledResponse, error) {
			apps := scanApplicationsForFramework("Sparkle.framework")
			out := make([]models.InstalledPackage, 0, len(apps))
			for _, app := range apps {
				out = append(out, models.InstalledPackage{Ref: models.PackageRef{ManagerID: sparkleID, Name: app}})
			}
			return adapter.ListInstalledResponse{Packages: out}, nil
		},
	}
}

// NewSetapp reports presence of the Setapp subscription-app launcher bundle.
func NewSetapp() adapter.Manager {
	const bundle = "/Applications/Setapp.app"
	return adapter.Manager{
		ID: setappID,
		Detect: func(ctx context.Context) (adapter.DetectResponse, error) {
			return appBundleExists(bundle), nil
		},
		ListInstalled: func(ctx context.Context) (adapter.ListInstalledResponse, error) {
			if _, err := os.Stat(bundle); err != nil {
				return adapter.ListInstalledResponse{}, nil
			}
			return adapter.ListInstalledResponse{Packages: []models.InstalledPackage{
				{Ref: models.PackageRef{ManagerID: setappID, Name: appNameFromBundle(bundle)}},
			}}, nil
		},
	}
}

// NewParallels reports presence of Parallels Desktop.
func NewParallels() adapter.Manager {
	const bundle = "/Applications/Parallels Desktop.app"
	return adapter.Manager{
		ID: parallelsID,
		Detect: func(ctx context.Context) (adapter.DetectResponse, error) {
			return appBundleExists(bundle), nil
		},
		ListInstalled: func(ctx context.Context) (adapter.ListInstalledResponse, error) {
			if _, err := os.Stat(bundle); err != nil {
				return adapter.ListInstalledResponse{}, nil
			}
			return adapter.ListInstalledResponse{Packages: []models.InstalledPackage{
				{Ref: models.PackageRef{ManagerID: parallelsID, Name: appNameFromBundle(bundle)}},
			}}, nil
		},
	}
}

// scanApplicationsForFramework lists top-level /Applications bundles that
// embed the named framework in Contents/Frameworks.
func scanApplicationsForFramework(framework string) []string {
	entries, err := os.ReadDir("/Applications")
	if err != nil {
		return nil
	}
	var apps []string
	for _, e := range entries {
		if !e.IsDir() || !strings.HasSuffix(e.Name(), ".app") {
			continue
		}
		fw := filepath.Join("/Applications", e.Name(), "Contents", "Frameworks", framework)
		if _, err := os.Stat(fw); err == nil {
			apps = append(apps, strings.TrimSuffix(e.Name(), ".app"))
		}
	}
	return apps
}
