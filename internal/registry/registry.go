// Package registry holds the static, compile-time manager descriptor table.
// Nothing here is inferred at runtime or stored in the database — it is
// fixed metadata the rest of the system looks up by id.
package registry

import (
	"fmt"
	"sort"

	"github.com/jasoncavinder/helm/internal/models"
)

var descriptors = []models.ManagerDescriptor{
	{
		ID: "homebrew_formula", DisplayName: "Homebrew (Formulae)", Category: "package manager",
		Authority: models.Guarded, IsImplemented: true, DefaultEnabled: true,
		Capabilities: models.CapabilitySet{
			models.CapDetect, models.CapListInstalled, models.CapListOutdated,
			models.CapInstall, models.CapUninstall, models.CapUpgrade,
			models.CapPin, models.CapUnpin, models.CapSearch, models.CapSelfUpdate,
		},
	},
	{
		ID: "homebrew_cask", DisplayName: "Homebrew (Casks)", Category: "package manager",
		Authority: models.Guarded, IsImplemented: true, DefaultEnabled: true,
		Capabilities: models.CapabilitySet{
			models.CapDetect, models.CapListInstalled, models.CapListOutdated,
			models.CapInstall, models.CapUninstall, models.CapUpgrade, models.CapSearch,
		},
	},
	{
		ID: "npm", DisplayName: "npm", Category: "language ecosystem",
		Authority: models.Standard, IsImplemented: true, DefaultEnabled: true,
		Capabilities: models.CapabilitySet{
			models.CapDetect, models.CapListInstalled, models.CapListOutdated,
			models.CapInstall, models.CapUninstall, models.CapUpgrade, models.CapSearch,
		},
	},
	{
		ID: "pip", DisplayName: "pip", Category: "language ecosystem",
		Authority: models.Standard, IsImplemented: true, DefaultEnabled: true,
		Capabilities: models.CapabilitySet{
			models.CapDetect, models.CapListInstalled, models.CapListOutdated,
			models.CapInstall, models.CapUninstall, models.CapUpgrade, models.CapSearch,
		},
	},
	{
		ID: "cargo", DisplayName: "Cargo", Category: "language ecosystem",
		Authority: models.Standard, IsImplemented: true, DefaultEnabled: true,
		Capabilities: models.CapabilitySet{
			models.CapDetect, models.CapListInstalled, models.CapListOutdated,
			models.CapInstall, models.CapUninstall, models.CapUpgrade,
		},
	},
	{
		ID: "gem", DisplayName: "RubyGems", Category: "language ecosystem",
		Authority: models.Standard, IsImplemented: true, DefaultEnabled: true,
		Capabilities: models.CapabilitySet{
			models.CapDetect, models.CapListInstalled, models.CapListOutdated,
			models.CapInstall, models.CapUninstall, models.CapUpgrade,
		},
	},
	{
		ID: "pipx", DisplayName: "pipx", Category: "language ecosystem",
		Authority: models.Standard, IsImplemented: true, DefaultEnabled: true,
		Capabilities: models.CapabilitySet{
			models.CapDetect, models.CapListInstalled, models.CapInstall,
			models.CapUninstall, models.CapUpgrade,
		},
	},
	{
		ID: "go", DisplayName: "Go", Category: "language ecosystem",
		Authority: models.Standard, IsImplemented: true, DefaultEnabled: true,
		Capabilities: models.CapabilitySet{
			models.CapDetect, models.CapListInstalled, models.CapInstall, models.CapUpgrade,
		},
	},
	{
		ID: "mise", DisplayName: "mise", Category: "toolchain manager",
		Authority: models.Authoritative, IsImplemented: true, DefaultEnabled: true,
		Capabilities: models.CapabilitySet{
			models.CapDetect, models.CapListInstalled, models.CapListOutdated,
			models.CapInstall, models.CapUninstall, models.CapUpgrade,
			models.CapPin, models.CapUnpin,
		},
	},
	{
		ID: "rustup", DisplayName: "rustup", Category: "toolchain manager",
		Authority: models.Authoritative, IsImplemented: true, DefaultEnabled: true,
		Capabilities: models.CapabilitySet{
			models.CapDetect, models.CapListInstalled, models.CapListOutdated,
			models.CapInstall, models.CapUninstall, models.CapUpgrade,
		},
	},
	{
		ID: "mas", DisplayName: "Mac App Store", Category: "system store",
		Authority: models.Guarded, IsImplemented: true, DefaultEnabled: true,
		Capabilities: models.CapabilitySet{
			models.CapDetect, models.CapListInstalled, models.CapListOutdated, models.CapUpgrade,
		},
	},
	{
		ID: "softwareupdate", DisplayName: "macOS Software Update", Category: "system/OS",
		Authority: models.Guarded, IsImplemented: true, DefaultEnabled: true,
		Capabilities: models.CapabilitySet{
			models.CapDetect, models.CapListOutdated, models.CapUpgrade,
		},
	},
	{
		ID: "sparkle", DisplayName: "Sparkle-updated Apps", Category: "detection-only",
		Authority: models.DetectionOnly, IsImplemented: true, DefaultEnabled: true,
		Capabilities: models.CapabilitySet{models.CapDetect, models.CapListInstalled},
	},
	{
		ID: "setapp", DisplayName: "Setapp", Category: "detection-only",
		Authority: models.DetectionOnly, IsImplemented: true, DefaultEnabled: true,
		Capabilities: models.CapabilitySet{models.CapDetect, models.CapListInstalled},
	},
	{
		ID: "parallels", DisplayName: "Parallels Desktop", Category: "detection-only",
		Authority: models.DetectionOnly, IsImplemented: true, DefaultEnabled: true,
		Capabilities: models.CapabilitySet{models.CapDetect, models.CapListInstalled},
	},
}

var byID = func() map[string]models.ManagerDescriptor {
	m := make(map[string]models.ManagerDescriptor, len(descriptors))
	for _, d := range descriptors {
		m[d.ID] = d
	}
	return m
}()

// Get returns the descriptor for id, or false if id is unknown.
func Get(id string) (models.ManagerDescriptor, bool) {
	d, ok := byID[id]
	return d, ok
}

// MustGet panics on an unknown id; only for call sites that have already
// validated id against the registry (e.g. iterating All()).
func MustGet(id string) models.ManagerDescriptor {
	d, ok := byID[id]
	if !ok {
		panic(fmt.Sprintf("registry: unknown manager id %q", id))
	}
	return d
}

// All returns every descriptor, sorted by (authority rank, id) — the same
// order the Refresh Orchestrator phases through.
func All() []models.ManagerDescriptor {
	out := make([]models.ManagerDescriptor, len(descriptors))
	copy(out, descriptors)
	sort.Slice(out, func(i, j int) bool {
		ri, rj := models.AuthorityRank(out[i].Authority), models.AuthorityRank(out[j].Authority)
		if ri != rj {
			return ri < rj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ByAuthority returns descriptors declared at tier a, in id order.
func ByAuthority(a models.Authority) []models.ManagerDescriptor {
	var out []models.ManagerDescriptor
	for _, d := range descriptors {
		if d.Authority == a {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
