// Package adapter defines the capability-tagged trait every manager adapter
// implements, plus the tagged request/response types crossing the boundary
// between the Adapter Execution Runtime and a concrete manager module.
//
// An adapter never consumes or emits UI strings — labels travel as
// (key, args) pairs, never literal text.
package adapter

import (
	"context"

	"github.com/jasoncavinder/helm/internal/models"
)

// Request carries the typed inputs for one capability invocation. Only the
// fields relevant to the capability being invoked are populated; the
// runtime is responsible for knowing which.
type Request struct {
	TaskID      uint64
	PackageName string
	Version     string // optional: pin target, install version pin
	Query       string // Search
}

// ListInstalledResponse is returned by Capability List Installed.
type ListInstalledResponse struct {
	Packages     []models.InstalledPackage
	SkippedLines int
}

// ListOutdatedResponse is returned by Capability List Outdated.
type ListOutdatedResponse struct {
	Packages     []models.OutdatedPackage
	SkippedLines int
}

// SearchResponse is returned by Capability Search.
type SearchResponse struct {
	Entries      []models.SearchCacheEntry
	SkippedLines int
}

// MutationResponse is returned by Install, Uninstall, Upgrade, SelfUpdate.
type MutationResponse struct {
	Executed bool
	Verified bool // set by post-upgrade verification; always true for non-upgrade ops
}

// PinResponse is returned by Pin and Unpin.
type PinResponse struct {
	Applied bool
	Source  models.PinSource
}

// DetectResponse is returned by Capability Detect.
type DetectResponse struct {
	Detected       bool
	Version        *string
	ExecutablePath *string
}

// Manager is the capability trait every concrete adapter implements. A
// method must only be called after the caller has confirmed the manager's
// descriptor declares the matching Capability — the adapter itself does
// not re-check membership, since that is the Execution Runtime's job.
// An operation the adapter does not support is left nil; calling a nil
// field panics, so the Execution Runtime checks each field and returns
// UnsupportedCapability instead of invoking a nil one.
type Manager struct {
	// ID matches a registry.ManagerDescriptor.ID.
	ID string

	Detect         func(ctx context.Context) (DetectResponse, error)
	ListInstalled  func(ctx context.Context) (ListInstalledResponse, error)
	ListOutdated   func(ctx context.Context) (ListOutdatedResponse, error)
	Search         func(ctx context.Context, query string) (SearchResponse, error)
	Install        func(ctx context.Context, req Request) (MutationResponse, error)
	Uninstall      func(ctx context.Context, req Request) (MutationResponse, error)
	Upgrade        func(ctx context.Context, req Request) (MutationResponse, error)
	Pin            func(ctx context.Context, req Request) (PinResponse, error)
	Unpin          func(ctx context.Context, req Request) (PinResponse, error)
	SelfUpdate     func(ctx context.Context) (MutationResponse, error)
}
