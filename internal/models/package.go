package models

import "time"

// PackageRef identifies a package uniquely by (manager_id, name). The
// stringified external id is "manager_id:name" (ExternalID).
type PackageRef struct {
	ManagerID string
	Name      string
}

func (r PackageRef) ExternalID() string {
	return r.ManagerID + ":" + r.Name
}

// InstalledPackage is replaced atomically by a successful list_installed
// task for its manager.
type InstalledPackage struct {
	Ref              PackageRef
	InstalledVersion *string
	Pinned           bool
}

// OutdatedPackage is replaced atomically by a successful list_outdated task
// for its manager. A successful Upgrade task must verify the target no
// longer appears here, or the task fails.
type OutdatedPackage struct {
	Ref              PackageRef
	InstalledVersion *string
	CandidateVersion string
	Pinned           bool
	RestartRequired  bool
}

// PinSource distinguishes a pin enforced by the manager itself from one
// enforced only by Helm's stored PinRecord.
type PinSource string

const (
	PinNative  PinSource = "NATIVE"
	PinVirtual PinSource = "VIRTUAL"
)

// PinRecord is durable pin state keyed by (manager_id, package_name).
type PinRecord struct {
	ManagerID   string
	PackageName string
	Version     *string
	Source      PinSource
	PinnedAt    time.Time
}

// SearchCacheEntry is set-like on (source_manager, name); summary may be
// merged from a later, richer result.
type SearchCacheEntry struct {
	ManagerID    string
	Name         string
	Version      *string
	Summary      string
	SourceManager string
	OriginQuery  string
	InsertedAt   time.Time
}
