package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/jasoncavinder/helm/internal/models"
)

type installedPackageRow struct {
	ManagerID        string  `db:"manager_id"`
	Name             string  `db:"name"`
	InstalledVersion *string `db:"installed_version"`
	Pinned           bool    `db:"pinned"`
}

func (r installedPackageRow) toModel() models.InstalledPackage {
	return models.InstalledPackage{
		Ref:              models.PackageRef{ManagerID: r.ManagerID, Name: r.Name},
		InstalledVersion: r.InstalledVersion,
		Pinned:           r.Pinned,
	}
}

// ReplaceInstalledPackages atomically replaces every installed_packages row
// for managerID — a successful list_installed task is authoritative for
// its manager's full package set.
func (s *Store) ReplaceInstalledPackages(ctx context.Context, managerID string, pkgs []models.InstalledPackage) error {
	return s.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM installed_packages WHERE manager_id = ?`, managerID); err != nil {
			return err
		}
		for _, p := range pkgs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO installed_packages (manager_id, name, installed_version, pinned, updated_at)
				VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
			`, p.Ref.ManagerID, p.Ref.Name, p.InstalledVersion, p.Pinned); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ListInstalledPackages(ctx context.Context, managerID string) ([]models.InstalledPackage, error) {
	const cols = `manager_id, name, installed_version, pinned`
	var rows []installedPackageRow
	var err error
	if managerID == "" {
		err = s.db.SelectContext(ctx, &rows, `SELECT `+cols+` FROM installed_packages ORDER BY manager_id, name`)
	} else {
		err = s.db.SelectContext(ctx, &rows, `SELECT `+cols+` FROM installed_packages WHERE manager_id = ? ORDER BY name`, managerID)
	}
	if err != nil {
		return nil, err
	}
	out := make([]models.InstalledPackage, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

type outdatedPackageRow struct {
	ManagerID        string  `db:"manager_id"`
	Name             string  `db:"name"`
	InstalledVersion *string `db:"installed_version"`
	CandidateVersion string  `db:"candidate_version"`
	Pinned           bool    `db:"pinned"`
	RestartRequired  bool    `db:"restart_required"`
}

func (r outdatedPackageRow) toModel() models.OutdatedPackage {
	return models.OutdatedPackage{
		Ref:              models.PackageRef{ManagerID: r.ManagerID, Name: r.Name},
		InstalledVersion: r.InstalledVersion,
		CandidateVersion: r.CandidateVersion,
		Pinned:           r.Pinned,
		RestartRequired:  r.RestartRequired,
	}
}

// ReplaceOutdatedPackages atomically replaces every outdated_packages row
// for managerID. The Task Coordinator calls this after a successful
// list_outdated task, then calls DeleteOutdatedPackage after a verified
// upgrade removes a single entry without a full re-list.
func (s *Store) ReplaceOutdatedPackages(ctx context.Context, managerID string, pkgs []models.OutdatedPackage) error {
	return s.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM outdated_packages WHERE manager_id = ?`, managerID); err != nil {
			return err
		}
		for _, p := range pkgs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO outdated_packages (manager_id, name, installed_version, candidate_version, pinned, restart_required, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			`, p.Ref.ManagerID, p.Ref.Name, p.InstalledVersion, p.CandidateVersion, p.Pinned, p.RestartRequired); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) DeleteOutdatedPackage(ctx context.Context, ref models.PackageRef) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM outdated_packages WHERE manager_id = ? AND name = ?`, ref.ManagerID, ref.Name)
	return err
}

// ListOutdatedPackages returns outdated rows with Helm's pin records
// merged over the adapter-reported pinned flag: a package is pinned if the
// manager itself reported it pinned (e.g. brew's JSON) or if a PinRecord
// — native or virtual — exists for it. Most adapters cannot report pin
// state at all, so the pin store, not the adapter, is the source of truth
// the Upgrade Planner and the boundary read.
func (s *Store) ListOutdatedPackages(ctx context.Context, managerID string) ([]models.OutdatedPackage, error) {
	const cols = `o.manager_id, o.name, o.installed_version, o.candidate_version,
		CASE WHEN p.manager_id IS NOT NULL THEN 1 ELSE o.pinned END AS pinned,
		o.restart_required`
	const join = ` FROM outdated_packages o
		LEFT JOIN pin_records p ON p.manager_id = o.manager_id AND p.package_name = o.name`
	var rows []outdatedPackageRow
	var err error
	if managerID == "" {
		err = s.db.SelectContext(ctx, &rows, `SELECT `+cols+join+` ORDER BY o.manager_id, o.name`)
	} else {
		err = s.db.SelectContext(ctx, &rows, `SELECT `+cols+join+` WHERE o.manager_id = ? ORDER BY o.name`, managerID)
	}
	if err != nil {
		return nil, err
	}
	out := make([]models.OutdatedPackage, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}
