package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jasoncavinder/helm/internal/models"
)

type managerStatusRow struct {
	ManagerID       string    `db:"manager_id"`
	Detected        bool      `db:"detected"`
	Version         *string   `db:"version"`
	ExecutablePath  *string   `db:"executable_path"`
	Enabled         bool      `db:"enabled"`
	IsImplemented   bool      `db:"is_implemented"`
	CapabilityFlags string    `db:"capability_flags"`
	LastSeenAt      time.Time `db:"last_seen_at"`
}

func (r managerStatusRow) toModel() models.ManagerStatus {
	// A corrupt capability_flags blob degrades to an empty set; the next
	// detection sweep rewrites it.
	var caps models.CapabilitySet
	_ = json.Unmarshal([]byte(r.CapabilityFlags), &caps)
	return models.ManagerStatus{
		ManagerID:       r.ManagerID,
		Detected:        r.Detected,
		Version:         r.Version,
		ExecutablePath:  r.ExecutablePath,
		Enabled:         r.Enabled,
		IsImplemented:   r.IsImplemented,
		CapabilityFlags: caps,
		LastSeenAt:      r.LastSeenAt,
	}
}

// UpsertManagerStatus replaces the row for a manager. Called after every
// detection task completes; manager_status is the only table a detection
// task writes to directly.
func (s *Store) UpsertManagerStatus(ctx context.Context, st models.ManagerStatus) error {
	caps, err := json.Marshal(st.CapabilityFlags)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO manager_status (manager_id, detected, version, executable_path, enabled, is_implemented, capability_flags, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (manager_id) DO UPDATE SET
			detected = excluded.detected,
			version = excluded.version,
			executable_path = excluded.executable_path,
			enabled = excluded.enabled,
			is_implemented = excluded.is_implemented,
			capability_flags = excluded.capability_flags,
			last_seen_at = excluded.last_seen_at
	`, st.ManagerID, st.Detected, normalizeVersionParam(st.Version), st.ExecutablePath, st.Enabled, st.IsImplemented, string(caps), time.Now().UTC())
	return err
}

// SetManagerEnabled updates only the enabled flag, used by the manager
// enable/disable user toggle.
func (s *Store) SetManagerEnabled(ctx context.Context, managerID string, enabled bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE manager_status SET enabled = ? WHERE manager_id = ?`,
		enabled, managerID)
	return err
}

func (s *Store) GetManagerStatus(ctx context.Context, managerID string) (models.ManagerStatus, bool, error) {
	var row managerStatusRow
	err := s.db.GetContext(ctx, &row,
		`SELECT manager_id, detected, version, executable_path, enabled, is_implemented, capability_flags, last_seen_at
		 FROM manager_status WHERE manager_id = ?`, managerID)
	if err != nil {
		if isNoRows(err) {
			return models.ManagerStatus{}, false, nil
		}
		return models.ManagerStatus{}, false, err
	}
	return row.toModel(), true, nil
}

func (s *Store) ListManagerStatus(ctx context.Context) ([]models.ManagerStatus, error) {
	var rows []managerStatusRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT manager_id, detected, version, executable_path, enabled, is_implemented, capability_flags, last_seen_at
		 FROM manager_status ORDER BY manager_id`); err != nil {
		return nil, err
	}
	out := make([]models.ManagerStatus, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

// normalizeVersionParam enforces the empty-string-is-null write invariant
// for manager versions.
func normalizeVersionParam(v *string) *string {
	if v == nil || *v == "" {
		return nil
	}
	return v
}
