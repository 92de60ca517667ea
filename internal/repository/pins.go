package repository

import (
	"context"

	"github.com/jasoncavinder/helm/internal/models"
)

type pinRecordRow struct {
	ManagerID   string  `db:"manager_id"`
	PackageName string  `db:"package_name"`
	Version     *string `db:"version"`
	Source      string  `db:"source"`
}

func (r pinRecordRow) toModel() models.PinRecord {
	return models.PinRecord{
		ManagerID:   r.ManagerID,
		PackageName: r.PackageName,
		Version:     r.Version,
		Source:      models.PinSource(r.Source),
	}
}

func (s *Store) UpsertPin(ctx context.Context, p models.PinRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pin_records (manager_id, package_name, version, source, pinned_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (manager_id, package_name) DO UPDATE SET
			version = excluded.version,
			source = excluded.source,
			pinned_at = CURRENT_TIMESTAMP
	`, p.ManagerID, p.PackageName, p.Version, string(p.Source))
	return err
}

func (s *Store) DeletePin(ctx context.Context, ref models.PackageRef) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM pin_records WHERE manager_id = ? AND package_name = ?`, ref.ManagerID, ref.Name)
	return err
}

func (s *Store) GetPin(ctx context.Context, ref models.PackageRef) (models.PinRecord, bool, error) {
	var row pinRecordRow
	err := s.db.GetContext(ctx, &row,
		`SELECT manager_id, package_name, version, source FROM pin_records WHERE manager_id = ? AND package_name = ?`,
		ref.ManagerID, ref.Name)
	if err != nil {
		if isNoRows(err) {
			return models.PinRecord{}, false, nil
		}
		return models.PinRecord{}, false, err
	}
	return row.toModel(), true, nil
}

func (s *Store) ListPins(ctx context.Context, managerID string) ([]models.PinRecord, error) {
	const cols = `manager_id, package_name, version, source`
	var rows []pinRecordRow
	var err error
	if managerID == "" {
		err = s.db.SelectContext(ctx, &rows, `SELECT `+cols+` FROM pin_records ORDER BY manager_id, package_name`)
	} else {
		err = s.db.SelectContext(ctx, &rows, `SELECT `+cols+` FROM pin_records WHERE manager_id = ? ORDER BY package_name`, managerID)
	}
	if err != nil {
		return nil, err
	}
	out := make([]models.PinRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}
