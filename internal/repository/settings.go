package repository

import (
	"context"
	"strconv"

	"github.com/jasoncavinder/helm/internal/models"
)

const (
	settingSafeMode       = "safe_mode"
	settingKegAutoCleanup = "homebrew_keg_auto_cleanup"
)

func (s *Store) getBoolSetting(ctx context.Context, key string, def bool) (bool, error) {
	var v string
	err := s.db.GetContext(ctx, &v, `SELECT value FROM app_settings WHERE key = ?`, key)
	if err != nil {
		if isNoRows(err) {
			return def, nil
		}
		return def, err
	}
	return strconv.ParseBool(v)
}

func (s *Store) setBoolSetting(ctx context.Context, key string, value bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, strconv.FormatBool(value))
	return err
}

func (s *Store) GetSafeMode(ctx context.Context) (bool, error) {
	return s.getBoolSetting(ctx, settingSafeMode, false)
}

func (s *Store) SetSafeMode(ctx context.Context, on bool) error {
	return s.setBoolSetting(ctx, settingSafeMode, on)
}

func (s *Store) GetHomebrewKegAutoCleanup(ctx context.Context) (bool, error) {
	return s.getBoolSetting(ctx, settingKegAutoCleanup, false)
}

func (s *Store) SetHomebrewKegAutoCleanup(ctx context.Context, on bool) error {
	return s.setBoolSetting(ctx, settingKegAutoCleanup, on)
}

func (s *Store) SetPackageKegPolicy(ctx context.Context, ref models.PackageRef, mode models.KegPolicyMode) error {
	if mode == models.KegPolicyGlobal {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM package_keg_policies WHERE manager_id = ? AND package_name = ?`, ref.ManagerID, ref.Name)
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO package_keg_policies (manager_id, package_name, mode) VALUES (?, ?, ?)
		ON CONFLICT (manager_id, package_name) DO UPDATE SET mode = excluded.mode
	`, ref.ManagerID, ref.Name, int(mode))
	return err
}

func (s *Store) ListPackageKegPolicies(ctx context.Context) (map[models.PackageRef]models.KegPolicyMode, error) {
	type row struct {
		ManagerID   string `db:"manager_id"`
		PackageName string `db:"package_name"`
		Mode        int    `db:"mode"`
	}
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM package_keg_policies`); err != nil {
		return nil, err
	}
	out := make(map[models.PackageRef]models.KegPolicyMode, len(rows))
	for _, r := range rows {
		out[models.PackageRef{ManagerID: r.ManagerID, Name: r.PackageName}] = models.KegPolicyMode(r.Mode)
	}
	return out, nil
}

// LoadPolicyState assembles the full PolicyState the Upgrade Planner reads
//. ManagerEnabled comes from manager_status and priority overrides are
// left empty for policy.Store to fill in, not from this table; safe_mode, keg
// auto-cleanup, and per-package keg overrides live here.
func (s *Store) LoadPolicyState(ctx context.Context) (models.PolicyState, error) {
	safeMode, err := s.GetSafeMode(ctx)
	if err != nil {
		return models.PolicyState{}, err
	}
	kegCleanup, err := s.GetHomebrewKegAutoCleanup(ctx)
	if err != nil {
		return models.PolicyState{}, err
	}
	kegPolicies, err := s.ListPackageKegPolicies(ctx)
	if err != nil {
		return models.PolicyState{}, err
	}
	statuses, err := s.ListManagerStatus(ctx)
	if err != nil {
		return models.PolicyState{}, err
	}
	enabled := make(map[string]bool, len(statuses))
	for _, st := range statuses {
		enabled[st.ManagerID] = st.Enabled
	}
	return models.PolicyState{
		SafeMode:                safeMode,
		HomebrewKegAutoCleanup:  kegCleanup,
		PackageKegPolicies:      kegPolicies,
		ManagerEnabled:          enabled,
		ManagerPriorityOverride: map[string]int{},
	}, nil
}
