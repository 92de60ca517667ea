// Package policy is a thin typed facade over the persisted settings that
// gate the Upgrade Planner and direct mutation calls: safe mode, the
// Homebrew keg auto-cleanup flag, per-package keg overrides, and
// manager-enabled/priority overrides.
//
// Manager priority override has no backing column (the registry's fixed
// authority tiers already provide the required ordering); it is
// kept in-memory here for the current process lifetime and reported in
// State's ManagerPriorityOverride. planner.BuildPlan does not read it, so
// it does not change the order of plan steps.
package policy

import (
	"context"
	"sync"

	"github.com/jasoncavinder/helm/internal/models"
	"github.com/jasoncavinder/helm/internal/repository"
)

type Store struct {
	repo *repository.Store

	mu       sync.RWMutex
	priority map[string]int
}

func New(repo *repository.Store) *Store {
	return &Store{repo: repo, priority: make(map[string]int)}
}

func (s *Store) State(ctx context.Context) (models.PolicyState, error) {
	state, err := s.repo.LoadPolicyState(ctx)
	if err != nil {
		return models.PolicyState{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	state.ManagerPriorityOverride = make(map[string]int, len(s.priority))
	for k, v := range s.priority {
		state.ManagerPriorityOverride[k] = v
	}
	return state, nil
}

func (s *Store) GetSafeMode(ctx context.Context) (bool, error) {
	return s.repo.GetSafeMode(ctx)
}

func (s *Store) SetSafeMode(ctx context.Context, on bool) error {
	return s.repo.SetSafeMode(ctx, on)
}

func (s *Store) GetHomebrewKegAutoCleanup(ctx context.Context) (bool, error) {
	return s.repo.GetHomebrewKegAutoCleanup(ctx)
}

func (s *Store) SetHomebrewKegAutoCleanup(ctx context.Context, on bool) error {
	return s.repo.SetHomebrewKegAutoCleanup(ctx, on)
}

func (s *Store) ListPackageKegPolicies(ctx context.Context) (map[models.PackageRef]models.KegPolicyMode, error) {
	return s.repo.ListPackageKegPolicies(ctx)
}

func (s *Store) SetPackageKegPolicy(ctx context.Context, ref models.PackageRef, mode models.KegPolicyMode) error {
	return s.repo.SetPackageKegPolicy(ctx, ref, mode)
}

func (s *Store) SetManagerEnabled(ctx context.Context, managerID string, enabled bool) error {
	return s.repo.SetManagerEnabled(ctx, managerID, enabled)
}

func (s *Store) SetManagerPriority(managerID string, priority int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.priority[managerID] = priority
}

func (s *Store) ManagerPriority(managerID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.priority[managerID]
}
