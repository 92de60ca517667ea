package models

// KegPolicyMode is a per-package override for Homebrew's keg-cleanup
// behavior. Global means "fall back to the homebrew_keg_auto_cleanup flag".
type KegPolicyMode int

const (
	KegPolicyGlobal  KegPolicyMode = -1
	KegPolicyKeep    KegPolicyMode = 0
	KegPolicyCleanup KegPolicyMode = 1
)

// PolicyState is the process-wide policy flags enforced by the Upgrade
// Planner and the execution layer.
type PolicyState struct {
	SafeMode                bool
	HomebrewKegAutoCleanup  bool
	PackageKegPolicies      map[PackageRef]KegPolicyMode
	ManagerEnabled          map[string]bool
	ManagerPriorityOverride map[string]int
}

// UpgradePlanStep is derived, never persisted.
type UpgradePlanStep struct {
	StepID          string // deterministic, round-trippable via label arg "plan_step_id"
	OrderIndex      int
	ManagerID       string
	Authority       Authority
	PackageName     string
	ReasonLabelKey  string
	ReasonLabelArgs map[string]string
	InitialStatus   TaskStatus
}
