package rbac

import (
	"testing"

	"github.com/abtestlab/controlplane/internal/domain"
)

func TestRequireRoleHierarchy(t *testing.T) {
	if !RequireRole(domain.RoleOwner, domain.RoleOperator) {
		t.Fatal("owner should satisfy operator requirement")
	}
	if RequireRole(domain.RoleViewer, domain.RoleOperator) {
		t.Fatal("viewer should not satisfy operator requirement")
	}
}

func TestCanMatrix(t *testing.T) {
	if !Can(domain.RoleViewer, ResourceRun, ActionRead) {
		t.Fatal("viewer should be able to read runs")
	}
	if Can(domain.RoleViewer, ResourceRun, ActionCreate) {
		t.Fatal("viewer should not be able to create runs")
	}
	if !Can(domain.RoleOperator, ResourceRun, ActionLaunch) {
		t.Fatal("operator should be able to launch runs")
	}
	if Can(domain.RoleOperator, ResourceAudit, ActionRead) {
		t.Fatal("operator should not be able to read audit log")
	}
	if !Can(domain.RoleOwner, ResourceAudit, ActionRead) {
		t.Fatal("owner should be able to read audit log")
	}
}

func TestCanUpdateFlagRequiresOwnerForSensitiveKeys(t *testing.T) {
	if Can(domain.RoleOperator, ResourceFlagSensitive, ActionUpdate) {
		t.Fatal("operator must not update sensitive flags directly")
	}
	if !CanUpdateFlag(domain.RoleOwner, domain.FlagDBBackend) {
		t.Fatal("owner should update db_backend")
	}
	if CanUpdateFlag(domain.RoleOperator, domain.FlagDBBackend) {
		t.Fatal("operator should not update db_backend")
	}
	if !CanUpdateFlag(domain.RoleOperator, domain.FlagFeatureQA) {
		t.Fatal("operator should update non-sensitive flags")
	}
}

func TestCheckLaunchGuardrailsBlocksOnMissingBudget(t *testing.T) {
	run := &domain.Run{Mode: domain.ModeAuto}
	checks, blocked := CheckLaunchGuardrails(LaunchGuardrailInput{Run: run, StopRuleCount: 1, Approved: true})
	if !blocked {
		t.Fatal("expected blocked with missing budget")
	}
	names := FailedCheckNames(checks)
	if len(names) != 1 || names[0] != "budget_cap" {
		t.Fatalf("expected only budget_cap to fail, got %+v", names)
	}
}

func TestCheckLaunchGuardrailsManualStopRulesIsWarningOnly(t *testing.T) {
	run := &domain.Run{Mode: domain.ModeManual, BudgetCap: 100}
	_, blocked := CheckLaunchGuardrails(LaunchGuardrailInput{Run: run, StopRuleCount: 0, Approved: true})
	if blocked {
		t.Fatal("manual mode missing stop rules should only warn, not block")
	}
}

func TestCheckLaunchGuardrailsAutoStopRulesBlocks(t *testing.T) {
	run := &domain.Run{Mode: domain.ModeAuto, BudgetCap: 100}
	_, blocked := CheckLaunchGuardrails(LaunchGuardrailInput{Run: run, StopRuleCount: 0, Approved: true})
	if !blocked {
		t.Fatal("auto mode missing stop rules should block")
	}
}
