// Package rbac implements the role hierarchy, the (resource, action)
// permission matrix, and the composite launch guardrail check (C6).
// Gates an operation behind a small table of named limits rather than
// scattering checks inline — here the table is the permission matrix.
package rbac

import (
	"github.com/abtestlab/controlplane/internal/domain"
)

var roleIndex = map[domain.MembershipRole]int{
	domain.RoleViewer:   0,
	domain.RoleReviewer: 1,
	domain.RoleOperator: 2,
	domain.RoleOwner:    3,
}

// RequireRole reports whether have meets or exceeds min in the role
// hierarchy (owner > operator > reviewer > viewer).
func RequireRole(have, min domain.MembershipRole) bool {
	return roleIndex[have] >= roleIndex[min]
}

// Resource names a protected resource kind.
type Resource string

const (
	ResourceProject            Resource = "project"
	ResourceRun                Resource = "run"
	ResourceDecision           Resource = "decision"
	ResourceIncident           Resource = "incident"
	ResourceFlagSensitive      Resource = "feature_flag.sensitive"
	ResourceFlagOther          Resource = "feature_flag"
	ResourceAudit              Resource = "audit"
)

// Action names an operation against a resource.
type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionLaunch Action = "launch"
)

type matrixKey struct {
	Resource Resource
	Action   Action
}

// matrix is the abridged-but-exhaustive permission table from §4.5. A
// missing entry means the action is not permitted for any role.
var matrix = map[matrixKey]domain.MembershipRole{
	{ResourceProject, ActionRead}:   domain.RoleViewer,
	{ResourceProject, ActionCreate}: domain.RoleOperator,
	{ResourceProject, ActionUpdate}: domain.RoleOperator,

	{ResourceRun, ActionRead}:   domain.RoleViewer,
	{ResourceRun, ActionCreate}: domain.RoleOperator,
	{ResourceRun, ActionUpdate}: domain.RoleOperator,
	{ResourceRun, ActionLaunch}: domain.RoleOperator,

	{ResourceDecision, ActionRead}:   domain.RoleViewer,
	{ResourceDecision, ActionCreate}: domain.RoleOperator,
	{ResourceDecision, ActionUpdate}: domain.RoleOperator,

	{ResourceIncident, ActionRead}:   domain.RoleViewer,
	{ResourceIncident, ActionCreate}: domain.RoleOperator,
	{ResourceIncident, ActionUpdate}: domain.RoleOperator,

	{ResourceFlagSensitive, ActionUpdate}: domain.RoleOwner,

	{ResourceFlagOther, ActionRead}:   domain.RoleViewer,
	{ResourceFlagOther, ActionUpdate}: domain.RoleOperator,

	{ResourceAudit, ActionRead}: domain.RoleOwner,
}

// SensitiveFlagKeys lists tenant flag keys that require owner to update,
// per the feature_flag.db_backend/meta_api_enabled row of the matrix.
var SensitiveFlagKeys = map[string]bool{
	domain.FlagDBBackend:      true,
	domain.FlagMetaAPIEnabled: true,
}

// Can reports whether role may perform action on resource.
func Can(role domain.MembershipRole, resource Resource, action Action) bool {
	min, ok := matrix[matrixKey{resource, action}]
	if !ok {
		return false
	}
	return RequireRole(role, min)
}

// CanUpdateFlag resolves the resource for a specific tenant-flag key (some
// keys are sensitive and require owner) and checks it.
func CanUpdateFlag(role domain.MembershipRole, key string) bool {
	if SensitiveFlagKeys[key] {
		return Can(role, ResourceFlagSensitive, ActionUpdate)
	}
	return Can(role, ResourceFlagOther, ActionUpdate)
}

// GuardrailCheck is one named launch precondition and whether it passed.
type GuardrailCheck struct {
	Name     string
	Passed   bool
	Severity string // "error" or "warning"
	Detail   string
}

// LaunchGuardrailInput is everything the composite launch check needs.
type LaunchGuardrailInput struct {
	Run           *domain.Run
	StopRuleCount int
	Approved      bool
}

// CheckLaunchGuardrails runs the composite check of §4.5: budget cap set
// and positive, stop rules non-empty (error severity for auto/hybrid,
// warning for manual), approval status approved, and a recognised
// operation mode. It returns every check (passed or not) so callers can
// render a full checklist, plus whether any error-severity check failed.
func CheckLaunchGuardrails(in LaunchGuardrailInput) (checks []GuardrailCheck, blocked bool) {
	run := in.Run

	checks = append(checks, GuardrailCheck{
		Name:     "budget_cap",
		Passed:   run.BudgetCap > 0,
		Severity: "error",
		Detail:   "budget cap must be set and positive",
	})

	stopRuleSeverity := "error"
	if run.Mode == domain.ModeManual {
		stopRuleSeverity = "warning"
	}
	checks = append(checks, GuardrailCheck{
		Name:     "stop_rules",
		Passed:   in.StopRuleCount > 0,
		Severity: stopRuleSeverity,
		Detail:   "stop-rules DSL must parse and be non-empty",
	})

	checks = append(checks, GuardrailCheck{
		Name:     "approval_status",
		Passed:   in.Approved,
		Severity: "error",
		Detail:   "run must be approved",
	})

	validMode := run.Mode == domain.ModeManual || run.Mode == domain.ModeHybrid || run.Mode == domain.ModeAuto
	checks = append(checks, GuardrailCheck{
		Name:     "operation_mode",
		Passed:   validMode,
		Severity: "error",
		Detail:   "operation mode must be one of manual, hybrid, auto",
	})

	for _, c := range checks {
		if !c.Passed && c.Severity == "error" {
			blocked = true
		}
	}
	return checks, blocked
}

// FailedCheckNames extracts the names of failing checks, for embedding in
// a guardrail_check_failed error's details.
func FailedCheckNames(checks []GuardrailCheck) []string {
	var names []string
	for _, c := range checks {
		if !c.Passed {
			names = append(names, c.Name)
		}
	}
	return names
}
