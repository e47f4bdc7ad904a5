// Package runstate implements the run lifecycle state machine (C5):
// eleven states, a guarded transition table, and mode-aware preflight
// checks. Like stoprules, the machine is pure — validateTransition takes
// everything it needs as arguments and returns a result, never touching a
// store — separating "is this transition legal" (a pure predicate over
// in-memory state) from the CAS write that commits it.
package runstate

import (
	"time"

	"github.com/abtestlab/controlplane/internal/domain"
)

var transitions = map[domain.RunStatus][]domain.RunStatus{
	domain.RunDraft:          {domain.RunDesigning, domain.RunArchived},
	domain.RunDesigning:      {domain.RunDraft, domain.RunGenerating, domain.RunArchived},
	domain.RunGenerating:     {domain.RunDesigning, domain.RunReadyForReview, domain.RunArchived},
	domain.RunReadyForReview: {domain.RunGenerating, domain.RunApproved, domain.RunArchived},
	domain.RunApproved:       {domain.RunReadyForReview, domain.RunPublishing, domain.RunArchived},
	domain.RunPublishing:     {domain.RunApproved, domain.RunLive, domain.RunArchived},
	domain.RunLive:           {domain.RunPublishing, domain.RunRunning, domain.RunPaused, domain.RunArchived},
	domain.RunRunning:        {domain.RunPaused, domain.RunCompleted, domain.RunArchived},
	domain.RunPaused:         {domain.RunRunning, domain.RunCompleted, domain.RunArchived},
	domain.RunCompleted:      {domain.RunArchived},
	domain.RunArchived:       {},
}

// ValidNextStatuses returns the edges allowed out of from.
func ValidNextStatuses(from domain.RunStatus) []domain.RunStatus {
	out := transitions[from]
	cp := make([]domain.RunStatus, len(out))
	copy(cp, out)
	return cp
}

// IsValidTransition reports whether from -> to is an edge in the table.
func IsValidTransition(from, to domain.RunStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsActive reports whether a run in status s is actively delivering.
func IsActive(s domain.RunStatus) bool {
	return s == domain.RunLive || s == domain.RunRunning
}

// IsTerminal reports whether status s has no outgoing edges but Archived.
func IsTerminal(s domain.RunStatus) bool {
	return s == domain.RunCompleted || s == domain.RunArchived
}

// IsEditable reports whether a run's variants/design may still be changed.
func IsEditable(s domain.RunStatus) bool {
	switch s {
	case domain.RunDraft, domain.RunDesigning, domain.RunGenerating, domain.RunReadyForReview:
		return true
	default:
		return false
	}
}

// PreflightError names one failed precondition for a transition.
type PreflightError struct {
	Code    string
	Message string
}

// StopRuleCount and HasBudget let callers pass in already-parsed data
// without this package depending on the stoprules/domain JSON shape
// directly, keeping the state machine's only dependency the domain types
// it transitions.
type TransitionInput struct {
	Run             *domain.Run
	StopRuleCount   int
	ChecklistItems  map[domain.ChecklistItemKey]domain.ChecklistItemStatus
}

// ValidateTransition checks the transition table and the preflight
// conditions of §4.2, returning every failed check (not just the first)
// so a caller can report them all at once.
func ValidateTransition(in TransitionInput, to domain.RunStatus) (bool, []PreflightError) {
	run := in.Run
	var errs []PreflightError

	if !IsValidTransition(run.Status, to) {
		errs = append(errs, PreflightError{
			Code:    "INVALID_TRANSITION",
			Message: "no such transition from " + string(run.Status) + " to " + string(to),
		})
		return false, errs
	}

	if to == domain.RunApproved || to == domain.RunPublishing {
		if run.ApprovedAt == nil {
			errs = append(errs, PreflightError{Code: "NOT_APPROVED", Message: "run has not been approved"})
		}
	}

	// Operational-state preflight: stop rules and budget are checked on
	// every transition into an operational state (Publishing, Live,
	// Running), not just Running — BUDGET_NOT_SET can surface as early as
	// the Publishing transition.
	if isOperational(to) {
		if in.StopRuleCount == 0 {
			errs = append(errs, PreflightError{Code: "STOP_RULES_NOT_SET", Message: "stop-rules DSL has no rules"})
		}
		if !run.Design.HasBudget() {
			errs = append(errs, PreflightError{Code: "BUDGET_NOT_SET", Message: "run design carries no positive daily or lifetime budget"})
		}
	}

	if to == domain.RunRunning && run.Mode == domain.ModeManual {
		if !checklistComplete(in.ChecklistItems) {
			errs = append(errs, PreflightError{Code: "CHECKLIST_INCOMPLETE", Message: "manual-mode launch checklist is incomplete"})
		}
	}

	return len(errs) == 0, errs
}

func isOperational(s domain.RunStatus) bool {
	return s == domain.RunPublishing || s == domain.RunLive || s == domain.RunRunning
}

func checklistComplete(items map[domain.ChecklistItemKey]domain.ChecklistItemStatus) bool {
	for _, key := range domain.ManualChecklistTemplate {
		if items[key] != domain.ChecklistCompleted {
			return false
		}
	}
	return true
}

// StateChangeEvent is emitted on every successful transition and recorded
// in the audit chain by the caller.
type StateChangeEvent struct {
	RunID string
	From  domain.RunStatus
	To    domain.RunStatus
	Mode  domain.OperationMode
	UserID string
	Ts    time.Time
	Meta  map[string]string
}
