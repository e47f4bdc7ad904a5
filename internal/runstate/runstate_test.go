package runstate

import (
	"testing"
	"time"

	"github.com/abtestlab/controlplane/internal/domain"
)

func TestArchivedHasNoSuccessors(t *testing.T) {
	if len(ValidNextStatuses(domain.RunArchived)) != 0 {
		t.Fatal("Archived must have no successors")
	}
}

func TestIsValidTransitionMatchesValidNextStatuses(t *testing.T) {
	for from, tos := range transitions {
		for _, to := range tos {
			if !IsValidTransition(from, to) {
				t.Fatalf("%s -> %s should be valid", from, to)
			}
		}
	}
	if IsValidTransition(domain.RunDraft, domain.RunLive) {
		t.Fatal("Draft -> Live should be invalid")
	}
}

// Happy-path run through the state machine, draft to approved to publishing.
func TestHappyPathScenario(t *testing.T) {
	run := &domain.Run{Status: domain.RunDraft, Mode: domain.ModeManual}

	for _, to := range []domain.RunStatus{domain.RunDesigning, domain.RunGenerating, domain.RunReadyForReview} {
		ok, errs := ValidateTransition(TransitionInput{Run: run, StopRuleCount: 1}, to)
		if !ok {
			t.Fatalf("transition to %s failed: %+v", to, errs)
		}
		run.Status = to
	}

	ok, errs := ValidateTransition(TransitionInput{Run: run, StopRuleCount: 1}, domain.RunApproved)
	if ok || errs[0].Code != "NOT_APPROVED" {
		t.Fatalf("expected NOT_APPROVED, got ok=%v errs=%+v", ok, errs)
	}

	now := time.Now()
	run.ApprovedAt = &now
	ok, errs = ValidateTransition(TransitionInput{Run: run, StopRuleCount: 1}, domain.RunApproved)
	if !ok {
		t.Fatalf("transition to Approved should succeed once approved: %+v", errs)
	}
	run.Status = domain.RunApproved

	// Publishing with no budget set fails BUDGET_NOT_SET.
	ok, errs = ValidateTransition(TransitionInput{Run: run, StopRuleCount: 1}, domain.RunPublishing)
	if ok {
		t.Fatalf("expected BUDGET_NOT_SET with budgetCap unset, got ok with errs %+v", errs)
	}
	found := false
	for _, e := range errs {
		if e.Code == "BUDGET_NOT_SET" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected BUDGET_NOT_SET, got %+v", errs)
	}

	run.Design.DailyBudget = 10000
	ok, errs = ValidateTransition(TransitionInput{Run: run, StopRuleCount: 1}, domain.RunPublishing)
	if !ok {
		t.Fatalf("transition to Publishing should succeed once budget and stop rules are set: %+v", errs)
	}
}

func TestRunningRequiresBudgetAndStopRules(t *testing.T) {
	run := &domain.Run{Status: domain.RunLive, Mode: domain.ModeAuto}
	ok, errs := ValidateTransition(TransitionInput{Run: run, StopRuleCount: 0}, domain.RunRunning)
	if ok {
		t.Fatal("expected failure with no stop rules and no budget")
	}
	codes := map[string]bool{}
	for _, e := range errs {
		codes[e.Code] = true
	}
	if !codes["STOP_RULES_NOT_SET"] || !codes["BUDGET_NOT_SET"] {
		t.Fatalf("expected STOP_RULES_NOT_SET and BUDGET_NOT_SET, got %+v", errs)
	}
}

func TestManualModeChecklistGate(t *testing.T) {
	run := &domain.Run{
		Status: domain.RunLive,
		Mode:   domain.ModeManual,
		Design: domain.RunDesign{DailyBudget: 100},
	}
	ok, errs := ValidateTransition(TransitionInput{Run: run, StopRuleCount: 1, ChecklistItems: map[domain.ChecklistItemKey]domain.ChecklistItemStatus{}}, domain.RunRunning)
	if ok {
		t.Fatal("expected CHECKLIST_INCOMPLETE")
	}
	if errs[0].Code != "CHECKLIST_INCOMPLETE" {
		t.Fatalf("expected CHECKLIST_INCOMPLETE, got %+v", errs)
	}

	complete := map[domain.ChecklistItemKey]domain.ChecklistItemStatus{}
	for _, k := range domain.ManualChecklistTemplate {
		complete[k] = domain.ChecklistCompleted
	}
	ok, errs = ValidateTransition(TransitionInput{Run: run, StopRuleCount: 1, ChecklistItems: complete}, domain.RunRunning)
	if !ok {
		t.Fatalf("expected success with complete checklist: %+v", errs)
	}
}

func TestIsActiveAndTerminal(t *testing.T) {
	if !IsActive(domain.RunLive) || !IsActive(domain.RunRunning) {
		t.Fatal("Live and Running should be active")
	}
	if IsActive(domain.RunPaused) {
		t.Fatal("Paused should not be active")
	}
	if !IsTerminal(domain.RunCompleted) || !IsTerminal(domain.RunArchived) {
		t.Fatal("Completed and Archived should be terminal")
	}
}
