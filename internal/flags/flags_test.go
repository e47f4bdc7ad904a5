package flags

import (
	"testing"

	"github.com/abtestlab/controlplane/internal/domain"
)

func TestCanSetRunLevelOverride(t *testing.T) {
	if !CanSetRunLevelOverride(domain.RunDraft) {
		t.Fatal("Draft should allow override")
	}
	if CanSetRunLevelOverride(domain.RunRunning) {
		t.Fatal("Running should not allow override")
	}
}

func TestCanSwitchTenantWide(t *testing.T) {
	if !CanSwitchTenantWide([]domain.RunStatus{domain.RunDraft, domain.RunCompleted}) {
		t.Fatal("expected tenant-wide switch allowed with no active runs")
	}
	if CanSwitchTenantWide([]domain.RunStatus{domain.RunRunning}) {
		t.Fatal("expected tenant-wide switch forbidden with a running run")
	}
}
