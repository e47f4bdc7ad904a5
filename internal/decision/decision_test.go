package decision

import (
	"context"
	"fmt"
	"testing"

	"github.com/abtestlab/controlplane/internal/domain"
	"github.com/abtestlab/controlplane/internal/repo"
	"github.com/abtestlab/controlplane/internal/stats"
)

type fakeRunRepo struct {
	run *domain.Run
}

func (f *fakeRunRepo) Create(ctx context.Context, r *domain.Run) error { return nil }
func (f *fakeRunRepo) Get(ctx context.Context, tenantID, id string) (*domain.Run, error) {
	return f.run, nil
}
func (f *fakeRunRepo) GetByID(ctx context.Context, id string) (*domain.Run, error) {
	return f.run, nil
}
func (f *fakeRunRepo) Update(ctx context.Context, r *domain.Run) error { return nil }
func (f *fakeRunRepo) CompareAndSwapStatus(ctx context.Context, tenantID, id string, from, to domain.RunStatus) error {
	if f.run.Status != from {
		return fmt.Errorf("cas mismatch: run is %v, expected %v", f.run.Status, from)
	}
	f.run.Status = to
	return nil
}
func (f *fakeRunRepo) ListByProject(ctx context.Context, tenantID, projectID string) ([]*domain.Run, error) {
	return nil, nil
}

func (f *fakeRunRepo) ListActiveRuns(ctx context.Context) ([]*domain.Run, error) {
	return nil, nil
}

type fakeDecisionRepo struct {
	created []*domain.Decision
	final   map[string]bool
}

func newFakeDecisionRepo() *fakeDecisionRepo {
	return &fakeDecisionRepo{final: map[string]bool{}}
}

func (f *fakeDecisionRepo) Create(ctx context.Context, d *domain.Decision) error {
	f.created = append(f.created, d)
	return nil
}
func (f *fakeDecisionRepo) Get(ctx context.Context, tenantID, id string) (*domain.Decision, error) {
	for _, d := range f.created {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, nil
}
func (f *fakeDecisionRepo) GetFinalForRun(ctx context.Context, tenantID, runID string) (*domain.Decision, error) {
	return nil, nil
}
func (f *fakeDecisionRepo) Finalize(ctx context.Context, tenantID, id string) error {
	f.final[id] = true
	return nil
}
func (f *fakeDecisionRepo) ListByRun(ctx context.Context, tenantID, runID string) ([]*domain.Decision, error) {
	return f.created, nil
}

func confidentVariants() []stats.Variant {
	return []stats.Variant{
		{ID: "a", Clicks: 500, Conversions: 50},
		{ID: "b", Clicks: 500, Conversions: 25},
	}
}

func tiedVariants() []stats.Variant {
	return []stats.Variant{
		{ID: "a", Clicks: 200, Conversions: 5},
		{ID: "b", Clicks: 200, Conversions: 5},
	}
}

func TestDecideFinalizesOnConfidentResult(t *testing.T) {
	runs := &fakeRunRepo{run: &domain.Run{ID: "run1", TenantID: "t1", Status: domain.RunRunning}}
	decisions := newFakeDecisionRepo()
	svc := NewService(&repo.Repos{Runs: runs, Decisions: decisions})

	res, err := svc.Decide(context.Background(), "t1", Input{
		RunID:    "run1",
		Variants: confidentVariants(),
		Persist:  true,
		Finalize: true,
	}, nil, stats.DefaultThresholds)
	if err != nil {
		t.Fatalf("Decide error: %v", err)
	}
	if !res.Finalized {
		t.Fatal("expected the decision to finalize on a confident result")
	}
	if runs.run.Status != domain.RunCompleted {
		t.Fatalf("run status = %v, want completed", runs.run.Status)
	}
	if len(decisions.created) != 1 || !decisions.final[decisions.created[0].ID] {
		t.Fatal("expected exactly one decision created and marked final")
	}
}

func TestDecideDoesNotFinalizeDirectionalResult(t *testing.T) {
	runs := &fakeRunRepo{run: &domain.Run{ID: "run1", TenantID: "t1", Status: domain.RunRunning}}
	decisions := newFakeDecisionRepo()
	svc := NewService(&repo.Repos{Runs: runs, Decisions: decisions})

	res, err := svc.Decide(context.Background(), "t1", Input{
		RunID:    "run1",
		Variants: tiedVariants(),
		Persist:  true,
		Finalize: true,
	}, nil, stats.DefaultThresholds)
	if err != nil {
		t.Fatalf("Decide error: %v", err)
	}
	if res.Finalized {
		t.Fatal("directional result must not finalize")
	}
	if runs.run.Status != domain.RunRunning {
		t.Fatalf("run status changed unexpectedly: %v", runs.run.Status)
	}
	if res.Stats.Confidence != "directional" {
		t.Fatalf("confidence = %q, want directional", res.Stats.Confidence)
	}
}

func TestDecideWithoutPersistOrFinalizeDoesNotTouchRepos(t *testing.T) {
	runs := &fakeRunRepo{run: &domain.Run{ID: "run1", TenantID: "t1", Status: domain.RunRunning}}
	decisions := newFakeDecisionRepo()
	svc := NewService(&repo.Repos{Runs: runs, Decisions: decisions})

	res, err := svc.Decide(context.Background(), "t1", Input{
		RunID:    "run1",
		Variants: confidentVariants(),
	}, nil, stats.DefaultThresholds)
	if err != nil {
		t.Fatalf("Decide error: %v", err)
	}
	if res.Decision != nil || len(decisions.created) != 0 {
		t.Fatal("expected no decision persisted when Persist and Finalize are both false")
	}
}

func TestDecideRefusesFinalizeWhenRunNotActive(t *testing.T) {
	runs := &fakeRunRepo{run: &domain.Run{ID: "run1", TenantID: "t1", Status: domain.RunDraft}}
	decisions := newFakeDecisionRepo()
	svc := NewService(&repo.Repos{Runs: runs, Decisions: decisions})

	res, err := svc.Decide(context.Background(), "t1", Input{
		RunID:    "run1",
		Variants: confidentVariants(),
		Finalize: true,
	}, nil, stats.DefaultThresholds)
	if err != nil {
		t.Fatalf("Decide error: %v", err)
	}
	if res.Finalized {
		t.Fatal("must not finalize a run that is not Running or Paused")
	}
}
