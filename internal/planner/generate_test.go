package planner

import (
	"context"
	"testing"

	"github.com/abtestlab/controlplane/internal/domain"
	"github.com/abtestlab/controlplane/internal/repo"
)

type fakeRunRepo struct {
	runs map[string]*domain.Run
}

func newFakeRunRepo() *fakeRunRepo { return &fakeRunRepo{runs: map[string]*domain.Run{}} }

func (f *fakeRunRepo) Create(ctx context.Context, r *domain.Run) error {
	f.runs[r.ID] = r
	return nil
}
func (f *fakeRunRepo) Get(ctx context.Context, tenantID, id string) (*domain.Run, error) {
	return f.runs[id], nil
}
func (f *fakeRunRepo) GetByID(ctx context.Context, id string) (*domain.Run, error) {
	return f.runs[id], nil
}
func (f *fakeRunRepo) Update(ctx context.Context, r *domain.Run) error { return nil }
func (f *fakeRunRepo) CompareAndSwapStatus(ctx context.Context, tenantID, id string, from, to domain.RunStatus) error {
	return nil
}
func (f *fakeRunRepo) ListByProject(ctx context.Context, tenantID, projectID string) ([]*domain.Run, error) {
	return nil, nil
}

func (f *fakeRunRepo) ListActiveRuns(ctx context.Context) ([]*domain.Run, error) {
	return nil, nil
}

type fakeIntentRepo struct {
	byRun   map[string][]*domain.Intent
	created []*domain.Intent
}

func newFakeIntentRepo() *fakeIntentRepo {
	return &fakeIntentRepo{byRun: map[string][]*domain.Intent{}}
}

func (f *fakeIntentRepo) Create(ctx context.Context, i *domain.Intent) error {
	f.created = append(f.created, i)
	f.byRun[i.RunID] = append(f.byRun[i.RunID], i)
	return nil
}
func (f *fakeIntentRepo) Get(ctx context.Context, tenantID, id string) (*domain.Intent, error) {
	return nil, nil
}
func (f *fakeIntentRepo) ListByRun(ctx context.Context, tenantID, runID string) ([]*domain.Intent, error) {
	return f.byRun[runID], nil
}
func (f *fakeIntentRepo) ListActiveByRun(ctx context.Context, tenantID, runID string) ([]*domain.Intent, error) {
	return f.byRun[runID], nil
}

func TestGenerateNextRunCopiesLockedIntentsByteIdentical(t *testing.T) {
	runs := newFakeRunRepo()
	intents := newFakeIntentRepo()
	runs.runs["src"] = &domain.Run{
		ID: "src", ProjectID: "p1", TenantID: "t1", Mode: domain.ModeManual,
		FixedGranul: `{"fixed":{"intent":{"lockIntentIds":["i1"]}},"explore":{"intent":{"maxNewIntents":1,"allowReplaceIntents":false}}}`,
	}
	intents.byRun["src"] = []*domain.Intent{
		{ID: "i1", RunID: "src", TenantID: "t1", Title: "Locked Intent", Priority: 1, Active: true},
	}

	gen := NewGenerator(&repo.Repos{Runs: runs, Intents: intents})
	newRunID, log, err := gen.GenerateNextRun(context.Background(), "t1", "src", Overrides{})
	if err != nil {
		t.Fatalf("GenerateNextRun error: %v", err)
	}
	if newRunID == "" || newRunID == "src" {
		t.Fatalf("expected a new run id, got %q", newRunID)
	}
	copiedIntents := intents.byRun[newRunID]
	if len(copiedIntents) != 1 || copiedIntents[0].Title != "Locked Intent" {
		t.Fatalf("expected the locked intent copied byte-identical, got %+v", copiedIntents)
	}
	found := false
	for _, e := range log {
		if e.Element == "intent:i1" && e.ChangeType == ChangeUnchanged {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an unchanged diff entry for the locked intent, got %+v", log)
	}
}

func TestGenerateNextRunRejectsOverExploreCapOverrides(t *testing.T) {
	runs := newFakeRunRepo()
	intents := newFakeIntentRepo()
	runs.runs["src"] = &domain.Run{
		ID: "src", ProjectID: "p1", TenantID: "t1",
		FixedGranul: `{"explore":{"intent":{"maxNewIntents":1}}}`,
	}

	gen := NewGenerator(&repo.Repos{Runs: runs, Intents: intents})
	_, _, err := gen.GenerateNextRun(context.Background(), "t1", "src", Overrides{
		NewIntents: []NewIntentSpec{{Title: "a"}, {Title: "b"}},
	})
	if err == nil {
		t.Fatal("expected an error when exceeding the explore cap")
	}
}

func TestGenerateNextRunAddsNewIntentsWithinCap(t *testing.T) {
	runs := newFakeRunRepo()
	intents := newFakeIntentRepo()
	runs.runs["src"] = &domain.Run{
		ID: "src", ProjectID: "p1", TenantID: "t1",
		FixedGranul: `{"explore":{"intent":{"maxNewIntents":2}}}`,
	}

	gen := NewGenerator(&repo.Repos{Runs: runs, Intents: intents})
	newRunID, log, err := gen.GenerateNextRun(context.Background(), "t1", "src", Overrides{
		NewIntents: []NewIntentSpec{{Title: "Explore A"}},
	})
	if err != nil {
		t.Fatalf("GenerateNextRun error: %v", err)
	}
	if len(intents.byRun[newRunID]) != 1 {
		t.Fatalf("expected one new intent copied, got %d", len(intents.byRun[newRunID]))
	}
	addedFound := false
	for _, e := range log {
		if e.ChangeType == ChangeAdded {
			addedFound = true
		}
	}
	if !addedFound {
		t.Fatal("expected an added diff entry for the new exploratory intent")
	}
}
