package publish

import (
	"context"
	"testing"
	"time"

	"github.com/abtestlab/controlplane/internal/domain"
	"github.com/abtestlab/controlplane/internal/repo/sqlite"
)

type fakeObjectStore struct {
	puts map[string][]byte
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{puts: map[string][]byte{}}
}

func (f *fakeObjectStore) Put(_ context.Context, key string, data []byte) error {
	f.puts[key] = data
	return nil
}

func setupPublishableRun(t *testing.T) (*Pipeline, *sqlite.Store, *domain.Run) {
	t.Helper()
	store, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	repos := sqlite.NewRepos(store)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := repos.Tenants.Create(ctx, &domain.Tenant{ID: "t1", Name: "acme", CreatedAt: now}); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	project := &domain.Project{ID: "p1", TenantID: "t1", Name: "offer", CreatedAt: now, UpdatedAt: now}
	if err := repos.Projects.Create(ctx, project); err != nil {
		t.Fatalf("create project: %v", err)
	}
	run := &domain.Run{
		ID: "r1", ProjectID: "p1", TenantID: "t1", Name: "run-1",
		Mode: domain.ModeAuto, Status: domain.RunDraft, CreatedAt: now, UpdatedAt: now,
	}
	if err := repos.Runs.Create(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}
	intent := &domain.Intent{ID: "i1", RunID: "r1", TenantID: "t1", Title: "hook", Active: true, CreatedAt: now}
	if err := repos.Intents.Create(ctx, intent); err != nil {
		t.Fatalf("create intent: %v", err)
	}
	lp := &domain.LpVariant{
		ID: "lp1", IntentID: "i1", TenantID: "t1", Version: 1, Content: "hello",
		ApprovedHash: "h1", Status: domain.ApprovalApproved, PublishedURL: "https://example.com/go",
		CreatedAt: now,
	}
	if err := repos.LpVariants.Create(ctx, lp); err != nil {
		t.Fatalf("create lp variant: %v", err)
	}
	cr := &domain.CreativeVariant{
		ID: "cr1", IntentID: "i1", TenantID: "t1", Version: 1, Content: "banner",
		ApprovedHash: "h2", Status: domain.ApprovalApproved, CreatedAt: now,
	}
	if err := repos.Creatives.Create(ctx, cr); err != nil {
		t.Fatalf("create creative: %v", err)
	}
	ac := &domain.AdCopy{
		ID: "ac1", IntentID: "i1", TenantID: "t1", Version: 1, Content: "copy",
		ApprovedHash: "h3", Status: domain.ApprovalApproved, CreatedAt: now,
	}
	if err := repos.AdCopies.Create(ctx, ac); err != nil {
		t.Fatalf("create ad copy: %v", err)
	}

	pipeline := NewPipeline(repos, newFakeObjectStore())
	return pipeline, store, run
}

func TestPublishAfterRollbackReactivatesArchivedBundle(t *testing.T) {
	pipeline, store, run := setupPublishableRun(t)
	repos := sqlite.NewRepos(store)
	ctx := context.Background()
	policy := DefaultUTMPolicy(run.ID)

	dep, err := pipeline.Publish(ctx, "t1", "r1", policy)
	if err != nil {
		t.Fatalf("first publish: %v", err)
	}
	if len(dep.URLs) != 1 {
		t.Fatalf("expected 1 bundle url, got %+v", dep.URLs)
	}

	if err := pipeline.Rollback(ctx, "t1", "r1"); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	bundles, err := repos.AdBundles.ListByRun(ctx, "t1", "r1")
	if err != nil {
		t.Fatalf("list bundles: %v", err)
	}
	if len(bundles) != 1 || bundles[0].Status != domain.BundleArchived {
		t.Fatalf("expected 1 archived bundle after rollback, got %+v", bundles)
	}
	archivedID := bundles[0].ID

	if _, err := pipeline.Publish(ctx, "t1", "r1", policy); err != nil {
		t.Fatalf("second publish: %v", err)
	}
	bundles, err = repos.AdBundles.ListByRun(ctx, "t1", "r1")
	if err != nil {
		t.Fatalf("list bundles after republish: %v", err)
	}
	if len(bundles) != 1 {
		t.Fatalf("expected the same bundle reused, got %d bundles", len(bundles))
	}
	if bundles[0].ID != archivedID {
		t.Fatalf("expected republish to reuse bundle %s, got %s", archivedID, bundles[0].ID)
	}
	if bundles[0].Status != domain.BundleReady {
		t.Fatalf("expected reused bundle status ready, got %s", bundles[0].Status)
	}
}

func TestBuildUTMIsDeterministic(t *testing.T) {
	policy := DefaultUTMPolicy("camp1")
	ck := ContentKey("intent1", "lp1", "cr1", "ac1")
	a := BuildUTM(policy, ck)
	b := BuildUTM(policy, ck)
	if a != b {
		t.Fatalf("BuildUTM not deterministic: %q vs %q", a, b)
	}
	want := "utm_source=facebook&utm_medium=cpc&utm_campaign=camp1&utm_content=intent1_lp1_cr1_ac1"
	if a != want {
		t.Fatalf("BuildUTM = %q, want %q", a, want)
	}
}

func TestBuildUTMChangesWithContentKey(t *testing.T) {
	policy := DefaultUTMPolicy("camp1")
	a := BuildUTM(policy, ContentKey("i1", "lp1", "cr1", "ac1"))
	b := BuildUTM(policy, ContentKey("i1", "lp1", "cr1", "ac2"))
	if a == b {
		t.Fatal("different content keys should produce different UTM strings")
	}
}

func TestTrackingURLAppendsUTM(t *testing.T) {
	got := TrackingURL("https://example.com/lp", "utm_source=a")
	if got != "https://example.com/lp?utm_source=a" {
		t.Fatalf("TrackingURL = %q", got)
	}
	got2 := TrackingURL("https://example.com/lp?ref=x", "utm_source=a")
	if got2 != "https://example.com/lp?ref=x&utm_source=a" {
		t.Fatalf("TrackingURL with existing query = %q", got2)
	}
}
