package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/abtestlab/controlplane/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTenantAndProjectRoundTrip(t *testing.T) {
	s := openTestStore(t)
	repos := NewRepos(s)
	ctx := context.Background()

	tenant := &domain.Tenant{ID: "T1", Name: "acme", CreatedAt: time.Now().UTC()}
	if err := repos.Tenants.Create(ctx, tenant); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	got, err := repos.Tenants.Get(ctx, "T1")
	if err != nil || got == nil || got.Name != "acme" {
		t.Fatalf("get tenant: %+v, %v", got, err)
	}

	proj := &domain.Project{
		ID: "P1", TenantID: "T1", Name: "offer-1",
		BrandAssetKeys: []string{"logo.png"},
		NGRules:        domain.NGRules{Version: 1, BannedTerms: []string{"free"}},
		CreatedAt:      time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	if err := repos.Projects.Create(ctx, proj); err != nil {
		t.Fatalf("create project: %v", err)
	}
	gotP, err := repos.Projects.Get(ctx, "T1", "P1")
	if err != nil || gotP == nil || len(gotP.NGRules.BannedTerms) != 1 {
		t.Fatalf("get project: %+v, %v", gotP, err)
	}

	// Cross-tenant read must come back nil, not leak existence.
	other, err := repos.Projects.Get(ctx, "T2", "P1")
	if err != nil || other != nil {
		t.Fatalf("cross-tenant project lookup leaked: %+v, %v", other, err)
	}
}

func TestRunCompareAndSwapStatus(t *testing.T) {
	s := openTestStore(t)
	repos := NewRepos(s)
	ctx := context.Background()

	_ = repos.Tenants.Create(ctx, &domain.Tenant{ID: "T1", Name: "acme", CreatedAt: time.Now().UTC()})
	run := &domain.Run{
		ID: "R1", TenantID: "T1", ProjectID: "P1", Name: "run-1",
		Mode: domain.ModeManual, Status: domain.RunDraft,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	if err := repos.Runs.Create(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	if err := repos.Runs.CompareAndSwapStatus(ctx, "T1", "R1", domain.RunDraft, domain.RunDesigning); err != nil {
		t.Fatalf("cas: %v", err)
	}
	if err := repos.Runs.CompareAndSwapStatus(ctx, "T1", "R1", domain.RunDraft, domain.RunDesigning); err == nil {
		t.Fatal("expected conflict on stale CAS")
	}

	got, err := repos.Runs.Get(ctx, "T1", "R1")
	if err != nil || got.Status != domain.RunDesigning {
		t.Fatalf("get run after cas: %+v, %v", got, err)
	}
}

func TestAdBundleUniqueness(t *testing.T) {
	s := openTestStore(t)
	repos := NewRepos(s)
	ctx := context.Background()

	b := &domain.AdBundle{
		ID: "B1", RunID: "R1", TenantID: "T1", IntentID: "I1", LpVariantID: "L1",
		CreativeVariantID: "C1", AdCopyID: "A1", UTMString: "utm=1", Status: domain.BundleReady,
		CreatedAt: time.Now().UTC(),
	}
	if err := repos.AdBundles.Create(ctx, b); err != nil {
		t.Fatalf("create bundle: %v", err)
	}
	dup := *b
	dup.ID = "B2"
	if err := repos.AdBundles.Create(ctx, &dup); err == nil {
		t.Fatal("expected uniqueness conflict on duplicate (run,intent,lp,creative,adcopy)")
	}

	found, err := repos.AdBundles.FindByContentKey(ctx, "T1", "R1", "I1_L1_C1_A1")
	if err != nil || found == nil || found.ID != "B1" {
		t.Fatalf("find by content key: %+v, %v", found, err)
	}
}

func TestEventDedupWindow(t *testing.T) {
	s := openTestStore(t)
	repos := NewRepos(s)
	ctx := context.Background()

	now := time.Now().UTC()
	e := &domain.Event{
		ID: "E1", TenantID: "T1", EventID: "ext-1", TsMs: now.UnixMilli(),
		EventType: domain.EventPageview, ReceivedAt: now,
	}
	if err := repos.Events.Insert(ctx, e); err != nil {
		t.Fatalf("insert event: %v", err)
	}
	exists, err := repos.Events.ExistsWithinWindow(ctx, "T1", "ext-1", int64(24*time.Hour/time.Millisecond), now.UnixMilli())
	if err != nil || !exists {
		t.Fatalf("expected dedup hit within window: %v, %v", exists, err)
	}

	dup := *e
	dup.ID = "E2"
	if err := repos.Events.Insert(ctx, &dup); err == nil {
		t.Fatal("expected conflict inserting duplicate (tenant, event_id)")
	}
}

func TestJobClaimNextAndRetryContract(t *testing.T) {
	s := openTestStore(t)
	repos := NewRepos(s)
	ctx := context.Background()

	now := time.Now().UTC()
	job := &domain.Job{
		ID: "J1", TenantID: "T1", Type: domain.JobStopEval, Status: domain.JobQueued,
		MaxAttempts: 3, CreatedAt: now, UpdatedAt: now,
	}
	if err := repos.Jobs.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	claimed, err := repos.Jobs.ClaimNext(ctx, []domain.JobType{domain.JobStopEval})
	if err != nil || claimed == nil || claimed.ID != "J1" {
		t.Fatalf("claim next: %+v, %v", claimed, err)
	}
	none, err := repos.Jobs.ClaimNext(ctx, []domain.JobType{domain.JobStopEval})
	if err != nil || none != nil {
		t.Fatalf("expected no further queued job: %+v, %v", none, err)
	}

	if err := repos.Jobs.Retry(ctx, "J1"); err == nil {
		t.Fatal("expected retry to reject a running (non-failed) job")
	}
	if err := repos.Jobs.MarkFailed(ctx, "J1", "boom"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := repos.Jobs.Retry(ctx, "J1"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	got, err := repos.Jobs.Get(ctx, "J1")
	if err != nil || got.Status != domain.JobQueued || got.Attempts != 1 {
		t.Fatalf("retry did not reset to queued without re-incrementing attempts: %+v, %v", got, err)
	}
}

func TestAuditAppendAndLatestHash(t *testing.T) {
	s := openTestStore(t)
	repos := NewRepos(s)
	ctx := context.Background()

	hash, err := repos.Audit.LatestHash(ctx, "T1")
	if err != nil || hash != "" {
		t.Fatalf("expected empty latest hash for new tenant: %q, %v", hash, err)
	}

	e1 := &domain.AuditLog{ID: "A1", TenantID: "T1", Actor: "u1", Action: "create", Hash: "h1", TsMs: 1}
	if err := repos.Audit.Append(ctx, e1); err != nil {
		t.Fatalf("append: %v", err)
	}
	e2 := &domain.AuditLog{ID: "A2", TenantID: "T1", Actor: "u1", Action: "update", PrevHash: "h1", Hash: "h2", TsMs: 2}
	if err := repos.Audit.Append(ctx, e2); err != nil {
		t.Fatalf("append: %v", err)
	}

	hash, err = repos.Audit.LatestHash(ctx, "T1")
	if err != nil || hash != "h2" {
		t.Fatalf("expected latest hash h2: %q, %v", hash, err)
	}

	entries, err := repos.Audit.ListByTenant(ctx, "T1")
	if err != nil || len(entries) != 2 || entries[0].ID != "A1" {
		t.Fatalf("list by tenant out of order: %+v, %v", entries, err)
	}
}

func TestDecisionFinalizeAtMostOnePerRun(t *testing.T) {
	s := openTestStore(t)
	repos := NewRepos(s)
	ctx := context.Background()

	now := time.Now().UTC()
	d1 := &domain.Decision{ID: "D1", RunID: "R1", TenantID: "T1", Status: domain.DecisionDraft, Confidence: domain.ConfidenceConfident, CreatedAt: now}
	d2 := &domain.Decision{ID: "D2", RunID: "R1", TenantID: "T1", Status: domain.DecisionDraft, Confidence: domain.ConfidenceConfident, CreatedAt: now}
	if err := repos.Decisions.Create(ctx, d1); err != nil {
		t.Fatalf("create d1: %v", err)
	}
	if err := repos.Decisions.Create(ctx, d2); err != nil {
		t.Fatalf("create d2: %v", err)
	}
	if err := repos.Decisions.Finalize(ctx, "T1", "D1"); err != nil {
		t.Fatalf("finalize d1: %v", err)
	}
	if err := repos.Decisions.Finalize(ctx, "T1", "D2"); err == nil {
		t.Fatal("expected conflict finalizing a second decision for the same run")
	}
}
