package qa

import (
	"context"
	"testing"
	"time"

	"github.com/abtestlab/controlplane/internal/domain"
	"github.com/abtestlab/controlplane/internal/repo/sqlite"
)

func setupRun(t *testing.T) (*sqlite.Repos, *domain.Project, *domain.Run) {
	t.Helper()
	store, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	repos := sqlite.NewRepos(store)
	ctx := context.Background()
	now := time.Now().UTC()

	tenant := &domain.Tenant{ID: "t1", Name: "acme", CreatedAt: now}
	if err := repos.Tenants.Create(ctx, tenant); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	project := &domain.Project{
		ID: "p1", TenantID: "t1", Name: "offer", CreatedAt: now, UpdatedAt: now,
		NGRules: domain.NGRules{
			BannedTerms:     []string{"guaranteed"},
			BlockedPatterns: []string{"free money"},
		},
	}
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
	return repos, project, run
}

func TestCheckFindsBannedTermAndBlockedPattern(t *testing.T) {
	repos, _, _ := setupRun(t)
	ctx := context.Background()
	now := time.Now().UTC()

	lp := &domain.LpVariant{
		ID: "lp1", IntentID: "i1", TenantID: "t1", Version: 1,
		Content: "This offer is guaranteed to work, claim your free money now.",
		Status:  domain.ApprovalDraft, CreatedAt: now,
	}
	if err := repos.LpVariants.Create(ctx, lp); err != nil {
		t.Fatalf("create lp variant: %v", err)
	}

	checker := NewChecker(repos)
	result, err := checker.Check(ctx, "t1", "r1")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if result.Clean {
		t.Fatal("expected violations, got clean result")
	}
	if len(result.Violations) != 2 {
		t.Fatalf("expected 2 violations (banned term + blocked pattern), got %+v", result.Violations)
	}
}

func TestCheckCleanContentReportsNoViolations(t *testing.T) {
	repos, _, _ := setupRun(t)
	ctx := context.Background()
	now := time.Now().UTC()

	lp := &domain.LpVariant{
		ID: "lp1", IntentID: "i1", TenantID: "t1", Version: 1,
		Content: "A straightforward landing page with no problematic claims.",
		Status:  domain.ApprovalDraft, CreatedAt: now,
	}
	if err := repos.LpVariants.Create(ctx, lp); err != nil {
		t.Fatalf("create lp variant: %v", err)
	}

	checker := NewChecker(repos)
	result, err := checker.Check(ctx, "t1", "r1")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !result.Clean || len(result.Violations) != 0 {
		t.Fatalf("expected clean result, got %+v", result)
	}
}

func TestSmokeTestNoAdBundlesReportsIssue(t *testing.T) {
	repos, _, _ := setupRun(t)
	ctx := context.Background()

	checker := NewChecker(repos)
	result, err := checker.SmokeTest(ctx, "t1", "r1")
	if err != nil {
		t.Fatalf("SmokeTest() error = %v", err)
	}
	if result.Ready {
		t.Fatal("expected not-ready with zero ad bundles")
	}
	if len(result.Issues) != 1 {
		t.Fatalf("expected 1 issue, got %+v", result.Issues)
	}
}

func TestSmokeTestPassesWithApprovedBundle(t *testing.T) {
	repos, _, _ := setupRun(t)
	ctx := context.Background()
	now := time.Now().UTC()

	lp := &domain.LpVariant{
		ID: "lp1", IntentID: "i1", TenantID: "t1", Version: 1,
		Content: "hello", ContentHash: "h1", ApprovedHash: "h1",
		Status: domain.ApprovalApproved, CreatedAt: now,
	}
	if err := repos.LpVariants.Create(ctx, lp); err != nil {
		t.Fatalf("create lp variant: %v", err)
	}
	bundle := &domain.AdBundle{
		ID: "b1", RunID: "r1", TenantID: "t1", IntentID: "i1", LpVariantID: "lp1",
		UTMString: "utm_content=i1_lp1_cr1_ac1", TrackingURL: "https://example.com/go?utm_content=i1_lp1_cr1_ac1",
		Status: domain.BundleReady, CreatedAt: now,
	}
	if err := repos.AdBundles.Create(ctx, bundle); err != nil {
		t.Fatalf("create ad bundle: %v", err)
	}

	checker := NewChecker(repos)
	result, err := checker.SmokeTest(ctx, "t1", "r1")
	if err != nil {
		t.Fatalf("SmokeTest() error = %v", err)
	}
	if !result.Ready {
		t.Fatalf("expected ready, got issues: %+v", result.Issues)
	}
}
