package stopeval

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/abtestlab/controlplane/internal/domain"
	"github.com/abtestlab/controlplane/internal/incident"
	"github.com/abtestlab/controlplane/internal/repo/sqlite"
	"github.com/abtestlab/controlplane/internal/stoprules"
)

func mustMarshalDoc(t *testing.T, doc stoprules.Document) string {
	t.Helper()
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal stop rules: %v", err)
	}
	return string(raw)
}

func TestEvaluatePausesRunOnSpendCapBreach(t *testing.T) {
	store, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	repos := sqlite.NewRepos(store)
	ctx := context.Background()
	now := time.Now().UTC()

	tenant := &domain.Tenant{ID: "t1", Name: "acme", CreatedAt: now}
	if err := repos.Tenants.Create(ctx, tenant); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	proj := &domain.Project{ID: "p1", TenantID: "t1", Name: "offer", CreatedAt: now, UpdatedAt: now}
	if err := repos.Projects.Create(ctx, proj); err != nil {
		t.Fatalf("create project: %v", err)
	}

	doc := stoprules.Document{Rules: []stoprules.Rule{
		{ID: "cap", Type: stoprules.RuleSpendTotalCap, Enabled: true, Action: stoprules.ActionPauseRun, Severity: stoprules.SeverityHigh, Threshold: 50},
	}}
	run := &domain.Run{
		ID: "r1", ProjectID: "p1", TenantID: "t1", Name: "run-1",
		Mode: domain.ModeAuto, Status: domain.RunRunning,
		StopRules: mustMarshalDoc(t, doc),
		CreatedAt: now, UpdatedAt: now,
	}
	if err := repos.Runs.Create(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	if _, err := repos.Insights.UpsertDaily(ctx, &domain.InsightDaily{
		AdBundleID: "b1", TenantID: "t1", Day: now.Truncate(24 * time.Hour),
		Spend: 100, Clicks: 10, Conversions: 1, Source: domain.InsightMeta,
	}, true); err != nil {
		t.Fatalf("upsert daily: %v", err)
	}

	runner := NewRunner(repos, incident.NewManager(repos))
	result, err := runner.Evaluate(ctx, "t1", "r1", now.Unix())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(result.ActionsApplied) != 1 {
		t.Fatalf("expected one applied action, got %+v", result.ActionsApplied)
	}

	got, err := repos.Runs.Get(ctx, "t1", "r1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != domain.RunPaused {
		t.Fatalf("expected run paused, got %s", got.Status)
	}
}

func TestEvaluateNoStopRulesIsNoop(t *testing.T) {
	store, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	repos := sqlite.NewRepos(store)
	ctx := context.Background()
	now := time.Now().UTC()

	tenant := &domain.Tenant{ID: "t1", Name: "acme", CreatedAt: now}
	if err := repos.Tenants.Create(ctx, tenant); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	proj := &domain.Project{ID: "p1", TenantID: "t1", Name: "offer", CreatedAt: now, UpdatedAt: now}
	if err := repos.Projects.Create(ctx, proj); err != nil {
		t.Fatalf("create project: %v", err)
	}
	run := &domain.Run{
		ID: "r1", ProjectID: "p1", TenantID: "t1", Name: "run-1",
		Mode: domain.ModeAuto, Status: domain.RunRunning, CreatedAt: now, UpdatedAt: now,
	}
	if err := repos.Runs.Create(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	runner := NewRunner(repos, incident.NewManager(repos))
	result, err := runner.Evaluate(ctx, "t1", "r1", now.Unix())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(result.ActionsApplied) != 0 {
		t.Fatalf("expected no actions without stop rules, got %+v", result.ActionsApplied)
	}
}
