package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/abtestlab/controlplane/internal/domain"
	"github.com/abtestlab/controlplane/internal/ident"
	"github.com/abtestlab/controlplane/internal/qa"
	"github.com/abtestlab/controlplane/internal/repo"
	"github.com/abtestlab/controlplane/internal/repo/sqlite"
)

// setupServer seeds a tenant with one membership per role and a project/
// run/intent ready for QA checks, returning a Server wired against a
// real in-memory SQLite store.
func setupServer(t *testing.T) (*Server, *repo.Repos) {
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
	for userID, role := range map[string]domain.MembershipRole{
		"owner-1":    domain.RoleOwner,
		"operator-1": domain.RoleOperator,
		"viewer-1":   domain.RoleViewer,
	} {
		m := &domain.Membership{TenantID: "t1", UserID: userID, Role: role, Status: domain.MembershipActive}
		if err := repos.Tenants.UpsertMembership(ctx, m); err != nil {
			t.Fatalf("upsert membership %s: %v", userID, err)
		}
	}

	project := &domain.Project{
		ID: "p1", TenantID: "t1", Name: "offer", CreatedAt: now, UpdatedAt: now,
		NGRules: domain.NGRules{BannedTerms: []string{"guaranteed"}},
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

	server := NewServer(Deps{
		Repos:     repos,
		Ids:       ident.NewMonotonic(),
		QAChecker: qa.NewChecker(repos),
	})
	return server, repos
}

func doRequest(s *Server, method, path, tenantID, userID string, body string) *httptest.ResponseRecorder {
	var reqBody *strings.Reader
	if body == "" {
		reqBody = strings.NewReader("")
	} else {
		reqBody = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reqBody)
	if tenantID != "" {
		req.Header.Set("X-Tenant-Id", tenantID)
	}
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestMeReturnsResolvedActor(t *testing.T) {
	s, _ := setupServer(t)
	rec := doRequest(s, http.MethodGet, "/me", "t1", "operator-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got["tenantId"] != "t1" || got["userId"] != "operator-1" || got["role"] != string(domain.RoleOperator) {
		t.Fatalf("unexpected actor: %+v", got)
	}
}

func TestMeWithoutIdentityHeadersIsForbidden(t *testing.T) {
	s, _ := setupServer(t)
	rec := doRequest(s, http.MethodGet, "/me", "", "", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
	var env errorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if env.Error.Code != "forbidden" {
		t.Fatalf("expected forbidden code, got %q", env.Error.Code)
	}
}

func TestMeWithUnknownMembershipIsForbidden(t *testing.T) {
	s, _ := setupServer(t)
	rec := doRequest(s, http.MethodGet, "/me", "t1", "ghost", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestQACheckRequiresOperatorRole(t *testing.T) {
	s, _ := setupServer(t)
	rec := doRequest(s, http.MethodPost, "/qa/check", "t1", "viewer-1", `{"runId":"r1"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for viewer, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestQACheckFindsBannedTermForOperator(t *testing.T) {
	s, repos := setupServer(t)
	ctx := context.Background()
	lp := &domain.LpVariant{
		ID: "lp1", IntentID: "i1", TenantID: "t1", Version: 1,
		Content: "This offer is guaranteed to work.",
		Status:  domain.ApprovalDraft, CreatedAt: time.Now().UTC(),
	}
	if err := repos.LpVariants.Create(ctx, lp); err != nil {
		t.Fatalf("create lp variant: %v", err)
	}

	rec := doRequest(s, http.MethodPost, "/qa/check", "t1", "operator-1", `{"runId":"r1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result qa.CheckResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode check result: %v", err)
	}
	if result.Clean {
		t.Fatalf("expected violations, got clean result")
	}
}

func TestQASmokeTestReportsNoBundlesForOperator(t *testing.T) {
	s, _ := setupServer(t)
	rec := doRequest(s, http.MethodPost, "/qa/smoke-test", "t1", "operator-1", `{"runId":"r1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result qa.SmokeResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode smoke result: %v", err)
	}
	if result.Ready {
		t.Fatalf("expected not-ready with zero ad bundles")
	}
}

func TestQACheckMissingRunIDIsInvalidRequest(t *testing.T) {
	s, _ := setupServer(t)
	rec := doRequest(s, http.MethodPost, "/qa/check", "t1", "operator-1", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}
