package metaadapter

import (
	"context"
	"testing"
	"time"

	"github.com/abtestlab/controlplane/internal/domain"
)

type fakeExchanger struct {
	accountID string
	token     string
	err       error
}

func (f *fakeExchanger) Exchange(ctx context.Context, code string) (string, string, error) {
	return f.accountID, f.token, f.err
}

type fakeTokenStore struct {
	byRef   map[string]string
	revoked map[string]bool
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{byRef: map[string]string{}, revoked: map[string]bool{}}
}
func (f *fakeTokenStore) Put(ctx context.Context, ref, token string) error {
	f.byRef[ref] = token
	return nil
}
func (f *fakeTokenStore) Resolve(ctx context.Context, ref string) (string, error) {
	return f.byRef[ref], nil
}
func (f *fakeTokenStore) Revoke(ctx context.Context, ref string) error {
	f.revoked[ref] = true
	delete(f.byRef, ref)
	return nil
}

type fakeConnRepo struct {
	byID map[string]*domain.PlatformConnection
}

func newFakeConnRepo() *fakeConnRepo { return &fakeConnRepo{byID: map[string]*domain.PlatformConnection{}} }

func (f *fakeConnRepo) Create(ctx context.Context, c *domain.PlatformConnection) error {
	f.byID[c.ID] = c
	return nil
}
func (f *fakeConnRepo) Get(ctx context.Context, tenantID, id string) (*domain.PlatformConnection, error) {
	c := f.byID[id]
	if c == nil || c.TenantID != tenantID {
		return nil, nil
	}
	return c, nil
}
func (f *fakeConnRepo) ListByTenant(ctx context.Context, tenantID string) ([]*domain.PlatformConnection, error) {
	var out []*domain.PlatformConnection
	for _, c := range f.byID {
		if c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	return out, nil
}
func (f *fakeConnRepo) UpdateStatus(ctx context.Context, tenantID, id string, status domain.ConnectionStatus) error {
	if c := f.byID[id]; c != nil {
		c.Status = status
	}
	return nil
}

func TestStartThenCompleteOAuthRoundTrips(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	nonces := NewNonceStore()
	conns := newFakeConnRepo()
	tokens := newFakeTokenStore()
	mgr := NewOAuthManager(nonces, &fakeExchanger{accountID: "act_1", token: "longlivedtoken"}, tokens, conns, "meta")

	start, err := mgr.StartOAuth(context.Background(), "https://meta.example/dialog/oauth", "t1", "u1", "https://app.example/callback", now)
	if err != nil {
		t.Fatalf("StartOAuth error: %v", err)
	}
	if start.State == "" || start.AuthURL == "" {
		t.Fatalf("expected a non-empty state and authUrl, got %+v", start)
	}

	connID, err := mgr.CompleteOAuth(context.Background(), "auth-code", start.State, now.Add(10*time.Second))
	if err != nil {
		t.Fatalf("CompleteOAuth error: %v", err)
	}
	if connID == "" {
		t.Fatal("expected a connection id")
	}

	conn, _ := conns.Get(context.Background(), "t1", connID)
	if conn == nil || conn.AccountID != "act_1" || conn.Status != domain.ConnectionActive {
		t.Fatalf("expected an active connection recorded, got %+v", conn)
	}
	if len(tokens.byRef) != 1 {
		t.Fatalf("expected exactly one stored token, got %d", len(tokens.byRef))
	}
}

func TestCompleteOAuthRejectsReplayedState(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	nonces := NewNonceStore()
	conns := newFakeConnRepo()
	tokens := newFakeTokenStore()
	mgr := NewOAuthManager(nonces, &fakeExchanger{accountID: "act_1", token: "tok"}, tokens, conns, "meta")

	start, _ := mgr.StartOAuth(context.Background(), "https://x", "t1", "u1", "https://cb", now)
	if _, err := mgr.CompleteOAuth(context.Background(), "code", start.State, now); err != nil {
		t.Fatalf("first completion should succeed: %v", err)
	}
	if _, err := mgr.CompleteOAuth(context.Background(), "code", start.State, now); err == nil {
		t.Fatal("expected the replayed state to be rejected")
	}
}

func TestCompleteOAuthRejectsExpiredState(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	nonces := NewNonceStore()
	conns := newFakeConnRepo()
	tokens := newFakeTokenStore()
	mgr := NewOAuthManager(nonces, &fakeExchanger{accountID: "act_1", token: "tok"}, tokens, conns, "meta")

	start, _ := mgr.StartOAuth(context.Background(), "https://x", "t1", "u1", "https://cb", now)
	late := now.Add(StateTTL + time.Second)
	if _, err := mgr.CompleteOAuth(context.Background(), "code", start.State, late); err == nil {
		t.Fatal("expected the expired state to be rejected")
	}
}

func TestRevokeInvalidatesTokenRefAndStatus(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	nonces := NewNonceStore()
	conns := newFakeConnRepo()
	tokens := newFakeTokenStore()
	mgr := NewOAuthManager(nonces, &fakeExchanger{accountID: "act_1", token: "tok"}, tokens, conns, "meta")

	start, _ := mgr.StartOAuth(context.Background(), "https://x", "t1", "u1", "https://cb", now)
	connID, _ := mgr.CompleteOAuth(context.Background(), "code", start.State, now)

	if err := mgr.Revoke(context.Background(), "t1", connID); err != nil {
		t.Fatalf("Revoke error: %v", err)
	}
	conn, _ := conns.Get(context.Background(), "t1", connID)
	if conn.Status != domain.ConnectionRevoked {
		t.Fatalf("expected revoked status, got %v", conn.Status)
	}
	if _, err := mgr.resolveToken(context.Background(), "t1", connID); err == nil {
		t.Fatal("expected resolveToken to refuse a revoked connection")
	}
}

func TestListConnectionsScopedToTenant(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	nonces := NewNonceStore()
	conns := newFakeConnRepo()
	tokens := newFakeTokenStore()
	mgr := NewOAuthManager(nonces, &fakeExchanger{accountID: "act_1", token: "tok"}, tokens, conns, "meta")

	s1, _ := mgr.StartOAuth(context.Background(), "https://x", "t1", "u1", "https://cb", now)
	mgr.CompleteOAuth(context.Background(), "code", s1.State, now)
	s2, _ := mgr.StartOAuth(context.Background(), "https://x", "t2", "u2", "https://cb", now)
	mgr.CompleteOAuth(context.Background(), "code", s2.State, now)

	list, err := mgr.ListConnections(context.Background(), "t1")
	if err != nil {
		t.Fatalf("ListConnections error: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one connection for t1, got %d", len(list))
	}
}
