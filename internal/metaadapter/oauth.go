// Package metaadapter implements the ad-platform adapter contract (C15):
// a one-shot OAuth handshake producing an opaque connection, token
// storage behind an opaque tokenRef that core code never resolves
// itself, and an insights.PlatformPuller implementation for C10's
// platform-pull path. Narrow verbs, no SDK types crossing the package
// boundary, and google/uuid for opaque identifiers in place of
// time-sortable ULIDs.
package metaadapter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/abtestlab/controlplane/internal/apierrors"
	"github.com/abtestlab/controlplane/internal/domain"
	"github.com/abtestlab/controlplane/internal/repo"
)

// StateTTL is how long a startOAuth-issued state/nonce is redeemable.
const StateTTL = 300 * time.Second

// statePayload is the opaque, base64url(JSON(...)) state §4.14 specifies.
type statePayload struct {
	Tenant    string `json:"tenant"`
	User      string `json:"user"`
	Redirect  string `json:"redirect"`
	Nonce     string `json:"nonce"`
	CreatedAt int64  `json:"createdAt"`
}

// nonceRecord is the server-side bookkeeping for a single issued state,
// consumed exactly once by completeOAuth.
type nonceRecord struct {
	payload statePayload
	expires time.Time
}

// NonceStore tracks outstanding OAuth state handshakes in memory. A
// production deployment with multiple adapter instances would back this
// with a shared store, but a single nonce's entire lifetime is at most
// StateTTL, so an in-process store with periodic sweep is sufficient for
// one instance.
type NonceStore struct {
	mu    sync.Mutex
	byKey map[string]nonceRecord
}

// NewNonceStore constructs an empty NonceStore.
func NewNonceStore() *NonceStore {
	return &NonceStore{byKey: map[string]nonceRecord{}}
}

func (s *NonceStore) put(nonce string, p statePayload, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byKey[nonce] = nonceRecord{payload: p, expires: now.Add(StateTTL)}
}

// take removes and returns the record for nonce if present and not
// expired, implementing the one-shot redemption contract.
func (s *NonceStore) take(nonce string, now time.Time) (statePayload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byKey[nonce]
	delete(s.byKey, nonce)
	if !ok || now.After(rec.expires) {
		return statePayload{}, false
	}
	return rec.payload, true
}

// Sweep discards expired, unredeemed nonces. Callers run it periodically
// (e.g. from C13's scheduler) to bound memory on abandoned handshakes.
func (s *NonceStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, rec := range s.byKey {
		if now.After(rec.expires) {
			delete(s.byKey, k)
			n++
		}
	}
	return n
}

// TokenExchanger performs the short-lived-code → long-lived-token
// exchange against the ad platform. It is the one seam where platform
// SDK types would appear; this package never imports one, so a test
// double or a thin wrapper around the real SDK both satisfy it equally.
type TokenExchanger interface {
	Exchange(ctx context.Context, code string) (accountID string, longLivedToken string, err error)
}

// TokenStore persists the long-lived token behind an opaque ref. Core
// code, including the rest of this package outside Exchange/Resolve,
// never sees the token value itself.
type TokenStore interface {
	Put(ctx context.Context, tokenRef string, token string) error
	Resolve(ctx context.Context, tokenRef string) (string, error)
	Revoke(ctx context.Context, tokenRef string) error
}

// OAuthManager implements startOAuth/completeOAuth/listConnections/revoke.
type OAuthManager struct {
	nonces    *NonceStore
	exchange  TokenExchanger
	tokens    TokenStore
	conns     repo.PlatformConnectionRepo
	platform  string
}

// NewOAuthManager constructs an OAuthManager for one ad platform (e.g. "meta").
func NewOAuthManager(nonces *NonceStore, exchange TokenExchanger, tokens TokenStore, conns repo.PlatformConnectionRepo, platform string) *OAuthManager {
	return &OAuthManager{nonces: nonces, exchange: exchange, tokens: tokens, conns: conns, platform: platform}
}

// StartResult is startOAuth's return value.
type StartResult struct {
	AuthURL string `json:"authUrl"`
	State   string `json:"state"`
}

// StartOAuth issues an opaque state and the authorization URL the caller
// redirects the user to, per §4.14.
func (m *OAuthManager) StartOAuth(ctx context.Context, authBaseURL, tenant, user, redirect string, now time.Time) (StartResult, error) {
	nonce := uuid.NewString()
	payload := statePayload{Tenant: tenant, User: user, Redirect: redirect, Nonce: nonce, CreatedAt: now.UnixMilli()}
	raw, err := json.Marshal(payload)
	if err != nil {
		return StartResult{}, err
	}
	state := base64.URLEncoding.EncodeToString(raw)
	m.nonces.put(nonce, payload, now)
	return StartResult{AuthURL: authBaseURL + "?state=" + state, State: state}, nil
}

// CompleteOAuth verifies the state server-side (one-shot), exchanges the
// code for a long-lived token, stores it under a fresh opaque tokenRef,
// and records the connection. Returns the new connectionId.
func (m *OAuthManager) CompleteOAuth(ctx context.Context, code, state string, now time.Time) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(state)
	if err != nil {
		return "", apierrors.InvalidRequest("metaadapter: malformed oauth state")
	}
	var payload statePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", apierrors.InvalidRequest("metaadapter: malformed oauth state")
	}
	stored, ok := m.nonces.take(payload.Nonce, now)
	if !ok {
		return "", apierrors.InvalidRequest("metaadapter: oauth state not found or expired")
	}
	if stored.Tenant != payload.Tenant || stored.User != payload.User || stored.Redirect != payload.Redirect {
		return "", apierrors.InvalidRequest("metaadapter: oauth state payload mismatch")
	}

	accountID, token, err := m.exchange.Exchange(ctx, code)
	if err != nil {
		return "", apierrors.Transport(err, "metaadapter: token exchange failed")
	}

	tokenRef := uuid.NewString()
	if err := m.tokens.Put(ctx, tokenRef, token); err != nil {
		return "", err
	}

	connID := uuid.NewString()
	conn := &domain.PlatformConnection{
		ID:        connID,
		TenantID:  payload.Tenant,
		UserID:    payload.User,
		Platform:  m.platform,
		TokenRef:  tokenRef,
		AccountID: accountID,
		Status:    domain.ConnectionActive,
		CreatedAt: now,
	}
	if err := m.conns.Create(ctx, conn); err != nil {
		return "", err
	}
	return connID, nil
}

// ListConnections returns a tenant's platform connections.
func (m *OAuthManager) ListConnections(ctx context.Context, tenantID string) ([]*domain.PlatformConnection, error) {
	return m.conns.ListByTenant(ctx, tenantID)
}

// Revoke invalidates a connection's tokenRef and marks it revoked.
func (m *OAuthManager) Revoke(ctx context.Context, tenantID, connectionID string) error {
	conn, err := m.conns.Get(ctx, tenantID, connectionID)
	if err != nil {
		return err
	}
	if conn == nil {
		return apierrors.NotFound("metaadapter: connection %s not found", connectionID)
	}
	if err := m.tokens.Revoke(ctx, conn.TokenRef); err != nil {
		return err
	}
	return m.conns.UpdateStatus(ctx, tenantID, connectionID, domain.ConnectionRevoked)
}

// resolveToken is the only place outside TokenStore that ever sees a raw
// token, used internally by Client to authenticate FetchInsights/create
// calls against the platform.
func (m *OAuthManager) resolveToken(ctx context.Context, tenantID, connectionID string) (string, error) {
	conn, err := m.conns.Get(ctx, tenantID, connectionID)
	if err != nil {
		return "", err
	}
	if conn == nil || conn.Status != domain.ConnectionActive {
		return "", apierrors.InvalidRequest("metaadapter: connection %s is not active", connectionID)
	}
	return m.tokens.Resolve(ctx, conn.TokenRef)
}
