package sqlite

import (
	"context"
	"database/sql"
)

// TokenStore persists OAuth token material in the platform_tokens table,
// keyed by the opaque token_ref metaadapter.OAuthManager hands out.
// Structurally satisfies metaadapter.TokenStore without importing that
// package, keeping the dependency one-directional (metaadapter never
// imports sqlite either).
type TokenStore struct{ db *sql.DB }

// NewTokenStore constructs a TokenStore over the given Store's handle.
func NewTokenStore(s *Store) *TokenStore {
	return &TokenStore{db: s.db}
}

func (t *TokenStore) Put(ctx context.Context, tokenRef, token string) error {
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO platform_tokens (token_ref, token) VALUES (?, ?)
		ON CONFLICT (token_ref) DO UPDATE SET token = excluded.token`,
		tokenRef, token)
	return err
}

func (t *TokenStore) Resolve(ctx context.Context, tokenRef string) (string, error) {
	var token string
	err := t.db.QueryRowContext(ctx, `SELECT token FROM platform_tokens WHERE token_ref = ?`, tokenRef).Scan(&token)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return token, err
}

func (t *TokenStore) Revoke(ctx context.Context, tokenRef string) error {
	_, err := t.db.ExecContext(ctx, `DELETE FROM platform_tokens WHERE token_ref = ?`, tokenRef)
	return err
}
