package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/abtestlab/controlplane/internal/domain"
)

type tenantFlagStore struct{ db *sql.DB }

func (s *tenantFlagStore) Get(ctx context.Context, tenantID, key string) (*domain.TenantFlag, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT tenant_id, key, value, updated_at FROM tenant_flags WHERE tenant_id = ? AND key = ?`,
		tenantID, key)
	var f domain.TenantFlag
	var updatedAt int64
	if err := row.Scan(&f.TenantID, &f.Key, &f.Value, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	f.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &f, nil
}

func (s *tenantFlagStore) Set(ctx context.Context, f *domain.TenantFlag) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenant_flags (tenant_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (tenant_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		f.TenantID, f.Key, f.Value, f.UpdatedAt.UnixMilli())
	return err
}

func (s *tenantFlagStore) ListByTenant(ctx context.Context, tenantID string) ([]*domain.TenantFlag, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tenant_id, key, value, updated_at FROM tenant_flags WHERE tenant_id = ? ORDER BY key`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.TenantFlag
	for rows.Next() {
		var f domain.TenantFlag
		var updatedAt int64
		if err := rows.Scan(&f.TenantID, &f.Key, &f.Value, &updatedAt); err != nil {
			return nil, err
		}
		f.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		out = append(out, &f)
	}
	return out, rows.Err()
}

type connectionStore struct{ db *sql.DB }

func (s *connectionStore) Create(ctx context.Context, c *domain.PlatformConnection) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO platform_connections (id, tenant_id, user_id, platform, token_ref, account_id, status, created_at, revoked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.TenantID, c.UserID, c.Platform, c.TokenRef, c.AccountID, c.Status,
		c.CreatedAt.UnixMilli(), revokedAtOrNil(c.RevokedAt))
	return err
}

func revokedAtOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func (s *connectionStore) Get(ctx context.Context, tenantID, id string) (*domain.PlatformConnection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, user_id, platform, token_ref, account_id, status, created_at, revoked_at
		FROM platform_connections WHERE tenant_id = ? AND id = ?`, tenantID, id)
	return scanConnection(row)
}

func (s *connectionStore) ListByTenant(ctx context.Context, tenantID string) ([]*domain.PlatformConnection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, user_id, platform, token_ref, account_id, status, created_at, revoked_at
		FROM platform_connections WHERE tenant_id = ? ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.PlatformConnection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *connectionStore) UpdateStatus(ctx context.Context, tenantID, id string, status domain.ConnectionStatus) error {
	var revokedAt any
	if status == domain.ConnectionRevoked {
		revokedAt = time.Now().UTC().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE platform_connections SET status = ?, revoked_at = COALESCE(?, revoked_at) WHERE tenant_id = ? AND id = ?`,
		status, revokedAt, tenantID, id)
	return err
}

func scanConnection(row rowScanner) (*domain.PlatformConnection, error) {
	var c domain.PlatformConnection
	var createdAt int64
	var revokedAt sql.NullInt64
	if err := row.Scan(&c.ID, &c.TenantID, &c.UserID, &c.Platform, &c.TokenRef, &c.AccountID, &c.Status,
		&createdAt, &revokedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	c.CreatedAt = time.UnixMilli(createdAt).UTC()
	if revokedAt.Valid {
		c.RevokedAt = time.UnixMilli(revokedAt.Int64).UTC()
	}
	return &c, nil
}
