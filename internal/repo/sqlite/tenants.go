package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/abtestlab/controlplane/internal/domain"
)

type tenantStore struct{ db *sql.DB }

func (s *tenantStore) Create(ctx context.Context, t *domain.Tenant) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO tenants (id, name, created_at) VALUES (?, ?, ?)`,
		t.ID, t.Name, t.CreatedAt.UnixMilli())
	return err
}

func (s *tenantStore) Get(ctx context.Context, id string) (*domain.Tenant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM tenants WHERE id = ?`, id)
	var t domain.Tenant
	var createdAt int64
	if err := row.Scan(&t.ID, &t.Name, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	t.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &t, nil
}

func (s *tenantStore) ListTenantIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM tenants ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *tenantStore) GetMembership(ctx context.Context, tenantID, userID string) (*domain.Membership, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT tenant_id, user_id, role, status, created_at FROM memberships WHERE tenant_id = ? AND user_id = ?`,
		tenantID, userID)
	var m domain.Membership
	var createdAt int64
	if err := row.Scan(&m.TenantID, &m.UserID, &m.Role, &m.Status, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	m.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &m, nil
}

func (s *tenantStore) UpsertMembership(ctx context.Context, m *domain.Membership) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memberships (tenant_id, user_id, role, status, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, user_id) DO UPDATE SET role = excluded.role, status = excluded.status`,
		m.TenantID, m.UserID, m.Role, m.Status, m.CreatedAt.UnixMilli())
	return err
}
