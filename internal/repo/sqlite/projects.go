package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/abtestlab/controlplane/internal/domain"
)

type projectStore struct{ db *sql.DB }

func (s *projectStore) Create(ctx context.Context, p *domain.Project) error {
	brandKeys, err := json.Marshal(p.BrandAssetKeys)
	if err != nil {
		return err
	}
	ngRules, err := json.Marshal(p.NGRules)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO projects (id, tenant_id, name, brand_asset_keys, conversion_def, ng_rules_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.TenantID, p.Name, string(brandKeys), p.ConversionDef, string(ngRules),
		p.CreatedAt.UnixMilli(), p.UpdatedAt.UnixMilli())
	return err
}

func (s *projectStore) Get(ctx context.Context, tenantID, id string) (*domain.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, brand_asset_keys, conversion_def, ng_rules_json, created_at, updated_at
		FROM projects WHERE tenant_id = ? AND id = ?`, tenantID, id)
	return scanProject(row)
}

func (s *projectStore) Update(ctx context.Context, p *domain.Project) error {
	brandKeys, err := json.Marshal(p.BrandAssetKeys)
	if err != nil {
		return err
	}
	ngRules, err := json.Marshal(p.NGRules)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE projects SET name = ?, brand_asset_keys = ?, conversion_def = ?, ng_rules_json = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?`,
		p.Name, string(brandKeys), p.ConversionDef, string(ngRules), p.UpdatedAt.UnixMilli(), p.TenantID, p.ID)
	return err
}

func (s *projectStore) ListByTenant(ctx context.Context, tenantID string) ([]*domain.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, brand_asset_keys, conversion_def, ng_rules_json, created_at, updated_at
		FROM projects WHERE tenant_id = ? ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// rowScanner lets scan helpers accept either *sql.Row or *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*domain.Project, error) {
	var p domain.Project
	var brandKeys, ngRules string
	var createdAt, updatedAt int64
	if err := row.Scan(&p.ID, &p.TenantID, &p.Name, &brandKeys, &p.ConversionDef, &ngRules, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if strings.TrimSpace(brandKeys) != "" {
		if err := json.Unmarshal([]byte(brandKeys), &p.BrandAssetKeys); err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(ngRules) != "" {
		if err := json.Unmarshal([]byte(ngRules), &p.NGRules); err != nil {
			return nil, err
		}
	}
	p.CreatedAt = time.UnixMilli(createdAt).UTC()
	p.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &p, nil
}
