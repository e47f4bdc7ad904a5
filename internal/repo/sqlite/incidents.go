package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/abtestlab/controlplane/internal/domain"
)

type incidentStore struct{ db *sql.DB }

func (s *incidentStore) Create(ctx context.Context, inc *domain.Incident) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO incidents (id, run_id, tenant_id, type, severity, status, description, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inc.ID, inc.RunID, inc.TenantID, inc.Type, inc.Severity, inc.Status, inc.Description,
		inc.CreatedAt.UnixMilli(), msOrNil(inc.ResolvedAt))
	return err
}

func (s *incidentStore) Get(ctx context.Context, tenantID, id string) (*domain.Incident, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, tenant_id, type, severity, status, description, created_at, resolved_at
		FROM incidents WHERE tenant_id = ? AND id = ?`, tenantID, id)
	return scanIncident(row)
}

func (s *incidentStore) Resolve(ctx context.Context, tenantID, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE incidents SET status = ?, resolved_at = ? WHERE tenant_id = ? AND id = ?`,
		domain.IncidentResolved, time.Now().UTC().UnixMilli(), tenantID, id)
	return err
}

func (s *incidentStore) ListByRun(ctx context.Context, tenantID, runID string) ([]*domain.Incident, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, tenant_id, type, severity, status, description, created_at, resolved_at
		FROM incidents WHERE tenant_id = ? AND run_id = ? ORDER BY created_at DESC`, tenantID, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIncidentRows(rows)
}

func (s *incidentStore) ListOpenByTenant(ctx context.Context, tenantID string) ([]*domain.Incident, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, tenant_id, type, severity, status, description, created_at, resolved_at
		FROM incidents WHERE tenant_id = ? AND status != ? ORDER BY created_at DESC`,
		tenantID, domain.IncidentResolved)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIncidentRows(rows)
}

func scanIncidentRows(rows *sql.Rows) ([]*domain.Incident, error) {
	var out []*domain.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

func scanIncident(row rowScanner) (*domain.Incident, error) {
	var inc domain.Incident
	var createdAt int64
	var resolvedAt sql.NullInt64
	if err := row.Scan(&inc.ID, &inc.RunID, &inc.TenantID, &inc.Type, &inc.Severity, &inc.Status,
		&inc.Description, &createdAt, &resolvedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	inc.CreatedAt = time.UnixMilli(createdAt).UTC()
	inc.ResolvedAt = nullToTime(resolvedAt)
	return &inc, nil
}
