package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/abtestlab/controlplane/internal/domain"
)

type intentStore struct{ db *sql.DB }

func (s *intentStore) Create(ctx context.Context, i *domain.Intent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO intents (id, run_id, tenant_id, title, hypothesis, evidence, faq, priority, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		i.ID, i.RunID, i.TenantID, i.Title, i.Hypothesis, i.Evidence, i.FAQ, i.Priority, i.Active, i.CreatedAt.UnixMilli())
	return err
}

func (s *intentStore) Get(ctx context.Context, tenantID, id string) (*domain.Intent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, tenant_id, title, hypothesis, evidence, faq, priority, active, created_at
		FROM intents WHERE tenant_id = ? AND id = ?`, tenantID, id)
	return scanIntent(row)
}

func (s *intentStore) ListByRun(ctx context.Context, tenantID, runID string) ([]*domain.Intent, error) {
	return s.list(ctx, tenantID, runID, false)
}

func (s *intentStore) ListActiveByRun(ctx context.Context, tenantID, runID string) ([]*domain.Intent, error) {
	return s.list(ctx, tenantID, runID, true)
}

func (s *intentStore) list(ctx context.Context, tenantID, runID string, activeOnly bool) ([]*domain.Intent, error) {
	query := `
		SELECT id, run_id, tenant_id, title, hypothesis, evidence, faq, priority, active, created_at
		FROM intents WHERE tenant_id = ? AND run_id = ?`
	if activeOnly {
		query += ` AND active = 1`
	}
	query += ` ORDER BY priority DESC, created_at`

	rows, err := s.db.QueryContext(ctx, query, tenantID, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Intent
	for rows.Next() {
		i, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func scanIntent(row rowScanner) (*domain.Intent, error) {
	var i domain.Intent
	var createdAt int64
	if err := row.Scan(&i.ID, &i.RunID, &i.TenantID, &i.Title, &i.Hypothesis, &i.Evidence, &i.FAQ,
		&i.Priority, &i.Active, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	i.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &i, nil
}
