package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/abtestlab/controlplane/internal/apierrors"
	"github.com/abtestlab/controlplane/internal/domain"
)

type decisionStore struct{ db *sql.DB }

func (s *decisionStore) Create(ctx context.Context, d *domain.Decision) error {
	ranking, err := marshalStrings(d.Ranking)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO decisions (id, run_id, tenant_id, status, confidence, winner_id, ranking_json,
			stats_json, rationale, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.RunID, d.TenantID, d.Status, d.Confidence, d.WinnerID, ranking, d.StatsJSON,
		d.Rationale, d.CreatedAt.UnixMilli())
	return err
}

func (s *decisionStore) Get(ctx context.Context, tenantID, id string) (*domain.Decision, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, tenant_id, status, confidence, winner_id, ranking_json, stats_json,
			rationale, created_at
		FROM decisions WHERE tenant_id = ? AND id = ?`, tenantID, id)
	return scanDecision(row)
}

func (s *decisionStore) GetFinalForRun(ctx context.Context, tenantID, runID string) (*domain.Decision, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, tenant_id, status, confidence, winner_id, ranking_json, stats_json,
			rationale, created_at
		FROM decisions WHERE tenant_id = ? AND run_id = ? AND status = ?`,
		tenantID, runID, domain.DecisionFinal)
	return scanDecision(row)
}

// Finalize relies on the schema's partial unique index
// (idx_decisions_final_unique) to enforce "at most one final per run":
// flipping a second decision of the same run to final violates that
// index, and the constraint violation is returned as Conflict.
func (s *decisionStore) Finalize(ctx context.Context, tenantID, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE decisions SET status = ? WHERE tenant_id = ? AND id = ?`, domain.DecisionFinal, tenantID, id)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return apierrors.Conflict("run %s already has a final decision", id)
	}
	return err
}

func (s *decisionStore) ListByRun(ctx context.Context, tenantID, runID string) ([]*domain.Decision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, tenant_id, status, confidence, winner_id, ranking_json, stats_json,
			rationale, created_at
		FROM decisions WHERE tenant_id = ? AND run_id = ? ORDER BY created_at DESC`, tenantID, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDecision(row rowScanner) (*domain.Decision, error) {
	var d domain.Decision
	var ranking string
	var createdAt int64
	if err := row.Scan(&d.ID, &d.RunID, &d.TenantID, &d.Status, &d.Confidence, &d.WinnerID, &ranking,
		&d.StatsJSON, &d.Rationale, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	list, err := unmarshalStrings(ranking)
	if err != nil {
		return nil, err
	}
	d.Ranking = list
	d.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &d, nil
}
