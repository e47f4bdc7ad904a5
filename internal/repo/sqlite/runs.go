package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/abtestlab/controlplane/internal/apierrors"
	"github.com/abtestlab/controlplane/internal/domain"
)

type runStore struct{ db *sql.DB }

func msOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func (s *runStore) Create(ctx context.Context, r *domain.Run) error {
	design, err := json.Marshal(r.Design)
	if err != nil {
		return err
	}
	checklist, err := json.Marshal(r.Checklist)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, project_id, tenant_id, name, mode, status, design_json, stop_rules,
			fixed_granul, decision_rules, budget_cap, checklist_json, approved_at, published_at,
			launched_at, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ProjectID, r.TenantID, r.Name, r.Mode, r.Status, string(design), r.StopRules,
		r.FixedGranul, r.DecisionRules, r.BudgetCap, string(checklist),
		msOrNil(r.ApprovedAt), msOrNil(r.PublishedAt), msOrNil(r.LaunchedAt), msOrNil(r.CompletedAt),
		r.CreatedAt.UnixMilli(), r.UpdatedAt.UnixMilli())
	return err
}

func (s *runStore) Get(ctx context.Context, tenantID, id string) (*domain.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, tenant_id, name, mode, status, design_json, stop_rules, fixed_granul,
			decision_rules, budget_cap, checklist_json, approved_at, published_at, launched_at,
			completed_at, created_at, updated_at
		FROM runs WHERE tenant_id = ? AND id = ?`, tenantID, id)
	return scanRun(row)
}

func (s *runStore) GetByID(ctx context.Context, id string) (*domain.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, tenant_id, name, mode, status, design_json, stop_rules, fixed_granul,
			decision_rules, budget_cap, checklist_json, approved_at, published_at, launched_at,
			completed_at, created_at, updated_at
		FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

func (s *runStore) Update(ctx context.Context, r *domain.Run) error {
	design, err := json.Marshal(r.Design)
	if err != nil {
		return err
	}
	checklist, err := json.Marshal(r.Checklist)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE runs SET name = ?, mode = ?, status = ?, design_json = ?, stop_rules = ?,
			fixed_granul = ?, decision_rules = ?, budget_cap = ?, checklist_json = ?,
			approved_at = ?, published_at = ?, launched_at = ?, completed_at = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?`,
		r.Name, r.Mode, r.Status, string(design), r.StopRules, r.FixedGranul, r.DecisionRules,
		r.BudgetCap, string(checklist), msOrNil(r.ApprovedAt), msOrNil(r.PublishedAt),
		msOrNil(r.LaunchedAt), msOrNil(r.CompletedAt), r.UpdatedAt.UnixMilli(), r.TenantID, r.ID)
	return err
}

// CompareAndSwapStatus implements §5's CAS transition contract: the
// UPDATE's WHERE clause includes the expected current status, so a
// mismatched row count (0) means either the run doesn't exist or it was
// already moved by a concurrent writer.
func (s *runStore) CompareAndSwapStatus(ctx context.Context, tenantID, id string, from, to domain.RunStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, updated_at = ? WHERE tenant_id = ? AND id = ? AND status = ?`,
		to, time.Now().UnixMilli(), tenantID, id, from)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apierrors.Conflict("run %s is not in status %s", id, from)
	}
	return nil
}

func (s *runStore) ListByProject(ctx context.Context, tenantID, projectID string) ([]*domain.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, tenant_id, name, mode, status, design_json, stop_rules, fixed_granul,
			decision_rules, budget_cap, checklist_json, approved_at, published_at, launched_at,
			completed_at, created_at, updated_at
		FROM runs WHERE tenant_id = ? AND project_id = ? ORDER BY created_at`, tenantID, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *runStore) ListActiveRuns(ctx context.Context) ([]*domain.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, tenant_id, name, mode, status, design_json, stop_rules, fixed_granul,
			decision_rules, budget_cap, checklist_json, approved_at, published_at, launched_at,
			completed_at, created_at, updated_at
		FROM runs WHERE status IN (?, ?) ORDER BY created_at`,
		domain.RunRunning, domain.RunLive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var r domain.Run
	var design, checklist string
	var approvedAt, publishedAt, launchedAt, completedAt sql.NullInt64
	var createdAt, updatedAt int64
	err := row.Scan(&r.ID, &r.ProjectID, &r.TenantID, &r.Name, &r.Mode, &r.Status, &design, &r.StopRules,
		&r.FixedGranul, &r.DecisionRules, &r.BudgetCap, &checklist, &approvedAt, &publishedAt,
		&launchedAt, &completedAt, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if strings.TrimSpace(design) != "" {
		if err := json.Unmarshal([]byte(design), &r.Design); err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(checklist) != "" {
		if err := json.Unmarshal([]byte(checklist), &r.Checklist); err != nil {
			return nil, err
		}
	}
	r.ApprovedAt = nullToTime(approvedAt)
	r.PublishedAt = nullToTime(publishedAt)
	r.LaunchedAt = nullToTime(launchedAt)
	r.CompletedAt = nullToTime(completedAt)
	r.CreatedAt = time.UnixMilli(createdAt).UTC()
	r.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &r, nil
}

func nullToTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.UnixMilli(n.Int64).UTC()
	return &t
}
