package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/abtestlab/controlplane/internal/apierrors"
	"github.com/abtestlab/controlplane/internal/domain"
)

type jobStore struct{ db *sql.DB }

func (s *jobStore) Enqueue(ctx context.Context, j *domain.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, tenant_id, run_id, type, status, payload_json, attempts, max_attempts,
			last_error, result_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.TenantID, j.RunID, j.Type, j.Status, j.PayloadJSON, j.Attempts, j.MaxAttempts,
		j.LastError, j.ResultJSON, j.CreatedAt.UnixMilli(), j.UpdatedAt.UnixMilli())
	return err
}

func (s *jobStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, run_id, type, status, payload_json, attempts, max_attempts,
			last_error, result_json, created_at, updated_at
		FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// ClaimNext atomically picks the oldest queued job among types and flips
// it to running within a transaction, so two concurrent workers racing on
// RunOne never both claim the same row — mirroring the CAS pattern used
// for run-status transitions in §5.
func (s *jobStore) ClaimNext(ctx context.Context, types []domain.JobType) (*domain.Job, error) {
	if len(types) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(types))
	args := make([]any, 0, len(types)+1)
	args = append(args, domain.JobQueued)
	for i, t := range types {
		placeholders[i] = "?"
		args = append(args, t)
	}
	query := fmt.Sprintf(`
		SELECT id, tenant_id, run_id, type, status, payload_json, attempts, max_attempts,
			last_error, result_json, created_at, updated_at
		FROM jobs WHERE status = ? AND type IN (%s) ORDER BY created_at LIMIT 1`,
		strings.Join(placeholders, ","))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	job, err := scanJob(tx.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ? WHERE id = ? AND status = ?`,
		domain.JobRunning, job.ID, domain.JobQueued)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Lost the race to another worker; caller retries on its own cadence.
		return nil, tx.Commit()
	}
	job.Status = domain.JobRunning
	return job, tx.Commit()
}

func (s *jobStore) MarkRunning(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
		domain.JobRunning, time.Now().UTC().UnixMilli(), id)
	return err
}

func (s *jobStore) MarkCompleted(ctx context.Context, id, resultJSON string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, attempts = attempts + 1, result_json = ?, updated_at = ?
		WHERE id = ?`, domain.JobCompleted, resultJSON, time.Now().UTC().UnixMilli(), id)
	return err
}

func (s *jobStore) MarkFailed(ctx context.Context, id, lastError string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, attempts = attempts + 1, last_error = ?, updated_at = ?
		WHERE id = ?`, domain.JobFailed, lastError, time.Now().UTC().UnixMilli(), id)
	return err
}

// Retry implements §4.12's literal contract: only from failed, rejected
// at max_attempts, and attempts is left untouched (the next completion or
// failure increments it).
func (s *jobStore) Retry(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, updated_at = ?
		WHERE id = ? AND status = ? AND attempts < max_attempts`,
		domain.JobQueued, time.Now().UTC().UnixMilli(), id, domain.JobFailed)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierrors.Conflict("job %s is not eligible for retry", id)
	}
	return nil
}

func (s *jobStore) Cancel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		domain.JobCancelled, time.Now().UTC().UnixMilli(), id, domain.JobQueued)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierrors.Conflict("job %s is not queued", id)
	}
	return nil
}

func (s *jobStore) ListByRun(ctx context.Context, runID string) ([]*domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, run_id, type, status, payload_json, attempts, max_attempts,
			last_error, result_json, created_at, updated_at
		FROM jobs WHERE run_id = ? ORDER BY created_at DESC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var j domain.Job
	var createdAt, updatedAt int64
	if err := row.Scan(&j.ID, &j.TenantID, &j.RunID, &j.Type, &j.Status, &j.PayloadJSON, &j.Attempts,
		&j.MaxAttempts, &j.LastError, &j.ResultJSON, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	j.CreatedAt = time.UnixMilli(createdAt).UTC()
	j.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &j, nil
}
