package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/abtestlab/controlplane/internal/apierrors"
	"github.com/abtestlab/controlplane/internal/domain"
)

type lpVariantStore struct{ db *sql.DB }

func (s *lpVariantStore) Create(ctx context.Context, v *domain.LpVariant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lp_variants (id, intent_id, tenant_id, version, content, content_hash,
			approved_hash, status, approver_id, published_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.IntentID, v.TenantID, v.Version, v.Content, v.ContentHash, v.ApprovedHash,
		v.Status, v.ApproverID, v.PublishedURL, v.CreatedAt.UnixMilli())
	return err
}

func (s *lpVariantStore) Get(ctx context.Context, tenantID, id string) (*domain.LpVariant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, intent_id, tenant_id, version, content, content_hash, approved_hash, status,
			approver_id, published_url, created_at
		FROM lp_variants WHERE tenant_id = ? AND id = ?`, tenantID, id)
	return scanLpVariant(row)
}

func (s *lpVariantStore) ListByIntent(ctx context.Context, tenantID, intentID string) ([]*domain.LpVariant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, intent_id, tenant_id, version, content, content_hash, approved_hash, status,
			approver_id, published_url, created_at
		FROM lp_variants WHERE tenant_id = ? AND intent_id = ? ORDER BY version DESC`, tenantID, intentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.LpVariant
	for rows.Next() {
		v, err := scanLpVariant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *lpVariantStore) NextVersion(ctx context.Context, tenantID, intentID string) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(version) FROM lp_variants WHERE tenant_id = ? AND intent_id = ?`,
		tenantID, intentID).Scan(&max)
	if err != nil {
		return 0, err
	}
	return int(max.Int64) + 1, nil
}

func (s *lpVariantStore) Approve(ctx context.Context, tenantID, id, approverID, hash string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE lp_variants SET status = ?, approver_id = ?, approved_hash = ?
		WHERE tenant_id = ? AND id = ? AND status != ?`,
		domain.ApprovalApproved, approverID, hash, tenantID, id, domain.ApprovalApproved)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierrors.Conflict("lp variant %s is already approved or missing", id)
	}
	return nil
}

func scanLpVariant(row rowScanner) (*domain.LpVariant, error) {
	var v domain.LpVariant
	var createdAt int64
	if err := row.Scan(&v.ID, &v.IntentID, &v.TenantID, &v.Version, &v.Content, &v.ContentHash,
		&v.ApprovedHash, &v.Status, &v.ApproverID, &v.PublishedURL, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	v.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &v, nil
}

type creativeVariantStore struct{ db *sql.DB }

func (s *creativeVariantStore) Create(ctx context.Context, v *domain.CreativeVariant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO creative_variants (id, intent_id, tenant_id, size, version, content, content_hash,
			approved_hash, status, approver_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.IntentID, v.TenantID, v.Size, v.Version, v.Content, v.ContentHash, v.ApprovedHash,
		v.Status, v.ApproverID, v.CreatedAt.UnixMilli())
	return err
}

func (s *creativeVariantStore) Get(ctx context.Context, tenantID, id string) (*domain.CreativeVariant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, intent_id, tenant_id, size, version, content, content_hash, approved_hash,
			status, approver_id, created_at
		FROM creative_variants WHERE tenant_id = ? AND id = ?`, tenantID, id)
	return scanCreativeVariant(row)
}

func (s *creativeVariantStore) ListByIntent(ctx context.Context, tenantID, intentID string) ([]*domain.CreativeVariant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, intent_id, tenant_id, size, version, content, content_hash, approved_hash,
			status, approver_id, created_at
		FROM creative_variants WHERE tenant_id = ? AND intent_id = ? ORDER BY version DESC`, tenantID, intentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.CreativeVariant
	for rows.Next() {
		v, err := scanCreativeVariant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *creativeVariantStore) NextVersion(ctx context.Context, tenantID, intentID string, size domain.CreativeSize) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(version) FROM creative_variants WHERE tenant_id = ? AND intent_id = ? AND size = ?`,
		tenantID, intentID, size).Scan(&max)
	if err != nil {
		return 0, err
	}
	return int(max.Int64) + 1, nil
}

func (s *creativeVariantStore) Approve(ctx context.Context, tenantID, id, approverID, hash string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE creative_variants SET status = ?, approver_id = ?, approved_hash = ?
		WHERE tenant_id = ? AND id = ? AND status != ?`,
		domain.ApprovalApproved, approverID, hash, tenantID, id, domain.ApprovalApproved)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierrors.Conflict("creative variant %s is already approved or missing", id)
	}
	return nil
}

func scanCreativeVariant(row rowScanner) (*domain.CreativeVariant, error) {
	var v domain.CreativeVariant
	var createdAt int64
	if err := row.Scan(&v.ID, &v.IntentID, &v.TenantID, &v.Size, &v.Version, &v.Content, &v.ContentHash,
		&v.ApprovedHash, &v.Status, &v.ApproverID, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	v.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &v, nil
}

type adCopyStore struct{ db *sql.DB }

func (s *adCopyStore) Create(ctx context.Context, v *domain.AdCopy) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ad_copies (id, intent_id, tenant_id, version, content, content_hash,
			approved_hash, status, approver_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.IntentID, v.TenantID, v.Version, v.Content, v.ContentHash, v.ApprovedHash,
		v.Status, v.ApproverID, v.CreatedAt.UnixMilli())
	return err
}

func (s *adCopyStore) Get(ctx context.Context, tenantID, id string) (*domain.AdCopy, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, intent_id, tenant_id, version, content, content_hash, approved_hash, status,
			approver_id, created_at
		FROM ad_copies WHERE tenant_id = ? AND id = ?`, tenantID, id)
	return scanAdCopy(row)
}

func (s *adCopyStore) ListByIntent(ctx context.Context, tenantID, intentID string) ([]*domain.AdCopy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, intent_id, tenant_id, version, content, content_hash, approved_hash, status,
			approver_id, created_at
		FROM ad_copies WHERE tenant_id = ? AND intent_id = ? ORDER BY version DESC`, tenantID, intentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.AdCopy
	for rows.Next() {
		v, err := scanAdCopy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *adCopyStore) NextVersion(ctx context.Context, tenantID, intentID string) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(version) FROM ad_copies WHERE tenant_id = ? AND intent_id = ?`,
		tenantID, intentID).Scan(&max)
	if err != nil {
		return 0, err
	}
	return int(max.Int64) + 1, nil
}

func (s *adCopyStore) Approve(ctx context.Context, tenantID, id, approverID, hash string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ad_copies SET status = ?, approver_id = ?, approved_hash = ?
		WHERE tenant_id = ? AND id = ? AND status != ?`,
		domain.ApprovalApproved, approverID, hash, tenantID, id, domain.ApprovalApproved)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierrors.Conflict("ad copy %s is already approved or missing", id)
	}
	return nil
}

func scanAdCopy(row rowScanner) (*domain.AdCopy, error) {
	var v domain.AdCopy
	var createdAt int64
	if err := row.Scan(&v.ID, &v.IntentID, &v.TenantID, &v.Version, &v.Content, &v.ContentHash,
		&v.ApprovedHash, &v.Status, &v.ApproverID, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	v.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &v, nil
}
