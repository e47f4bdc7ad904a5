package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/abtestlab/controlplane/internal/apierrors"
	"github.com/abtestlab/controlplane/internal/domain"
)

type adBundleStore struct{ db *sql.DB }

func (s *adBundleStore) Create(ctx context.Context, b *domain.AdBundle) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ad_bundles (id, run_id, tenant_id, intent_id, lp_variant_id, creative_variant_id,
			ad_copy_id, utm_string, tracking_url, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.RunID, b.TenantID, b.IntentID, b.LpVariantID, b.CreativeVariantID, b.AdCopyID,
		b.UTMString, b.TrackingURL, b.Status, b.CreatedAt.UnixMilli())
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return apierrors.Conflict("ad bundle already exists for (run, intent, lp, creative, adcopy)")
	}
	return err
}

func (s *adBundleStore) Get(ctx context.Context, tenantID, id string) (*domain.AdBundle, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, tenant_id, intent_id, lp_variant_id, creative_variant_id, ad_copy_id,
			utm_string, tracking_url, status, created_at
		FROM ad_bundles WHERE tenant_id = ? AND id = ?`, tenantID, id)
	return scanAdBundle(row)
}

func (s *adBundleStore) ListByRun(ctx context.Context, tenantID, runID string) ([]*domain.AdBundle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, tenant_id, intent_id, lp_variant_id, creative_variant_id, ad_copy_id,
			utm_string, tracking_url, status, created_at
		FROM ad_bundles WHERE tenant_id = ? AND run_id = ? ORDER BY created_at`, tenantID, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.AdBundle
	for rows.Next() {
		b, err := scanAdBundle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *adBundleStore) UpdateStatus(ctx context.Context, tenantID, id string, status domain.AdBundleStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE ad_bundles SET status = ? WHERE tenant_id = ? AND id = ?`, status, tenantID, id)
	return err
}

// FindByContentKey looks a bundle up by its (intent, lp, creative, adcopy)
// content key so re-publishing with unchanged approved hashes resolves
// back to the same bundle and UTM string, per §4.7's idempotence rule.
func (s *adBundleStore) FindByContentKey(ctx context.Context, tenantID, runID, contentKey string) (*domain.AdBundle, error) {
	parts := strings.Split(contentKey, "_")
	if len(parts) != 4 {
		return nil, apierrors.InvalidRequest("malformed content key %q", contentKey)
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, tenant_id, intent_id, lp_variant_id, creative_variant_id, ad_copy_id,
			utm_string, tracking_url, status, created_at
		FROM ad_bundles
		WHERE tenant_id = ? AND run_id = ? AND intent_id = ? AND lp_variant_id = ?
			AND creative_variant_id = ? AND ad_copy_id = ?`,
		tenantID, runID, parts[0], parts[1], parts[2], parts[3])
	return scanAdBundle(row)
}

func scanAdBundle(row rowScanner) (*domain.AdBundle, error) {
	var b domain.AdBundle
	var createdAt int64
	if err := row.Scan(&b.ID, &b.RunID, &b.TenantID, &b.IntentID, &b.LpVariantID, &b.CreativeVariantID,
		&b.AdCopyID, &b.UTMString, &b.TrackingURL, &b.Status, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	b.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &b, nil
}

type deploymentStore struct{ db *sql.DB }

func (s *deploymentStore) Create(ctx context.Context, d *domain.Deployment) error {
	urls, err := marshalStrings(d.URLs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO deployments (id, run_id, tenant_id, manifest_key, urls_json, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.RunID, d.TenantID, d.ManifestKey, urls, d.Status, d.CreatedAt.UnixMilli())
	return err
}

func (s *deploymentStore) Get(ctx context.Context, tenantID, id string) (*domain.Deployment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, tenant_id, manifest_key, urls_json, status, created_at
		FROM deployments WHERE tenant_id = ? AND id = ?`, tenantID, id)
	return scanDeployment(row)
}

func (s *deploymentStore) GetLatestForRun(ctx context.Context, tenantID, runID string) (*domain.Deployment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, tenant_id, manifest_key, urls_json, status, created_at
		FROM deployments WHERE tenant_id = ? AND run_id = ? ORDER BY created_at DESC LIMIT 1`,
		tenantID, runID)
	return scanDeployment(row)
}

func (s *deploymentStore) UpdateStatus(ctx context.Context, tenantID, id string, status domain.DeploymentStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE deployments SET status = ? WHERE tenant_id = ? AND id = ?`, status, tenantID, id)
	return err
}

func scanDeployment(row rowScanner) (*domain.Deployment, error) {
	var d domain.Deployment
	var urls string
	var createdAt int64
	if err := row.Scan(&d.ID, &d.RunID, &d.TenantID, &d.ManifestKey, &urls, &d.Status, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	list, err := unmarshalStrings(urls)
	if err != nil {
		return nil, err
	}
	d.URLs = list
	d.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &d, nil
}
