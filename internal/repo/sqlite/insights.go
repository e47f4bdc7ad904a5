package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/abtestlab/controlplane/internal/domain"
)

type insightStore struct{ db *sql.DB }

// UpsertDaily implements §4.9's manual-import conflict policy: a row for
// the same (bundle, day), whatever its source, is overwritten unless overwrite=false, in
// which case the existing row is left untouched and skipped=true.
func (s *insightStore) UpsertDaily(ctx context.Context, row *domain.InsightDaily, overwrite bool) (bool, error) {
	dayMs := row.Day.UTC().UnixMilli()
	if !overwrite {
		var count int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM insight_daily WHERE tenant_id = ? AND ad_bundle_id = ? AND day_ms = ?`,
			row.TenantID, row.AdBundleID, dayMs).Scan(&count)
		if err != nil {
			return false, err
		}
		if count > 0 {
			return true, nil
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO insight_daily (ad_bundle_id, tenant_id, day_ms, impressions, clicks, spend, conversions, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, ad_bundle_id, day_ms) DO UPDATE SET
			impressions = excluded.impressions, clicks = excluded.clicks,
			spend = excluded.spend, conversions = excluded.conversions, source = excluded.source`,
		row.AdBundleID, row.TenantID, dayMs, row.Impressions, row.Clicks, row.Spend, row.Conversions, row.Source)
	return false, err
}

// UpsertHourly always overwrites, matching the platform-pull source
// (§4.9: "later imports overwrite").
func (s *insightStore) UpsertHourly(ctx context.Context, row *domain.InsightHourly) error {
	hourMs := row.Hour.UTC().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO insight_hourly (ad_bundle_id, tenant_id, hour_ms, impressions, clicks, spend, conversions, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, ad_bundle_id, hour_ms) DO UPDATE SET
			impressions = excluded.impressions, clicks = excluded.clicks,
			spend = excluded.spend, conversions = excluded.conversions, source = excluded.source`,
		row.AdBundleID, row.TenantID, hourMs, row.Impressions, row.Clicks, row.Spend, row.Conversions, row.Source)
	return err
}

func (s *insightStore) ListDailyByBundle(ctx context.Context, tenantID, bundleID string) ([]*domain.InsightDaily, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ad_bundle_id, tenant_id, day_ms, impressions, clicks, spend, conversions, source
		FROM insight_daily WHERE tenant_id = ? AND ad_bundle_id = ? ORDER BY day_ms`, tenantID, bundleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInsightDailyRows(rows)
}

func (s *insightStore) ListDailyByRun(ctx context.Context, tenantID, runID string) ([]*domain.InsightDaily, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.ad_bundle_id, d.tenant_id, d.day_ms, d.impressions, d.clicks, d.spend, d.conversions, d.source
		FROM insight_daily d JOIN ad_bundles b ON b.id = d.ad_bundle_id AND b.tenant_id = d.tenant_id
		WHERE d.tenant_id = ? AND b.run_id = ? ORDER BY d.day_ms`, tenantID, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInsightDailyRows(rows)
}

func scanInsightDailyRows(rows *sql.Rows) ([]*domain.InsightDaily, error) {
	var out []*domain.InsightDaily
	for rows.Next() {
		var r domain.InsightDaily
		var dayMs int64
		if err := rows.Scan(&r.AdBundleID, &r.TenantID, &dayMs, &r.Impressions, &r.Clicks, &r.Spend,
			&r.Conversions, &r.Source); err != nil {
			return nil, err
		}
		r.Day = time.UnixMilli(dayMs).UTC()
		out = append(out, &r)
	}
	return out, rows.Err()
}
