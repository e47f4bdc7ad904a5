package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/abtestlab/controlplane/internal/apierrors"
	"github.com/abtestlab/controlplane/internal/domain"
)

type eventStore struct{ db *sql.DB }

// Insert enforces the (tenant, event_id) uniqueness invariant via the
// schema's UNIQUE index; callers check ExistsWithinWindow first so dedup
// vs. reject can be reported distinctly per §4.8.
func (s *eventStore) Insert(ctx context.Context, e *domain.Event) error {
	meta, err := marshalStringMap(e.Meta)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (id, tenant_id, event_id, ts_ms, event_type, session_id, run_id,
			lp_variant_id, page_url, referrer, user_agent, meta_json, ad_bundle_id,
			creative_variant_id, intent_id, ip_hash, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TenantID, e.EventID, e.TsMs, e.EventType, e.SessionID, e.RunID, e.LpVariantID,
		e.PageURL, e.Referrer, e.UserAgent, meta, e.AdBundleID, e.CreativeVariantID, e.IntentID,
		e.IPHash, e.ReceivedAt.UnixMilli())
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return apierrors.Conflict("event %s already recorded for tenant", e.EventID)
	}
	return err
}

func (s *eventStore) ExistsWithinWindow(ctx context.Context, tenantID, eventID string, window int64, nowMs int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM events
		WHERE tenant_id = ? AND event_id = ? AND received_at >= ?`,
		tenantID, eventID, nowMs-window).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *eventStore) ListByRun(ctx context.Context, tenantID, runID string, since, until int64) ([]*domain.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, event_id, ts_ms, event_type, session_id, run_id, lp_variant_id,
			page_url, referrer, user_agent, meta_json, ad_bundle_id, creative_variant_id, intent_id,
			ip_hash, received_at
		FROM events WHERE tenant_id = ? AND run_id = ? AND ts_ms >= ? AND ts_ms <= ?
		ORDER BY ts_ms`, tenantID, runID, since, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEvent(row rowScanner) (*domain.Event, error) {
	var e domain.Event
	var meta string
	var receivedAt int64
	if err := row.Scan(&e.ID, &e.TenantID, &e.EventID, &e.TsMs, &e.EventType, &e.SessionID, &e.RunID,
		&e.LpVariantID, &e.PageURL, &e.Referrer, &e.UserAgent, &meta, &e.AdBundleID,
		&e.CreativeVariantID, &e.IntentID, &e.IPHash, &receivedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	m, err := unmarshalStringMap(meta)
	if err != nil {
		return nil, err
	}
	e.Meta = m
	e.ReceivedAt = time.UnixMilli(receivedAt).UTC()
	return &e, nil
}
