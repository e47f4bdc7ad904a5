package sqlite

import (
	"context"
	"database/sql"

	"github.com/abtestlab/controlplane/internal/domain"
)

type auditStore struct{ db *sql.DB }

// LatestHash returns the hash of tenant's most recent entry by ts_ms, or
// "" if the chain is empty. The in-process per-tenant mutex in
// internal/audit.Logger serialises callers so this read-then-append
// sequence stays race-free without a DB-level row lock, per §9's note
// that the cache must never live across requests.
func (s *auditStore) LatestHash(ctx context.Context, tenantID string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT hash FROM audit_log WHERE tenant_id = ? ORDER BY ts_ms DESC, id DESC LIMIT 1`, tenantID).Scan(&hash)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return hash, nil
}

func (s *auditStore) Append(ctx context.Context, entry *domain.AuditLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, tenant_id, actor, action, target_type, target_id, before_json,
			after_json, prev_hash, hash, request_id, ts_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.TenantID, entry.Actor, entry.Action, entry.TargetType, entry.TargetID,
		entry.BeforeJSON, entry.AfterJSON, entry.PrevHash, entry.Hash, entry.RequestID, entry.TsMs)
	return err
}

func (s *auditStore) ListByTenant(ctx context.Context, tenantID string) ([]*domain.AuditLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, actor, action, target_type, target_id, before_json, after_json,
			prev_hash, hash, request_id, ts_ms
		FROM audit_log WHERE tenant_id = ? ORDER BY ts_ms ASC, id ASC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.AuditLog
	for rows.Next() {
		var e domain.AuditLog
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Actor, &e.Action, &e.TargetType, &e.TargetID,
			&e.BeforeJSON, &e.AfterJSON, &e.PrevHash, &e.Hash, &e.RequestID, &e.TsMs); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
