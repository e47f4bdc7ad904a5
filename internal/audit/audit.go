// Package audit implements the tamper-evident, per-tenant hash-chained
// audit log (C2). The "last hash" is never cached in memory across
// requests — it must be recomputed from the store inside a lock on every
// append — so Logger holds only a per-tenant mutex set, guarding shared
// mutable state with sync.Mutex rather than trusting caller discipline.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"

	"github.com/abtestlab/controlplane/internal/domain"
	"github.com/abtestlab/controlplane/internal/ident"
	"github.com/abtestlab/controlplane/internal/repo"
)

// Entry is the caller-supplied input to Log; Hash/PrevHash/ID/TsMs are
// computed by the logger, not the caller.
type Entry struct {
	TenantID   string
	Actor      string
	Action     string
	TargetType string
	TargetID   string
	BeforeJSON string
	AfterJSON  string
	RequestID  string
}

// Logger appends to and verifies per-tenant audit chains.
type Logger struct {
	repo repo.AuditRepo
	ids  *ident.Monotonic

	mu       sync.Mutex
	tenantMu map[string]*sync.Mutex
}

// NewLogger constructs a Logger backed by the given repository.
func NewLogger(r repo.AuditRepo) *Logger {
	return &Logger{repo: r, ids: ident.NewMonotonic(), tenantMu: make(map[string]*sync.Mutex)}
}

func (l *Logger) lockFor(tenantID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.tenantMu[tenantID]
	if !ok {
		m = &sync.Mutex{}
		l.tenantMu[tenantID] = m
	}
	return m
}

// Log appends one entry to tenant's chain. It serialises on a per-tenant
// lock so prev_hash always reflects the immediately preceding entry, the
// single-writer discipline §5 requires in lieu of a DB-level row lock.
func (l *Logger) Log(ctx context.Context, e Entry) (*domain.AuditLog, error) {
	tenantLock := l.lockFor(e.TenantID)
	tenantLock.Lock()
	defer tenantLock.Unlock()

	prevHash, err := l.repo.LatestHash(ctx, e.TenantID)
	if err != nil {
		return nil, fmt.Errorf("audit: fetch latest hash: %w", err)
	}

	now := ident.Now()
	id, err := l.ids.New(now)
	if err != nil {
		return nil, fmt.Errorf("audit: generate id: %w", err)
	}
	tsMs := now.UnixMilli()

	hash := computeHash(id, e.TenantID, e.Actor, e.Action, e.TargetType, e.TargetID, e.BeforeJSON, e.AfterJSON, prevHash, e.RequestID, tsMs)

	entry := &domain.AuditLog{
		ID:         id,
		TenantID:   e.TenantID,
		Actor:      e.Actor,
		Action:     e.Action,
		TargetType: e.TargetType,
		TargetID:   e.TargetID,
		BeforeJSON: e.BeforeJSON,
		AfterJSON:  e.AfterJSON,
		PrevHash:   prevHash,
		Hash:       hash,
		RequestID:  e.RequestID,
		TsMs:       tsMs,
	}

	if err := l.repo.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("audit: append entry: %w", err)
	}
	return entry, nil
}

// computeHash mirrors §4.16's formula exactly, field order included, so an
// independent verifier recomputing it byte-for-byte agrees.
func computeHash(id, tenant, actor, action, targetType, targetID, before, after, prevHash, requestID string, tsMs int64) string {
	h := sha256.New()
	parts := []string{id, tenant, actor, action, targetType, targetID, before, after, prevHash, requestID, strconv.FormatInt(tsMs, 10)}
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// VerificationError is one chain-integrity failure found by VerifyChain.
type VerificationError struct {
	EntryID string
	Reason  string
}

// VerifyResult is the outcome of walking a tenant's chain.
type VerifyResult struct {
	Valid          bool
	EntriesChecked int
	Errors         []VerificationError
}

// VerifyChain walks tenant's entries in ts_ms order, checking that each
// entry's prev_hash matches the previous entry's hash and that the stored
// hash matches one recomputed from the stored fields.
func (l *Logger) VerifyChain(ctx context.Context, tenantID string) (VerifyResult, error) {
	entries, err := l.repo.ListByTenant(ctx, tenantID)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("audit: list entries: %w", err)
	}

	res := VerifyResult{Valid: true, EntriesChecked: len(entries)}
	prevHash := ""
	for _, e := range entries {
		if e.PrevHash != prevHash {
			res.Valid = false
			res.Errors = append(res.Errors, VerificationError{EntryID: e.ID, Reason: "prev_hash does not match preceding entry's hash"})
		}
		recomputed := computeHash(e.ID, e.TenantID, e.Actor, e.Action, e.TargetType, e.TargetID, e.BeforeJSON, e.AfterJSON, e.PrevHash, e.RequestID, e.TsMs)
		if recomputed != e.Hash {
			res.Valid = false
			res.Errors = append(res.Errors, VerificationError{EntryID: e.ID, Reason: "stored hash does not match recomputed hash"})
		}
		// The expected prev_hash for the NEXT entry is this entry's
		// recomputed hash, not its (possibly tampered-but-unchanged)
		// stored hash — this is what makes a tamper on entry N propagate
		// a prev_hash-mismatch error to entry N+1 as well.
		prevHash = recomputed
	}
	return res, nil
}

// HashIP hashes a client IP with a fixed, service-wide salt before
// storage, per §4.16's requirement that stored IPs never appear in the
// clear.
func HashIP(salt, ip string) string {
	h := sha256.Sum256([]byte(salt + ":" + ip))
	return hex.EncodeToString(h[:])
}
