// Package sqlite is the concrete C17 repository implementation backing
// the control plane's primary storage: a single *sql.DB behind WAL mode,
// a go:embed'd schema applied idempotently, and a numbered-migration
// ladder tracked in schema_version. Every tenant-scoped query filters on
// tenant_id explicitly rather than relying on a single shared database
// per tenant, since the ad-experiment control plane is a true
// multi-tenant service.
package sqlite

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/abtestlab/controlplane/internal/obslog"
	"github.com/abtestlab/controlplane/internal/repo"
)

//go:embed schema.sql
var schemaSQL string

//go:embed migrations/0001_init.sql
var migration0001 string

// Store is the concrete repository implementation. It implements every
// interface in package repo; NewRepos wires an instance into a
// repo.Repos bundle.
type Store struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at path, applies the schema
// and migration ladder, and returns a ready Store.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return err
	}

	var version int
	err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	migrations := []string{migration0001}
	for i, m := range migrations {
		target := i + 1
		if version >= target {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(m); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %04d: %w", target, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, target); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		obslog.Default().Info("sqlite migration applied", "version", target)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for the per-aggregate store types in
// this package, each of which implements exactly one repo.go interface
// (their method sets overlap in name — Create, Get, ListByRun — so a
// single receiver type cannot satisfy more than one without collisions).
func (s *Store) DB() *sql.DB { return s.db }

// NewRepos constructs one store per repo.go interface, all sharing
// Store's underlying connection, and bundles them into a repo.Repos.
func NewRepos(s *Store) *repo.Repos {
	db := s.db
	return &repo.Repos{
		Tenants:     &tenantStore{db: db},
		Projects:    &projectStore{db: db},
		Runs:        &runStore{db: db},
		Intents:     &intentStore{db: db},
		LpVariants:  &lpVariantStore{db: db},
		Creatives:   &creativeVariantStore{db: db},
		AdCopies:    &adCopyStore{db: db},
		AdBundles:   &adBundleStore{db: db},
		Deployments: &deploymentStore{db: db},
		Events:      &eventStore{db: db},
		Insights:    &insightStore{db: db},
		Decisions:   &decisionStore{db: db},
		Incidents:   &incidentStore{db: db},
		Audit:       &auditStore{db: db},
		Jobs:        &jobStore{db: db},
		TenantFlags: &tenantFlagStore{db: db},
		Connections: &connectionStore{db: db},
	}
}
