// Package repo defines the abstract repository contracts (C17) that sit
// between business components and storage. Every method takes a
// context.Context first and a tenant id wherever the entity is
// tenant-scoped, so cross-tenant reads can uniformly resolve to
// apierrors.NotFound instead of leaking existence. One narrow interface
// per concern, so callers depend on behavior, not on the SQLite
// implementation underneath.
package repo

import (
	"context"

	"github.com/abtestlab/controlplane/internal/domain"
)

type TenantRepo interface {
	Create(ctx context.Context, t *domain.Tenant) error
	Get(ctx context.Context, id string) (*domain.Tenant, error)
	GetMembership(ctx context.Context, tenantID, userID string) (*domain.Membership, error)
	UpsertMembership(ctx context.Context, m *domain.Membership) error
	// ListTenantIDs supports the job scheduler's per-tenant meta_sync tick.
	ListTenantIDs(ctx context.Context) ([]string, error)
}

type ProjectRepo interface {
	Create(ctx context.Context, p *domain.Project) error
	Get(ctx context.Context, tenantID, id string) (*domain.Project, error)
	Update(ctx context.Context, p *domain.Project) error
	ListByTenant(ctx context.Context, tenantID string) ([]*domain.Project, error)
}

type RunRepo interface {
	Create(ctx context.Context, r *domain.Run) error
	Get(ctx context.Context, tenantID, id string) (*domain.Run, error)
	// GetByID looks a run up by id alone, for the one caller that only
	// has a run id and not yet a tenant id: beacon ingestion, which
	// resolves its tenant scope from the run it finds.
	GetByID(ctx context.Context, id string) (*domain.Run, error)
	Update(ctx context.Context, r *domain.Run) error
	// CompareAndSwapStatus implements the CAS transition contract from
	// §5: it succeeds only if the stored status still equals from,
	// returning apierrors.Conflict otherwise.
	CompareAndSwapStatus(ctx context.Context, tenantID, id string, from, to domain.RunStatus) error
	ListByProject(ctx context.Context, tenantID, projectID string) ([]*domain.Run, error)
	// ListActiveRuns supports the job scheduler's stop_eval tick: every
	// run across every tenant currently in a status that can still be
	// stopped.
	ListActiveRuns(ctx context.Context) ([]*domain.Run, error)
}

type IntentRepo interface {
	Create(ctx context.Context, i *domain.Intent) error
	Get(ctx context.Context, tenantID, id string) (*domain.Intent, error)
	ListByRun(ctx context.Context, tenantID, runID string) ([]*domain.Intent, error)
	ListActiveByRun(ctx context.Context, tenantID, runID string) ([]*domain.Intent, error)
}

// VariantRepo persists the three approval-gated variant kinds. Methods are
// parameterised by kind rather than split into three near-identical
// interfaces, since their lifecycle (draft -> submitted -> approved,
// monotonic version, immutable once approved) is identical.
type VariantKind string

const (
	VariantLP       VariantKind = "lp"
	VariantCreative VariantKind = "creative"
	VariantAdCopy   VariantKind = "ad_copy"
)

type LpVariantRepo interface {
	Create(ctx context.Context, v *domain.LpVariant) error
	Get(ctx context.Context, tenantID, id string) (*domain.LpVariant, error)
	ListByIntent(ctx context.Context, tenantID, intentID string) ([]*domain.LpVariant, error)
	NextVersion(ctx context.Context, tenantID, intentID string) (int, error)
	Approve(ctx context.Context, tenantID, id, approverID, hash string) error
}

type CreativeVariantRepo interface {
	Create(ctx context.Context, v *domain.CreativeVariant) error
	Get(ctx context.Context, tenantID, id string) (*domain.CreativeVariant, error)
	ListByIntent(ctx context.Context, tenantID, intentID string) ([]*domain.CreativeVariant, error)
	NextVersion(ctx context.Context, tenantID, intentID string, size domain.CreativeSize) (int, error)
	Approve(ctx context.Context, tenantID, id, approverID, hash string) error
}

type AdCopyRepo interface {
	Create(ctx context.Context, v *domain.AdCopy) error
	Get(ctx context.Context, tenantID, id string) (*domain.AdCopy, error)
	ListByIntent(ctx context.Context, tenantID, intentID string) ([]*domain.AdCopy, error)
	NextVersion(ctx context.Context, tenantID, intentID string) (int, error)
	Approve(ctx context.Context, tenantID, id, approverID, hash string) error
}

type AdBundleRepo interface {
	// Create enforces the (run, intent, lp, creative, adcopy) uniqueness
	// invariant, returning apierrors.Conflict on violation.
	Create(ctx context.Context, b *domain.AdBundle) error
	Get(ctx context.Context, tenantID, id string) (*domain.AdBundle, error)
	ListByRun(ctx context.Context, tenantID, runID string) ([]*domain.AdBundle, error)
	UpdateStatus(ctx context.Context, tenantID, id string, status domain.AdBundleStatus) error
	FindByContentKey(ctx context.Context, tenantID, runID, contentKey string) (*domain.AdBundle, error)
}

type DeploymentRepo interface {
	Create(ctx context.Context, d *domain.Deployment) error
	Get(ctx context.Context, tenantID, id string) (*domain.Deployment, error)
	GetLatestForRun(ctx context.Context, tenantID, runID string) (*domain.Deployment, error)
	UpdateStatus(ctx context.Context, tenantID, id string, status domain.DeploymentStatus) error
}

type EventRepo interface {
	// Insert enforces the (tenant, event_id) uniqueness invariant within
	// the 24h dedup window; callers check Exists first to report
	// dedup-vs-reject distinctly per §4.8.
	Insert(ctx context.Context, e *domain.Event) error
	ExistsWithinWindow(ctx context.Context, tenantID, eventID string, window int64, nowMs int64) (bool, error)
	ListByRun(ctx context.Context, tenantID, runID string, since, until int64) ([]*domain.Event, error)
}

type InsightRepo interface {
	UpsertDaily(ctx context.Context, row *domain.InsightDaily, overwrite bool) (skipped bool, err error)
	UpsertHourly(ctx context.Context, row *domain.InsightHourly) error
	ListDailyByBundle(ctx context.Context, tenantID, bundleID string) ([]*domain.InsightDaily, error)
	ListDailyByRun(ctx context.Context, tenantID, runID string) ([]*domain.InsightDaily, error)
}

type DecisionRepo interface {
	Create(ctx context.Context, d *domain.Decision) error
	Get(ctx context.Context, tenantID, id string) (*domain.Decision, error)
	GetFinalForRun(ctx context.Context, tenantID, runID string) (*domain.Decision, error)
	// Finalize enforces "at most one final per run" via a conditional
	// insert/update, returning apierrors.Conflict if one already exists.
	Finalize(ctx context.Context, tenantID, id string) error
	ListByRun(ctx context.Context, tenantID, runID string) ([]*domain.Decision, error)
}

type IncidentRepo interface {
	Create(ctx context.Context, inc *domain.Incident) error
	Get(ctx context.Context, tenantID, id string) (*domain.Incident, error)
	Resolve(ctx context.Context, tenantID, id string) error
	ListByRun(ctx context.Context, tenantID, runID string) ([]*domain.Incident, error)
	ListOpenByTenant(ctx context.Context, tenantID string) ([]*domain.Incident, error)
}

type AuditRepo interface {
	// LatestHash returns the hash of the most recent entry for tenant, or
	// "" if the chain is empty. Implementations must take a per-tenant
	// row lock (or single-writer queue) so concurrent appenders observe a
	// consistent prev_hash, per §5's ordering guarantee.
	LatestHash(ctx context.Context, tenantID string) (string, error)
	Append(ctx context.Context, entry *domain.AuditLog) error
	ListByTenant(ctx context.Context, tenantID string) ([]*domain.AuditLog, error)
}

type JobRepo interface {
	Enqueue(ctx context.Context, j *domain.Job) error
	Get(ctx context.Context, id string) (*domain.Job, error)
	ClaimNext(ctx context.Context, types []domain.JobType) (*domain.Job, error)
	MarkRunning(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id, resultJSON string) error
	MarkFailed(ctx context.Context, id, lastError string) error
	// Retry moves a failed job back to queued without incrementing
	// attempts, per §4.12; it rejects jobs not in status failed or
	// already at max_attempts.
	Retry(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string) error
	ListByRun(ctx context.Context, runID string) ([]*domain.Job, error)
}

type TenantFlagRepo interface {
	Get(ctx context.Context, tenantID, key string) (*domain.TenantFlag, error)
	Set(ctx context.Context, f *domain.TenantFlag) error
	ListByTenant(ctx context.Context, tenantID string) ([]*domain.TenantFlag, error)
}

// PlatformConnectionRepo persists C15's OAuth connections. Token material
// itself never passes through this interface; only the opaque TokenRef
// recorded on domain.PlatformConnection does.
type PlatformConnectionRepo interface {
	Create(ctx context.Context, c *domain.PlatformConnection) error
	Get(ctx context.Context, tenantID, id string) (*domain.PlatformConnection, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*domain.PlatformConnection, error)
	UpdateStatus(ctx context.Context, tenantID, id string, status domain.ConnectionStatus) error
}

// Repos bundles every repository contract, the single dependency most
// business components take.
type Repos struct {
	Tenants      TenantRepo
	Projects     ProjectRepo
	Runs         RunRepo
	Intents      IntentRepo
	LpVariants   LpVariantRepo
	Creatives    CreativeVariantRepo
	AdCopies     AdCopyRepo
	AdBundles    AdBundleRepo
	Deployments  DeploymentRepo
	Events       EventRepo
	Insights     InsightRepo
	Decisions    DecisionRepo
	Incidents    IncidentRepo
	Audit        AuditRepo
	Jobs         JobRepo
	TenantFlags  TenantFlagRepo
	Connections  PlatformConnectionRepo
}
