// Package domain holds the shared entity types for the experiment control
// plane: tenants, projects, runs, variants, bundles, deployments, events,
// insights, decisions, incidents, jobs and tenant flags. Dynamic JSON
// documents (run design, stop-rules DSL, fixed granularity, decision rules,
// NG rules, evidence) are represented as typed, versioned structs rather
// than raw JSON so they can be validated once at the boundary.
package domain

import "time"

// MembershipRole is the RBAC role carried by a tenant membership.
type MembershipRole string

const (
	RoleOwner    MembershipRole = "owner"
	RoleOperator MembershipRole = "operator"
	RoleReviewer MembershipRole = "reviewer"
	RoleViewer   MembershipRole = "viewer"
)

// MembershipStatus is the lifecycle status of a tenant membership.
type MembershipStatus string

const (
	MembershipActive   MembershipStatus = "active"
	MembershipInvited  MembershipStatus = "invited"
	MembershipDisabled MembershipStatus = "disabled"
)

// Tenant is the isolation root. Every other entity belongs to exactly one
// tenant, transitively.
type Tenant struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Membership ties a user to a tenant with a role.
type Membership struct {
	TenantID  string
	UserID    string
	Role      MembershipRole
	Status    MembershipStatus
	CreatedAt time.Time
}

// NGRules is a project's "no-go" content policy.
type NGRules struct {
	Version           int      `json:"version"`
	BannedTerms       []string `json:"bannedTerms,omitempty"`
	RegexPatterns     []string `json:"regexPatterns,omitempty"`
	RequireDisclaimer bool     `json:"requireDisclaimer"`
	ClaimEvidence     []struct {
		Claim    string `json:"claim"`
		Evidence string `json:"evidence"`
	} `json:"claimEvidence,omitempty"`
	Normalize struct {
		Lowercase    bool `json:"lowercase"`
		StripAccents bool `json:"stripAccents"`
	} `json:"normalize"`
	// BlockedPatterns accumulates opt-in prevention memos fed back from
	// resolved incidents (see incident.Manager.Resolve).
	BlockedPatterns []string `json:"blockedPatterns,omitempty"`
}

// Project is a product/offer under a tenant.
type Project struct {
	ID             string
	TenantID       string
	Name           string
	BrandAssetKeys []string
	ConversionDef  string
	NGRules        NGRules
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OperationMode controls how much of the run lifecycle is automated.
type OperationMode string

const (
	ModeManual OperationMode = "manual"
	ModeHybrid OperationMode = "hybrid"
	ModeAuto   OperationMode = "auto"
)

// RunStatus is one of the eleven run lifecycle states (see runstate).
type RunStatus string

const (
	RunDraft          RunStatus = "draft"
	RunDesigning      RunStatus = "designing"
	RunGenerating     RunStatus = "generating"
	RunReadyForReview RunStatus = "ready_for_review"
	RunApproved       RunStatus = "approved"
	RunPublishing     RunStatus = "publishing"
	RunLive           RunStatus = "live"
	RunRunning        RunStatus = "running"
	RunPaused         RunStatus = "paused"
	RunCompleted      RunStatus = "completed"
	RunArchived       RunStatus = "archived"
)

// RunDesign is the versioned run-design document.
type RunDesign struct {
	Version         int      `json:"version"`
	DailyBudget     float64  `json:"dailyBudget,omitempty"`
	LifetimeBudget  float64  `json:"lifetimeBudget,omitempty"`
	Currency        string   `json:"currency,omitempty"`
	CompareAxis     []string `json:"compareAxis,omitempty"`
	BackendOverride string   `json:"backendOverride,omitempty"`
}

// HasBudget reports whether either budget field is positive, per the
// BUDGET_NOT_SET preflight check.
func (d RunDesign) HasBudget() bool {
	return d.DailyBudget > 0 || d.LifetimeBudget > 0
}

// ChecklistItemKey names a manual-mode launch checklist entry.
type ChecklistItemKey string

const (
	ChecklistReviewRunDesign     ChecklistItemKey = "review_run_design"
	ChecklistReviewStopRules     ChecklistItemKey = "review_stop_rules"
	ChecklistReviewBudget        ChecklistItemKey = "review_budget"
	ChecklistReviewVariants      ChecklistItemKey = "review_variants"
	ChecklistConfirmMetaConn     ChecklistItemKey = "confirm_meta_connection"
	ChecklistConfirmStart        ChecklistItemKey = "confirm_start"
)

// ManualChecklistTemplate is the fixed checklist for manual-mode runs.
var ManualChecklistTemplate = []ChecklistItemKey{
	ChecklistReviewRunDesign,
	ChecklistReviewStopRules,
	ChecklistReviewBudget,
	ChecklistReviewVariants,
	ChecklistConfirmMetaConn,
	ChecklistConfirmStart,
}

// ChecklistItemStatus is the completion state of one checklist entry.
type ChecklistItemStatus string

const (
	ChecklistPending   ChecklistItemStatus = "pending"
	ChecklistCompleted ChecklistItemStatus = "completed"
)

// Run is one experiment under a project.
type Run struct {
	ID             string
	ProjectID      string
	TenantID       string
	Name           string
	Mode           OperationMode
	Status         RunStatus
	Design         RunDesign
	StopRules      string // raw stop-rules DSL JSON, parsed on demand (see stoprules)
	FixedGranul    string // raw fixed-granularity JSON (see planner)
	DecisionRules  string // raw decision-rules JSON overrides (see stats)
	BudgetCap      float64
	Checklist      map[ChecklistItemKey]ChecklistItemStatus
	ApprovedAt     *time.Time
	PublishedAt    *time.Time
	LaunchedAt     *time.Time
	CompletedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ApprovalStatus is shared by LpVariant/CreativeVariant/AdCopy.
type ApprovalStatus string

const (
	ApprovalDraft     ApprovalStatus = "draft"
	ApprovalSubmitted ApprovalStatus = "submitted"
	ApprovalApproved  ApprovalStatus = "approved"
	ApprovalRejected  ApprovalStatus = "rejected"
)

// Intent is a hypothesis under a run.
type Intent struct {
	ID         string
	RunID      string
	TenantID   string
	Title      string
	Hypothesis string
	Evidence   string
	FAQ        string
	Priority   int
	Active     bool
	CreatedAt  time.Time
}

// CreativeSize enumerates the supported creative aspect ratios.
type CreativeSize string

const (
	SizeSquare    CreativeSize = "1:1"
	SizePortrait4 CreativeSize = "4:5"
	SizeStory     CreativeSize = "9:16"
)

// LpVariant is a landing-page variant under an intent.
type LpVariant struct {
	ID            string
	IntentID      string
	TenantID      string
	Version       int
	Content       string
	ContentHash   string
	ApprovedHash  string
	Status        ApprovalStatus
	ApproverID    string
	PublishedURL  string
	CreatedAt     time.Time
}

// CreativeVariant is a banner/image variant under an intent, sized.
type CreativeVariant struct {
	ID           string
	IntentID     string
	TenantID     string
	Size         CreativeSize
	Version      int
	Content      string
	ContentHash  string
	ApprovedHash string
	Status       ApprovalStatus
	ApproverID   string
	CreatedAt    time.Time
}

// AdCopy is a copy variant under an intent.
type AdCopy struct {
	ID           string
	IntentID     string
	TenantID     string
	Version      int
	Content      string
	ContentHash  string
	ApprovedHash string
	Status       ApprovalStatus
	ApproverID   string
	CreatedAt    time.Time
}

// AdBundleStatus is the lifecycle of a published bundle.
type AdBundleStatus string

const (
	BundleReady    AdBundleStatus = "ready"
	BundleRunning  AdBundleStatus = "running"
	BundlePaused   AdBundleStatus = "paused"
	BundleArchived AdBundleStatus = "archived"
)

// AdBundle is the unit run against the ad platform.
type AdBundle struct {
	ID                string
	RunID             string
	TenantID          string
	IntentID          string
	LpVariantID       string
	CreativeVariantID string
	AdCopyID          string
	UTMString         string
	TrackingURL       string
	Status            AdBundleStatus
	CreatedAt         time.Time
}

// DeploymentStatus is the lifecycle of a publish snapshot.
type DeploymentStatus string

const (
	DeploymentDraft      DeploymentStatus = "draft"
	DeploymentPublished  DeploymentStatus = "published"
	DeploymentRolledBack DeploymentStatus = "rolled_back"
	DeploymentArchived   DeploymentStatus = "archived"
)

// Deployment is an immutable snapshot of a publish operation.
type Deployment struct {
	ID          string
	RunID       string
	TenantID    string
	ManifestKey string
	URLs        []string
	Status      DeploymentStatus
	CreatedAt   time.Time
}

// EventType enumerates first-party event kinds.
type EventType string

const (
	EventPageview     EventType = "pageview"
	EventCTAClick     EventType = "cta_click"
	EventFormSubmit   EventType = "form_submit"
	EventFormSuccess  EventType = "form_success"
)

// Event is a first-party signal.
type Event struct {
	ID                string
	TenantID          string
	EventID           string // client-supplied idempotency key
	TsMs              int64
	EventType         EventType
	SessionID         string
	RunID             string
	LpVariantID       string
	PageURL           string
	Referrer          string
	UserAgent         string
	Meta              map[string]string
	AdBundleID        string
	CreativeVariantID string
	IntentID          string
	IPHash            string
	ReceivedAt        time.Time
}

// InsightSource distinguishes platform-pulled from manually imported data.
type InsightSource string

const (
	InsightMeta   InsightSource = "meta"
	InsightManual InsightSource = "manual"
)

// InsightHourly is an hourly per-bundle rollup.
type InsightHourly struct {
	AdBundleID  string
	TenantID    string
	Hour        time.Time
	Impressions int64
	Clicks      int64
	Spend       float64
	Conversions int64
	Source      InsightSource
}

// InsightDaily is a daily per-bundle rollup.
type InsightDaily struct {
	AdBundleID  string
	TenantID    string
	Day         time.Time
	Impressions int64
	Clicks      int64
	Spend       float64
	Conversions int64
	Source      InsightSource
}

// DecisionConfidence is the tri-state statistical verdict.
type DecisionConfidence string

const (
	ConfidenceInsufficient DecisionConfidence = "insufficient"
	ConfidenceDirectional  DecisionConfidence = "directional"
	ConfidenceConfident    DecisionConfidence = "confident"
)

// DecisionStatus distinguishes a working decision from the final one.
type DecisionStatus string

const (
	DecisionDraft DecisionStatus = "draft"
	DecisionFinal DecisionStatus = "final"
)

// Decision is a statistical verdict for a run.
type Decision struct {
	ID         string
	RunID      string
	TenantID   string
	Status     DecisionStatus
	Confidence DecisionConfidence
	WinnerID   string // bundle/intent id, empty if no winner
	Ranking    []string
	StatsJSON  string
	Rationale  string
	CreatedAt  time.Time
}

// IncidentType enumerates incident categories.
type IncidentType string

const (
	IncidentMetaRejected     IncidentType = "meta_rejected"
	IncidentMetaAccountIssue IncidentType = "meta_account_issue"
	IncidentAPIOutage        IncidentType = "api_outage"
	IncidentMeasurement      IncidentType = "measurement_issue"
	IncidentOther            IncidentType = "other"
)

// Severity is shared by incidents and stop-rule actions.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IncidentStatus is the lifecycle of an incident.
type IncidentStatus string

const (
	IncidentOpen       IncidentStatus = "open"
	IncidentMitigating IncidentStatus = "mitigating"
	IncidentResolved   IncidentStatus = "resolved"
)

// Incident is a correctness event raised against a run.
type Incident struct {
	ID          string
	RunID       string
	TenantID    string
	Type        IncidentType
	Severity    Severity
	Status      IncidentStatus
	Description string
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}

// JobType enumerates asynchronous work item kinds.
type JobType string

const (
	JobGenerate    JobType = "generate"
	JobQASmoke     JobType = "qa_smoke"
	JobPublish     JobType = "publish"
	JobMetaSync    JobType = "meta_sync"
	JobStopEval    JobType = "stop_eval"
	JobReport      JobType = "report"
	JobNotify      JobType = "notify"
	JobImportParse JobType = "import_parse"
)

// JobStatus is the lifecycle of a job row.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobFailed    JobStatus = "failed"
	JobCompleted JobStatus = "completed"
	JobCancelled JobStatus = "cancelled"
)

// Job is an asynchronous work item.
type Job struct {
	ID          string
	TenantID    string
	RunID       string
	Type        JobType
	Status      JobStatus
	PayloadJSON string
	Attempts    int
	MaxAttempts int
	LastError   string
	ResultJSON  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TenantFlag is a per-tenant key/value feature toggle or backend selector.
type TenantFlag struct {
	TenantID  string
	Key       string
	Value     string
	UpdatedAt time.Time
}

// Backend-selection flag keys, part of C16.
const (
	FlagDBBackend           = "db_backend"
	FlagOperationModeDefault = "operation_mode_default"
	FlagFeatureGeneration   = "features.generation"
	FlagFeatureQA           = "features.qa"
	FlagMetaAPIEnabled      = "meta_api_enabled"
)

// ConnectionStatus is the lifecycle state of a platform connection.
type ConnectionStatus string

const (
	ConnectionActive  ConnectionStatus = "active"
	ConnectionRevoked ConnectionStatus = "revoked"
)

// PlatformConnection records one tenant's OAuth grant to an ad platform.
// The access token itself is never stored here: TokenRef is an opaque
// handle the adapter's token store resolves internally, so core code
// never sees token material.
type PlatformConnection struct {
	ID         string
	TenantID   string
	UserID     string
	Platform   string
	TokenRef   string
	AccountID  string
	Status     ConnectionStatus
	CreatedAt  time.Time
	RevokedAt  time.Time
}

// AuditLog is one entry in a tenant's hash-chained audit log.
type AuditLog struct {
	ID         string
	TenantID   string
	Actor      string
	Action     string
	TargetType string
	TargetID   string
	BeforeJSON string
	AfterJSON  string
	PrevHash   string
	Hash       string
	RequestID  string
	TsMs       int64
}
