// Package incident implements the incident manager (C12): creating
// incidents with their run-pausing side effects, and resolving them with
// an optional opt-in feedback into a project's NG-rules. Every creation
// enqueues a JobNotify job (C13) rather than pushing to an in-process
// sink directly, since this is a server-side control plane with no
// terminal UI of its own.
package incident

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/abtestlab/controlplane/internal/apierrors"
	"github.com/abtestlab/controlplane/internal/domain"
	"github.com/abtestlab/controlplane/internal/ident"
	"github.com/abtestlab/controlplane/internal/repo"
)

// Manager orchestrates incident creation/resolution against the
// repository layer.
type Manager struct {
	repos *repo.Repos
	ids   *ident.Monotonic
}

// NewManager constructs a Manager.
func NewManager(repos *repo.Repos) *Manager {
	return &Manager{repos: repos, ids: ident.NewMonotonic()}
}

// CreateInput is the incident-creation request.
type CreateInput struct {
	RunID       string
	Type        domain.IncidentType
	Severity    domain.Severity
	Description string
}

var severityRank = map[domain.Severity]int{
	domain.SeverityLow:      0,
	domain.SeverityMedium:   1,
	domain.SeverityHigh:     2,
	domain.SeverityCritical: 3,
}

func severityAtLeast(s, floor domain.Severity) bool {
	return severityRank[s] >= severityRank[floor]
}

// Create applies the §4.11 creation side effects: a meta_rejected
// incident on a Running run pauses it; a meta_account_issue or
// api_outage incident at severity high or above on a Running run also
// pauses it; every creation enqueues a notify job.
func (m *Manager) Create(ctx context.Context, tenantID string, in CreateInput) (*domain.Incident, error) {
	run, err := m.repos.Runs.Get(ctx, tenantID, in.RunID)
	if err != nil {
		return nil, fmt.Errorf("incident: get run: %w", err)
	}
	if run == nil {
		return nil, apierrors.NotFound("run %s not found", in.RunID)
	}

	id, err := m.ids.New(ident.Now())
	if err != nil {
		return nil, fmt.Errorf("incident: generate id: %w", err)
	}
	inc := &domain.Incident{
		ID:          id,
		RunID:       in.RunID,
		TenantID:    tenantID,
		Type:        in.Type,
		Severity:    in.Severity,
		Status:      domain.IncidentOpen,
		Description: in.Description,
		CreatedAt:   ident.Now(),
	}
	if err := m.repos.Incidents.Create(ctx, inc); err != nil {
		return nil, fmt.Errorf("incident: create: %w", err)
	}

	shouldPause := run.Status == domain.RunRunning && (
		in.Type == domain.IncidentMetaRejected ||
			((in.Type == domain.IncidentMetaAccountIssue || in.Type == domain.IncidentAPIOutage) && severityAtLeast(in.Severity, domain.SeverityHigh)))

	if shouldPause {
		if err := m.repos.Runs.CompareAndSwapStatus(ctx, tenantID, in.RunID, domain.RunRunning, domain.RunPaused); err != nil {
			return nil, fmt.Errorf("incident: pause run: %w", err)
		}
	}

	if err := m.enqueueNotify(ctx, tenantID, inc); err != nil {
		return nil, err
	}

	return inc, nil
}

func (m *Manager) enqueueNotify(ctx context.Context, tenantID string, inc *domain.Incident) error {
	payload, err := json.Marshal(map[string]string{
		"channel":     "incident",
		"incidentId":  inc.ID,
		"runId":       inc.RunID,
		"type":        string(inc.Type),
		"severity":    string(inc.Severity),
		"description": inc.Description,
	})
	if err != nil {
		return fmt.Errorf("incident: marshal notify payload: %w", err)
	}
	jobID, err := m.ids.New(ident.Now())
	if err != nil {
		return fmt.Errorf("incident: generate notify job id: %w", err)
	}
	job := &domain.Job{
		ID:          jobID,
		TenantID:    tenantID,
		RunID:       inc.RunID,
		Type:        domain.JobNotify,
		Status:      domain.JobQueued,
		PayloadJSON: string(payload),
		MaxAttempts: 3,
		CreatedAt:   ident.Now(),
		UpdatedAt:   ident.Now(),
	}
	if err := m.repos.Jobs.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("incident: enqueue notify job: %w", err)
	}
	return nil
}

// ResolveInput is the incident-resolution request.
type ResolveInput struct {
	IncidentID      string
	PreventionMemo  string
	FeedIntoNGRules bool // explicit opt-in, per §4.11
}

// Resolve marks an incident resolved and, only when explicitly opted
// in, appends the prevention memo to its project's NG-rules as a new
// blocked pattern.
func (m *Manager) Resolve(ctx context.Context, tenantID string, in ResolveInput) error {
	inc, err := m.repos.Incidents.Get(ctx, tenantID, in.IncidentID)
	if err != nil {
		return fmt.Errorf("incident: get: %w", err)
	}
	if inc == nil {
		return apierrors.NotFound("incident %s not found", in.IncidentID)
	}

	if err := m.repos.Incidents.Resolve(ctx, tenantID, in.IncidentID); err != nil {
		return fmt.Errorf("incident: resolve: %w", err)
	}

	if !in.FeedIntoNGRules || in.PreventionMemo == "" {
		return nil
	}

	run, err := m.repos.Runs.Get(ctx, tenantID, inc.RunID)
	if err != nil {
		return fmt.Errorf("incident: get run for ng-rules feedback: %w", err)
	}
	if run == nil {
		return apierrors.NotFound("run %s not found", inc.RunID)
	}
	project, err := m.repos.Projects.Get(ctx, tenantID, run.ProjectID)
	if err != nil {
		return fmt.Errorf("incident: get project for ng-rules feedback: %w", err)
	}
	if project == nil {
		return apierrors.NotFound("project %s not found", run.ProjectID)
	}
	project.NGRules.BlockedPatterns = append(project.NGRules.BlockedPatterns, in.PreventionMemo)
	if err := m.repos.Projects.Update(ctx, project); err != nil {
		return fmt.Errorf("incident: update project ng-rules: %w", err)
	}
	return nil
}
