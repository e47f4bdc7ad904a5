package incident

import (
	"context"
	"fmt"
	"testing"

	"github.com/abtestlab/controlplane/internal/domain"
	"github.com/abtestlab/controlplane/internal/repo"
)

type fakeRunRepo struct {
	run *domain.Run
}

func (f *fakeRunRepo) Create(ctx context.Context, r *domain.Run) error { return nil }
func (f *fakeRunRepo) Get(ctx context.Context, tenantID, id string) (*domain.Run, error) {
	return f.run, nil
}
func (f *fakeRunRepo) GetByID(ctx context.Context, id string) (*domain.Run, error) {
	return f.run, nil
}
func (f *fakeRunRepo) Update(ctx context.Context, r *domain.Run) error { return nil }
func (f *fakeRunRepo) CompareAndSwapStatus(ctx context.Context, tenantID, id string, from, to domain.RunStatus) error {
	if f.run.Status != from {
		return fmt.Errorf("cas mismatch: run is %v, expected %v", f.run.Status, from)
	}
	f.run.Status = to
	return nil
}
func (f *fakeRunRepo) ListByProject(ctx context.Context, tenantID, projectID string) ([]*domain.Run, error) {
	return nil, nil
}

func (f *fakeRunRepo) ListActiveRuns(ctx context.Context) ([]*domain.Run, error) {
	return nil, nil
}

type fakeIncidentRepo struct {
	created  []*domain.Incident
	resolved map[string]bool
}

func newFakeIncidentRepo() *fakeIncidentRepo {
	return &fakeIncidentRepo{resolved: map[string]bool{}}
}

func (f *fakeIncidentRepo) Create(ctx context.Context, inc *domain.Incident) error {
	f.created = append(f.created, inc)
	return nil
}
func (f *fakeIncidentRepo) Get(ctx context.Context, tenantID, id string) (*domain.Incident, error) {
	for _, inc := range f.created {
		if inc.ID == id {
			return inc, nil
		}
	}
	return nil, nil
}
func (f *fakeIncidentRepo) Resolve(ctx context.Context, tenantID, id string) error {
	f.resolved[id] = true
	return nil
}
func (f *fakeIncidentRepo) ListByRun(ctx context.Context, tenantID, runID string) ([]*domain.Incident, error) {
	return f.created, nil
}
func (f *fakeIncidentRepo) ListOpenByTenant(ctx context.Context, tenantID string) ([]*domain.Incident, error) {
	return f.created, nil
}

type fakeJobRepo struct {
	enqueued []*domain.Job
}

func (f *fakeJobRepo) Enqueue(ctx context.Context, j *domain.Job) error {
	f.enqueued = append(f.enqueued, j)
	return nil
}
func (f *fakeJobRepo) Get(ctx context.Context, id string) (*domain.Job, error) { return nil, nil }
func (f *fakeJobRepo) ClaimNext(ctx context.Context, types []domain.JobType) (*domain.Job, error) {
	return nil, nil
}
func (f *fakeJobRepo) MarkRunning(ctx context.Context, id string) error           { return nil }
func (f *fakeJobRepo) MarkCompleted(ctx context.Context, id, result string) error { return nil }
func (f *fakeJobRepo) MarkFailed(ctx context.Context, id, lastError string) error { return nil }
func (f *fakeJobRepo) Retry(ctx context.Context, id string) error                 { return nil }
func (f *fakeJobRepo) Cancel(ctx context.Context, id string) error                { return nil }
func (f *fakeJobRepo) ListByRun(ctx context.Context, runID string) ([]*domain.Job, error) {
	return nil, nil
}

type fakeProjectRepo struct {
	project *domain.Project
}

func (f *fakeProjectRepo) Create(ctx context.Context, p *domain.Project) error { return nil }
func (f *fakeProjectRepo) Get(ctx context.Context, tenantID, id string) (*domain.Project, error) {
	return f.project, nil
}
func (f *fakeProjectRepo) Update(ctx context.Context, p *domain.Project) error {
	f.project = p
	return nil
}
func (f *fakeProjectRepo) ListByTenant(ctx context.Context, tenantID string) ([]*domain.Project, error) {
	return nil, nil
}

func newTestRepos(runStatus domain.RunStatus) (*repo.Repos, *fakeRunRepo, *fakeIncidentRepo, *fakeJobRepo, *fakeProjectRepo) {
	runs := &fakeRunRepo{run: &domain.Run{ID: "run1", TenantID: "t1", ProjectID: "proj1", Status: runStatus}}
	incidents := newFakeIncidentRepo()
	jobs := &fakeJobRepo{}
	projects := &fakeProjectRepo{project: &domain.Project{ID: "proj1", TenantID: "t1"}}
	return &repo.Repos{Runs: runs, Incidents: incidents, Jobs: jobs, Projects: projects}, runs, incidents, jobs, projects
}

func TestCreateMetaRejectedPausesRunningRun(t *testing.T) {
	repos, runs, _, jobs, _ := newTestRepos(domain.RunRunning)
	mgr := NewManager(repos)

	_, err := mgr.Create(context.Background(), "t1", CreateInput{
		RunID: "run1", Type: domain.IncidentMetaRejected, Severity: domain.SeverityMedium,
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if runs.run.Status != domain.RunPaused {
		t.Fatalf("run status = %v, want paused", runs.run.Status)
	}
	if len(jobs.enqueued) != 1 || jobs.enqueued[0].Type != domain.JobNotify {
		t.Fatalf("expected one notify job enqueued, got %+v", jobs.enqueued)
	}
}

func TestCreateAccountIssueLowSeverityDoesNotPause(t *testing.T) {
	repos, runs, _, _, _ := newTestRepos(domain.RunRunning)
	mgr := NewManager(repos)

	_, err := mgr.Create(context.Background(), "t1", CreateInput{
		RunID: "run1", Type: domain.IncidentMetaAccountIssue, Severity: domain.SeverityLow,
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if runs.run.Status != domain.RunRunning {
		t.Fatalf("run status = %v, want unchanged running", runs.run.Status)
	}
}

func TestCreateAPIOutageHighSeverityPauses(t *testing.T) {
	repos, runs, _, _, _ := newTestRepos(domain.RunRunning)
	mgr := NewManager(repos)

	_, err := mgr.Create(context.Background(), "t1", CreateInput{
		RunID: "run1", Type: domain.IncidentAPIOutage, Severity: domain.SeverityCritical,
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if runs.run.Status != domain.RunPaused {
		t.Fatalf("run status = %v, want paused", runs.run.Status)
	}
}

func TestCreateDoesNotPauseNonRunningRun(t *testing.T) {
	repos, runs, _, _, _ := newTestRepos(domain.RunDraft)
	mgr := NewManager(repos)

	_, err := mgr.Create(context.Background(), "t1", CreateInput{
		RunID: "run1", Type: domain.IncidentMetaRejected, Severity: domain.SeverityHigh,
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if runs.run.Status != domain.RunDraft {
		t.Fatalf("run status = %v, want unchanged draft", runs.run.Status)
	}
}

func TestResolveWithOptInAppendsBlockedPattern(t *testing.T) {
	repos, _, incidents, _, projects := newTestRepos(domain.RunRunning)
	mgr := NewManager(repos)

	inc, err := mgr.Create(context.Background(), "t1", CreateInput{
		RunID: "run1", Type: domain.IncidentMeasurement, Severity: domain.SeverityMedium,
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	err = mgr.Resolve(context.Background(), "t1", ResolveInput{
		IncidentID:      inc.ID,
		PreventionMemo:  "avoid claim X in ad copy",
		FeedIntoNGRules: true,
	})
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if !incidents.resolved[inc.ID] {
		t.Fatal("expected incident to be marked resolved")
	}
	if len(projects.project.NGRules.BlockedPatterns) != 1 || projects.project.NGRules.BlockedPatterns[0] != "avoid claim X in ad copy" {
		t.Fatalf("unexpected blocked patterns: %+v", projects.project.NGRules.BlockedPatterns)
	}
}

func TestResolveWithoutOptInLeavesNGRulesUnchanged(t *testing.T) {
	repos, _, _, _, projects := newTestRepos(domain.RunRunning)
	mgr := NewManager(repos)

	inc, err := mgr.Create(context.Background(), "t1", CreateInput{
		RunID: "run1", Type: domain.IncidentMeasurement, Severity: domain.SeverityMedium,
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	if err := mgr.Resolve(context.Background(), "t1", ResolveInput{IncidentID: inc.ID}); err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if len(projects.project.NGRules.BlockedPatterns) != 0 {
		t.Fatal("expected no NG-rules change without explicit opt-in")
	}
}
