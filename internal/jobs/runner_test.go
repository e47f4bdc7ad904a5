package jobs

import (
	"context"
	"testing"

	"github.com/abtestlab/controlplane/internal/domain"
)

type fakeJobRepo struct {
	queue    []*domain.Job
	byID     map[string]*domain.Job
	claimErr error
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{byID: map[string]*domain.Job{}}
}

func (f *fakeJobRepo) Enqueue(ctx context.Context, j *domain.Job) error {
	f.queue = append(f.queue, j)
	f.byID[j.ID] = j
	return nil
}
func (f *fakeJobRepo) Get(ctx context.Context, id string) (*domain.Job, error) {
	return f.byID[id], nil
}
func (f *fakeJobRepo) ClaimNext(ctx context.Context, types []domain.JobType) (*domain.Job, error) {
	for i, j := range f.queue {
		if j.Status != domain.JobQueued {
			continue
		}
		for _, t := range types {
			if j.Type == t {
				f.queue = append(f.queue[:i], f.queue[i+1:]...)
				return j, nil
			}
		}
	}
	return nil, nil
}
func (f *fakeJobRepo) MarkRunning(ctx context.Context, id string) error {
	f.byID[id].Status = domain.JobRunning
	return nil
}
func (f *fakeJobRepo) MarkCompleted(ctx context.Context, id, result string) error {
	f.byID[id].Status = domain.JobCompleted
	f.byID[id].ResultJSON = result
	f.byID[id].Attempts++
	return nil
}
func (f *fakeJobRepo) MarkFailed(ctx context.Context, id, lastError string) error {
	f.byID[id].Status = domain.JobFailed
	f.byID[id].LastError = lastError
	f.byID[id].Attempts++
	return nil
}
func (f *fakeJobRepo) Retry(ctx context.Context, id string) error {
	j := f.byID[id]
	j.Status = domain.JobQueued
	f.queue = append(f.queue, j)
	return nil
}
func (f *fakeJobRepo) Cancel(ctx context.Context, id string) error {
	f.byID[id].Status = domain.JobCancelled
	return nil
}
func (f *fakeJobRepo) ListByRun(ctx context.Context, runID string) ([]*domain.Job, error) {
	return nil, nil
}

func TestRunnerExecutesRegisteredHandler(t *testing.T) {
	repo := newFakeJobRepo()
	job := &domain.Job{ID: "j1", Type: domain.JobReport, Status: domain.JobQueued, MaxAttempts: 3}
	repo.Enqueue(context.Background(), job)

	runner := NewRunner(repo)
	runner.Register(domain.JobReport, func(ctx context.Context, j *domain.Job) (string, error) {
		return `{"ok":true}`, nil
	})

	ran, err := runner.RunOne(context.Background(), []domain.JobType{domain.JobReport})
	if err != nil {
		t.Fatalf("RunOne error: %v", err)
	}
	if !ran {
		t.Fatal("expected a job to run")
	}
	if job.Status != domain.JobCompleted || job.ResultJSON != `{"ok":true}` {
		t.Fatalf("unexpected job state: %+v", job)
	}
}

func TestRunnerMarksFailedOnHandlerError(t *testing.T) {
	repo := newFakeJobRepo()
	job := &domain.Job{ID: "j1", Type: domain.JobMetaSync, Status: domain.JobQueued, MaxAttempts: 3}
	repo.Enqueue(context.Background(), job)

	runner := NewRunner(repo)
	runner.Register(domain.JobMetaSync, func(ctx context.Context, j *domain.Job) (string, error) {
		return "", context.DeadlineExceeded
	})

	if _, err := runner.RunOne(context.Background(), []domain.JobType{domain.JobMetaSync}); err != nil {
		t.Fatalf("RunOne error: %v", err)
	}
	if job.Status != domain.JobFailed || job.Attempts != 1 {
		t.Fatalf("unexpected job state: %+v", job)
	}
}

func TestRunnerNoWorkReturnsFalse(t *testing.T) {
	repo := newFakeJobRepo()
	runner := NewRunner(repo)
	ran, err := runner.RunOne(context.Background(), []domain.JobType{domain.JobReport})
	if err != nil || ran {
		t.Fatalf("expected no work, got ran=%v err=%v", ran, err)
	}
}

func TestRetryOnlyFromFailed(t *testing.T) {
	repo := newFakeJobRepo()
	job := &domain.Job{ID: "j1", Status: domain.JobRunning, Attempts: 1, MaxAttempts: 3}
	repo.byID[job.ID] = job

	if err := Retry(context.Background(), repo, job); err == nil {
		t.Fatal("expected retry from non-failed status to be rejected")
	}
}

func TestRetryRejectedAtMaxAttempts(t *testing.T) {
	repo := newFakeJobRepo()
	job := &domain.Job{ID: "j1", Status: domain.JobFailed, Attempts: 3, MaxAttempts: 3}
	repo.byID[job.ID] = job

	if err := Retry(context.Background(), repo, job); err == nil {
		t.Fatal("expected retry at max attempts to be rejected")
	}
}

func TestRetrySucceedsAndDoesNotIncrementAttempts(t *testing.T) {
	repo := newFakeJobRepo()
	job := &domain.Job{ID: "j1", Status: domain.JobFailed, Attempts: 1, MaxAttempts: 3}
	repo.byID[job.ID] = job

	if err := Retry(context.Background(), repo, job); err != nil {
		t.Fatalf("Retry error: %v", err)
	}
	if job.Status != domain.JobQueued {
		t.Fatalf("status = %v, want queued", job.Status)
	}
	if job.Attempts != 1 {
		t.Fatalf("attempts = %d, want unchanged at 1", job.Attempts)
	}
}
