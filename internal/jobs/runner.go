package jobs

import (
	"context"
	"fmt"

	"github.com/abtestlab/controlplane/internal/apierrors"
	"github.com/abtestlab/controlplane/internal/domain"
	"github.com/abtestlab/controlplane/internal/ident"
	"github.com/abtestlab/controlplane/internal/obslog"
	"github.com/abtestlab/controlplane/internal/repo"
)

// DefaultMaxAttempts is the default max_attempts per job row.
const DefaultMaxAttempts = 3

// Handler executes one job's payload and returns a result to persist.
type Handler func(ctx context.Context, job *domain.Job) (resultJSON string, err error)

// Runner claims and executes jobs, recording outcomes back through
// repo.JobRepo. A registry of typed handlers invoked by a generic
// execution loop.
type Runner struct {
	jobs     repo.JobRepo
	handlers map[domain.JobType]Handler
}

// NewRunner constructs a Runner.
func NewRunner(jobs repo.JobRepo) *Runner {
	return &Runner{jobs: jobs, handlers: map[domain.JobType]Handler{}}
}

// Register binds a Handler to a job type.
func (r *Runner) Register(t domain.JobType, h Handler) {
	r.handlers[t] = h
}

// RunOne claims the next available job among the given types and
// executes it to completion, returning false if there was no work.
func (r *Runner) RunOne(ctx context.Context, types []domain.JobType) (bool, error) {
	job, err := r.jobs.ClaimNext(ctx, types)
	if err != nil {
		return false, fmt.Errorf("jobs: claim next: %w", err)
	}
	if job == nil {
		return false, nil
	}

	log := obslog.From(ctx, "")
	handler, ok := r.handlers[job.Type]
	if !ok {
		_ = r.jobs.MarkFailed(ctx, job.ID, fmt.Sprintf("no handler registered for job type %s", job.Type))
		return true, nil
	}

	if err := r.jobs.MarkRunning(ctx, job.ID); err != nil {
		return true, fmt.Errorf("jobs: mark running: %w", err)
	}

	result, err := handler(ctx, job)
	if err != nil {
		log.Error("job failed", "jobId", job.ID, "type", job.Type, "error", err)
		if markErr := r.jobs.MarkFailed(ctx, job.ID, err.Error()); markErr != nil {
			return true, fmt.Errorf("jobs: mark failed: %w", markErr)
		}
		return true, nil
	}

	if err := r.jobs.MarkCompleted(ctx, job.ID, result); err != nil {
		return true, fmt.Errorf("jobs: mark completed: %w", err)
	}
	return true, nil
}

// Enqueue persists a new job row and, when q is non-nil, notifies
// waiting workers via JetStream.
func Enqueue(ctx context.Context, jobs repo.JobRepo, q *Queue, ids *ident.Monotonic, tenantID, runID string, t domain.JobType, payloadJSON string) (*domain.Job, error) {
	id, err := ids.New(ident.Now())
	if err != nil {
		return nil, fmt.Errorf("jobs: generate id: %w", err)
	}
	now := ident.Now()
	job := &domain.Job{
		ID:          id,
		TenantID:    tenantID,
		RunID:       runID,
		Type:        t,
		Status:      domain.JobQueued,
		PayloadJSON: payloadJSON,
		MaxAttempts: DefaultMaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := jobs.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("jobs: enqueue: %w", err)
	}
	if q != nil {
		if err := q.Notify(job.ID, t); err != nil {
			return job, fmt.Errorf("jobs: notify queue: %w", err)
		}
	}
	return job, nil
}

// Retry implements the §4.12 retry contract: only from status failed,
// rejected once attempts has reached max_attempts, and it does not
// increment attempts itself (the next execution does, on completion or
// failure).
func Retry(ctx context.Context, jobs repo.JobRepo, job *domain.Job) error {
	if job.Status != domain.JobFailed {
		return apierrors.InvalidStatus(string(job.Status), []string{string(domain.JobFailed)}, "retry is only valid from status failed")
	}
	if job.Attempts >= job.MaxAttempts {
		return apierrors.InvalidRequest("job %s has exhausted its %d retry attempts", job.ID, job.MaxAttempts)
	}
	if err := jobs.Retry(ctx, job.ID); err != nil {
		return fmt.Errorf("jobs: retry: %w", err)
	}
	return nil
}
