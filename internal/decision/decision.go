// Package decision implements the decision service (C11): running the
// statistical verdict (C3) against a run's variants, optionally
// persisting it as a draft Decision, and finalizing it into the run's
// terminal Completed transition. An orchestration style that assembles
// inputs from several collaborators and applies one state change, with
// no business logic of its own beyond sequencing stats.Evaluate and the
// repository layer.
package decision

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/abtestlab/controlplane/internal/apierrors"
	"github.com/abtestlab/controlplane/internal/domain"
	"github.com/abtestlab/controlplane/internal/ident"
	"github.com/abtestlab/controlplane/internal/repo"
	"github.com/abtestlab/controlplane/internal/stats"
)

// Service orchestrates decide() calls against the repository layer.
type Service struct {
	repos *repo.Repos
	ids   *ident.Monotonic
}

// NewService constructs a Service.
func NewService(repos *repo.Repos) *Service {
	return &Service{repos: repos, ids: ident.NewMonotonic()}
}

// Input is the decide() request shape of §4.10.
type Input struct {
	RunID    string
	Variants []stats.Variant // optional; when nil, pulled from metrics
	Persist  bool
	Finalize bool
}

// Result is decide()'s response: the statistical verdict plus whatever
// persistence/finalization actually happened.
type Result struct {
	Stats     stats.Result
	Decision  *domain.Decision
	Finalized bool
}

// MetricsSource supplies per-variant aggregated metrics when the caller
// does not pass variants explicitly, fulfilling step 1 of §4.10.
type MetricsSource interface {
	VariantMetrics(ctx context.Context, tenantID, runID string) ([]stats.Variant, error)
}

// Decide runs the five-step sequence of §4.10.
func (s *Service) Decide(ctx context.Context, tenantID string, in Input, metrics MetricsSource, th stats.Thresholds) (Result, error) {
	variants := in.Variants
	if len(variants) == 0 {
		if metrics == nil {
			return Result{}, apierrors.InvalidRequest("decision: no variants supplied and no metrics source available")
		}
		pulled, err := metrics.VariantMetrics(ctx, tenantID, in.RunID)
		if err != nil {
			return Result{}, fmt.Errorf("decision: pull variant metrics: %w", err)
		}
		variants = pulled
	}

	verdict := stats.Evaluate(variants, th, stats.DefaultZ)
	result := Result{Stats: verdict}

	if !in.Persist && !in.Finalize {
		return result, nil
	}

	statsJSON, err := json.Marshal(verdict)
	if err != nil {
		return Result{}, fmt.Errorf("decision: marshal stats result: %w", err)
	}

	ranking := make([]string, 0, len(verdict.Ranking))
	for _, rv := range verdict.Ranking {
		ranking = append(ranking, rv.Variant.ID)
	}

	id, err := s.ids.New(ident.Now())
	if err != nil {
		return Result{}, fmt.Errorf("decision: generate id: %w", err)
	}

	d := &domain.Decision{
		ID:         id,
		RunID:      in.RunID,
		TenantID:   tenantID,
		Status:     domain.DecisionDraft,
		Confidence: domain.DecisionConfidence(verdict.Confidence),
		WinnerID:   verdict.WinnerID,
		Ranking:    ranking,
		StatsJSON:  string(statsJSON),
		Rationale:  verdict.Rationale,
		CreatedAt:  ident.Now(),
	}

	if in.Persist {
		if err := s.repos.Decisions.Create(ctx, d); err != nil {
			return Result{}, fmt.Errorf("decision: create: %w", err)
		}
		result.Decision = d
	}

	if !in.Finalize {
		return result, nil
	}

	// Step 5: not finalizing an insufficient result is still a valid
	// call, it just does not transition anything.
	if verdict.Confidence != "confident" {
		return result, nil
	}

	run, err := s.repos.Runs.Get(ctx, tenantID, in.RunID)
	if err != nil {
		return Result{}, fmt.Errorf("decision: get run: %w", err)
	}
	if run == nil {
		return Result{}, apierrors.NotFound("run %s not found", in.RunID)
	}
	if run.Status != domain.RunRunning && run.Status != domain.RunPaused {
		return result, nil
	}

	if result.Decision == nil {
		// Finalize implies persist even if the caller only asked to
		// finalize without persist=true.
		if err := s.repos.Decisions.Create(ctx, d); err != nil {
			return Result{}, fmt.Errorf("decision: create for finalize: %w", err)
		}
		result.Decision = d
	}

	if err := s.repos.Decisions.Finalize(ctx, tenantID, d.ID); err != nil {
		return Result{}, fmt.Errorf("decision: finalize: %w", err)
	}
	if err := s.repos.Runs.CompareAndSwapStatus(ctx, tenantID, in.RunID, run.Status, domain.RunCompleted); err != nil {
		return Result{}, fmt.Errorf("decision: transition run to completed: %w", err)
	}

	result.Finalized = true
	return result, nil
}
