// Package stopeval wires the pure stoprules.Evaluate decision into the
// repository layer: it builds an EvaluationContext for a run from stored
// insight and event rows, then applies whatever plan comes back —
// pausing bundles, pausing the run, or raising an incident. This package
// is the apply side of stoprules' decide side.
package stopeval

import (
	"context"
	"fmt"

	"github.com/abtestlab/controlplane/internal/domain"
	"github.com/abtestlab/controlplane/internal/incident"
	"github.com/abtestlab/controlplane/internal/repo"
	"github.com/abtestlab/controlplane/internal/stoprules"
)

// Runner evaluates and applies stop rules for one run at a time.
type Runner struct {
	repos     *repo.Repos
	incidents *incident.Manager
}

// NewRunner constructs a Runner.
func NewRunner(repos *repo.Repos, incidents *incident.Manager) *Runner {
	return &Runner{repos: repos, incidents: incidents}
}

// Result summarizes one evaluation pass, for logging/job results.
type Result struct {
	ActionsApplied []string
	Skipped        []stoprules.SkipReason
}

// Evaluate builds the evaluation context for runID from stored insights
// and events, evaluates its stop-rules document, and applies the
// resulting plan.
func (r *Runner) Evaluate(ctx context.Context, tenantID, runID string, now int64) (Result, error) {
	run, err := r.repos.Runs.Get(ctx, tenantID, runID)
	if err != nil {
		return Result{}, fmt.Errorf("stopeval: get run: %w", err)
	}
	if run == nil {
		return Result{}, fmt.Errorf("stopeval: run %s not found", runID)
	}
	if run.StopRules == "" {
		return Result{}, nil
	}
	doc, err := stoprules.Parse([]byte(run.StopRules))
	if err != nil {
		return Result{}, fmt.Errorf("stopeval: parse stop rules: %w", err)
	}

	evalCtx, err := r.buildContext(ctx, run, now)
	if err != nil {
		return Result{}, err
	}

	plan := stoprules.Evaluate(doc, evalCtx)
	applied, err := r.apply(ctx, run, plan)
	if err != nil {
		return Result{}, err
	}
	return Result{ActionsApplied: applied, Skipped: plan.Skipped}, nil
}

func (r *Runner) buildContext(ctx context.Context, run *domain.Run, now int64) (stoprules.EvaluationContext, error) {
	daily, err := r.repos.Insights.ListDailyByRun(ctx, run.TenantID, run.ID)
	if err != nil {
		return stoprules.EvaluationContext{}, fmt.Errorf("stopeval: list daily insights: %w", err)
	}

	var runStart int64
	if run.LaunchedAt != nil {
		runStart = run.LaunchedAt.Unix()
	}
	evalCtx := stoprules.EvaluationContext{
		RunID:        run.ID,
		RunStartUnix: runStart,
		NowUnix:      now,
		RunStatus:    string(run.Status),
	}

	perBundle := map[string]*stoprules.BundleMetrics{}
	get := func(id string) *stoprules.BundleMetrics {
		b, ok := perBundle[id]
		if !ok {
			b = &stoprules.BundleMetrics{AdBundleID: id}
			perBundle[id] = b
		}
		return b
	}

	dayStartOfToday := now - now%86400
	for _, row := range daily {
		evalCtx.TotalSpend += row.Spend
		evalCtx.TotalConversions += row.Conversions
		evalCtx.TotalClicks += row.Clicks
		evalCtx.TotalImpressions += row.Impressions
		if row.Day.Unix() >= dayStartOfToday {
			evalCtx.DailySpend += row.Spend
		}
		if row.Conversions > 0 {
			end := row.Day.Unix() + 86400
			if end > evalCtx.LastConversionUnix {
				evalCtx.LastConversionUnix = end
			}
		}
		b := get(row.AdBundleID)
		b.Spend += row.Spend
		b.Conversions += row.Conversions
	}

	events, err := r.repos.Events.ListByRun(ctx, run.TenantID, run.ID, 0, now*1000)
	if err != nil {
		return stoprules.EvaluationContext{}, fmt.Errorf("stopeval: list events: %w", err)
	}
	for _, e := range events {
		eventUnix := e.TsMs / 1000
		if eventUnix > evalCtx.LastEventUnix {
			evalCtx.LastEventUnix = eventUnix
		}
	}

	for _, b := range perBundle {
		evalCtx.Bundles = append(evalCtx.Bundles, *b)
	}
	return evalCtx, nil
}

func (r *Runner) apply(ctx context.Context, run *domain.Run, plan stoprules.Plan) ([]string, error) {
	var applied []string
	for _, action := range plan.Actions {
		switch action.Action {
		case stoprules.ActionPauseRun:
			if run.Status == domain.RunRunning || run.Status == domain.RunLive {
				if err := r.repos.Runs.CompareAndSwapStatus(ctx, run.TenantID, run.ID, run.Status, domain.RunPaused); err != nil {
					return applied, fmt.Errorf("stopeval: pause run: %w", err)
				}
				run.Status = domain.RunPaused
			}
			applied = append(applied, fmt.Sprintf("pause_run:%s", action.TriggeredByRuleID))

		case stoprules.ActionPauseBundle:
			for _, bundleID := range action.TargetBundleIDs {
				if err := r.repos.AdBundles.UpdateStatus(ctx, run.TenantID, bundleID, domain.BundlePaused); err != nil {
					return applied, fmt.Errorf("stopeval: pause bundle %s: %w", bundleID, err)
				}
			}
			applied = append(applied, fmt.Sprintf("pause_bundle:%s", action.TriggeredByRuleID))

		case stoprules.ActionCreateIncident:
			if _, err := r.incidents.Create(ctx, run.TenantID, incident.CreateInput{
				RunID:       run.ID,
				Type:        domain.IncidentOther,
				Severity:    domain.Severity(action.Severity),
				Description: action.Reason,
			}); err != nil {
				return applied, fmt.Errorf("stopeval: create incident: %w", err)
			}
			applied = append(applied, fmt.Sprintf("create_incident:%s", action.TriggeredByRuleID))

		case stoprules.ActionNotifyOnly:
			applied = append(applied, fmt.Sprintf("notify_only:%s", action.TriggeredByRuleID))
		}
	}
	return applied, nil
}
