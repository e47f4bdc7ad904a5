// Package report implements the report builder (C14): a single JSON
// document assembling a run's summary, per-intent performance, the
// statistical verdict, a winner block, a budget proposal for
// insufficient results, and a next-run proposal. An orchestrator that
// reads several collaborators' state and folds it into one output
// struct, using dustin/go-humanize for presentation-layer figure
// formatting since raw floats/large ints are humanized for the
// user-visible report.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/abtestlab/controlplane/internal/domain"
	"github.com/abtestlab/controlplane/internal/insights"
	"github.com/abtestlab/controlplane/internal/planner"
	"github.com/abtestlab/controlplane/internal/repo"
	"github.com/abtestlab/controlplane/internal/stats"
)

// RunSummary is the report's top section.
type RunSummary struct {
	RunID            string    `json:"runId"`
	Mode             string    `json:"mode"`
	PeriodStart      time.Time `json:"periodStart"`
	PeriodEnd        time.Time `json:"periodEnd"`
	BudgetCap        float64   `json:"budgetCap"`
	BudgetSpent      float64   `json:"budgetSpent"`
	BudgetSpentHuman string    `json:"budgetSpentHuman"`
	PercentUsed      float64   `json:"percentUsed"`
}

// IntentPerformance is one intent's variant-breakdown row.
type IntentPerformance struct {
	IntentID    string   `json:"intentId"`
	Title       string   `json:"title"`
	Impressions int64    `json:"impressions"`
	Clicks      int64    `json:"clicks"`
	Spend       float64  `json:"spend"`
	Conversions int64    `json:"conversions"`
	CTR         float64  `json:"ctr"`
	CVR         float64  `json:"cvr"`
	CPA         *float64 `json:"cpa"`
	SpendHuman  string   `json:"spendHuman"`
}

// WinnerBlock names the determined winner, when the verdict reached one.
type WinnerBlock struct {
	IntentID  string `json:"intentId"`
	Title     string `json:"title"`
	Rationale string `json:"rationale"`
}

// BudgetProposal is the additional-budget recommendation for an
// insufficient verdict.
type BudgetProposal struct {
	AdditionalClicksNeeded  int64   `json:"additionalClicksNeeded"`
	EstimatedAdditionalCost float64 `json:"estimatedAdditionalCost"`
	EstimatedCostHuman      string  `json:"estimatedCostHuman"`
	Basis                   string  `json:"basis"`
}

// Report is the single JSON document §4.13 assembles.
type Report struct {
	Summary           RunSummary          `json:"summary"`
	IntentPerformance []IntentPerformance `json:"intentPerformance"`
	Verdict           stats.Result        `json:"verdict"`
	Winner            *WinnerBlock        `json:"winner,omitempty"`
	BudgetProposal    *BudgetProposal     `json:"budgetProposal,omitempty"`
	NextRunProposal   []planner.DiffEntry `json:"nextRunProposal"`
}

// Builder assembles Report documents.
type Builder struct {
	repos     *repo.Repos
	generator *planner.Generator
}

// NewBuilder constructs a Builder.
func NewBuilder(repos *repo.Repos, generator *planner.Generator) *Builder {
	return &Builder{repos: repos, generator: generator}
}

// Build assembles the report for one run, per §4.13.
func (b *Builder) Build(ctx context.Context, tenantID, runID string, th stats.Thresholds, now time.Time) (Report, error) {
	run, err := b.repos.Runs.Get(ctx, tenantID, runID)
	if err != nil {
		return Report{}, fmt.Errorf("report: get run: %w", err)
	}

	intentList, err := b.repos.Intents.ListByRun(ctx, tenantID, runID)
	if err != nil {
		return Report{}, fmt.Errorf("report: list intents: %w", err)
	}
	bundles, err := b.repos.AdBundles.ListByRun(ctx, tenantID, runID)
	if err != nil {
		return Report{}, fmt.Errorf("report: list bundles: %w", err)
	}
	dailyRows, err := b.repos.Insights.ListDailyByRun(ctx, tenantID, runID)
	if err != nil {
		return Report{}, fmt.Errorf("report: list insight rows: %w", err)
	}
	events, err := b.repos.Events.ListByRun(ctx, tenantID, runID, 0, now.UnixMilli())
	if err != nil {
		return Report{}, fmt.Errorf("report: list events: %w", err)
	}

	bundleIntent := map[string]string{}
	for _, bd := range bundles {
		bundleIntent[bd.ID] = bd.IntentID
	}

	type accumulator struct {
		impressions, clicks, conversions int64
		spend                            float64
	}
	byIntent := map[string]*accumulator{}
	acc := func(intentID string) *accumulator {
		a, ok := byIntent[intentID]
		if !ok {
			a = &accumulator{}
			byIntent[intentID] = a
		}
		return a
	}

	for _, row := range dailyRows {
		intentID := bundleIntent[row.AdBundleID]
		a := acc(intentID)
		a.impressions += row.Impressions
		a.clicks += row.Clicks
		a.spend += row.Spend
		a.conversions += row.Conversions
	}
	for _, e := range events {
		a := acc(e.IntentID)
		switch e.EventType {
		case domain.EventCTAClick:
			a.clicks++
		case domain.EventFormSuccess:
			a.conversions++
		}
	}

	var performance []IntentPerformance
	var variants []stats.Variant
	titles := map[string]string{}
	for _, in := range intentList {
		titles[in.ID] = in.Title
		a := byIntent[in.ID]
		if a == nil {
			a = &accumulator{}
		}
		m := insights.CombinedMetrics{
			Impressions: a.impressions,
			Clicks:      a.clicks,
			Spend:       a.spend,
			Conversions: a.conversions,
		}
		if m.Impressions > 0 {
			m.CTR = float64(m.Clicks) / float64(m.Impressions)
		}
		if m.Clicks > 0 {
			m.CVR = float64(m.Conversions) / float64(m.Clicks)
		}
		if m.Conversions > 0 {
			cpa := m.Spend / float64(m.Conversions)
			m.CPA = &cpa
		}
		performance = append(performance, IntentPerformance{
			IntentID:    in.ID,
			Title:       in.Title,
			Impressions: m.Impressions,
			Clicks:      m.Clicks,
			Spend:       m.Spend,
			Conversions: m.Conversions,
			CTR:         m.CTR,
			CVR:         m.CVR,
			CPA:         m.CPA,
			SpendHuman:  humanize.Commaf(m.Spend),
		})
		variants = append(variants, stats.Variant{ID: in.ID, Clicks: a.clicks, Conversions: a.conversions})
	}

	verdict := stats.Evaluate(variants, th, stats.DefaultZ)

	var winner *WinnerBlock
	if verdict.WinnerID != "" {
		winner = &WinnerBlock{
			IntentID:  verdict.WinnerID,
			Title:     titles[verdict.WinnerID],
			Rationale: verdict.Rationale,
		}
	}

	var budgetProposal *BudgetProposal
	if verdict.Confidence == "insufficient" && verdict.AdditionalClicksNeeded > 0 {
		costPerClick := 0.0
		if verdict.TotalClicks > 0 {
			var totalSpend float64
			for _, p := range performance {
				totalSpend += p.Spend
			}
			costPerClick = totalSpend / float64(verdict.TotalClicks)
		}
		estimate := costPerClick * float64(verdict.AdditionalClicksNeeded)
		budgetProposal = &BudgetProposal{
			AdditionalClicksNeeded:  verdict.AdditionalClicksNeeded,
			EstimatedAdditionalCost: estimate,
			EstimatedCostHuman:      humanize.Commaf(estimate),
			Basis:                   "observed cost-per-click extrapolated to the additional clicks needed for a confident verdict",
		}
	}

	var nextRunProposal []planner.DiffEntry
	if b.generator != nil {
		proposal, err := b.generator.Propose(ctx, tenantID, runID, planner.Overrides{})
		if err != nil {
			return Report{}, fmt.Errorf("report: propose next run: %w", err)
		}
		nextRunProposal = proposal
	}

	var totalSpend float64
	for _, p := range performance {
		totalSpend += p.Spend
	}
	var percentUsed float64
	if run.BudgetCap > 0 {
		percentUsed = totalSpend / run.BudgetCap * 100
	}

	summary := RunSummary{
		RunID:            run.ID,
		Mode:             string(run.Mode),
		PeriodStart:      run.CreatedAt,
		PeriodEnd:        now,
		BudgetCap:        run.BudgetCap,
		BudgetSpent:      totalSpend,
		BudgetSpentHuman: humanize.Commaf(totalSpend),
		PercentUsed:      percentUsed,
	}

	return Report{
		Summary:           summary,
		IntentPerformance: performance,
		Verdict:           verdict,
		Winner:            winner,
		BudgetProposal:    budgetProposal,
		NextRunProposal:   nextRunProposal,
	}, nil
}
