package planner

import (
	"context"
	"fmt"

	"github.com/abtestlab/controlplane/internal/apierrors"
	"github.com/abtestlab/controlplane/internal/domain"
	"github.com/abtestlab/controlplane/internal/ident"
	"github.com/abtestlab/controlplane/internal/repo"
)

// NewIntentSpec describes an exploratory intent to add to the child run,
// subject to the source's explore.intent.maxNewIntents cap.
type NewIntentSpec struct {
	Title      string
	Hypothesis string
	Evidence   string
	FAQ        string
	Priority   int
}

// Overrides is the optional generateNextRun() input beyond the source
// run's own fixed/explore document.
type Overrides struct {
	NewIntents []NewIntentSpec
}

// Generator builds child runs from a source run's fixed/explore policy.
type Generator struct {
	repos *repo.Repos
	ids   *ident.Monotonic
}

// NewGenerator constructs a Generator.
func NewGenerator(repos *repo.Repos) *Generator {
	return &Generator{repos: repos, ids: ident.NewMonotonic()}
}

// GenerateNextRun implements §4.6's generateNextRun(sourceRunId,
// overrides?): it creates a new Draft run under the same project,
// copies every locked intent byte-identical, and applies at most
// explore.intent.maxNewIntents new intents from overrides, recording a
// diff entry for every decision made along the way.
func (g *Generator) GenerateNextRun(ctx context.Context, tenantID, sourceRunID string, overrides Overrides) (string, []DiffEntry, error) {
	source, err := g.repos.Runs.Get(ctx, tenantID, sourceRunID)
	if err != nil {
		return "", nil, fmt.Errorf("planner: get source run: %w", err)
	}

	doc, err := Parse([]byte(source.FixedGranul))
	if err != nil {
		return "", nil, err
	}

	if len(overrides.NewIntents) > doc.Explore.Intent.MaxNewIntents {
		return "", nil, apierrors.InvalidRequest(
			"generateNextRun: %d new intents requested exceeds explore cap of %d",
			len(overrides.NewIntents), doc.Explore.Intent.MaxNewIntents)
	}

	newRunID, err := g.ids.New(ident.Now())
	if err != nil {
		return "", nil, fmt.Errorf("planner: generate run id: %w", err)
	}
	now := ident.Now()
	newRun := &domain.Run{
		ID:            newRunID,
		ProjectID:     source.ProjectID,
		TenantID:      tenantID,
		Name:          source.Name + " (next)",
		Mode:          source.Mode,
		Status:        domain.RunDraft,
		Design:        source.Design,
		StopRules:     source.StopRules,
		FixedGranul:   source.FixedGranul,
		DecisionRules: source.DecisionRules,
		BudgetCap:     source.BudgetCap,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := g.repos.Runs.Create(ctx, newRun); err != nil {
		return "", nil, fmt.Errorf("planner: create next run: %w", err)
	}

	var log []DiffEntry

	sourceIntents, err := g.repos.Intents.ListByRun(ctx, tenantID, sourceRunID)
	if err != nil {
		return "", nil, fmt.Errorf("planner: list source intents: %w", err)
	}
	locked := map[string]bool{}
	for _, id := range doc.Fixed.Intent.LockIntentIDs {
		locked[id] = true
	}

	for _, intent := range sourceIntents {
		if !locked[intent.ID] {
			if doc.Explore.Intent.AllowReplaceIntents {
				log = append(log, diff(fmt.Sprintf("intent:%s", intent.ID), ChangeRemoved, "not locked, eligible for replacement"))
				continue
			}
			// Not locked and replacement isn't allowed: carried over
			// byte-identical, same as a locked intent.
		}

		copied := &domain.Intent{
			ID:         mustID(g.ids),
			RunID:      newRunID,
			TenantID:   tenantID,
			Title:      intent.Title,
			Hypothesis: intent.Hypothesis,
			Evidence:   intent.Evidence,
			FAQ:        intent.FAQ,
			Priority:   intent.Priority,
			Active:     intent.Active,
			CreatedAt:  ident.Now(),
		}
		if err := g.repos.Intents.Create(ctx, copied); err != nil {
			return "", nil, fmt.Errorf("planner: copy locked intent %s: %w", intent.ID, err)
		}
		log = append(log, diff(fmt.Sprintf("intent:%s", intent.ID), ChangeUnchanged, "carried over byte-identical"))
	}

	for _, spec := range overrides.NewIntents {
		added := &domain.Intent{
			ID:         mustID(g.ids),
			RunID:      newRunID,
			TenantID:   tenantID,
			Title:      spec.Title,
			Hypothesis: spec.Hypothesis,
			Evidence:   spec.Evidence,
			FAQ:        spec.FAQ,
			Priority:   spec.Priority,
			Active:     true,
			CreatedAt:  ident.Now(),
		}
		if err := g.repos.Intents.Create(ctx, added); err != nil {
			return "", nil, fmt.Errorf("planner: create new intent: %w", err)
		}
		log = append(log, diff(fmt.Sprintf("intent:%s", added.ID), ChangeAdded, "new exploratory intent %q", spec.Title))
	}

	log = append(log, diff("fixedGranularity", ChangeUnchanged, "fixed/explore document carried over unchanged"))

	return newRunID, log, nil
}

func mustID(ids *ident.Monotonic) string {
	id, err := ids.New(ident.Now())
	if err != nil {
		// The monotonic generator only errors on same-millisecond
		// random-suffix overflow, which needs ~2^80 ids in one
		// millisecond; treated as unreachable in-process.
		panic(fmt.Sprintf("planner: id generation overflow: %v", err))
	}
	return id
}
