package planner

import (
	"context"
	"fmt"
)

// Propose computes the diff log generateNextRun would produce for a
// source run and candidate overrides, without creating anything. Report
// builder (C14) uses this for its next-run proposal section so that
// viewing a report never has the side effect of spawning a run.
func (g *Generator) Propose(ctx context.Context, tenantID, sourceRunID string, overrides Overrides) ([]DiffEntry, error) {
	source, err := g.repos.Runs.Get(ctx, tenantID, sourceRunID)
	if err != nil {
		return nil, fmt.Errorf("planner: get source run: %w", err)
	}
	doc, err := Parse([]byte(source.FixedGranul))
	if err != nil {
		return nil, err
	}

	sourceIntents, err := g.repos.Intents.ListByRun(ctx, tenantID, sourceRunID)
	if err != nil {
		return nil, fmt.Errorf("planner: list source intents: %w", err)
	}
	locked := map[string]bool{}
	for _, id := range doc.Fixed.Intent.LockIntentIDs {
		locked[id] = true
	}

	var log []DiffEntry
	for _, intent := range sourceIntents {
		if !locked[intent.ID] && doc.Explore.Intent.AllowReplaceIntents {
			log = append(log, diff(fmt.Sprintf("intent:%s", intent.ID), ChangeRemoved, "not locked, eligible for replacement"))
			continue
		}
		log = append(log, diff(fmt.Sprintf("intent:%s", intent.ID), ChangeUnchanged, "would carry over byte-identical"))
	}

	remaining := doc.Explore.Intent.MaxNewIntents
	for _, spec := range overrides.NewIntents {
		if remaining <= 0 {
			log = append(log, diff("intent:(proposed)", ChangeRemoved, "exceeds explore cap, would be rejected: %q", spec.Title))
			continue
		}
		log = append(log, diff("intent:(proposed)", ChangeAdded, "new exploratory intent %q", spec.Title))
		remaining--
	}

	log = append(log, diff("fixedGranularity", ChangeUnchanged, "fixed/explore document would carry over unchanged"))
	return log, nil
}
