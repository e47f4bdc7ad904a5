package httpapi

import (
	"context"
	"net/http"

	"github.com/abtestlab/controlplane/internal/decision"
	"github.com/abtestlab/controlplane/internal/domain"
	"github.com/abtestlab/controlplane/internal/rbac"
	"github.com/abtestlab/controlplane/internal/stats"
	"github.com/gorilla/mux"
)

// runMetricsSource adapts the repository's stored insight rollups and
// first-party events into decision.MetricsSource, aggregating clicks and
// conversions per ad bundle the same way internal/insights.Combine
// approximates a single run's totals, but keeping the per-bundle
// breakdown the statistics kernel needs to rank variants against each
// other.
type runMetricsSource struct{ s *Server }

func (m runMetricsSource) VariantMetrics(ctx context.Context, tenantID, runID string) ([]stats.Variant, error) {
	daily, err := m.s.repos.Insights.ListDailyByRun(ctx, tenantID, runID)
	if err != nil {
		return nil, err
	}
	events, err := m.s.repos.Events.ListByRun(ctx, tenantID, runID, 0, now().UnixMilli())
	if err != nil {
		return nil, err
	}

	byBundle := map[string]*stats.Variant{}
	get := func(id string) *stats.Variant {
		v, ok := byBundle[id]
		if !ok {
			v = &stats.Variant{ID: id}
			byBundle[id] = v
		}
		return v
	}
	for _, row := range daily {
		v := get(row.AdBundleID)
		v.Clicks += row.Clicks
		v.Conversions += row.Conversions
	}
	for _, e := range events {
		if e.AdBundleID == "" {
			continue
		}
		switch e.EventType {
		case domain.EventCTAClick:
			get(e.AdBundleID).Clicks++
		case domain.EventFormSuccess:
			get(e.AdBundleID).Conversions++
		}
	}

	out := make([]stats.Variant, 0, len(byBundle))
	for _, v := range byBundle {
		out = append(out, *v)
	}
	return out, nil
}

type decideRequest struct {
	Persist  bool `json:"persist"`
	Finalize bool `json:"finalize"`
}

func (s *Server) handleDecideRun(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFrom(r.Context())
	if !s.requireRole(w, r, a, rbac.ResourceDecision, rbac.ActionCreate) {
		return
	}
	run, err := s.getRun(r, a, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req decideRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	result, err := s.decisions.Decide(r.Context(), a.TenantID, decision.Input{
		RunID: run.ID, Persist: req.Persist, Finalize: req.Finalize,
	}, runMetricsSource{s: s}, stats.DefaultThresholds)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if result.Decision != nil {
		s.audit(r, a, "decision.decide", "decision", result.Decision.ID, nil, result)
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFrom(r.Context())
	if !s.requireRole(w, r, a, rbac.ResourceRun, rbac.ActionRead) {
		return
	}
	id := mux.Vars(r)["id"]
	if _, err := s.getRun(r, a, id); err != nil {
		writeError(w, r, err)
		return
	}
	rep, err := s.reportB.Build(r.Context(), a.TenantID, id, stats.DefaultThresholds, now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
