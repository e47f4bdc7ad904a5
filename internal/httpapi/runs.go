package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/abtestlab/controlplane/internal/apierrors"
	"github.com/abtestlab/controlplane/internal/domain"
	"github.com/abtestlab/controlplane/internal/httpapi/live"
	"github.com/abtestlab/controlplane/internal/insights"
	"github.com/abtestlab/controlplane/internal/planner"
	"github.com/abtestlab/controlplane/internal/rbac"
	"github.com/abtestlab/controlplane/internal/runstate"
	"github.com/abtestlab/controlplane/internal/stoprules"
	"github.com/gorilla/mux"
)

type createRunRequest struct {
	ProjectID string              `json:"projectId"`
	Name      string              `json:"name"`
	Mode      domain.OperationMode `json:"mode"`
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFrom(r.Context())
	if !s.requireRole(w, r, a, rbac.ResourceRun, rbac.ActionCreate) {
		return
	}
	var req createRunRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.ProjectID == "" || req.Name == "" {
		writeError(w, r, apierrors.InvalidRequest("projectId and name are required"))
		return
	}
	if _, err := s.repos.Projects.Get(r.Context(), a.TenantID, req.ProjectID); err != nil {
		writeError(w, r, err)
		return
	}
	id, err := s.ids.New(now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	ts := now()
	run := &domain.Run{
		ID: id, ProjectID: req.ProjectID, TenantID: a.TenantID, Name: req.Name,
		Mode: req.Mode, Status: domain.RunDraft,
		Checklist: map[domain.ChecklistItemKey]domain.ChecklistItemStatus{},
		CreatedAt: ts, UpdatedAt: ts,
	}
	if err := s.repos.Runs.Create(r.Context(), run); err != nil {
		writeError(w, r, err)
		return
	}
	s.audit(r, a, "run.create", "run", run.ID, nil, run)
	writeJSON(w, http.StatusCreated, run)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFrom(r.Context())
	if !s.requireRole(w, r, a, rbac.ResourceRun, rbac.ActionRead) {
		return
	}
	run, err := s.getRun(r, a, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) getRun(r *http.Request, a actor, id string) (*domain.Run, error) {
	run, err := s.repos.Runs.Get(r.Context(), a.TenantID, id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, apierrors.NotFound("run %s not found", id)
	}
	return run, nil
}

type transitionRequest struct {
	To domain.RunStatus `json:"to"`
}

func (s *Server) handleTransitionRun(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFrom(r.Context())
	if !s.requireRole(w, r, a, rbac.ResourceRun, rbac.ActionLaunch) {
		return
	}
	run, err := s.getRun(r, a, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req transitionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	stopRuleCount := 0
	if run.StopRules != "" {
		if doc, err := stoprules.Parse([]byte(run.StopRules)); err == nil {
			stopRuleCount = len(doc.Rules)
		}
	}

	ok, preflight := runstate.ValidateTransition(runstate.TransitionInput{
		Run: run, StopRuleCount: stopRuleCount, ChecklistItems: run.Checklist,
	}, req.To)
	if !ok {
		details := map[string]any{"failedChecks": preflight, "currentStatus": string(run.Status)}
		writeError(w, r, apierrors.InvalidStatus(string(run.Status), stringRunStatuses(runstate.ValidNextStatuses(run.Status)), "transition preflight failed").WithDetails(details))
		return
	}

	if req.To == domain.RunLive {
		checks, blocked := rbac.CheckLaunchGuardrails(rbac.LaunchGuardrailInput{
			Run: run, StopRuleCount: stopRuleCount, Approved: run.ApprovedAt != nil,
		})
		if blocked {
			writeError(w, r, apierrors.GuardrailCheckFailed(rbac.FailedCheckNames(checks)))
			return
		}
	}

	from := run.Status
	if err := s.repos.Runs.CompareAndSwapStatus(r.Context(), a.TenantID, run.ID, from, req.To); err != nil {
		writeError(w, r, err)
		return
	}
	run.Status = req.To
	run.UpdatedAt = now()
	s.audit(r, a, "run.transition", "run", run.ID, map[string]string{"status": string(from)}, map[string]string{"status": string(req.To)})
	s.hub.Broadcast(live.Message{Type: live.EventRunStatus, Data: map[string]string{"runId": run.ID, "status": string(req.To)}})
	writeJSON(w, http.StatusOK, run)
}

func stringRunStatuses(ss []domain.RunStatus) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

func (s *Server) handleGenerateRun(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFrom(r.Context())
	if !s.requireRole(w, r, a, rbac.ResourceRun, rbac.ActionUpdate) {
		return
	}
	run, err := s.getRun(r, a, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !runstate.IsEditable(run.Status) {
		writeError(w, r, apierrors.InvalidStatus(string(run.Status), nil, "run design may not be regenerated once past review"))
		return
	}
	diffs, err := s.generator.Propose(r.Context(), a.TenantID, run.ID, planner.Overrides{})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"diffs": diffs})
}

func (s *Server) handleListRunJobs(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFrom(r.Context())
	if !s.requireRole(w, r, a, rbac.ResourceRun, rbac.ActionRead) {
		return
	}
	id := mux.Vars(r)["id"]
	if _, err := s.getRun(r, a, id); err != nil {
		writeError(w, r, err)
		return
	}
	list, err := s.repos.Jobs.ListByRun(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleNextRun(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFrom(r.Context())
	if !s.requireRole(w, r, a, rbac.ResourceRun, rbac.ActionCreate) {
		return
	}
	run, err := s.getRun(r, a, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	var overrides planner.Overrides
	if r.ContentLength > 0 {
		if err := decodeBody(r, &overrides); err != nil {
			writeError(w, r, err)
			return
		}
	}
	newRunID, diffs, err := s.generator.GenerateNextRun(r.Context(), a.TenantID, run.ID, overrides)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.audit(r, a, "run.next_run", "run", newRunID, map[string]string{"sourceRunId": run.ID}, diffs)
	writeJSON(w, http.StatusCreated, map[string]any{"runId": newRunID, "diffs": diffs})
}

func (s *Server) handleFixedGranularity(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFrom(r.Context())
	if !s.requireRole(w, r, a, rbac.ResourceRun, rbac.ActionUpdate) {
		return
	}
	run, err := s.getRun(r, a, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !runstate.IsEditable(run.Status) {
		writeError(w, r, apierrors.InvalidStatus(string(run.Status), nil, "fixed-granularity locks may only be set before review"))
		return
	}
	body, err := readAndReencode(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := planner.Parse(body); err != nil {
		writeError(w, r, apierrors.InvalidRequest("invalid fixed-granularity document: %v", err))
		return
	}
	run.FixedGranul = string(body)
	run.UpdatedAt = now()
	if err := s.repos.Runs.Update(r.Context(), run); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func readAndReencode(r *http.Request) ([]byte, error) {
	var raw json.RawMessage
	if err := decodeBody(r, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (s *Server) handleRunMetrics(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFrom(r.Context())
	if !s.requireRole(w, r, a, rbac.ResourceRun, rbac.ActionRead) {
		return
	}
	id := mux.Vars(r)["id"]
	if _, err := s.getRun(r, a, id); err != nil {
		writeError(w, r, err)
		return
	}
	daily, err := s.repos.Insights.ListDailyByRun(r.Context(), a.TenantID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	events, err := s.repos.Events.ListByRun(r.Context(), a.TenantID, id, 0, now().UnixMilli())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"combined": insights.Combine(daily, events)})
}
