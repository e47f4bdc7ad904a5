package httpapi

import (
	"net/http"

	"github.com/abtestlab/controlplane/internal/apierrors"
	"github.com/abtestlab/controlplane/internal/domain"
	"github.com/abtestlab/controlplane/internal/httpapi/live"
	"github.com/abtestlab/controlplane/internal/incident"
	"github.com/abtestlab/controlplane/internal/rbac"
	"github.com/gorilla/mux"
)

type createIncidentRequest struct {
	RunID       string              `json:"runId"`
	Type        domain.IncidentType `json:"type"`
	Severity    domain.Severity     `json:"severity"`
	Description string              `json:"description"`
}

func (s *Server) handleCreateIncident(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFrom(r.Context())
	if !s.requireRole(w, r, a, rbac.ResourceIncident, rbac.ActionCreate) {
		return
	}
	var req createIncidentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.RunID == "" || req.Type == "" || req.Severity == "" {
		writeError(w, r, apierrors.InvalidRequest("runId, type, and severity are required"))
		return
	}
	if _, err := s.getRun(r, a, req.RunID); err != nil {
		writeError(w, r, err)
		return
	}
	inc, err := s.incidents.Create(r.Context(), a.TenantID, incident.CreateInput{
		RunID: req.RunID, Type: req.Type, Severity: req.Severity, Description: req.Description,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.hub.Broadcast(live.Message{Type: live.EventIncident, Data: inc})
	writeJSON(w, http.StatusCreated, inc)
}

func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFrom(r.Context())
	if !s.requireRole(w, r, a, rbac.ResourceIncident, rbac.ActionRead) {
		return
	}
	if runID := r.URL.Query().Get("runId"); runID != "" {
		list, err := s.repos.Incidents.ListByRun(r.Context(), a.TenantID, runID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
		return
	}
	list, err := s.repos.Incidents.ListOpenByTenant(r.Context(), a.TenantID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type resolveIncidentRequest struct {
	PreventionMemo  string `json:"preventionMemo"`
	FeedIntoNGRules bool   `json:"feedIntoNgRules"`
}

func (s *Server) handleResolveIncident(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFrom(r.Context())
	if !s.requireRole(w, r, a, rbac.ResourceIncident, rbac.ActionUpdate) {
		return
	}
	id := mux.Vars(r)["id"]
	var req resolveIncidentRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if err := s.incidents.Resolve(r.Context(), a.TenantID, incident.ResolveInput{
		IncidentID: id, PreventionMemo: req.PreventionMemo, FeedIntoNGRules: req.FeedIntoNGRules,
	}); err != nil {
		writeError(w, r, err)
		return
	}
	s.audit(r, a, "incident.resolve", "incident", id, nil, req)
	writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.IncidentResolved)})
}
