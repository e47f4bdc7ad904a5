package httpapi

import (
	"net/http"

	"github.com/abtestlab/controlplane/internal/apierrors"
	"github.com/abtestlab/controlplane/internal/rbac"
)

type qaRequest struct {
	RunID string `json:"runId"`
}

func (s *Server) handleQACheck(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFrom(r.Context())
	if !s.requireRole(w, r, a, rbac.ResourceRun, rbac.ActionUpdate) {
		return
	}
	var req qaRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.RunID == "" {
		writeError(w, r, apierrors.InvalidRequest("runId is required"))
		return
	}
	if _, err := s.getRun(r, a, req.RunID); err != nil {
		writeError(w, r, err)
		return
	}
	result, err := s.qaChecker.Check(r.Context(), a.TenantID, req.RunID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleQASmokeTest(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFrom(r.Context())
	if !s.requireRole(w, r, a, rbac.ResourceRun, rbac.ActionUpdate) {
		return
	}
	var req qaRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.RunID == "" {
		writeError(w, r, apierrors.InvalidRequest("runId is required"))
		return
	}
	if _, err := s.getRun(r, a, req.RunID); err != nil {
		writeError(w, r, err)
		return
	}
	result, err := s.qaChecker.SmokeTest(r.Context(), a.TenantID, req.RunID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
