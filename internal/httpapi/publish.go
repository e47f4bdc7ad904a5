package httpapi

import (
	"net/http"

	"github.com/abtestlab/controlplane/internal/apierrors"
	"github.com/abtestlab/controlplane/internal/httpapi/live"
	"github.com/abtestlab/controlplane/internal/publish"
	"github.com/abtestlab/controlplane/internal/rbac"
	"github.com/gorilla/mux"
)

func (s *Server) handlePublishRun(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFrom(r.Context())
	if !s.requireRole(w, r, a, rbac.ResourceRun, rbac.ActionLaunch) {
		return
	}
	run, err := s.getRun(r, a, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	policy := publish.DefaultUTMPolicy(run.ID)
	deployment, err := s.publishP.Publish(r.Context(), a.TenantID, run.ID, policy)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.audit(r, a, "run.publish", "deployment", deployment.ID, nil, deployment)
	s.hub.Broadcast(live.Message{Type: live.EventRunStatus, Data: map[string]string{"runId": run.ID, "deploymentId": deployment.ID}})
	writeJSON(w, http.StatusCreated, deployment)
}

func (s *Server) handleRollbackRun(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFrom(r.Context())
	if !s.requireRole(w, r, a, rbac.ResourceRun, rbac.ActionUpdate) {
		return
	}
	run, err := s.getRun(r, a, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.publishP.Rollback(r.Context(), a.TenantID, run.ID); err != nil {
		writeError(w, r, err)
		return
	}
	s.audit(r, a, "run.rollback", "run", run.ID, nil, nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "rolled_back"})
}

func (s *Server) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFrom(r.Context())
	if !s.requireRole(w, r, a, rbac.ResourceRun, rbac.ActionRead) {
		return
	}
	id := mux.Vars(r)["id"]
	if _, err := s.getRun(r, a, id); err != nil {
		writeError(w, r, err)
		return
	}
	d, err := s.repos.Deployments.GetLatestForRun(r.Context(), a.TenantID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if d == nil {
		writeError(w, r, apierrors.NotFound("no deployment for run %s", id))
		return
	}
	writeJSON(w, http.StatusOK, d)
}
