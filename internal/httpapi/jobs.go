package httpapi

import (
	"net/http"

	"github.com/abtestlab/controlplane/internal/apierrors"
	"github.com/abtestlab/controlplane/internal/jobs"
	"github.com/abtestlab/controlplane/internal/rbac"
	"github.com/gorilla/mux"
)

func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFrom(r.Context())
	if !s.requireRole(w, r, a, rbac.ResourceRun, rbac.ActionUpdate) {
		return
	}
	id := mux.Vars(r)["id"]
	job, err := s.repos.Jobs.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if job == nil || job.TenantID != a.TenantID {
		writeError(w, r, apierrors.NotFound("job %s not found", id))
		return
	}
	if err := jobs.Retry(r.Context(), s.repos.Jobs, job); err != nil {
		writeError(w, r, err)
		return
	}
	if s.jobQueue != nil {
		_ = s.jobQueue.Notify(job.ID, job.Type)
	}
	s.audit(r, a, "job.retry", "job", id, nil, nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "queued"})
}
