package httpapi

import (
	"net/http"

	"github.com/abtestlab/controlplane/internal/apierrors"
	"github.com/abtestlab/controlplane/internal/domain"
	"github.com/abtestlab/controlplane/internal/rbac"
	"github.com/gorilla/mux"
)

func (s *Server) handleListFlags(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFrom(r.Context())
	if !s.requireRole(w, r, a, rbac.ResourceFlagOther, rbac.ActionRead) {
		return
	}
	list, err := s.repos.TenantFlags.ListByTenant(r.Context(), a.TenantID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type patchFlagRequest struct {
	Value string `json:"value"`
}

// handlePatchFlag enforces C16's owner-only gate on sensitive keys
// (db_backend, meta_api_enabled) via rbac.CanUpdateFlag before writing,
// rather than relying on the coarser per-resource requireRole check used
// elsewhere.
func (s *Server) handlePatchFlag(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFrom(r.Context())
	key := mux.Vars(r)["key"]
	if !rbac.CanUpdateFlag(a.Role, key) {
		writeError(w, r, apierrors.Forbidden("role %s may not update flag %s", a.Role, key))
		return
	}
	var req patchFlagRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	before, err := s.repos.TenantFlags.Get(r.Context(), a.TenantID, key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	flag := &domain.TenantFlag{TenantID: a.TenantID, Key: key, Value: req.Value, UpdatedAt: now()}
	if err := s.repos.TenantFlags.Set(r.Context(), flag); err != nil {
		writeError(w, r, err)
		return
	}
	s.audit(r, a, "flag.update", "tenant_flag", key, before, flag)
	writeJSON(w, http.StatusOK, flag)
}
