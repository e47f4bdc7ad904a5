package httpapi

import (
	"net/http"

	"github.com/abtestlab/controlplane/internal/apierrors"
	"github.com/abtestlab/controlplane/internal/domain"
	"github.com/abtestlab/controlplane/internal/rbac"
	"github.com/abtestlab/controlplane/internal/repo"
	"github.com/gorilla/mux"
)

// handleApproveVariant dispatches to the right VariantKind's repo, since
// the three variant kinds share the approve-once-immutable contract but
// live behind their own narrow interfaces (internal/repo.repo.go).
func (s *Server) handleApproveVariant(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFrom(r.Context())
	if !s.requireRole(w, r, a, rbac.ResourceRun, rbac.ActionUpdate) {
		return
	}
	vars := mux.Vars(r)
	kind := repo.VariantKind(vars["kind"])
	id := vars["id"]

	var req struct {
		Hash string `json:"hash"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Hash == "" {
		writeError(w, r, apierrors.InvalidRequest("hash is required"))
		return
	}

	var err error
	switch kind {
	case repo.VariantLP:
		err = s.repos.LpVariants.Approve(r.Context(), a.TenantID, id, a.UserID, req.Hash)
	case repo.VariantCreative:
		err = s.repos.Creatives.Approve(r.Context(), a.TenantID, id, a.UserID, req.Hash)
	case repo.VariantAdCopy:
		err = s.repos.AdCopies.Approve(r.Context(), a.TenantID, id, a.UserID, req.Hash)
	default:
		writeError(w, r, apierrors.InvalidRequest("unknown variant kind %q", kind))
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.audit(r, a, "variant.approve", string(kind), id, nil, map[string]string{"approverId": a.UserID})
	writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.ApprovalApproved)})
}
