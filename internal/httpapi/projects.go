package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/abtestlab/controlplane/internal/apierrors"
	"github.com/abtestlab/controlplane/internal/audit"
	"github.com/abtestlab/controlplane/internal/domain"
	"github.com/abtestlab/controlplane/internal/obslog"
	"github.com/abtestlab/controlplane/internal/rbac"
	"github.com/gorilla/mux"
)

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"tenantId": a.TenantID, "userId": a.UserID, "role": string(a.Role)})
}

type createProjectRequest struct {
	Name           string          `json:"name"`
	BrandAssetKeys []string        `json:"brandAssetKeys"`
	ConversionDef  string          `json:"conversionDef"`
	NGRules        domain.NGRules  `json:"ngRules"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFrom(r.Context())
	if !s.requireRole(w, r, a, rbac.ResourceProject, rbac.ActionCreate) {
		return
	}
	var req createProjectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Name == "" {
		writeError(w, r, apierrors.InvalidRequest("name is required"))
		return
	}
	id, err := s.ids.New(now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	ts := now()
	p := &domain.Project{
		ID: id, TenantID: a.TenantID, Name: req.Name,
		BrandAssetKeys: req.BrandAssetKeys, ConversionDef: req.ConversionDef,
		NGRules: req.NGRules, CreatedAt: ts, UpdatedAt: ts,
	}
	if err := s.repos.Projects.Create(r.Context(), p); err != nil {
		writeError(w, r, err)
		return
	}
	s.audit(r, a, "project.create", "project", p.ID, nil, p)
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFrom(r.Context())
	if !s.requireRole(w, r, a, rbac.ResourceProject, rbac.ActionRead) {
		return
	}
	list, err := s.repos.Projects.ListByTenant(r.Context(), a.TenantID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFrom(r.Context())
	if !s.requireRole(w, r, a, rbac.ResourceProject, rbac.ActionRead) {
		return
	}
	id := mux.Vars(r)["id"]
	p, err := s.repos.Projects.Get(r.Context(), a.TenantID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if p == nil {
		writeError(w, r, apierrors.NotFound("project %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type patchProjectRequest struct {
	Name           *string         `json:"name"`
	BrandAssetKeys []string        `json:"brandAssetKeys"`
	ConversionDef  *string         `json:"conversionDef"`
	NGRules        *domain.NGRules `json:"ngRules"`
}

func (s *Server) handlePatchProject(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFrom(r.Context())
	if !s.requireRole(w, r, a, rbac.ResourceProject, rbac.ActionUpdate) {
		return
	}
	id := mux.Vars(r)["id"]
	p, err := s.repos.Projects.Get(r.Context(), a.TenantID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if p == nil {
		writeError(w, r, apierrors.NotFound("project %s not found", id))
		return
	}
	before := *p

	var req patchProjectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Name != nil {
		p.Name = *req.Name
	}
	if req.BrandAssetKeys != nil {
		p.BrandAssetKeys = req.BrandAssetKeys
	}
	if req.ConversionDef != nil {
		p.ConversionDef = *req.ConversionDef
	}
	if req.NGRules != nil {
		p.NGRules = *req.NGRules
	}
	p.UpdatedAt = now()
	if err := s.repos.Projects.Update(r.Context(), p); err != nil {
		writeError(w, r, err)
		return
	}
	s.audit(r, a, "project.update", "project", p.ID, before, p)
	writeJSON(w, http.StatusOK, p)
}

// audit logs one action through the hash-chained logger. A failure here
// is logged but never overrides a response already written for the
// request the audit entry describes.
func (s *Server) audit(r *http.Request, a actor, action, targetType, targetID string, before, after any) {
	if s.auditLogger == nil {
		return
	}
	beforeJSON, _ := json.Marshal(before)
	afterJSON, _ := json.Marshal(after)
	if _, err := s.auditLogger.Log(r.Context(), audit.Entry{
		TenantID:   a.TenantID,
		Actor:      a.UserID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		BeforeJSON: string(beforeJSON),
		AfterJSON:  string(afterJSON),
		RequestID:  requestIDFrom(r.Context()),
	}); err != nil {
		obslog.From(r.Context(), "").Error("audit log append failed", "action", action, "error", err)
	}
}
