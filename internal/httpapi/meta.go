package httpapi

import (
	"net/http"

	"github.com/abtestlab/controlplane/internal/apierrors"
	"github.com/abtestlab/controlplane/internal/rbac"
	"github.com/gorilla/mux"
)

type metaConnectStartRequest struct {
	AuthBaseURL string `json:"authBaseUrl"`
	Redirect    string `json:"redirect"`
}

func (s *Server) handleMetaConnectStart(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFrom(r.Context())
	if !s.requireRole(w, r, a, rbac.ResourceProject, rbac.ActionUpdate) {
		return
	}
	var req metaConnectStartRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.AuthBaseURL == "" || req.Redirect == "" {
		writeError(w, r, apierrors.InvalidRequest("authBaseUrl and redirect are required"))
		return
	}
	result, err := s.oauth.StartOAuth(r.Context(), req.AuthBaseURL, a.TenantID, a.UserID, req.Redirect, now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type metaConnectCallbackRequest struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

func (s *Server) handleMetaConnectCallback(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFrom(r.Context())
	if !s.requireRole(w, r, a, rbac.ResourceProject, rbac.ActionUpdate) {
		return
	}
	var req metaConnectCallbackRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	connID, err := s.oauth.CompleteOAuth(r.Context(), req.Code, req.State, now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.audit(r, a, "meta.connect", "platform_connection", connID, nil, nil)
	writeJSON(w, http.StatusCreated, map[string]string{"connectionId": connID})
}

func (s *Server) handleMetaDisconnect(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFrom(r.Context())
	if !s.requireRole(w, r, a, rbac.ResourceProject, rbac.ActionUpdate) {
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.oauth.Revoke(r.Context(), a.TenantID, id); err != nil {
		writeError(w, r, err)
		return
	}
	s.audit(r, a, "meta.disconnect", "platform_connection", id, nil, nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
