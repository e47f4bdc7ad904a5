package httpapi

import (
	"io"
	"net"
	"net/http"

	"github.com/abtestlab/controlplane/internal/apierrors"
	"github.com/abtestlab/controlplane/internal/domain"
	"github.com/abtestlab/controlplane/internal/ingest"
	"github.com/abtestlab/controlplane/internal/publish"
	"github.com/abtestlab/controlplane/internal/rbac"
	"github.com/gorilla/mux"
)

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleIngestOne(w http.ResponseWriter, r *http.Request) {
	var raw ingest.RawEvent
	if err := decodeBody(r, &raw); err != nil {
		writeError(w, r, err)
		return
	}
	_, deduped, err := s.intake.One(r.Context(), raw, clientIP(r), now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true, "deduped": deduped})
}

func (s *Server) handleIngestBatch(w http.ResponseWriter, r *http.Request) {
	var raws []ingest.RawEvent
	if err := decodeBody(r, &raws); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.intake.Batch(r.Context(), raws, clientIP(r), now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type registerAdBundleRequest struct {
	RunID             string `json:"runId"`
	IntentID          string `json:"intentId"`
	LpVariantID       string `json:"lpVariantId"`
	CreativeVariantID string `json:"creativeVariantId"`
	AdCopyID          string `json:"adCopyId"`
	PublishedURL      string `json:"publishedUrl"`
}

// handleRegisterAdBundle is the §4.9 manual-mode escape hatch: record a
// bundle created by hand in the ad platform's own UI, deriving the same
// content key and UTM string the automated publish pipeline would have,
// so later insight imports resolve it identically.
func (s *Server) handleRegisterAdBundle(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFrom(r.Context())
	if !s.requireRole(w, r, a, rbac.ResourceRun, rbac.ActionUpdate) {
		return
	}
	var req registerAdBundleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.RunID == "" || req.IntentID == "" || req.LpVariantID == "" || req.CreativeVariantID == "" || req.AdCopyID == "" {
		writeError(w, r, apierrors.InvalidRequest("runId, intentId, lpVariantId, creativeVariantId, adCopyId are required"))
		return
	}
	contentKey := publish.ContentKey(req.IntentID, req.LpVariantID, req.CreativeVariantID, req.AdCopyID)
	utm := publish.BuildUTM(publish.DefaultUTMPolicy(req.RunID), contentKey)

	id, err := s.ids.New(now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	bundle := &domain.AdBundle{
		ID: id, RunID: req.RunID, TenantID: a.TenantID, IntentID: req.IntentID,
		LpVariantID: req.LpVariantID, CreativeVariantID: req.CreativeVariantID, AdCopyID: req.AdCopyID,
		UTMString: utm, TrackingURL: publish.TrackingURL(req.PublishedURL, utm),
		Status: domain.BundleReady, CreatedAt: now(),
	}
	if err := s.repos.AdBundles.Create(r.Context(), bundle); err != nil {
		writeError(w, r, err)
		return
	}
	s.audit(r, a, "ad_bundle.register_manual", "ad_bundle", bundle.ID, nil, bundle)
	writeJSON(w, http.StatusCreated, bundle)
}

func (s *Server) handleImportMetrics(w http.ResponseWriter, r *http.Request) {
	a, _ := actorFrom(r.Context())
	if !s.requireRole(w, r, a, rbac.ResourceRun, rbac.ActionUpdate) {
		return
	}
	runID := r.URL.Query().Get("runId")
	if runID == "" {
		writeError(w, r, apierrors.InvalidRequest("runId query parameter is required"))
		return
	}
	overwrite := r.URL.Query().Get("overwrite") == "true"
	raw, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		writeError(w, r, apierrors.InvalidRequest("failed to read body: %v", err))
		return
	}
	if s.importer == nil {
		writeError(w, r, apierrors.Internal(requestIDFrom(r.Context()), apierrors.InvalidRequest("metrics import is not configured")))
		return
	}
	res, err := s.importer.ImportCSV(r.Context(), a.TenantID, runID, raw, overwrite, "insights/manual")
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.audit(r, a, "metrics.import_manual", "run", runID, nil, res)
	writeJSON(w, http.StatusOK, res)
}
