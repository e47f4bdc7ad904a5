// Package httpapi exposes the control plane over HTTP with gorilla/mux.
// Handlers are thin: they decode the request, call into the business
// packages (runstate, rbac, publish, ingest, ...), and translate the
// result (or an *apierrors.Error) into the JSON envelope. No business
// logic lives here — everything past validation is deferred to those
// packages.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/abtestlab/controlplane/internal/apierrors"
	"github.com/abtestlab/controlplane/internal/audit"
	"github.com/abtestlab/controlplane/internal/decision"
	"github.com/abtestlab/controlplane/internal/flags"
	"github.com/abtestlab/controlplane/internal/httpapi/live"
	"github.com/abtestlab/controlplane/internal/ident"
	"github.com/abtestlab/controlplane/internal/incident"
	"github.com/abtestlab/controlplane/internal/ingest"
	"github.com/abtestlab/controlplane/internal/insights"
	"github.com/abtestlab/controlplane/internal/jobs"
	"github.com/abtestlab/controlplane/internal/metaadapter"
	"github.com/abtestlab/controlplane/internal/obslog"
	"github.com/abtestlab/controlplane/internal/planner"
	"github.com/abtestlab/controlplane/internal/publish"
	"github.com/abtestlab/controlplane/internal/qa"
	"github.com/abtestlab/controlplane/internal/repo"
	"github.com/abtestlab/controlplane/internal/report"
	"github.com/gorilla/mux"
)

// Server wires every business component behind the HTTP surface of §6.
type Server struct {
	router *mux.Router
	repos  *repo.Repos
	ids    *ident.Monotonic

	auditLogger *audit.Logger
	flags       *flags.Resolver
	intake      *ingest.Intake
	publishP    *publish.Pipeline
	generator   *planner.Generator
	reportB     *report.Builder
	decisions   *decision.Service
	incidents   *incident.Manager
	oauth       *metaadapter.OAuthManager
	jobQueue    *jobs.Queue
	importer    *insights.Importer
	qaChecker   *qa.Checker
	hub         *live.Hub

	allowedOrigins map[string]bool
}

// Deps bundles every collaborator NewServer wires into handlers.
type Deps struct {
	Repos       *repo.Repos
	Ids         *ident.Monotonic
	AuditLogger *audit.Logger
	Flags       *flags.Resolver
	Intake      *ingest.Intake
	Publish     *publish.Pipeline
	Generator   *planner.Generator
	Report      *report.Builder
	Decisions   *decision.Service
	Incidents   *incident.Manager
	OAuth       *metaadapter.OAuthManager
	JobQueue    *jobs.Queue
	Importer    *insights.Importer
	QAChecker   *qa.Checker
	AllowedOrigins []string
}

// NewServer constructs a Server and registers every route.
func NewServer(d Deps) *Server {
	origins := map[string]bool{}
	for _, o := range d.AllowedOrigins {
		origins[o] = true
	}
	s := &Server{
		router:         mux.NewRouter(),
		repos:          d.Repos,
		ids:            d.Ids,
		auditLogger:    d.AuditLogger,
		flags:          d.Flags,
		intake:         d.Intake,
		publishP:       d.Publish,
		generator:      d.Generator,
		reportB:        d.Report,
		decisions:      d.Decisions,
		incidents:      d.Incidents,
		oauth:          d.OAuth,
		jobQueue:       d.JobQueue,
		importer:       d.Importer,
		qaChecker:      d.QAChecker,
		hub:            live.NewHub(),
		allowedOrigins: origins,
	}
	s.routes()
	return s
}

// Router returns the wired mux.Router, ready for http.ListenAndServe.
func (s *Server) Router() http.Handler {
	return withSecurityHeaders(s.authenticate(s.router))
}

func (s *Server) routes() {
	r := s.router
	r.HandleFunc("/me", s.handleMe).Methods(http.MethodGet)

	r.HandleFunc("/projects", s.handleCreateProject).Methods(http.MethodPost)
	r.HandleFunc("/projects", s.handleListProjects).Methods(http.MethodGet)
	r.HandleFunc("/projects/{id}", s.handleGetProject).Methods(http.MethodGet)
	r.HandleFunc("/projects/{id}", s.handlePatchProject).Methods(http.MethodPatch)

	r.HandleFunc("/runs", s.handleCreateRun).Methods(http.MethodPost)
	r.HandleFunc("/runs/{id}", s.handleGetRun).Methods(http.MethodGet)
	r.HandleFunc("/runs/{id}/transition", s.handleTransitionRun).Methods(http.MethodPost)
	r.HandleFunc("/runs/{id}/generate", s.handleGenerateRun).Methods(http.MethodPost)
	r.HandleFunc("/runs/{id}/jobs", s.handleListRunJobs).Methods(http.MethodGet)
	r.HandleFunc("/runs/{id}/publish", s.handlePublishRun).Methods(http.MethodPost)
	r.HandleFunc("/runs/{id}/rollback", s.handleRollbackRun).Methods(http.MethodPost)
	r.HandleFunc("/runs/{id}/deployment", s.handleGetDeployment).Methods(http.MethodGet)
	r.HandleFunc("/runs/{id}/decide", s.handleDecideRun).Methods(http.MethodPost)
	r.HandleFunc("/runs/{id}/report", s.handleGetReport).Methods(http.MethodGet)
	r.HandleFunc("/runs/{id}/next-run", s.handleNextRun).Methods(http.MethodPost)
	r.HandleFunc("/runs/{id}/fixed-granularity", s.handleFixedGranularity).Methods(http.MethodPost)
	r.HandleFunc("/runs/{id}/metrics", s.handleRunMetrics).Methods(http.MethodGet)

	r.HandleFunc("/variants/{kind}/{id}/approve", s.handleApproveVariant).Methods(http.MethodPost)

	r.HandleFunc("/jobs/{id}/retry", s.handleRetryJob).Methods(http.MethodPost)

	r.HandleFunc("/manual/ad-bundles/register", s.handleRegisterAdBundle).Methods(http.MethodPost)
	r.HandleFunc("/manual/metrics/import", s.handleImportMetrics).Methods(http.MethodPost)

	r.HandleFunc("/qa/check", s.handleQACheck).Methods(http.MethodPost)
	r.HandleFunc("/qa/smoke-test", s.handleQASmokeTest).Methods(http.MethodPost)

	r.HandleFunc("/e", s.handleIngestOne).Methods(http.MethodPost)
	r.HandleFunc("/e/batch", s.handleIngestBatch).Methods(http.MethodPost)

	r.HandleFunc("/meta/connect/start", s.handleMetaConnectStart).Methods(http.MethodPost)
	r.HandleFunc("/meta/connect/callback", s.handleMetaConnectCallback).Methods(http.MethodPost)
	r.HandleFunc("/meta/connections/{id}", s.handleMetaDisconnect).Methods(http.MethodDelete)

	r.HandleFunc("/incidents", s.handleCreateIncident).Methods(http.MethodPost)
	r.HandleFunc("/incidents", s.handleListIncidents).Methods(http.MethodGet)
	r.HandleFunc("/incidents/{id}/resolve", s.handleResolveIncident).Methods(http.MethodPost)

	r.HandleFunc("/tenant/flags", s.handleListFlags).Methods(http.MethodGet)
	r.HandleFunc("/tenant/flags/{key}", s.handlePatchFlag).Methods(http.MethodPatch)

	r.HandleFunc("/live", s.hub.ServeWS(s.checkOrigin))
}

func (s *Server) checkOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	return s.allowedOrigins[origin]
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// writeError translates any error into the {error:{code,message,
// details}} envelope, mapping unrecognised errors to a 500 internal_error
// that does not leak internals past a request id.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if apiErr, ok := apierrors.As(err); ok {
		obslog.From(r.Context(), string(apiErr.Code)).Warn("request failed", "error", apiErr.Error())
		writeJSON(w, apiErr.Code.HTTPStatus(), errorEnvelope{Error: errorBody{
			Code:    string(apiErr.Code),
			Message: apiErr.Message,
			Details: apiErr.Details,
		}})
		return
	}
	requestID := requestIDFrom(r.Context())
	internal := apierrors.Internal(requestID, err)
	obslog.From(r.Context(), string(internal.Code)).Error("unhandled error", "error", err)
	writeJSON(w, http.StatusInternalServerError, errorEnvelope{Error: errorBody{
		Code:    string(internal.Code),
		Message: internal.Message,
		Details: internal.Details,
	}})
}

func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apierrors.InvalidRequest("malformed request body: %v", err)
	}
	return nil
}

func now() time.Time { return time.Now().UTC() }
