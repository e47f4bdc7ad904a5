package httpapi

import (
	"context"
	"net/http"

	"github.com/abtestlab/controlplane/internal/apierrors"
	"github.com/abtestlab/controlplane/internal/domain"
	"github.com/abtestlab/controlplane/internal/ident"
	"github.com/abtestlab/controlplane/internal/obslog"
	"github.com/abtestlab/controlplane/internal/rbac"
)

type actorKey struct{}
type requestIDKey struct{}

// actor is the authenticated caller, resolved from the tenant/user
// headers against the membership table.
type actor struct {
	TenantID string
	UserID   string
	Role     domain.MembershipRole
}

func actorFrom(ctx context.Context) (actor, bool) {
	a, ok := ctx.Value(actorKey{}).(actor)
	return a, ok
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// authenticate resolves X-Tenant-Id/X-User-Id into a tenant membership
// and role before any handler logic runs. /e and /e/batch are exempt:
// client-side beacons carry no membership, only a run id resolved
// downstream by the ingest package itself.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = ident.MustNew()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)

		if r.URL.Path == "/e" || r.URL.Path == "/e/batch" {
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		tenantID := r.Header.Get("X-Tenant-Id")
		userID := r.Header.Get("X-User-Id")
		if tenantID == "" || userID == "" {
			writeError(w, r, apierrors.Forbidden("missing X-Tenant-Id/X-User-Id identity headers"))
			return
		}
		membership, err := s.repos.Tenants.GetMembership(r.Context(), tenantID, userID)
		if err != nil || membership == nil || membership.Status != domain.MembershipActive {
			writeError(w, r, apierrors.Forbidden("no active membership for tenant %s", tenantID))
			return
		}

		ctx = context.WithValue(ctx, actorKey{}, actor{TenantID: tenantID, UserID: userID, Role: membership.Role})
		ctx = obslog.WithFields(ctx, obslog.Fields{RequestID: reqID, TenantID: tenantID, UserID: userID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole enforces the rbac permission matrix for one (resource,
// action) pair, returning 403 forbidden without calling through when
// denied.
func (s *Server) requireRole(w http.ResponseWriter, r *http.Request, a actor, resource rbac.Resource, action rbac.Action) bool {
	if rbac.Can(a.Role, resource, action) {
		return true
	}
	writeError(w, r, apierrors.Forbidden("role %s may not %s %s", a.Role, action, resource))
	return false
}

// withSecurityHeaders sets X-Content-Type-Options: nosniff and replaces
// the Server header with a fixed "abtestlab" on every response.
func withSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Server", "abtestlab")
		next.ServeHTTP(w, r)
	})
}
