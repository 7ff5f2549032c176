package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/topoclimb/topoclimb/internal/platform/httpx"
	"github.com/topoclimb/topoclimb/internal/shared"
)

// Roles known to the application.
const (
	RoleAdmin   = "admin"
	RoleClimber = "climber"
)

// RoleResolver looks up the role of a user.
type RoleResolver interface {
	UserRole(ctx context.Context, userID int64) (string, error)
}

// Middleware wires role checks for HTTP handlers.
type Middleware struct {
	Roles  RoleResolver
	Logger *slog.Logger
	Audit  shared.AuditRecorder
	// LoginPath receives anonymous HTML requests. Defaults to /auth/login.
	LoginPath string
}

// RequireUser ensures the request carries an authenticated session.
func (m Middleware) RequireUser() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := shared.CurrentUserID(r.Context()); !ok {
				m.unauthenticated(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole ensures the current user holds one of roles.
func (m Middleware) RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := normalizeRoles(roles)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := shared.CurrentUserID(r.Context())
			if !ok {
				m.unauthenticated(w, r)
				return
			}
			if len(allowed) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			role, err := m.Roles.UserRole(r.Context(), userID)
			if err != nil {
				m.logger().Error("rbac resolve role", slog.Int64("user_id", userID), slog.Any("error", err))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if _, ok := allowed[strings.ToLower(role)]; ok {
				next.ServeHTTP(w, r)
				return
			}
			m.forbidden(w, r, role)
		})
	}
}

func (m Middleware) unauthenticated(w http.ResponseWriter, r *http.Request) {
	if isAPI(r) {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return
	}
	login := m.LoginPath
	if login == "" {
		login = "/auth/login"
	}
	target := login
	if r.Method == http.MethodGet {
		target += "?" + url.Values{"next": {r.URL.RequestURI()}}.Encode()
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (m Middleware) forbidden(w http.ResponseWriter, r *http.Request, role string) {
	if m.Audit != nil {
		event := shared.RequestAuditEvent(r, shared.AuditForbidden, shared.AuditSeverityMedium, "role", role)
		if err := m.Audit.Record(r.Context(), event); err != nil {
			m.logger().Error("record forbidden audit event", slog.Any("error", err))
		}
	}
	if isAPI(r) {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
		return
	}
	http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
}

func (m Middleware) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

func isAPI(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/")
}

func normalizeRoles(roles []string) map[string]struct{} {
	set := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		role = strings.TrimSpace(strings.ToLower(role))
		if role != "" {
			set[role] = struct{}{}
		}
	}
	return set
}
