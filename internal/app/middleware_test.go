package app

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/topoclimb/topoclimb/internal/shared"
	"github.com/topoclimb/topoclimb/internal/view"
)

type stack struct {
	handler http.Handler
	cookie  *http.Cookie
	token   string
}

func newStack(t *testing.T, cfg *Config, opts shared.CSRFOptions) *stack {
	t.Helper()
	templates, err := view.NewEngine()
	require.NoError(t, err)
	csrf, err := shared.NewCSRFManager(opts)
	require.NoError(t, err)
	sessions := shared.NewSessionManager(shared.NewMemoryBackend(time.Hour), "topoclimb_session", "secret", time.Hour, false)

	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Config:         cfg,
		Templates:      templates,
		SessionManager: sessions,
		CSRFManager:    csrf,
	}) {
		r.Use(mw)
	}
	r.Get("/token", func(w http.ResponseWriter, r *http.Request) {
		token, err := csrf.EnsureToken(r.Context(), shared.SessionFromContext(r.Context()))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, token)
	})
	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }
	r.Post("/routes/1/ascents", ok)
	r.Post("/api/v1/ascents", ok)
	r.Post("/auth/logout", ok)
	return &stack{handler: r}
}

func (s *stack) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	if s.cookie != nil {
		req.AddCookie(s.cookie)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		if c.Name == "topoclimb_session" {
			s.cookie = c
		}
	}
	return rec
}

func (s *stack) fetchToken(t *testing.T) string {
	t.Helper()
	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/token", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	s.token = rec.Body.String()
	require.NotEmpty(t, s.token)
	return s.token
}

func postForm(target string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestSessionTokenSurvivesRequests(t *testing.T) {
	s := newStack(t, &Config{}, shared.CSRFOptions{})
	first := s.fetchToken(t)
	require.NotNil(t, s.cookie, "session cookie is committed")
	assert.True(t, s.cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, s.cookie.SameSite)
	assert.Equal(t, first, s.fetchToken(t))
}

func TestCSRFMiddleware(t *testing.T) {
	s := newStack(t, &Config{}, shared.CSRFOptions{Exempt: []string{"/auth/logout"}})
	token := s.fetchToken(t)

	rec := s.do(t, postForm("/routes/1/ascents", url.Values{"style": {"flash"}}))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "missing its CSRF token")

	rec = s.do(t, postForm("/routes/1/ascents", url.Values{shared.CSRFFormField: {"forged"}}))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "form has expired")
	assert.Equal(t, token, s.fetchToken(t), "a failed check leaves the token in place")

	rec = s.do(t, postForm("/routes/1/ascents", url.Values{shared.CSRFFormField: {token}}))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ascents", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec = s.do(t, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	req = httptest.NewRequest(http.MethodPost, "/api/v1/ascents", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(shared.CSRFHeader, token)
	rec = s.do(t, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code, "exempt paths skip the check")
}

func TestCSRFRotateOnSuccess(t *testing.T) {
	s := newStack(t, &Config{}, shared.CSRFOptions{RotateOnSuccess: true})
	token := s.fetchToken(t)

	rec := s.do(t, postForm("/routes/1/ascents", url.Values{shared.CSRFFormField: {token}}))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rotated := s.fetchToken(t)
	assert.NotEqual(t, token, rotated)

	rec = s.do(t, postForm("/routes/1/ascents", url.Values{shared.CSRFFormField: {token}}))
	assert.Equal(t, http.StatusForbidden, rec.Code, "the consumed token is no longer accepted")
}

func TestSecureHeadersAndRateLimit(t *testing.T) {
	s := newStack(t, &Config{RateLimitPerMinute: 2}, shared.CSRFOptions{})

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/token", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "default-src 'self'", rec.Header().Get("Content-Security-Policy"))

	s.do(t, httptest.NewRequest(http.MethodGet, "/token", nil))
	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/token", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}
