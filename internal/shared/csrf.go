package shared

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	// CSRFSessionKey is the key used to persist tokens in the session store.
	CSRFSessionKey = "csrf_token"
	// CSRFFormField is the form field name carrying the CSRF token.
	CSRFFormField = "csrf_token"
	// CSRFHeader is the header consulted when no form field carries a token.
	CSRFHeader = "X-CSRF-TOKEN"

	csrfTokenBytes = 32
)

// csrfFormFields lists accepted form/query field names in lookup order.
var csrfFormFields = []string{CSRFFormField, "_csrf_token", "_token"}

// TokenStore manages the single CSRF token of one session.
type TokenStore struct {
	sess SessionValues
}

// NewTokenStore binds a TokenStore to a session.
func NewTokenStore(sess SessionValues) *TokenStore {
	return &TokenStore{sess: sess}
}

// Issue returns the stored token, generating one when absent or when force
// is set. A generated token replaces any previous value.
func (s *TokenStore) Issue(force bool) (string, error) {
	if !force {
		if token := s.sess.Get(CSRFSessionKey); token != "" {
			return token, nil
		}
	}
	token, err := newCSRFToken()
	if err != nil {
		return "", err
	}
	s.sess.Set(CSRFSessionKey, token)
	return token, nil
}

// Current returns the live token, issuing one if needed.
func (s *TokenStore) Current() (string, error) {
	return s.Issue(false)
}

// Rotate replaces the live token.
func (s *TokenStore) Rotate() (string, error) {
	return s.Issue(true)
}

// Clear drops the token; the next Current call issues a new one.
func (s *TokenStore) Clear() {
	s.sess.Remove(CSRFSessionKey)
}

func newCSRFToken() (string, error) {
	b := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// CSRFOptions configures a CSRFManager.
type CSRFOptions struct {
	// Exempt lists paths that skip validation for every method. Entries
	// containing glob metacharacters are matched with doublestar.
	Exempt          []string
	RotateOnSuccess bool
	Audit           AuditRecorder
	Logger          *slog.Logger
}

// CSRFManager issues and verifies CSRF tokens bound to a session.
type CSRFManager struct {
	exact    map[string]struct{}
	patterns []string
	rotate   bool
	audit    AuditRecorder
	logger   *slog.Logger
}

// NewCSRFManager returns a CSRFManager. Invalid exemption patterns are
// reported as configuration errors.
func NewCSRFManager(opts CSRFOptions) (*CSRFManager, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &CSRFManager{
		exact:  make(map[string]struct{}),
		rotate: opts.RotateOnSuccess,
		audit:  opts.Audit,
		logger: logger,
	}
	if err := m.AddExemption(opts.Exempt...); err != nil {
		return nil, err
	}
	return m, nil
}

// AddExemption registers exempt paths. Call it during startup only.
func (m *CSRFManager) AddExemption(paths ...string) error {
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.ContainsAny(p, "*?[{") {
			m.exact[p] = struct{}{}
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return &ConfigError{Component: "csrf", Name: p, Err: ErrInvalidPattern}
		}
		m.patterns = append(m.patterns, p)
	}
	return nil
}

// IsExempt reports whether path skips CSRF validation.
func (m *CSRFManager) IsExempt(path string) bool {
	if _, ok := m.exact[path]; ok {
		return true
	}
	for _, pattern := range m.patterns {
		if ok, err := doublestar.Match(pattern, path); err == nil && ok {
			return true
		}
	}
	return false
}

// RotateOnSuccess reports whether callers should rotate after a passing check.
func (m *CSRFManager) RotateOnSuccess() bool {
	return m.rotate
}

// EnsureToken retrieves or generates a CSRF token for the session.
func (m *CSRFManager) EnsureToken(_ context.Context, sess SessionValues) (string, error) {
	if missingSession(sess) {
		return "", ErrSessionMissing
	}
	return NewTokenStore(sess).Current()
}

// RotateToken replaces the session token.
func (m *CSRFManager) RotateToken(sess SessionValues) (string, error) {
	if missingSession(sess) {
		return "", ErrSessionMissing
	}
	return NewTokenStore(sess).Rotate()
}

// ClearToken removes the session token.
func (m *CSRFManager) ClearToken(sess SessionValues) {
	if missingSession(sess) {
		return
	}
	NewTokenStore(sess).Clear()
}

// Check validates the request against the session token. It returns nil when
// the request may proceed. Failures are audited but leave the token intact.
func (m *CSRFManager) Check(r *http.Request, sess SessionValues) error {
	if m.IsExempt(r.URL.Path) {
		return nil
	}
	if isSafeMethod(r.Method) {
		return nil
	}
	if missingSession(sess) {
		m.reject(r, AuditCSRFTokenMissing, "session")
		return ErrCSRFTokenMissing
	}

	submitted := SubmittedCSRFToken(r)
	if submitted == "" {
		m.reject(r, AuditCSRFTokenMissing, "submitted")
		return ErrCSRFTokenMissing
	}
	expected := sess.Get(CSRFSessionKey)
	if expected == "" {
		m.reject(r, AuditCSRFTokenMismatch, "stored")
		return ErrCSRFTokenMismatch
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(submitted)) != 1 {
		m.reject(r, AuditCSRFTokenMismatch, "compare")
		return ErrCSRFTokenMismatch
	}
	return nil
}

// Validate is the boolean form of Check.
func (m *CSRFManager) Validate(r *http.Request, sess SessionValues) bool {
	return m.Check(r, sess) == nil
}

func (m *CSRFManager) reject(r *http.Request, typ AuditEventType, rule string) {
	m.logger.Warn("csrf validation failed", slog.String("path", r.URL.Path), slog.String("rule", rule))
	if m.audit == nil {
		return
	}
	if err := m.audit.Record(r.Context(), RequestAuditEvent(r, typ, AuditSeverityHigh, rule, "")); err != nil {
		m.logger.Error("record csrf audit event", slog.Any("error", err))
	}
}

// SubmittedCSRFToken extracts the client token: form body or query fields
// first, then the X-CSRF-TOKEN header. The first non-empty value wins.
func SubmittedCSRFToken(r *http.Request) string {
	for _, field := range csrfFormFields {
		if v := r.FormValue(field); v != "" {
			return v
		}
	}
	return r.Header.Get(CSRFHeader)
}

// HiddenField renders the token as a hidden form input.
func HiddenField(token string) template.HTML {
	return template.HTML(`<input type="hidden" name="` + CSRFFormField + `" value="` + template.HTMLEscapeString(token) + `">`)
}

// MetaTag renders the token as a meta tag for scripts issuing AJAX requests.
func MetaTag(token string) template.HTML {
	return template.HTML(`<meta name="csrf-token" content="` + template.HTMLEscapeString(token) + `">`)
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func missingSession(sess SessionValues) bool {
	if sess == nil {
		return true
	}
	if s, ok := sess.(*Session); ok && s == nil {
		return true
	}
	return false
}
