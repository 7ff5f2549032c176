package shared

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditEventType names a security-relevant occurrence.
type AuditEventType string

const (
	AuditCSRFTokenMissing  AuditEventType = "csrf.token.missing"
	AuditCSRFTokenMismatch AuditEventType = "csrf.token.mismatch"
	AuditRedirectRejected  AuditEventType = "redirect.rejected"
	AuditLoginFailure      AuditEventType = "auth.login.failure"
	AuditForbidden         AuditEventType = "auth.forbidden"
)

// AuditSeverity grades an audit event.
type AuditSeverity string

const (
	AuditSeverityLow    AuditSeverity = "low"
	AuditSeverityMedium AuditSeverity = "medium"
	AuditSeverityHigh   AuditSeverity = "high"
)

// AuditEvent is a single audit record. Value must already be sanitized.
type AuditEvent struct {
	ID        string
	Type      AuditEventType
	Severity  AuditSeverity
	Rule      string
	Value     string
	Method    string
	Path      string
	RequestID string
	UserID    string
	At        time.Time
}

// AuditRecorder receives audit events.
type AuditRecorder interface {
	Record(ctx context.Context, event AuditEvent) error
}

// AuditLogger writes events to slog and, when a pool is configured, to the
// security_events table. Hooks observe every accepted event.
type AuditLogger struct {
	logger *slog.Logger
	pool   *pgxpool.Pool
	hooks  []func(AuditEvent)
}

// NewAuditLogger returns a new AuditLogger. pool may be nil.
func NewAuditLogger(logger *slog.Logger, pool *pgxpool.Pool, hooks ...func(AuditEvent)) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{logger: logger, pool: pool, hooks: hooks}
}

// Record logs and persists the event.
func (l *AuditLogger) Record(ctx context.Context, event AuditEvent) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if event.Type == "" {
		return errors.New("audit event requires a type")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	if event.Severity == "" {
		event.Severity = AuditSeverityMedium
	}

	level := slog.LevelWarn
	if event.Severity == AuditSeverityLow {
		level = slog.LevelInfo
	}
	l.logger.LogAttrs(ctx, level, "security event",
		slog.String("event_id", event.ID),
		slog.String("type", string(event.Type)),
		slog.String("severity", string(event.Severity)),
		slog.String("rule", event.Rule),
		slog.String("value", event.Value),
		slog.String("method", event.Method),
		slog.String("path", event.Path),
		slog.String("request_id", event.RequestID),
	)
	for _, hook := range l.hooks {
		hook(event)
	}

	if l.pool == nil {
		return nil
	}
	_, err := l.pool.Exec(ctx,
		`INSERT INTO security_events (id, event_type, severity, rule, value, method, path, request_id, user_id, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10)`,
		event.ID, string(event.Type), string(event.Severity), event.Rule, event.Value,
		event.Method, event.Path, event.RequestID, event.UserID, event.At)
	return err
}

// RequestAuditEvent fills request-scoped fields of an event.
func RequestAuditEvent(r *http.Request, typ AuditEventType, severity AuditSeverity, rule, value string) AuditEvent {
	event := AuditEvent{
		Type:     typ,
		Severity: severity,
		Rule:     rule,
		Value:    SanitizeForLog(value),
	}
	if r == nil {
		return event
	}
	event.Method = r.Method
	event.Path = r.URL.Path
	event.RequestID = middleware.GetReqID(r.Context())
	if sess := SessionFromContext(r.Context()); sess != nil {
		event.UserID = sess.User()
	}
	return event
}

const maxLoggedValue = 128

// SanitizeForLog truncates a user supplied value and escapes control and
// non-ASCII characters so it can be written safely to logs.
func SanitizeForLog(value string) string {
	if utf8.RuneCountInString(value) > maxLoggedValue {
		runes := []rune(value)
		value = string(runes[:maxLoggedValue]) + "..."
	}
	quoted := strconv.QuoteToASCII(value)
	return quoted[1 : len(quoted)-1]
}

var _ AuditRecorder = (*AuditLogger)(nil)
