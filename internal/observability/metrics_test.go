package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/topoclimb/topoclimb/internal/shared"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	return rr.Body.String()
}

func TestWebMetricsLeaveJobGaugesToWorker(t *testing.T) {
	body := scrape(t, NewMetrics())
	if strings.Contains(body, "topoclimb_sector_stats") {
		t.Fatalf("web registry must not carry the stats gauges, got: %s", body)
	}
	if strings.Contains(body, "topoclimb_jobs_total") {
		t.Fatalf("web registry must not carry job counters, got: %s", body)
	}
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	metricsBody := scrape(t, metrics)
	if !strings.Contains(metricsBody, "topoclimb_http_requests_total{code=\"418\",route=\"/test\"} 1") {
		t.Fatalf("expected metrics to record request, got: %s", metricsBody)
	}
	if !strings.Contains(metricsBody, "topoclimb_http_request_duration_seconds_bucket{route=\"/test\"") {
		t.Fatalf("expected duration histogram to be present, got: %s", metricsBody)
	}
}

func TestSecurityHookCountsRejections(t *testing.T) {
	metrics := NewMetrics()
	audit := shared.NewAuditLogger(nil, nil, metrics.SecurityHook())

	for _, event := range []shared.AuditEvent{
		{Type: shared.AuditCSRFTokenMismatch, Rule: "compare"},
		{Type: shared.AuditCSRFTokenMismatch, Rule: "compare"},
		{Type: shared.AuditRedirectRejected, Rule: "protocol-relative"},
	} {
		if err := audit.Record(context.Background(), event); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	body := scrape(t, metrics)
	if !strings.Contains(body, `topoclimb_security_rejections_total{kind="csrf.token.mismatch",rule="compare"} 2`) {
		t.Fatalf("expected csrf rejections to be counted, got: %s", body)
	}
	if !strings.Contains(body, `topoclimb_security_rejections_total{kind="redirect.rejected",rule="protocol-relative"} 1`) {
		t.Fatalf("expected redirect rejections to be counted, got: %s", body)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.SecurityHook()(shared.AuditEvent{Type: shared.AuditForbidden})
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
