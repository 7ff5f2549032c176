package shared

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/maxbolgarin/lang"
)

// RedirectVerdict classifies a redirect candidate.
type RedirectVerdict string

const (
	RedirectMalformed       RedirectVerdict = "malformed"
	RedirectMalicious       RedirectVerdict = "malicious"
	RedirectAbsoluteAllowed RedirectVerdict = "absolute-allowed"
	RedirectAbsoluteDenied  RedirectVerdict = "absolute-denied"
	RedirectRelativeAllowed RedirectVerdict = "relative-allowed"
	RedirectRelativeDenied  RedirectVerdict = "relative-denied"
)

// Allowed reports whether the verdict permits redirecting.
func (v RedirectVerdict) Allowed() bool {
	return v == RedirectAbsoluteAllowed || v == RedirectRelativeAllowed
}

// RedirectDecision is the outcome of classifying a candidate. Rule names the
// check that rejected it.
type RedirectDecision struct {
	Verdict RedirectVerdict
	Rule    string
}

// RedirectPolicy is the allow-list consulted by RedirectGuard.
type RedirectPolicy struct {
	AllowedDomains []string
	AllowedPaths   []string
	AllowedPorts   []int
	// Strict requires exact domain matches and restricts relative targets to
	// AllowedPaths.
	Strict bool
}

// DefaultRedirectPorts lists the ports accepted on absolute targets.
var DefaultRedirectPorts = []int{80, 443, 8080, 3000, 8000}

// DefaultRedirectPolicy returns the policy used by the web application.
func DefaultRedirectPolicy() RedirectPolicy {
	return RedirectPolicy{
		AllowedDomains: []string{"topoclimb.ch", "www.topoclimb.ch", "localhost"},
		AllowedPaths: []string{
			"/", "/dashboard", "/login", "/logout", "/auth", "/profile",
			"/regions", "/sites", "/sectors", "/routes", "/ascents", "/admin",
		},
		AllowedPorts: DefaultRedirectPorts,
		Strict:       true,
	}
}

var absoluteURLRe = regexp.MustCompile(`(?i)^https?://`)

// RedirectGuard validates redirect targets against a RedirectPolicy.
type RedirectGuard struct {
	domains map[string]struct{}
	paths   []string
	ports   map[int]struct{}
	strict  bool
	rules   []RedirectRule
	logger  *slog.Logger
	audit   AuditRecorder
}

// NewRedirectGuard builds a guard. logger and audit may be nil.
func NewRedirectGuard(policy RedirectPolicy, logger *slog.Logger, audit AuditRecorder) *RedirectGuard {
	if logger == nil {
		logger = slog.Default()
	}
	g := &RedirectGuard{
		domains: make(map[string]struct{}, len(policy.AllowedDomains)),
		ports:   make(map[int]struct{}),
		strict:  policy.Strict,
		rules:   DefaultRedirectRules(),
		logger:  logger,
		audit:   audit,
	}
	for _, d := range policy.AllowedDomains {
		d = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(d)), ".")
		if d != "" {
			g.domains[d] = struct{}{}
		}
	}
	for _, p := range policy.AllowedPaths {
		if normalized, ok := normalizePath(strings.TrimSpace(p)); ok && strings.HasPrefix(p, "/") {
			g.paths = append(g.paths, normalized)
		}
	}
	ports := policy.AllowedPorts
	if len(ports) == 0 {
		ports = DefaultRedirectPorts
	}
	for _, port := range ports {
		g.ports[port] = struct{}{}
	}
	return g
}

// AppendRule adds a malicious-input rule evaluated after the built-in ones.
// Call it during startup only.
func (g *RedirectGuard) AppendRule(rule RedirectRule) {
	if rule.Name == "" || rule.Match == nil {
		return
	}
	g.rules = append(g.rules, rule)
}

// IsValid reports whether candidate is a permitted redirect target.
func (g *RedirectGuard) IsValid(candidate string) bool {
	return g.decide(context.Background(), nil, candidate).Verdict.Allowed()
}

// Safe returns candidate when valid and fallback otherwise.
func (g *RedirectGuard) Safe(candidate, fallback string) string {
	return g.SafeRequest(nil, candidate, fallback)
}

// SafeRequest is Safe with rejections audited against the request.
func (g *RedirectGuard) SafeRequest(r *http.Request, candidate, fallback string) string {
	ctx := context.Background()
	if r != nil {
		ctx = r.Context()
	}
	if g.decide(ctx, r, candidate).Verdict.Allowed() {
		return candidate
	}
	return lang.Check(fallback, "/")
}

func (g *RedirectGuard) decide(ctx context.Context, r *http.Request, candidate string) RedirectDecision {
	decision := g.Classify(candidate)
	if decision.Verdict.Allowed() || candidate == "" {
		return decision
	}
	value := SanitizeForLog(candidate)
	g.logger.LogAttrs(ctx, slog.LevelWarn, "redirect rejected",
		slog.String("verdict", string(decision.Verdict)),
		slog.String("rule", decision.Rule),
		slog.String("value", value),
	)
	if g.audit != nil {
		severity := AuditSeverityMedium
		if decision.Verdict == RedirectMalicious {
			severity = AuditSeverityHigh
		}
		event := RequestAuditEvent(r, AuditRedirectRejected, severity, decision.Rule, candidate)
		if err := g.audit.Record(ctx, event); err != nil {
			g.logger.Error("record redirect audit event", slog.Any("error", err))
		}
	}
	return decision
}

// Classify determines the verdict for candidate without side effects.
func (g *RedirectGuard) Classify(candidate string) RedirectDecision {
	if strings.TrimSpace(candidate) == "" {
		return RedirectDecision{Verdict: RedirectMalformed, Rule: "empty"}
	}
	if d, bad := g.screen(candidate, url.PathUnescape); bad {
		return d
	}
	if absoluteURLRe.MatchString(candidate) {
		return g.classifyAbsolute(candidate)
	}
	return g.classifyRelative(candidate)
}

// screen applies the malicious rules to value and to its decoded form.
func (g *RedirectGuard) screen(value string, unescape func(string) (string, error)) (RedirectDecision, bool) {
	if rule, hit := matchRules(g.rules, value); hit {
		return RedirectDecision{Verdict: RedirectMalicious, Rule: rule}, true
	}
	decoded, err := unescape(value)
	if err != nil {
		return RedirectDecision{Verdict: RedirectMalformed, Rule: "encoding"}, true
	}
	if rule, hit := matchRules(g.rules, decoded); hit {
		return RedirectDecision{Verdict: RedirectMalicious, Rule: rule}, true
	}
	return RedirectDecision{}, false
}

func (g *RedirectGuard) classifyAbsolute(candidate string) RedirectDecision {
	u, err := url.Parse(candidate)
	if err != nil {
		return RedirectDecision{Verdict: RedirectMalformed, Rule: "parse"}
	}
	denied := func(rule string) RedirectDecision {
		return RedirectDecision{Verdict: RedirectAbsoluteDenied, Rule: rule}
	}
	if scheme := strings.ToLower(u.Scheme); scheme != "http" && scheme != "https" {
		return denied("scheme")
	}
	if u.User != nil {
		return denied("userinfo")
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return denied("host")
	}
	if rawPort := u.Port(); rawPort != "" {
		port, err := strconv.Atoi(rawPort)
		if err != nil {
			return denied("port")
		}
		if _, ok := g.ports[port]; !ok {
			return denied("port")
		}
	}
	if !g.domainAllowed(host) {
		return denied("domain")
	}
	return RedirectDecision{Verdict: RedirectAbsoluteAllowed}
}

func (g *RedirectGuard) domainAllowed(host string) bool {
	if _, ok := g.domains[host]; ok {
		return true
	}
	if g.strict {
		return false
	}
	for domain := range g.domains {
		if strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

func (g *RedirectGuard) classifyRelative(candidate string) RedirectDecision {
	denied := func(rule string) RedirectDecision {
		return RedirectDecision{Verdict: RedirectRelativeDenied, Rule: rule}
	}
	if strings.HasPrefix(candidate, "//") {
		return RedirectDecision{Verdict: RedirectMalicious, Rule: "protocol-relative"}
	}
	if !strings.HasPrefix(candidate, "/") {
		return denied("not-rooted")
	}

	rawPath, query, fragment := splitTarget(candidate)
	normalized, ok := normalizePath(rawPath)
	if !ok {
		return denied("path-escape")
	}
	if g.strict && !g.pathAllowed(normalized) {
		return denied("path")
	}
	if query != "" {
		if d, bad := g.screen(query, url.QueryUnescape); bad {
			return d
		}
	}
	if fragment != "" {
		if d, bad := g.screen(fragment, url.PathUnescape); bad {
			return d
		}
	}
	return RedirectDecision{Verdict: RedirectRelativeAllowed}
}

func (g *RedirectGuard) pathAllowed(p string) bool {
	for _, prefix := range g.paths {
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			return true
		}
	}
	return false
}

// splitTarget separates a relative target into path, query and fragment.
func splitTarget(s string) (path, query, fragment string) {
	if i := strings.IndexByte(s, '#'); i >= 0 {
		s, fragment = s[:i], s[i+1:]
	}
	if i := strings.IndexByte(s, '?'); i >= 0 {
		s, query = s[:i], s[i+1:]
	}
	return s, query, fragment
}

// normalizePath resolves "." and ".." segments of a rooted path. It reports
// false when a ".." would climb above the root.
func normalizePath(p string) (string, bool) {
	segments := strings.Split(p, "/")
	stack := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(stack) == 0 {
				return "", false
			}
			stack = stack[:len(stack)-1]
		default:
			stack = append(stack, seg)
		}
	}
	return "/" + strings.Join(stack, "/"), true
}
