package shared

import (
	"regexp"
	"strings"
)

// RedirectRule is a named predicate flagging malicious redirect input.
type RedirectRule struct {
	Name  string
	Match func(string) bool
}

var (
	scriptSchemeRe     = regexp.MustCompile(`(?i)^[\s\x00-\x1f]*(javascript|data|vbscript)\s*:`)
	disallowedSchemeRe = regexp.MustCompile(`(?i)^\s*(ftp|file|gopher|ldap|dict)\s*:`)
	encodedTraversalRe = regexp.MustCompile(`(?i)%2e%2e|%2e\.|\.%2e|%2f%2f|%5c|%25(2e|2f|5c)`)
	scriptTagRe        = regexp.MustCompile(`(?i)<\s*script`)
	eventHandlerRe     = regexp.MustCompile(`(?i)\bon\w+\s*=`)
)

// DefaultRedirectRules returns the built-in rules in evaluation order.
func DefaultRedirectRules() []RedirectRule {
	return []RedirectRule{
		{Name: "script-scheme", Match: scriptSchemeRe.MatchString},
		{Name: "disallowed-scheme", Match: disallowedSchemeRe.MatchString},
		{Name: "protocol-relative", Match: func(s string) bool {
			return strings.HasPrefix(strings.TrimLeft(s, " \t"), "//")
		}},
		{Name: "encoded-traversal", Match: encodedTraversalRe.MatchString},
		{Name: "backslash", Match: func(s string) bool {
			return strings.ContainsRune(s, '\\')
		}},
		{Name: "script-tag", Match: scriptTagRe.MatchString},
		{Name: "event-handler", Match: eventHandlerRe.MatchString},
		{Name: "nul-byte", Match: func(s string) bool {
			return strings.ContainsRune(s, 0)
		}},
		{Name: "header-injection", Match: func(s string) bool {
			return strings.ContainsAny(s, "\r\n")
		}},
		// Browsers drop TAB and other C0 characters from URLs, so "/\t/host"
		// is followed as "//host".
		{Name: "control-char", Match: func(s string) bool {
			return strings.ContainsFunc(s, func(r rune) bool {
				return r < 0x20 || r == 0x7f
			})
		}},
	}
}

// matchRules returns the name of the first rule matching value.
func matchRules(rules []RedirectRule, value string) (string, bool) {
	for _, rule := range rules {
		if rule.Match(value) {
			return rule.Name, true
		}
	}
	return "", false
}
