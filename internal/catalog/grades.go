package catalog

import (
	"errors"
	"strings"
)

// ErrInvalidGrade is returned for strings outside the French scale.
var ErrInvalidGrade = errors.New("catalog: invalid grade")

// ParseGrade converts a French sport grade ("3" to "9c+") to an ordinal that
// sorts in difficulty order. A bare number equals its "a" grade.
func ParseGrade(grade string) (int, error) {
	g := strings.ToLower(strings.TrimSpace(grade))
	if g == "" {
		return 0, ErrInvalidGrade
	}
	n := int(g[0] - '0')
	if n < 3 || n > 9 {
		return 0, ErrInvalidGrade
	}
	value := n * 100
	rest := g[1:]
	if rest != "" && rest[0] >= 'a' && rest[0] <= 'c' {
		value += int(rest[0]-'a') * 20
		rest = rest[1:]
	}
	switch rest {
	case "":
	case "+":
		value += 10
	default:
		return 0, ErrInvalidGrade
	}
	return value, nil
}

// FormatGrade is the inverse of ParseGrade for ordinals it produced.
func FormatGrade(value int) string {
	n := value / 100
	if n < 3 || n > 9 {
		return ""
	}
	rem := value % 100
	letter := rem / 20
	plus := rem%20 >= 10
	if letter > 2 {
		return ""
	}
	out := string(rune('0'+n)) + string(rune('a'+letter))
	if plus {
		out += "+"
	}
	return out
}
