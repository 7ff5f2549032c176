package db

import (
	"fmt"
	"strings"

	"github.com/topoclimb/topoclimb/internal/shared"
)

// BuildWhere renders conds as a WHERE clause with numbered placeholders.
// columns maps the logical condition columns onto SQL expressions; a
// condition on any other column is rejected so callers never interpolate
// request input. Placeholders start at $1.
func BuildWhere(conds shared.Conditions, columns map[string]string) (string, []any, error) {
	if len(conds) == 0 {
		return "", nil, nil
	}
	parts := make([]string, 0, len(conds))
	args := make([]any, 0, len(conds))
	for _, cond := range conds {
		expr, ok := columns[cond.Column]
		if !ok {
			return "", nil, &shared.ConfigError{Component: "db", Name: cond.Column, Err: shared.ErrUnknownFilter}
		}
		placeholder := fmt.Sprintf("$%d", len(args)+1)
		switch cond.Op {
		case shared.OpEq:
			parts = append(parts, expr+" = "+placeholder)
			args = append(args, cond.Value)
		case shared.OpGte:
			parts = append(parts, expr+" >= "+placeholder)
			args = append(args, cond.Value)
		case shared.OpLte:
			parts = append(parts, expr+" <= "+placeholder)
			args = append(args, cond.Value)
		case shared.OpContains:
			parts = append(parts, expr+" ILIKE "+placeholder)
			args = append(args, "%"+escapeLike(fmt.Sprint(cond.Value))+"%")
		default:
			return "", nil, &shared.ConfigError{Component: "db", Name: string(cond.Op), Err: shared.ErrUnknownFilter}
		}
	}
	return "WHERE " + strings.Join(parts, " AND "), args, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
