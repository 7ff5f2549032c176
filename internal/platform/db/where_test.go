package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/topoclimb/topoclimb/internal/shared"
)

var routeColumns = map[string]string{
	"sector_id":   "r.sector_id",
	"grade_value": "r.grade_value",
	"name":        "r.name",
}

func TestBuildWhere(t *testing.T) {
	conds := shared.Conditions{}.
		With("sector_id", shared.OpEq, int64(3)).
		With("grade_value", shared.OpGte, 600).
		With("grade_value", shared.OpLte, 650).
		With("name", shared.OpContains, "50%_off")

	clause, args, err := BuildWhere(conds, routeColumns)
	require.NoError(t, err)
	assert.Equal(t, "WHERE r.sector_id = $1 AND r.grade_value >= $2 AND r.grade_value <= $3 AND r.name ILIKE $4", clause)
	assert.Equal(t, []any{int64(3), 600, 650, `%50\%\_off%`}, args)
}

func TestBuildWhereEmpty(t *testing.T) {
	clause, args, err := BuildWhere(nil, routeColumns)
	require.NoError(t, err)
	assert.Empty(t, clause)
	assert.Nil(t, args)
}

func TestBuildWhereRejectsUnknownColumn(t *testing.T) {
	_, _, err := BuildWhere(shared.Conditions{{Column: "1=1; --", Op: shared.OpEq, Value: 1}}, routeColumns)
	assert.ErrorIs(t, err, shared.ErrUnknownFilter)

	_, _, err = BuildWhere(shared.Conditions{{Column: "name", Op: "~", Value: "x"}}, routeColumns)
	assert.ErrorIs(t, err, shared.ErrUnknownFilter)
}
