package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGrade(t *testing.T) {
	cases := map[string]int{
		"3":   300,
		"4a":  400,
		"5c+": 550,
		"6a":  600,
		"6a+": 610,
		"6B":  620,
		"7c":  740,
		"9c+": 950,
	}
	for in, want := range cases {
		got, err := ParseGrade(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "2", "10a", "6d", "6a++", "V5", "a6"} {
		_, err := ParseGrade(bad)
		assert.ErrorIs(t, err, ErrInvalidGrade, bad)
	}
}

func TestGradeOrdering(t *testing.T) {
	order := []string{"5c+", "6a", "6a+", "6b", "6b+", "6c", "6c+", "7a"}
	prev := 0
	for _, g := range order {
		v, err := ParseGrade(g)
		require.NoError(t, err)
		assert.Greater(t, v, prev, g)
		prev = v
		assert.Equal(t, g, FormatGrade(v))
	}
	assert.Empty(t, FormatGrade(1200))
}
