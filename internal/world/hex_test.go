package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHexCoordCubic(t *testing.T) {
	x, y, z := HexCoord{Q: 2, R: -5}.Cubic()
	assert.Equal(t, 2, x)
	assert.Equal(t, 3, y)
	assert.Equal(t, -5, z)
	assert.Zero(t, x+y+z)
}

func TestHexCoordAsMapKey(t *testing.T) {
	m := map[HexCoord]string{{Q: 1, R: 2}: "a"}
	assert.Equal(t, "a", m[HexCoord{Q: 1, R: 2}])
}

func TestParseHexCoord(t *testing.T) {
	c, err := ParseHexCoord("-3,7")
	require.NoError(t, err)
	assert.Equal(t, HexCoord{Q: -3, R: 7}, c)
	assert.Equal(t, "-3,7", c.String())

	_, err = ParseHexCoord("3")
	assert.Error(t, err)
	_, err = ParseHexCoord("a,1")
	assert.Error(t, err)
}

func TestDistanceAndNeighbors(t *testing.T) {
	origin := HexCoord{}
	for _, n := range origin.Neighbors() {
		assert.Equal(t, 1, Distance(origin, n))
	}
	assert.Equal(t, 0, Distance(origin, origin))
	assert.Equal(t, 5, Distance(HexCoord{Q: 0, R: 0}, HexCoord{Q: 3, R: 2}))
	assert.Equal(t, 3, Distance(HexCoord{Q: 0, R: 0}, HexCoord{Q: 3, R: -3}))
}

func TestStepMovesOneHexCloser(t *testing.T) {
	from := HexCoord{Q: -4, R: 2}
	to := HexCoord{Q: 3, R: -1}
	steps := 0
	for from != to {
		next := Step(from, to)
		require.Equal(t, 1, Distance(from, next))
		require.Equal(t, Distance(from, to)-1, Distance(next, to))
		from = next
		steps++
		require.Less(t, steps, 100)
	}
	assert.Equal(t, Distance(HexCoord{Q: -4, R: 2}, to), steps)
	assert.Equal(t, to, Step(to, to))
}
