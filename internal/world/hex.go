// Package world provides the hex grid, biome templates, territories and world generation.
// Uses axial coordinates (q, r) for the hex grid.
package world

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// HexCoord represents a position on the hex grid using axial coordinates.
// The third cube coordinate s is derived: s = -q - r.
type HexCoord struct {
	Q int `json:"q"`
	R int `json:"r"`
}

// S returns the implicit third cube coordinate.
func (h HexCoord) S() int {
	return -h.Q - h.R
}

// Cubic returns the cube form (x, y, z) = (q, -q-r, r).
func (h HexCoord) Cubic() (x, y, z int) {
	return h.Q, -h.Q - h.R, h.R
}

// String returns "q,r". It doubles as the territory id for the coordinate.
func (h HexCoord) String() string {
	return strconv.Itoa(h.Q) + "," + strconv.Itoa(h.R)
}

// Add returns the component-wise sum of two coordinates.
func (h HexCoord) Add(o HexCoord) HexCoord {
	return HexCoord{Q: h.Q + o.Q, R: h.R + o.R}
}

// ParseHexCoord parses the "q,r" form produced by String.
func ParseHexCoord(s string) (HexCoord, error) {
	qs, rs, ok := strings.Cut(s, ",")
	if !ok {
		return HexCoord{}, eris.Errorf("invalid hex coordinate %q", s)
	}
	q, err := strconv.Atoi(strings.TrimSpace(qs))
	if err != nil {
		return HexCoord{}, eris.Wrapf(err, "invalid q in %q", s)
	}
	r, err := strconv.Atoi(strings.TrimSpace(rs))
	if err != nil {
		return HexCoord{}, eris.Wrapf(err, "invalid r in %q", s)
	}
	return HexCoord{Q: q, R: r}, nil
}

// HexNeighborDirections defines the six neighbor offsets in axial coordinates.
var HexNeighborDirections = [6]HexCoord{
	{Q: 1, R: 0},
	{Q: 1, R: -1},
	{Q: 0, R: -1},
	{Q: -1, R: 0},
	{Q: -1, R: 1},
	{Q: 0, R: 1},
}

// Neighbors returns the six adjacent hex coordinates.
func (h HexCoord) Neighbors() [6]HexCoord {
	var result [6]HexCoord
	for i, dir := range HexNeighborDirections {
		result[i] = h.Add(dir)
	}
	return result
}

// Distance returns the hex distance between two coordinates.
func Distance(a, b HexCoord) int {
	ax, ay, az := a.Cubic()
	bx, by, bz := b.Cubic()
	return max(abs(ax-bx), abs(ay-by), abs(az-bz))
}

// Step returns the neighbor of from that is one hex closer to to.
// Ties are broken by HexNeighborDirections order so movement is reproducible.
// Returns from unchanged when the two coordinates are equal.
func Step(from, to HexCoord) HexCoord {
	if from == to {
		return from
	}
	best := from
	bestDist := Distance(from, to)
	for _, n := range from.Neighbors() {
		if d := Distance(n, to); d < bestDist {
			best, bestDist = n, d
		}
	}
	return best
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func (h HexCoord) GoString() string {
	return fmt.Sprintf("Hex(%d, %d)", h.Q, h.R)
}
