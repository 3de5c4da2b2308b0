package forest

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuadrant_Children(t *testing.T) {
	for _, dim := range []int{2, 3} {
		var (
			root     = Quadrant{}
			children = root.Children(dim)
			h        = QuadLen(dim, 1)
		)
		assert.Len(t, children, 1<<dim)
		for id, c := range children {
			assert.Equal(t, int8(1), c.Level)
			assert.Equal(t, id, c.ChildID(dim))
			assert.Equal(t, root, c.Parent(dim))
			assert.True(t, root.Contains(dim, c))
			assert.False(t, c.Contains(dim, root))
			assert.True(t, c.IsValid(dim))
		}
		assert.Equal(t, Quadrant{X: h, Level: 1}, children[1])
		assert.Equal(t, Quadrant{Y: h, Level: 1}, children[2])
		// Children are already in curve order
		assert.True(t, sort.SliceIsSorted(children, func(i, j int) bool {
			return Compare(children[i], children[j]) < 0
		}))
	}
}

func TestQuadrant_Compare(t *testing.T) {
	dim := 2
	var (
		h2 = QuadLen(dim, 2)
		a  = Quadrant{X: h2, Y: 0, Level: 2}     // Child 1 of the origin quadrant
		b  = Quadrant{X: 0, Y: h2, Level: 2}     // Child 2 of the origin quadrant
		c  = Quadrant{X: 2 * h2, Y: 0, Level: 1} // Next level 1 quadrant
	)
	assert.Equal(t, -1, Compare(a, b))
	assert.Equal(t, 1, Compare(b, a))
	assert.Equal(t, -1, Compare(b, c))
	assert.Equal(t, 0, Compare(a, a))
	// Ancestor first
	assert.Less(t, Compare(a.Parent(dim), a), 0)
	// y dominates x when the highest differing bits tie
	assert.Equal(t, -1, Compare(Quadrant{X: 3 * h2, Y: 0, Level: 2}, Quadrant{X: 0, Y: 2 * h2, Level: 2}))
	// z dominates in 3-D
	h := QuadLen(3, 1)
	assert.Equal(t, -1, Compare(Quadrant{X: h, Y: h, Level: 1}, Quadrant{Z: h, Level: 1}))
}

func TestMortonQuadrant(t *testing.T) {
	for _, dim := range []int{2, 3} {
		level := int8(3)
		n := uint64(1) << uint(dim*int(level))
		quads := make([]Quadrant, n)
		for m := uint64(0); m < n; m++ {
			quads[m] = mortonQuadrant(dim, level, m)
			assert.True(t, quads[m].IsValid(dim))
			if m > 0 {
				assert.Equal(t, -1, Compare(quads[m-1], quads[m]), "dim %d index %d", dim, m)
			}
		}
		// The last quadrant sits in the upper corner
		last := quads[n-1]
		for a := 0; a < dim; a++ {
			assert.Equal(t, RootLen(dim)-QuadLen(dim, level), last.Coord(a))
		}
	}
}

func TestQuadrant_IsValid(t *testing.T) {
	h := QuadLen(2, 2)
	assert.True(t, Quadrant{X: h, Y: 3 * h, Level: 2}.IsValid(2))
	assert.False(t, Quadrant{X: h / 2, Level: 2}.IsValid(2))
	assert.False(t, Quadrant{X: -h, Level: 2}.IsValid(2))
	assert.False(t, Quadrant{Z: h, Level: 2}.IsValid(2))
	assert.False(t, Quadrant{Level: MaxLevel2D + 1}.IsValid(2))
	assert.Panics(t, func() { Quadrant{Level: 1}.Ancestor(2, 2) })
}
