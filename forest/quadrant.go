package forest

import (
	"fmt"
)

const (
	MaxLevel2D = 30
	MaxLevel3D = 19
)

func MaxLevel(dim int) int {
	if dim == 3 {
		return MaxLevel3D
	}
	return MaxLevel2D
}

// RootLen is the integer side length of a tree
func RootLen(dim int) int32 { return 1 << MaxLevel(dim) }

// QuadLen is the integer side length of a quadrant at level
func QuadLen(dim int, level int8) int32 { return 1 << (MaxLevel(dim) - int(level)) }

// Quadrant is a cell of a tree, a quadrant in 2-D or an octant in 3-D. The
// coordinates are those of its lower corner in units of the finest level. Z
// is always zero in 2-D.
type Quadrant struct {
	X, Y, Z int32
	Level   int8
}

func (q Quadrant) String() string {
	return fmt.Sprintf("(%d,%d,%d)@%d", q.X, q.Y, q.Z, q.Level)
}

func (q Quadrant) Coord(axis int) int32 {
	switch axis {
	case 0:
		return q.X
	case 1:
		return q.Y
	}
	return q.Z
}

func (q *Quadrant) SetCoord(axis int, v int32) {
	switch axis {
	case 0:
		q.X = v
	case 1:
		q.Y = v
	default:
		q.Z = v
	}
}

// IsValid checks level bounds and alignment of the coordinates
func (q Quadrant) IsValid(dim int) bool {
	if q.Level < 0 || int(q.Level) > MaxLevel(dim) {
		return false
	}
	h := QuadLen(dim, q.Level)
	for a := 0; a < 3; a++ {
		v := q.Coord(a)
		if a >= dim {
			if v != 0 {
				return false
			}
			continue
		}
		if v < 0 || v >= RootLen(dim) || v&(h-1) != 0 {
			return false
		}
	}
	return true
}

// ChildID is the position of q among its siblings, bit a set means the upper
// half along axis a
func (q Quadrant) ChildID(dim int) (id int) {
	if q.Level == 0 {
		return 0
	}
	h := QuadLen(dim, q.Level)
	for a := 0; a < dim; a++ {
		if q.Coord(a)&h != 0 {
			id |= 1 << a
		}
	}
	return
}

func (q Quadrant) Child(dim, id int) (c Quadrant) {
	c = q
	c.Level = q.Level + 1
	h := QuadLen(dim, c.Level)
	for a := 0; a < dim; a++ {
		if (id>>a)&1 == 1 {
			c.SetCoord(a, q.Coord(a)+h)
		}
	}
	return
}

// Children returns the 2^dim children in Morton order
func (q Quadrant) Children(dim int) (children []Quadrant) {
	children = make([]Quadrant, 1<<dim)
	for id := range children {
		children[id] = q.Child(dim, id)
	}
	return
}

func (q Quadrant) Parent(dim int) Quadrant {
	return q.Ancestor(dim, q.Level-1)
}

// Ancestor returns the quadrant at level containing q, level must not exceed
// q.Level
func (q Quadrant) Ancestor(dim int, level int8) (a Quadrant) {
	if level < 0 || level > q.Level {
		panic(fmt.Sprintf("ancestor level %d out of range for %v", level, q))
	}
	mask := ^(QuadLen(dim, level) - 1)
	a = Quadrant{X: q.X & mask, Y: q.Y & mask, Z: q.Z & mask, Level: level}
	return
}

// Contains reports whether r lies inside q, q contains itself
func (q Quadrant) Contains(dim int, r Quadrant) bool {
	if r.Level < q.Level {
		return false
	}
	return r.Ancestor(dim, q.Level) == q
}

// Compare orders quadrants of one tree along the Morton curve, an ancestor
// comes before its descendants
func Compare(a, b Quadrant) int {
	ex, ey, ez := uint32(a.X^b.X), uint32(a.Y^b.Y), uint32(a.Z^b.Z)
	if ex|ey|ez == 0 {
		return int(a.Level) - int(b.Level)
	}
	var d int64
	switch {
	case !lessMSB(ez, ex|ey):
		d = int64(a.Z) - int64(b.Z)
	case !lessMSB(ey, ex):
		d = int64(a.Y) - int64(b.Y)
	default:
		d = int64(a.X) - int64(b.X)
	}
	if d < 0 {
		return -1
	}
	return 1
}

// lessMSB reports whether the highest set bit of u is below that of v
func lessMSB(u, v uint32) bool {
	return u < v && u < (u^v)
}

// mortonQuadrant returns the quadrant with Morton index m among the 2^(dim*level)
// quadrants of that level
func mortonQuadrant(dim int, level int8, m uint64) (q Quadrant) {
	q.Level = level
	shift := MaxLevel(dim) - int(level)
	for i := 0; i < int(level); i++ {
		for a := 0; a < dim; a++ {
			if (m>>uint(dim*i+a))&1 == 1 {
				q.SetCoord(a, q.Coord(a)|int32(1)<<uint(i+shift))
			}
		}
	}
	return
}
