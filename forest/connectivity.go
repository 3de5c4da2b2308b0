package forest

import (
	"fmt"
)

// ConnectType selects which neighbors count as adjacent for balance, ghost and
// mesh construction
type ConnectType int

const (
	ConnectFace ConnectType = iota + 1
	ConnectEdge
	ConnectCorner
	ConnectFull = ConnectCorner
)

func (ct ConnectType) String() string {
	switch ct {
	case ConnectFace:
		return "Face"
	case ConnectEdge:
		return "Edge"
	case ConnectCorner:
		return "Full"
	}
	return fmt.Sprintf("ConnectType(%d)", int(ct))
}

// validFor reports whether ct is meaningful in dim dimensions. Edges only exist
// in 3-D.
func (ct ConnectType) validFor(dim int) error {
	switch {
	case ct < ConnectFace || ct > ConnectCorner:
		return fmt.Errorf("unknown connect type %d", int(ct))
	case ct == ConnectEdge && dim != 3:
		return fmt.Errorf("connect type %s needs a 3-D forest, have %d-D", ct, dim)
	}
	return nil
}

// Connectivity is a brick of axis aligned trees. All trees share the same
// orientation, so a face of one tree always meets the opposite face of its
// neighbor.
type Connectivity struct {
	Dim      int
	N        [3]int  // Trees along each axis, N[2] is 1 in 2-D
	Periodic [3]bool // Wrap around along each axis
}

func NewUnitSquare() *Connectivity {
	return mustBrick(2, []int{1, 1}, nil)
}

func NewUnitCube() *Connectivity {
	return mustBrick(3, []int{1, 1, 1}, nil)
}

// NewPeriodic is the unit square or cube, periodic along every axis
func NewPeriodic(dim int) (*Connectivity, error) {
	periodic := make([]bool, dim)
	for i := range periodic {
		periodic[i] = true
	}
	n := make([]int, dim)
	for i := range n {
		n[i] = 1
	}
	return NewBrick(dim, n, periodic)
}

// NewBrick builds n[0] x n[1] (x n[2]) trees, numbered with x running fastest.
// A nil periodic slice means no periodicity.
func NewBrick(dim int, n []int, periodic []bool) (*Connectivity, error) {
	if dim != 2 && dim != 3 {
		return nil, fmt.Errorf("invalid dimension %d, must be 2 or 3", dim)
	}
	if len(n) != dim {
		return nil, fmt.Errorf("brick needs %d tree counts, have %d", dim, len(n))
	}
	if periodic != nil && len(periodic) != dim {
		return nil, fmt.Errorf("brick needs %d periodicity flags, have %d", dim, len(periodic))
	}
	c := &Connectivity{Dim: dim, N: [3]int{1, 1, 1}}
	for a := 0; a < dim; a++ {
		if n[a] < 1 {
			return nil, fmt.Errorf("brick axis %d has %d trees", a, n[a])
		}
		c.N[a] = n[a]
		if periodic != nil {
			c.Periodic[a] = periodic[a]
		}
	}
	return c, nil
}

func mustBrick(dim int, n []int, periodic []bool) *Connectivity {
	c, err := NewBrick(dim, n, periodic)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Connectivity) NumTrees() int { return c.N[0] * c.N[1] * c.N[2] }

func (c *Connectivity) NumFaces() int { return 2 * c.Dim }

func (c *Connectivity) NumCorners() int { return 1 << c.Dim }


// TreeCoords returns the brick position of tree t
func (c *Connectivity) TreeCoords(t int) (tc [3]int) {
	tc[0] = t % c.N[0]
	tc[1] = (t / c.N[0]) % c.N[1]
	tc[2] = t / (c.N[0] * c.N[1])
	return
}

func (c *Connectivity) TreeIndex(tc [3]int) int {
	return tc[0] + c.N[0]*(tc[1]+c.N[1]*tc[2])
}

// IsPeriodic reports whether any axis wraps around
func (c *Connectivity) IsPeriodic() bool {
	for a := 0; a < c.Dim; a++ {
		if c.Periodic[a] {
			return true
		}
	}
	return false
}

func (c *Connectivity) String() string {
	if c.Dim == 2 {
		return fmt.Sprintf("brick %dx%d periodic %v", c.N[0], c.N[1], c.Periodic[:2])
	}
	return fmt.Sprintf("brick %dx%dx%d periodic %v", c.N[0], c.N[1], c.N[2], c.Periodic)
}

// Destroy releases the connectivity, it must not be used afterwards
func (c *Connectivity) Destroy() {
	c.Dim = 0
	c.N = [3]int{}
	c.Periodic = [3]bool{}
}

// Neighbor returns the quadrant of q's size displaced by off (each component
// -1, 0 or +1) and the tree holding it. Displacements leaving a non periodic
// domain report false.
func (c *Connectivity) Neighbor(tree int, q Quadrant, off [3]int) (nt int, n Quadrant, ok bool) {
	var (
		rootLen = int64(RootLen(c.Dim))
		h       = int64(QuadLen(c.Dim, q.Level))
		tc      = c.TreeCoords(tree)
		ntc     [3]int
	)
	n.Level = q.Level
	for a := 0; a < c.Dim; a++ {
		g := int64(tc[a])*rootLen + int64(q.Coord(a)) + int64(off[a])*h
		total := int64(c.N[a]) * rootLen
		if g < 0 || g >= total {
			if !c.Periodic[a] {
				return -1, Quadrant{}, false
			}
			g = (g%total + total) % total
		}
		ntc[a] = int(g / rootLen)
		n.SetCoord(a, int32(g%rootLen))
	}
	return c.TreeIndex(ntc), n, true
}

// directions lists the displacements reaching the neighbors of ct, faces
// first, in a fixed order
func directions(dim int, ct ConnectType) (dirs [][3]int) {
	limit := int(ct)
	if limit > dim {
		limit = dim
	}
	for nonzero := 1; nonzero <= limit; nonzero++ {
		var off [3]int
		var walk func(a, count int)
		walk = func(a, count int) {
			if a == dim {
				if count == nonzero {
					dirs = append(dirs, off)
				}
				return
			}
			for _, d := range [3]int{-1, 1, 0} {
				off[a] = d
				c := count
				if d != 0 {
					c++
				}
				if c <= nonzero {
					walk(a+1, c)
				}
			}
			off[a] = 0
		}
		walk(0, 0)
	}
	return
}

// faceOffset is the displacement across face f, faces are -x, +x, -y, +y, -z, +z
func faceOffset(f int) (off [3]int) {
	off[f/2] = 2*(f%2) - 1
	return
}

// cornerOffset is the diagonal displacement through corner k, bit a of k set
// means the +a side
func cornerOffset(dim, k int) (off [3]int) {
	for a := 0; a < dim; a++ {
		off[a] = 2*((k>>a)&1) - 1
	}
	return
}
