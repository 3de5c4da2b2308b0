package forest

import (
	"fmt"

	"go.uber.org/zap"
)

// Mesh is the face adjacency of the local quadrants, with neighbors
// numbered local first and then LocalNumQuadrants + ghost index.
//
// QuadToFace encodes the neighbor relation, F faces and T = 2F (2-D) or 4F
// (3-D). Brick trees always meet with orientation 0:
//
//	0 <= v < T       same size neighbor across face v
//	T <= v < T+hT    double size neighbor, v = T + h*T + face, h is the subface
//	-T <= v < 0      half size neighbors, v = face - T, QuadToQuad indexes QuadToHalf
//
// A face on the domain boundary points to the quadrant itself and its own face.
type Mesh struct {
	Dim               int
	Btype             ConnectType
	LocalNumQuadrants int
	GhostNumQuadrants int

	QuadToTree   []int
	GhostToProc  []int
	GhostToIndex []int // Index in the owner's rank local sequence

	QuadToQuad []int  // NumFaces per local quadrant
	QuadToFace []int8 // NumFaces per local quadrant
	QuadToHalf [][]int

	QuadToCorner []int   // NumCorners per local quadrant, -1 on the domain boundary
	QuadLevel    [][]int // Local quadrants of each level
}

// FaceCodes returns the number of faces and the encoding period T
func FaceCodes(dim int) (faces, t int) {
	faces = 2 * dim
	if dim == 3 {
		return faces, 4 * faces
	}
	return faces, 2 * faces
}

// FaceRelation classifies an entry of QuadToFace
type FaceRelation int

const (
	SameSize FaceRelation = iota
	DoubleSize
	HalfSize
)

func (fr FaceRelation) String() string {
	return [...]string{"SameSize", "DoubleSize", "HalfSize"}[fr]
}

// DecodeFace splits a QuadToFace entry into the neighbor's face, the
// orientation and, for double size neighbors, the subface
func DecodeFace(dim int, enc int) (rel FaceRelation, face, orientation, subface int) {
	faces, t := FaceCodes(dim)
	switch {
	case enc >= t:
		v := enc - t
		subface = v / t
		rem := v % t
		return DoubleSize, rem % faces, rem / faces, subface
	case enc >= 0:
		return SameSize, enc % faces, enc / faces, 0
	default:
		v := enc + t
		return HalfSize, v % faces, v / faces, 0
	}
}

// NewMesh builds the mesh of the local quadrants from the forest and a ghost
// layer that covers at least ct. The forest must be balanced across faces.
// Not collective.
func NewMesh(f *Forest, g *Ghost, ct ConnectType) (m *Mesh, err error) {
	if err = f.checkLive(); err != nil {
		return
	}
	if err = ct.validFor(f.Dim); err != nil {
		return
	}
	if g.Btype < ct {
		return nil, fmt.Errorf("ghost layer built for %s cannot serve a %s mesh", g.Btype, ct)
	}
	var (
		dim      = f.Dim
		faces, t = FaceCodes(dim)
		L        = f.LocalNumQuadrants
		index    = newLookup[int](f.Conn, L+len(g.Ghosts))
	)
	m = &Mesh{
		Dim:               dim,
		Btype:             ct,
		LocalNumQuadrants: L,
		GhostNumQuadrants: len(g.Ghosts),
		QuadToTree:        make([]int, L),
		GhostToProc:       make([]int, len(g.Ghosts)),
		GhostToIndex:      make([]int, len(g.Ghosts)),
		QuadToQuad:        make([]int, faces*L),
		QuadToFace:        make([]int8, faces*L),
		QuadLevel:         make([][]int, MaxLevel(dim)+1),
	}
	f.ForEach(func(tree, local int, q Quadrant) {
		index.put(leafKey{Tree: int32(tree), Q: q}, local)
		m.QuadToTree[local] = tree
		m.QuadLevel[q.Level] = append(m.QuadLevel[q.Level], local)
	})
	for i, gq := range g.Ghosts {
		index.put(leafKey{Tree: int32(gq.ID.Tree), Q: gq.Q}, L+i)
		m.GhostToProc[i] = gq.ID.OwnerRank
		m.GhostToIndex[i] = g.OwnerLocalIndex(i)
	}

	f.ForEach(func(tree, local int, q Quadrant) {
		if err != nil {
			return
		}
		for face := 0; face < faces; face++ {
			idx, enc, ferr := m.faceNeighbor(index, tree, local, q, face, t)
			if ferr != nil {
				err = ferr
				return
			}
			m.QuadToQuad[faces*local+face] = idx
			m.QuadToFace[faces*local+face] = int8(enc)
		}
	})
	if err != nil {
		return nil, err
	}
	if ct == ConnectFull {
		m.buildCorners(f, index)
	}
	f.logger.Debug("mesh",
		zap.Int("local", L),
		zap.Int("ghosts", m.GhostNumQuadrants),
		zap.Int("half_groups", len(m.QuadToHalf)))
	return
}

func (m *Mesh) faceNeighbor(index *lookup[int], tree, local int, q Quadrant, face, t int) (idx, enc int, err error) {
	var (
		off = faceOffset(face)
		nf  = face ^ 1
	)
	nt, n, inside := index.conn.Neighbor(tree, q, off)
	if !inside {
		return local, face, nil
	}
	if k, v, found := index.containing(nt, n); found {
		switch k.Q.Level {
		case q.Level:
			return v, nf, nil
		case q.Level - 1:
			return v, t + m.subface(q, k.Q, face)*t + nf, nil
		}
		return 0, 0, fmt.Errorf("%w: quadrant %v of tree %d face %d meets level %d",
			ErrNotBalanced, q, tree, face, k.Q.Level)
	}
	keys := index.touching(nt, n, off, q.Level+1)
	if len(keys) != 1<<(m.Dim-1) {
		return 0, 0, fmt.Errorf("%w: quadrant %v of tree %d face %d has %d half size neighbors",
			ErrNotBalanced, q, tree, face, len(keys))
	}
	half := make([]int, len(keys))
	for i, k := range keys {
		half[i], _ = index.get(k)
	}
	m.QuadToHalf = append(m.QuadToHalf, half)
	return len(m.QuadToHalf) - 1, nf - t, nil
}

// subface is the position of small quadrant q on the face of its double size
// neighbor big, from the tangential axes in ascending order
func (m *Mesh) subface(q, big Quadrant, face int) (h int) {
	var (
		normal = face / 2
		hq     = QuadLen(m.Dim, q.Level)
		bit    = 0
	)
	for a := 0; a < m.Dim; a++ {
		if a == normal {
			continue
		}
		if (q.Coord(a)-big.Coord(a))/hq == 1 {
			h |= 1 << bit
		}
		bit++
	}
	return
}

func (m *Mesh) buildCorners(f *Forest, index *lookup[int]) {
	corners := 1 << m.Dim
	m.QuadToCorner = make([]int, corners*m.LocalNumQuadrants)
	f.ForEach(func(tree, local int, q Quadrant) {
		for k := 0; k < corners; k++ {
			m.QuadToCorner[corners*local+k] = -1
			keys, inside := index.adjacent(tree, q, cornerOffset(m.Dim, k), q.Level+1)
			if !inside || len(keys) != 1 {
				continue
			}
			if v, ok := index.get(keys[0]); ok {
				m.QuadToCorner[corners*local+k] = v
			}
		}
	})
}

// FaceNeighbors resolves face f of local quadrant c to mesh indices, local
// or LocalNumQuadrants + ghost. Boundary faces return c itself.
func (m *Mesh) FaceNeighbors(c, f int) (rel FaceRelation, nbrs []int, boundary bool) {
	faces, _ := FaceCodes(m.Dim)
	idx := m.QuadToQuad[faces*c+f]
	enc := int(m.QuadToFace[faces*c+f])
	if idx == c && enc == f {
		return SameSize, []int{c}, true
	}
	rel, _, _, _ = DecodeFace(m.Dim, enc)
	if rel == HalfSize {
		return rel, m.QuadToHalf[idx], false
	}
	return rel, []int{idx}, false
}

// Destroy releases the mesh
func (m *Mesh) Destroy() {
	m.QuadToTree = nil
	m.GhostToProc = nil
	m.GhostToIndex = nil
	m.QuadToQuad = nil
	m.QuadToFace = nil
	m.QuadToHalf = nil
	m.QuadToCorner = nil
	m.QuadLevel = nil
}
