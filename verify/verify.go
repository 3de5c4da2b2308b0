// Package verify resolves the face neighbors of a mesh into global cell ids
// and reports them, one record per local cell and face.
package verify

import (
	"fmt"

	"github.com/notargets/goamr/forest"
)

type Neighbor struct {
	Global int  // Position on the global curve
	Ghost  bool // Owned by another rank
}

// Record is the resolved neighborhood of one face of one local cell
type Record struct {
	Rank      int
	Cell      int // Global id of the cell
	Face      int
	Encoding  int
	Relation  forest.FaceRelation
	Boundary  bool // Domain boundary, Neighbors holds the cell itself
	Neighbors []Neighbor
}

func (r Record) HasGhost() bool {
	for _, n := range r.Neighbors {
		if n.Ghost {
			return true
		}
	}
	return false
}

// CheckMesh resolves every face of every local cell. It trusts the mesh and
// the ghost layer to belong to the forest and does no range checking, see
// CheckMeshStrict. Nothing is modified.
func CheckMesh(f *forest.Forest, g *forest.Ghost, m *forest.Mesh) (recs []Record) {
	var (
		faces = f.NumFaces()
		L     = f.LocalNumQuadrants
		first = f.GlobalFirstQuadrant[f.MPIRank]
	)
	resolve := func(idx int) Neighbor {
		if idx < L {
			return Neighbor{Global: first + idx}
		}
		return Neighbor{Global: g.GlobalIndex(idx-L, f.GlobalFirstQuadrant), Ghost: true}
	}
	recs = make([]Record, 0, faces*L)
	for c := 0; c < L; c++ {
		for face := 0; face < faces; face++ {
			var (
				idx = m.QuadToQuad[faces*c+face]
				enc = int(m.QuadToFace[faces*c+face])
				rec = Record{
					Rank:     f.MPIRank,
					Cell:     first + c,
					Face:     face,
					Encoding: enc,
				}
			)
			// The boundary sentinel must be caught before idx is read as a ghost
			if idx == c && enc == face {
				rec.Boundary = true
				rec.Neighbors = []Neighbor{{Global: first + c}}
				recs = append(recs, rec)
				continue
			}
			rec.Relation, _, _, _ = forest.DecodeFace(f.Dim, enc)
			if rec.Relation == forest.HalfSize {
				for _, h := range m.QuadToHalf[idx] {
					rec.Neighbors = append(rec.Neighbors, resolve(h))
				}
			} else {
				rec.Neighbors = []Neighbor{resolve(idx)}
			}
			recs = append(recs, rec)
		}
	}
	return
}

// CheckMeshStrict range checks the mesh against the forest and the ghost
// layer before resolving it
func CheckMeshStrict(f *forest.Forest, g *forest.Ghost, m *forest.Mesh) (recs []Record, err error) {
	var (
		faces    = f.NumFaces()
		L        = f.LocalNumQuadrants
		G        = len(g.Ghosts)
		_, t     = forest.FaceCodes(f.Dim)
		maxCode  = t + (1<<(f.Dim-1))*t
		inRange  = func(idx int) bool { return idx >= 0 && idx < L+G }
		location = func(c, face int) string { return fmt.Sprintf("cell %d face %d", c, face) }
	)
	switch {
	case m.LocalNumQuadrants != L:
		return nil, fmt.Errorf("mesh has %d local cells, forest has %d", m.LocalNumQuadrants, L)
	case m.GhostNumQuadrants != G:
		return nil, fmt.Errorf("mesh has %d ghosts, ghost layer has %d", m.GhostNumQuadrants, G)
	case len(m.QuadToQuad) != faces*L || len(m.QuadToFace) != faces*L:
		return nil, fmt.Errorf("mesh tables sized %d and %d, need %d",
			len(m.QuadToQuad), len(m.QuadToFace), faces*L)
	}
	if err = g.Validate(f); err != nil {
		return nil, err
	}
	for c := 0; c < L; c++ {
		for face := 0; face < faces; face++ {
			var (
				idx = m.QuadToQuad[faces*c+face]
				enc = int(m.QuadToFace[faces*c+face])
			)
			if enc < -t || enc >= maxCode {
				return nil, fmt.Errorf("%s: encoding %d out of range [%d,%d)", location(c, face), enc, -t, maxCode)
			}
			if enc < 0 {
				if idx < 0 || idx >= len(m.QuadToHalf) {
					return nil, fmt.Errorf("%s: half size group %d out of range", location(c, face), idx)
				}
				for _, h := range m.QuadToHalf[idx] {
					if !inRange(h) {
						return nil, fmt.Errorf("%s: half size neighbor %d out of range", location(c, face), h)
					}
				}
				continue
			}
			if !inRange(idx) {
				return nil, fmt.Errorf("%s: neighbor %d out of range [0,%d)", location(c, face), idx, L+G)
			}
		}
	}
	return CheckMesh(f, g, m), nil
}
