package verify

import (
	"fmt"

	"github.com/notargets/goamr/forest"
	"github.com/notargets/goamr/parallel"
	"github.com/notargets/goamr/utils"
)

// CheckRanges checks that every resolved id is a cell of the forest
func CheckRanges(f *forest.Forest, recs []Record) error {
	for _, r := range recs {
		if r.Cell < 0 || r.Cell >= f.GlobalNumQuadrants {
			return fmt.Errorf("cell %d out of range [0,%d)", r.Cell, f.GlobalNumQuadrants)
		}
		for _, n := range r.Neighbors {
			if n.Global < 0 || n.Global >= f.GlobalNumQuadrants {
				return fmt.Errorf("cell %d face %d: neighbor %d out of range [0,%d)",
					r.Cell, r.Face, n.Global, f.GlobalNumQuadrants)
			}
		}
	}
	return nil
}

// CheckGhostOwners checks that every ghost's index on its owner is below the
// owner's cell count
func CheckGhostOwners(f *forest.Forest, g *forest.Ghost) error {
	for i, gq := range g.Ghosts {
		o := gq.ID.OwnerRank
		count := f.GlobalFirstQuadrant[o+1] - f.GlobalFirstQuadrant[o]
		if idx := g.OwnerLocalIndex(i); idx < 0 || idx >= count {
			return fmt.Errorf("ghost %d: index %d on rank %d, which holds %d cells", i, idx, o, count)
		}
	}
	return nil
}

type link struct {
	Cell, Face, Neighbor int
}

// CheckSymmetry checks that same size face links are mutual: if A sees B
// through face f then B sees A through the opposite face. The links of all
// ranks are assembled into one sparse adjacency matrix per face. Collective.
func CheckSymmetry(comm *parallel.Comm, f *forest.Forest, recs []Record) error {
	var links []link
	for _, r := range recs {
		if r.Boundary || r.Relation != forest.SameSize {
			continue
		}
		links = append(links, link{Cell: r.Cell, Face: r.Face, Neighbor: r.Neighbors[0].Global})
	}
	var (
		faces = f.NumFaces()
		n     = f.GlobalNumQuadrants
		dok   = make([]utils.DOK, faces)
		adj   = make([]utils.CSR, faces)
	)
	for face := range dok {
		dok[face] = utils.NewDOK(n, n, fmt.Sprintf("face %d", face))
	}
	for _, rankLinks := range parallel.Allgather(comm, links) {
		for _, l := range rankLinks {
			dok[l.Face].Set(l.Cell, l.Neighbor, 1)
		}
	}
	for face := range dok {
		adj[face] = dok[face].ToCSR()
	}
	for face := range adj {
		if i, j, missing := adj[face].MissingTranspose(adj[face^1]); missing {
			return fmt.Errorf("cell %d sees %d through face %d, the converse through face %d is missing",
				i, j, face, face^1)
		}
	}
	return nil
}

// TotalRecords sums the record counts of all ranks. Collective.
func TotalRecords(comm *parallel.Comm, recs []Record) int {
	return parallel.AllreduceSum(comm, len(recs))
}
