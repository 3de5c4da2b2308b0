package forest

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/notargets/goamr/parallel"
	"github.com/notargets/goamr/utils"
)

// GhostID locates a quadrant on the rank that owns it
type GhostID struct {
	OwnerRank int
	LocalNum  int // Index inside the owner's sequence of Tree
	Tree      int
}

type GhostQuadrant struct {
	Q  Quadrant
	ID GhostID
}

// Ghost is the layer of remote quadrants adjacent to the local partition,
// together with the local quadrants other ranks see as their ghosts.
type Ghost struct {
	Dim     int
	MPIRank int
	MPISize int
	Btype   ConnectType

	Ghosts      []GhostQuadrant // Sorted by owner rank, then curve order
	ProcOffsets []int           // MPISize+1, ghosts of rank r are [ProcOffsets[r], ProcOffsets[r+1])

	// TreeOffsets[r][t] is QuadrantsOffset of tree t on rank r
	TreeOffsets [][]int

	Mirrors           []GhostQuadrant // Local quadrants that are ghosts elsewhere, curve order
	MirrorProcOffsets []int           // MPISize+1 offsets into MirrorProcMirrors
	MirrorProcMirrors []int           // Indices into Mirrors, grouped by receiving rank
}

// shard is what every rank contributes to the ghost exchange
type shard struct {
	Leaves  []leafKey
	Offsets []int
}

type leafOwner struct {
	Rank     int
	LocalNum int
}

// NewGhost collects the remote quadrants adjacent to local ones through ct.
// Collective.
func NewGhost(f *Forest, ct ConnectType) (g *Ghost, err error) {
	if err = f.checkLive(); err != nil {
		return
	}
	if err = ct.validFor(f.Dim); err != nil {
		return
	}
	var (
		shards = parallel.Allgather(f.comm, shard{Leaves: f.leaves(), Offsets: f.QuadrantsOffsets()})
		index  = newLookup[leafOwner](f.Conn, f.GlobalNumQuadrants)
		dirs   = directions(f.Dim, ct)
		deep   = int8(MaxLevel(f.Dim))
	)
	g = &Ghost{
		Dim:         f.Dim,
		MPIRank:     f.MPIRank,
		MPISize:     f.MPISize,
		Btype:       ct,
		TreeOffsets: make([][]int, f.MPISize),
	}
	for r, s := range shards {
		g.TreeOffsets[r] = s.Offsets
		for i, k := range s.Leaves {
			index.put(k, leafOwner{Rank: r, LocalNum: i - s.Offsets[k.Tree]})
		}
	}

	var (
		ghosts   = make(map[leafKey]leafOwner)
		mirrorTo = make([][]int, f.MPISize) // Local indices mirrored to each rank
	)
	f.ForEach(func(tree, local int, q Quadrant) {
		seen := make(map[int]bool)
		for _, off := range dirs {
			keys, inside := index.adjacent(tree, q, off, deep)
			if !inside {
				continue
			}
			for _, k := range keys {
				o, _ := index.get(k)
				if o.Rank == f.MPIRank {
					continue
				}
				ghosts[k] = o
				if !seen[o.Rank] {
					seen[o.Rank] = true
					mirrorTo[o.Rank] = append(mirrorTo[o.Rank], local)
				}
			}
		}
	})

	for k, o := range ghosts {
		g.Ghosts = append(g.Ghosts, GhostQuadrant{
			Q:  k.Q,
			ID: GhostID{OwnerRank: o.Rank, LocalNum: o.LocalNum, Tree: int(k.Tree)},
		})
	}
	sort.Slice(g.Ghosts, func(i, j int) bool {
		a, b := g.Ghosts[i].ID, g.Ghosts[j].ID
		if a.OwnerRank != b.OwnerRank {
			return a.OwnerRank < b.OwnerRank
		}
		return g.ownerIndex(a) < g.ownerIndex(b)
	})
	g.ProcOffsets = make([]int, f.MPISize+1)
	for _, gq := range g.Ghosts {
		g.ProcOffsets[gq.ID.OwnerRank+1]++
	}
	for r := 0; r < f.MPISize; r++ {
		g.ProcOffsets[r+1] += g.ProcOffsets[r]
	}

	g.buildMirrors(f, mirrorTo)
	f.logger.Debug("ghost layer",
		zap.Stringer("connect", ct),
		zap.Int("ghosts", len(g.Ghosts)),
		zap.Int("mirrors", len(g.Mirrors)))
	return
}

func (g *Ghost) ownerIndex(id GhostID) int {
	return g.TreeOffsets[id.OwnerRank][id.Tree] + id.LocalNum
}

func (g *Ghost) buildMirrors(f *Forest, mirrorTo [][]int) {
	var (
		isMirror = make(map[int]int) // local index -> position in Mirrors
		locals   []int
	)
	for _, list := range mirrorTo {
		for _, local := range list {
			if _, ok := isMirror[local]; !ok {
				isMirror[local] = 0
				locals = append(locals, local)
			}
		}
	}
	sort.Ints(locals)
	treeOf := make([]int, f.LocalNumQuadrants)
	f.ForEach(func(tree, local int, _ Quadrant) { treeOf[local] = tree })
	for i, local := range locals {
		isMirror[local] = i
		t := treeOf[local]
		tr := f.Trees[t]
		g.Mirrors = append(g.Mirrors, GhostQuadrant{
			Q: tr.Quadrants[local-tr.QuadrantsOffset],
			ID: GhostID{
				OwnerRank: f.MPIRank,
				LocalNum:  local - tr.QuadrantsOffset,
				Tree:      t,
			},
		})
	}
	g.MirrorProcOffsets = make([]int, f.MPISize+1)
	for r, list := range mirrorTo {
		sort.Ints(list)
		for _, local := range list {
			g.MirrorProcMirrors = append(g.MirrorProcMirrors, isMirror[local])
		}
		g.MirrorProcOffsets[r+1] = g.MirrorProcOffsets[r] + len(list)
	}
}

// OwnerLocalIndex is the ghost's index in its owner's rank local sequence
func (g *Ghost) OwnerLocalIndex(i int) int {
	return g.ownerIndex(g.Ghosts[i].ID)
}

// GlobalIndex is the position of ghost i on the global curve
func (g *Ghost) GlobalIndex(i int, globalFirstQuadrant []int) int {
	return globalFirstQuadrant[g.Ghosts[i].ID.OwnerRank] + g.OwnerLocalIndex(i)
}

// Validate checks ordering and owner ranges against the forest
func (g *Ghost) Validate(f *Forest) error {
	for i, gq := range g.Ghosts {
		o := gq.ID.OwnerRank
		if o < 0 || o >= g.MPISize || o == g.MPIRank {
			return fmt.Errorf("ghost %d has invalid owner %d", i, o)
		}
		if i < g.ProcOffsets[o] || i >= g.ProcOffsets[o+1] {
			return fmt.Errorf("ghost %d outside the range of owner %d", i, o)
		}
		gi := g.GlobalIndex(i, f.GlobalFirstQuadrant)
		if owner := utils.FindOwner(f.GlobalFirstQuadrant, gi); gq.ID.LocalNum < 0 || owner != o {
			return fmt.Errorf("ghost %d global index %d lies on rank %d, not its owner %d", i, gi, owner, o)
		}
		if i > 0 && g.GlobalIndex(i-1, f.GlobalFirstQuadrant) >= g.GlobalIndex(i, f.GlobalFirstQuadrant) {
			return fmt.Errorf("ghosts %d and %d out of order", i-1, i)
		}
	}
	return nil
}

// Destroy releases the ghost layer
func (g *Ghost) Destroy() {
	g.Ghosts = nil
	g.ProcOffsets = nil
	g.TreeOffsets = nil
	g.Mirrors = nil
	g.MirrorProcOffsets = nil
	g.MirrorProcMirrors = nil
}
