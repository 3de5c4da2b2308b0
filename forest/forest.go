// Package forest is a distributed forest of quadtrees (2-D) or octrees (3-D)
// over a brick of trees. Each rank of a parallel.Comm holds a contiguous piece
// of the global space filling curve; collectives keep the pieces consistent.
package forest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"sort"

	"go.uber.org/zap"

	"github.com/notargets/goamr/parallel"
	"github.com/notargets/goamr/utils"
)

var (
	// ErrNotBalanced is returned when neighbors differ by more than one level
	ErrNotBalanced = errors.New("forest is not 2:1 balanced")
	// ErrDestroyed is returned by operations on a destroyed forest
	ErrDestroyed = errors.New("forest has been destroyed")
)

type Tree struct {
	Quadrants       []Quadrant // Local quadrants of this tree in Morton order
	QuadrantsOffset int        // Local index of the first quadrant of this tree
}

type Forest struct {
	Conn *Connectivity
	Dim  int

	MPIRank, MPISize int

	LocalNumQuadrants   int
	GlobalNumQuadrants  int
	GlobalFirstQuadrant []int // MPISize+1 prefix sums of the per rank counts

	FirstLocalTree, LastLocalTree int // -1, -2 when the rank is empty
	Trees                         []Tree

	comm   *parallel.Comm
	logger *zap.Logger
}

// leafKey names a quadrant globally
type leafKey struct {
	Tree int32
	Q    Quadrant
}

func lessLeaf(a, b leafKey) bool {
	if a.Tree != b.Tree {
		return a.Tree < b.Tree
	}
	return Compare(a.Q, b.Q) < 0
}

// New builds a uniformly refined forest at minLevel and splits it evenly
// between the ranks of comm. Collective.
func New(comm *parallel.Comm, conn *Connectivity, minLevel int) (f *Forest, err error) {
	if conn == nil || conn.Dim == 0 {
		return nil, fmt.Errorf("forest needs a connectivity")
	}
	var (
		dim      = conn.Dim
		maxLevel = MaxLevel(dim)
	)
	// The uniform count per tree must fit the Morton index
	if minLevel < 0 || minLevel > maxLevel || dim*minLevel > 60 {
		return nil, fmt.Errorf("invalid minimum level %d for a %d-D forest", minLevel, dim)
	}
	f = &Forest{
		Conn:    conn,
		Dim:     dim,
		MPIRank: comm.Rank(),
		MPISize: comm.Size(),
		Trees:   make([]Tree, conn.NumTrees()),
		comm:    comm,
		logger:  comm.Logger().Named("forest"),
	}
	var (
		perTree     = 1 << uint(dim*minLevel)
		total       = perTree * conn.NumTrees()
		first, last = utils.NewPartitionMap(f.MPISize, total).GetBucketRange(f.MPIRank)
	)
	for k := first; k < last; k++ {
		t := k / perTree
		f.Trees[t].Quadrants = append(f.Trees[t].Quadrants,
			mortonQuadrant(dim, int8(minLevel), uint64(k%perTree)))
	}
	f.updateCounts()
	f.logger.Debug("new forest",
		zap.Stringer("connectivity", conn),
		zap.Int("min_level", minLevel),
		zap.Int("local", f.LocalNumQuadrants),
		zap.Int("global", f.GlobalNumQuadrants))
	return f, nil
}

// Destroy releases the local storage, the forest must not be used afterwards
func (f *Forest) Destroy() {
	f.Trees = nil
	f.GlobalFirstQuadrant = nil
	f.LocalNumQuadrants = 0
	f.Conn = nil
}

func (f *Forest) NumFaces() int { return 2 * f.Dim }

func (f *Forest) checkLive() error {
	if f.Conn == nil {
		return ErrDestroyed
	}
	return nil
}

// updateCounts recomputes tree offsets and the global prefix sums after a
// change of the local quadrants. Collective.
func (f *Forest) updateCounts() {
	f.LocalNumQuadrants = 0
	f.FirstLocalTree, f.LastLocalTree = -1, -2
	for t := range f.Trees {
		f.Trees[t].QuadrantsOffset = f.LocalNumQuadrants
		if n := len(f.Trees[t].Quadrants); n > 0 {
			if f.FirstLocalTree < 0 {
				f.FirstLocalTree = t
			}
			f.LastLocalTree = t
			f.LocalNumQuadrants += n
		}
	}
	counts := parallel.Allgather(f.comm, f.LocalNumQuadrants)
	f.GlobalFirstQuadrant = make([]int, f.MPISize+1)
	for r, n := range counts {
		f.GlobalFirstQuadrant[r+1] = f.GlobalFirstQuadrant[r] + n
	}
	f.GlobalNumQuadrants = f.GlobalFirstQuadrant[f.MPISize]
}

// QuadrantsOffsets lists Trees[t].QuadrantsOffset for every tree
func (f *Forest) QuadrantsOffsets() (offsets []int) {
	offsets = make([]int, len(f.Trees))
	for t := range f.Trees {
		offsets[t] = f.Trees[t].QuadrantsOffset
	}
	return
}

// ForEach visits the local quadrants in curve order
func (f *Forest) ForEach(fn func(tree, local int, q Quadrant)) {
	for t := range f.Trees {
		for i, q := range f.Trees[t].Quadrants {
			fn(t, f.Trees[t].QuadrantsOffset+i, q)
		}
	}
}

// leaves returns a fresh slice of the local quadrants in curve order
func (f *Forest) leaves() (keys []leafKey) {
	keys = make([]leafKey, 0, f.LocalNumQuadrants)
	f.ForEach(func(tree, _ int, q Quadrant) {
		keys = append(keys, leafKey{Tree: int32(tree), Q: q})
	})
	return
}

// setLeaves replaces the local quadrants, keys must be in curve order
func (f *Forest) setLeaves(keys []leafKey) {
	for t := range f.Trees {
		f.Trees[t].Quadrants = nil
	}
	for _, k := range keys {
		f.Trees[k.Tree].Quadrants = append(f.Trees[k.Tree].Quadrants, k.Q)
	}
}

// gatherLeaves returns every rank's leaves, indexed by rank. Collective.
func (f *Forest) gatherLeaves() [][]leafKey {
	return parallel.Allgather(f.comm, f.leaves())
}

// IsValid checks local ordering and the absence of overlaps
func (f *Forest) IsValid() error {
	if err := f.checkLive(); err != nil {
		return err
	}
	for t := range f.Trees {
		qs := f.Trees[t].Quadrants
		for i, q := range qs {
			if !q.IsValid(f.Dim) {
				return fmt.Errorf("tree %d quadrant %d invalid: %v", t, i, q)
			}
			if i > 0 {
				if Compare(qs[i-1], q) >= 0 {
					return fmt.Errorf("tree %d quadrants %d and %d out of order", t, i-1, i)
				}
				if qs[i-1].Contains(f.Dim, q) {
					return fmt.Errorf("tree %d quadrant %d overlaps %d", t, i-1, i)
				}
			}
		}
	}
	return nil
}

// Checksum is a crc32 of the global leaf sequence, it does not depend on the
// partition. Collective.
func (f *Forest) Checksum() uint32 {
	var (
		h   = crc32.NewIEEE()
		buf [17]byte
	)
	all := f.gatherLeaves()
	if f.MPIRank != 0 {
		return parallel.Bcast(f.comm, 0, uint32(0))
	}
	for _, rankLeaves := range all {
		for _, k := range rankLeaves {
			binary.LittleEndian.PutUint32(buf[0:], uint32(k.Tree))
			binary.LittleEndian.PutUint32(buf[4:], uint32(k.Q.X))
			binary.LittleEndian.PutUint32(buf[8:], uint32(k.Q.Y))
			binary.LittleEndian.PutUint32(buf[12:], uint32(k.Q.Z))
			buf[16] = byte(k.Q.Level)
			_, _ = h.Write(buf[:])
		}
	}
	return parallel.Bcast(f.comm, 0, h.Sum32())
}

// LevelHistogram counts local quadrants per level
func (f *Forest) LevelHistogram() (histo map[int]int) {
	histo = make(map[int]int)
	f.ForEach(func(_, _ int, q Quadrant) {
		histo[int(q.Level)]++
	})
	return
}

func sortLeaves(keys []leafKey) {
	sort.Slice(keys, func(i, j int) bool { return lessLeaf(keys[i], keys[j]) })
}
