// Package scenario drives the mesh neighbor verifier through fixed setups:
// a single tree, a brick of trees and a non-brick multi tree domain.
package scenario

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/notargets/goamr/forest"
	"github.com/notargets/goamr/parallel"
	"github.com/notargets/goamr/verify"
)

// ErrNotImplemented is returned for scenarios that exist by name only
var ErrNotImplemented = errors.New("scenario not implemented")

type Kind int

const (
	OneTree Kind = iota
	Brick
	NonBrick
)

func (k Kind) String() string {
	switch k {
	case OneTree:
		return "one-tree"
	case Brick:
		return "brick"
	case NonBrick:
		return "non-brick"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "one-tree", "onetree", "single":
		return OneTree, nil
	case "brick":
		return Brick, nil
	case "non-brick", "nonbrick":
		return NonBrick, nil
	}
	return 0, fmt.Errorf("unknown scenario %q", s)
}

// DefaultMinLevel is the uniform level the forest starts from
func (k Kind) DefaultMinLevel() int {
	if k == OneTree {
		return 1
	}
	return 0
}

type Options struct {
	Dim       int
	MinLevel  int   // Negative selects the scenario default
	BrickSize []int // Trees per axis for Brick, 2 per axis when empty
	Balance   forest.ConnectType
	Strict    bool // Range check the mesh and run the property checks
}

func DefaultOptions(dim int) Options {
	return Options{
		Dim:      dim,
		MinLevel: -1,
		Balance:  forest.ConnectFull,
	}
}

// Handles holds the structures of one scenario. Forest and connectivity must
// be nil before and after every scenario.
type Handles struct {
	Conn   *forest.Connectivity
	Forest *forest.Forest
	Ghost  *forest.Ghost
	Mesh   *forest.Mesh
}

// destroy tears down in reverse order of construction
func (h *Handles) destroy() {
	if h.Mesh != nil {
		h.Mesh.Destroy()
		h.Mesh = nil
	}
	if h.Ghost != nil {
		h.Ghost.Destroy()
		h.Ghost = nil
	}
	if h.Forest != nil {
		h.Forest.Destroy()
		h.Forest = nil
	}
	if h.Conn != nil {
		h.Conn.Destroy()
		h.Conn = nil
	}
}

func (h *Handles) mustBeEmpty(kind Kind, when string) {
	if h.Forest != nil || h.Conn != nil {
		panic(fmt.Sprintf("scenario %s: forest or connectivity handle not nil at %s", kind, when))
	}
}

// RefineExactlyOnce accepts only the cell at the origin of tree 0
func RefineExactlyOnce(_ *forest.Forest, tree int, q forest.Quadrant) bool {
	return tree == 0 && q.X == 0 && q.Y == 0 && q.Z == 0
}

// Summary describes one finished scenario as seen from one rank
type Summary struct {
	Kind          Kind
	Dim           int
	Periodic      bool
	Trees         int
	LocalCells    int
	GlobalCells   int
	Ghosts        int
	Records       int
	GlobalRecords int
	LoadMean      float64 // Cells per rank
	LoadStdDev    float64
	Checksum      uint32
}

func (s Summary) String() string {
	return fmt.Sprintf("%s %dD periodic=%v: %d trees, %d cells (%d local, %d ghosts), %d records, load %.1f +/- %.2f, checksum %08x",
		s.Kind, s.Dim, s.Periodic, s.Trees, s.GlobalCells, s.LocalCells, s.Ghosts,
		s.GlobalRecords, s.LoadMean, s.LoadStdDev, s.Checksum)
}

func (opts Options) connectivity(kind Kind, periodic bool) (*forest.Connectivity, error) {
	dim := opts.Dim
	switch kind {
	case OneTree:
		switch {
		case periodic:
			return forest.NewPeriodic(dim)
		case dim == 2:
			return forest.NewUnitSquare(), nil
		case dim == 3:
			return forest.NewUnitCube(), nil
		}
		return nil, fmt.Errorf("invalid dimension %d, must be 2 or 3", dim)
	case Brick:
		n := opts.BrickSize
		if len(n) == 0 {
			n = make([]int, dim)
			for i := range n {
				n[i] = 2
			}
		}
		flags := make([]bool, dim)
		for i := range flags {
			flags[i] = periodic
		}
		return forest.NewBrick(dim, n, flags)
	}
	return nil, fmt.Errorf("scenario %s: %w", kind, ErrNotImplemented)
}

// Run executes one scenario: build the connectivity and a uniform forest,
// refine the origin cell once, partition, balance, build the ghost layer and
// the mesh, print the resolved neighbors in rank order and tear everything
// down. Forest and connectivity handles that are not nil on entry are a
// programming error and panic. Collective.
func Run(comm *parallel.Comm, h *Handles, kind Kind, periodic bool, opts Options, out io.Writer) (s Summary, err error) {
	h.mustBeEmpty(kind, "start")
	logger := comm.Logger().Named("scenario").With(
		zap.Stringer("run", comm.Context().ID), zap.Stringer("kind", kind), zap.Bool("periodic", periodic), zap.Int("dim", opts.Dim))

	if kind == NonBrick {
		logger.Warn("scenario is not implemented")
		return s, fmt.Errorf("scenario %s: %w", kind, ErrNotImplemented)
	}
	defer func() {
		h.destroy()
		h.mustBeEmpty(kind, "end")
	}()

	if h.Conn, err = opts.connectivity(kind, periodic); err != nil {
		return
	}
	minLevel := opts.MinLevel
	if minLevel < 0 {
		minLevel = kind.DefaultMinLevel()
	}
	ct := opts.Balance
	if ct == 0 {
		ct = forest.ConnectFull
	}
	logger.Info("scenario start", zap.Stringer("connectivity", h.Conn), zap.Int("min_level", minLevel))

	if h.Forest, err = forest.New(comm, h.Conn, minLevel); err != nil {
		return
	}
	f := h.Forest
	if err = f.Refine(false, RefineExactlyOnce); err != nil {
		return
	}
	if _, err = f.Partition(); err != nil {
		return
	}
	if err = f.Balance(ct); err != nil {
		return
	}
	// The mesh needs ghosts across faces whatever the balance type
	if h.Ghost, err = forest.NewGhost(f, forest.ConnectFull); err != nil {
		return
	}
	if h.Mesh, err = forest.NewMesh(f, h.Ghost, forest.ConnectFull); err != nil {
		return
	}

	var recs []verify.Record
	if opts.Strict {
		if recs, err = verify.CheckMeshStrict(f, h.Ghost, h.Mesh); err != nil {
			return
		}
		if err = checkProperties(comm, h, recs); err != nil {
			return
		}
	} else {
		recs = verify.CheckMesh(f, h.Ghost, h.Mesh)
	}
	if err = verify.PrintOrdered(comm, out, recs); err != nil {
		return
	}
	// Nobody tears down while another rank is still printing
	comm.Barrier()

	s = summarize(comm, h, kind, periodic, recs)
	logger.Info("scenario done",
		zap.Int("cells", s.GlobalCells),
		zap.Int("records", s.GlobalRecords),
		zap.Uint32("checksum", s.Checksum))
	return
}

func checkProperties(comm *parallel.Comm, h *Handles, recs []verify.Record) error {
	if err := verify.CheckRanges(h.Forest, recs); err != nil {
		return err
	}
	if err := verify.CheckGhostOwners(h.Forest, h.Ghost); err != nil {
		return err
	}
	// Only same size links are checked, periodic domains included
	return verify.CheckSymmetry(comm, h.Forest, recs)
}

func summarize(comm *parallel.Comm, h *Handles, kind Kind, periodic bool, recs []verify.Record) (s Summary) {
	f := h.Forest
	loads := make([]float64, f.MPISize)
	for r := range loads {
		loads[r] = float64(f.GlobalFirstQuadrant[r+1] - f.GlobalFirstQuadrant[r])
	}
	s = Summary{
		Kind:          kind,
		Dim:           f.Dim,
		Periodic:      periodic,
		Trees:         h.Conn.NumTrees(),
		LocalCells:    f.LocalNumQuadrants,
		GlobalCells:   f.GlobalNumQuadrants,
		Ghosts:        len(h.Ghost.Ghosts),
		Records:       len(recs),
		GlobalRecords: verify.TotalRecords(comm, recs),
		Checksum:      f.Checksum(),
	}
	if len(loads) > 1 {
		s.LoadMean, s.LoadStdDev = stat.MeanStdDev(loads, nil)
	} else {
		s.LoadMean = loads[0]
	}
	return
}

// Case is one entry of a scenario sequence
type Case struct {
	Kind     Kind
	Periodic bool
}

// DefaultCases are the one tree and brick scenarios, each without and with
// periodic boundaries
func DefaultCases() []Case {
	return []Case{
		{OneTree, false}, {OneTree, true},
		{Brick, false}, {Brick, true},
	}
}

// RunAll runs the cases in order with fresh handles and stops at the first
// failure. Collective.
func RunAll(comm *parallel.Comm, cases []Case, opts Options, out io.Writer) (sums []Summary, err error) {
	var (
		h Handles
		s Summary
	)
	for _, c := range cases {
		if s, err = Run(comm, &h, c.Kind, c.Periodic, opts, out); err != nil {
			return
		}
		sums = append(sums, s)
	}
	return
}
