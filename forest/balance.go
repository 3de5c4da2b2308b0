package forest

import (
	"go.uber.org/zap"

	"github.com/notargets/goamr/parallel"
)

// Balance refines until leaves adjacent through ct differ by at most one
// level. Every rank replays the same refinement on the gathered leaves and
// keeps the descendants of its own quadrants, so ownership does not change.
// Collective.
func (f *Forest) Balance(ct ConnectType) error {
	if err := f.checkLive(); err != nil {
		return err
	}
	if err := ct.validFor(f.Dim); err != nil {
		return err
	}
	var (
		all   = f.gatherLeaves()
		owner = newLookup[int](f.Conn, f.GlobalNumQuadrants)
		stack = make([]leafKey, 0, f.GlobalNumQuadrants)
		dirs  = directions(f.Dim, ct)
		split int
	)
	for r, rankLeaves := range all {
		for _, k := range rankLeaves {
			owner.put(k, r)
			stack = append(stack, k)
		}
	}
	// Stack order is deterministic, every rank performs identical splits
	for len(stack) > 0 {
		k := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, live := owner.get(k); !live {
			continue
		}
		for _, off := range dirs {
			nt, n, inside := f.Conn.Neighbor(int(k.Tree), k.Q, off)
			if !inside {
				continue
			}
			big, r, found := owner.containing(nt, n)
			if !found || big.Q.Level >= k.Q.Level-1 {
				continue
			}
			owner.remove(big)
			for _, c := range big.Q.Children(f.Dim) {
				ck := leafKey{Tree: big.Tree, Q: c}
				owner.put(ck, r)
				stack = append(stack, ck)
			}
			split++
			// Revisit k, the neighbor may still be too coarse
			stack = append(stack, k)
			break
		}
	}

	mine := make([]leafKey, 0, f.LocalNumQuadrants)
	for k, r := range owner.leaves {
		if r == f.MPIRank {
			mine = append(mine, k)
		}
	}
	sortLeaves(mine)
	f.setLeaves(mine)
	f.updateCounts()
	f.logger.Debug("balance",
		zap.Stringer("connect", ct),
		zap.Int("splits", split),
		zap.Int("local", f.LocalNumQuadrants),
		zap.Int("global", f.GlobalNumQuadrants))
	return nil
}

// IsBalanced checks the 2:1 condition for the local leaves against the
// whole forest. Collective.
func (f *Forest) IsBalanced(ct ConnectType) (bool, error) {
	if err := f.checkLive(); err != nil {
		return false, err
	}
	if err := ct.validFor(f.Dim); err != nil {
		return false, err
	}
	var (
		all = newLookup[struct{}](f.Conn, f.GlobalNumQuadrants)
		ok  = true
	)
	for _, rankLeaves := range f.gatherLeaves() {
		for _, k := range rankLeaves {
			all.put(k, struct{}{})
		}
	}
	dirs := directions(f.Dim, ct)
	f.ForEach(func(tree, _ int, q Quadrant) {
		for _, off := range dirs {
			nt, n, inside := f.Conn.Neighbor(tree, q, off)
			if !inside {
				continue
			}
			if big, _, found := all.containing(nt, n); found && big.Q.Level < q.Level-1 {
				ok = false
			}
		}
	})
	return parallel.AllreduceSum(f.comm, boolToInt(!ok)) == 0, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
