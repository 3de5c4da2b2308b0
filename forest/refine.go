package forest

import (
	"go.uber.org/zap"

	"github.com/notargets/goamr/parallel"
)

// RefineFunc decides whether quadrant q of tree is replaced by its children
type RefineFunc func(f *Forest, tree int, q Quadrant) bool

// Refine replaces every quadrant accepted by fn with its children. With
// recursive set the children are offered to fn again. Quadrants at the
// maximum level are never refined. Collective.
func (f *Forest) Refine(recursive bool, fn RefineFunc) error {
	if err := f.checkLive(); err != nil {
		return err
	}
	var (
		maxLevel = int8(MaxLevel(f.Dim))
		before   = f.LocalNumQuadrants
	)
	for t := range f.Trees {
		var (
			out  = make([]Quadrant, 0, len(f.Trees[t].Quadrants))
			walk func(q Quadrant)
		)
		walk = func(q Quadrant) {
			if q.Level >= maxLevel || !fn(f, t, q) {
				out = append(out, q)
				return
			}
			for _, c := range q.Children(f.Dim) {
				if recursive {
					walk(c)
				} else {
					out = append(out, c)
				}
			}
		}
		for _, q := range f.Trees[t].Quadrants {
			walk(q)
		}
		f.Trees[t].Quadrants = out
	}
	f.updateCounts()
	added := parallel.AllreduceSum(f.comm, f.LocalNumQuadrants-before)
	f.logger.Debug("refine",
		zap.Bool("recursive", recursive),
		zap.Int("added", added),
		zap.Int("global", f.GlobalNumQuadrants))
	return nil
}
