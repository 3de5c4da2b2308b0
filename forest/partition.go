package forest

import (
	"go.uber.org/zap"

	"github.com/notargets/goamr/parallel"
	"github.com/notargets/goamr/utils"
)

// Partition redistributes the quadrants so that every rank holds an equal
// share of the curve, within one quadrant. It returns the global number of
// quadrants that changed rank. Collective.
func (f *Forest) Partition() (shipped int, err error) {
	if err = f.checkLive(); err != nil {
		return
	}
	var (
		pm    = utils.NewPartitionMap(f.MPISize, f.GlobalNumQuadrants)
		myLo  = f.GlobalFirstQuadrant[f.MPIRank]
		send  = make([][]leafKey, f.MPISize)
		moved int
	)
	for i, k := range f.leaves() {
		d, _, _ := pm.GetBucket(myLo + i)
		send[d] = append(send[d], k)
		if d != f.MPIRank {
			moved++
		}
	}
	recv := parallel.Alltoall(f.comm, send)
	keys := make([]leafKey, 0, pm.GetBucketDimension(f.MPIRank))
	for _, part := range recv {
		keys = append(keys, part...)
	}
	f.setLeaves(keys)
	f.updateCounts()
	shipped = parallel.AllreduceSum(f.comm, moved)

	if f.MPIRank == 0 {
		f.logPartition(shipped)
	}
	return
}

func (f *Forest) logPartition(shipped int) {
	var (
		minLoad, maxLoad = f.GlobalNumQuadrants, 0
	)
	for r := 0; r < f.MPISize; r++ {
		n := f.GlobalFirstQuadrant[r+1] - f.GlobalFirstQuadrant[r]
		minLoad, maxLoad = min(minLoad, n), max(maxLoad, n)
	}
	f.logger.Debug("Partition Analysis",
		zap.Int("partitions", f.MPISize),
		zap.Int("quadrants", f.GlobalNumQuadrants),
		zap.Int("shipped", shipped),
		zap.Int("min_load", minLoad),
		zap.Int("max_load", maxLoad))
}
