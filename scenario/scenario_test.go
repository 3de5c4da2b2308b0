package scenario

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/goamr/forest"
	"github.com/notargets/goamr/parallel"
	"github.com/notargets/goamr/verify"
)

func runRanks(t *testing.T, size int, fn func(comm *parallel.Comm) error) error {
	t.Helper()
	c, err := parallel.Init(size, nil)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()
	return c.Run(context.Background(), fn)
}

func TestParseKind(t *testing.T) {
	for _, k := range []Kind{OneTree, Brick, NonBrick} {
		parsed, err := ParseKind(k.String())
		assert.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
	_, err := ParseKind("torus")
	assert.Error(t, err)
}

func TestRun_OneTreeSingleRank(t *testing.T) {
	var (
		out bytes.Buffer
		sum Summary
		h   Handles
	)
	err := runRanks(t, 1, func(comm *parallel.Comm) (err error) {
		opts := DefaultOptions(2)
		opts.Strict = true
		sum, err = Run(comm, &h, OneTree, false, opts, &out)
		return
	})
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, 28)
	assert.NotContains(t, out.String(), verify.GhostMarker)
	assert.Equal(t, 7, sum.GlobalCells)
	assert.Equal(t, 28, sum.GlobalRecords)
	assert.Equal(t, 0, sum.Ghosts)
	assert.Equal(t, 7.0, sum.LoadMean)
	assert.Nil(t, h.Forest)
	assert.Nil(t, h.Conn)
	assert.Nil(t, h.Ghost)
	assert.Nil(t, h.Mesh)
}

func TestRun_RoundTrip(t *testing.T) {
	for _, tc := range []struct {
		kind     Kind
		dim      int
		periodic bool
	}{
		{OneTree, 2, false},
		{OneTree, 3, true},
		{Brick, 2, true},
		{Brick, 3, false},
	} {
		size := 3
		var (
			mu    sync.Mutex
			pairs = make([][2]Summary, size)
		)
		err := runRanks(t, size, func(comm *parallel.Comm) error {
			var (
				h    Handles
				opts = DefaultOptions(tc.dim)
				out  bytes.Buffer
			)
			opts.Strict = true
			first, err := Run(comm, &h, tc.kind, tc.periodic, opts, &out)
			if err != nil {
				return err
			}
			assert.Nil(t, h.Forest)
			assert.Nil(t, h.Conn)
			second, err := Run(comm, &h, tc.kind, tc.periodic, opts, &out)
			if err != nil {
				return err
			}
			mu.Lock()
			pairs[comm.Rank()] = [2]Summary{first, second}
			mu.Unlock()
			return nil
		})
		require.NoError(t, err, "%s %dD", tc.kind, tc.dim)
		for r := 0; r < size; r++ {
			assert.Equal(t, pairs[r][0], pairs[r][1], "%s %dD rank %d", tc.kind, tc.dim, r)
			assert.Equal(t, pairs[0][0].GlobalRecords, pairs[r][0].GlobalRecords)
			assert.Equal(t, pairs[0][0].Checksum, pairs[r][0].Checksum)
		}
	}
}

func TestRun_BrickCounts(t *testing.T) {
	var sums [2]Summary
	err := runRanks(t, 2, func(comm *parallel.Comm) (err error) {
		var (
			h   Handles
			out bytes.Buffer
		)
		sums[comm.Rank()], err = Run(comm, &h, Brick, false, DefaultOptions(3), &out)
		return
	})
	require.NoError(t, err)
	sum := sums[0]
	assert.Equal(t, sum.GlobalCells, sums[1].GlobalCells)
	assert.Equal(t, sum.Checksum, sums[1].Checksum)
	assert.Equal(t, 15, sum.LocalCells+sums[1].LocalCells)
	// Eight root trees, the first one split into eight
	assert.Equal(t, 8, sum.Trees)
	assert.Equal(t, 15, sum.GlobalCells)
	assert.Equal(t, 6*15, sum.GlobalRecords)
	assert.Equal(t, 7.5, sum.LoadMean)
	assert.InDelta(t, 0.7071, sum.LoadStdDev, 1e-4)
}

func TestRun_NonBrickNotImplemented(t *testing.T) {
	err := runRanks(t, 2, func(comm *parallel.Comm) error {
		var h Handles
		_, err := Run(comm, &h, NonBrick, false, DefaultOptions(2), &bytes.Buffer{})
		return err
	})
	assert.ErrorIs(t, err, ErrNotImplemented)
}

func TestRun_HandlesMustBeNil(t *testing.T) {
	assert.Panics(t, func() {
		_ = runRanks(t, 1, func(comm *parallel.Comm) error {
			h := Handles{Conn: forest.NewUnitSquare()}
			_, err := Run(comm, &h, OneTree, false, DefaultOptions(2), &bytes.Buffer{})
			return err
		})
	})
}

func TestRun_InvalidOptionsCleanUp(t *testing.T) {
	var h Handles
	err := runRanks(t, 1, func(comm *parallel.Comm) error {
		opts := DefaultOptions(2)
		opts.Balance = forest.ConnectEdge
		_, err := Run(comm, &h, Brick, false, opts, &bytes.Buffer{})
		return err
	})
	assert.Error(t, err)
	assert.Nil(t, h.Forest)
	assert.Nil(t, h.Conn)
}

func TestRunAll(t *testing.T) {
	var (
		out  bytes.Buffer
		sums []Summary
	)
	err := runRanks(t, 2, func(comm *parallel.Comm) error {
		s, err := RunAll(comm, DefaultCases(), DefaultOptions(2), &out)
		if comm.Rank() == 0 {
			sums = s
		}
		return err
	})
	require.NoError(t, err)
	require.Len(t, sums, 4)
	assert.Equal(t, 7, sums[0].GlobalCells)
	assert.Equal(t, 7, sums[1].GlobalCells)
	assert.Equal(t, 4-1+4, sums[2].GlobalCells)
	// Periodic domains have no boundary faces
	assert.Contains(t, out.String(), verify.BoundaryMarker)
	assert.Contains(t, out.String(), verify.GhostMarker)

	// Cases before the failing one are still reported
	sums = nil
	err = runRanks(t, 2, func(comm *parallel.Comm) error {
		s, err := RunAll(comm, []Case{{OneTree, false}, {NonBrick, true}}, DefaultOptions(2), &bytes.Buffer{})
		if comm.Rank() == 0 {
			sums = s
		}
		return err
	})
	assert.ErrorIs(t, err, ErrNotImplemented)
	require.Len(t, sums, 1)
	assert.Equal(t, OneTree, sums[0].Kind)
}
