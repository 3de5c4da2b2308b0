package parallel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestContext(t *testing.T, size int) *Context {
	c, err := Init(size, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestInit_InvalidSize(t *testing.T) {
	_, err := Init(0, nil)
	assert.Error(t, err)
}

func TestAllgather(t *testing.T) {
	for _, size := range []int{1, 2, 5} {
		c := newTestContext(t, size)
		results := make([][]int, size)
		err := c.Run(context.Background(), func(comm *Comm) error {
			results[comm.Rank()] = Allgather(comm, comm.Rank()*10)
			return nil
		})
		require.NoError(t, err)
		for r := 0; r < size; r++ {
			require.Len(t, results[r], size)
			for s := 0; s < size; s++ {
				assert.Equal(t, s*10, results[r][s])
			}
		}
	}
}

func TestAlltoall(t *testing.T) {
	size := 4
	c := newTestContext(t, size)
	results := make([][][]string, size)
	err := c.Run(context.Background(), func(comm *Comm) error {
		send := make([][]string, size)
		for d := 0; d < size; d++ {
			// Rank r sends r+1 messages to every other rank, nothing to itself
			if d == comm.Rank() {
				continue
			}
			for i := 0; i <= comm.Rank(); i++ {
				send[d] = append(send[d], fmt.Sprintf("%d->%d:%d", comm.Rank(), d, i))
			}
		}
		results[comm.Rank()] = Alltoall(comm, send)
		return nil
	})
	require.NoError(t, err)
	for r := 0; r < size; r++ {
		for s := 0; s < size; s++ {
			if s == r {
				assert.Empty(t, results[r][s])
				continue
			}
			require.Len(t, results[r][s], s+1)
			assert.Equal(t, fmt.Sprintf("%d->%d:0", s, r), results[r][s][0])
		}
	}
}

func TestReductionsAndBcast(t *testing.T) {
	c := newTestContext(t, 3)
	var mu sync.Mutex
	seen := map[int][3]int{}
	err := c.Run(context.Background(), func(comm *Comm) error {
		sum := AllreduceSum(comm, comm.Rank()+1)
		max := AllreduceMax(comm, comm.Rank()*7)
		root := Bcast(comm, 2, comm.Rank()+100)
		mu.Lock()
		seen[comm.Rank()] = [3]int{sum, max, root}
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	for r := 0; r < 3; r++ {
		assert.Equal(t, [3]int{6, 14, 102}, seen[r])
	}
}

func TestOrdered(t *testing.T) {
	c := newTestContext(t, 4)
	var buf bytes.Buffer
	err := c.Run(context.Background(), func(comm *Comm) error {
		// Later ranks get there first, the output must still be in rank order
		time.Sleep(time.Duration(comm.Size()-comm.Rank()) * time.Millisecond)
		comm.Ordered(func() {
			fmt.Fprintf(&buf, "%d;", comm.Rank())
		})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "0;1;2;3;", buf.String())
}

func TestRun_ErrorReleasesBlockedRanks(t *testing.T) {
	c := newTestContext(t, 3)
	boom := errors.New("boom")
	err := c.Run(context.Background(), func(comm *Comm) error {
		if comm.Rank() == 1 {
			return boom
		}
		comm.Barrier()
		comm.Barrier()
		return nil
	})
	assert.ErrorIs(t, err, boom)
}

func TestRun_PanicIsReraised(t *testing.T) {
	c := newTestContext(t, 2)
	assert.PanicsWithValue(t, "precondition", func() {
		_ = c.Run(context.Background(), func(comm *Comm) error {
			if comm.Rank() == 0 {
				panic("precondition")
			}
			comm.Barrier()
			return nil
		})
	})
}

func TestRun_Cancelled(t *testing.T) {
	c := newTestContext(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	err := c.Run(ctx, func(comm *Comm) error {
		if comm.Rank() == 0 {
			cancel()
		}
		// Rank 1 waits forever unless the cancellation breaks the barrier
		for {
			comm.Barrier()
			if comm.Rank() == 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
			}
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClose(t *testing.T) {
	c, err := Init(2, nil)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Close(), ErrClosed)
	assert.ErrorIs(t, c.Run(context.Background(), func(*Comm) error { return nil }), ErrClosed)
}

func TestRun_Reusable(t *testing.T) {
	c := newTestContext(t, 2)
	for i := 0; i < 3; i++ {
		err := c.Run(context.Background(), func(comm *Comm) error {
			assert.Equal(t, 1, AllreduceSum(comm, comm.Rank()))
			return nil
		})
		require.NoError(t, err)
	}
}
