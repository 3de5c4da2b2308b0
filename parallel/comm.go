package parallel

import (
	"fmt"

	"go.uber.org/zap"
)

// Comm is one rank's handle on its group, the in-process equivalent of an
// MPI communicator. A Comm must only be used from the goroutine it was
// handed to.
type Comm struct {
	world  *world
	rank   int
	logger *zap.Logger
}

func (c *Comm) Rank() int { return c.rank }

func (c *Comm) Size() int { return c.world.size }

// Logger returns the group logger tagged with this rank
func (c *Comm) Logger() *zap.Logger { return c.logger }

// Context returns the runtime this rank belongs to
func (c *Comm) Context() *Context { return c.world.ctx }

// Barrier blocks until every rank of the group has reached it
func (c *Comm) Barrier() {
	c.world.barrier.wait()
}

// Ordered runs fn on each rank in turn, rank 0 first, with a barrier after
// every turn. Output written inside fn therefore appears in rank order.
func (c *Comm) Ordered(fn func()) {
	for r := 0; r < c.world.size; r++ {
		if r == c.rank {
			fn()
		}
		c.Barrier()
	}
}

// Allgather collects one value from every rank, indexed by rank. Values are
// shared, not copied: neither the sender nor the receivers may modify them
// afterwards.
func Allgather[T any](c *Comm, v T) []T {
	w := c.world
	w.slots[c.rank] = v
	c.Barrier()
	out := make([]T, w.size)
	for r := range out {
		out[r] = w.slots[r].(T)
	}
	c.Barrier()
	return out
}

// Bcast returns root's value on every rank
func Bcast[T any](c *Comm, root int, v T) T {
	if root < 0 || root >= c.world.size {
		panic(fmt.Sprintf("broadcast root %d out of range [0,%d)", root, c.world.size))
	}
	return Allgather(c, v)[root]
}

// Alltoall sends send[d] to rank d and returns what every rank sent to this
// one, indexed by source rank
func Alltoall[T any](c *Comm, send [][]T) (recv [][]T) {
	w := c.world
	if len(send) != w.size {
		panic(fmt.Sprintf("alltoall needs %d send buffers, have %d", w.size, len(send)))
	}
	for target, msgs := range send {
		if len(msgs) != 0 {
			w.mb.PostMessage(c.rank, target, any(msgs))
		}
	}
	w.mb.DeliverMyMessages(c.rank)
	c.Barrier()
	w.mb.ReceiveMyMessages(c.rank)
	recv = make([][]T, w.size)
	for _, env := range w.mb.Inbox(c.rank) {
		for _, msg := range env.Msgs {
			recv[env.From] = append(recv[env.From], msg.([]T)...)
		}
	}
	w.mb.ClearMyMessages(c.rank)
	c.Barrier()
	return
}

// AllreduceSum returns the sum of v over all ranks
func AllreduceSum(c *Comm, v int) (sum int) {
	for _, x := range Allgather(c, v) {
		sum += x
	}
	return
}

// AllreduceMax returns the maximum of v over all ranks
func AllreduceMax(c *Comm, v int) (max int) {
	all := Allgather(c, v)
	max = all[0]
	for _, x := range all[1:] {
		if x > max {
			max = x
		}
	}
	return
}
