package parallel

import (
	"errors"
	"sync"
)

var errBarrierBroken = errors.New("parallel: barrier broken")

// barrier is a reusable cyclic barrier for a fixed number of parties. Once
// aborted every current and future waiter panics with errBarrierBroken, which
// Context.Run turns back into ErrAborted.
type barrier struct {
	mu         sync.Mutex
	cond       *sync.Cond
	parties    int
	waiting    int
	generation uint64
	broken     bool
}

func newBarrier(parties int) *barrier {
	b := &barrier{parties: parties}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *barrier) wait() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.broken {
		panic(errBarrierBroken)
	}
	gen := b.generation
	b.waiting++
	if b.waiting == b.parties {
		b.waiting = 0
		b.generation++
		b.cond.Broadcast()
		return
	}
	for gen == b.generation && !b.broken {
		b.cond.Wait()
	}
	if gen == b.generation && b.broken {
		panic(errBarrierBroken)
	}
}

func (b *barrier) abort() {
	b.mu.Lock()
	b.broken = true
	b.cond.Broadcast()
	b.mu.Unlock()
}
