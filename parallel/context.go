// Package parallel runs a fixed group of ranks inside one process. Each rank
// is a goroutine holding a Comm; collectives synchronize all ranks of the
// group the way MPI collectives do.
package parallel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/notargets/goamr/utils"
)

var (
	// ErrAborted is returned by ranks that were released from a collective
	// because another rank failed
	ErrAborted = errors.New("parallel: rank group aborted")
	// ErrClosed is returned when a closed Context is used
	ErrClosed = errors.New("parallel: context closed")
)

// Context is the explicit runtime of a rank group. It replaces process wide
// library state: everything a rank needs (size, logger, transport) is reached
// through it, and it is torn down with Close.
type Context struct {
	ID     uuid.UUID
	Logger *zap.Logger

	size   int
	mu     sync.Mutex
	closed bool
}

// Init creates a rank group of the given size. A nil logger is replaced by a
// no-op logger.
func Init(size int, logger *zap.Logger) (*Context, error) {
	if size < 1 {
		return nil, fmt.Errorf("invalid rank group size %d", size)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Context{
		ID:     uuid.New(),
		Logger: logger,
		size:   size,
	}
	c.Logger.Debug("rank group initialized",
		zap.String("run", c.ID.String()), zap.Int("size", size))
	return c, nil
}

func (c *Context) Size() int { return c.size }

// Run executes fn once per rank, each on its own goroutine, and waits for all
// of them. The first failing rank's error is returned; ranks blocked in a
// collective at that time are released with ErrAborted. A panic on any rank is
// re-raised on the caller's goroutine after every rank has stopped.
func (c *Context) Run(ctx context.Context, fn func(comm *Comm) error) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	w := newWorld(c)
	var (
		g       errgroup.Group
		done    = make(chan struct{})
		watcher sync.WaitGroup
	)
	watcher.Add(1)
	go func() {
		defer watcher.Done()
		select {
		case <-ctx.Done():
			w.abort(ctx.Err())
		case <-done:
		}
	}()

	for r := 0; r < c.size; r++ {
		comm := &Comm{
			world:  w,
			rank:   r,
			logger: c.Logger.With(zap.Int("rank", r)),
		}
		g.Go(func() (err error) {
			defer func() {
				if p := recover(); p != nil {
					if p == errBarrierBroken {
						err = ErrAborted
						return
					}
					w.setPanic(p)
					err = ErrAborted
				}
			}()
			if err = fn(comm); err != nil {
				w.abort(err)
			}
			return err
		})
	}
	err := g.Wait()
	close(done)
	watcher.Wait()

	if p := w.panicValue(); p != nil {
		panic(p)
	}
	if err == nil {
		return nil
	}
	if root := w.rootError(); root != nil {
		return root
	}
	return err
}

// Close tears the group down and flushes the logger. Run fails afterwards.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.closed = true
	c.Logger.Debug("rank group finalized", zap.String("run", c.ID.String()))
	// Sync on console sinks reports EINVAL on some platforms, ignore it
	_ = c.Logger.Sync()
	return nil
}

// world is the shared state of a single Run: barrier, exchange slots and the
// mailbox used for point to point traffic
type world struct {
	ctx     *Context
	size    int
	barrier *barrier
	slots   []any
	mb      *utils.MailBox[any]

	mu       sync.Mutex
	failErr  error
	panicked any
}

func newWorld(c *Context) *world {
	return &world{
		ctx:     c,
		size:    c.size,
		barrier: newBarrier(c.size),
		slots:   make([]any, c.size),
		mb:      utils.NewMailBox[any](c.size),
	}
}

func (w *world) abort(err error) {
	w.mu.Lock()
	if w.failErr == nil {
		w.failErr = err
	}
	w.mu.Unlock()
	w.barrier.abort()
}

func (w *world) rootError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failErr
}

func (w *world) setPanic(p any) {
	w.mu.Lock()
	if w.panicked == nil {
		w.panicked = p
	}
	w.mu.Unlock()
	w.abort(fmt.Errorf("rank panicked: %v", p))
}

func (w *world) panicValue() any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.panicked
}
