// Package gate provides the availability gate that defers content
// operations until the in-memory store is ready.
package gate

import (
	"context"
	"sync"
)

// Handle is one settlement of the gate. Every waiter on a handle observes
// the same outcome. A rejection nobody waits for is simply kept.
type Handle struct {
	done chan struct{}

	mu      sync.Mutex
	settled bool
	err     error
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

// Done is closed when the handle settles.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the rejection, or nil if the handle resolved or is pending.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Pending reports whether the handle has not settled yet.
func (h *Handle) Pending() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.settled
}

// Resolve settles the handle successfully. It reports false if the handle
// had already settled.
func (h *Handle) Resolve() bool {
	return h.settle(nil)
}

// Reject settles the handle with err. It reports false if the handle had
// already settled.
func (h *Handle) Reject(err error) bool {
	return h.settle(err)
}

func (h *Handle) settle(err error) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.settled {
		return false
	}
	h.settled = true
	h.err = err
	close(h.done)
	return true
}

// Wait blocks until the handle settles or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Gate holds the current handle. It starts with one pending handle so that
// content operations issued before the first load wait for it.
type Gate struct {
	mu      sync.Mutex
	current *Handle
}

// New returns a gate with a pending handle.
func New() *Gate {
	return &Gate{current: newHandle()}
}

// Open returns the current handle if it is still pending, otherwise it
// installs and returns a new pending handle.
func (g *Gate) Open() *Handle {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current.Pending() {
		return g.current
	}
	g.current = newHandle()
	return g.current
}

// Resolve settles the current handle successfully.
func (g *Gate) Resolve() {
	g.Current().Resolve()
}

// Reject settles the current handle with err.
func (g *Gate) Reject(err error) {
	g.Current().Reject(err)
}

// Reset installs a fresh pending handle without settling the previous one.
// Whoever owns the previous handle still settles it.
func (g *Gate) Reset() *Handle {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.current = newHandle()
	return g.current
}

// Current returns the handle in place right now.
func (g *Gate) Current() *Handle {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

// Pending reports whether the current handle is unsettled.
func (g *Gate) Pending() bool {
	return g.Current().Pending()
}

// Wait waits on the handle that is current at call time.
func (g *Gate) Wait(ctx context.Context) error {
	return g.Current().Wait(ctx)
}
