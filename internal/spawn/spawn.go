// Package spawn implements the task-spawner capability of spec §4.3/§5: a
// way to detach a task whose lifetime is bounded by a cancellation token
// that is replaced atomically when a new logical lifetime (e.g. a fresh
// reconnect attempt) begins.
package spawn

import (
	"context"
	"sync"
	"time"
)

// Group is a concrete Spawner: it tracks every task it has spawned, under
// any token, so callers can Wait() for them to finish draining, and
// rotates the token on Cancel so in-flight tasks observe cancellation while
// tasks spawned afterward get a fresh, live token.
type Group struct {
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewGroup returns a Group with a live root token.
func NewGroup() *Group {
	ctx, cancel := context.WithCancel(context.Background())
	return &Group{ctx: ctx, cancel: cancel}
}

// Token returns the cancellation token for the current logical lifetime.
// It is stable until the next Cancel.
func (g *Group) Token() context.Context {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ctx
}

// Spawn detaches fn as a goroutine, passing it the token live at the moment
// of the call. fn is expected to check ctx.Done() at its own suspension
// points — there is no cooperative signal beyond that.
func (g *Group) Spawn(fn func(ctx context.Context)) {
	g.mu.Lock()
	ctx := g.ctx
	g.mu.Unlock()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn(ctx)
	}()
}

// Cancel fires the current token and atomically installs a fresh one so
// that a subsequent Spawn starts a new logical lifetime cleanly. It does
// not wait for in-flight tasks to observe the cancellation; call Wait for
// that.
func (g *Group) Cancel() {
	g.mu.Lock()
	cancel := g.cancel
	g.ctx, g.cancel = context.WithCancel(context.Background())
	g.mu.Unlock()
	cancel()
}

// Wait blocks until every task spawned so far has returned.
func (g *Group) Wait() {
	g.wg.Wait()
}

// RunWithTimeout races fn against both d and ctx, implementing the
// race(future, sleep(d)) idiom spec §4.4/§4.6/§9 uses for every bounded
// user-handler call. fn receives a context that is canceled when d elapses
// or ctx is done; RunWithTimeout returns at that point without waiting for
// fn, so fn's side effects may still complete after the deadline if it does
// not observe that context.
func RunWithTimeout(ctx context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(tctx)
	}()

	select {
	case err := <-done:
		return err
	case <-tctx.Done():
		return tctx.Err()
	}
}
