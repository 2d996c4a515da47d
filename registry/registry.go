// Package registry implements the per-scope, type-erased event registry of
// spec §3/§4.2: event name → ordered set of typed handlers, dispatched
// concurrently through a Spawner (such as spawn.Group).
package registry

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/cfilipov/wsio/packet"
)

// nextHandlerID is the process-wide monotonically increasing counter spec
// §3/§9 calls for. Uniqueness is only required per (scope, event name), but
// a single shared counter makes that trivially true and keeps
// off_by_handler_id simple.
var nextHandlerID atomic.Uint32

// HandlerFunc is a typed event handler. scope is whatever the owning
// registry is parameterized over (a *server.Connection, a *client.Runtime,
// ...); ctx is bound to the dispatch that invoked it.
type HandlerFunc[C any, D any] func(ctx context.Context, scope C, data D)

// Spawner is the subset of spawn.Group's interface the registry needs: a
// way to detach a task under the owner's cancellation token.
type Spawner interface {
	Spawn(fn func(ctx context.Context))
}

type boundHandler[C any] func(ctx context.Context, scope C, data any)

type entry[C any] struct {
	typ reflect.Type

	// decode turns raw wire bytes into a value of this entry's D (or the
	// zero value of D when raw is nil — the "unit" substitute of spec
	// §4.2). A decode failure aborts dispatch silently.
	decode func(codec packet.Codec, raw []byte) (any, error)

	mu       sync.RWMutex
	handlers map[uint32]boundHandler[C]
}

// Registry is a per-scope mapping of event name to handler set. The zero
// value is not usable; construct with New.
type Registry[C any] struct {
	mu      sync.RWMutex
	entries map[string]*entry[C]
}

// New creates an empty registry.
func New[C any]() *Registry[C] {
	return &Registry[C]{entries: make(map[string]*entry[C])}
}

// On registers handler under event, creating the entry on first call. Every
// subsequent registration under the same event name must use the same
// payload type D; passing a different D is a programmer error (returns a
// non-nil error rather than panicking, so callers can surface it).
//
// On is a free function, not a method, because Go does not allow a generic
// method to introduce type parameters beyond its receiver's.
func On[C any, D any](r *Registry[C], event string, handler HandlerFunc[C, D]) (uint32, error) {
	typ := reflect.TypeOf((*D)(nil)).Elem()

	r.mu.Lock()
	e, ok := r.entries[event]
	if !ok {
		e = &entry[C]{
			typ: typ,
			decode: func(codec packet.Codec, raw []byte) (any, error) {
				var v D
				if raw == nil {
					return v, nil
				}
				if err := codec.DecodeData(raw, &v); err != nil {
					return nil, err
				}
				return v, nil
			},
			handlers: make(map[uint32]boundHandler[C]),
		}
		r.entries[event] = e
	}
	r.mu.Unlock()

	if e.typ != typ {
		return 0, fmt.Errorf("registry: event %q already bound to payload type %s, cannot register %s", event, e.typ, typ)
	}

	id := nextHandlerID.Add(1)
	wrapped := func(ctx context.Context, scope C, data any) {
		handler(ctx, scope, data.(D))
	}

	e.mu.Lock()
	e.handlers[id] = wrapped
	e.mu.Unlock()

	return id, nil
}

// Off removes event and all of its handlers.
func (r *Registry[C]) Off(event string) {
	r.mu.Lock()
	delete(r.entries, event)
	r.mu.Unlock()
}

// OffByHandlerID removes a single handler. If its entry becomes empty, the
// entry itself is removed.
func (r *Registry[C]) OffByHandlerID(event string, id uint32) {
	r.mu.RLock()
	e, ok := r.entries[event]
	r.mu.RUnlock()
	if !ok {
		return
	}

	e.mu.Lock()
	delete(e.handlers, id)
	empty := len(e.handlers) == 0
	e.mu.Unlock()

	if empty {
		r.mu.Lock()
		// Re-check under the write lock: another On() may have repopulated
		// this event name between the unlock above and here.
		if cur, ok := r.entries[event]; ok && cur == e {
			cur.mu.RLock()
			stillEmpty := len(cur.handlers) == 0
			cur.mu.RUnlock()
			if stillEmpty {
				delete(r.entries, event)
			}
		}
		r.mu.Unlock()
	}
}

// Dispatch looks up event; if absent it returns immediately without error.
// Otherwise it spawns one task that decodes the payload once, snapshots the
// current handler set, and spawns each handler as an independent task. A
// decode failure aborts dispatch silently — no error reaches the sender.
func (r *Registry[C]) Dispatch(ctx context.Context, scope C, event string, codec packet.Codec, raw []byte, spawner Spawner) {
	r.mu.RLock()
	e, ok := r.entries[event]
	r.mu.RUnlock()
	if !ok {
		return
	}

	spawner.Spawn(func(ctx context.Context) {
		data, err := e.decode(codec, raw)
		if err != nil {
			return
		}

		e.mu.RLock()
		snapshot := make([]boundHandler[C], 0, len(e.handlers))
		for _, h := range e.handlers {
			snapshot = append(snapshot, h)
		}
		e.mu.RUnlock()

		for _, h := range snapshot {
			h := h
			spawner.Spawn(func(ctx context.Context) {
				h(ctx, scope, data)
			})
		}
	})
}

// HasHandlers reports whether event currently has at least one handler.
func (r *Registry[C]) HasHandlers(event string) bool {
	r.mu.RLock()
	e, ok := r.entries[event]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers) > 0
}
