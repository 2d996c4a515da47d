package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cfilipov/wsio"
	"github.com/cfilipov/wsio/internal/idset"
	"github.com/cfilipov/wsio/internal/state"
)

// RuntimeState is the server runtime's own lifecycle (spec §4.9).
type RuntimeState uint8

const (
	RuntimeRunning RuntimeState = iota
	RuntimeStopping
	RuntimeStopped
)

// Runtime owns the namespace registry and the global set of active
// connection ids across every namespace (spec §3/§4.9).
type Runtime struct {
	status *state.Word[RuntimeState]

	mu         sync.RWMutex
	namespaces map[string]*Namespace

	globalIDs *idset.Set
}

// NewRuntime returns an empty, Running server runtime.
func NewRuntime() *Runtime {
	return &Runtime{
		status:     state.NewWord(RuntimeRunning),
		namespaces: make(map[string]*Namespace),
		globalIDs:  idset.New(),
	}
}

// Status returns the runtime's current lifecycle state.
func (r *Runtime) Status() RuntimeState { return r.status.Load() }

// ConnectionCount returns the total number of Ready connections across
// every namespace (spec §8 invariant 5: the global set equals the disjoint
// union of every namespace's connection-id set).
func (r *Runtime) ConnectionCount() int { return r.globalIDs.Len() }

// Mount registers a namespace at path with cfg and handlers, returning a
// ConfigError if the path is already mounted.
func (r *Runtime) Mount(path string, cfg Config, handlers Handlers) (*Namespace, error) {
	norm := normalizePath(path)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.namespaces[norm]; exists {
		return nil, wsio.New(wsio.KindConfig, "mount", fmt.Errorf("namespace %q already mounted", norm))
	}

	ns := newNamespace(norm, r, cfg, handlers)
	r.namespaces[norm] = ns
	return ns, nil
}

// Namespace looks up a mounted namespace by its normalized path.
func (r *Runtime) Namespace(path string) (*Namespace, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ns, ok := r.namespaces[normalizePath(path)]
	return ns, ok
}

// ServeHTTP is the single mount point spec §6 describes: it reads the
// namespace query parameter to select a mounted namespace and delegates
// the upgrade to it. An unknown namespace rejects the upgrade outright
// (the HTTP request fails; no WebSocket is ever accepted for it).
func (r *Runtime) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	name := req.URL.Query().Get("namespace")
	ns, ok := r.Namespace(name)
	if !ok {
		http.Error(w, "unknown namespace", http.StatusNotFound)
		return
	}
	ns.ServeHTTP(w, req)
}

// Unmount shuts down and removes the namespace at path (spec §4.9:
// "removing a namespace shuts it down before freeing it").
func (r *Runtime) Unmount(ctx context.Context, path string) error {
	norm := normalizePath(path)

	r.mu.Lock()
	ns, ok := r.namespaces[norm]
	if ok {
		delete(r.namespaces, norm)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return ns.Shutdown(ctx)
}

// Shutdown transitions to Stopping, shuts down every namespace in
// parallel, then transitions to Stopped (spec §4.9).
func (r *Runtime) Shutdown(ctx context.Context) error {
	if !r.status.CAS(RuntimeRunning, RuntimeStopping) {
		return wsio.New(wsio.KindStatus, "shutdown", errNotRunning{})
	}

	r.mu.RLock()
	targets := make([]*Namespace, 0, len(r.namespaces))
	for _, ns := range r.namespaces {
		targets = append(targets, ns)
	}
	r.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, ns := range targets {
		ns := ns
		g.Go(func() error {
			return ns.Shutdown(gctx)
		})
	}
	err := g.Wait()

	r.status.Store(RuntimeStopped)
	return err
}

type errNotRunning struct{}

func (errNotRunning) Error() string { return "server runtime is not running" }
