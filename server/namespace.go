package server

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"github.com/cfilipov/wsio/internal/idset"
	"github.com/cfilipov/wsio/packet"
)

// NamespaceState is the namespace's own lifecycle (spec §3/§4.9).
type NamespaceState uint8

const (
	NamespaceRunning NamespaceState = iota
	NamespaceStopping
	NamespaceStopped
)

// InitRequestHandler computes the optional server Init payload (spec §4.6
// step 1).
type InitRequestHandler func(ctx context.Context, conn *Connection) ([]byte, error)

// InitResponseHandler inspects the client's Init payload (spec §4.6 step 2).
type InitResponseHandler func(ctx context.Context, conn *Connection, data []byte, codec packet.Codec) error

// Middleware runs during Activating, after the handshake's init exchange
// and before on_connect (spec §4.6 step 3).
type Middleware func(ctx context.Context, conn *Connection) error

// OnConnectHandler runs once, just before the connection enters Ready
// (spec §4.6 step 4).
type OnConnectHandler func(ctx context.Context, conn *Connection) error

// OnReadyHandler is spawned detached once the connection enters Ready; its
// failures do not affect the connection's status (spec §4.6 step 5).
type OnReadyHandler func(ctx context.Context, conn *Connection)

// OnCloseHandler runs during cleanup, bounded by OnCloseHandlerTimeout.
type OnCloseHandler func(ctx context.Context, conn *Connection)

// Handlers bundles a namespace's handshake hooks. All fields are optional.
type Handlers struct {
	InitRequest  InitRequestHandler
	InitResponse InitResponseHandler
	Middleware   []Middleware
	OnConnect    OnConnectHandler
	OnReady      OnReadyHandler
	OnClose      OnCloseHandler
}

// Namespace is a logical endpoint multiplexed over the server's WebSocket
// mount point: its own connections, rooms, codec, and handshake hooks
// (spec §3/§4.7).
type Namespace struct {
	Path string

	runtime  *Runtime
	cfg      Config
	handlers Handlers

	mu          sync.RWMutex
	connections map[uint64]*Connection
	connIDs     *idset.Set

	roomsMu sync.Mutex
	rooms   map[string]*idset.Set

	status NamespaceState

	wg sync.WaitGroup
}

func newNamespace(path string, runtime *Runtime, cfg Config, handlers Handlers) *Namespace {
	return &Namespace{
		Path:        normalizePath(path),
		runtime:     runtime,
		cfg:         cfg,
		handlers:    handlers,
		connections: make(map[uint64]*Connection),
		connIDs:     idset.New(),
		rooms:       make(map[string]*idset.Set),
		status:      NamespaceRunning,
	}
}

func normalizePath(p string) string {
	parts := strings.Split(p, "/")
	var kept []string
	for _, s := range parts {
		if s != "" {
			kept = append(kept, s)
		}
	}
	return "/" + strings.Join(kept, "/")
}

// Status returns the namespace's current lifecycle state.
func (ns *Namespace) Status() NamespaceState {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.status
}

// ConnectionCount returns the number of Ready connections currently held.
func (ns *Namespace) ConnectionCount() int {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return len(ns.connections)
}

// Connection looks up a connection by id; ok is false if absent (it may
// have left between a broadcast's target resolution and fan-out).
func (ns *Namespace) Connection(id uint64) (*Connection, bool) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	c, ok := ns.connections[id]
	return c, ok
}

func (ns *Namespace) addConnection(c *Connection) {
	ns.mu.Lock()
	ns.connections[c.ID] = c
	ns.mu.Unlock()
	ns.connIDs.Add(c.ID)
	if ns.runtime != nil {
		ns.runtime.globalIDs.Add(c.ID)
	}
}

func (ns *Namespace) removeConnection(c *Connection) {
	ns.mu.Lock()
	_, existed := ns.connections[c.ID]
	delete(ns.connections, c.ID)
	ns.mu.Unlock()
	if !existed {
		return
	}
	ns.connIDs.Remove(c.ID)
	if ns.runtime != nil {
		ns.runtime.globalIDs.Remove(c.ID)
	}
}

func (ns *Namespace) roomFor(name string) *idset.Set {
	ns.roomsMu.Lock()
	defer ns.roomsMu.Unlock()
	r, ok := ns.rooms[name]
	if !ok {
		r = idset.New()
		ns.rooms[name] = r
	}
	return r
}

// roomSets returns the existing room sets among names, skipping any name
// with no room yet created.
func (ns *Namespace) roomSets(names []string) []*idset.Set {
	ns.roomsMu.Lock()
	defer ns.roomsMu.Unlock()
	out := make([]*idset.Set, 0, len(names))
	for _, n := range names {
		if r, ok := ns.rooms[n]; ok {
			out = append(out, r)
		}
	}
	return out
}

func (ns *Namespace) leaveRoom(name string, id uint64) {
	ns.roomsMu.Lock()
	defer ns.roomsMu.Unlock()
	r, ok := ns.rooms[name]
	if !ok {
		return
	}
	r.Remove(id)
	if r.IsEmpty() {
		delete(ns.rooms, name)
	}
}

// ServeHTTP implements spec §4.7's handle_upgrade: it wraps the request as
// a WebSocket server-role stream, rejects the upgrade with a bare
// Disconnect packet if the server or namespace isn't Running, otherwise
// builds a Connection and runs its handshake/steady-state loop until it
// terminates. This method blocks for the lifetime of the connection, the
// same way the teacher's ws.Server.ServeHTTP blocks on its read pump.
func (ns *Namespace) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}

	if !ns.acceptingConnections() {
		out, encErr := ns.cfg.Codec.Encode(packet.Disconnect())
		if encErr == nil {
			ctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
			msgType := websocket.MessageBinary
			if ns.cfg.Codec.IsText() {
				msgType = websocket.MessageText
			}
			_ = ws.Write(ctx, msgType, out)
			cancel()
		}
		ws.Close(websocket.StatusNormalClosure, "")
		return
	}

	ns.wg.Add(1)
	defer ns.wg.Done()

	conn := newConnection(ws, ns, r.Header.Clone(), r.URL)
	conn.run(r.Context())
}

func (ns *Namespace) acceptingConnections() bool {
	ns.mu.RLock()
	running := ns.status == NamespaceRunning
	ns.mu.RUnlock()
	if !running {
		return false
	}
	if ns.runtime != nil && ns.runtime.Status() != RuntimeRunning {
		return false
	}
	return true
}

// Shutdown closes every connection (sending Disconnect), then waits for
// all in-flight per-connection tasks to drain (spec §4.9).
func (ns *Namespace) Shutdown(ctx context.Context) error {
	ns.mu.Lock()
	ns.status = NamespaceStopping
	targets := make([]*Connection, 0, len(ns.connections))
	for _, c := range ns.connections {
		targets = append(targets, c)
	}
	ns.mu.Unlock()

	for _, c := range targets {
		out, err := c.codec.Encode(packet.Disconnect())
		if err == nil {
			c.enqueue(ctx, wireFrame{data: out})
		}
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		ns.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	ns.mu.Lock()
	ns.status = NamespaceStopped
	ns.mu.Unlock()
	return ctx.Err()
}

// To begins a broadcast targeting the union of the named rooms (spec §4.8).
// An empty call targets every connection currently in the namespace.
func (ns *Namespace) To(rooms ...string) *BroadcastOperator {
	return &BroadcastOperator{namespace: ns, includeRooms: rooms}
}
