package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/cfilipov/wsio"
	"github.com/cfilipov/wsio/internal/bufcap"
	"github.com/cfilipov/wsio/internal/spawn"
	"github.com/cfilipov/wsio/internal/state"
	"github.com/cfilipov/wsio/packet"
	"github.com/cfilipov/wsio/registry"
)

// nextConnectionID is the process-wide monotonic id source spec §9 calls
// for ("next_connection_id... process-wide monotonic... never reset").
var nextConnectionID atomic.Uint64

// ConnectionState is the server-side handshake/lifecycle state (spec §3/§4.6).
type ConnectionState uint8

const (
	ConnectionCreated ConnectionState = iota
	ConnectionAwaitingInit
	ConnectionInitiating
	ConnectionActivating
	ConnectionReady
	ConnectionClosing
	ConnectionClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionCreated:
		return "created"
	case ConnectionAwaitingInit:
		return "awaiting_init"
	case ConnectionInitiating:
		return "initiating"
	case ConnectionActivating:
		return "activating"
	case ConnectionReady:
		return "ready"
	case ConnectionClosing:
		return "closing"
	case ConnectionClosed:
		return "closed"
	default:
		return fmt.Sprintf("ConnectionState(%d)", uint8(s))
	}
}

type wireFrame struct {
	data       []byte
	closeFrame bool
}

// Connection is the server-side counterpart of client.Session: one upgraded
// WebSocket's handshake state machine, outbound channel, room membership,
// per-connection event registry, and extension bag (spec §3/§4.6).
type Connection struct {
	ID uint64

	conn      *websocket.Conn
	namespace *Namespace
	codec     packet.Codec
	cfg       Config

	Header http.Header
	URI    *url.URL

	status  *state.Word[ConnectionState]
	spawner *spawn.Group

	outbound chan wireFrame

	Events     *registry.Registry[*Connection]
	Extensions *Extensions

	roomsMu     sync.Mutex
	joinedRooms map[string]struct{}

	readyCh   chan struct{}
	readyOnce sync.Once

	closeCh   chan struct{}
	closeOnce sync.Once

	watchdogMu sync.Mutex
	watchdog   *time.Timer
}

func newConnection(ws *websocket.Conn, ns *Namespace, header http.Header, uri *url.URL) *Connection {
	cap := bufcap.Capacity(ns.cfg.WebSocket.MaxWriteBufferSize, ns.cfg.WebSocket.WriteBufferSize)
	return &Connection{
		ID:          nextConnectionID.Add(1),
		conn:        ws,
		namespace:   ns,
		codec:       ns.cfg.Codec,
		cfg:         ns.cfg,
		Header:      header,
		URI:         uri,
		status:      state.NewWord(ConnectionCreated),
		spawner:     spawn.NewGroup(),
		outbound:    make(chan wireFrame, cap),
		Events:      registry.New[*Connection](),
		Extensions:  newExtensions(),
		joinedRooms: make(map[string]struct{}),
		readyCh:     make(chan struct{}),
		closeCh:     make(chan struct{}),
	}
}

// Status returns the connection's current state.
func (c *Connection) Status() ConnectionState { return c.status.Load() }

// Ready returns a channel closed once the connection reaches Ready.
func (c *Connection) Ready() <-chan struct{} { return c.readyCh }

// Done returns a channel closed once the connection has fully terminated.
func (c *Connection) Done() <-chan struct{} { return c.closeCh }

// Emit encodes data under event and enqueues it on the connection's
// outbound channel. It suspends (per spec §5 "backpressure") when the
// channel is full rather than dropping.
func (c *Connection) Emit(ctx context.Context, event string, data any) error {
	encoded, err := c.codec.EncodeData(data)
	if err != nil {
		return wsio.New(wsio.KindCodec, "emit", err)
	}
	out, err := c.codec.Encode(packet.Event(event, encoded))
	if err != nil {
		return wsio.New(wsio.KindCodec, "emit", err)
	}
	return c.enqueue(ctx, wireFrame{data: out})
}

func (c *Connection) enqueue(ctx context.Context, f wireFrame) error {
	select {
	case c.outbound <- f:
		return nil
	case <-c.closeCh:
		return wsio.New(wsio.KindTransport, "enqueue", errors.New("connection closed"))
	case <-ctx.Done():
		return wsio.New(wsio.KindTransport, "enqueue", ctx.Err())
	}
}

// Join adds the connection id to each named room (spec §4.6).
func (c *Connection) Join(names ...string) {
	c.roomsMu.Lock()
	for _, n := range names {
		c.joinedRooms[n] = struct{}{}
	}
	c.roomsMu.Unlock()

	for _, n := range names {
		c.namespace.roomFor(n).Add(c.ID)
	}
}

// Leave removes the connection id from each named room.
func (c *Connection) Leave(names ...string) {
	c.roomsMu.Lock()
	for _, n := range names {
		delete(c.joinedRooms, n)
	}
	c.roomsMu.Unlock()

	for _, n := range names {
		c.namespace.leaveRoom(n, c.ID)
	}
}

// JoinedRooms returns a snapshot of the room names this connection belongs to.
func (c *Connection) JoinedRooms() []string {
	c.roomsMu.Lock()
	defer c.roomsMu.Unlock()
	out := make([]string, 0, len(c.joinedRooms))
	for n := range c.joinedRooms {
		out = append(out, n)
	}
	return out
}

// Close requests the connection terminate.
func (c *Connection) Close() {
	select {
	case c.outbound <- wireFrame{closeFrame: true}:
	case <-c.closeCh:
	default:
		go func() {
			select {
			case c.outbound <- wireFrame{closeFrame: true}:
			case <-c.closeCh:
			}
		}()
	}
}

// run drives the handshake and then the steady-state read loop until the
// connection terminates (spec §4.6/§4.7), then cleans up.
func (c *Connection) run(ctx context.Context) {
	c.spawner.Spawn(c.writeLoop)

	if err := c.handshake(ctx); err != nil {
		c.cleanup(ctx)
		return
	}

	c.readLoop(ctx)
	c.cleanup(ctx)
}

func (c *Connection) handshake(ctx context.Context) error {
	h := c.namespace.handlers

	var reqPayload []byte
	err := spawn.RunWithTimeout(ctx, c.cfg.InitRequestHandlerTimeout, func(ctx context.Context) error {
		if h.InitRequest == nil {
			return nil
		}
		p, err := h.InitRequest(ctx, c)
		reqPayload = p
		return err
	})
	if err != nil {
		return wsio.New(wsio.KindHandler, "init_request_handler", err)
	}

	if !c.status.CAS(ConnectionCreated, ConnectionAwaitingInit) {
		return wsio.New(wsio.KindStatus, "handshake", errors.New("connection not Created"))
	}
	c.armWatchdog(c.cfg.InitResponseTimeout, ConnectionAwaitingInit)

	out, err := c.codec.Encode(packet.Init(reqPayload))
	if err != nil {
		return wsio.New(wsio.KindCodec, "handshake", err)
	}
	if err := c.enqueue(ctx, wireFrame{data: out}); err != nil {
		return err
	}

	return c.awaitClientInit(ctx)
}

// awaitClientInit reads packets until the client's Init arrives (or the
// watchdog/read loop fails), then runs the remainder of the handshake DAG.
func (c *Connection) awaitClientInit(ctx context.Context) error {
	c.conn.SetReadLimit(c.cfg.WebSocket.ReadLimit)

	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return wsio.New(wsio.KindTransport, "read", err)
		}
		if typ == websocket.MessageBinary && len(data) == 1 {
			continue
		}
		p, err := c.codec.Decode(data)
		if err != nil {
			return wsio.New(wsio.KindCodec, "decode", err)
		}
		if p.Type != packet.TypeInit {
			return wsio.New(wsio.KindProtocol, "handshake", fmt.Errorf("expected init, got %s", p.Type))
		}
		return c.completeHandshake(ctx, p.Data)
	}
}

func (c *Connection) completeHandshake(ctx context.Context, clientInitData []byte) error {
	if !c.status.CAS(ConnectionAwaitingInit, ConnectionInitiating) {
		return wsio.New(wsio.KindProtocol, "handshake", fmt.Errorf("init received in state %s", c.status.Load()))
	}
	c.stopWatchdog()

	h := c.namespace.handlers

	err := spawn.RunWithTimeout(ctx, c.cfg.InitResponseHandlerTimeout, func(ctx context.Context) error {
		if h.InitResponse == nil {
			return nil
		}
		return h.InitResponse(ctx, c, clientInitData, c.codec)
	})
	if err != nil {
		return wsio.New(wsio.KindHandler, "init_response_handler", err)
	}

	if !c.status.CAS(ConnectionInitiating, ConnectionActivating) {
		return wsio.New(wsio.KindStatus, "handshake", errors.New("connection closed during init_response_handler"))
	}

	for _, mw := range h.Middleware {
		mw := mw
		if err := spawn.RunWithTimeout(ctx, c.cfg.MiddlewareExecutionTimeout, func(ctx context.Context) error {
			return mw(ctx, c)
		}); err != nil {
			return wsio.New(wsio.KindHandler, "middleware", err)
		}
	}
	if c.status.Load() != ConnectionActivating {
		return wsio.New(wsio.KindStatus, "handshake", errors.New("connection closed during middleware"))
	}

	if h.OnConnect != nil {
		if err := spawn.RunWithTimeout(ctx, c.cfg.OnConnectHandlerTimeout, func(ctx context.Context) error {
			return h.OnConnect(ctx, c)
		}); err != nil {
			return wsio.New(wsio.KindHandler, "on_connect_handler", err)
		}
	}

	if !c.status.CAS(ConnectionActivating, ConnectionReady) {
		return wsio.New(wsio.KindStatus, "handshake", errors.New("connection closed before Ready"))
	}

	c.namespace.addConnection(c)
	c.readyOnce.Do(func() { close(c.readyCh) })

	out, err := c.codec.Encode(packet.Ready())
	if err != nil {
		return wsio.New(wsio.KindCodec, "handshake", err)
	}
	if err := c.enqueue(ctx, wireFrame{data: out}); err != nil {
		return err
	}

	if h.OnReady != nil {
		c.spawner.Spawn(func(ctx context.Context) { h.OnReady(ctx, c) })
	}

	return nil
}

func (c *Connection) readLoop(ctx context.Context) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		if typ == websocket.MessageBinary && len(data) == 1 {
			continue
		}
		p, err := c.codec.Decode(data)
		if err != nil {
			return
		}
		if !c.handleSteadyPacket(ctx, p) {
			return
		}
	}
}

// handleSteadyPacket processes a packet received after Ready; it returns
// false when the connection must terminate.
func (c *Connection) handleSteadyPacket(ctx context.Context, p packet.Packet) bool {
	switch p.Type {
	case packet.TypeEvent:
		if p.Key == "" {
			return false
		}
		c.Events.Dispatch(ctx, c, p.Key, c.codec, p.Data, c.spawner)
		return true
	case packet.TypeDisconnect:
		return false
	default:
		// Init/Ready after Ready are protocol errors on the peer.
		return false
	}
}

func (c *Connection) writeLoop(ctx context.Context) {
	for {
		select {
		case f := <-c.outbound:
			if f.closeFrame {
				c.conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			msgType := websocket.MessageBinary
			if c.codec.IsText() {
				msgType = websocket.MessageText
			}
			wctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := c.conn.Write(wctx, msgType, f.data)
			cancel()
			if err != nil {
				return
			}
		case <-c.closeCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

const writeTimeout = 10 * time.Second

func (c *Connection) armWatchdog(d time.Duration, expect ConnectionState) {
	c.watchdogMu.Lock()
	defer c.watchdogMu.Unlock()
	c.watchdog = time.AfterFunc(d, func() {
		if c.status.Load() == expect {
			c.conn.Close(websocket.StatusNormalClosure, "")
		}
	})
}

func (c *Connection) stopWatchdog() {
	c.watchdogMu.Lock()
	defer c.watchdogMu.Unlock()
	if c.watchdog != nil {
		c.watchdog.Stop()
	}
}

func (c *Connection) cleanup(ctx context.Context) {
	c.closeOnce.Do(func() {
		for {
			cur := c.status.Load()
			if cur == ConnectionClosed {
				break
			}
			if cur != ConnectionClosing && c.status.CAS(cur, ConnectionClosing) {
				continue
			}
			if c.status.CAS(ConnectionClosing, ConnectionClosed) {
				break
			}
		}
		c.stopWatchdog()

		c.namespace.removeConnection(c)

		c.roomsMu.Lock()
		rooms := make([]string, 0, len(c.joinedRooms))
		for n := range c.joinedRooms {
			rooms = append(rooms, n)
		}
		c.joinedRooms = make(map[string]struct{})
		c.roomsMu.Unlock()
		for _, n := range rooms {
			c.namespace.leaveRoom(n, c.ID)
		}

		c.spawner.Cancel()
		close(c.closeCh)

		if h := c.namespace.handlers.OnClose; h != nil {
			_ = spawn.RunWithTimeout(context.Background(), c.cfg.OnCloseHandlerTimeout, func(ctx context.Context) error {
				h(ctx, c)
				return nil
			})
		}

		c.conn.Close(websocket.StatusNormalClosure, "")
		c.spawner.Wait()
	})
}
