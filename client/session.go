package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/cfilipov/wsio"
	"github.com/cfilipov/wsio/internal/bufcap"
	"github.com/cfilipov/wsio/internal/spawn"
	"github.com/cfilipov/wsio/internal/state"
	"github.com/cfilipov/wsio/packet"
)

// SessionState is the client session's lifecycle state (spec §3/§4.4).
type SessionState uint8

const (
	SessionCreated SessionState = iota
	SessionAwaitingInit
	SessionInitiating
	SessionAwaitingReady
	SessionReady
	SessionClosing
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionCreated:
		return "created"
	case SessionAwaitingInit:
		return "awaiting_init"
	case SessionInitiating:
		return "initiating"
	case SessionAwaitingReady:
		return "awaiting_ready"
	case SessionReady:
		return "ready"
	case SessionClosing:
		return "closing"
	case SessionClosed:
		return "closed"
	default:
		return fmt.Sprintf("SessionState(%d)", uint8(s))
	}
}

// InitHandler runs once, when the server's Init packet arrives. It may
// inspect/transform the server's payload and produce the client's reply
// payload (nil for no payload). It is bounded by Config.InitHandlerTimeout;
// exceeding it is a hard close (spec §4.4).
type InitHandler func(ctx context.Context, serverPayload []byte) (replyPayload []byte, err error)

// CloseHandler runs once per session, during cleanup. It is bounded by
// Config.OnSessionCloseHandlerTimeout; exceeding it is ignored (cleanup
// continues regardless).
type CloseHandler func(ctx context.Context)

// frame is a single outbound wire write. A frame with closeFrame set tells
// the writer to send a WebSocket close and stop, after draining it (spec
// §4.4 "sending a Close frame aborts the writer after draining that one
// frame").
type frame struct {
	data       []byte
	closeFrame bool
	heartbeat  bool
}

// Session owns one live WebSocket connection's state machine and outbound
// channel (spec §3/§4.4). It is created fresh by the Runtime for each
// successful reconnect attempt.
type Session struct {
	conn  *websocket.Conn
	codec packet.Codec
	cfg   Config

	status  *state.Word[SessionState]
	spawner *spawn.Group

	outbound chan frame

	initHandler    InitHandler
	onCloseHandler CloseHandler
	onEvent        func(ctx context.Context, key string, raw []byte)

	watchdogMu    sync.Mutex
	initWatchdog  *time.Timer
	readyWatchdog *time.Timer

	readyOnce sync.Once
	readyCh   chan struct{}

	closeCh   chan struct{}
	closeOnce sync.Once
}

func newSession(conn *websocket.Conn, cfg Config, initHandler InitHandler, onCloseHandler CloseHandler, onEvent func(context.Context, string, []byte)) *Session {
	cap := bufcap.Capacity(cfg.WebSocket.MaxWriteBufferSize, cfg.WebSocket.WriteBufferSize)
	return &Session{
		conn:           conn,
		codec:          cfg.Codec,
		cfg:            cfg,
		status:         state.NewWord(SessionCreated),
		spawner:        spawn.NewGroup(),
		outbound:       make(chan frame, cap),
		initHandler:    initHandler,
		onCloseHandler: onCloseHandler,
		onEvent:        onEvent,
		readyCh:        make(chan struct{}),
		closeCh:        make(chan struct{}),
	}
}

// Status returns the session's current state.
func (s *Session) Status() SessionState { return s.status.Load() }

// Ready returns a channel closed once the session reaches SessionReady.
func (s *Session) Ready() <-chan struct{} { return s.readyCh }

// Done returns a channel closed once the session has fully terminated.
func (s *Session) Done() <-chan struct{} { return s.closeCh }

// TryEnqueue attempts a non-blocking send of f onto the session's outbound
// channel. It only succeeds while the session is Ready, matching spec
// §4.5's "attempts to forward... If that succeeds, continue."
func (s *Session) TryEnqueue(f frame) bool {
	if s.status.Load() != SessionReady {
		return false
	}
	select {
	case s.outbound <- f:
		return true
	default:
		return false
	}
}

// run drives the session until the connection terminates, then cleans up.
// It never returns until the session is fully Closed.
func (s *Session) run(ctx context.Context) {
	if !s.status.CAS(SessionCreated, SessionAwaitingInit) {
		return
	}
	s.armInitWatchdog()

	s.spawner.Spawn(s.writeLoop)
	s.spawner.Spawn(s.heartbeatLoop)

	err := s.readLoop(ctx)
	_ = err // the cause is discarded; reconnection is unconditional per spec §4.5

	s.cleanup()
}

func (s *Session) armInitWatchdog() {
	s.watchdogMu.Lock()
	defer s.watchdogMu.Unlock()
	s.initWatchdog = time.AfterFunc(s.cfg.InitPacketTimeout, func() {
		if s.status.Load() == SessionAwaitingInit {
			s.closeAsync()
		}
	})
}

func (s *Session) armReadyWatchdog() {
	s.watchdogMu.Lock()
	defer s.watchdogMu.Unlock()
	s.readyWatchdog = time.AfterFunc(s.cfg.ReadyPacketTimeout, func() {
		if s.status.Load() == SessionAwaitingReady {
			s.closeAsync()
		}
	})
}

func (s *Session) stopWatchdogs() {
	s.watchdogMu.Lock()
	defer s.watchdogMu.Unlock()
	if s.initWatchdog != nil {
		s.initWatchdog.Stop()
	}
	if s.readyWatchdog != nil {
		s.readyWatchdog.Stop()
	}
}

func (s *Session) closeAsync() {
	go s.conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Session) readLoop(ctx context.Context) error {
	s.conn.SetReadLimit(s.cfg.WebSocket.ReadLimit)

	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			return wsio.New(wsio.KindTransport, "read", err)
		}

		if typ == websocket.MessageBinary && len(data) == 1 {
			// One-byte binary frames are treated as heartbeats and skipped,
			// as on the server; the server itself never sends them.
			continue
		}

		p, err := s.codec.Decode(data)
		if err != nil {
			return wsio.New(wsio.KindCodec, "decode", err)
		}

		if err := s.handlePacket(ctx, p); err != nil {
			return err
		}
	}
}

func (s *Session) handlePacket(ctx context.Context, p packet.Packet) error {
	switch p.Type {
	case packet.TypeInit:
		return s.handleInit(ctx, p)
	case packet.TypeReady:
		return s.handleReady()
	case packet.TypeEvent:
		return s.handleEvent(ctx, p)
	case packet.TypeDisconnect:
		return wsio.New(wsio.KindTransport, "server_disconnect", errors.New("server sent disconnect"))
	default:
		return wsio.New(wsio.KindProtocol, "handle_packet", fmt.Errorf("unknown packet type %d", uint8(p.Type)))
	}
}

func (s *Session) handleInit(ctx context.Context, p packet.Packet) error {
	if !s.status.CAS(SessionAwaitingInit, SessionInitiating) {
		return wsio.New(wsio.KindProtocol, "handle_init", fmt.Errorf("init received in state %s", s.status.Load()))
	}
	s.stopWatchdogs()

	var reply []byte
	err := spawn.RunWithTimeout(ctx, s.cfg.InitHandlerTimeout, func(ctx context.Context) error {
		if s.initHandler == nil {
			return nil
		}
		r, err := s.initHandler(ctx, p.Data)
		reply = r
		return err
	})
	if err != nil {
		return wsio.New(wsio.KindHandler, "init_handler", err)
	}

	if !s.status.CAS(SessionInitiating, SessionAwaitingReady) {
		return wsio.New(wsio.KindProtocol, "handle_init", fmt.Errorf("session closed during init handler"))
	}
	s.armReadyWatchdog()

	out, err := s.codec.Encode(packet.Init(reply))
	if err != nil {
		return wsio.New(wsio.KindCodec, "encode", err)
	}
	select {
	case s.outbound <- frame{data: out}:
	case <-s.closeCh:
		return wsio.New(wsio.KindTransport, "handle_init", errors.New("session closed"))
	}

	return nil
}

func (s *Session) handleReady() error {
	if !s.status.CAS(SessionAwaitingReady, SessionReady) {
		return wsio.New(wsio.KindProtocol, "handle_ready", fmt.Errorf("ready received in state %s", s.status.Load()))
	}
	s.stopWatchdogs()
	s.readyOnce.Do(func() { close(s.readyCh) })
	return nil
}

func (s *Session) handleEvent(ctx context.Context, p packet.Packet) error {
	if s.status.Load() != SessionReady {
		return wsio.New(wsio.KindProtocol, "handle_event", fmt.Errorf("event received in state %s", s.status.Load()))
	}
	if p.Key == "" {
		return wsio.New(wsio.KindProtocol, "handle_event", errors.New("event packet missing key"))
	}
	if s.onEvent != nil {
		s.onEvent(ctx, p.Key, p.Data)
	}
	return nil
}

// heartbeatLoop sends a one-byte Binary frame every cfg.PingInterval while
// the session exists (spec §6 "heartbeat"). The server silently drops
// these; they exist only to keep the transport alive.
func (s *Session) heartbeatLoop(ctx context.Context) {
	if s.cfg.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			select {
			case s.outbound <- frame{data: []byte{0}, heartbeat: true}:
			case <-s.closeCh:
				return
			case <-ctx.Done():
				return
			}
		case <-s.closeCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) writeLoop(ctx context.Context) {
	for {
		select {
		case f := <-s.outbound:
			if f.closeFrame {
				s.conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			msgType := websocket.MessageBinary
			if !f.heartbeat && s.codec.IsText() {
				msgType = websocket.MessageText
			}
			wctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := s.conn.Write(wctx, msgType, f.data)
			cancel()
			if err != nil {
				return
			}
		case <-s.closeCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

const writeTimeout = 10 * time.Second

// cleanup transitions the session to Closed, runs the close handler (best
// effort), and releases the WebSocket.
func (s *Session) cleanup() {
	s.closeOnce.Do(func() {
		for {
			cur := s.status.Load()
			if cur == SessionClosed {
				break
			}
			if cur != SessionClosing && s.status.CAS(cur, SessionClosing) {
				continue
			}
			if s.status.CAS(SessionClosing, SessionClosed) {
				break
			}
		}
		s.stopWatchdogs()
		s.spawner.Cancel()
		close(s.closeCh)

		if s.onCloseHandler != nil {
			_ = spawn.RunWithTimeout(context.Background(), s.cfg.OnSessionCloseHandlerTimeout, func(ctx context.Context) error {
				s.onCloseHandler(ctx)
				return nil
			})
		}

		s.conn.Close(websocket.StatusNormalClosure, "")
		s.spawner.Wait()
	})
}
