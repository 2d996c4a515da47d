package client

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"

	"github.com/cfilipov/wsio"
	"github.com/cfilipov/wsio/internal/evqueue"
	"github.com/cfilipov/wsio/internal/spawn"
	"github.com/cfilipov/wsio/internal/state"
	"github.com/cfilipov/wsio/packet"
	"github.com/cfilipov/wsio/registry"
)

// RuntimeState is the Runtime's own lifecycle, distinct from the Session
// state machine any given connection attempt drives (spec §4.5).
type RuntimeState uint8

const (
	RuntimeIdle RuntimeState = iota
	RuntimeConnecting
	RuntimeConnected
	RuntimeDisconnecting
	RuntimeDisconnected
)

func (s RuntimeState) String() string {
	switch s {
	case RuntimeIdle:
		return "idle"
	case RuntimeConnecting:
		return "connecting"
	case RuntimeConnected:
		return "connected"
	case RuntimeDisconnecting:
		return "disconnecting"
	case RuntimeDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// outboundFrame is one already-encoded Event packet waiting in the MPSC
// outbound queue until forwardLoop hands it to a Ready session, per spec
// §4.5's "at-most-one live session, MPSC outbound queue feeding a forwarder
// task" design.
type outboundFrame struct {
	data []byte
}

// Runtime owns the reconnect loop, the at-most-one live Session, and the
// Event registry shared across every reconnect attempt (spec §4.5). Handlers
// registered with On survive reconnects; only in-flight Emits queued before a
// drop are lost when the session never reaches Ready again.
type Runtime struct {
	url         string
	namespace   string
	cfg         Config
	initHandler InitHandler
	closeHandler CloseHandler

	events *registry.Registry[*Runtime]

	status *state.Word[RuntimeState]

	opMu sync.Mutex // serializes Connect/Disconnect

	spawner *spawn.Group

	queue *evqueue.Queue[outboundFrame]

	sessionMu sync.RWMutex
	session   *Session
}

// NewRuntime builds a Runtime targeting rawURL (a ws:// or wss:// URL whose
// path component becomes the namespace, per spec §6) with cfg's tunables.
func NewRuntime(rawURL string, cfg Config, initHandler InitHandler, closeHandler CloseHandler) (*Runtime, error) {
	connectURL, ns, err := resolveConnectURL(rawURL, cfg.RequestPath)
	if err != nil {
		return nil, err
	}

	return &Runtime{
		url:          connectURL,
		namespace:    ns,
		cfg:          cfg,
		initHandler:  initHandler,
		closeHandler: closeHandler,
		events:       registry.New[*Runtime](),
		status:       state.NewWord(RuntimeIdle),
		spawner:      spawn.NewGroup(),
		queue:        evqueue.New[outboundFrame](),
	}, nil
}

// Namespace returns the normalized namespace this runtime connects to.
func (r *Runtime) Namespace() string { return r.namespace }

// Status returns the runtime's current lifecycle state.
func (r *Runtime) Status() RuntimeState { return r.status.Load() }

// On registers handler for event. D must be identical across every call
// registered for the same event name.
func On[D any](r *Runtime, event string, handler registry.HandlerFunc[*Runtime, D]) (uint32, error) {
	return registry.On[*Runtime, D](r.events, event, handler)
}

// Off removes every handler registered for event.
func (r *Runtime) Off(event string) { r.events.Off(event) }

// OffByHandlerID removes a single handler previously returned by On.
func (r *Runtime) OffByHandlerID(event string, id uint32) { r.events.OffByHandlerID(event, id) }

// Connect starts the reconnect loop and blocks until the first session
// reaches Ready or ctx is done. It returns a KindStatus error if the runtime
// is already connecting/connected.
func (r *Runtime) Connect(ctx context.Context) error {
	r.opMu.Lock()
	if !r.status.CAS(RuntimeIdle, RuntimeConnecting) && !r.status.CAS(RuntimeDisconnected, RuntimeConnecting) {
		r.opMu.Unlock()
		return wsio.New(wsio.KindStatus, "connect", errAlreadyConnecting(r.status.Load()))
	}
	r.opMu.Unlock()

	first := make(chan struct{})
	var once sync.Once

	r.spawner.Spawn(func(ctx context.Context) {
		r.reconnectLoop(ctx, func() {
			once.Do(func() { close(first) })
		})
	})

	r.spawner.Spawn(r.forwardLoop)

	select {
	case <-first:
		return nil
	case <-ctx.Done():
		return wsio.New(wsio.KindTransport, "connect", ctx.Err())
	}
}

// reconnectLoop dials, runs a Session to completion, and retries with a
// constant backoff (spec §4.5 "reconnect_delay... no cap, no jitter beyond
// what the operator configures") until the runtime is torn down via
// Disconnect.
func (r *Runtime) reconnectLoop(ctx context.Context, onFirstReady func()) {
	bo := backoff.WithContext(backoff.NewConstantBackOff(r.cfg.ReconnectDelay), ctx)

	for {
		if ctx.Err() != nil {
			return
		}

		sess, err := r.dial(ctx)
		if err != nil {
			d := bo.NextBackOff()
			if d == backoff.Stop {
				return
			}
			select {
			case <-time.After(d):
				continue
			case <-ctx.Done():
				return
			}
		}

		bo.Reset()
		r.setSession(sess)
		r.status.Store(RuntimeConnected)

		readyOrDone := make(chan struct{})
		go func() {
			select {
			case <-sess.Ready():
				onFirstReady()
			case <-sess.Done():
			}
			close(readyOrDone)
		}()

		sess.run(ctx)
		<-readyOrDone
		r.setSession(nil)

		if r.status.Load() == RuntimeDisconnecting {
			r.status.Store(RuntimeDisconnected)
			return
		}
		if ctx.Err() != nil {
			return
		}
		r.status.Store(RuntimeConnecting)

		select {
		case <-time.After(r.cfg.ReconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

func (r *Runtime) dial(ctx context.Context) (*Session, error) {
	conn, _, err := websocket.Dial(ctx, r.url, nil)
	if err != nil {
		return nil, wsio.New(wsio.KindTransport, "dial", err)
	}

	sess := newSession(conn, r.cfg, r.initHandler, r.closeHandler, r.onEvent)
	return sess, nil
}

func (r *Runtime) onEvent(ctx context.Context, key string, raw []byte) {
	r.events.Dispatch(ctx, r, key, r.cfg.Codec, raw, r.spawner)
}

func (r *Runtime) setSession(s *Session) {
	r.sessionMu.Lock()
	r.session = s
	r.sessionMu.Unlock()
}

func (r *Runtime) currentSession() *Session {
	r.sessionMu.RLock()
	defer r.sessionMu.RUnlock()
	return r.session
}

// Emit encodes data under event and enqueues it for delivery. Per spec
// §4.5, the call never blocks on network I/O: it always parks the frame on
// the unbounded MPSC queue, and forwardLoop is the sole writer draining it
// into whatever session is currently live, in enqueue order.
func (r *Runtime) Emit(event string, data any) error {
	if r.status.Load() == RuntimeIdle || r.status.Load() == RuntimeDisconnected {
		return wsio.New(wsio.KindStatus, "emit", errNotConnected{})
	}

	encoded, err := r.cfg.Codec.EncodeData(data)
	if err != nil {
		return wsio.New(wsio.KindCodec, "emit", err)
	}
	out, err := r.cfg.Codec.Encode(packet.Event(event, encoded))
	if err != nil {
		return wsio.New(wsio.KindCodec, "emit", err)
	}

	r.queue.Push(outboundFrame{data: out})
	return nil
}

// forwardLoop drains the MPSC queue into whatever session is currently
// live, blocking on the queue (not the network) between items.
func (r *Runtime) forwardLoop(ctx context.Context) {
	for {
		of, ok := r.queue.PopWait(ctx)
		if !ok {
			return
		}

		for {
			sess := r.currentSession()
			if sess == nil {
				select {
				case <-time.After(10 * time.Millisecond):
				case <-ctx.Done():
					return
				}
				continue
			}
			select {
			case <-sess.Ready():
			case <-sess.Done():
				continue
			case <-ctx.Done():
				return
			}
			if sess.TryEnqueue(frame{data: of.data}) {
				break
			}
		}
	}
}

// Disconnect stops the reconnect loop and closes any live session, blocking
// until teardown completes.
func (r *Runtime) Disconnect(ctx context.Context) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	cur := r.status.Load()
	if cur == RuntimeIdle || cur == RuntimeDisconnected {
		return wsio.New(wsio.KindStatus, "disconnect", errNotConnected{})
	}
	r.status.Store(RuntimeDisconnecting)

	if sess := r.currentSession(); sess != nil {
		sess.TryEnqueue(frame{closeFrame: true})
		select {
		case <-sess.Done():
		case <-ctx.Done():
		}
	}

	r.queue.Close()
	r.spawner.Cancel()
	r.spawner.Wait()
	r.status.Store(RuntimeDisconnected)
	return nil
}

type errNotConnected struct{}

func (errNotConnected) Error() string { return "runtime is not connected" }

type errAlreadyConnecting RuntimeState

func (e errAlreadyConnecting) Error() string {
	return "runtime already " + RuntimeState(e).String()
}
