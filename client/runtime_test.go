package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/cfilipov/wsio/packet"
)

// echoServer accepts one connection, completes the Init/Ready handshake
// immediately, and echoes back any Event packet it receives under the same
// key, mirroring the testutil pattern of spinning up a real coder/websocket
// peer behind httptest.Server instead of mocking the transport.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		ctx := r.Context()

		out, _ := packet.JSON.Encode(packet.Init(nil))
		if err := conn.Write(ctx, websocket.MessageText, out); err != nil {
			return
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		p, err := packet.JSON.Decode(data)
		if err != nil || p.Type != packet.TypeInit {
			return
		}

		out, _ = packet.JSON.Encode(packet.Ready())
		if err := conn.Write(ctx, websocket.MessageText, out); err != nil {
			return
		}

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			p, err := packet.JSON.Decode(data)
			if err != nil || p.Type != packet.TypeEvent {
				continue
			}
			out, _ := packet.JSON.Encode(packet.Event(p.Key, p.Data))
			if conn.Write(ctx, websocket.MessageText, out) != nil {
				return
			}
		}
	}))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.InitHandlerTimeout = time.Second
	cfg.InitPacketTimeout = 2 * time.Second
	cfg.ReadyPacketTimeout = 2 * time.Second
	cfg.ReconnectDelay = 50 * time.Millisecond
	return cfg
}

func TestRuntimeConnectReachesReady(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):] + "/ns"
	rt, err := NewRuntime(wsURL, testConfig(), nil, nil)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rt.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if rt.Status() != RuntimeConnected {
		t.Fatalf("Status = %v, want Connected", rt.Status())
	}

	_ = rt.Disconnect(ctx)
}

func TestRuntimeEmitEchoesBack(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):] + "/ns"
	rt, err := NewRuntime(wsURL, testConfig(), nil, nil)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}

	received := make(chan string, 1)
	if _, err := On(rt, "greeting", func(ctx context.Context, r *Runtime, data json.RawMessage) {
		received <- string(data)
	}); err != nil {
		t.Fatalf("On: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rt.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer rt.Disconnect(ctx)

	if err := rt.Emit("greeting", "hello"); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	select {
	case got := <-received:
		if got != `"hello"` {
			t.Fatalf("got %q, want %q", got, `"hello"`)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for echo")
	}
}

func TestRuntimeEmitBeforeConnectReturnsStatusError(t *testing.T) {
	rt, err := NewRuntime("ws://example.invalid/ns", testConfig(), nil, nil)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}

	if err := rt.Emit("x", 1); err == nil {
		t.Fatal("expected error emitting before connect")
	}
}

func TestRuntimeConnectTwiceReturnsStatusError(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):] + "/ns"
	rt, err := NewRuntime(wsURL, testConfig(), nil, nil)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rt.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer rt.Disconnect(ctx)

	if err := rt.Connect(ctx); err == nil {
		t.Fatal("expected StatusError on second Connect")
	}
}
