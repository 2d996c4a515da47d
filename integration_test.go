package wsio_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cfilipov/wsio/client"
	"github.com/cfilipov/wsio/registry"
	"github.com/cfilipov/wsio/server"
)

// TestHelloAckRoundTrip exercises spec §8's concrete scenario 1 end to end:
// a real client.Runtime against a real server.Namespace over an httptest
// server, using the JSON codec on both sides.
func TestHelloAckRoundTrip(t *testing.T) {
	rt := server.NewRuntime()

	ackReceived := make(chan bool, 1)
	helloReceived := make(chan int, 1)

	_, err := rt.Mount("/json", server.DefaultConfig(), server.Handlers{
		OnConnect: func(ctx context.Context, conn *server.Connection) error {
			_, regErr := registry.On(conn.Events, "hello", func(ctx context.Context, c *server.Connection, data struct {
				N int `json:"n"`
			}) {
				helloReceived <- data.N
				c.Emit(ctx, "ack", true)
			})
			return regErr
		},
	})
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}

	srv := httptest.NewServer(rt)
	defer srv.Close()

	cliCfg := client.DefaultConfig()
	cliCfg.ReconnectDelay = 50 * time.Millisecond
	url := "ws" + srv.URL[len("http"):] + "/json"

	runtime, err := client.NewRuntime(url, cliCfg, nil, nil)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}

	if _, err := client.On(runtime, "ack", func(ctx context.Context, r *client.Runtime, ok bool) {
		ackReceived <- ok
	}); err != nil {
		t.Fatalf("On: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := runtime.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer runtime.Disconnect(ctx)

	if err := runtime.Emit("hello", struct {
		N int `json:"n"`
	}{N: 1}); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	select {
	case n := <-helloReceived:
		if n != 1 {
			t.Fatalf("server received n=%d, want 1", n)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server never received hello")
	}

	select {
	case ok := <-ackReceived:
		if !ok {
			t.Fatal("client received ack=false, want true")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("client never received ack")
	}
}

// TestEmitBeforeConnectReturnsStatusError covers spec §8 scenario 3.
func TestEmitBeforeConnectReturnsStatusError(t *testing.T) {
	runtime, err := client.NewRuntime("ws://example.invalid/json", client.DefaultConfig(), nil, nil)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	if err := runtime.Emit("x", nil); err == nil {
		t.Fatal("expected StatusError emitting before connect")
	}
}

// TestServerShutdownDisconnectsAllConnections covers spec §8 scenario 6 at
// a smaller scale (a handful of connections across two namespaces rather
// than 100+200, to keep the test fast).
func TestServerShutdownDisconnectsAllConnections(t *testing.T) {
	rt := server.NewRuntime()

	if _, err := rt.Mount("/a", server.DefaultConfig(), server.Handlers{}); err != nil {
		t.Fatalf("Mount a: %v", err)
	}
	if _, err := rt.Mount("/b", server.DefaultConfig(), server.Handlers{}); err != nil {
		t.Fatalf("Mount b: %v", err)
	}

	srv := httptest.NewServer(rt)
	defer srv.Close()

	cliCfg := client.DefaultConfig()
	cliCfg.ReconnectDelay = 50 * time.Millisecond

	var runtimes []*client.Runtime
	for _, ns := range []string{"/a", "/a", "/b", "/b"} {
		url := "ws" + srv.URL[len("http"):] + ns
		r, err := client.NewRuntime(url, cliCfg, nil, nil)
		if err != nil {
			t.Fatalf("NewRuntime: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.Connect(ctx); err != nil {
			cancel()
			t.Fatalf("Connect: %v", err)
		}
		cancel()
		runtimes = append(runtimes, r)
	}

	if rt.ConnectionCount() != 4 {
		t.Fatalf("ConnectionCount = %d, want 4", rt.ConnectionCount())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if rt.ConnectionCount() != 0 {
		t.Fatalf("ConnectionCount after shutdown = %d, want 0", rt.ConnectionCount())
	}
}
