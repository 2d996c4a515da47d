package server

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// joinerClient dials, completes the handshake, and joins room via an
// on_connect hook keyed by query string so each of the three test clients
// can request a different room without a shared registry.
func joinerClient(t *testing.T, url, room string) (*websocket.Conn, chan string) {
	t.Helper()
	received := make(chan string, 1)

	full := url
	if room != "" {
		full += "?room=" + room
	}
	conn := dialRaw(t, full)
	completeRawHandshake(t, conn)

	go func() {
		for {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				return
			}
			received <- string(data)
		}
	}()

	return conn, received
}

func TestBroadcastRoomTargetingExcludesConnection(t *testing.T) {
	rt := NewRuntime()

	connA := make(chan *Connection, 1)
	connB := make(chan *Connection, 1)
	connC := make(chan *Connection, 1)

	ns, err := rt.Mount("/rooms", testCfg(), Handlers{
		OnConnect: func(ctx context.Context, conn *Connection) error {
			switch conn.URI.Query().Get("room") {
			case "r-a":
				conn.Join("r")
				connA <- conn
			case "r-b":
				conn.Join("r")
				connB <- conn
			default:
				connC <- conn
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}

	srv := httptest.NewServer(ns)
	defer srv.Close()
	url := "ws" + srv.URL[len("http"):]

	a, recvA := joinerClient(t, url, "r-a")
	defer a.Close(websocket.StatusNormalClosure, "")
	b, recvB := joinerClient(t, url, "r-b")
	defer b.Close(websocket.StatusNormalClosure, "")
	c, recvC := joinerClient(t, url, "")
	defer c.Close(websocket.StatusNormalClosure, "")

	connOfA := <-connA
	connOfB := <-connB
	<-connC

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ns.To("r").ExceptConnectionIDs(connOfB.ID).Emit(ctx, "p", "hi"); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	_ = connOfA

	select {
	case <-recvA:
	case <-time.After(2 * time.Second):
		t.Fatal("A did not receive broadcast")
	}

	select {
	case <-recvB:
		t.Fatal("B (excluded) received broadcast")
	case <-time.After(300 * time.Millisecond):
	}

	select {
	case <-recvC:
		t.Fatal("C (not in room) received broadcast")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestBroadcastToAllReachesEveryReadyConnection(t *testing.T) {
	rt := NewRuntime()
	ready := make(chan struct{}, 3)

	ns, err := rt.Mount("/all", testCfg(), Handlers{
		OnConnect: func(ctx context.Context, conn *Connection) error {
			ready <- struct{}{}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}

	srv := httptest.NewServer(ns)
	defer srv.Close()
	url := "ws" + srv.URL[len("http"):]

	conns := make([]*websocket.Conn, 0, 3)
	recvs := make([]chan string, 0, 3)
	for i := 0; i < 3; i++ {
		conn, recv := joinerClient(t, url, "")
		conns = append(conns, conn)
		recvs = append(recvs, recv)
	}
	defer func() {
		for _, c := range conns {
			c.Close(websocket.StatusNormalClosure, "")
		}
	}()

	for i := 0; i < 3; i++ {
		<-ready
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ns.To().Emit(ctx, "p", "hi"); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	for _, recv := range recvs {
		select {
		case <-recv:
		case <-time.After(2 * time.Second):
			t.Fatal("connection did not receive broadcast")
		}
	}
}

