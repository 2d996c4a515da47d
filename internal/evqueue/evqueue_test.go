package evqueue

import (
	"context"
	"testing"
	"time"
)

func TestPushPopFIFO(t *testing.T) {
	q := New[int]()
	q.Push(1)
	q.Push(2)
	q.Push(3)

	ctx := context.Background()
	for _, want := range []int{1, 2, 3} {
		got, ok := q.PopWait(ctx)
		if !ok || got != want {
			t.Fatalf("PopWait = (%d, %v), want (%d, true)", got, ok, want)
		}
	}
}

func TestPopWaitBlocksUntilPush(t *testing.T) {
	q := New[string]()
	result := make(chan string, 1)
	go func() {
		v, ok := q.PopWait(context.Background())
		if ok {
			result <- v
		} else {
			result <- "<closed>"
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.Push("hello")

	select {
	case v := <-result:
		if v != "hello" {
			t.Errorf("got %q, want %q", v, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("PopWait never returned")
	}
}

func TestPopWaitUnblocksOnContextCancel(t *testing.T) {
	q := New[int]()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		_, ok := q.PopWait(ctx)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		if ok {
			t.Error("expected ok=false after context cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("PopWait never unblocked on cancellation")
	}
}

func TestCloseUnblocksWaiters(t *testing.T) {
	q := New[int]()
	done := make(chan bool, 1)
	go func() {
		_, ok := q.PopWait(context.Background())
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("expected ok=false after Close with empty queue")
		}
	case <-time.After(time.Second):
		t.Fatal("PopWait never unblocked on Close")
	}
}

func TestTryPop(t *testing.T) {
	q := New[int]()
	if _, ok := q.TryPop(); ok {
		t.Fatal("expected empty queue")
	}
	q.Push(42)
	v, ok := q.TryPop()
	if !ok || v != 42 {
		t.Fatalf("TryPop = (%d, %v), want (42, true)", v, ok)
	}
}
