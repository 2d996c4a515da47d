package spawn

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSpawnRunsTask(t *testing.T) {
	g := NewGroup()
	done := make(chan struct{})
	g.Spawn(func(ctx context.Context) { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
	g.Wait()
}

func TestCancelFiresCurrentToken(t *testing.T) {
	g := NewGroup()
	tok := g.Token()
	g.Cancel()

	select {
	case <-tok.Done():
	default:
		t.Fatal("old token should be canceled")
	}

	fresh := g.Token()
	select {
	case <-fresh.Done():
		t.Fatal("new token should not be canceled")
	default:
	}
}

func TestRunWithTimeoutSucceeds(t *testing.T) {
	err := RunWithTimeout(context.Background(), time.Second, func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunWithTimeoutExpires(t *testing.T) {
	err := RunWithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return errors.New("should not surface")
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestRunWithTimeoutPropagatesHandlerError(t *testing.T) {
	sentinel := errors.New("boom")
	err := RunWithTimeout(context.Background(), time.Second, func(ctx context.Context) error {
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
}
