package procedure

import (
	"context"
	"testing"
	"time"

	"overlay/internal/domain"
)

func TestResolveDeliversPayload(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	p := r.Register("node1", domain.TimeoutJoin, time.Second)
	if !r.Resolve(p.EventID, "accepted") {
		t.Fatal("Resolve should succeed for a pending procedure")
	}

	select {
	case res := <-p.Done():
		if res.Err != nil {
			t.Fatalf("unexpected error: %v", res.Err)
		}
		if res.Payload != "accepted" {
			t.Fatalf("got payload %v, want accepted", res.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for resolution")
	}
}

func TestExpiredProcedureReturnsTimeout(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	p := r.Register("node1", domain.TimeoutSearchExact, 10*time.Millisecond)

	select {
	case res := <-p.Done():
		if res.Err == nil {
			t.Fatal("expected a timeout error")
		}
	case <-time.After(time.Second):
		t.Fatal("procedure never expired")
	}
}

func TestResolveUnknownIDReturnsFalse(t *testing.T) {
	r := NewRegistry()
	if r.Resolve("does-not-exist", nil) {
		t.Fatal("Resolve should fail for an unknown event id")
	}
}

func TestPendingCount(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	p1 := r.Register("n", domain.TimeoutJoin, time.Second)
	r.Register("n", domain.TimeoutLeave, time.Second)
	if got := r.Pending(); got != 2 {
		t.Fatalf("Pending() = %d, want 2", got)
	}
	r.Resolve(p1.EventID, nil)
	if got := r.Pending(); got != 1 {
		t.Fatalf("Pending() after resolve = %d, want 1", got)
	}
}
