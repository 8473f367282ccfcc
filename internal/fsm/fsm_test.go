package fsm

import (
	"errors"
	"testing"

	"overlay/internal/domain"
)

func TestJoinLifecycle(t *testing.T) {
	m := New(NewOverlayTable(nil), StateIdle)

	steps := []struct {
		event Event
		want  State
	}{
		{EventJoinRequest, StateJoining},
		{EventJoinAccept, StateJoining},
		{EventJoinAcceptAck, StateJoining},
		{EventJoinReady, StateJoined},
		{EventLeaveRequest, StateLeaving},
		{EventLeaveReady, StateIdle},
	}
	for _, s := range steps {
		if err := m.Fire(s.event); err != nil {
			t.Fatalf("Fire(%s) from %s: %v", s.event, m.State(), err)
		}
		if got := m.State(); got != s.want {
			t.Fatalf("after %s: state = %s, want %s", s.event, got, s.want)
		}
	}
}

func TestIllegalEventIsRejected(t *testing.T) {
	m := New(NewOverlayTable(nil), StateIdle)
	err := m.Fire(EventLeaveRequest)
	if !errors.Is(err, domain.ErrFSMViolation) {
		t.Fatalf("expected ErrFSMViolation, got %v", err)
	}
	if got := m.State(); got != StateIdle {
		t.Fatalf("state changed after a rejected event: %s", got)
	}
}

func TestGuardRefusesConcurrentJoin(t *testing.T) {
	accepting := true
	guard := RefuseConcurrentJoin(func() bool { return accepting })
	m := New(NewOverlayTable(guard), StateIdle)

	if err := m.Fire(EventJoinRequest); !errors.Is(err, domain.ErrFSMViolation) {
		t.Fatalf("expected guard rejection, got %v", err)
	}
	accepting = false
	if err := m.Fire(EventJoinRequest); err != nil {
		t.Fatalf("expected join to start once the guard clears, got %v", err)
	}
	if got := m.State(); got != StateJoining {
		t.Fatalf("state = %s, want %s", got, StateJoining)
	}
}
