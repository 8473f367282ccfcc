package bootstrap

import (
	"context"
	"testing"

	"overlay/internal/domain"
)

func TestStaticDiscoverReturnsConfiguredPeers(t *testing.T) {
	peers := []string{"10.0.0.1:4000", "10.0.0.2:4000"}
	s := NewStatic(peers)

	got, err := s.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover returned error: %v", err)
	}
	if len(got) != len(peers) {
		t.Fatalf("Discover returned %d peers, want %d", len(got), len(peers))
	}
	for i, p := range peers {
		if got[i] != p {
			t.Errorf("peer[%d] = %q, want %q", i, got[i], p)
		}
	}
}

func TestStaticRegisterIsNoop(t *testing.T) {
	s := NewStatic(nil)
	self := domain.NewNodeInfo(domain.Root, domain.PhysicalAddr{IP: "10.0.0.1", Port: 4000})
	if err := s.Register(context.Background(), self); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if err := s.Deregister(context.Background(), self); err != nil {
		t.Fatalf("Deregister returned error: %v", err)
	}
}
