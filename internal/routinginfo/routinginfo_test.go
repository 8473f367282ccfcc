package routinginfo

import (
	"testing"

	"overlay/internal/domain"
)

func TestSetChildTriggersNotification(t *testing.T) {
	topo, _ := domain.NewTopology(2, domain.DefaultTreeMapperRoot)
	self := domain.NewNodeInfo(domain.Root, domain.PhysicalAddr{IP: "127.0.0.1", Port: 9000})
	ri := New(self, topo)

	var gotRel domain.Relationship
	var gotPos domain.Position
	ri.OnNeighborChange(func(rel domain.Relationship, pos domain.Position, n *domain.NodeInfo) {
		gotRel, gotPos = rel, pos
	})

	child := domain.NewNodeInfo(domain.Position{Level: 1, Number: 0}, domain.PhysicalAddr{IP: "127.0.0.1", Port: 9001})
	ri.SetChild(0, &child)

	if gotRel != domain.RelationshipChild {
		t.Errorf("expected RelationshipChild notification, got %v", gotRel)
	}
	if gotPos != (domain.Position{Level: 1, Number: 0}) {
		t.Errorf("unexpected notified position: %+v", gotPos)
	}
	if got := ri.Children()[0]; got == nil || got.UUID != child.UUID {
		t.Errorf("Children()[0] = %v, want %v", got, child)
	}
}

func TestKnownPositionsExcludesEmptySlots(t *testing.T) {
	topo, _ := domain.NewTopology(3, domain.DefaultTreeMapperRoot)
	self := domain.NewNodeInfo(domain.Position{Level: 1, Number: 1}, domain.PhysicalAddr{IP: "127.0.0.1", Port: 9000})
	ri := New(self, topo)

	if len(ri.KnownPositions()) != 0 {
		t.Fatalf("expected no known positions before any neighbor is set")
	}

	parent := domain.NewNodeInfo(domain.Position{Level: 0, Number: 0}, domain.PhysicalAddr{IP: "127.0.0.1", Port: 9002})
	ri.SetParent(&parent)

	known := ri.KnownPositions()
	if _, ok := known[domain.Position{Level: 0, Number: 0}]; !ok {
		t.Errorf("expected parent position in KnownPositions, got %v", known)
	}
}
