package peer

import (
	"context"
	"errors"
	"testing"

	"overlay/internal/config"
	"overlay/internal/domain"
)

func testPeer(t *testing.T) *Peer {
	t.Helper()
	topo, err := domain.NewTopology(2, domain.DefaultTreeMapperRoot)
	if err != nil {
		t.Fatal(err)
	}
	self := domain.NewNodeInfo(domain.Root, domain.PhysicalAddr{IP: "127.0.0.1", Port: 9000})
	cfg := config.DHTConfig{Esearch: config.EsearchConfig{TimestampStorageLimit: 5}}
	return New(self, topo, cfg, nil, nil)
}

func TestInitRootBecomesConnected(t *testing.T) {
	p := testPeer(t)
	p.InitRoot()
	if got := p.State(); got != StateConnected {
		t.Fatalf("State() = %s, want connected", got)
	}
	if got := p.Self().Logical; got != domain.Root {
		t.Fatalf("root position = %+v, want (0,0)", got)
	}
}

func TestEmptyChildSlotPrefersLeftmost(t *testing.T) {
	p := testPeer(t)
	p.InitRoot()

	slot, ok := p.emptyChildSlot()
	if !ok || slot != 0 {
		t.Fatalf("emptyChildSlot() = %d, %v; want slot 0 on an empty root", slot, ok)
	}

	c0 := domain.NewNodeInfo(domain.Position{Level: 1, Number: 0}, domain.PhysicalAddr{IP: "127.0.0.1", Port: 9001})
	p.routing.SetChild(0, &c0)
	slot, ok = p.emptyChildSlot()
	if !ok || slot != 1 {
		t.Fatalf("emptyChildSlot() = %d, %v; want slot 1 once slot 0 is taken", slot, ok)
	}

	c1 := domain.NewNodeInfo(domain.Position{Level: 1, Number: 1}, domain.PhysicalAddr{IP: "127.0.0.1", Port: 9002})
	p.routing.SetChild(1, &c1)
	if _, ok = p.emptyChildSlot(); ok {
		t.Fatal("expected no empty slot on a full fanout-2 parent")
	}
}

func TestApplyNeighborUpdateInstallsChild(t *testing.T) {
	p := testPeer(t)
	p.InitRoot()

	child := domain.NewNodeInfo(domain.Position{Level: 1, Number: 1}, domain.PhysicalAddr{IP: "127.0.0.1", Port: 9001})
	p.applyNeighborUpdate(domain.RelationshipChild, child.Logical, &child)

	if got := p.routing.Children()[1]; got == nil || got.UUID != child.UUID {
		t.Fatalf("child slot 1 = %v, want the installed child", got)
	}

	p.applyNeighborUpdate(domain.RelationshipChild, child.Logical, nil)
	if got := p.routing.Children()[1]; got != nil {
		t.Fatalf("child slot 1 = %v after removal, want empty", got)
	}
}

func TestCloserPrefersLevelThenDistance(t *testing.T) {
	topo, _ := domain.NewTopology(2, domain.DefaultTreeMapperRoot)
	target := domain.Position{Level: 2, Number: 3}

	sameLevel := domain.Position{Level: 2, Number: 0}
	offLevel := domain.Position{Level: 0, Number: 0}
	if !closer(topo, sameLevel, offLevel, target, "a", "b") {
		t.Error("a same-level candidate should beat a root candidate two levels away")
	}

	near := domain.Position{Level: 2, Number: 2}
	far := domain.Position{Level: 2, Number: 0}
	if !closer(topo, near, far, target, "a", "b") {
		t.Error("at equal level difference, the horizontally nearer candidate should win")
	}

	if !closer(topo, near, near, target, "a", "b") || closer(topo, near, near, target, "b", "a") {
		t.Error("exact ties must resolve by UUID ordering")
	}
}

func TestObservePeerRecordsRoutingShortcut(t *testing.T) {
	p := testPeer(t)
	p.InitRoot()

	// A stranger elsewhere in the tree becomes a routing shortcut.
	stranger := domain.NewNodeInfo(domain.Position{Level: 2, Number: 3}, domain.PhysicalAddr{IP: "127.0.0.1", Port: 9009})
	p.observePeer(stranger)
	if got := p.routing.RoutingTableEntry(stranger.Logical); got == nil || got.UUID != stranger.UUID {
		t.Fatalf("routing table entry = %v, want the observed peer", got)
	}

	// A structural child is not recorded as a shortcut: the membership
	// protocols own that slot.
	child := domain.NewNodeInfo(domain.Position{Level: 1, Number: 0}, domain.PhysicalAddr{IP: "127.0.0.1", Port: 9001})
	p.observePeer(child)
	if got := p.routing.RoutingTableEntry(child.Logical); got != nil {
		t.Fatalf("child position recorded as a routing shortcut: %v", got)
	}
}

func TestInsertIsIdempotent(t *testing.T) {
	p := testPeer(t)
	entry := domain.Entry{Key: "role", Value: domain.NewStringValue("sensor"), Timestamp: 1, Type: domain.ValueStatic}

	if err := p.Insert(context.Background(), []domain.Entry{entry}); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := p.Insert(context.Background(), []domain.Entry{entry}); err != nil {
		t.Fatalf("re-insert of an identical entry should be a no-op, got %v", err)
	}

	changedType := entry
	changedType.Type = domain.ValueDynamic
	if err := p.Insert(context.Background(), []domain.Entry{changedType}); !errors.Is(err, domain.ErrAttributeTypeFixed) {
		t.Fatalf("insert with a different value-type = %v, want ErrAttributeTypeFixed", err)
	}
}

func TestUpdateEnforcesStaticImmutability(t *testing.T) {
	p := testPeer(t)
	entry := domain.Entry{Key: "serial", Value: domain.NewInt32Value(42), Timestamp: 1, Type: domain.ValueStatic}
	if err := p.Insert(context.Background(), []domain.Entry{entry}); err != nil {
		t.Fatal(err)
	}

	changed := entry
	changed.Value = domain.NewInt32Value(43)
	changed.Timestamp = 2
	if err := p.Update(context.Background(), []domain.Entry{changed}); !errors.Is(err, domain.ErrImmutableAttribute) {
		t.Fatalf("update of a STATIC value = %v, want ErrImmutableAttribute", err)
	}

	same := entry
	same.Timestamp = 3
	if err := p.Update(context.Background(), []domain.Entry{same}); err != nil {
		t.Fatalf("update of a STATIC value with the same value should succeed, got %v", err)
	}
}
