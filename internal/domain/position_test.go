package domain

import "testing"

func TestParentChildRoundTrip(t *testing.T) {
	topo, _ := NewTopology(3, DefaultTreeMapperRoot)

	tests := []struct {
		name string
		pos  Position
	}{
		{"root child 0", Position{Level: 1, Number: 0}},
		{"root child 2", Position{Level: 1, Number: 2}},
		{"deep", Position{Level: 3, Number: 17}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parent, ok := topo.Parent(tt.pos)
			if !ok {
				t.Fatalf("expected a parent for %+v", tt.pos)
			}
			children := topo.Children(parent)
			found := false
			for _, c := range children {
				if c == tt.pos {
					found = true
				}
			}
			if !found {
				t.Errorf("parent's Children() does not contain %+v: %v", tt.pos, children)
			}
		})
	}
}

func TestRootHasNoParent(t *testing.T) {
	topo, _ := NewTopology(2, DefaultTreeMapperRoot)
	if _, ok := topo.Parent(Root); ok {
		t.Error("root should have no parent")
	}
}

func TestAdjacentLeftRightMatchInorderWalk(t *testing.T) {
	topo, _ := NewTopology(2, DefaultTreeMapperRoot)
	// Same 3-level binary tree as TestHorizontalValueMonotoneInorder, so
	// AdjacentLeft/AdjacentRight of every interior entry must reproduce the
	// neighbors either side of it in that list.
	order := []Position{
		{Level: 2, Number: 0},
		{Level: 1, Number: 0},
		{Level: 2, Number: 1},
		{Level: 0, Number: 0},
		{Level: 2, Number: 2},
		{Level: 1, Number: 1},
		{Level: 2, Number: 3},
	}

	for i, p := range order {
		if i == 0 {
			if _, ok := topo.AdjacentLeft(p); ok {
				t.Errorf("AdjacentLeft(%+v): expected no predecessor, the leftmost position", p)
			}
		} else if got, ok := topo.AdjacentLeft(p); !ok || got != order[i-1] {
			t.Errorf("AdjacentLeft(%+v) = %+v, %v; want %+v", p, got, ok, order[i-1])
		}

		if i == len(order)-1 {
			if _, ok := topo.AdjacentRight(p); ok {
				t.Errorf("AdjacentRight(%+v): expected no successor, the rightmost position", p)
			}
		} else if got, ok := topo.AdjacentRight(p); !ok || got != order[i+1] {
			t.Errorf("AdjacentRight(%+v) = %+v, %v; want %+v", p, got, ok, order[i+1])
		}
	}
}

func TestAdjacentLeftRightDiffersFromSiblings(t *testing.T) {
	// (2,2)'s tree sibling is (2,3), but its true inorder predecessor is the
	// root: siblings and inorder neighbors are different relations once a
	// position has any children of its own.
	topo, _ := NewTopology(2, DefaultTreeMapperRoot)
	p := Position{Level: 2, Number: 2}
	left, ok := topo.AdjacentLeft(p)
	if !ok || left != Root {
		t.Errorf("AdjacentLeft(%+v) = %+v, %v; want root", p, left, ok)
	}
	right, ok := topo.AdjacentRight(p)
	if !ok || right != (Position{Level: 1, Number: 1}) {
		t.Errorf("AdjacentRight(%+v) = %+v, %v; want (1,1)", p, right, ok)
	}
}

func TestIsDSN(t *testing.T) {
	topo, _ := NewTopology(2, DefaultTreeMapperRoot)
	tests := []struct {
		pos  Position
		want bool
	}{
		{Root, true},
		{Position{Level: 1, Number: 0}, false}, // odd levels carry no DSNs
		{Position{Level: 1, Number: 1}, false},
		{Position{Level: 2, Number: 0}, true},
		{Position{Level: 2, Number: 2}, true},
		{Position{Level: 2, Number: 3}, false}, // not a block leader
		{Position{Level: 4, Number: 6}, true},
	}
	for _, tt := range tests {
		if got := topo.IsDSN(tt.pos); got != tt.want {
			t.Errorf("IsDSN(%+v) = %v, want %v", tt.pos, got, tt.want)
		}
	}
}

func TestDSNCoverAreasTileTree(t *testing.T) {
	// Every position down to level 4 must lie in the cover area of exactly
	// one DSN position: full coverage, zero overlap.
	for _, fanout := range []int{2, 3} {
		topo, _ := NewTopology(fanout, DefaultTreeMapperRoot)
		var all []Position
		for level := int32(0); level <= 4; level++ {
			for n := uint64(0); n < topo.slotsAtLevel(level); n++ {
				all = append(all, Position{Level: level, Number: n})
			}
		}
		for _, p := range all {
			var coveredBy []Position
			for _, d := range all {
				if topo.InCoverArea(d, p) {
					coveredBy = append(coveredBy, d)
				}
			}
			if len(coveredBy) != 1 {
				t.Errorf("fanout %d: %+v covered by %d DSNs (%v), want exactly 1", fanout, p, len(coveredBy), coveredBy)
				continue
			}
			if got := topo.ResponsibleDSN(p); got != coveredBy[0] {
				t.Errorf("fanout %d: ResponsibleDSN(%+v) = %+v, want %+v", fanout, p, got, coveredBy[0])
			}
		}
	}
}

func TestHorizontalValueMonotoneInorder(t *testing.T) {
	topo, _ := NewTopology(2, DefaultTreeMapperRoot)
	// Inorder traversal of a small 3-level binary tree, left to right.
	order := []Position{
		{Level: 2, Number: 0},
		{Level: 1, Number: 0},
		{Level: 2, Number: 1},
		{Level: 0, Number: 0},
		{Level: 2, Number: 2},
		{Level: 1, Number: 1},
		{Level: 2, Number: 3},
	}
	for i := 1; i < len(order); i++ {
		prev := topo.HorizontalValue(order[i-1])
		curr := topo.HorizontalValue(order[i])
		if prev >= curr {
			t.Errorf("expected HorizontalValue(%+v)=%v < HorizontalValue(%+v)=%v", order[i-1], prev, order[i], curr)
		}
	}
}

func TestValidatePosition(t *testing.T) {
	topo, _ := NewTopology(2, DefaultTreeMapperRoot)
	if err := topo.Validate(Position{Level: 2, Number: 3}); err != nil {
		t.Errorf("unexpected error for valid position: %v", err)
	}
	if err := topo.Validate(Position{Level: 2, Number: 4}); err == nil {
		t.Error("expected error for out-of-range number")
	}
}

func TestNewTopologyRejectsSmallFanout(t *testing.T) {
	if _, err := NewTopology(1, DefaultTreeMapperRoot); err == nil {
		t.Error("expected error for fanout < 2")
	}
}
