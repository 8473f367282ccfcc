// Package domain holds the pure, stateless value types shared across the
// overlay: tree positions, node identities, attribute values and the
// sentinel errors every higher layer wraps.
package domain

import (
	"fmt"
	"math"
)

// Position identifies a slot in the m-ary search tree: Level counts edges
// from the root (root is level 0), Number is the 0-indexed rank among the
// Fanout^Level slots at that level, read left to right.
type Position struct {
	Level  int32
	Number uint64
}

// Root is the fixed position of the tree's root peer.
var Root = Position{Level: 0, Number: 0}

// Topology carries the tree shape parameters every position computation
// needs: the branching factor and the horizontal-value root constant used
// by the treemapper embedding (Open Question: exposed as configuration
// rather than hard-coded, default mirrors the source's kTreeMapperRootValue).
type Topology struct {
	Fanout         int
	TreeMapperRoot float64
}

// DefaultTreeMapperRoot mirrors the original implementation's hard-coded
// constant, kept as the default when configuration omits it.
const DefaultTreeMapperRoot = 100.0

// NewTopology validates and constructs a Topology. Fanout must be at least 2;
// a tree with fanout 1 cannot branch and is not a meaningful overlay shape.
func NewTopology(fanout int, treeMapperRoot float64) (Topology, error) {
	if fanout < 2 {
		return Topology{}, fmt.Errorf("domain: fanout must be >= 2, got %d", fanout)
	}
	if treeMapperRoot == 0 {
		treeMapperRoot = DefaultTreeMapperRoot
	}
	return Topology{Fanout: fanout, TreeMapperRoot: treeMapperRoot}, nil
}

// IsValid reports whether p's Number is within range for its Level under t.
func (t Topology) IsValid(p Position) bool {
	if p.Level < 0 {
		return false
	}
	max := t.slotsAtLevel(p.Level)
	return p.Number < max
}

func (t Topology) slotsAtLevel(level int32) uint64 {
	slots := uint64(1)
	for i := int32(0); i < level; i++ {
		slots *= uint64(t.Fanout)
	}
	return slots
}

// Parent returns p's parent position. Root has no parent.
func (t Topology) Parent(p Position) (Position, bool) {
	if p.Level == 0 {
		return Position{}, false
	}
	return Position{Level: p.Level - 1, Number: p.Number / uint64(t.Fanout)}, true
}

// Children returns the Fanout children of p, in left-to-right order.
func (t Topology) Children(p Position) []Position {
	children := make([]Position, t.Fanout)
	base := p.Number * uint64(t.Fanout)
	for i := 0; i < t.Fanout; i++ {
		children[i] = Position{Level: p.Level + 1, Number: base + uint64(i)}
	}
	return children
}

// ChildIndex returns which of its parent's children p is (0-indexed).
func (t Topology) ChildIndex(p Position) int {
	return int(p.Number % uint64(t.Fanout))
}

// AdjacentLeft returns p's inorder predecessor: the nearest position whose
// horizontal value is the largest one still less than p's (spec §3.1's
// adj_left), found by walking up from p rather than by comparing against
// every other occupied position. Root has no predecessor.
//
// The walk assumes p has no occupied descendants of its own -- true for the
// two roles that ever ask for a position's adjacents: a position a fresh
// joiner is about to take, and a replacement candidate about to assume a
// vacated one. Querying an occupied internal position (one with children)
// does not produce a meaningful answer this way.
func (t Topology) AdjacentLeft(p Position) (Position, bool) {
	return t.adjacentBoundary(p, false)
}

// AdjacentRight is AdjacentLeft's mirror: p's inorder successor (adj_right).
func (t Topology) AdjacentRight(p Position) (Position, bool) {
	return t.adjacentBoundary(p, true)
}

// adjacentBoundary implements the ancestor walk shared by AdjacentLeft and
// AdjacentRight. Each step compares p's child index against mid =
// (Fanout-1)/2, the index HorizontalValue's own offset formula treats as
// aligned with the parent: an index below mid sits left of the parent's
// value, above mid sits right of it, and (only possible for odd Fanout)
// exactly at mid ties it exactly. Climbing stops the first time the walk
// is unambiguously on the side opposite the one being searched for --
// that ancestor is the nearest boundary. An exact tie never resolves the
// search (it would violate adj_left.H < self.H or self.H < adj_right.H),
// so ties are climbed through like same-side steps.
func (t Topology) adjacentBoundary(p Position, wantRight bool) (Position, bool) {
	mid := float64(t.Fanout-1) / 2
	cur := p
	for cur.Level > 0 {
		parent, _ := t.Parent(cur)
		offset := float64(t.ChildIndex(cur)) - mid
		switch {
		case offset > 0 && !wantRight:
			return parent, true
		case offset < 0 && wantRight:
			return parent, true
		}
		cur = parent
	}
	return Position{}, false
}

// IsDSN reports whether p is a Dominating-Set-Node position: the leader
// (lowest-numbered member) of each sibling block of Fanout positions, on
// every even level. Together with InCoverArea this resolves Open Question 1
// with a deterministic rule that holds for any fanout: each DSN indexes its
// own sibling block plus that block's direct children, so the cover areas
// of distinct DSNs are disjoint and jointly tile the tree.
func (t Topology) IsDSN(p Position) bool {
	if p.Level%2 != 0 {
		return false
	}
	return p.Number%uint64(t.Fanout) == 0
}

// InCoverArea reports whether p lies inside the cover area of the DSN at
// dsn: the fixed-radius neighborhood made of the DSN's own in-level sibling
// block (the Fanout consecutive numbers starting at the DSN) and those
// positions' direct children one level below. Always false when dsn is not
// a DSN position.
func (t Topology) InCoverArea(dsn, p Position) bool {
	if !t.IsDSN(dsn) {
		return false
	}
	f := uint64(t.Fanout)
	start := dsn.Number
	switch p.Level {
	case dsn.Level:
		return p.Number >= start && p.Number < start+f
	case dsn.Level + 1:
		return p.Number >= start*f && p.Number < (start+f)*f
	default:
		return false
	}
}

// ResponsibleDSN returns the unique DSN position whose cover area contains
// p. An odd-level position resolves through its parent's block; the block
// leader is always occupied before any other block member in a well-formed
// tree (child slots fill leftmost-first), so the returned position names a
// live peer whenever p does.
func (t Topology) ResponsibleDSN(p Position) Position {
	f := uint64(t.Fanout)
	if p.Level%2 != 0 {
		p = Position{Level: p.Level - 1, Number: p.Number / f}
	}
	return Position{Level: p.Level, Number: p.Number - p.Number%f}
}

// HorizontalValue computes the treemapper embedding of p: a float that is
// strictly monotone in inorder tree traversal order, so comparing two
// positions' horizontal values tells you their left-to-right order without
// walking the tree. Each level subdivides its parent's interval evenly
// around TreeMapperRoot, the same way the original implementation seeds
// every subtree from a fixed root value and narrows geometrically per level.
func (t Topology) HorizontalValue(p Position) float64 {
	value := t.TreeMapperRoot
	step := t.TreeMapperRoot
	mid := float64(t.Fanout-1) / 2
	number := p.Number
	fanout := uint64(t.Fanout)
	digits := make([]uint64, p.Level)
	for l := p.Level - 1; l >= 0; l-- {
		digits[l] = number % fanout
		number /= fanout
	}
	for _, digit := range digits {
		step /= float64(t.Fanout)
		value += (float64(digit) - mid) * step
	}
	return value
}

// Relationship classifies how one position relates to another from the
// perspective of a peer holding `self`.
type Relationship int

const (
	RelationshipSelf Relationship = iota
	RelationshipParent
	RelationshipChild
	RelationshipAdjacent
	RelationshipRoutingTable
	RelationshipUnrelated
)

func (r Relationship) String() string {
	switch r {
	case RelationshipSelf:
		return "self"
	case RelationshipParent:
		return "parent"
	case RelationshipChild:
		return "child"
	case RelationshipAdjacent:
		return "adjacent"
	case RelationshipRoutingTable:
		return "routing_table"
	default:
		return "unrelated"
	}
}

// Classify reports how `other` relates to `self` under t. routingTable, when
// non-nil, is consulted last so that any position entered into the routing
// table (but not a parent/child/adjacent) is reported as RelationshipRoutingTable.
func (t Topology) Classify(self, other Position, routingTable map[Position]struct{}) Relationship {
	if self == other {
		return RelationshipSelf
	}
	if parent, ok := t.Parent(self); ok && parent == other {
		return RelationshipParent
	}
	for _, c := range t.Children(self) {
		if c == other {
			return RelationshipChild
		}
	}
	if l, ok := t.AdjacentLeft(self); ok && l == other {
		return RelationshipAdjacent
	}
	if r, ok := t.AdjacentRight(self); ok && r == other {
		return RelationshipAdjacent
	}
	if routingTable != nil {
		if _, ok := routingTable[other]; ok {
			return RelationshipRoutingTable
		}
	}
	return RelationshipUnrelated
}

// Distance returns a search-exact routing metric between two positions: the
// absolute difference of their horizontal values. Greedy routing always
// forwards to whichever known position minimizes this distance to the
// target, with exact ties broken by UUID.
func (t Topology) Distance(a, b Position) float64 {
	return math.Abs(t.HorizontalValue(a) - t.HorizontalValue(b))
}

// Validate returns ErrInvalidPosition-wrapping error if p is out of range.
func (t Topology) Validate(p Position) error {
	if !t.IsValid(p) {
		return fmt.Errorf("%w: level=%d number=%d fanout=%d", ErrInvalidPosition, p.Level, p.Number, t.Fanout)
	}
	return nil
}
