// Package routinginfo holds the routing state one peer maintains about its
// neighborhood in the tree: its parent, children, adjacents and routing
// table entries (component C2 of the overlay).
package routinginfo

import (
	"sync"

	"overlay/internal/domain"
	"overlay/internal/logger"
)

// entry is a single neighbor slot. It is a struct, not a bare *domain.NodeInfo,
// so future metadata (last-seen timestamp, health) can be added without
// changing every call site.
type entry struct {
	mu   sync.RWMutex
	node *domain.NodeInfo
}

func (e *entry) get() *domain.NodeInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.node
}

func (e *entry) set(n *domain.NodeInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.node = n
}

// NeighborChangeFunc is invoked whenever a neighbor slot changes, letting
// component C8 (the DSN handler) rebuild its cover area without polling.
type NeighborChangeFunc func(relationship domain.Relationship, pos domain.Position, node *domain.NodeInfo)

// RoutingInfo is the routing state owned by a single peer. It combines a
// parent pointer, a fixed-size children slice, the sibling adjacents, and an
// open-ended routing table of longer-range links used by search-exact
// (component C6) -- the tree-overlay analogue of a Koorde routing table's
// successor list plus de Bruijn window.
type RoutingInfo struct {
	logger logger.Logger
	topo   domain.Topology
	self   domain.NodeInfo

	mu       sync.RWMutex
	parent   *entry
	children []*entry
	adjLeft  *entry // inorder predecessor (spec's adj_left)
	adjRight *entry // inorder successor (spec's adj_right)
	routing  map[domain.Position]*entry
	onChange []NeighborChangeFunc
}

// New creates a RoutingInfo for self under topo. All neighbor slots start
// empty; InitRoot or a join procedure fills them in.
func New(self domain.NodeInfo, topo domain.Topology, opts ...Option) *RoutingInfo {
	ri := &RoutingInfo{
		logger:   logger.NopLogger{},
		topo:     topo,
		self:     self,
		parent:   &entry{},
		children: make([]*entry, topo.Fanout),
		adjLeft:  &entry{},
		adjRight: &entry{},
		routing:  make(map[domain.Position]*entry),
	}
	for i := range ri.children {
		ri.children[i] = &entry{}
	}
	for _, opt := range opts {
		opt(ri)
	}
	ri.logger.Debug("routing info initialized")
	return ri
}

// InitRoot configures this RoutingInfo to represent the sole peer of a fresh
// overlay: every neighbor slot is empty (the root has no parent or
// adjacents, and no children have joined yet).
func (ri *RoutingInfo) InitRoot() {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	ri.parent = &entry{}
	ri.adjLeft = &entry{}
	ri.adjRight = &entry{}
	ri.logger.Debug("routing info set to single-peer root")
}

// Self returns the local peer's own NodeInfo.
func (ri *RoutingInfo) Self() domain.NodeInfo {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	return ri.self
}

// SetSelf updates the logical/physical identity this RoutingInfo computes
// neighbor positions relative to. A join or replacement changes this peer's
// own Position, and every position formula here (parentPosition,
// Topology.Children applied to ri.self.Logical) must move with it.
func (ri *RoutingInfo) SetSelf(self domain.NodeInfo) {
	ri.mu.Lock()
	ri.self = self
	ri.mu.Unlock()
}

// Topology returns the tree shape this RoutingInfo was built for.
func (ri *RoutingInfo) Topology() domain.Topology { return ri.topo }

// Parent returns the parent neighbor, or nil if self is the root or the
// parent link has not been established yet.
func (ri *RoutingInfo) Parent() *domain.NodeInfo {
	return ri.parent.get()
}

// SetParent updates the parent link and fires any registered
// NeighborChangeFunc callbacks.
func (ri *RoutingInfo) SetParent(n *domain.NodeInfo) {
	ri.parent.set(n)
	ri.notify(domain.RelationshipParent, parentPosition(ri.Self(), ri.topo), n)
}

func parentPosition(self domain.NodeInfo, topo domain.Topology) domain.Position {
	if p, ok := topo.Parent(self.Logical); ok {
		return p
	}
	return self.Logical
}

// Children returns a snapshot of the current child slots, in child-index
// order. Empty slots are nil.
func (ri *RoutingInfo) Children() []*domain.NodeInfo {
	out := make([]*domain.NodeInfo, len(ri.children))
	for i, e := range ri.children {
		out[i] = e.get()
	}
	return out
}

// SetChild updates child slot i (0-indexed, matching Topology.ChildIndex).
func (ri *RoutingInfo) SetChild(i int, n *domain.NodeInfo) {
	ri.children[i].set(n)
	childPos := ri.topo.Children(ri.Self().Logical)[i]
	ri.notify(domain.RelationshipChild, childPos, n)
}

// AdjacentLeft returns the current inorder-predecessor neighbor (spec's
// adj_left), or nil if no peer currently occupies that role.
func (ri *RoutingInfo) AdjacentLeft() *domain.NodeInfo { return ri.adjLeft.get() }

// AdjacentRight returns the current inorder-successor neighbor (adj_right),
// or nil.
func (ri *RoutingInfo) AdjacentRight() *domain.NodeInfo { return ri.adjRight.get() }

// Adjacents returns a 2-element [left, right] snapshot, for callers that
// only need to range over "both adjacents" without caring which side.
func (ri *RoutingInfo) Adjacents() []*domain.NodeInfo {
	return []*domain.NodeInfo{ri.AdjacentLeft(), ri.AdjacentRight()}
}

// SetAdjacentLeft updates the inorder-predecessor slot.
func (ri *RoutingInfo) SetAdjacentLeft(n *domain.NodeInfo) { ri.setAdjacent(ri.adjLeft, n) }

// SetAdjacentRight updates the inorder-successor slot.
func (ri *RoutingInfo) SetAdjacentRight(n *domain.NodeInfo) { ri.setAdjacent(ri.adjRight, n) }

// SetAdjacent updates adjacent slot i using Adjacents' [left, right]
// indexing, for callers iterating both sides uniformly.
func (ri *RoutingInfo) SetAdjacent(i int, n *domain.NodeInfo) {
	if i == 0 {
		ri.setAdjacent(ri.adjLeft, n)
		return
	}
	ri.setAdjacent(ri.adjRight, n)
}

// setAdjacent installs n in slot e and fires the registered NeighborChangeFunc
// callbacks. Unlike a parent or child, an adjacent's position is not a fixed
// function of self's own position -- it is whoever currently occupies that
// inorder role, which shifts as the tree grows -- so the notified position
// is the installed node's own Logical, or (on clear) the slot's previous
// occupant's Logical, rather than anything recomputed from self.
func (ri *RoutingInfo) setAdjacent(e *entry, n *domain.NodeInfo) {
	prev := e.get()
	e.set(n)
	switch {
	case n != nil:
		ri.notify(domain.RelationshipAdjacent, n.Logical, n)
	case prev != nil:
		ri.notify(domain.RelationshipAdjacent, prev.Logical, nil)
	}
}

// RoutingTableEntry returns the node known for position pos, if any.
func (ri *RoutingInfo) RoutingTableEntry(pos domain.Position) *domain.NodeInfo {
	ri.mu.RLock()
	e, ok := ri.routing[pos]
	ri.mu.RUnlock()
	if !ok {
		return nil
	}
	return e.get()
}

// SetRoutingTableEntry adds or updates a longer-range routing link.
func (ri *RoutingInfo) SetRoutingTableEntry(pos domain.Position, n *domain.NodeInfo) {
	ri.mu.Lock()
	e, ok := ri.routing[pos]
	if !ok {
		e = &entry{}
		ri.routing[pos] = e
	}
	ri.mu.Unlock()
	e.set(n)
	ri.notify(domain.RelationshipRoutingTable, pos, n)
}

// KnownPositions returns a snapshot of every position this peer has routing
// information for, excluding nil slots. It is used by Topology.Classify and
// by search-exact's candidate enumeration.
func (ri *RoutingInfo) KnownPositions() map[domain.Position]struct{} {
	self := ri.Self()
	out := make(map[domain.Position]struct{})
	if p := ri.Parent(); p != nil {
		pos, _ := ri.topo.Parent(self.Logical)
		out[pos] = struct{}{}
	}
	for i, c := range ri.Children() {
		if c != nil {
			out[ri.topo.Children(self.Logical)[i]] = struct{}{}
		}
	}
	if l := ri.AdjacentLeft(); l != nil {
		out[l.Logical] = struct{}{}
	}
	if r := ri.AdjacentRight(); r != nil {
		out[r.Logical] = struct{}{}
	}
	ri.mu.RLock()
	for pos, e := range ri.routing {
		if e.get() != nil {
			out[pos] = struct{}{}
		}
	}
	ri.mu.RUnlock()
	return out
}

// Candidates returns every non-nil neighbor known to this peer, for
// search-exact's greedy distance comparison.
func (ri *RoutingInfo) Candidates() []domain.NodeInfo {
	var out []domain.NodeInfo
	if p := ri.Parent(); p != nil {
		out = append(out, *p)
	}
	for _, c := range ri.Children() {
		if c != nil {
			out = append(out, *c)
		}
	}
	if l := ri.AdjacentLeft(); l != nil {
		out = append(out, *l)
	}
	if r := ri.AdjacentRight(); r != nil {
		out = append(out, *r)
	}
	ri.mu.RLock()
	for _, e := range ri.routing {
		if n := e.get(); n != nil {
			out = append(out, *n)
		}
	}
	ri.mu.RUnlock()
	return out
}

// OnNeighborChange registers fn to be called whenever any neighbor slot is
// set, letting the DSN handler (component C8) rebuild its cover area
// without a polling loop.
func (ri *RoutingInfo) OnNeighborChange(fn NeighborChangeFunc) {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	ri.onChange = append(ri.onChange, fn)
}

func (ri *RoutingInfo) notify(rel domain.Relationship, pos domain.Position, n *domain.NodeInfo) {
	ri.mu.RLock()
	callbacks := append([]NeighborChangeFunc(nil), ri.onChange...)
	ri.mu.RUnlock()
	for _, cb := range callbacks {
		cb(rel, pos, n)
	}
}

// DebugLog emits the full neighbor set at debug level, mirroring the
// operational snapshot a peer prints during stabilization.
func (ri *RoutingInfo) DebugLog() {
	ri.logger.Debug("routing info snapshot",
		logger.F("self", ri.Self().String()),
		logger.F("parent", nodeOrNil(ri.Parent())),
		logger.F("children", nodesOrNil(ri.Children())),
		logger.F("adjacents", nodesOrNil(ri.Adjacents())),
	)
}

func nodeOrNil(n *domain.NodeInfo) string {
	if n == nil {
		return "<empty>"
	}
	return n.String()
}

func nodesOrNil(ns []*domain.NodeInfo) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = nodeOrNil(n)
	}
	return out
}
