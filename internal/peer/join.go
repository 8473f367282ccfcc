package peer

import (
	"context"
	"fmt"

	"overlay/internal/bootstrap"
	"overlay/internal/domain"
	"overlay/internal/fsm"
	"overlay/internal/logger"
	"overlay/internal/wire"
)

// Join runs the joiner side of spec §4.4.1 mode (a): contact is the
// ip:port of any already-connected peer. It blocks until the joiner is
// Connected or the join definitively fails (JoinReject, or any of the
// bootstrap/join/ack timeouts expire). The whole request/accept exchange is
// one synchronous RPC chain (handleJoinRequest forwards hop by hop and the
// final accept/reject propagates straight back through the nested Dispatch
// calls), so it needs no procedure.Registry correlation -- unlike
// find-query's fan-out, there is only ever one reply in flight here.
func (p *Peer) Join(ctx context.Context, contact string) error {
	if err := p.machine.Fire(fsm.EventJoinRequest); err != nil {
		return err
	}

	joinCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeouts.Join)
	defer cancel()

	reply, err := p.send(joinCtx, contact, wire.KindJoinRequest, wire.JoinRequestPayload{Joiner: p.Self()}, p.eventID(), "")
	if err != nil {
		_ = p.machine.Fire(fsm.EventJoinFailed) // back to Idle so a retry with a fresh contact is legal
		return fmt.Errorf("%w: %v", domain.ErrJoinFailed, err)
	}

	if reply.Kind == wire.KindJoinReject {
		_ = p.machine.Fire(fsm.EventJoinFailed)
		reason := ""
		if rej, ok := reply.Payload.(wire.JoinRejectPayload); ok {
			reason = rej.Reason
		}
		return fmt.Errorf("%w: %s", domain.ErrJoinFailed, reason)
	}

	accept, ok := reply.Payload.(wire.JoinAcceptPayload)
	if !ok {
		_ = p.machine.Fire(fsm.EventJoinFailed)
		return fmt.Errorf("%w: unexpected join reply payload", domain.ErrJoinFailed)
	}
	_ = p.machine.Fire(fsm.EventJoinAccept)

	p.installJoinedPosition(accept)

	ackPayload := wire.JoinAcceptAckPayload{Joined: p.Self()}
	if _, err := p.send(ctx, accept.Parent.Physical.String(), wire.KindJoinAcceptAck, ackPayload, p.eventID(), accept.AckEventID); err != nil {
		p.logger.Warn("join accept ack to parent failed", logger.F("err", err.Error()))
	}
	for _, adjacent := range accept.Adjacents {
		if _, err := p.send(ctx, adjacent.Physical.String(), wire.KindJoinAcceptAck, ackPayload, p.eventID(), ""); err != nil {
			p.logger.Warn("join accept ack to adjacent failed", logger.F("addr", adjacent.Physical.String()), logger.F("err", err.Error()))
		}
	}

	_ = p.machine.Fire(fsm.EventJoinAcceptAck)
	_ = p.machine.Fire(fsm.EventJoinReady)
	p.setState(StateConnected)
	p.logger.Info("join complete", logger.F("position", fmt.Sprintf("L%dN%d", p.Self().Logical.Level, p.Self().Logical.Number)))
	return nil
}

// JoinViaDiscovery implements spec §4.4.1 mode (b): rather than a single
// operator-supplied contact, a bootstrap.Discoverer is asked for candidate
// addresses and each is tried in turn with Join until one succeeds.
// Discover returning no candidates, or every candidate's Join failing, is
// reported as ErrJoinFailed -- the caller decides whether to retry later
// or fall back to InitRoot.
func (p *Peer) JoinViaDiscovery(ctx context.Context, disc bootstrap.Discoverer) error {
	candidates, err := disc.Discover(ctx)
	if err != nil {
		return fmt.Errorf("%w: discovery failed: %v", domain.ErrJoinFailed, err)
	}
	if len(candidates) == 0 {
		return fmt.Errorf("%w: discovery found no candidate peers", domain.ErrJoinFailed)
	}

	var lastErr error
	for _, contact := range candidates {
		if err := p.Join(ctx, contact); err != nil {
			p.logger.Warn("discovery join attempt failed", logger.F("contact", contact), logger.F("err", err.Error()))
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("%w: all %d discovered candidates failed, last error: %v", domain.ErrJoinFailed, len(candidates), lastErr)
}

// installJoinedPosition rewrites this peer's own NodeInfo and routing
// information from a JoinAccept reply: its new logical position, and the
// rt_seed of adjacents-to-be it can reconstruct the rest of its routing
// table from by local algebra (spec §4.4.1 step 3-4).
func (p *Peer) installJoinedPosition(accept wire.JoinAcceptPayload) {
	self := p.Self()
	self.Logical = accept.Position
	p.setSelf(self)

	parent := accept.Parent
	p.routing.SetParent(&parent)

	// self.Logical is a position nobody but this joiner occupies yet (a
	// fresh leaf), so its AdjacentLeft/AdjacentRight can be read directly.
	left, hasLeft := p.topo.AdjacentLeft(self.Logical)
	right, hasRight := p.topo.AdjacentRight(self.Logical)
	for _, adjacent := range accept.Adjacents {
		n := adjacent
		if hasLeft && n.Logical == left {
			p.routing.SetAdjacentLeft(&n)
		}
		if hasRight && n.Logical == right {
			p.routing.SetAdjacentRight(&n)
		}
	}
}

// handleJoinRequest is the contact/forwarding side of spec §4.4.1 step 2-3:
// forward toward the leftmost empty child slot at minimum depth, or accept
// directly if this peer has one itself.
func (p *Peer) handleJoinRequest(ctx context.Context, env *wire.Envelope) (*wire.Envelope, error) {
	payload, ok := env.Payload.(wire.JoinRequestPayload)
	if !ok {
		return nil, fmt.Errorf("peer: malformed JoinRequest payload")
	}

	if slot, ok := p.emptyChildSlot(); ok {
		return p.acceptJoin(ctx, env, payload.Joiner, slot)
	}

	target, ok := p.forwardTarget()
	if !ok {
		return &wire.Envelope{
			Kind: wire.KindJoinReject, Sender: p.Self(), RefEventID: env.EventID,
			Payload: wire.JoinRejectPayload{Reason: "no reachable neighbor to forward toward an empty slot"},
		}, nil
	}
	reply, err := p.send(ctx, target.Physical.String(), wire.KindJoinRequest, payload, env.EventID, "")
	if err != nil {
		return &wire.Envelope{
			Kind: wire.KindJoinReject, Sender: p.Self(), RefEventID: env.EventID,
			Payload: wire.JoinRejectPayload{Reason: err.Error()},
		}, nil
	}
	return reply, nil
}

// emptyChildSlot returns the lowest-indexed empty child slot of this peer,
// the "leftmost empty child slot at the minimum depth" insertion rule
// applied locally: a peer only accepts directly when ITS OWN children have
// a free slot; otherwise it forwards (spec §4.4.1 step 2).
func (p *Peer) emptyChildSlot() (int, bool) {
	for i, c := range p.routing.Children() {
		if c == nil {
			return i, true
		}
	}
	return 0, false
}

// forwardTarget picks the best-known neighbor to forward a join toward,
// preferring children (closer to an empty slot at greater depth) over the
// parent and adjacents, mirroring search-exact's own greedy neighbor pick
// but biased toward descending the tree rather than any specific target
// position.
func (p *Peer) forwardTarget() (domain.NodeInfo, bool) {
	for _, c := range p.routing.Children() {
		if c != nil {
			return *c, true
		}
	}
	for _, a := range p.routing.Adjacents() {
		if a != nil {
			return *a, true
		}
	}
	if par := p.routing.Parent(); par != nil {
		return *par, true
	}
	return domain.NodeInfo{}, false
}

// acceptJoin installs joiner as this peer's child at slot, refusing a
// second concurrent join with JoinReject per spec §4.4.1's documented
// concurrency resolution.
func (p *Peer) acceptJoin(ctx context.Context, env *wire.Envelope, joiner domain.NodeInfo, slot int) (*wire.Envelope, error) {
	if !p.tryAcceptChild() {
		return &wire.Envelope{
			Kind: wire.KindJoinReject, Sender: p.Self(), RefEventID: env.EventID,
			Payload: wire.JoinRejectPayload{Reason: "a join is already being accepted at this parent"},
		}, nil
	}
	defer p.releaseAcceptChild()

	self := p.Self()
	childPos := p.topo.Children(self.Logical)[slot]
	joiner.Logical = childPos

	adjacents := p.adjacentsToBe(childPos)

	p.routing.SetChild(slot, &joiner)
	for _, adj := range adjacents {
		p.notifyNeighborUpdate(ctx, adj, domain.RelationshipAdjacent, childPos, &joiner)
	}

	// The installation is provisional until the joiner's JoinAcceptAck
	// lands (spec §4.4.1 step 4): a pending procedure holds the ack
	// deadline, and expiry rolls the child slot back so a joiner that died
	// mid-join does not leave a phantom occupant.
	proc := p.procedures.Register(self.UUID.String(), domain.TimeoutJoin, p.cfg.Timeouts.Join)
	go func() {
		result := <-proc.Done()
		if result.Err == nil {
			return
		}
		p.logger.Warn("join accept ack never arrived, rolling back child slot",
			logger.F("position", fmt.Sprintf("L%dN%d", childPos.Level, childPos.Number)),
			logger.F("err", result.Err.Error()),
		)
		if c := p.routing.Children()[slot]; c != nil && c.UUID == joiner.UUID {
			p.routing.SetChild(slot, nil)
		}
	}()

	return &wire.Envelope{
		Kind: wire.KindJoinAccept, Sender: self, RefEventID: env.EventID,
		Payload: wire.JoinAcceptPayload{Parent: self, Position: childPos, Adjacents: adjacents, AckEventID: proc.EventID},
	}, nil
}

// adjacentsToBe returns the already-known occupants of childPos's adj_left
// and adj_right positions (spec §4.4.1 step 3), so the joiner can install
// both without a further round trip. childPos is a slot about to receive a
// fresh joiner, so Topology.AdjacentLeft/AdjacentRight apply directly to it.
func (p *Peer) adjacentsToBe(childPos domain.Position) []domain.NodeInfo {
	var out []domain.NodeInfo
	if left, ok := p.topo.AdjacentLeft(childPos); ok {
		if n := p.lookupKnownPeer(left); n != nil {
			out = append(out, *n)
		}
	}
	if right, ok := p.topo.AdjacentRight(childPos); ok {
		if n := p.lookupKnownPeer(right); n != nil {
			out = append(out, *n)
		}
	}
	return out
}

// lookupKnownPeer returns the node this peer currently believes occupies
// pos, checking every neighbor slot it holds -- itself, its parent, its
// children, both adjacents, and its longer-range routing table -- not just
// its own children. A position's adj_left/adj_right can land anywhere in
// that set (e.g. a right child's adj_left is commonly its own parent), so a
// children-only search misses most of them.
func (p *Peer) lookupKnownPeer(pos domain.Position) *domain.NodeInfo {
	self := p.Self()
	if self.Logical == pos {
		return &self
	}
	if parent := p.routing.Parent(); parent != nil && parent.Logical == pos {
		return parent
	}
	for _, c := range p.routing.Children() {
		if c != nil && c.Logical == pos {
			return c
		}
	}
	if l := p.routing.AdjacentLeft(); l != nil && l.Logical == pos {
		return l
	}
	if r := p.routing.AdjacentRight(); r != nil && r.Logical == pos {
		return r
	}
	return p.routing.RoutingTableEntry(pos)
}

// notifyNeighborUpdate pushes a NeighborUpdate to addr's occupant about a
// change at pos, best-effort (join/replacement protocols don't block
// completion on every sibling's liveness).
func (p *Peer) notifyNeighborUpdate(ctx context.Context, target domain.NodeInfo, rel domain.Relationship, pos domain.Position, node *domain.NodeInfo) {
	payload := wire.NeighborUpdatePayload{Relationship: rel, Position: pos, Node: node}
	if _, err := p.send(ctx, target.Physical.String(), wire.KindNeighborUpdate, payload, p.eventID(), ""); err != nil {
		p.logger.Warn("neighbor update delivery failed", logger.F("addr", target.Physical.String()), logger.F("err", err.Error()))
	}
}

// handleJoinAccept only exists so KindJoinAccept has a Dispatch case; the
// join protocol never sends it as an independent RPC (it travels back as
// the direct return value of the KindJoinRequest chain), but a dispatcher
// must still route every declared Kind somewhere.
func (p *Peer) handleJoinAccept(ctx context.Context, env *wire.Envelope) (*wire.Envelope, error) {
	return p.handleReply(env)
}

// handleJoinAcceptAck is spec §4.4.1 step 4's final leg: every recipient of
// an Ack (the accepting parent, and each adjacent-to-be) installs the
// joiner as a neighbor.
func (p *Peer) handleJoinAcceptAck(ctx context.Context, env *wire.Envelope) (*wire.Envelope, error) {
	payload, ok := env.Payload.(wire.JoinAcceptAckPayload)
	if !ok {
		return nil, fmt.Errorf("peer: malformed JoinAcceptAck payload")
	}
	p.procedures.Resolve(env.RefEventID, payload)
	joined := payload.Joined
	self := p.Self()

	if parentPos, ok := p.topo.Parent(joined.Logical); ok && parentPos == self.Logical {
		p.routing.SetChild(p.topo.ChildIndex(joined.Logical), &joined)
	}

	// joined has just taken a fresh leaf position (it has no children yet),
	// so its own adj_left/adj_right are computed directly; this peer installs
	// joined on whichever of its own adjacent slots is the mirror image of
	// whichever boundary joined reports self as.
	left, hasLeft := p.topo.AdjacentLeft(joined.Logical)
	right, hasRight := p.topo.AdjacentRight(joined.Logical)
	switch {
	case hasLeft && left == self.Logical:
		p.routing.SetAdjacentRight(&joined)
	case hasRight && right == self.Logical:
		p.routing.SetAdjacentLeft(&joined)
	}
	return &wire.Envelope{Kind: wire.KindJoinAcceptAck, Sender: self, RefEventID: env.EventID}, nil
}
