package peer

import (
	"context"
	"fmt"

	"overlay/internal/domain"
	"overlay/internal/fsm"
	"overlay/internal/logger"
	"overlay/internal/wire"
)

// leave is the best-effort graceful teardown spec §4.4.2-4.4.3 describes,
// run once from Stop. A leaf (no children) leaves directly; a peer with at
// least one child first finds a replacement candidate and hands its
// position to it before vacating, so no subtree is ever left parentless.
func (p *Peer) leave(ctx context.Context) {
	if p.machine.State() != fsm.StateJoined {
		return
	}

	// Replacement runs to completion (ending back at StateJoined, with every
	// neighbor already repointed at the candidate) before the formal
	// LeaveRequest/LeaveReady transition; the childless path instead notifies
	// its own neighbors directly under that transition.
	child, hasChild := p.anyChild()
	if hasChild {
		p.leaveWithReplacement(ctx, child)
	}

	if err := p.machine.Fire(fsm.EventLeaveRequest); err != nil {
		p.logger.Warn("leave refused by local state machine", logger.F("err", err.Error()))
		return
	}
	if !hasChild {
		p.leaveDirect(ctx)
	}
	_ = p.machine.Fire(fsm.EventLeaveReady)
}

func (p *Peer) anyChild() (domain.NodeInfo, bool) {
	for _, c := range p.routing.Children() {
		if c != nil {
			return *c, true
		}
	}
	return domain.NodeInfo{}, false
}

// leaveDirect is spec §4.4.2: a leaf tells its parent to clear its slot and
// tells every adjacent directly that it is gone.
func (p *Peer) leaveDirect(ctx context.Context) {
	leaveCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeouts.Leave)
	defer cancel()

	self := p.Self()
	if parent := p.routing.Parent(); parent != nil {
		payload := wire.LeaveRequestPayload{Leaver: self}
		if _, err := p.send(leaveCtx, parent.Physical.String(), wire.KindLeaveRequest, payload, p.eventID(), ""); err != nil {
			p.logger.Warn("leave request to parent failed", logger.F("err", err.Error()))
		}
	}
	for _, adj := range p.routing.Adjacents() {
		if adj == nil {
			continue
		}
		p.notifyNeighborUpdate(leaveCtx, *adj, domain.RelationshipAdjacent, self.Logical, nil)
	}
	p.logger.Info("left the overlay directly")
}

// handleLeaveRequest is the parent side of leaveDirect: clear the departing
// child's slot.
func (p *Peer) handleLeaveRequest(ctx context.Context, env *wire.Envelope) (*wire.Envelope, error) {
	payload, ok := env.Payload.(wire.LeaveRequestPayload)
	if !ok {
		return nil, fmt.Errorf("peer: malformed LeaveRequest payload")
	}
	self := p.Self()
	if parentPos, ok := p.topo.Parent(payload.Leaver.Logical); ok && parentPos == self.Logical {
		p.routing.SetChild(p.topo.ChildIndex(payload.Leaver.Logical), nil)
	}
	return &wire.Envelope{Kind: wire.KindLeaveAccept, Sender: self, RefEventID: env.EventID, Payload: wire.LeaveAcceptPayload{}}, nil
}

// leaveWithReplacement is spec §4.4.3: search the subtree rooted at
// startChild for a leaf candidate, then hand this peer's whole neighbor
// context to it. The search and the handoff both travel as one synchronous
// RPC chain, the same shape join's forwarding uses.
func (p *Peer) leaveWithReplacement(ctx context.Context, startChild domain.NodeInfo) {
	replCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeouts.Replacement)
	defer cancel()

	self := p.Self()
	_ = p.machine.Fire(fsm.EventReplacementReq)

	reply, err := p.send(replCtx, startChild.Physical.String(), wire.KindReplacementRequest,
		wire.ReplacementRequestPayload{Vacating: self, Target: self.Logical}, p.eventID(), "")
	if err != nil {
		p.logger.Warn("replacement search failed, leaving directly instead", logger.F("err", err.Error()))
		p.leaveDirect(ctx)
		return
	}
	ack, ok := reply.Payload.(wire.ReplacementAckPayload)
	if !ok {
		p.logger.Warn("replacement search returned an unexpected payload, leaving directly instead")
		p.leaveDirect(ctx)
		return
	}
	_ = p.machine.Fire(fsm.EventReplacementAck)
	candidate := ack.Candidate

	p.handOffTo(replCtx, candidate)

	_ = p.machine.Fire(fsm.EventReplacementDone)
	p.logger.Info("left the overlay via replacement", logger.F("candidate", candidate.String()))
}

// handOffTo tells candidate to become the occupant of this peer's position
// and repoints every one of this peer's own neighbors at it.
func (p *Peer) handOffTo(ctx context.Context, candidate domain.NodeInfo) {
	self := p.Self()
	complete := wire.ReplacementCompletePayload{
		Position: self.Logical,
		Parent:   p.routing.Parent(),
		AdjLeft:  p.routing.AdjacentLeft(),
		AdjRight: p.routing.AdjacentRight(),
	}
	for i, c := range p.routing.Children() {
		if c != nil {
			complete.Children = append(complete.Children, wire.ChildSlot{Index: i, Node: *c})
		}
	}
	if _, err := p.send(ctx, candidate.Physical.String(), wire.KindReplacementComplete, complete, p.eventID(), ""); err != nil {
		p.logger.Warn("replacement complete delivery to candidate failed", logger.F("err", err.Error()))
	}

	if parent := p.routing.Parent(); parent != nil {
		p.notifyNeighborUpdate(ctx, *parent, domain.RelationshipChild, self.Logical, &candidate)
	}
	for _, c := range p.routing.Children() {
		if c != nil && c.UUID != candidate.UUID {
			p.notifyNeighborUpdate(ctx, *c, domain.RelationshipParent, c.Logical, &candidate)
		}
	}
	for _, a := range p.routing.Adjacents() {
		if a != nil {
			p.notifyNeighborUpdate(ctx, *a, domain.RelationshipAdjacent, self.Logical, &candidate)
		}
	}
}

// handleReplacementRequest is spec §4.4.3's candidate search: forward down
// toward a leaf; a leaf answers for itself.
func (p *Peer) handleReplacementRequest(ctx context.Context, env *wire.Envelope) (*wire.Envelope, error) {
	payload, ok := env.Payload.(wire.ReplacementRequestPayload)
	if !ok {
		return nil, fmt.Errorf("peer: malformed ReplacementRequest payload")
	}
	self := p.Self()

	if child, ok := p.anyChild(); ok {
		reply, err := p.send(ctx, child.Physical.String(), wire.KindReplacementRequest, payload, env.EventID, "")
		if err != nil {
			return nil, fmt.Errorf("peer: forwarding replacement search: %w", err)
		}
		return reply, nil
	}

	return &wire.Envelope{
		Kind: wire.KindReplacementAck, Sender: self, RefEventID: env.EventID,
		Payload: wire.ReplacementAckPayload{Candidate: self},
	}, nil
}

// handleReplacementComplete is the candidate side of handOffTo: adopt the
// vacating peer's position and neighbor set, and disown this peer's own old
// slot (it was a leaf, so its old parent/adjacents only need clearing, not a
// further replacement search of their own).
func (p *Peer) handleReplacementComplete(ctx context.Context, env *wire.Envelope) (*wire.Envelope, error) {
	payload, ok := env.Payload.(wire.ReplacementCompletePayload)
	if !ok {
		return nil, fmt.Errorf("peer: malformed ReplacementComplete payload")
	}
	_ = p.machine.Fire(fsm.EventReplacementReq)

	oldSelf := p.Self()
	if oldParent := p.routing.Parent(); oldParent != nil {
		p.notifyNeighborUpdate(ctx, *oldParent, domain.RelationshipChild, oldSelf.Logical, nil)
	}
	for _, a := range p.routing.Adjacents() {
		if a != nil {
			p.notifyNeighborUpdate(ctx, *a, domain.RelationshipAdjacent, oldSelf.Logical, nil)
		}
	}

	newSelf := oldSelf
	newSelf.Logical = payload.Position
	p.setSelf(newSelf)
	p.routing.SetParent(payload.Parent)
	for i := 0; i < p.topo.Fanout; i++ {
		p.routing.SetChild(i, nil)
	}
	for _, slot := range payload.Children {
		node := slot.Node
		p.routing.SetChild(slot.Index, &node)
	}
	p.routing.SetAdjacentLeft(payload.AdjLeft)
	p.routing.SetAdjacentRight(payload.AdjRight)

	_ = p.machine.Fire(fsm.EventReplacementAck)
	_ = p.machine.Fire(fsm.EventReplacementDone)
	p.logger.Info("assumed a replacement position", logger.F("position", fmt.Sprintf("L%dN%d", newSelf.Logical.Level, newSelf.Logical.Number)))

	return &wire.Envelope{Kind: wire.KindReplacementComplete, Sender: p.Self(), RefEventID: env.EventID}, nil
}

// watchdogTick is the periodic liveness check: ping every known neighbor and
// treat an unreachable one as a silent departure, the same LeaveRequest path
// a graceful leave already exercises, so membership self-heals under
// ungraceful failure too (spec §4.4.2's failure-detection note).
func (p *Peer) watchdogTick() {
	if p.machine.State() != fsm.StateJoined {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.pool.FailureTimeout())
	defer cancel()

	for _, n := range p.routing.Candidates() {
		if _, err := p.send(ctx, n.Physical.String(), wire.KindPing, wire.PingPayload{}, p.eventID(), ""); err != nil {
			p.logger.Warn("neighbor unreachable, evicting", logger.F("addr", n.Physical.String()), logger.F("err", err.Error()))
			p.evictUnreachable(n)
		}
	}

	p.subscriptionSweep(ctx)
}

// evictUnreachable clears every neighbor slot the local routing table has n
// installed in, without waiting for n's own cooperation.
func (p *Peer) evictUnreachable(n domain.NodeInfo) {
	if parent := p.routing.Parent(); parent != nil && parent.UUID == n.UUID {
		p.routing.SetParent(nil)
		return
	}
	for i, c := range p.routing.Children() {
		if c != nil && c.UUID == n.UUID {
			p.routing.SetChild(i, nil)
			return
		}
	}
	for i, a := range p.routing.Adjacents() {
		if a != nil && a.UUID == n.UUID {
			p.routing.SetAdjacent(i, nil)
			return
		}
	}
	for pos := range p.routing.KnownPositions() {
		if rt := p.routing.RoutingTableEntry(pos); rt != nil && rt.UUID == n.UUID {
			p.routing.SetRoutingTableEntry(pos, nil)
			return
		}
	}
}
