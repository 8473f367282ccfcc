package peer

import (
	"context"
	"fmt"

	"overlay/internal/domain"
	"overlay/internal/fsm"
	"overlay/internal/logger"
	"overlay/internal/telemetry/searchtrace"
	"overlay/internal/wire"
)

// SearchExact runs component C6 (spec §4.5): greedy routing toward target,
// forwarding to whichever known neighbor minimizes the 3-tier distance
// (level difference, then horizontal-value difference, then UUID as a final
// deterministic tiebreak) until the occupant of target is found or the hop
// budget hopBudget derives from the coarsest observed tree depth runs out.
func (p *Peer) SearchExact(ctx context.Context, target domain.Position) (*domain.NodeInfo, error) {
	if err := p.machine.Fire(fsm.EventSearchStart); err != nil {
		return nil, err
	}
	defer func() { _ = p.machine.Fire(fsm.EventSearchDone) }()

	self := p.Self()
	if self.Logical == target {
		return &self, nil
	}

	next, ok := p.bestCandidate(target)
	if !ok {
		return nil, domain.ErrSearchUnreachable
	}

	searchCtx, cancel := context.WithTimeout(searchtrace.WithTraced(ctx), p.cfg.Timeouts.SearchExact)
	defer cancel()

	payload := wire.SearchExactRequestPayload{Target: target, HopsLeft: p.hopBudget(), Originator: self}
	reply, err := p.send(searchCtx, next.Physical.String(), wire.KindSearchExactRequest, payload, p.eventID(), "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSearchUnreachable, err)
	}
	resp, ok := reply.Payload.(wire.SearchExactResponsePayload)
	if !ok || !resp.Found {
		return nil, domain.ErrSearchUnreachable
	}
	return resp.Resolved, nil
}

// observePeer records a peer seen in passing search-exact traffic as a
// routing shortcut. Fixed-role slots (parent, children, adjacents) are only
// ever mutated by the membership protocols; everything else becomes a
// longer-range routing-table entry that later searches can jump through.
func (p *Peer) observePeer(n domain.NodeInfo) {
	self := p.Self()
	if n.UUID == self.UUID || !p.topo.IsValid(n.Logical) {
		return
	}
	switch p.topo.Classify(self.Logical, n.Logical, p.routing.KnownPositions()) {
	case domain.RelationshipUnrelated, domain.RelationshipRoutingTable:
		p.routing.SetRoutingTableEntry(n.Logical, &n)
	}
}

// bestCandidate picks the known neighbor closest to target under the
// 3-tier metric.
func (p *Peer) bestCandidate(target domain.Position) (domain.NodeInfo, bool) {
	var best domain.NodeInfo
	found := false
	for _, c := range p.routing.Candidates() {
		if !found || closer(p.topo, c.Logical, best.Logical, target, c.UUID.String(), best.UUID.String()) {
			best, found = c, true
		}
	}
	return best, found
}

// closer reports whether a is a strictly better match for target than b:
// smaller level difference wins first, then smaller horizontal-value
// distance, then the lexicographically smaller UUID string as a
// deterministic final tiebreak (spec §4.5's documented 3-tier metric).
func closer(topo domain.Topology, a, b, target domain.Position, aUUID, bUUID string) bool {
	aLevelDiff := absInt32(a.Level - target.Level)
	bLevelDiff := absInt32(b.Level - target.Level)
	if aLevelDiff != bLevelDiff {
		return aLevelDiff < bLevelDiff
	}
	aDist := topo.Distance(a, target)
	bDist := topo.Distance(b, target)
	if aDist != bDist {
		return aDist < bDist
	}
	return aUUID < bUUID
}

func absInt32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// handleSearchExactRequest is the forwarding side of spec §4.5: answer
// directly if this peer occupies the target position, otherwise forward to
// the best-known candidate, decrementing the hop budget each hop.
func (p *Peer) handleSearchExactRequest(ctx context.Context, env *wire.Envelope) (*wire.Envelope, error) {
	payload, ok := env.Payload.(wire.SearchExactRequestPayload)
	if !ok {
		return nil, fmt.Errorf("peer: malformed SearchExactRequest payload")
	}
	p.observePeer(env.Sender)
	p.observePeer(payload.Originator)
	self := p.Self()

	if self.Logical == payload.Target {
		return &wire.Envelope{
			Kind: wire.KindSearchExactResponse, Sender: self, RefEventID: env.EventID,
			Payload: wire.SearchExactResponsePayload{Found: true, Resolved: &self, Hops: 0},
		}, nil
	}

	if payload.HopsLeft <= 0 {
		return &wire.Envelope{
			Kind: wire.KindSearchExactResponse, Sender: self, RefEventID: env.EventID,
			Payload: wire.SearchExactResponsePayload{Found: false},
		}, nil
	}

	next, ok := p.bestCandidate(payload.Target)
	if !ok {
		return &wire.Envelope{
			Kind: wire.KindSearchExactResponse, Sender: self, RefEventID: env.EventID,
			Payload: wire.SearchExactResponsePayload{Found: false},
		}, nil
	}

	forwardCtx := ctx
	if searchtrace.IsTraced(ctx) {
		forwardCtx = searchtrace.WithTraced(ctx)
	}

	forwarded := payload
	forwarded.HopsLeft--
	reply, err := p.send(forwardCtx, next.Physical.String(), wire.KindSearchExactRequest, forwarded, env.EventID, "")
	if err != nil {
		p.logger.Warn("search-exact forward failed", logger.F("addr", next.Physical.String()), logger.F("err", err.Error()))
		return &wire.Envelope{
			Kind: wire.KindSearchExactResponse, Sender: self, RefEventID: env.EventID,
			Payload: wire.SearchExactResponsePayload{Found: false},
		}, nil
	}
	if resp, ok := reply.Payload.(wire.SearchExactResponsePayload); ok {
		resp.Hops++
		reply.Payload = resp
	}
	return reply, nil
}
