package peer

import (
	"context"
	"fmt"

	"overlay/internal/ctxutil"
	"overlay/internal/domain"
	"overlay/internal/fsm"
	"overlay/internal/logger"
	"overlay/internal/wire"
)

// requestServicingKinds lists message kinds through which a peer acts as
// someone else's contact/acceptor/candidate/DSN -- not its own lifecycle
// transition. The FSM's membership table (fsm.NewOverlayTable) models a
// peer's own join/leave/replacement/search initiation, so these kinds are
// gated only by "is this peer currently a connected member of the tree",
// not by a (state, event) transition lookup: spec §4.3's per-role states
// like kConnectedAcceptingChild are collapsed here into "Joined accepts
// service requests".
var requestServicingKinds = map[wire.Kind]bool{
	wire.KindJoinRequest:        true,
	wire.KindLeaveRequest:       true,
	wire.KindReplacementRequest: true,
	wire.KindFindQueryRequest:   true,
	wire.KindBootstrapRequest:   true,
	wire.KindClientInsert:       true,
	wire.KindClientUpdate:       true,
	wire.KindClientRemove:       true,
	wire.KindClientFind:         true,
}

// Dispatch implements wire.DispatchServer: the single entry point every
// incoming envelope passes through (component C10), regardless of which
// algorithm (C5/C6/C9) ultimately owns it. It is the transport-facing half
// of the "every incoming message is validated against the peer's FSM,
// dispatched to the owning algorithm" control flow of spec §2.
func (p *Peer) Dispatch(ctx context.Context, env *wire.Envelope) (*wire.Envelope, error) {
	if err := ctxutil.CheckContext(ctx); err != nil {
		return nil, err
	}
	if requestServicingKinds[env.Kind] {
		if state := p.machine.State(); state != fsm.StateJoined && state != fsm.StateSearching {
			p.logger.Warn("dropping service request while not connected",
				logger.F("kind", string(env.Kind)),
				logger.F("state", string(state)),
			)
			return nil, fmt.Errorf("%w: kind=%s state=%s", domain.ErrFSMViolation, env.Kind, state)
		}
	}

	switch env.Kind {
	case wire.KindJoinRequest:
		return p.handleJoinRequest(ctx, env)
	case wire.KindJoinAccept:
		return p.handleJoinAccept(ctx, env)
	case wire.KindJoinAcceptAck:
		return p.handleJoinAcceptAck(ctx, env)
	case wire.KindJoinReject:
		return p.handleReply(env)
	case wire.KindLeaveRequest:
		return p.handleLeaveRequest(ctx, env)
	case wire.KindReplacementRequest:
		return p.handleReplacementRequest(ctx, env)
	case wire.KindReplacementAck:
		return p.handleReply(env)
	case wire.KindReplacementComplete:
		return p.handleReplacementComplete(ctx, env)
	case wire.KindNeighborUpdate:
		return p.handleNeighborUpdate(env)
	case wire.KindSearchExactRequest:
		return p.handleSearchExactRequest(ctx, env)
	case wire.KindSearchExactResponse:
		return p.handleReply(env)
	case wire.KindFindQueryRequest:
		return p.handleFindQueryRequest(ctx, env)
	case wire.KindFindQueryResponse:
		return p.handleFindQueryResponse(env)
	case wire.KindAttributeInquiry:
		return p.handleAttributeInquiry(env)
	case wire.KindAttributeInform:
		return p.handleAttributeInform(env)
	case wire.KindSubscribe:
		return p.handleSubscribe(env)
	case wire.KindUnsubscribe:
		return p.handleUnsubscribe(env)
	case wire.KindPing:
		return p.handlePing(env)
	case wire.KindPingAck:
		return p.handleReply(env)
	case wire.KindBootstrapRequest:
		return p.handleBootstrapRequest(env)
	case wire.KindBootstrapResponse:
		return p.handleReply(env)
	case wire.KindClientInsert:
		return p.handleClientInsert(ctx, env)
	case wire.KindClientUpdate:
		return p.handleClientUpdate(ctx, env)
	case wire.KindClientRemove:
		return p.handleClientRemove(ctx, env)
	case wire.KindClientFind:
		return p.handleClientFind(ctx, env)
	case wire.KindClientState:
		return p.handleClientState(env)
	default:
		return nil, fmt.Errorf("peer: unknown message kind %q", env.Kind)
	}
}

// handleReply resolves a correlated procedure with the payload of a
// reply-only message kind (ack/response messages with no further
// obligation). It is the shared tail of every protocol that already
// registered a procedure.Registry entry before sending its request.
func (p *Peer) handleReply(env *wire.Envelope) (*wire.Envelope, error) {
	p.procedures.Resolve(env.RefEventID, env.Payload)
	return &wire.Envelope{Kind: env.Kind, Sender: p.Self(), RefEventID: env.EventID}, nil
}

func (p *Peer) handlePing(env *wire.Envelope) (*wire.Envelope, error) {
	return &wire.Envelope{Kind: wire.KindPingAck, Sender: p.Self(), RefEventID: env.EventID, Payload: wire.PingAckPayload{}}, nil
}

// handleBootstrapRequest answers a gRPC-level "who else do you know"
// request with every neighbor this peer currently holds a live slot for
// (parent, children, adjacents, routing table). It complements
// bootstrap.Multicast's raw-UDP discovery: a peer that already has one
// contact (from a static list or a DNS record) can ask that contact for a
// richer candidate set before attempting Join, so a single stale entry
// doesn't become a single point of failure.
func (p *Peer) handleBootstrapRequest(env *wire.Envelope) (*wire.Envelope, error) {
	peers := p.routing.Candidates()
	return &wire.Envelope{
		Kind: wire.KindBootstrapResponse, Sender: p.Self(), RefEventID: env.EventID,
		Payload: wire.BootstrapResponsePayload{Peers: peers},
	}, nil
}

func (p *Peer) handleNeighborUpdate(env *wire.Envelope) (*wire.Envelope, error) {
	payload, ok := env.Payload.(wire.NeighborUpdatePayload)
	if !ok {
		return nil, fmt.Errorf("peer: malformed NeighborUpdate payload")
	}
	p.applyNeighborUpdate(payload.Relationship, payload.Position, payload.Node)
	return &wire.Envelope{Kind: wire.KindNeighborUpdate, Sender: p.Self(), RefEventID: env.EventID}, nil
}

// applyNeighborUpdate installs or clears a neighbor slot by relationship
// and position, the generalized form of spec §6.2's RemoveNeighbor (node ==
// nil) / UpdateNeighbor (node != nil) pair.
func (p *Peer) applyNeighborUpdate(rel domain.Relationship, pos domain.Position, node *domain.NodeInfo) {
	self := p.Self()
	switch rel {
	case domain.RelationshipParent:
		p.routing.SetParent(node)
	case domain.RelationshipChild:
		if parentPos, ok := p.topo.Parent(pos); ok && parentPos == self.Logical {
			p.routing.SetChild(p.topo.ChildIndex(pos), node)
		}
	case domain.RelationshipAdjacent:
		// Match against this peer's own already-stored adjacent first: it is
		// reliable regardless of whether self is a leaf (a replacement or
		// handoff update can arrive after self has children of its own, when
		// Topology's leaf-only ancestor walk no longer applies to self.Logical
		// directly). Fall back to computing it from pos -- a fresh position,
		// always leaf-eligible -- only to populate an empty slot for the
		// first time, e.g. during a join.
		if l := p.routing.AdjacentLeft(); l != nil && l.Logical == pos {
			p.routing.SetAdjacentLeft(node)
			return
		}
		if r := p.routing.AdjacentRight(); r != nil && r.Logical == pos {
			p.routing.SetAdjacentRight(node)
			return
		}
		if left, ok := p.topo.AdjacentLeft(pos); ok && left == self.Logical {
			p.routing.SetAdjacentRight(node)
			return
		}
		if right, ok := p.topo.AdjacentRight(pos); ok && right == self.Logical {
			p.routing.SetAdjacentLeft(node)
			return
		}
	default:
		p.routing.SetRoutingTableEntry(pos, node)
	}
}
