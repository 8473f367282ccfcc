package peer

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"overlay/internal/domain"
	"overlay/internal/esearch"
	"overlay/internal/logger"
	"overlay/internal/telemetry/searchtrace"
	"overlay/internal/wire"
)

// Find runs component C9's distributed find-query (spec §4.6.4-§4.6.5): the
// query first bubbles up to the tree root unchanged, then the root floods it
// down through every child, with each active DSN along the way (component
// C8) answering out of its own cover-area cache instead of inquiring peers
// one at a time.
func (p *Peer) Find(ctx context.Context, query esearch.FindQuery) ([]domain.NodeInfo, map[string]map[string]domain.Entry, map[string][]string, error) {
	findCtx, cancel := context.WithTimeout(searchtrace.WithTraced(ctx), p.cfg.Timeouts.FindQuery)
	defer cancel()

	self := p.Self()
	payload := wire.FindQueryRequestPayload{Query: query, HopsLeft: p.hopBudget()}

	if self.Logical == domain.Root {
		matches, attrs, undecided := p.evaluateAndBroadcast(findCtx, payload, p.eventID())
		return matches, attrs, undecided, nil
	}

	parent := p.routing.Parent()
	if parent == nil {
		return nil, nil, nil, domain.ErrSearchUnreachable
	}
	reply, err := p.send(findCtx, parent.Physical.String(), wire.KindFindQueryRequest, payload, p.eventID(), "")
	if err != nil {
		return nil, nil, nil, fmt.Errorf("peer: find-query: %w", err)
	}
	resp, ok := reply.Payload.(wire.FindQueryResponsePayload)
	if !ok {
		return nil, nil, nil, fmt.Errorf("peer: find-query: unexpected reply payload")
	}
	return resp.Matches, resp.Attributes, resp.Undecided, nil
}

// handleFindQueryRequest forwards a not-yet-broadcasting request straight up
// to the parent (continuing the bubble-up to root), or, once broadcasting,
// evaluates locally and fans out to children.
func (p *Peer) handleFindQueryRequest(ctx context.Context, env *wire.Envelope) (*wire.Envelope, error) {
	payload, ok := env.Payload.(wire.FindQueryRequestPayload)
	if !ok {
		return nil, fmt.Errorf("peer: malformed FindQueryRequest payload")
	}
	self := p.Self()

	if !payload.Broadcasting && self.Logical != domain.Root {
		if parent := p.routing.Parent(); parent != nil {
			upCtx := ctx
			if searchtrace.IsTraced(ctx) {
				upCtx = searchtrace.WithTraced(ctx)
			}
			reply, err := p.send(upCtx, parent.Physical.String(), wire.KindFindQueryRequest, payload, env.EventID, "")
			if err != nil {
				return nil, fmt.Errorf("peer: find-query bubble-up: %w", err)
			}
			return reply, nil
		}
	}

	payload.Broadcasting = true
	matches, attrs, undecided := p.evaluateAndBroadcast(ctx, payload, env.EventID)
	return &wire.Envelope{
		Kind: wire.KindFindQueryResponse, Sender: self, RefEventID: env.EventID,
		Payload: wire.FindQueryResponsePayload{Matches: matches, Attributes: attrs, Undecided: undecided},
	}, nil
}

// evaluateAndBroadcast is the downward half: answer out of this peer's own
// DSN cache (if active) and merge in whatever every child's own subtree
// reports, stopping early once the query's Scope is satisfied.
func (p *Peer) evaluateAndBroadcast(ctx context.Context, payload wire.FindQueryRequestPayload, eventID string) ([]domain.NodeInfo, map[string]map[string]domain.Entry, map[string][]string) {
	var matches []domain.NodeInfo
	attrs := make(map[string]map[string]domain.Entry)
	undecided := make(map[string][]string)

	if p.dsn.IsActive() {
		trueNodes, trueAttrs := p.dsn.GetTrueNodes(payload.Query)
		matches = append(matches, trueNodes...)
		for uuid, sel := range trueAttrs {
			attrs[uuid] = sel
		}
		for uuid, keys := range p.dsn.GetUndecidedNodesAndMissingKeys(payload.Query) {
			undecided[uuid] = keys
		}
		resolved, resolvedAttrs := p.resolveUndecided(ctx, payload.Query, undecided)
		matches = append(matches, resolved...)
		for uuid, sel := range resolvedAttrs {
			attrs[uuid] = sel
		}
	}

	if payload.HopsLeft <= 0 || payload.Query.Satisfied(len(matches)) {
		return matches, attrs, undecided
	}

	downCtx := ctx
	if searchtrace.IsTraced(ctx) {
		downCtx = searchtrace.WithTraced(ctx)
	}

	forwarded := payload
	forwarded.HopsLeft--
	for _, c := range p.routing.Children() {
		if c == nil {
			continue
		}
		reply, err := p.send(downCtx, c.Physical.String(), wire.KindFindQueryRequest, forwarded, eventID, "")
		if err != nil {
			p.logger.Warn("find-query broadcast to child failed", logger.F("addr", c.Physical.String()), logger.F("err", err.Error()))
			continue
		}
		if resp, ok := reply.Payload.(wire.FindQueryResponsePayload); ok {
			matches = append(matches, resp.Matches...)
			for uuid, sel := range resp.Attributes {
				attrs[uuid] = sel
			}
			for uuid, keys := range resp.Undecided {
				undecided[uuid] = keys
			}
		}
		if payload.Query.Satisfied(len(matches)) {
			break
		}
	}
	return matches, attrs, undecided
}

// resolveUndecided fetches the missing attributes of every Undecided cover
// peer with a one-shot AttributeInquiry each (spec §4.6.5 step 2, bounded
// by the subscription/inquiry timeout), merges the answers into the cover
// cache, and re-evaluates. Peers that collapse to a definite answer are
// removed from undecided; True ones are returned as additional matches.
// Every inquiry is also recorded with the DSN's subscription policy, so a
// key inquired often enough graduates to a standing subscription on the
// next sweep.
func (p *Peer) resolveUndecided(ctx context.Context, query esearch.FindQuery, undecided map[string][]string) ([]domain.NodeInfo, map[string]map[string]domain.Entry) {
	var resolved []domain.NodeInfo
	resolvedAttrs := make(map[string]map[string]domain.Entry)

	for uuid, keys := range undecided {
		owner, ok := p.dsn.Owner(uuid)
		if !ok {
			continue
		}
		for _, k := range keys {
			p.dsn.NotifyAboutQueryRequest(uuid, k)
		}

		inqCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeouts.Subscription)
		reply, err := p.send(inqCtx, owner.Physical.String(), wire.KindAttributeInquiry, wire.AttributeInquiryPayload{Keys: keys}, p.eventID(), "")
		cancel()
		if err != nil {
			p.logger.Warn("inquiry of undecided peer failed", logger.F("addr", owner.Physical.String()), logger.F("err", err.Error()))
			continue
		}
		inform, ok := reply.Payload.(wire.AttributeInformPayload)
		if !ok {
			continue
		}
		p.dsn.UpdateInquiredOrSubscribedAttributeValues(owner, inform.Entries, p.cfg.Esearch.TimestampStorageLimit)

		v, sel, ok := p.dsn.EvaluateOne(uuid, query)
		if !ok || v == esearch.FuzzyUndecided {
			continue
		}
		delete(undecided, uuid)
		if v == esearch.FuzzyTrue {
			resolved = append(resolved, owner)
			if sel != nil {
				resolvedAttrs[uuid] = sel
			}
		}
	}
	return resolved, resolvedAttrs
}

// subscriptionSweep applies the DSN's subscription hysteresis (spec
// §4.6.6): place standing subscriptions for keys inquired often enough,
// tear down ones nobody has asked about for a full rate window. Driven from
// the watchdog tick alongside the liveness pings.
func (p *Peer) subscriptionSweep(ctx context.Context) {
	if !p.dsn.IsActive() {
		return
	}
	for _, act := range p.dsn.SubscribeActions() {
		if _, err := p.send(ctx, act.Peer.Physical.String(), wire.KindSubscribe, wire.SubscribePayload{Keys: act.Keys}, p.eventID(), ""); err != nil {
			p.logger.Warn("subscription order failed", logger.F("addr", act.Peer.Physical.String()), logger.F("err", err.Error()))
			continue
		}
		p.dsn.MarkSubscribed(act.Peer.UUID.String(), act.Keys)
	}
	for _, act := range p.dsn.UnsubscribeActions() {
		if _, err := p.send(ctx, act.Peer.Physical.String(), wire.KindUnsubscribe, wire.UnsubscribePayload{Keys: act.Keys}, p.eventID(), ""); err != nil {
			p.logger.Warn("unsubscription order failed", logger.F("addr", act.Peer.Physical.String()), logger.F("err", err.Error()))
			continue
		}
		p.dsn.MarkUnsubscribed(act.Peer.UUID.String(), act.Keys)
	}
}

// handleFindQueryResponse only exists so KindFindQueryResponse has a
// Dispatch case; every find-query response travels back as the direct
// return value of the KindFindQueryRequest chain, never as an independent
// RPC.
func (p *Peer) handleFindQueryResponse(env *wire.Envelope) (*wire.Envelope, error) {
	return p.handleReply(env)
}

// handleAttributeInquiry answers with this peer's own attribute entries
// (component C7's local store), every key if Keys is empty.
func (p *Peer) handleAttributeInquiry(env *wire.Envelope) (*wire.Envelope, error) {
	payload, ok := env.Payload.(wire.AttributeInquiryPayload)
	if !ok {
		return nil, fmt.Errorf("peer: malformed AttributeInquiry payload")
	}
	var entries []domain.Entry
	if len(payload.Keys) == 0 {
		for _, e := range p.local.AllEntries() {
			entries = append(entries, e)
		}
	} else {
		for _, k := range payload.Keys {
			if e, ok := p.local.Entry(k); ok {
				entries = append(entries, e)
			}
		}
	}
	return &wire.Envelope{
		Kind: wire.KindAttributeInform, Sender: p.Self(), RefEventID: env.EventID,
		Payload: wire.AttributeInformPayload{Entries: entries},
	}, nil
}

// handleAttributeInform merges a pushed or subscribed attribute update into
// this peer's DSN cover-data cache (component C8), when this peer is the
// DSN whose cover area contains the owner -- covers are disjoint, so
// exactly one peer ever absorbs a given push. A ForwardDSN-marked payload
// arriving anywhere else is relayed one greedy hop closer to the owner's
// responsible DSN position, spending HopsLeft the same way a search-exact
// forward does (the push side of spec §4.6.2's "publish to the responsible
// DSN" step).
func (p *Peer) handleAttributeInform(env *wire.Envelope) (*wire.Envelope, error) {
	payload, ok := env.Payload.(wire.AttributeInformPayload)
	if !ok {
		return nil, fmt.Errorf("peer: malformed AttributeInform payload")
	}
	owner := payload.Owner
	if owner.UUID == (uuid.UUID{}) {
		owner = env.Sender
	}
	if p.dsn.InCover(owner.Logical) {
		p.dsn.UpdateInquiredOrSubscribedAttributeValues(owner, payload.Entries, p.cfg.Esearch.TimestampStorageLimit)
		p.dsn.UpdateRemovedAttributes(owner, payload.Removed)
	} else if payload.ForwardDSN && payload.HopsLeft > 0 {
		target := p.topo.ResponsibleDSN(owner.Logical)
		if next, ok := p.bestCandidate(target); ok {
			relay := payload
			relay.Owner = owner
			relay.HopsLeft--
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), p.pool.FailureTimeout())
				defer cancel()
				if _, err := p.send(ctx, next.Physical.String(), wire.KindAttributeInform, relay, p.eventID(), ""); err != nil {
					p.logger.Warn("attribute-inform relay toward DSN failed", logger.F("addr", next.Physical.String()), logger.F("err", err.Error()))
				}
			}()
		}
	}
	return &wire.Envelope{Kind: wire.KindAttributeInform, Sender: p.Self(), RefEventID: env.EventID}, nil
}

// handleSubscribe registers the sender as a push subscriber for the given
// keys in this peer's own local attribute store.
func (p *Peer) handleSubscribe(env *wire.Envelope) (*wire.Envelope, error) {
	payload, ok := env.Payload.(wire.SubscribePayload)
	if !ok {
		return nil, fmt.Errorf("peer: malformed Subscribe payload")
	}
	for _, k := range payload.Keys {
		p.local.AddSubscriber(k, env.Sender)
	}
	return &wire.Envelope{Kind: wire.KindSubscribe, Sender: p.Self(), RefEventID: env.EventID}, nil
}

// handleUnsubscribe drops the sender's standing subscription to the given
// keys.
func (p *Peer) handleUnsubscribe(env *wire.Envelope) (*wire.Envelope, error) {
	payload, ok := env.Payload.(wire.UnsubscribePayload)
	if !ok {
		return nil, fmt.Errorf("peer: malformed Unsubscribe payload")
	}
	for _, k := range payload.Keys {
		p.local.RemoveSubscriber(k, env.Sender)
	}
	return &wire.Envelope{Kind: wire.KindUnsubscribe, Sender: p.Self(), RefEventID: env.EventID}, nil
}

// maybeInquireNewCoverPeer preemptively fetches a newly-covered peer's full
// attribute set, so an active DSN's cache is warm before the first query
// needs it rather than only after an Undecided round trip.
func (p *Peer) maybeInquireNewCoverPeer(n domain.NodeInfo) {
	self := p.Self()
	if n.UUID == self.UUID {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.pool.FailureTimeout())
	defer cancel()

	reply, err := p.send(ctx, n.Physical.String(), wire.KindAttributeInquiry, wire.AttributeInquiryPayload{}, p.eventID(), "")
	if err != nil {
		p.logger.Warn("cover-area peer inquiry failed", logger.F("addr", n.Physical.String()), logger.F("err", err.Error()))
		return
	}
	payload, ok := reply.Payload.(wire.AttributeInformPayload)
	if !ok {
		return
	}
	p.dsn.UpdateInquiredOrSubscribedAttributeValues(n, payload.Entries, p.cfg.Esearch.TimestampStorageLimit)
}
