package peer

import (
	"context"

	"overlay/internal/domain"
	"overlay/internal/esearch"
	"overlay/internal/logger"
	"overlay/internal/wire"
)

// FindResult pairs a matched peer with the attributes the query's selection
// policy decided to report for it (spec §6.4's `find() -> future<FindResult>`,
// FindResult a sequence of (NodeInfo, attributes[])).
type FindResult struct {
	Node       domain.NodeInfo
	Attributes map[string]domain.Entry
}

// Insert adds new local attribute entries (component C7, spec §6.4). It is
// synchronous: it returns once the local store is mutated, the pushes to
// subscribers and the responsible DSN are fire-and-forget in the
// background exactly like every other best-effort neighbor notification in
// this package. Re-inserting a key with an identical value is a no-op
// (already present); re-inserting with a different value type fails, since
// a key's value-type is fixed at first insert.
func (p *Peer) Insert(ctx context.Context, entries []domain.Entry) error {
	changed := entries[:0:0]
	for _, e := range entries {
		if existing, ok := p.local.Entry(e.Key); ok {
			if existing.Type != e.Type {
				return domain.ErrAttributeTypeFixed
			}
			if sameValue(existing.Value, e.Value) {
				continue
			}
			if existing.Type == domain.ValueStatic {
				return domain.ErrImmutableAttribute
			}
		}
		p.local.Insert(e)
		changed = append(changed, e)
	}
	if len(changed) > 0 {
		p.publishLocalChange(ctx, changed, nil)
	}
	return nil
}

// Update overwrites existing local attribute entries, enforcing invariants
// A1 (a STATIC value cannot change) and A2 (a key's value-type is fixed at
// insert). A3 (monotone timestamps) is the caller's responsibility to
// supply; Update does not reorder or reject an out-of-order timestamp
// itself, matching the original local_data.h which trusts its own clock.
func (p *Peer) Update(ctx context.Context, entries []domain.Entry) error {
	for _, e := range entries {
		if existing, ok := p.local.Entry(e.Key); ok {
			if existing.Type != e.Type {
				return domain.ErrAttributeTypeFixed
			}
			if existing.Type == domain.ValueStatic && !sameValue(existing.Value, e.Value) {
				return domain.ErrImmutableAttribute
			}
		}
		p.local.Update(e)
	}
	p.publishLocalChange(ctx, entries, nil)
	return nil
}

// Remove deletes local attribute entries by key, notifying subscribers and
// the responsible DSN that the keys are gone.
func (p *Peer) Remove(ctx context.Context, keys []string) error {
	for _, k := range keys {
		p.local.Remove(k)
	}
	p.publishLocalChange(ctx, nil, keys)
	return nil
}

// sameValue reports whether two AttributeValues hold the same kind and
// underlying value, used by Update to enforce A1 (STATIC immutability).
func sameValue(a, b domain.AttributeValue) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case domain.ValueInt32:
		av, _ := a.Int32()
		bv, _ := b.Int32()
		return av == bv
	case domain.ValueFloat32:
		av, _ := a.Float32()
		bv, _ := b.Float32()
		return av == bv
	case domain.ValueBool:
		av, _ := a.Bool()
		bv, _ := b.Bool()
		return av == bv
	default:
		av, _ := a.String()
		bv, _ := b.String()
		return av == bv
	}
}

// publishLocalChange is the shared tail of Insert/Update/Remove: push a
// SubscriptionUpdate-equivalent to every current subscriber of each changed
// key (spec §4.6.2), and forward the change to this peer's responsible DSN
// so its cover cache refreshes (§4.6.3). Both are best-effort background
// sends; a stuck or unreachable subscriber never blocks the local mutation
// from completing.
func (p *Peer) publishLocalChange(ctx context.Context, entries []domain.Entry, removed []string) {
	self := p.Self()

	subscribers := make(map[string]domain.NodeInfo)
	for _, e := range entries {
		for _, s := range p.local.Subscribers(e.Key) {
			subscribers[s.UUID.String()] = s
		}
	}
	for _, k := range removed {
		for _, s := range p.local.Subscribers(k) {
			subscribers[s.UUID.String()] = s
		}
	}
	for _, sub := range subscribers {
		go func(target domain.NodeInfo) {
			sctx, cancel := context.WithTimeout(context.Background(), p.pool.FailureTimeout())
			defer cancel()
			payload := wire.AttributeInformPayload{Owner: self, Entries: entries, Removed: removed}
			if _, err := p.send(sctx, target.Physical.String(), wire.KindAttributeInform, payload, p.eventID(), ""); err != nil {
				p.logger.Warn("subscription update delivery failed", logger.F("addr", target.Physical.String()), logger.F("err", err.Error()))
			}
		}(sub)
	}

	// Every position has exactly one responsible DSN; when that is self
	// (self is a DSN, and a DSN always covers its own position), the cover
	// cache is updated in place, otherwise the change is pushed greedily
	// toward the DSN's position.
	target := p.topo.ResponsibleDSN(self.Logical)
	if p.dsn.IsActive() && target == self.Logical {
		p.dsn.UpdateInquiredOrSubscribedAttributeValues(self, entries, p.cfg.Esearch.TimestampStorageLimit)
		p.dsn.UpdateRemovedAttributes(self, removed)
		return
	}
	next, ok := p.bestCandidate(target)
	if !ok {
		return
	}
	go func() {
		pctx, cancel := context.WithTimeout(context.Background(), p.pool.FailureTimeout())
		defer cancel()
		payload := wire.AttributeInformPayload{
			Owner: self, Entries: entries, Removed: removed,
			ForwardDSN: true, HopsLeft: p.hopBudget(),
		}
		if _, err := p.send(pctx, next.Physical.String(), wire.KindAttributeInform, payload, p.eventID(), ""); err != nil {
			p.logger.Warn("attribute-inform push toward DSN failed", logger.F("addr", next.Physical.String()), logger.F("err", err.Error()))
		}
	}()
}

// FindEntities runs component C9's distributed find-query and reshapes the
// result into the facade's public FindResult shape (spec §6.4's
// find() -> future<FindResult>); Peer.Find itself stays transport-shaped
// (a match slice plus two maps keyed by peer UUID) since that is what the
// recursive DSN fan-out naturally produces.
func (p *Peer) FindEntities(ctx context.Context, query esearch.FindQuery) ([]FindResult, error) {
	matches, attrs, _, err := p.Find(ctx, query)
	if err != nil {
		return nil, err
	}
	out := make([]FindResult, 0, len(matches))
	for _, n := range matches {
		out = append(out, FindResult{Node: n, Attributes: attrs[n.UUID.String()]})
	}
	return out, nil
}
