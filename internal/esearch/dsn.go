package esearch

import (
	"sync"
	"time"

	"overlay/internal/domain"
)

// subscriptionThresholds control the request-rate hysteresis used to decide
// whether a key is worth a standing subscription instead of being
// re-inquired on every query (spec §4.6.6): MinRequests inquiries inside
// RequestRateWindow subscribe a key, and no inquiry inside the window
// unsubscribes it. How often the key's value actually changes is not
// counted.
type subscriptionThresholds struct {
	RequestRateWindow time.Duration
	MinRequests       int
}

// DefaultSubscriptionThresholds mirrors a conservative default: three
// inquiries of the same key inside ten seconds earn it a subscription.
var DefaultSubscriptionThresholds = subscriptionThresholds{
	RequestRateWindow: 10 * time.Second,
	MinRequests:       3,
}

// DSNHandler is the Dominating-Set-Node index a peer runs when
// Topology.IsDSN(self) is true: it caches the attributes of every peer in
// its cover area (its own sibling block and that block's direct children,
// Topology.InCoverArea) and answers find-queries for those peers out of
// the cache instead of having each one inquired individually.
type DSNHandler struct {
	topo       domain.Topology
	self       domain.NodeInfo
	thresholds subscriptionThresholds

	mu        sync.RWMutex
	active    bool
	tsLimit   int
	coverArea map[domain.Position]*domain.NodeInfo
	coverData map[string]*DistributedData // keyed by peer UUID

	reqMu      sync.Mutex
	requestLog map[string][]time.Time // key -> recent inquiry timestamps
}

// NewDSNHandler builds a DSNHandler for self, initially inactive until
// OnNeighborChangeNotification or SetActive establishes it owns a cover
// area.
func NewDSNHandler(self domain.NodeInfo, topo domain.Topology) *DSNHandler {
	return &DSNHandler{
		topo:       topo,
		self:       self,
		tsLimit:    5,
		thresholds: DefaultSubscriptionThresholds,
		coverArea:  make(map[domain.Position]*domain.NodeInfo),
		coverData:  make(map[string]*DistributedData),
		requestLog: make(map[string][]time.Time),
	}
}

// SetTimestampStorageLimit bounds the per-key update-timestamp history of
// every DistributedData cache this handler creates (spec §6.3's
// timestamp_storage_limit, default 5).
func (h *DSNHandler) SetTimestampStorageLimit(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n > 0 {
		h.tsLimit = n
	}
}

// SetSelf moves the handler to a new own position (a join or replacement
// changed it) and recomputes the cover from scratch: tracked entries that
// fall outside the new position's cover area are dropped, per the cover
// maintenance rule for a change of self's own position.
func (h *DSNHandler) SetSelf(self domain.NodeInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.self = self
	for pos := range h.coverArea {
		if !h.inCover(pos) {
			delete(h.coverArea, pos)
		}
	}
	// Cache entries created by pushed updates have no coverArea record of
	// their own, so the data map is pruned by owner position independently.
	for uuid, dd := range h.coverData {
		if !h.inCover(dd.Owner.Logical) {
			delete(h.coverData, uuid)
		}
	}
}

// inCover reports whether pos lies in the fixed-radius cover area of self's
// position (domain.Topology.InCoverArea): self's in-level sibling block and
// that block's direct children. Distinct DSNs' covers are disjoint, so the
// same peer is never indexed twice. Callers hold h.mu.
func (h *DSNHandler) inCover(pos domain.Position) bool {
	return h.topo.InCoverArea(h.self.Logical, pos)
}

// InCover reports whether this handler is an active DSN whose cover area
// contains pos.
func (h *DSNHandler) InCover(pos domain.Position) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.active && h.inCover(pos)
}

// IsActive reports whether this peer is currently serving as a DSN.
func (h *DSNHandler) IsActive() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.active
}

// SetActive flips whether this peer currently serves as a DSN, e.g. after a
// join or leave changes which positions are DSNs.
func (h *DSNHandler) SetActive(active bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.active = active
	if !active {
		h.coverArea = make(map[domain.Position]*domain.NodeInfo)
		h.coverData = make(map[string]*DistributedData)
	}
}

// OnNeighborChangeNotification updates the cover area when routing
// information changes; wire this as a routinginfo.NeighborChangeFunc. Only
// positions inside this peer's fixed-radius cover area affect it.
func (h *DSNHandler) OnNeighborChangeNotification(rel domain.Relationship, pos domain.Position, n *domain.NodeInfo) {
	if !h.IsActive() {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if n == nil {
		if prev, ok := h.coverArea[pos]; ok {
			delete(h.coverData, prev.UUID.String())
		}
		delete(h.coverArea, pos)
		return
	}
	if !h.inCover(pos) {
		return
	}
	h.coverArea[pos] = n
	// An empty cache entry is created right away: until the first inquiry
	// answers, the peer evaluates Undecided rather than being invisible to
	// queries entirely.
	if _, ok := h.coverData[n.UUID.String()]; !ok {
		h.coverData[n.UUID.String()] = NewDistributedData(*n, h.tsLimit)
	}
}

// CoverData returns the cached DistributedData for a covered peer, creating
// an empty one on first reference.
func (h *DSNHandler) CoverData(peer domain.NodeInfo, timestampStorageLimit int) *DistributedData {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := peer.UUID.String()
	dd, ok := h.coverData[key]
	if !ok {
		dd = NewDistributedData(peer, timestampStorageLimit)
		h.coverData[key] = dd
	}
	return dd
}

// UpdateInquiredOrSubscribedAttributeValues merges freshly fetched or
// pushed attribute values for peer into its cached DistributedData.
func (h *DSNHandler) UpdateInquiredOrSubscribedAttributeValues(peer domain.NodeInfo, entries []domain.Entry, timestampStorageLimit int) {
	dd := h.CoverData(peer, timestampStorageLimit)
	for _, e := range entries {
		dd.Update(e)
	}
}

// UpdateRemovedAttributes drops keys that peer reports as no longer set.
func (h *DSNHandler) UpdateRemovedAttributes(peer domain.NodeInfo, keys []string) {
	h.mu.RLock()
	dd, ok := h.coverData[peer.UUID.String()]
	h.mu.RUnlock()
	if !ok {
		return
	}
	for _, k := range keys {
		dd.Remove(k)
	}
}

// recordRequest logs an inquiry under logKey and reports whether it has now
// crossed the subscription threshold within the configured window.
func (h *DSNHandler) recordRequest(logKey string) bool {
	h.reqMu.Lock()
	defer h.reqMu.Unlock()
	now := time.Now()
	cutoff := now.Add(-h.thresholds.RequestRateWindow)
	log := h.requestLog[logKey]
	kept := log[:0]
	for _, t := range log {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	h.requestLog[logKey] = kept
	return len(kept) >= h.thresholds.MinRequests
}

// requestsInWindow counts the recorded inquiries for (peer, key) still
// inside the rate window, without logging a new one.
func (h *DSNHandler) requestsInWindow(peerUUID, key string) int {
	h.reqMu.Lock()
	defer h.reqMu.Unlock()
	cutoff := time.Now().Add(-h.thresholds.RequestRateWindow)
	n := 0
	for _, t := range h.requestLog[peerUUID+":"+key] {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

// NotifyAboutQueryRequest records that key was just inquired for peer and
// returns true if the inquiry pattern now warrants placing a standing
// subscription instead of one-off polling.
func (h *DSNHandler) NotifyAboutQueryRequest(peerUUID, key string) bool {
	return h.recordRequest(peerUUID + ":" + key)
}

// GetTrueNodes evaluates query against every cached cover-area peer and
// returns those that evaluate to FuzzyTrue, alongside the attributes the
// query's selection policy (spec §4.6.5) says to report for each, keyed by
// peer UUID.
func (h *DSNHandler) GetTrueNodes(query FindQuery) ([]domain.NodeInfo, map[string]map[string]domain.Entry) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []domain.NodeInfo
	attrs := make(map[string]map[string]domain.Entry)
	for uuid, dd := range h.coverData {
		if !query.Considers(uuid) {
			continue
		}
		if query.Evaluate(dd) == FuzzyTrue {
			out = append(out, dd.Owner)
			if sel := query.SelectedAttributes(dd); sel != nil {
				attrs[uuid] = sel
			}
			if query.Satisfied(len(out)) {
				break
			}
		}
	}
	return out, attrs
}

// GetUndecidedNodesAndMissingKeys evaluates query against every cached
// cover-area peer and, for those that come back Undecided, reports which
// attribute keys would need to be fetched to resolve them.
func (h *DSNHandler) GetUndecidedNodesAndMissingKeys(query FindQuery) map[string][]string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string][]string)
	for uuid, dd := range h.coverData {
		if !query.Considers(uuid) {
			continue
		}
		if query.Evaluate(dd) == FuzzyUndecided {
			out[uuid] = query.MissingAttributes(dd)
		}
	}
	return out
}

// Owner returns the cached identity of the covered peer with the given
// UUID string.
func (h *DSNHandler) Owner(peerUUID string) (domain.NodeInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	dd, ok := h.coverData[peerUUID]
	if !ok {
		return domain.NodeInfo{}, false
	}
	return dd.Owner, true
}

// EvaluateOne re-runs query against a single cached peer, returning its
// truth value and (for a True result) the attributes the query's selection
// policy reports. Used after an inquiry round trip to see whether freshly
// merged values collapsed an Undecided into a definite answer.
func (h *DSNHandler) EvaluateOne(peerUUID string, query FindQuery) (FuzzyValue, map[string]domain.Entry, bool) {
	h.mu.RLock()
	dd, ok := h.coverData[peerUUID]
	h.mu.RUnlock()
	if !ok {
		return FuzzyFalse, nil, false
	}
	v := query.Evaluate(dd)
	if v != FuzzyTrue {
		return v, nil, true
	}
	return v, query.SelectedAttributes(dd), true
}

// SubscriptionAction names a set of keys to (un)subscribe at one covered
// peer.
type SubscriptionAction struct {
	Peer domain.NodeInfo
	Keys []string
}

// SubscribeActions returns the (peer, keys) pairs whose inquiry rate inside
// the window has crossed the subscription threshold and that are not yet
// under a standing subscription. The caller places the subscriptions and
// confirms with MarkSubscribed.
func (h *DSNHandler) SubscribeActions() []SubscriptionAction {
	h.mu.RLock()
	defer h.mu.RUnlock()
	selfID := h.self.UUID.String()
	var out []SubscriptionAction
	for uuid, dd := range h.coverData {
		if uuid == selfID {
			continue
		}
		subscribed := make(map[string]bool)
		for _, k := range dd.SubscriptionOrder() {
			subscribed[k] = true
		}
		var keys []string
		for _, k := range dd.Keys() {
			if !subscribed[k] && h.requestsInWindow(uuid, k) >= h.thresholds.MinRequests {
				keys = append(keys, k)
			}
		}
		if len(keys) > 0 {
			out = append(out, SubscriptionAction{Peer: dd.Owner, Keys: keys})
		}
	}
	return out
}

// UnsubscribeActions returns the standing subscriptions whose key has not
// been inquired at all inside the rate window -- the lower edge of the
// hysteresis band, so a key oscillating around the subscribe threshold is
// not churned on and off.
func (h *DSNHandler) UnsubscribeActions() []SubscriptionAction {
	h.mu.RLock()
	defer h.mu.RUnlock()
	selfID := h.self.UUID.String()
	var out []SubscriptionAction
	for uuid, dd := range h.coverData {
		if uuid == selfID {
			continue
		}
		var keys []string
		for _, k := range dd.SubscriptionOrder() {
			if h.requestsInWindow(uuid, k) == 0 {
				keys = append(keys, k)
			}
		}
		if len(keys) > 0 {
			out = append(out, SubscriptionAction{Peer: dd.Owner, Keys: keys})
		}
	}
	return out
}

// MarkSubscribed records that a standing subscription for keys was placed
// at the covered peer.
func (h *DSNHandler) MarkSubscribed(peerUUID string, keys []string) {
	h.mu.RLock()
	dd, ok := h.coverData[peerUUID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	for _, k := range keys {
		dd.MarkSubscribed(k)
	}
}

// MarkUnsubscribed records that the standing subscription for keys was torn
// down.
func (h *DSNHandler) MarkUnsubscribed(peerUUID string, keys []string) {
	h.mu.RLock()
	dd, ok := h.coverData[peerUUID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	for _, k := range keys {
		dd.MarkUnsubscribed(k)
	}
}
