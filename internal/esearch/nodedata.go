package esearch

import (
	"sync"

	"overlay/internal/domain"
)

// NodeData is the attribute store contract shared by a peer's own attributes
// (LocalData) and its cached view of a remote peer's attributes
// (DistributedData).
type NodeData interface {
	HasKey(key string) bool
	Value(key string) (domain.AttributeValue, bool)
	Entry(key string) (domain.Entry, bool)
	AllEntries() map[string]domain.Entry
	// IsUpToDate reports whether the stored value for key is still valid as
	// of validityThreshold: STATIC attributes are always up to date; DYNAMIC
	// attributes are up to date only if their timestamp is >= threshold.
	IsUpToDate(key string, validityThreshold int64) bool
	IsLocal() bool
	Insert(e domain.Entry)
	Update(e domain.Entry)
	Remove(key string)
	Keys() []string
}

type baseData struct {
	mu      sync.RWMutex
	entries map[string]domain.Entry
}

func newBaseData() baseData {
	return baseData{entries: make(map[string]domain.Entry)}
}

func (d *baseData) HasKey(key string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.entries[key]
	return ok
}

func (d *baseData) Value(key string) (domain.AttributeValue, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[key]
	return e.Value, ok
}

func (d *baseData) Entry(key string) (domain.Entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[key]
	return e, ok
}

func (d *baseData) AllEntries() map[string]domain.Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]domain.Entry, len(d.entries))
	for k, v := range d.entries {
		out[k] = v
	}
	return out
}

func (d *baseData) IsUpToDate(key string, validityThreshold int64) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[key]
	if !ok {
		return false
	}
	if e.Type == domain.ValueStatic {
		return true
	}
	return e.Timestamp >= validityThreshold
}

func (d *baseData) Insert(e domain.Entry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[e.Key] = e
}

func (d *baseData) Update(e domain.Entry) {
	d.Insert(e)
}

func (d *baseData) Remove(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, key)
}

func (d *baseData) Keys() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.entries))
	for k := range d.entries {
		out = append(out, k)
	}
	return out
}

// LocalData is the attribute store a peer owns for itself, plus the set of
// subscribers (other peers' NodeInfo) interested in push updates per key.
type LocalData struct {
	baseData

	subMu       sync.RWMutex
	subscribers map[string][]domain.NodeInfo
}

// NewLocalData builds an empty LocalData store.
func NewLocalData() *LocalData {
	return &LocalData{baseData: newBaseData(), subscribers: make(map[string][]domain.NodeInfo)}
}

func (d *LocalData) IsLocal() bool { return true }

// Subscribers returns a snapshot of the peers subscribed to key.
func (d *LocalData) Subscribers(key string) []domain.NodeInfo {
	d.subMu.RLock()
	defer d.subMu.RUnlock()
	out := make([]domain.NodeInfo, len(d.subscribers[key]))
	copy(out, d.subscribers[key])
	return out
}

// AddSubscriber registers subscriber as interested in updates to key.
// Re-adding an existing subscriber is a no-op.
func (d *LocalData) AddSubscriber(key string, subscriber domain.NodeInfo) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	for _, s := range d.subscribers[key] {
		if s.UUID == subscriber.UUID {
			return
		}
	}
	d.subscribers[key] = append(d.subscribers[key], subscriber)
}

// RemoveSubscriber drops subscriber's interest in key.
func (d *LocalData) RemoveSubscriber(key string, subscriber domain.NodeInfo) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	subs := d.subscribers[key]
	for i, s := range subs {
		if s.UUID == subscriber.UUID {
			d.subscribers[key] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// DistributedData is a peer's cached view of another peer's attributes,
// kept fresh by inquiry/subscription (component C8's cover-data cache). It
// additionally bounds how many recent update timestamps it remembers per
// key, discarding the oldest once timestampStorageLimit is exceeded -- the
// same ring-buffer bound the original implementation's
// timestamp_storage_limit_ enforces (spec default 5).
type DistributedData struct {
	baseData

	Owner domain.NodeInfo

	tsMu                  sync.Mutex
	timestamps            map[string][]int64
	timestampStorageLimit int

	subMu             sync.Mutex
	subscriptionOrder []string
}

// NewDistributedData builds a cache for owner's attributes, bounding the
// per-key timestamp history at timestampStorageLimit entries.
func NewDistributedData(owner domain.NodeInfo, timestampStorageLimit int) *DistributedData {
	if timestampStorageLimit <= 0 {
		timestampStorageLimit = 5
	}
	return &DistributedData{
		baseData:              newBaseData(),
		Owner:                 owner,
		timestamps:            make(map[string][]int64),
		timestampStorageLimit: timestampStorageLimit,
	}
}

func (d *DistributedData) IsLocal() bool { return false }

// IsUpToDate extends the base timestamp/STATIC rule with subscriptions: a
// key under a standing subscription is pushed on every change, so the
// cached value is current by construction no matter how old its timestamp.
func (d *DistributedData) IsUpToDate(key string, validityThreshold int64) bool {
	if d.baseData.IsUpToDate(key, validityThreshold) {
		return true
	}
	d.subMu.Lock()
	defer d.subMu.Unlock()
	for _, k := range d.subscriptionOrder {
		if k == key {
			return true
		}
	}
	return false
}

// Insert records e and appends its timestamp to the bounded history.
func (d *DistributedData) Insert(e domain.Entry) {
	d.baseData.Insert(e)
	d.recordTimestamp(e.Key, e.Timestamp)
}

// Update behaves like Insert for a distributed cache: every refresh is a
// new observed value with its own timestamp.
func (d *DistributedData) Update(e domain.Entry) {
	d.Insert(e)
}

func (d *DistributedData) recordTimestamp(key string, ts int64) {
	d.tsMu.Lock()
	defer d.tsMu.Unlock()
	hist := append(d.timestamps[key], ts)
	if len(hist) > d.timestampStorageLimit {
		hist = hist[len(hist)-d.timestampStorageLimit:]
	}
	d.timestamps[key] = hist
}

// TimestampHistory returns the bounded recent-timestamp history for key,
// oldest first.
func (d *DistributedData) TimestampHistory(key string) []int64 {
	d.tsMu.Lock()
	defer d.tsMu.Unlock()
	out := make([]int64, len(d.timestamps[key]))
	copy(out, d.timestamps[key])
	return out
}

// MarkSubscribed appends key to the order subscriptions were placed in, used
// when tearing down subscriptions in the same order they were requested.
func (d *DistributedData) MarkSubscribed(key string) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	for _, k := range d.subscriptionOrder {
		if k == key {
			return
		}
	}
	d.subscriptionOrder = append(d.subscriptionOrder, key)
}

// MarkUnsubscribed removes key from the subscription order.
func (d *DistributedData) MarkUnsubscribed(key string) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	for i, k := range d.subscriptionOrder {
		if k == key {
			d.subscriptionOrder = append(d.subscriptionOrder[:i], d.subscriptionOrder[i+1:]...)
			return
		}
	}
}

// SubscriptionOrder returns the keys currently subscribed to, in the order
// they were requested.
func (d *DistributedData) SubscriptionOrder() []string {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	out := make([]string, len(d.subscriptionOrder))
	copy(out, d.subscriptionOrder)
	return out
}
