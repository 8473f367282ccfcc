// Package peer assembles the overlay's core components (C1-C11) into one
// running peer: routing information, the finite state machine, the
// procedure registry, the attribute store and DSN handler, and the
// membership/search/entity-search algorithms that mutate them. It is the
// thing internal/server dispatches incoming envelopes into and
// internal/bootstrap hands a contact endpoint to on startup.
package peer

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"overlay/internal/client"
	"overlay/internal/config"
	"overlay/internal/domain"
	"overlay/internal/esearch"
	"overlay/internal/fsm"
	"overlay/internal/logger"
	"overlay/internal/procedure"
	"overlay/internal/routinginfo"
	"overlay/internal/wire"
)

// FacadeState is the coarse lifecycle state reported to the embedding host
// (spec §6.4 state()): Started before the join procedure resolves,
// Connected while part of the tree, Idle after a graceful leave, Error on
// an unrecoverable local fault.
type FacadeState int

const (
	StateStarted FacadeState = iota
	StateConnected
	StateIdle
	StateError
)

func (s FacadeState) String() string {
	switch s {
	case StateStarted:
		return "started"
	case StateConnected:
		return "connected"
	case StateIdle:
		return "idle"
	default:
		return "error"
	}
}

// Peer is one overlay node: the facade (C11) plus every component it
// drives. A Peer is safe for concurrent use; internally every mutation of
// shared state runs on the dispatcher's handler goroutines, serialized the
// way spec §5's single-threaded cooperative model requires (the dispatcher
// itself may be invoked concurrently by gRPC, but each handler takes the
// locks its component already owns before touching shared state).
type Peer struct {
	logger logger.Logger
	topo   domain.Topology
	cfg    config.DHTConfig

	self atomic.Pointer[domain.NodeInfo]

	pool       *client.Pool
	procedures *procedure.Registry
	routing    *routinginfo.RoutingInfo
	machine    *fsm.Machine
	local      *esearch.LocalData
	dsn        *esearch.DSNHandler

	state    atomic.Int32
	maxLevel atomic.Int32 // coarsest observed tree depth, used for the search-exact hop budget

	acceptMu       sync.Mutex
	acceptingChild bool // spec's documented concurrent-join resolution: refuse a second Join while already accepting one

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New constructs a Peer identified by self, under topo and cfg, logging
// through lgr. The returned Peer starts in StateStarted; call InitRoot or
// Join to actually take a position in the tree.
func New(self domain.NodeInfo, topo domain.Topology, cfg config.DHTConfig, lgr logger.Logger, pool *client.Pool) *Peer {
	if lgr == nil {
		lgr = logger.NopLogger{}
	}
	p := &Peer{
		logger:     lgr.Named("peer").WithNode(self),
		topo:       topo,
		cfg:        cfg,
		pool:       pool,
		procedures: procedure.NewRegistry(),
		routing:    routinginfo.New(self, topo, routinginfo.WithLogger(lgr)),
		local:      esearch.NewLocalData(),
		dsn:        esearch.NewDSNHandler(self, topo),
		stopCh:     make(chan struct{}),
	}
	p.self.Store(&self)
	p.dsn.SetTimestampStorageLimit(cfg.Esearch.TimestampStorageLimit)
	p.machine = fsm.New(fsm.NewOverlayTable(fsm.RefuseConcurrentJoin(p.isAcceptingChild)), fsm.StateIdle)
	p.routing.OnNeighborChange(p.onNeighborChange)
	p.updateMaxLevel(self.Logical.Level)
	p.state.Store(int32(StateStarted))
	return p
}

// Run starts the background loops a peer needs for its whole lifetime: the
// procedure-timeout scheduler (C3) and the Watchdog's periodic liveness
// check of the current neighbor set (C10). It blocks until ctx is
// cancelled or Stop is called.
func (p *Peer) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go p.procedures.Run(ctx)

	ticker := time.NewTicker(p.cfg.Timeouts.SearchExact)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.watchdogTick()
		}
	}
}

// Self returns a snapshot of this peer's own NodeInfo. The logical position
// changes across a replacement; callers that need to react to that should
// watch State() or OnNeighborChange rather than cache the result.
func (p *Peer) Self() domain.NodeInfo { return *p.self.Load() }

func (p *Peer) setSelf(n domain.NodeInfo) {
	p.self.Store(&n)
	p.routing.SetSelf(n)
	p.updateMaxLevel(n.Logical.Level)
	p.dsn.SetSelf(n)
	p.dsn.SetActive(p.topo.IsDSN(n.Logical))
}

// tryAcceptChild attempts to reserve the "currently accepting a child"
// right exclusively, implementing spec §4.4.1's documented resolution of
// concurrent joins at the same parent: refuse the second one outright.
// Callers must pair a successful reservation with a matching release.
func (p *Peer) tryAcceptChild() bool {
	p.acceptMu.Lock()
	defer p.acceptMu.Unlock()
	if p.acceptingChild {
		return false
	}
	p.acceptingChild = true
	return true
}

func (p *Peer) releaseAcceptChild() {
	p.acceptMu.Lock()
	p.acceptingChild = false
	p.acceptMu.Unlock()
}

// isAcceptingChild reports the same flag without reserving it, used as the
// fsm guard closure: a peer already mid-accept for someone else's join
// also refuses to start its own (spec leaves the interaction between
// concurrent join roles unspecified beyond "pick refusal for determinism").
func (p *Peer) isAcceptingChild() bool {
	p.acceptMu.Lock()
	defer p.acceptMu.Unlock()
	return p.acceptingChild
}

// State reports the facade lifecycle state (spec §6.4).
func (p *Peer) State() FacadeState { return FacadeState(p.state.Load()) }

func (p *Peer) setState(s FacadeState) { p.state.Store(int32(s)) }

func (p *Peer) updateMaxLevel(level int32) {
	for {
		cur := p.maxLevel.Load()
		if level <= cur {
			return
		}
		if p.maxLevel.CompareAndSwap(cur, level) {
			return
		}
	}
}

// hopBudget implements spec §4.5's 2*(tree_height + f) bound, using the
// coarsest tree depth this peer has observed as a stand-in for the true
// (unknowable without a global view) tree height.
func (p *Peer) hopBudget() int {
	return 2 * (int(p.maxLevel.Load()) + p.topo.Fanout)
}

// InitRoot configures this peer as the sole occupant of a brand-new
// overlay: logical position (0,0), empty neighbor set, DSN of its own
// cover area, immediately Connected.
func (p *Peer) InitRoot() {
	root := p.Self()
	root.Logical = domain.Root
	p.setSelf(root)
	p.routing.InitRoot()
	_ = p.machine.Fire(fsm.EventJoinRequest)
	_ = p.machine.Fire(fsm.EventJoinAccept)
	_ = p.machine.Fire(fsm.EventJoinAcceptAck)
	_ = p.machine.Fire(fsm.EventJoinReady)
	p.setState(StateConnected)
	p.logger.Info("initialized as root")
}

// onNeighborChange is wired into the routing table as the C8 hook spec
// §4.2 describes: every neighbor slot mutation is forwarded to the DSN
// handler so its cover area tracks membership changes without polling.
func (p *Peer) onNeighborChange(rel domain.Relationship, pos domain.Position, n *domain.NodeInfo) {
	p.dsn.OnNeighborChangeNotification(rel, pos, n)
	if n != nil {
		p.updateMaxLevel(pos.Level)
		if p.dsn.InCover(pos) {
			go p.maybeInquireNewCoverPeer(*n)
		}
	}
}

// eventID mints a fresh correlation id prefixed by this peer's UUID, used
// both for procedure registry correlation and request tracing.
func (p *Peer) eventID() string {
	self := p.Self()
	return fmt.Sprintf("%s-%d", self.UUID.String(), rand.Int63())
}

// send dispatches kind/payload to addr and returns the raw reply envelope.
// It does not correlate through the procedure registry: the reply is the
// return value of the Dispatch RPC itself.
func (p *Peer) send(ctx context.Context, addr string, kind wire.Kind, payload any, eventID, refEventID string) (*wire.Envelope, error) {
	if p.pool == nil {
		return nil, fmt.Errorf("peer: no outbound transport configured")
	}
	c, err := p.pool.GetFromPool(addr)
	if err != nil {
		return nil, fmt.Errorf("peer: dial %s: %w", addr, err)
	}
	env := &wire.Envelope{
		Kind:       kind,
		EventID:    eventID,
		RefEventID: refEventID,
		Sender:     p.Self(),
		Payload:    payload,
	}
	reply, err := c.Dispatch(ctx, env)
	if err != nil {
		return nil, fmt.Errorf("peer: dispatch %s to %s: %w", kind, addr, err)
	}
	return reply, nil
}

// Stop initiates a graceful leave (best-effort) and halts the background
// loops. Idempotent.
func (p *Peer) Stop(ctx context.Context) {
	p.stopOnce.Do(func() {
		p.leave(ctx)
		close(p.stopCh)
		p.procedures.CancelAll()
		if p.pool != nil {
			_ = p.pool.Close()
		}
		p.setState(StateIdle)
	})
}
