// Package client holds the outbound gRPC connection pool every overlay
// operation (join, leave, replacement, search-exact, entity search)
// dispatches through, plus Connect for short-lived standalone callers.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"overlay/internal/logger"
	"overlay/internal/telemetry/searchtrace"
	"overlay/internal/wire"
)

// poolEntry is one cached outbound connection, refcounted so that neighbors
// held across the routing table (parent, children, adjacents, routing
// table) are not torn down by idle eviction while still in use.
type poolEntry struct {
	conn     *grpc.ClientConn
	client   wire.DispatchClient
	refs     int
	lastUsed time.Time
}

// Pool manages reusable gRPC connections to other peers, the client-side
// analogue of the teacher's ClientPool, generalized from a Chord/Koorde
// successor/de-Bruijn fan-out to this overlay's parent/children/adjacents/
// routing-table neighbor set.
type Pool struct {
	lgr            logger.Logger
	dialOpts       []grpc.DialOption
	dialTimeout    time.Duration
	idleTTL        time.Duration
	failureTimeout time.Duration

	mu    sync.RWMutex
	conns map[string]*poolEntry

	stopCh chan struct{}
}

// NewPool builds a Pool. dialTimeout bounds how long dialing a new
// connection may take; idleTTL, if > 0, periodically closes unreferenced
// connections that have been idle that long; failureTimeout is the default
// deadline used for fire-and-forget maintenance RPCs (stabilization pings,
// resource repair) that don't carry a caller-supplied context.
func NewPool(lgr logger.Logger, dialTimeout, idleTTL, failureTimeout time.Duration, opts ...grpc.DialOption) *Pool {
	if len(opts) == 0 {
		opts = []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
			grpc.WithChainUnaryInterceptor(searchtrace.ClientInterceptor()),
		}
	}
	p := &Pool{
		lgr:            lgr,
		dialOpts:       opts,
		dialTimeout:    dialTimeout,
		idleTTL:        idleTTL,
		failureTimeout: failureTimeout,
		conns:          make(map[string]*poolEntry),
		stopCh:         make(chan struct{}),
	}
	if idleTTL > 0 {
		go p.evictLoop()
	}
	return p
}

// FailureTimeout returns the default deadline for maintenance RPCs.
func (p *Pool) FailureTimeout() time.Duration { return p.failureTimeout }

func (p *Pool) dial(addr string) (*grpc.ClientConn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.dialTimeout)
	defer cancel()
	return grpc.DialContext(ctx, addr, p.dialOpts...)
}

// GetFromPool returns the cached client for addr, dialing a new connection
// on first use. The returned connection's refcount is not incremented; use
// AddRef for a connection that must survive idle eviction (i.e. a neighbor
// slot, not a one-off request).
func (p *Pool) GetFromPool(addr string) (wire.DispatchClient, error) {
	p.mu.RLock()
	e, ok := p.conns[addr]
	p.mu.RUnlock()
	if ok {
		p.touch(addr)
		return e.client, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.conns[addr]; ok {
		e.lastUsed = time.Now()
		return e.client, nil
	}
	conn, err := p.dial(addr)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}
	e = &poolEntry{conn: conn, client: wire.NewDispatchClient(conn), lastUsed: time.Now()}
	p.conns[addr] = e
	p.lgr.Info("new gRPC connection established", logger.F("addr", addr))
	return e.client, nil
}

func (p *Pool) touch(addr string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if e, ok := p.conns[addr]; ok {
		e.lastUsed = time.Now()
	}
}

// AddRef dials (if needed) and increments addr's refcount, keeping the
// connection alive regardless of idle eviction until a matching Release.
// Call this when a peer becomes a neighbor (parent, child, adjacent,
// routing-table entry).
func (p *Pool) AddRef(addr string) error {
	if _, err := p.GetFromPool(addr); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns[addr].refs++
	return nil
}

// Release decrements addr's refcount. A connection at refcount 0 remains
// cached but becomes eligible for idle eviction.
func (p *Pool) Release(addr string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.conns[addr]
	if !ok {
		return nil
	}
	if e.refs > 0 {
		e.refs--
	}
	return nil
}

// DialEphemeral opens a connection outside the pool for a single call, e.g.
// a one-shot forward to a peer not currently tracked as a neighbor. The
// caller owns the returned *grpc.ClientConn and must Close it.
func (p *Pool) DialEphemeral(addr string) (wire.DispatchClient, *grpc.ClientConn, error) {
	conn, err := p.dial(addr)
	if err != nil {
		return nil, nil, fmt.Errorf("client: ephemeral dial %s: %w", addr, err)
	}
	return wire.NewDispatchClient(conn), conn, nil
}

// Close shuts down every pooled connection and stops the eviction loop.
func (p *Pool) Close() error {
	close(p.stopCh)
	p.mu.Lock()
	defer p.mu.Unlock()
	for addr, e := range p.conns {
		_ = e.conn.Close()
		delete(p.conns, addr)
	}
	return nil
}

// DebugLog emits the pool's current size at debug level.
func (p *Pool) DebugLog() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	p.lgr.Debug("client pool snapshot", logger.F("connections", len(p.conns)))
}

func (p *Pool) evictLoop() {
	t := time.NewTicker(p.idleTTL)
	defer t.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-t.C:
			p.evictIdle()
		}
	}
}

func (p *Pool) evictIdle() {
	now := time.Now()
	var toClose []*grpc.ClientConn

	p.mu.Lock()
	for addr, e := range p.conns {
		if e.refs == 0 && now.Sub(e.lastUsed) >= p.idleTTL {
			toClose = append(toClose, e.conn)
			delete(p.conns, addr)
		}
	}
	p.mu.Unlock()

	for _, c := range toClose {
		_ = c.Close()
	}
}
