package bootstrap

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"net"
	"time"

	"overlay/internal/domain"
	"overlay/internal/logger"
)

// multicastRequest/multicastResponse are the two datagrams exchanged over
// the UDP channel, gob-encoded exactly like the gRPC Dispatch payloads in
// internal/wire but carried on a raw socket: this is the genuinely
// connectionless "ask the local segment who's out there" transport spec
// §6.1 calls out as distinct from the peer-to-peer Dispatch RPC, so it gets
// its own tiny wire format rather than borrowing wire.Envelope.
type multicastRequest struct {
	RequesterID string
}

type multicastResponse struct {
	Addr string
}

// Multicast discovers peers already on the overlay by broadcasting a
// request datagram to a well-known multicast group and collecting replies
// for a short listening window, and registers this peer's presence by
// answering that same request on a background listener. This is the
// implementation behind spec §4.4.1 mode (b) ("via bootstrap discovery")
// and SPEC_FULL.md's Open Question #2 decision to implement it rather than
// mark it Unsupported.
type Multicast struct {
	Addr    string // multicast group "host:port", e.g. "239.0.0.1:7946"
	Timeout time.Duration
	lgr     logger.Logger

	selfAddr string
	stopCh   chan struct{}
}

// NewMulticast builds a Multicast bootstrap bound to group addr. This peer's
// own dispatch address, returned in answer to other peers' discovery
// requests, is set when Register is called.
func NewMulticast(addr string, timeout time.Duration, lgr logger.Logger) *Multicast {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if lgr == nil {
		lgr = logger.NopLogger{}
	}
	return &Multicast{Addr: addr, Timeout: timeout, lgr: lgr.Named("bootstrap.multicast")}
}

// Discover broadcasts a request on the multicast group and collects
// distinct responder addresses until ctx or the discovery timeout expires.
// An empty result (no error) means nobody answered, consistent with the
// other Discoverer implementations' "silence is not failure" contract.
func (m *Multicast) Discover(ctx context.Context) ([]string, error) {
	gaddr, err := net.ResolveUDPAddr("udp4", m.Addr)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve multicast group: %v", domain.ErrJoinFailed, err)
	}

	// One socket both sends the request and reads the replies: answerLoop
	// replies to the request's source address, which is this socket.
	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: open discovery socket: %v", domain.ErrJoinFailed, err)
	}
	defer conn.Close()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(multicastRequest{RequesterID: m.selfAddr}); err != nil {
		return nil, fmt.Errorf("encode discovery request: %w", err)
	}
	if _, err := conn.WriteToUDP(buf.Bytes(), gaddr); err != nil {
		return nil, fmt.Errorf("send discovery request: %w", err)
	}

	deadline := time.Now().Add(m.Timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetReadDeadline(deadline)

	seen := map[string]struct{}{}
	var out []string
	read := make([]byte, 2048)
	for {
		n, _, err := conn.ReadFromUDP(read)
		if err != nil {
			break // deadline exceeded or socket closed: discovery window is over
		}
		var resp multicastResponse
		if err := gob.NewDecoder(bytes.NewReader(read[:n])).Decode(&resp); err != nil {
			continue
		}
		if resp.Addr == "" || resp.Addr == m.selfAddr {
			continue
		}
		if _, dup := seen[resp.Addr]; dup {
			continue
		}
		seen[resp.Addr] = struct{}{}
		out = append(out, resp.Addr)
	}
	m.lgr.Debug("multicast discovery complete", logger.F("found", len(out)))
	return out, nil
}

// Register starts a background listener that answers discovery requests
// with self's dispatch address, until Deregister is called or ctx ends.
func (m *Multicast) Register(ctx context.Context, self domain.NodeInfo) error {
	m.selfAddr = self.Physical.String()

	gaddr, err := net.ResolveUDPAddr("udp4", m.Addr)
	if err != nil {
		return fmt.Errorf("%w: resolve multicast group: %v", domain.ErrJoinFailed, err)
	}
	conn, err := net.ListenMulticastUDP("udp4", nil, gaddr)
	if err != nil {
		return fmt.Errorf("%w: join multicast group: %v", domain.ErrJoinFailed, err)
	}

	m.stopCh = make(chan struct{})
	go m.answerLoop(conn, m.stopCh)

	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-m.stopCh:
			conn.Close()
		}
	}()
	return nil
}

func (m *Multicast) answerLoop(conn *net.UDPConn, stop chan struct{}) {
	buf := make([]byte, 2048)
	for {
		n, raddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			return // socket closed by Deregister or context cancellation
		}
		var req multicastRequest
		if err := gob.NewDecoder(bytes.NewReader(buf[:n])).Decode(&req); err != nil {
			continue
		}
		var out bytes.Buffer
		if err := gob.NewEncoder(&out).Encode(multicastResponse{Addr: m.selfAddr}); err != nil {
			continue
		}
		if _, err := conn.WriteToUDP(out.Bytes(), raddr); err != nil {
			m.lgr.Warn("multicast reply send failed", logger.F("err", err.Error()))
		}
	}
}

// Deregister stops the background answer listener.
func (m *Multicast) Deregister(ctx context.Context, self domain.NodeInfo) error {
	if m.stopCh != nil {
		close(m.stopCh)
		m.stopCh = nil
	}
	return nil
}

var _ Bootstrap = (*Multicast)(nil)
