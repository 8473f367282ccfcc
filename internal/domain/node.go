package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// PhysicalAddr is the network address a peer listens on.
type PhysicalAddr struct {
	IP   string
	Port uint16
}

func (a PhysicalAddr) String() string {
	return fmt.Sprintf("%s:%d", a.IP, a.Port)
}

// NodeInfo identifies one overlay peer: its logical slot in the tree, its
// network address, and a UUID used to break routing ties deterministically
// (see Topology.Distance / search-exact tie-breaking).
type NodeInfo struct {
	Logical  Position
	Physical PhysicalAddr
	UUID     uuid.UUID
}

// NewNodeInfo builds a NodeInfo, generating a fresh random UUID.
func NewNodeInfo(pos Position, addr PhysicalAddr) NodeInfo {
	return NodeInfo{Logical: pos, Physical: addr, UUID: uuid.New()}
}

func (n NodeInfo) String() string {
	return fmt.Sprintf("%s@L%dN%d[%s]", n.Physical, n.Logical.Level, n.Logical.Number, n.UUID)
}

// Less breaks routing ties between two equally-distant candidates by raw
// UUID ordering, giving every peer the same deterministic choice.
func (n NodeInfo) Less(other NodeInfo) bool {
	return n.UUID.String() < other.UUID.String()
}
