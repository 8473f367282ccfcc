package bootstrap

import "context"

// Static implements §6.3's join_info KNOWN_ENDPOINT mode: a fixed,
// operator-supplied list of "host:port" contacts.
type Static struct {
	NopRegistrar
	peers []string
}

// NewStatic builds a Discoverer over a fixed peer list.
func NewStatic(peers []string) *Static {
	return &Static{peers: peers}
}

func (s *Static) Discover(ctx context.Context) ([]string, error) {
	return s.peers, nil
}

var _ Bootstrap = (*Static)(nil)
