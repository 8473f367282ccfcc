// Package bootstrap resolves the initial set of contact addresses a peer
// can attempt to Join through (component A5, spec §4.4.1 mode (b) and
// §6.3's join_info DISCOVERY slot), and optionally publishes this peer's
// own address somewhere other peers' discovery can find it. Mirrors the
// teacher's internal/bootstrap package: one small interface, one
// implementation per discovery mode.
package bootstrap

import (
	"context"

	"overlay/internal/domain"
)

// Discoverer finds candidate contact addresses for an unconnected peer to
// Join through.
type Discoverer interface {
	// Discover returns known peer addresses ("host:port"), or an empty
	// slice (not an error) if none are currently known.
	Discover(ctx context.Context) ([]string, error)
}

// Registrar publishes (and later retracts) this peer's own address so
// other peers' Discover calls can find it. Implementations that need no
// publication step (static lists, plain DNS lookups) are also valid
// Registrars via NopRegistrar.
type Registrar interface {
	Register(ctx context.Context, self domain.NodeInfo) error
	Deregister(ctx context.Context, self domain.NodeInfo) error
}

// Bootstrap bundles discovery and registration, the full contract a peer's
// startup sequence needs (spec §6.3's join_info + the external Route53
// registration collaborator).
type Bootstrap interface {
	Discoverer
	Registrar
}

// NopRegistrar is a Registrar that does nothing, for discovery modes with
// no publication step of their own (static peer list, bare DNS lookup).
type NopRegistrar struct{}

func (NopRegistrar) Register(context.Context, domain.NodeInfo) error   { return nil }
func (NopRegistrar) Deregister(context.Context, domain.NodeInfo) error { return nil }
