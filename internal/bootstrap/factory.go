package bootstrap

import (
	"context"
	"fmt"
	"time"

	"overlay/internal/config"
	"overlay/internal/logger"
)

// New builds the Bootstrap a peer's startup sequence uses to discover join
// candidates and, if configured, publish its own address, selecting the
// implementation named by cfg.DHT.Bootstrap.Discovery.Mode. Register is
// layered on top independently: a "static" or "dns" discovery mode can
// still be paired with Route53 registration when cfg.Register.Enabled,
// mirroring the teacher's separate discovery-vs-registration config knobs.
func New(ctx context.Context, cfg config.BootstrapConfig, lgr logger.Logger) (Bootstrap, error) {
	var discoverer Bootstrap
	switch cfg.Discovery.Mode {
	case "static", "":
		discoverer = NewStatic(cfg.Discovery.Peers)
	case "dns":
		discoverer = NewDNS(DNSConfig{
			Name: cfg.Discovery.DNSName,
			SRV:  cfg.Discovery.SRV,
			Port: cfg.Discovery.Port,
		}, lgr)
	case "multicast":
		discoverer = NewMulticast(cfg.Discovery.MulticastAddr, 2*time.Second, lgr)
	default:
		return nil, fmt.Errorf("unknown bootstrap discovery mode: %s", cfg.Discovery.Mode)
	}

	if !cfg.Register.Enabled {
		return discoverer, nil
	}
	if cfg.Discovery.Mode == "multicast" {
		// the Multicast discoverer already answers discovery requests with
		// its own address once Registered; a Route53 registrar on top of it
		// would publish to a namespace nothing queries.
		return discoverer, nil
	}

	registrar, err := NewRoute53(ctx, cfg.Register.HostedZoneID, cfg.Register.DomainSuffix, cfg.Register.TTL)
	if err != nil {
		return nil, fmt.Errorf("build route53 registrar: %w", err)
	}
	return &combined{Discoverer: discoverer, Registrar: registrar}, nil
}

// combined pairs an independently-chosen Discoverer with an independently-
// chosen Registrar into a single Bootstrap.
type combined struct {
	Discoverer
	Registrar
}

var _ Bootstrap = (*combined)(nil)
