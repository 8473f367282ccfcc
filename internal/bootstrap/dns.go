package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"

	"overlay/internal/logger"
)

// DNSConfig is the subset of config.DiscoveryConfig a DNS-based Discoverer
// needs, kept as its own small struct so NewDNS can be called without a
// full discovery configuration (factory.go fills it in from one).
type DNSConfig struct {
	Name     string // record name to resolve, or the SRV service name's domain
	SRV      bool   // SRV lookup (service/proto prefix already folded into Name) vs plain A/AAAA
	Port     int    // used as the peer port for plain A/AAAA lookups (SRV carries its own port)
	Resolver string // DNS server "host[:port]"; defaults to 8.8.8.8:53
	Timeout  time.Duration
}

// DNS resolves bootstrap peers via SRV or A/AAAA records, mirroring the
// teacher's ResolveBootstrap "dns" branch: lookup failures or empty
// results return an empty list rather than an error, since a transient DNS
// hiccup should not be fatal to startup (a later retry may succeed).
type DNS struct {
	NopRegistrar
	cfg DNSConfig
	lgr logger.Logger
}

// NewDNS builds a DNS Discoverer logging through lgr.
func NewDNS(cfg DNSConfig, lgr logger.Logger) *DNS {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if lgr == nil {
		lgr = logger.NopLogger{}
	}
	return &DNS{cfg: cfg, lgr: lgr.Named("bootstrap.dns")}
}

func (d *DNS) server() string {
	server := d.cfg.Resolver
	if server == "" {
		return "8.8.8.8:53"
	}
	if !strings.Contains(server, ":") {
		return server + ":53"
	}
	return server
}

func (d *DNS) Discover(ctx context.Context) ([]string, error) {
	client := &dns.Client{Timeout: d.cfg.Timeout}
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	if d.cfg.SRV {
		return d.lookupSRV(ctx, client)
	}
	return d.lookupHost(ctx, client)
}

func (d *DNS) lookupSRV(ctx context.Context, client *dns.Client) ([]string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(d.cfg.Name), dns.TypeSRV)

	in, _, err := client.ExchangeContext(ctx, msg, d.server())
	if err != nil {
		d.lgr.Warn("SRV lookup failed", logger.F("name", d.cfg.Name), logger.F("err", err.Error()))
		return nil, nil
	}

	extraIPs := map[string][]string{}
	for _, extra := range in.Extra {
		switch rr := extra.(type) {
		case *dns.A:
			extraIPs[trimDot(rr.Hdr.Name)] = append(extraIPs[trimDot(rr.Hdr.Name)], rr.A.String())
		case *dns.AAAA:
			extraIPs[trimDot(rr.Hdr.Name)] = append(extraIPs[trimDot(rr.Hdr.Name)], rr.AAAA.String())
		}
	}

	var out []string
	for _, ans := range in.Answer {
		srv, ok := ans.(*dns.SRV)
		if !ok {
			continue
		}
		target := trimDot(srv.Target)
		ips := extraIPs[target]
		if len(ips) == 0 {
			ips, _ = d.lookupA(ctx, client, target)
		}
		for _, ip := range ips {
			out = append(out, formatHostPort(ip, int(srv.Port)))
		}
	}
	if len(out) == 0 {
		d.lgr.Warn("SRV lookup returned no usable targets", logger.F("name", d.cfg.Name))
	}
	return out, nil
}

func (d *DNS) lookupHost(ctx context.Context, client *dns.Client) ([]string, error) {
	ips, err := d.lookupA(ctx, client, d.cfg.Name)
	if err != nil {
		return nil, nil
	}
	out := make([]string, 0, len(ips))
	for _, ip := range ips {
		out = append(out, formatHostPort(ip, d.cfg.Port))
	}
	if len(out) == 0 {
		d.lgr.Warn("A/AAAA lookup returned no answers", logger.F("name", d.cfg.Name))
	}
	return out, nil
}

// lookupA resolves name to a flat list of IPv4/IPv6 literal strings,
// trying A then falling back to AAAA.
func (d *DNS) lookupA(ctx context.Context, client *dns.Client, name string) ([]string, error) {
	var out []string
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeA)
	if in, _, err := client.ExchangeContext(ctx, msg, d.server()); err == nil {
		for _, ans := range in.Answer {
			if a, ok := ans.(*dns.A); ok {
				out = append(out, a.A.String())
			}
		}
	}
	if len(out) > 0 {
		return out, nil
	}
	msg6 := new(dns.Msg)
	msg6.SetQuestion(dns.Fqdn(name), dns.TypeAAAA)
	if in, _, err := client.ExchangeContext(ctx, msg6, d.server()); err == nil {
		for _, ans := range in.Answer {
			if a, ok := ans.(*dns.AAAA); ok {
				out = append(out, a.AAAA.String())
			}
		}
	}
	return out, nil
}

func trimDot(s string) string { return strings.TrimSuffix(s, ".") }

func formatHostPort(ip string, port int) string {
	if strings.Contains(ip, ":") {
		return fmt.Sprintf("[%s]:%d", ip, port)
	}
	return fmt.Sprintf("%s:%d", ip, port)
}

var _ Bootstrap = (*DNS)(nil)
