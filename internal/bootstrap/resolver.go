package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/miekg/dns"

	"dhtnode/internal/config"
	"dhtnode/internal/logger"
)

const defaultDNSServer = "8.8.8.8:53"

// ResolveBootstrap resolves bootstrap peer-RPC addresses according to
// cfg.Bootstrap.Mode:
//
//   - "static": returns cfg.Bootstrap.Peers verbatim, each already a
//     "host:port" peer-RPC address. When Peers is empty it returns the
//     single address cfg.BootstrapPeerAddr() derives from
//     cfg.DHT.OverlayHostname, or nothing when that is blank too.
//   - "dns": resolves cfg.DHT.OverlayHostname's A records (falling back to
//     AAAA) and pairs each resolved address with
//     cfg.Bootstrap.Port+PeerPortOffset, so a single DNS name fronting
//     several ring members (e.g. a headless Kubernetes service) yields one
//     candidate per member.
//
// DNS resolution failures or empty results return an empty, non-error
// slice: no bootstrap peers found just means "start a new ring".
func ResolveBootstrap(cfg *config.Config, lgr logger.Logger) ([]string, error) {
	switch cfg.Bootstrap.Mode {
	case "static":
		if len(cfg.Bootstrap.Peers) == 0 {
			if addr := cfg.BootstrapPeerAddr(); addr != "" {
				return []string{addr}, nil
			}
		}
		return cfg.Bootstrap.Peers, nil

	case "dns":
		port := cfg.Bootstrap.Port + config.PeerPortOffset
		name := dns.Fqdn(cfg.DHT.OverlayHostname)
		client := &dns.Client{Timeout: 2 * time.Second}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		out := queryAddrs(ctx, client, name, dns.TypeA, port, lgr)
		if len(out) == 0 {
			out = queryAddrs(ctx, client, name, dns.TypeAAAA, port, lgr)
		}
		if len(out) == 0 {
			lgr.Warn("bootstrap DNS lookup returned no addresses", logger.F("qname", name))
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unsupported bootstrap mode: %s", cfg.Bootstrap.Mode)
	}
}

func queryAddrs(ctx context.Context, client *dns.Client, name string, qtype uint16, port int, lgr logger.Logger) []string {
	msg := new(dns.Msg)
	msg.SetQuestion(name, qtype)

	in, _, err := client.ExchangeContext(ctx, msg, defaultDNSServer)
	if err != nil {
		lgr.Warn("bootstrap DNS query failed", logger.F("err", err), logger.F("qname", name))
		return nil
	}

	var out []string
	for _, ans := range in.Answer {
		switch rr := ans.(type) {
		case *dns.A:
			out = append(out, fmt.Sprintf("%s:%d", rr.A.String(), port))
		case *dns.AAAA:
			out = append(out, fmt.Sprintf("[%s]:%d", rr.AAAA.String(), port))
		}
	}
	return out
}
