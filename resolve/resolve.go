// Package resolve looks up SIP server addresses. It intentionally supports
// only the single-A-record case: no SRV/NAPTR chains, no IPv6.
package resolve

import (
	"context"
	"net"
	"time"

	"braces.dev/errtrace"
	"github.com/miekg/dns"
)

// Resolver performs the registrar's IPv4 address lookup the UA needs
// before it can register; the other lookup, the local IP that would be
// used to route to it, is the package function LocalIPFor.
type Resolver struct {
	// NameServer, if set, is queried directly (host:port) instead of the
	// system resolver configuration.
	NameServer string
	// Timeout bounds a single DNS query. Defaults to 5s.
	Timeout time.Duration
}

// LookupA resolves host to its first IPv4 A record. If host is already a
// dotted-quad IPv4 address, it is returned unchanged without a query.
func (r *Resolver) LookupA(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			return ip4, nil
		}
		return nil, errtrace.Wrap(&net.DNSError{Err: "not an IPv4 address", Name: host})
	}

	server, err := r.nameServer()
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), dns.TypeA)
	msg.RecursionDesired = true

	client := &dns.Client{Timeout: r.timeout()}
	ctx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	reply, _, err := client.ExchangeContext(ctx, msg, server)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	for _, rr := range reply.Answer {
		if a, ok := rr.(*dns.A); ok {
			return a.A.To4(), nil
		}
	}
	return nil, errtrace.Wrap(&net.DNSError{Err: "no A record found", Name: host})
}

func (r *Resolver) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return 5 * time.Second
}

func (r *Resolver) nameServer() (string, error) {
	if r.NameServer != "" {
		return r.NameServer, nil
	}
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(cfg.Servers) == 0 {
		return "", errtrace.Wrap(&net.DNSError{Err: "no DNS servers configured", IsNotFound: true})
	}
	return net.JoinHostPort(cfg.Servers[0], cfg.Port), nil
}

// LocalIPFor returns the local IPv4 address the kernel would use to reach
// remoteAddr (host:port), without sending any packets. This is the
// well-known Go UDP-dial trick: dialing a UDP socket only performs route
// resolution, no handshake or transmission occurs.
func LocalIPFor(remoteAddr string) (net.IP, error) {
	conn, err := net.Dial("udp4", remoteAddr)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	defer conn.Close()

	local := conn.LocalAddr().(*net.UDPAddr)
	return local.IP, nil
}
