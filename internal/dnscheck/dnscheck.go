// Package dnscheck answers whether a lookup target resolves in DNS at all.
// Harvests spend provider API quota per page, so a quick resolution check
// up front catches typos before they cost anything.
package dnscheck

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/miekg/dns"

	"github.com/revharvest/revharvest/internal/apperr"
	"github.com/revharvest/revharvest/internal/output"
	"github.com/revharvest/revharvest/internal/validate"
)

const (
	resolvConfPath = "/etc/resolv.conf"
	fallbackServer = "8.8.8.8:53"
	queryTimeout   = 5 * time.Second
)

// Result describes how a host resolved.
type Result struct {
	Host      string        `json:"host"`
	Exists    bool          `json:"exists"`
	Addresses []string      `json:"addresses,omitempty"`
	Rcode     string        `json:"rcode"`
	Latency   time.Duration `json:"latency"`
}

// Checker resolves A and AAAA records through the system's resolvers.
type Checker struct {
	client  *dns.Client
	servers []string
	logger  *slog.Logger
}

// New creates a Checker. Without explicit servers it uses the resolvers from
// /etc/resolv.conf, falling back to a public one when none can be read.
func New(logger *slog.Logger, servers ...string) *Checker {
	if len(servers) == 0 {
		servers = systemServers()
	}
	return &Checker{
		client:  &dns.Client{Timeout: queryTimeout},
		servers: servers,
		logger:  logger,
	}
}

func systemServers() []string {
	cfg, err := dns.ClientConfigFromFile(resolvConfPath)
	if err != nil || len(cfg.Servers) == 0 {
		return []string{fallbackServer}
	}
	servers := make([]string, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		servers = append(servers, net.JoinHostPort(s, cfg.Port))
	}
	return servers
}

// Check queries A and AAAA records for host. A clean NXDOMAIN is not an
// error: Exists is false and Rcode says why. An error means no resolver
// answered at all.
func (c *Checker) Check(ctx context.Context, host string) (*Result, error) {
	name := validate.NormalizeDomain(output.StripANSI(host))
	if !validate.IsDomain(name) {
		return nil, fmt.Errorf("%w: must be a valid host name: %q", apperr.ErrInvalidInput, host)
	}

	start := time.Now()
	res := &Result{Host: name}
	answered := false

	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(name), qtype)
		msg.RecursionDesired = true

		reply, err := c.exchange(ctx, msg)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		answered = true
		if res.Rcode == "" {
			res.Rcode = dns.RcodeToString[reply.Rcode]
		}
		for _, ans := range reply.Answer {
			switch rr := ans.(type) {
			case *dns.A:
				res.Addresses = append(res.Addresses, rr.A.String())
			case *dns.AAAA:
				res.Addresses = append(res.Addresses, rr.AAAA.String())
			}
		}
		// A name that does not exist will not exist for AAAA either.
		if reply.Rcode == dns.RcodeNameError {
			break
		}
	}

	if !answered {
		return nil, fmt.Errorf("%w: no resolver answered for %q", apperr.ErrTransient, name)
	}
	res.Exists = len(res.Addresses) > 0
	res.Latency = time.Since(start)
	return res, nil
}

// exchange tries each configured server in order and returns the first reply.
func (c *Checker) exchange(ctx context.Context, msg *dns.Msg) (*dns.Msg, error) {
	var lastErr error
	for _, server := range c.servers {
		reply, _, err := c.client.ExchangeContext(ctx, msg, server)
		if err != nil {
			c.logger.Debug("dns exchange failed", "server", server, "error", err)
			lastErr = err
			continue
		}
		return reply, nil
	}
	return nil, fmt.Errorf("querying resolvers: %w", lastErr)
}
