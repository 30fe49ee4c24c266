package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/apex/log"
	"github.com/miekg/dns"

	"geohint/internal/model"
)

// Resolver fills in missing IPv4 addresses on corpus domains.
type Resolver struct {
	client *dns.Client
	server string
	logger log.Interface
}

// NewResolver creates a Resolver querying the given DNS server
// ("host:port"). An empty server falls back to a public resolver.
func NewResolver(server string, logger log.Interface) *Resolver {
	if server == "" {
		server = "8.8.8.8:53"
	}
	if logger == nil {
		logger = log.Log
	}
	return &Resolver{
		client: &dns.Client{Timeout: 5 * time.Second},
		server: server,
		logger: logger,
	}
}

// LookupIPv4 resolves the first A record for name.
func (r *Resolver) LookupIPv4(ctx context.Context, name string) (string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeA)
	msg.RecursionDesired = true

	reply, _, err := r.client.ExchangeContext(ctx, msg, r.server)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", name, err)
	}
	if reply.Rcode != dns.RcodeSuccess {
		return "", fmt.Errorf("resolve %s: rcode %s", name, dns.RcodeToString[reply.Rcode])
	}
	for _, rr := range reply.Answer {
		if a, ok := rr.(*dns.A); ok {
			return a.A.String(), nil
		}
	}
	return "", fmt.Errorf("resolve %s: no A record", name)
}

// EnsureIPv4 resolves addresses for domains that arrived without one.
// Domains that fail to resolve keep an empty address and are classified
// unresponsive downstream.
func (r *Resolver) EnsureIPv4(ctx context.Context, domains []*model.Domain) {
	for _, d := range domains {
		if d.IPv4 != "" {
			continue
		}
		addr, err := r.LookupIPv4(ctx, d.Name)
		if err != nil {
			r.logger.WithError(err).WithField("domain", d.Name).Debug("resolution failed")
			continue
		}
		d.IPv4 = addr
	}
}
