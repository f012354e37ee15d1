package issuance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// PropagationChecker waits until a TXT record with the expected value is
// answerable, so the CA's own lookup doesn't race the DNS provider's
// propagation.
type PropagationChecker interface {
	Wait(ctx context.Context, fqdn, value string) error
}

// Resolver polls a single DNS resolver for the challenge record.
type Resolver struct {
	addr     string
	interval time.Duration
	timeout  time.Duration
	client   *dns.Client
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithResolverInterval overrides the query interval (default 5s).
func WithResolverInterval(interval time.Duration) ResolverOption {
	return func(r *Resolver) {
		if interval > 0 {
			r.interval = interval
		}
	}
}

// WithResolverTimeout overrides the total wait budget (default 2m).
func WithResolverTimeout(timeout time.Duration) ResolverOption {
	return func(r *Resolver) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// NewResolver creates a checker querying the resolver at addr (host:port).
func NewResolver(addr string, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		addr:     addr,
		interval: 5 * time.Second,
		timeout:  2 * time.Minute,
		client:   &dns.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Wait blocks until the TXT record at fqdn answers with value or the wait
// budget elapses.
func (r *Resolver) Wait(ctx context.Context, fqdn, value string) error {
	return pollUntil(ctx, r.interval, r.timeout, func(ctx context.Context) (bool, error) {
		found, err := r.lookup(ctx, fqdn, value)
		if err != nil {
			// Resolution errors are expected while the record propagates.
			return false, nil
		}
		return found, nil
	})
}

func (r *Resolver) lookup(ctx context.Context, fqdn, value string) (bool, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(fqdn), dns.TypeTXT)

	in, _, err := r.client.ExchangeContext(ctx, msg, r.addr)
	if err != nil {
		return false, fmt.Errorf("query %s: %w", fqdn, err)
	}

	for _, rr := range in.Answer {
		txt, ok := rr.(*dns.TXT)
		if !ok {
			continue
		}
		if strings.Join(txt.Txt, "") == value {
			return true, nil
		}
	}

	return false, nil
}
