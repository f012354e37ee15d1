package renewal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/certrobot/core/issuance"
)

// Zone is a DNS zone as enumerated at the provider.
type Zone struct {
	ID   string
	Name string
}

// Record is a DNS record within a zone. Name is the bare subdomain label.
type Record struct {
	ID    string
	Name  string
	Type  string
	Value string
	TTL   int
}

// DNSInventory enumerates the zones and records that define which domains
// this system manages certificates for.
type DNSInventory interface {
	ListZones(ctx context.Context) ([]Zone, error)
	ListRecords(ctx context.Context, zone Zone) ([]Record, error)
}

// Issuer runs one domain's issuance end to end.
type Issuer interface {
	Run(ctx context.Context, d issuance.Domain) error
}

// Runner iterates every A record of every zone, renewing certificates that
// are missing or about to expire. Domains are processed sequentially; one
// domain's failure never aborts the batch.
type Runner struct {
	inventory DNSInventory
	certs     CertificateSource
	issuer    Issuer
	logger    *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger attaches a logger; by default the runner is silent.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRunner creates a batch runner over the given collaborators.
func NewRunner(inventory DNSInventory, certs CertificateSource, issuer Issuer, opts ...RunnerOption) (*Runner, error) {
	if inventory == nil {
		return nil, fmt.Errorf("dns inventory is required")
	}
	if certs == nil {
		return nil, fmt.Errorf("certificate source is required")
	}
	if issuer == nil {
		return nil, fmt.Errorf("issuer is required")
	}

	r := &Runner{
		inventory: inventory,
		certs:     certs,
		issuer:    issuer,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// Run processes all eligible domains in provider enumeration order and
// returns the batch report. The returned error covers only failures to
// enumerate the inventory itself; per-domain failures live in the report.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		RunID:     uuid.New(),
		StartedAt: time.Now(),
	}
	logger := r.logger.With(slog.String("run_id", report.RunID.String()))
	logger.InfoContext(ctx, "starting renewal batch")

	zones, err := r.inventory.ListZones(ctx)
	if err != nil {
		return nil, fmt.Errorf("list zones: %w", err)
	}

	for _, zone := range zones {
		records, err := r.inventory.ListRecords(ctx, zone)
		if err != nil {
			// Without the record list every domain in the zone is
			// unreachable; record one failure for the zone and move on.
			logger.WarnContext(ctx, "failed to list zone records",
				slog.String("zone", zone.Name),
				slog.Any("error", err))
			report.Results = append(report.Results, DomainResult{
				Domain: zone.Name,
				Err:    fmt.Errorf("list records for zone %s: %w", zone.Name, err),
			})
			continue
		}

		for _, rec := range records {
			if rec.Type != "A" {
				continue
			}
			// Apex and wildcard records don't map onto a subdomain-named
			// certificate in the secret store.
			if rec.Name == "" || rec.Name == "@" || rec.Name == "*" {
				continue
			}

			domain := issuance.Domain{Subdomain: rec.Name, Zone: zone.Name, ZoneID: zone.ID}
			report.Results = append(report.Results, r.processDomain(ctx, logger, domain))

			if ctx.Err() != nil {
				report.FinishedAt = time.Now()
				return report, ctx.Err()
			}
		}
	}

	report.FinishedAt = time.Now()
	logger.InfoContext(ctx, "renewal batch finished",
		slog.Int("renewed", report.Renewed()),
		slog.Int("skipped", report.Skipped()),
		slog.Int("failed", report.Failed()))

	return report, nil
}

func (r *Runner) processDomain(ctx context.Context, logger *slog.Logger, d issuance.Domain) DomainResult {
	fqdn := d.FQDN()

	renew, err := ShouldRenew(ctx, r.certs, d.Subdomain)
	if err != nil {
		logger.WarnContext(ctx, "freshness check failed",
			slog.String("domain", fqdn),
			slog.Any("error", err))
		return DomainResult{Domain: fqdn, Err: fmt.Errorf("check certificate freshness: %w", err)}
	}
	if !renew {
		logger.InfoContext(ctx, "certificate still fresh, skipping", slog.String("domain", fqdn))
		return DomainResult{Domain: fqdn, Skipped: true}
	}

	if err := r.issuer.Run(ctx, d); err != nil {
		logger.WarnContext(ctx, "certificate issuance failed",
			slog.String("domain", fqdn),
			slog.Any("error", err))
		return DomainResult{Domain: fqdn, Err: err}
	}

	logger.InfoContext(ctx, "certificate renewed", slog.String("domain", fqdn))
	return DomainResult{Domain: fqdn}
}
