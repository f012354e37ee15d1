package issuance

import (
	"context"
	"crypto"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrymomot/certrobot/core/acme"
)

// ACMEClient is the subset of the ACME client the orchestrator drives. The
// client performs no retries and no polling; both are owned here.
type ACMEClient interface {
	NewOrder(ctx context.Context, domain string) (*acme.Order, error)
	Authorization(ctx context.Context, o *acme.Order) (*acme.Authorization, error)
	DNS01Challenge(a *acme.Authorization) (*acme.Challenge, error)
	DNS01RecordValue(ch *acme.Challenge) (string, error)
	AcceptChallenge(ctx context.Context, ch *acme.Challenge) error
	RefreshOrder(ctx context.Context, o *acme.Order) (*acme.Order, error)
	Finalize(ctx context.Context, o *acme.Order) (crypto.Signer, error)
	DownloadCertificate(ctx context.Context, o *acme.Order) ([]*x509.Certificate, error)
}

// RecordPublisher manages the challenge TXT record at the DNS provider.
// Creation replaces an existing record of the same name, so a stale record
// from a previous failed run never blocks a new one.
type RecordPublisher interface {
	CreateTXTRecord(ctx context.Context, zone, name, value string, ttl int) error
	DeleteTXTRecord(ctx context.Context, zone, name string) error
}

// CertificateImporter hands the issued certificate to the secret store, which
// is the authoritative copy. The exported artifact is transient.
type CertificateImporter interface {
	Import(ctx context.Context, name string, pfx []byte, password string, notAfter time.Time) error
}

// recordLease tracks a TXT record that actually exists at the provider.
// A nil lease means nothing was created and nothing needs removing.
type recordLease struct {
	zone string
	name string
}

// Orchestrator runs the issuance state machine for one domain at a time.
type Orchestrator struct {
	acme  ACMEClient
	dns   RecordPublisher
	store CertificateImporter

	logger    *slog.Logger
	precheck  PropagationChecker
	exportDir string
	recordTTL int

	validationInterval  time.Duration
	validationDeadline  time.Duration
	certificateInterval time.Duration
	certificateDeadline time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger attaches a logger; by default the orchestrator is silent.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithPropagationChecker enables a DNS propagation wait between publishing
// the TXT record and signaling the CA. A propagation timeout is logged as a
// warning, not treated as a failure: the CA performs its own lookup.
func WithPropagationChecker(checker PropagationChecker) Option {
	return func(o *Orchestrator) {
		o.precheck = checker
	}
}

// WithExportDir overrides the directory for the transient PFX artifact
// (default: <tmp>/acme).
func WithExportDir(dir string) Option {
	return func(o *Orchestrator) {
		if dir != "" {
			o.exportDir = dir
		}
	}
}

// WithRecordTTL overrides the challenge record TTL in seconds (default 60).
func WithRecordTTL(ttl int) Option {
	return func(o *Orchestrator) {
		if ttl > 0 {
			o.recordTTL = ttl
		}
	}
}

// WithValidationPolling overrides interval and deadline of the validation
// polling phase. Primarily useful for tests.
func WithValidationPolling(interval, deadline time.Duration) Option {
	return func(o *Orchestrator) {
		if interval > 0 {
			o.validationInterval = interval
		}
		if deadline > 0 {
			o.validationDeadline = deadline
		}
	}
}

// WithCertificatePolling overrides interval and deadline of the
// certificate-URL polling phase. Primarily useful for tests.
func WithCertificatePolling(interval, deadline time.Duration) Option {
	return func(o *Orchestrator) {
		if interval > 0 {
			o.certificateInterval = interval
		}
		if deadline > 0 {
			o.certificateDeadline = deadline
		}
	}
}

// New creates an orchestrator over the given collaborators.
func New(client ACMEClient, dns RecordPublisher, store CertificateImporter, opts ...Option) (*Orchestrator, error) {
	if client == nil {
		return nil, fmt.Errorf("acme client is required")
	}
	if dns == nil {
		return nil, fmt.Errorf("record publisher is required")
	}
	if store == nil {
		return nil, fmt.Errorf("certificate importer is required")
	}

	o := &Orchestrator{
		acme:                client,
		dns:                 dns,
		store:               store,
		logger:              slog.New(slog.NewTextHandler(io.Discard, nil)),
		exportDir:           filepath.Join(os.TempDir(), "acme"),
		recordTTL:           60,
		validationInterval:  5 * time.Second,
		validationDeadline:  10 * time.Minute,
		certificateInterval: 15 * time.Second,
		certificateDeadline: 15 * time.Minute,
	}
	for _, opt := range opts {
		opt(o)
	}

	return o, nil
}

// Run issues a certificate for the domain end to end. Whatever happens, the
// challenge TXT record is removed before Run returns, provided it was ever
// created.
func (o *Orchestrator) Run(ctx context.Context, d Domain) (err error) {
	logger := o.logger.With(slog.String("domain", d.FQDN()))
	logger.InfoContext(ctx, "starting certificate issuance")

	var lease *recordLease
	defer func() {
		if lease == nil {
			return
		}
		// Cleanup must survive a canceled run context.
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if cleanupErr := o.dns.DeleteTXTRecord(cleanupCtx, lease.zone, lease.name); cleanupErr != nil {
			logger.WarnContext(cleanupCtx, "failed to remove challenge record",
				slog.String("record", lease.name),
				slog.Any("error", cleanupErr))
		} else {
			logger.InfoContext(cleanupCtx, "challenge record removed", slog.String("record", lease.name))
		}
	}()

	order, err := o.acme.NewOrder(ctx, d.FQDN())
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	logger.DebugContext(ctx, "order created", slog.String("order_url", order.URL))

	authz, err := o.acme.Authorization(ctx, order)
	if err != nil {
		return fmt.Errorf("fetch authorization: %w", err)
	}

	ch, err := o.acme.DNS01Challenge(authz)
	if err != nil {
		return fmt.Errorf("select challenge: %w", err)
	}

	value, err := o.acme.DNS01RecordValue(ch)
	if err != nil {
		return fmt.Errorf("compute challenge record value: %w", err)
	}

	recordName := challengeRecordName(d)
	if err := o.dns.CreateTXTRecord(ctx, d.Zone, recordName, value, o.recordTTL); err != nil {
		return fmt.Errorf("publish challenge record: %w", err)
	}
	lease = &recordLease{zone: d.Zone, name: recordName}
	logger.InfoContext(ctx, "challenge record published", slog.String("record", recordName))

	if o.precheck != nil {
		if err := o.precheck.Wait(ctx, challengeRecordFQDN(d), value); err != nil {
			logger.WarnContext(ctx, "challenge record not yet visible, proceeding anyway",
				slog.Any("error", err))
		}
	}

	if err := o.acme.AcceptChallenge(ctx, ch); err != nil {
		return fmt.Errorf("signal challenge ready: %w", err)
	}

	err = pollUntil(ctx, o.validationInterval, o.validationDeadline, func(ctx context.Context) (bool, error) {
		current, err := o.acme.RefreshOrder(ctx, order)
		if err != nil {
			return false, fmt.Errorf("refresh order: %w", err)
		}
		switch current.Status {
		case acme.StatusInvalid:
			return false, ErrOrderInvalid
		case acme.StatusReady, acme.StatusValid:
			order = current
			return true, nil
		default:
			return false, nil
		}
	})
	if err != nil {
		return fmt.Errorf("await validation: %w", err)
	}
	logger.InfoContext(ctx, "order validated", slog.String("status", order.Status))

	certKey, err := o.acme.Finalize(ctx, order)
	if err != nil {
		return fmt.Errorf("finalize order: %w", err)
	}

	err = pollUntil(ctx, o.certificateInterval, o.certificateDeadline, func(ctx context.Context) (bool, error) {
		current, err := o.acme.RefreshOrder(ctx, order)
		if err != nil {
			return false, fmt.Errorf("refresh order: %w", err)
		}
		if current.Status == acme.StatusInvalid {
			return false, ErrOrderInvalid
		}
		if current.Certificate != "" {
			order = current
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return fmt.Errorf("await certificate: %w", err)
	}

	chain, err := o.acme.DownloadCertificate(ctx, order)
	if err != nil {
		return fmt.Errorf("download certificate: %w", err)
	}

	// The export password protects the artifact only while it sits on local
	// disk; it is deterministic so the importing side can re-open the bundle.
	pfx, err := encodePFX(certKey, chain, d.Zone)
	if err != nil {
		return fmt.Errorf("export certificate: %w", err)
	}

	exportPath, err := o.writeArtifact(d, pfx)
	if err != nil {
		return err
	}
	defer func() {
		if removeErr := os.Remove(exportPath); removeErr != nil && !os.IsNotExist(removeErr) {
			logger.DebugContext(ctx, "failed to remove exported artifact",
				slog.String("path", exportPath),
				slog.Any("error", removeErr))
		}
	}()
	logger.InfoContext(ctx, "certificate exported",
		slog.String("path", exportPath),
		slog.Time("not_after", chain[0].NotAfter))

	if err := o.store.Import(ctx, d.Subdomain, pfx, d.Zone, chain[0].NotAfter); err != nil {
		return fmt.Errorf("import certificate: %w", err)
	}
	logger.InfoContext(ctx, "certificate imported", slog.String("name", d.Subdomain))

	return nil
}

// writeArtifact stores the PFX bundle under <exportDir>/<subdomain>.pfx. The
// file is transient and removed after import; mode 0600 since it carries the
// private key.
func (o *Orchestrator) writeArtifact(d Domain, pfx []byte) (string, error) {
	if err := os.MkdirAll(o.exportDir, 0o700); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	path := filepath.Join(o.exportDir, d.Subdomain+".pfx")
	if err := os.WriteFile(path, pfx, 0o600); err != nil {
		return "", fmt.Errorf("write certificate artifact: %w", err)
	}

	return path, nil
}
