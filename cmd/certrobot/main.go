// Command certrobot runs one unattended certificate renewal batch: it walks
// every A record of every Cloudflare zone, renews certificates that are
// missing or within the renewal window via ACME dns-01, and imports the
// results into an S3-backed secret store.
package main

import (
	"context"
	"crypto"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-retry"

	"github.com/dmitrymomot/certrobot/core/account"
	"github.com/dmitrymomot/certrobot/core/acme"
	"github.com/dmitrymomot/certrobot/core/issuance"
	"github.com/dmitrymomot/certrobot/core/logger"
	"github.com/dmitrymomot/certrobot/core/renewal"
	"github.com/dmitrymomot/certrobot/integration/dns/cloudflare"
	s3store "github.com/dmitrymomot/certrobot/integration/secretstore/s3"
)

type config struct {
	ACMEDirectoryURL string `env:"ACME_DIRECTORY_URL" envDefault:"https://acme-v02.api.letsencrypt.org/directory"`
	ACMEContactEmail string `env:"ACME_CONTACT_EMAIL,required"`
	ACMEAccountPath  string `env:"ACME_ACCOUNT_PATH"`

	CloudflareAPIToken string `env:"CLOUDFLARE_API_TOKEN,required"`

	CertBucket string `env:"CERT_BUCKET,required"`
	CertPrefix string `env:"CERT_PREFIX"`
	AWSRegion  string `env:"AWS_REGION" envDefault:"us-east-1"`

	// Unattended keeps the run alive through transient provider outages by
	// retrying credential validation instead of failing fast.
	Unattended bool `env:"UNATTENDED" envDefault:"false"`

	PrecheckResolver string `env:"DNS_PRECHECK_RESOLVER" envDefault:"1.1.1.1:53"`

	LogJSON bool `env:"LOG_JSON" envDefault:"false"`
}

func main() {
	// Missing .env is fine; the environment may be set by the scheduler.
	_ = godotenv.Load()

	cfg, err := env.ParseAs[config]()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}

	logOpts := []logger.Option{
		logger.WithAttrs(slog.String("app", "certrobot")),
	}
	if cfg.LogJSON {
		logOpts = append(logOpts, logger.WithJSON())
	}
	log := logger.New(logOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := run(ctx, cfg, log)
	if err != nil {
		log.ErrorContext(ctx, "renewal run failed", logger.Error(err))
		os.Exit(1)
	}
	if report.Failed() > 0 {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config, log *slog.Logger) (*renewal.Report, error) {
	provider, err := cloudflare.New(cfg.CloudflareAPIToken)
	if err != nil {
		return nil, fmt.Errorf("cloudflare provider: %w", err)
	}
	if err := validateCredentials(ctx, cfg, provider); err != nil {
		return nil, fmt.Errorf("validate cloudflare credentials: %w", err)
	}

	store, err := s3store.New(ctx, s3store.Config{
		Bucket: cfg.CertBucket,
		Prefix: cfg.CertPrefix,
		Region: cfg.AWSRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("secret store: %w", err)
	}

	client, err := acmeClient(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	issuanceOpts := []issuance.Option{
		issuance.WithLogger(log),
	}
	if cfg.PrecheckResolver != "" {
		issuanceOpts = append(issuanceOpts,
			issuance.WithPropagationChecker(issuance.NewResolver(cfg.PrecheckResolver)))
	}
	orchestrator, err := issuance.New(client, provider, store, issuanceOpts...)
	if err != nil {
		return nil, fmt.Errorf("issuance orchestrator: %w", err)
	}

	runner, err := renewal.NewRunner(provider, store, orchestrator, renewal.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("renewal runner: %w", err)
	}

	return runner.Run(ctx)
}

// acmeClient loads or bootstraps the ACME account and returns a client bound
// to it. Registration only happens on the first ever run.
func acmeClient(ctx context.Context, cfg config, log *slog.Logger) (*acme.Client, error) {
	path := cfg.ACMEAccountPath
	if path == "" {
		path = account.DefaultPath()
	}

	accounts := account.NewStore(path, account.WithLogger(log))
	state, err := accounts.Ensure(ctx, cfg.ACMEDirectoryURL, cfg.ACMEContactEmail,
		func(ctx context.Context, key crypto.Signer, email string) (string, error) {
			client, err := acme.New(cfg.ACMEDirectoryURL, key)
			if err != nil {
				return "", err
			}
			return client.Register(ctx, email)
		})
	if err != nil {
		return nil, fmt.Errorf("ensure acme account: %w", err)
	}

	client, err := acme.New(state.DirectoryURL, state.Key, acme.WithAccountURL(state.AccountURL))
	if err != nil {
		return nil, fmt.Errorf("acme client: %w", err)
	}
	return client, nil
}

// validateCredentials checks the API token up front so a revoked token fails
// the run before any ACME state is created. Unattended runs tolerate
// transient provider errors with a bounded constant backoff.
func validateCredentials(ctx context.Context, cfg config, provider *cloudflare.Provider) error {
	if !cfg.Unattended {
		return provider.ValidateCredentials(ctx)
	}

	backoff := retry.WithMaxRetries(10, retry.NewConstant(30*time.Second))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := provider.ValidateCredentials(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}
