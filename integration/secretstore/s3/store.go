// Package s3 implements the secret store over an S3 bucket. Certificates are
// stored as password-protected PFX objects named after the domain's subdomain
// label; the certificate expiry travels as object metadata so freshness
// checks need a single HeadObject call instead of downloading and decrypting
// the bundle.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	s3aws "github.com/aws/aws-sdk-go-v2/service/s3"
	pkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/dmitrymomot/certrobot/core/renewal"
)

// notAfterMetadataKey carries the certificate expiry on the stored object.
// S3 exposes it to clients as x-amz-meta-not-after.
const notAfterMetadataKey = "not-after"

// S3Client defines the S3 operations the store uses. Narrow by design so
// tests can mock it.
type S3Client interface {
	HeadObject(ctx context.Context, params *s3aws.HeadObjectInput, optFns ...func(*s3aws.Options)) (*s3aws.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3aws.PutObjectInput, optFns ...func(*s3aws.Options)) (*s3aws.PutObjectOutput, error)
}

// Store holds issued certificates in one bucket under an optional key
// prefix.
type Store struct {
	client S3Client
	bucket string
	prefix string
}

// Config contains the store configuration.
type Config struct {
	Bucket         string
	Region         string
	Prefix         string
	AccessKeyID    string
	SecretKey      string
	Endpoint       string // For S3-compatible services like MinIO
	ForcePathStyle bool   // Required for MinIO and some S3-compatible services
}

// Option configures a Store.
type Option func(*storeOptions)

type storeOptions struct {
	s3Client S3Client
}

// WithS3Client sets a custom pre-configured S3 client. Primarily used for
// testing with mocks.
func WithS3Client(client S3Client) Option {
	return func(o *storeOptions) {
		o.s3Client = client
	}
}

// New creates an S3-backed secret store.
func New(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	options := &storeOptions{}
	for _, opt := range opts {
		opt(options)
	}

	client := options.s3Client
	if client == nil {
		if cfg.Region == "" {
			return nil, fmt.Errorf("region is required")
		}

		awsOptions := []func(*config.LoadOptions) error{
			config.WithRegion(cfg.Region),
		}
		// Static credentials if provided, SDK default chain otherwise.
		if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
			awsOptions = append(awsOptions,
				config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
					cfg.AccessKeyID,
					cfg.SecretKey,
					"",
				)),
			)
		}

		awsConfig, err := config.LoadDefaultConfig(ctx, awsOptions...)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}

		client = s3aws.NewFromConfig(awsConfig, func(o *s3aws.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			o.UsePathStyle = cfg.ForcePathStyle
		})
	}

	return &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Certificate looks up the stored certificate by name and returns its
// expiry. Returns renewal.ErrCertificateNotFound when no object exists.
func (s *Store) Certificate(ctx context.Context, name string) (*renewal.Certificate, error) {
	out, err := s.client.HeadObject(ctx, &s3aws.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		return nil, classifyError(err, "head certificate")
	}

	raw, ok := out.Metadata[notAfterMetadataKey]
	if !ok {
		return nil, fmt.Errorf("certificate %s has no %s metadata", name, notAfterMetadataKey)
	}
	notAfter, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s metadata of certificate %s: %w", notAfterMetadataKey, name, err)
	}

	return &renewal.Certificate{Name: name, NotAfter: notAfter}, nil
}

// Import stores a PFX bundle under the given name. The bundle is opened with
// the password first, so a corrupt artifact or a wrong password is rejected
// before it replaces a working certificate.
func (s *Store) Import(ctx context.Context, name string, pfx []byte, password string, notAfter time.Time) error {
	if _, _, err := pkcs12.Decode(pfx, password); err != nil {
		return fmt.Errorf("verify pfx bundle for %s: %w", name, err)
	}

	_, err := s.client.PutObject(ctx, &s3aws.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(name)),
		Body:        bytes.NewReader(pfx),
		ContentType: aws.String("application/x-pkcs12"),
		Metadata: map[string]string{
			notAfterMetadataKey: notAfter.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return classifyError(err, "import certificate")
	}

	return nil
}

func (s *Store) key(name string) string {
	if s.prefix == "" {
		return name + ".pfx"
	}
	return s.prefix + "/" + name + ".pfx"
}
