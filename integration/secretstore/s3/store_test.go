package s3_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	s3aws "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	pkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/dmitrymomot/certrobot/core/renewal"
	s3store "github.com/dmitrymomot/certrobot/integration/secretstore/s3"
)

type mockS3Client struct {
	headFn func(ctx context.Context, params *s3aws.HeadObjectInput) (*s3aws.HeadObjectOutput, error)
	putFn  func(ctx context.Context, params *s3aws.PutObjectInput) (*s3aws.PutObjectOutput, error)
}

func (m *mockS3Client) HeadObject(ctx context.Context, params *s3aws.HeadObjectInput, _ ...func(*s3aws.Options)) (*s3aws.HeadObjectOutput, error) {
	return m.headFn(ctx, params)
}

func (m *mockS3Client) PutObject(ctx context.Context, params *s3aws.PutObjectInput, _ ...func(*s3aws.Options)) (*s3aws.PutObjectOutput, error) {
	return m.putFn(ctx, params)
}

func newStore(t *testing.T, client *mockS3Client, prefix string) *s3store.Store {
	t.Helper()
	store, err := s3store.New(context.Background(), s3store.Config{
		Bucket: "certs-bucket",
		Prefix: prefix,
	}, s3store.WithS3Client(client))
	require.NoError(t, err)
	return store
}

func testPFX(t *testing.T, password string, notAfter time.Time) []byte {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "www.example.com"},
		NotBefore:    notAfter.Add(-90 * 24 * time.Hour),
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	pfx, err := pkcs12.Modern.Encode(key, cert, nil, password)
	require.NoError(t, err)
	return pfx
}

func TestCertificateReturnsExpiry(t *testing.T) {
	t.Parallel()

	notAfter := time.Date(2026, 11, 24, 12, 0, 0, 0, time.UTC)
	var gotKey string
	client := &mockS3Client{
		headFn: func(_ context.Context, params *s3aws.HeadObjectInput) (*s3aws.HeadObjectOutput, error) {
			gotKey = aws.ToString(params.Key)
			assert.Equal(t, "certs-bucket", aws.ToString(params.Bucket))
			return &s3aws.HeadObjectOutput{
				Metadata: map[string]string{"not-after": notAfter.Format(time.RFC3339)},
			}, nil
		},
	}

	store := newStore(t, client, "production")

	cert, err := store.Certificate(context.Background(), "www")
	require.NoError(t, err)
	assert.Equal(t, "www", cert.Name)
	assert.True(t, cert.NotAfter.Equal(notAfter))
	assert.Equal(t, "production/www.pfx", gotKey)
}

func TestCertificateNotFound(t *testing.T) {
	t.Parallel()

	client := &mockS3Client{
		headFn: func(_ context.Context, _ *s3aws.HeadObjectInput) (*s3aws.HeadObjectOutput, error) {
			return nil, &types.NotFound{}
		},
	}

	store := newStore(t, client, "")

	_, err := store.Certificate(context.Background(), "www")
	require.ErrorIs(t, err, renewal.ErrCertificateNotFound)
}

func TestCertificateMissingExpiryMetadata(t *testing.T) {
	t.Parallel()

	client := &mockS3Client{
		headFn: func(_ context.Context, _ *s3aws.HeadObjectInput) (*s3aws.HeadObjectOutput, error) {
			return &s3aws.HeadObjectOutput{Metadata: map[string]string{}}, nil
		},
	}

	store := newStore(t, client, "")

	_, err := store.Certificate(context.Background(), "www")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not-after")
}

func TestImportStoresBundleWithMetadata(t *testing.T) {
	t.Parallel()

	notAfter := time.Date(2026, 11, 24, 12, 0, 0, 0, time.UTC)
	pfx := testPFX(t, "example.com", notAfter)

	var put *s3aws.PutObjectInput
	var body []byte
	client := &mockS3Client{
		putFn: func(_ context.Context, params *s3aws.PutObjectInput) (*s3aws.PutObjectOutput, error) {
			put = params
			var err error
			body, err = io.ReadAll(params.Body)
			require.NoError(t, err)
			return &s3aws.PutObjectOutput{}, nil
		},
	}

	store := newStore(t, client, "")

	err := store.Import(context.Background(), "www", pfx, "example.com", notAfter)
	require.NoError(t, err)

	require.NotNil(t, put)
	assert.Equal(t, "certs-bucket", aws.ToString(put.Bucket))
	assert.Equal(t, "www.pfx", aws.ToString(put.Key))
	assert.Equal(t, "application/x-pkcs12", aws.ToString(put.ContentType))
	assert.Equal(t, notAfter.Format(time.RFC3339), put.Metadata["not-after"])
	assert.Equal(t, pfx, body)
}

func TestImportRejectsWrongPassword(t *testing.T) {
	t.Parallel()

	pfx := testPFX(t, "example.com", time.Now().Add(90*24*time.Hour))

	client := &mockS3Client{
		putFn: func(_ context.Context, _ *s3aws.PutObjectInput) (*s3aws.PutObjectOutput, error) {
			t.Fatal("bundle must not be uploaded when verification fails")
			return nil, nil
		},
	}

	store := newStore(t, client, "")

	err := store.Import(context.Background(), "www", pfx, "wrong-password", time.Now())
	require.Error(t, err)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := s3store.New(context.Background(), s3store.Config{})
	require.Error(t, err)

	_, err = s3store.New(context.Background(), s3store.Config{Bucket: "b"})
	require.Error(t, err, "region is required without an injected client")
}
