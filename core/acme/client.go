package acme

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
)

const (
	replayNonceHeader = "Replay-Nonce"
	locationHeader    = "Location"
	joseContentType   = "application/jose+json"
	pemChainFormat    = "application/pem-certificate-chain"
)

// Client talks to a single ACME CA on behalf of a single account.
// It is safe for concurrent use, but note that all signed requests share one
// replay nonce slot, so concurrent callers serialize on the nonce exchange.
type Client struct {
	directoryURL string
	key          crypto.Signer
	hc           *http.Client

	mu         sync.Mutex
	nonce      string
	accountURL string
	directory  *Directory
}

// Option configures a Client during initialization.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client. Useful for tests and for
// callers that need custom timeouts or transports.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.hc = hc
	}
}

// WithAccountURL restores a previously registered account URL so the client
// can sign privileged requests without re-registering.
func WithAccountURL(url string) Option {
	return func(c *Client) {
		c.accountURL = url
	}
}

// New creates a client for the CA behind directoryURL, signing requests with
// the given account key. The key must be an ECDSA P-256 key; requests are
// signed with ES256.
func New(directoryURL string, key crypto.Signer, opts ...Option) (*Client, error) {
	if directoryURL == "" {
		return nil, fmt.Errorf("directory URL is required")
	}
	if key == nil {
		return nil, fmt.Errorf("account key is required")
	}

	c := &Client{
		directoryURL: directoryURL,
		key:          key,
		hc:           &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// AccountURL returns the account URL the client signs privileged requests
// with. Empty until Register is called or WithAccountURL is applied.
func (c *Client) AccountURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accountURL
}

// Directory fetches and caches the CA's directory resource.
func (c *Client) Directory(ctx context.Context) (*Directory, error) {
	c.mu.Lock()
	if c.directory != nil {
		d := c.directory
		c.mu.Unlock()
		return d, nil
	}
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.directoryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build directory request: %w", err)
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch directory: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		return nil, decodeProblem(res, "fetch directory")
	}

	var d Directory
	if err := json.NewDecoder(res.Body).Decode(&d); err != nil {
		return nil, fmt.Errorf("decode directory: %w", err)
	}

	c.mu.Lock()
	c.directory = &d
	c.mu.Unlock()

	return &d, nil
}

// Register creates a new account bound to the contact email, accepting the
// CA's terms of service, and returns the account URL. The client signs all
// subsequent requests with that URL as key ID.
func (c *Client) Register(ctx context.Context, email string) (string, error) {
	d, err := c.Directory(ctx)
	if err != nil {
		return "", err
	}

	body := accountRequest{
		TermsOfServiceAgreed: true,
	}
	if email != "" {
		body.Contact = []string{"mailto:" + email}
	}

	res, err := c.post(ctx, d.NewAccount, body, true)
	if err != nil {
		return "", err
	}
	defer func() { _ = res.Body.Close() }()

	// The CA answers 200 instead of 201 when the key is already registered;
	// both carry the account URL in the Location header.
	if res.StatusCode != http.StatusCreated && res.StatusCode != http.StatusOK {
		return "", decodeProblem(res, "register account")
	}

	url := res.Header.Get(locationHeader)
	if url == "" {
		return "", fmt.Errorf("register account: response carries no %s header", locationHeader)
	}

	c.mu.Lock()
	c.accountURL = url
	c.mu.Unlock()

	return url, nil
}

// NewOrder creates a certificate order for a single DNS identifier.
func (c *Client) NewOrder(ctx context.Context, domain string) (*Order, error) {
	d, err := c.Directory(ctx)
	if err != nil {
		return nil, err
	}

	body := orderRequest{
		Identifiers: []Identifier{{Type: "dns", Value: domain}},
	}

	res, err := c.post(ctx, d.NewOrder, body, false)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	return decodeOrder(res, http.StatusCreated)
}

// RefreshOrder re-fetches the order from the CA. The returned order carries
// the authoritative status and, once issued, the certificate URL.
func (c *Client) RefreshOrder(ctx context.Context, o *Order) (*Order, error) {
	if o == nil || o.URL == "" {
		return nil, fmt.Errorf("order has no URL to refresh from")
	}

	res, err := c.postAsGet(ctx, o.URL)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	refreshed, err := decodeOrder(res, http.StatusOK)
	if err != nil {
		return nil, err
	}
	if refreshed.URL == "" {
		refreshed.URL = o.URL
	}

	return refreshed, nil
}

// Authorization fetches the order's authorization. Orders in this system name
// exactly one identifier, so exactly one authorization is expected.
func (c *Client) Authorization(ctx context.Context, o *Order) (*Authorization, error) {
	if o == nil || len(o.Authorizations) == 0 {
		return nil, ErrNoAuthorizations
	}

	url := o.Authorizations[0]
	res, err := c.postAsGet(ctx, url)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		return nil, decodeProblem(res, "fetch authorization")
	}

	var a Authorization
	if err := json.NewDecoder(res.Body).Decode(&a); err != nil {
		return nil, fmt.Errorf("decode authorization: %w", err)
	}
	a.URL = url

	return &a, nil
}

// DNS01Challenge selects the dns-01 challenge from an authorization.
func (c *Client) DNS01Challenge(a *Authorization) (*Challenge, error) {
	if a == nil {
		return nil, ErrNoDNS01Challenge
	}
	for _, ch := range a.Challenges {
		if ch.Type == ChallengeTypeDNS01 {
			return ch, nil
		}
	}
	return nil, ErrNoDNS01Challenge
}

// DNS01RecordValue computes the TXT record content the CA expects to find:
// the base64url-encoded SHA-256 digest of the challenge's key authorization
// (RFC 8555 §8.4).
func (c *Client) DNS01RecordValue(ch *Challenge) (string, error) {
	keyAuth, err := c.keyAuthorization(ch.Token)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(keyAuth))
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// AcceptChallenge tells the CA the validation record is in place. It does not
// wait for the CA to validate; callers poll the order afterwards.
func (c *Client) AcceptChallenge(ctx context.Context, ch *Challenge) error {
	if ch == nil || ch.URL == "" {
		return fmt.Errorf("challenge has no URL")
	}

	// An empty JSON object signals readiness (RFC 8555 §7.5.1).
	res, err := c.post(ctx, ch.URL, struct{}{}, false)
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		return decodeProblem(res, "accept challenge")
	}

	return nil
}

// Finalize generates a fresh certificate key, builds a CSR for the order's
// identifiers and submits it to the order's finalize URL. The generated key
// is returned so the caller can bundle it with the issued certificate.
func (c *Client) Finalize(ctx context.Context, o *Order) (crypto.Signer, error) {
	if o == nil || o.Finalize == "" {
		return nil, fmt.Errorf("order has no finalize URL")
	}

	certKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate certificate key: %w", err)
	}

	dnsNames := make([]string, len(o.Identifiers))
	for i, id := range o.Identifiers {
		dnsNames[i] = id.Value
	}

	template := x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: dnsNames[0]},
		DNSNames: dnsNames,
	}
	csr, err := x509.CreateCertificateRequest(rand.Reader, &template, certKey)
	if err != nil {
		return nil, fmt.Errorf("create certificate request: %w", err)
	}

	body := finalizeRequest{
		CSR: base64.RawURLEncoding.EncodeToString(csr),
	}

	res, err := c.post(ctx, o.Finalize, body, false)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		return nil, decodeProblem(res, "finalize order")
	}

	return certKey, nil
}

// DownloadCertificate fetches the issued certificate chain. The order must
// already expose a certificate URL.
func (c *Client) DownloadCertificate(ctx context.Context, o *Order) ([]*x509.Certificate, error) {
	if o == nil || o.Certificate == "" {
		return nil, ErrCertificateNotReady
	}

	res, err := c.postAsGet(ctx, o.Certificate)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		return nil, decodeProblem(res, "download certificate")
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read certificate body: %w", err)
	}

	chain, err := parsePEMChain(raw)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("certificate response contains no certificates")
	}

	return chain, nil
}

// keyAuthorization concatenates the challenge token with the account key's
// JWK thumbprint (RFC 8555 §8.1).
func (c *Client) keyAuthorization(token string) (string, error) {
	jwk := jose.JSONWebKey{Key: c.key.Public()}
	thumbprint, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("compute key thumbprint: %w", err)
	}
	return token + "." + base64.RawURLEncoding.EncodeToString(thumbprint), nil
}

// nonceSource adapts the client's nonce slot to jose's NonceSource interface.
type nonceSource struct {
	c   *Client
	ctx context.Context
}

func (n nonceSource) Nonce() (string, error) {
	return n.c.popNonce(n.ctx)
}

// popNonce returns the buffered nonce, consuming it, or fetches a fresh one
// from the newNonce endpoint.
func (c *Client) popNonce(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.nonce != "" {
		nonce := c.nonce
		c.nonce = ""
		c.mu.Unlock()
		return nonce, nil
	}
	c.mu.Unlock()

	d, err := c.Directory(ctx)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, d.NewNonce, nil)
	if err != nil {
		return "", fmt.Errorf("build nonce request: %w", err)
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch nonce: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	nonce := res.Header.Get(replayNonceHeader)
	if nonce == "" {
		return "", fmt.Errorf("nonce response carries no %s header", replayNonceHeader)
	}

	return nonce, nil
}

// storeNonce replaces the buffered nonce with the one the CA attached to a
// response, completing the consume-and-replace cycle.
func (c *Client) storeNonce(res *http.Response) {
	if nonce := res.Header.Get(replayNonceHeader); nonce != "" {
		c.mu.Lock()
		c.nonce = nonce
		c.mu.Unlock()
	}
}

// postAsGet issues an authenticated fetch: a signed POST with an empty
// payload (RFC 8555 §6.3).
func (c *Client) postAsGet(ctx context.Context, url string) (*http.Response, error) {
	return c.signAndSend(ctx, url, []byte{}, false)
}

func (c *Client) post(ctx context.Context, url string, payload any, embedJWK bool) (*http.Response, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, fmt.Errorf("encode payload for %s: %w", url, err)
	}
	return c.signAndSend(ctx, url, bytes.TrimSpace(buf.Bytes()), embedJWK)
}

func (c *Client) signAndSend(ctx context.Context, url string, payload []byte, embedJWK bool) (*http.Response, error) {
	c.mu.Lock()
	accountURL := c.accountURL
	c.mu.Unlock()

	if !embedJWK && accountURL == "" {
		return nil, fmt.Errorf("%w: cannot sign request to %s", ErrAccountRequired, url)
	}

	opts := &jose.SignerOptions{
		NonceSource: nonceSource{c, ctx},
		EmbedJWK:    embedJWK,
	}
	opts = opts.WithHeader(jose.HeaderKey("url"), url)

	signingKey := jose.SigningKey{Algorithm: jose.ES256, Key: c.key}
	if !embedJWK {
		signingKey.Key = jose.JSONWebKey{
			KeyID:     accountURL,
			Algorithm: string(jose.ES256),
			Key:       c.key,
		}
	}

	signer, err := jose.NewSigner(signingKey, opts)
	if err != nil {
		return nil, fmt.Errorf("create signer for %s: %w", url, err)
	}

	jws, err := signer.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("sign request to %s: %w", url, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(jws.FullSerialize()))
	if err != nil {
		return nil, fmt.Errorf("build request to %s: %w", url, err)
	}
	req.Header.Set("Content-Type", joseContentType)
	req.Header.Set("Accept", pemChainFormat)

	res, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request to %s: %w", url, err)
	}
	c.storeNonce(res)

	return res, nil
}

func decodeOrder(res *http.Response, wantStatus int) (*Order, error) {
	if res.StatusCode != wantStatus {
		return nil, decodeProblem(res, "process order")
	}

	var o Order
	if err := json.NewDecoder(res.Body).Decode(&o); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	o.URL = res.Header.Get(locationHeader)

	return &o, nil
}

// decodeProblem turns an error response into a Go error, mapping the badNonce
// problem type onto ErrBadNonce so callers can classify it as retryable.
func decodeProblem(res *http.Response, op string) error {
	var p Problem
	if err := json.NewDecoder(res.Body).Decode(&p); err != nil {
		return fmt.Errorf("%s: unexpected status %d", op, res.StatusCode)
	}
	if p.Status == 0 {
		p.Status = res.StatusCode
	}
	if p.Type == badNonceProblemType {
		return fmt.Errorf("%s: %w: %s", op, ErrBadNonce, p.Detail)
	}
	return fmt.Errorf("%s: %w", op, &p)
}

func parsePEMChain(raw []byte) ([]*x509.Certificate, error) {
	var chain []*x509.Certificate

	rest := raw
	for len(rest) > 0 {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
		chain = append(chain, cert)
	}

	return chain, nil
}
