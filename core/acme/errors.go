package acme

import "errors"

var (
	// ErrBadNonce is returned when the CA rejects a request because its
	// replay nonce was stale. The failed call may be retried with a fresh
	// nonce; the client does not retry on its own.
	ErrBadNonce = errors.New("stale replay nonce")

	// ErrNoDNS01Challenge is returned when an authorization offers no dns-01
	// challenge.
	ErrNoDNS01Challenge = errors.New("authorization offers no dns-01 challenge")

	// ErrNoAuthorizations is returned when an order carries no authorization
	// URLs.
	ErrNoAuthorizations = errors.New("order has no authorizations")

	// ErrCertificateNotReady is returned when a certificate download is
	// attempted before the order exposes a certificate URL.
	ErrCertificateNotReady = errors.New("order has no certificate URL yet")

	// ErrAccountRequired is returned when a privileged call is made before
	// the client has an account URL to sign requests with.
	ErrAccountRequired = errors.New("client has no registered account")
)

// badNonceProblemType is the problem document type the CA uses for stale
// nonces (RFC 8555 §6.5).
const badNonceProblemType = "urn:ietf:params:acme:error:badNonce"
