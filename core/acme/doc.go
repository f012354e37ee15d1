// Package acme implements the subset of the ACME protocol (RFC 8555) this
// system needs to issue DNS-01 validated certificates: directory discovery,
// account registration, order creation, authorization and challenge handling,
// order finalization, and certificate download.
//
// Every POST request is signed as a JWS with the account key. The client owns
// a single replay nonce slot: the nonce is consumed by the outgoing request
// and replaced from the Replay-Nonce header of the response. When no nonce is
// buffered, a fresh one is fetched from the CA's newNonce endpoint. A request
// rejected by the CA with the badNonce problem type surfaces as ErrBadNonce
// so callers can decide whether to retry the call.
//
// The client performs no internal retries and no polling. Waiting for an
// order to become ready or for the certificate URL to appear is the
// responsibility of the issuance orchestrator.
//
// Basic flow:
//
//	client, err := acme.New(directoryURL, accountKey)
//	accountURL, err := client.Register(ctx, "ops@example.com")
//	order, err := client.NewOrder(ctx, "www.example.com")
//	authz, err := client.Authorization(ctx, order)
//	ch, err := client.DNS01Challenge(authz)
//	value, err := client.DNS01RecordValue(ch)
//	// publish the TXT record, then:
//	err = client.AcceptChallenge(ctx, ch)
//	// poll client.RefreshOrder until the order is ready, then:
//	certKey, err := client.Finalize(ctx, order)
//	// poll client.RefreshOrder until order.Certificate is set, then:
//	chain, err := client.DownloadCertificate(ctx, order)
package acme
