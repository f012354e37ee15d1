// Package issuance drives a single domain's certificate issuance from order
// creation through secret-store import. It composes the ACME client and the
// DNS record publisher into one state machine:
//
//	create order -> fetch dns-01 challenge -> publish TXT record ->
//	signal ready -> poll until the order is ready -> finalize ->
//	poll until the certificate URL appears -> export PFX -> import
//
// The published TXT record is held as a lease: the lease exists only after
// the DNS provider confirmed creation, and releasing it is conditional on its
// existence. Cleanup therefore runs exactly once on every exit path, and a
// failure before the record was created cleans up nothing by construction.
//
// Both polling phases use a fixed interval and an explicit deadline. Hitting
// the deadline yields ErrPollTimeout, distinct from ErrOrderInvalid which
// reports the CA rejecting the validation.
package issuance
