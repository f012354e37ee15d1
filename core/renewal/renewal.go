// Package renewal decides which domains need a fresh certificate and runs
// the whole eligible set in one batch. Per-domain failures are isolated: the
// batch always completes, and the outcome of every domain lands in a Report
// so the caller owns the exit-code and alerting policy.
package renewal

import (
	"context"
	"errors"
	"time"
)

// RenewWindowDays is the renewal policy boundary: a certificate with this
// many days of validity left, or fewer, is renewed. Fixed by policy, not
// configurable per domain.
const RenewWindowDays = 10

// ErrCertificateNotFound is returned by a CertificateSource when no
// certificate is stored under the requested name.
var ErrCertificateNotFound = errors.New("certificate not found")

// Certificate is the slice of secret-store state the renewal decision needs.
type Certificate struct {
	Name     string
	NotAfter time.Time
}

// CertificateSource looks up stored certificates by name. The name is the
// domain's subdomain label.
type CertificateSource interface {
	Certificate(ctx context.Context, name string) (*Certificate, error)
}

// ShouldRenew reports whether the certificate stored under name needs
// renewal: missing certificates always renew, existing ones renew when ten
// days or fewer remain before expiry.
func ShouldRenew(ctx context.Context, src CertificateSource, name string) (bool, error) {
	cert, err := src.Certificate(ctx, name)
	if err != nil {
		if errors.Is(err, ErrCertificateNotFound) {
			return true, nil
		}
		return false, err
	}

	daysLeft := int(time.Until(cert.NotAfter).Hours() / 24)
	return daysLeft <= RenewWindowDays, nil
}
