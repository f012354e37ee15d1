package issuance

import (
	"crypto"
	"crypto/x509"
	"fmt"

	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

// encodePFX bundles the certificate chain and its private key into a
// password-protected PKCS#12 archive. The leaf is the first element of the
// chain; the rest travel as CA certificates.
func encodePFX(key crypto.Signer, chain []*x509.Certificate, password string) ([]byte, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("certificate chain is empty")
	}

	pfx, err := pkcs12.Modern.Encode(key, chain[0], chain[1:], password)
	if err != nil {
		return nil, fmt.Errorf("encode pkcs12 bundle: %w", err)
	}

	return pfx, nil
}
