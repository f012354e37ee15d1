package issuance

import "strings"

// Domain identifies one certificate subject: a subdomain label inside a DNS
// zone. The provider-assigned zone ID travels along so adapters don't have to
// resolve the zone name twice.
type Domain struct {
	Subdomain string
	Zone      string
	ZoneID    string
}

// FQDN returns the fully qualified domain name.
func (d Domain) FQDN() string {
	return d.Subdomain + "." + d.Zone
}

// challengeRecordName computes the relative TXT record name for the dns-01
// challenge by stripping the zone suffix from the challenge FQDN:
// "_acme-challenge.www.example.com" in zone "example.com" becomes
// "_acme-challenge.www".
func challengeRecordName(d Domain) string {
	full := "_acme-challenge." + d.FQDN()
	return strings.TrimSuffix(full, "."+d.Zone)
}

// challengeRecordFQDN is the absolute name the CA queries.
func challengeRecordFQDN(d Domain) string {
	return "_acme-challenge." + d.FQDN()
}
