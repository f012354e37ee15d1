package acme

import "fmt"

// Directory holds the endpoint URLs discovered from the CA's directory
// resource.
type Directory struct {
	NewNonce   string         `json:"newNonce"`
	NewAccount string         `json:"newAccount"`
	NewOrder   string         `json:"newOrder"`
	NewAuthz   string         `json:"newAuthz"`
	RevokeCert string         `json:"revokeCert"`
	KeyChange  string         `json:"keyChange"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// Resource status values per RFC 8555 §7.1.6.
const (
	StatusPending    = "pending"
	StatusReady      = "ready"
	StatusProcessing = "processing"
	StatusValid      = "valid"
	StatusInvalid    = "invalid"
)

// ChallengeTypeDNS01 is the only challenge type this system fulfills.
const ChallengeTypeDNS01 = "dns-01"

// Identifier names the subject of an order or authorization.
type Identifier struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Order tracks one certificate request. Status and Certificate are only
// authoritative immediately after a fetch from the CA; local copies go stale
// as soon as the CA progresses the order.
type Order struct {
	URL            string     `json:"-"`
	Status         string     `json:"status"`
	Identifiers    []Identifier `json:"identifiers"`
	Authorizations []string   `json:"authorizations"`
	Finalize       string     `json:"finalize"`
	Certificate    string     `json:"certificate,omitempty"`
}

// Authorization lists the challenges available to prove control of one
// identifier.
type Authorization struct {
	URL        string       `json:"-"`
	Identifier Identifier   `json:"identifier"`
	Status     string       `json:"status"`
	Challenges []*Challenge `json:"challenges"`
}

// Challenge is a single validation method offered by an authorization.
type Challenge struct {
	Type   string `json:"type"`
	URL    string `json:"url"`
	Status string `json:"status"`
	Token  string `json:"token"`
}

// Problem is the RFC 7807 error document ACME servers return on failure.
type Problem struct {
	Type   string `json:"type"`
	Detail string `json:"detail"`
	Status int    `json:"status"`
}

func (p *Problem) Error() string {
	if p.Detail == "" {
		return fmt.Sprintf("acme problem %s (status %d)", p.Type, p.Status)
	}
	return fmt.Sprintf("acme problem %s: %s", p.Type, p.Detail)
}

type accountRequest struct {
	Contact              []string `json:"contact,omitempty"`
	TermsOfServiceAgreed bool     `json:"termsOfServiceAgreed"`
}

type orderRequest struct {
	Identifiers []Identifier `json:"identifiers"`
}

type finalizeRequest struct {
	CSR string `json:"csr"`
}
