// Package cloudflare adapts the Cloudflare v4 API to the DNS interfaces the
// renewal runner and the issuance orchestrator consume: zone/record
// enumeration and challenge TXT record management.
package cloudflare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dmitrymomot/certrobot/core/renewal"
)

const defaultBaseURL = "https://api.cloudflare.com/client/v4"

// Provider talks to the Cloudflare API with a bearer token.
type Provider struct {
	apiToken string
	baseURL  string
	hc       *http.Client

	mu      sync.Mutex
	zoneIDs map[string]string
}

// Option configures a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL. Useful for tests.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) {
		if baseURL != "" {
			p.baseURL = strings.TrimSuffix(baseURL, "/")
		}
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(p *Provider) {
		if hc != nil {
			p.hc = hc
		}
	}
}

// New creates a Cloudflare provider.
func New(apiToken string, opts ...Option) (*Provider, error) {
	if apiToken == "" {
		return nil, fmt.Errorf("cloudflare api token is required")
	}

	p := &Provider{
		apiToken: apiToken,
		baseURL:  defaultBaseURL,
		hc:       &http.Client{Timeout: 30 * time.Second},
		zoneIDs:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

type apiResponse struct {
	Success bool            `json:"success"`
	Errors  []apiError      `json:"errors"`
	Result  json.RawMessage `json:"result"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (p *Provider) doRequest(ctx context.Context, method, path string, body any) (*apiResponse, error) {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiToken)
	req.Header.Set("Content-Type", "application/json")

	res, err := p.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cloudflare request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	var out apiResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode cloudflare response: %w", err)
	}

	if !out.Success {
		if len(out.Errors) > 0 {
			return nil, fmt.Errorf("cloudflare error [%d]: %s", out.Errors[0].Code, out.Errors[0].Message)
		}
		return nil, fmt.Errorf("cloudflare request failed with status %d", res.StatusCode)
	}

	return &out, nil
}

// ValidateCredentials verifies the API token is usable.
func (p *Provider) ValidateCredentials(ctx context.Context) error {
	_, err := p.doRequest(ctx, http.MethodGet, "/user/tokens/verify", nil)
	return err
}

// ListZones enumerates all zones visible to the token.
func (p *Provider) ListZones(ctx context.Context) ([]renewal.Zone, error) {
	res, err := p.doRequest(ctx, http.MethodGet, "/zones?per_page=100", nil)
	if err != nil {
		return nil, err
	}

	var cfZones []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(res.Result, &cfZones); err != nil {
		return nil, fmt.Errorf("parse zones: %w", err)
	}

	zones := make([]renewal.Zone, 0, len(cfZones))
	for _, z := range cfZones {
		zones = append(zones, renewal.Zone{ID: z.ID, Name: z.Name})
		p.cacheZoneID(z.Name, z.ID)
	}

	return zones, nil
}

// ListRecords fetches all records of a zone. Record names are returned as
// bare subdomain labels; the zone apex maps to "@".
func (p *Provider) ListRecords(ctx context.Context, zone renewal.Zone) ([]renewal.Record, error) {
	zoneID, err := p.zoneID(ctx, zone)
	if err != nil {
		return nil, err
	}

	res, err := p.doRequest(ctx, http.MethodGet, "/zones/"+zoneID+"/dns_records?per_page=1000", nil)
	if err != nil {
		return nil, err
	}

	var cfRecords []struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Type    string `json:"type"`
		Content string `json:"content"`
		TTL     int    `json:"ttl"`
	}
	if err := json.Unmarshal(res.Result, &cfRecords); err != nil {
		return nil, fmt.Errorf("parse records: %w", err)
	}

	records := make([]renewal.Record, 0, len(cfRecords))
	for _, r := range cfRecords {
		records = append(records, renewal.Record{
			ID:    r.ID,
			Name:  relativeName(r.Name, zone.Name),
			Type:  r.Type,
			Value: r.Content,
			TTL:   r.TTL,
		})
	}

	return records, nil
}

// CreateTXTRecord publishes a TXT record. An existing record with the same
// name is updated in place, so re-running after a failed cleanup replaces the
// stale value instead of stacking a second record.
func (p *Provider) CreateTXTRecord(ctx context.Context, zone, name, value string, ttl int) error {
	zoneID, err := p.zoneID(ctx, renewal.Zone{Name: zone})
	if err != nil {
		return err
	}

	payload := map[string]any{
		"type":    "TXT",
		"name":    absoluteName(name, zone),
		"content": value,
		"ttl":     ttl,
	}

	existing, err := p.findTXTRecord(ctx, zoneID, zone, name)
	if err != nil {
		return err
	}
	if existing != "" {
		_, err = p.doRequest(ctx, http.MethodPut, "/zones/"+zoneID+"/dns_records/"+existing, payload)
		return err
	}

	_, err = p.doRequest(ctx, http.MethodPost, "/zones/"+zoneID+"/dns_records", payload)
	return err
}

// DeleteTXTRecord removes a TXT record. A record that no longer exists is
// not an error; cleanup must be idempotent.
func (p *Provider) DeleteTXTRecord(ctx context.Context, zone, name string) error {
	zoneID, err := p.zoneID(ctx, renewal.Zone{Name: zone})
	if err != nil {
		return err
	}

	recordID, err := p.findTXTRecord(ctx, zoneID, zone, name)
	if err != nil {
		return err
	}
	if recordID == "" {
		return nil
	}

	_, err = p.doRequest(ctx, http.MethodDelete, "/zones/"+zoneID+"/dns_records/"+recordID, nil)
	return err
}

// findTXTRecord returns the ID of the TXT record with the given relative
// name, or "" when absent.
func (p *Provider) findTXTRecord(ctx context.Context, zoneID, zone, name string) (string, error) {
	query := url.Values{}
	query.Set("type", "TXT")
	query.Set("name", absoluteName(name, zone))

	res, err := p.doRequest(ctx, http.MethodGet, "/zones/"+zoneID+"/dns_records?"+query.Encode(), nil)
	if err != nil {
		return "", err
	}

	var cfRecords []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(res.Result, &cfRecords); err != nil {
		return "", fmt.Errorf("parse records: %w", err)
	}
	if len(cfRecords) == 0 {
		return "", nil
	}

	return cfRecords[0].ID, nil
}

// zoneID resolves a zone's ID, preferring the ID carried on the zone value,
// then the cache, then a lookup by name.
func (p *Provider) zoneID(ctx context.Context, zone renewal.Zone) (string, error) {
	if zone.ID != "" {
		return zone.ID, nil
	}

	p.mu.Lock()
	if id, ok := p.zoneIDs[zone.Name]; ok {
		p.mu.Unlock()
		return id, nil
	}
	p.mu.Unlock()

	res, err := p.doRequest(ctx, http.MethodGet, "/zones?name="+url.QueryEscape(zone.Name), nil)
	if err != nil {
		return "", err
	}

	var cfZones []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(res.Result, &cfZones); err != nil {
		return "", fmt.Errorf("parse zones: %w", err)
	}
	if len(cfZones) == 0 {
		return "", fmt.Errorf("zone not found: %s", zone.Name)
	}

	p.cacheZoneID(zone.Name, cfZones[0].ID)
	return cfZones[0].ID, nil
}

func (p *Provider) cacheZoneID(name, id string) {
	p.mu.Lock()
	p.zoneIDs[name] = id
	p.mu.Unlock()
}

// relativeName strips the zone suffix from a record FQDN; the apex becomes
// "@".
func relativeName(fqdn, zone string) string {
	if fqdn == zone {
		return "@"
	}
	return strings.TrimSuffix(fqdn, "."+zone)
}

// absoluteName joins a relative record name with its zone; "@" means the
// apex.
func absoluteName(name, zone string) string {
	if name == "" || name == "@" {
		return zone
	}
	return name + "." + zone
}
