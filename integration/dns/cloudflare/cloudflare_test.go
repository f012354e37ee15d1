package cloudflare_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/certrobot/core/renewal"
	"github.com/dmitrymomot/certrobot/integration/dns/cloudflare"
)

// fakeCloudflare implements the slice of the v4 API the provider touches,
// backed by an in-memory record set.
type fakeCloudflare struct {
	t   *testing.T
	srv *httptest.Server

	records map[string]map[string]string // record ID -> fields
	nextID  int
}

func newFakeCloudflare(t *testing.T) *fakeCloudflare {
	t.Helper()

	f := &fakeCloudflare{t: t, records: map[string]map[string]string{
		"rec-a": {"name": "www.example.com", "type": "A", "content": "203.0.113.10"},
		"rec-b": {"name": "example.com", "type": "A", "content": "203.0.113.1"},
		"rec-c": {"name": "mail.example.com", "type": "MX", "content": "mx.example.com"},
	}}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /user/tokens/verify", func(w http.ResponseWriter, r *http.Request) {
		f.requireAuth(r)
		f.ok(w, map[string]string{"status": "active"})
	})
	mux.HandleFunc("GET /zones", func(w http.ResponseWriter, r *http.Request) {
		f.requireAuth(r)
		zones := []map[string]string{{"id": "zone-1", "name": "example.com"}}
		if name := r.URL.Query().Get("name"); name != "" && name != "example.com" {
			zones = nil
		}
		f.ok(w, zones)
	})
	mux.HandleFunc("GET /zones/zone-1/dns_records", func(w http.ResponseWriter, r *http.Request) {
		f.requireAuth(r)
		var out []map[string]any
		for id, rec := range f.records {
			if t := r.URL.Query().Get("type"); t != "" && rec["type"] != t {
				continue
			}
			if n := r.URL.Query().Get("name"); n != "" && rec["name"] != n {
				continue
			}
			out = append(out, map[string]any{
				"id": id, "name": rec["name"], "type": rec["type"], "content": rec["content"], "ttl": 60,
			})
		}
		f.ok(w, out)
	})
	mux.HandleFunc("POST /zones/zone-1/dns_records", func(w http.ResponseWriter, r *http.Request) {
		f.requireAuth(r)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.nextID++
		id := "rec-new-" + string(rune('0'+f.nextID))
		f.records[id] = map[string]string{
			"name":    body["name"].(string),
			"type":    body["type"].(string),
			"content": body["content"].(string),
		}
		f.ok(w, map[string]string{"id": id})
	})
	mux.HandleFunc("PUT /zones/zone-1/dns_records/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.requireAuth(r)
		id := r.PathValue("id")
		rec, ok := f.records[id]
		require.True(t, ok, "update of unknown record %s", id)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		rec["content"] = body["content"].(string)
		f.ok(w, map[string]string{"id": id})
	})
	mux.HandleFunc("DELETE /zones/zone-1/dns_records/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.requireAuth(r)
		delete(f.records, r.PathValue("id"))
		f.ok(w, map[string]string{})
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)

	return f
}

func (f *fakeCloudflare) requireAuth(r *http.Request) {
	assert.Equal(f.t, "Bearer test-token", r.Header.Get("Authorization"))
}

func (f *fakeCloudflare) ok(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "result": result})
}

func (f *fakeCloudflare) findTXT(name string) (string, bool) {
	for _, rec := range f.records {
		if rec["type"] == "TXT" && rec["name"] == name {
			return rec["content"], true
		}
	}
	return "", false
}

func newTestProvider(t *testing.T, f *fakeCloudflare) *cloudflare.Provider {
	t.Helper()
	p, err := cloudflare.New("test-token", cloudflare.WithBaseURL(f.srv.URL))
	require.NoError(t, err)
	return p
}

func TestValidateCredentials(t *testing.T) {
	f := newFakeCloudflare(t)
	p := newTestProvider(t, f)
	assert.NoError(t, p.ValidateCredentials(t.Context()))
}

func TestListZones(t *testing.T) {
	f := newFakeCloudflare(t)
	p := newTestProvider(t, f)

	zones, err := p.ListZones(t.Context())
	require.NoError(t, err)
	require.Len(t, zones, 1)
	assert.Equal(t, renewal.Zone{ID: "zone-1", Name: "example.com"}, zones[0])
}

func TestListRecordsRelativeNames(t *testing.T) {
	f := newFakeCloudflare(t)
	p := newTestProvider(t, f)

	records, err := p.ListRecords(t.Context(), renewal.Zone{ID: "zone-1", Name: "example.com"})
	require.NoError(t, err)

	byName := map[string]renewal.Record{}
	for _, rec := range records {
		byName[rec.Name+"/"+rec.Type] = rec
	}
	assert.Contains(t, byName, "www/A")
	assert.Contains(t, byName, "@/A", "apex record must map to @")
	assert.Contains(t, byName, "mail/MX")
}

func TestCreateTXTRecordReplacesExisting(t *testing.T) {
	f := newFakeCloudflare(t)
	p := newTestProvider(t, f)
	ctx := t.Context()

	require.NoError(t, p.CreateTXTRecord(ctx, "example.com", "_acme-challenge.www", "digest-1", 60))
	value, ok := f.findTXT("_acme-challenge.www.example.com")
	require.True(t, ok)
	assert.Equal(t, "digest-1", value)

	// A second create with the same name replaces the value instead of
	// stacking a second record.
	require.NoError(t, p.CreateTXTRecord(ctx, "example.com", "_acme-challenge.www", "digest-2", 60))
	value, ok = f.findTXT("_acme-challenge.www.example.com")
	require.True(t, ok)
	assert.Equal(t, "digest-2", value)

	count := 0
	for _, rec := range f.records {
		if rec["type"] == "TXT" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestDeleteTXTRecord(t *testing.T) {
	f := newFakeCloudflare(t)
	p := newTestProvider(t, f)
	ctx := t.Context()

	require.NoError(t, p.CreateTXTRecord(ctx, "example.com", "_acme-challenge.www", "digest", 60))
	require.NoError(t, p.DeleteTXTRecord(ctx, "example.com", "_acme-challenge.www"))

	_, ok := f.findTXT("_acme-challenge.www.example.com")
	assert.False(t, ok)

	// Deleting an absent record is not an error.
	assert.NoError(t, p.DeleteTXTRecord(ctx, "example.com", "_acme-challenge.www"))
}

func TestNewRequiresToken(t *testing.T) {
	_, err := cloudflare.New("")
	assert.Error(t, err)
}
