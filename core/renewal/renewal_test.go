package renewal_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/certrobot/core/renewal"
)

type fakeCertSource struct {
	certs map[string]time.Time
	err   error
}

func (f *fakeCertSource) Certificate(ctx context.Context, name string) (*renewal.Certificate, error) {
	if f.err != nil {
		return nil, f.err
	}
	notAfter, ok := f.certs[name]
	if !ok {
		return nil, renewal.ErrCertificateNotFound
	}
	return &renewal.Certificate{Name: name, NotAfter: notAfter}, nil
}

func TestShouldRenew(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name     string
		notAfter time.Time
		absent   bool
		want     bool
	}{
		{name: "no certificate", absent: true, want: true},
		{name: "expires in 30 days", notAfter: now.Add(30 * 24 * time.Hour), want: false},
		{name: "expires in exactly 11 days", notAfter: now.Add(11*24*time.Hour + time.Minute), want: false},
		{name: "expires in exactly 10 days", notAfter: now.Add(10 * 24 * time.Hour), want: true},
		{name: "expires tomorrow", notAfter: now.Add(24 * time.Hour), want: true},
		{name: "already expired", notAfter: now.Add(-24 * time.Hour), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeCertSource{certs: map[string]time.Time{}}
			if !tt.absent {
				src.certs["www"] = tt.notAfter
			}

			got, err := renewal.ShouldRenew(t.Context(), src, "www")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestShouldRenewPropagatesLookupError(t *testing.T) {
	boom := errors.New("secret store unavailable")
	src := &fakeCertSource{err: boom}

	_, err := renewal.ShouldRenew(t.Context(), src, "www")
	assert.ErrorIs(t, err, boom)
}
