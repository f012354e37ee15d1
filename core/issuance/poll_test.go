package issuance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollUntilImmediateSuccess(t *testing.T) {
	calls := 0
	err := pollUntil(t.Context(), time.Hour, time.Hour, func(ctx context.Context) (bool, error) {
		calls++
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "satisfied condition must not sleep")
}

func TestPollUntilDeadline(t *testing.T) {
	err := pollUntil(t.Context(), time.Millisecond, 20*time.Millisecond, func(ctx context.Context) (bool, error) {
		return false, nil
	})
	assert.ErrorIs(t, err, ErrPollTimeout)
}

func TestPollUntilPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	err := pollUntil(t.Context(), time.Millisecond, time.Second, func(ctx context.Context) (bool, error) {
		return false, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestPollUntilHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	err := pollUntil(ctx, time.Hour, time.Hour, func(ctx context.Context) (bool, error) {
		return false, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChallengeRecordName(t *testing.T) {
	d := Domain{Subdomain: "www", Zone: "example.com"}
	assert.Equal(t, "_acme-challenge.www", challengeRecordName(d))
	assert.Equal(t, "_acme-challenge.www.example.com", challengeRecordFQDN(d))

	deep := Domain{Subdomain: "api.staging", Zone: "example.org"}
	assert.Equal(t, "_acme-challenge.api.staging", challengeRecordName(deep))
}
