package link

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconnectDelaySequence(t *testing.T) {
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second,
		10 * time.Second,
		10 * time.Second,
		10 * time.Second,
	}
	for attempt, expected := range want {
		assert.Equal(t, expected, ReconnectDelay(attempt), "attempt %d", attempt)
	}

	// Counter values beyond the cap must not overflow the shift.
	assert.Equal(t, 10*time.Second, ReconnectDelay(100))
}

func TestClassifyCloseUnauthorized(t *testing.T) {
	now := time.Now()
	until := ClassifyClose(CloseUnauthorized, "bad key", now)
	require.False(t, until.IsZero())
	assert.Equal(t, now.Add(10*time.Minute), until)
}

func TestClassifyCloseRateLimited(t *testing.T) {
	now := time.Now()

	t.Run("with retry_after", func(t *testing.T) {
		until := ClassifyClose(CloseRateLimited, "too many connections retry_after=120", now)
		assert.Equal(t, now.Add(120*time.Second), until)
	})

	t.Run("without retry_after", func(t *testing.T) {
		until := ClassifyClose(CloseRateLimited, "slow down", now)
		assert.Equal(t, now.Add(900*time.Second), until)
	})

	t.Run("garbage retry_after", func(t *testing.T) {
		until := ClassifyClose(CloseRateLimited, "retry_after=notanumber", now)
		assert.Equal(t, now.Add(900*time.Second), until)
	})

	t.Run("retry_after with trailing text", func(t *testing.T) {
		until := ClassifyClose(CloseRateLimited, "retry_after=45 seconds", now)
		assert.Equal(t, now.Add(45*time.Second), until)
	})
}

func TestClassifyCloseServiceDisabled(t *testing.T) {
	now := time.Now()
	until := ClassifyClose(CloseServiceDisabled, "", now)
	assert.Equal(t, now.Add(30*time.Second), until)
}

func TestClassifyCloseOtherCodesNoSuspension(t *testing.T) {
	now := time.Now()
	for _, code := range []int{1000, 1001, 1006, 1011, 4000} {
		assert.True(t, ClassifyClose(code, "whatever", now).IsZero(), "code %d", code)
	}
}
