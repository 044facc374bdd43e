package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelhub-worker/pkg/models"
)

type fakeSender struct {
	sent      []interface{}
	delivered bool
	err       error
}

func (f *fakeSender) Send(ctx context.Context, msg interface{}) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.delivered {
		f.sent = append(f.sent, msg)
	}
	return f.delivered, nil
}

func TestPushIsIdempotent(t *testing.T) {
	sender := &fakeSender{delivered: true}
	r := New(sender)

	sent, err := r.Push(context.Background(), []string{"aaa", "bbb"})
	require.NoError(t, err)
	assert.True(t, sent)

	// Same membership, same order: suppressed.
	sent, err = r.Push(context.Background(), []string{"aaa", "bbb"})
	require.NoError(t, err)
	assert.False(t, sent)

	// Same membership, different order: still suppressed.
	sent, err = r.Push(context.Background(), []string{"bbb", "aaa"})
	require.NoError(t, err)
	assert.False(t, sent)

	require.Len(t, sender.sent, 1)
	inv := sender.sent[0].(*models.Inventory)
	assert.Equal(t, []string{"aaa", "bbb"}, inv.Hashes)
}

func TestPushOnMembershipChange(t *testing.T) {
	sender := &fakeSender{delivered: true}
	r := New(sender)

	_, err := r.Push(context.Background(), []string{"aaa"})
	require.NoError(t, err)

	sent, err := r.Push(context.Background(), []string{"aaa", "ccc"})
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Len(t, sender.sent, 2)
}

func TestPushRetriesAfterUndelivered(t *testing.T) {
	sender := &fakeSender{delivered: false}
	r := New(sender)

	// Channel closed and no fallback succeeded: not delivered, so the
	// baseline must not advance.
	sent, err := r.Push(context.Background(), []string{"aaa"})
	require.NoError(t, err)
	assert.False(t, sent)

	sender.delivered = true
	sent, err = r.Push(context.Background(), []string{"aaa"})
	require.NoError(t, err)
	assert.True(t, sent)
}

func TestPushSurfacesSendErrors(t *testing.T) {
	sender := &fakeSender{err: errors.New("boom")}
	r := New(sender)

	_, err := r.Push(context.Background(), []string{"aaa"})
	require.Error(t, err)

	// The failed set was not recorded; a retry transmits.
	sender.err = nil
	sender.delivered = true
	sent, err := r.Push(context.Background(), []string{"aaa"})
	require.NoError(t, err)
	assert.True(t, sent)
}

func TestInvalidateForcesResend(t *testing.T) {
	sender := &fakeSender{delivered: true}
	r := New(sender)

	_, err := r.Push(context.Background(), []string{"aaa"})
	require.NoError(t, err)

	r.Invalidate()

	sent, err := r.Push(context.Background(), []string{"aaa"})
	require.NoError(t, err)
	assert.True(t, sent)
}
