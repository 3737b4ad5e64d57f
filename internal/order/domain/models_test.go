package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStateMachine(t *testing.T) {
	now := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	order := &Order{Status: StatusPending}

	require.NoError(t, order.MarkPaid(now))
	assert.ErrorIs(t, order.MarkPaid(now), ErrInvalidTransition)
	assert.ErrorIs(t, order.MarkFailed("x", now), ErrInvalidTransition)

	require.NoError(t, order.RequestCancel("changed my mind", now))
	require.NoError(t, order.RequestCancel("changed my mind", now))
	require.NoError(t, order.RecordRefundRejection("gateway said no", now))
	assert.Equal(t, StatusCancelRequest, order.Status)

	require.NoError(t, order.MarkCancelled("", now))
	assert.Equal(t, StatusCancelled, order.Status)
	assert.Equal(t, "changed my mind", order.CancelReason)
	assert.Empty(t, order.FailureReason)
	assert.ErrorIs(t, order.RequestCancel("again", now), ErrInvalidTransition)
}

func TestOrderFailedIsTerminal(t *testing.T) {
	now := time.Now()
	order := &Order{Status: StatusPending}
	require.NoError(t, order.MarkFailed("CDEC: declined", now))
	assert.ErrorIs(t, order.MarkPaid(now), ErrInvalidTransition)
	assert.ErrorIs(t, order.RequestCancel("", now), ErrInvalidTransition)
}

func TestOwnedBy(t *testing.T) {
	order := &Order{BuyerID: 7}
	assert.True(t, order.OwnedBy(7))
	assert.False(t, order.OwnedBy(8))
	assert.False(t, order.OwnedBy(0))
}
