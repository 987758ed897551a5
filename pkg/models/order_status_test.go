package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to OrderStatus
		want     bool
	}{
		{OrderStatusNew, OrderStatusInProgress, true},
		{OrderStatusNew, OrderStatusRejected, true},
		{OrderStatusInProgress, OrderStatusReady, true},
		{OrderStatusReady, OrderStatusReceived, true},

		{OrderStatusNew, OrderStatusReady, false},
		{OrderStatusNew, OrderStatusReceived, false},
		{OrderStatusInProgress, OrderStatusRejected, false},
		{OrderStatusReady, OrderStatusInProgress, false},
		{OrderStatusReceived, OrderStatusNew, false},
		{OrderStatusReceived, OrderStatusReceived, false},
		{OrderStatusRejected, OrderStatusNew, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestNextAndPrevious(t *testing.T) {
	next, ok := OrderStatusNew.Next()
	require.True(t, ok)
	assert.Equal(t, OrderStatusInProgress, next)

	_, ok = OrderStatusReceived.Next()
	assert.False(t, ok)

	prev, ok := OrderStatusReceived.Previous()
	require.True(t, ok)
	assert.Equal(t, OrderStatusReady, prev)

	_, ok = OrderStatusNew.Previous()
	assert.False(t, ok)
}

func TestToOrderStatus(t *testing.T) {
	for _, status := range OrderStatuses() {
		got, err := ToOrderStatus(string(status))
		require.NoError(t, err)
		assert.Equal(t, status, got)
	}

	_, err := ToOrderStatus("rejected")
	assert.Error(t, err)
	_, err = ToOrderStatus("")
	assert.Error(t, err)
}

func TestOrderStatuses_ReturnsCopy(t *testing.T) {
	statuses := OrderStatuses()
	statuses[0] = "mutated"
	assert.Equal(t, OrderStatusNew, OrderStatuses()[0])
}
