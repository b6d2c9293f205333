package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExpiredBoundaryIsStrict(t *testing.T) {
	deadline := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.False(t, Expired(deadline.Add(-time.Nanosecond), deadline))
	assert.True(t, Expired(deadline, deadline), "expired exactly at the deadline instant")
	assert.True(t, Expired(deadline.Add(time.Nanosecond), deadline))
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusOpen.Terminal())
	assert.False(t, StatusActive.Terminal())
	assert.True(t, StatusSettled.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.True(t, StatusLiquidated.Terminal())
}
