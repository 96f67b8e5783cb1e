package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComputeExpiryFromNow(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	got := ComputeExpiry(now, 7, nil)

	assert.Equal(t, time.Date(2024, 1, 8, 23, 59, 55, 0, time.UTC), got)
}

func TestComputeExpiryExtendsFutureExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	current := time.Date(2024, 1, 20, 23, 59, 55, 0, time.UTC)

	got := ComputeExpiry(now, 31, &current)

	assert.Equal(t, time.Date(2024, 2, 20, 23, 59, 55, 0, time.UTC), got)
}

func TestComputeExpiryRestartsAfterLapse(t *testing.T) {
	now := time.Date(2024, 6, 15, 8, 30, 0, 0, time.UTC)
	expired := time.Date(2024, 1, 20, 23, 59, 55, 0, time.UTC)

	got := ComputeExpiry(now, 7, &expired)

	assert.Equal(t, time.Date(2024, 6, 22, 23, 59, 55, 0, time.UTC), got)
}

func TestComputeExpiryForcesEndOfDay(t *testing.T) {
	now := time.Date(2024, 3, 3, 0, 0, 1, 0, time.UTC)

	got := ComputeExpiry(now, 1, nil)

	assert.Equal(t, 23, got.Hour())
	assert.Equal(t, 59, got.Minute())
	assert.Equal(t, 55, got.Second())
}

func TestComputeExpiryIsMonotonic(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	first := ComputeExpiry(now, 1, nil)
	second := ComputeExpiry(now, 1, &first)
	third := ComputeExpiry(now, 31, &second)

	assert.True(t, second.After(first))
	assert.True(t, third.After(second))
}
