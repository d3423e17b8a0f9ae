package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryBackoffDoubles(t *testing.T) {
	assert.Equal(t, 10*time.Second, RetryBackoff(0))
	assert.Equal(t, 20*time.Second, RetryBackoff(1))
	assert.Equal(t, 40*time.Second, RetryBackoff(2))
	assert.Equal(t, 80*time.Second, RetryBackoff(3))
}

func TestRetryBackoffMonotonic(t *testing.T) {
	prev := time.Duration(0)
	for attempts := 0; attempts < 20; attempts++ {
		cur := RetryBackoff(attempts)
		assert.GreaterOrEqual(t, cur, prev, "attempts=%d", attempts)
		prev = cur
	}
}

func TestRetryBackoffCapped(t *testing.T) {
	assert.Equal(t, time.Hour, RetryBackoff(10))
	assert.Equal(t, time.Hour, RetryBackoff(100))
}

func TestRetryBackoffNegativeAttempts(t *testing.T) {
	assert.Equal(t, 10*time.Second, RetryBackoff(-1))
}
