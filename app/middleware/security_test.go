package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_AllowWithinWindow(t *testing.T) {
	limiter := NewRateLimiter(3, time.Minute)

	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.False(t, limiter.Allow("10.0.0.1"))

	// 不同客户端各自计数
	assert.True(t, limiter.Allow("10.0.0.2"))
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	limiter := NewRateLimiter(1, 20*time.Millisecond)

	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.False(t, limiter.Allow("10.0.0.1"))

	time.Sleep(30 * time.Millisecond)
	assert.True(t, limiter.Allow("10.0.0.1"))
}
