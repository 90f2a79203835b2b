package services

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 2, time.Minute)
	backendErr := errors.New("backend down")

	for i := 0; i < 3; i++ {
		err := cb.Call(func() error { return backendErr })
		require.Error(t, err)
	}
	assert.Equal(t, StateOpen, cb.GetState())

	// 打开后直接短路,不再调用后端
	called := false
	err := cb.Call(func() error { called = true; return nil })
	require.Error(t, err)
	assert.False(t, called)

	var cbErr *CircuitBreakerError
	require.True(t, errors.As(err, &cbErr))
	assert.Equal(t, StateOpen, cbErr.State)
	assert.True(t, errors.Is(err, ErrCircuitOpen))
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 2, 10*time.Millisecond)

	require.Error(t, cb.Call(func() error { return errors.New("boom") }))
	assert.Equal(t, StateOpen, cb.GetState())

	// 超时后进入半开,连续成功达到阈值才关闭
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateHalfOpen, cb.GetState())

	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 2, 10*time.Millisecond)

	require.Error(t, cb.Call(func() error { return errors.New("boom") }))
	time.Sleep(20 * time.Millisecond)

	require.Error(t, cb.Call(func() error { return errors.New("still down") }))
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestCircuitBreaker_ClosedResetsOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 1, time.Minute)

	// 失败计数在成功后清零,不会累计跨越成功的失败
	require.Error(t, cb.Call(func() error { return errors.New("boom") }))
	require.Error(t, cb.Call(func() error { return errors.New("boom") }))
	require.NoError(t, cb.Call(func() error { return nil }))
	require.Error(t, cb.Call(func() error { return errors.New("boom") }))
	require.Error(t, cb.Call(func() error { return errors.New("boom") }))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestGetCircuitBreaker_SharedInstance(t *testing.T) {
	first := GetCircuitBreaker("shared-test-instance")
	second := GetCircuitBreaker("shared-test-instance")
	assert.Same(t, first, second)
}
