package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var errRemote = errors.New("remote failure")

func TestBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test", Config{FailureThreshold: 2, Timeout: time.Hour})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := cb.Execute(ctx, func() error { return errRemote })
		require.ErrorIs(t, err, errRemote)
	}

	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	cb := NewCircuitBreaker("test", Config{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          10 * time.Millisecond,
	})
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return errRemote })
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerIgnoresCancellation(t *testing.T) {
	cb := NewCircuitBreaker("test", Config{FailureThreshold: 1})

	err := cb.Execute(context.Background(), func() error { return context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint32(1), cb.Counts().TotalSuccesses)
}

func TestBreakerStateChangeCallback(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker("llm", Config{
		FailureThreshold: 1,
		Timeout:          time.Hour,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})

	_ = cb.Execute(context.Background(), func() error { return errRemote })

	assert.Equal(t, []string{"llm:closed->open"}, transitions)
	assert.Equal(t, "llm", cb.Name())
}

func TestBreakerLogsFailuresOnTrip(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	cb := NewCircuitBreaker("llm", Config{FailureThreshold: 3, Timeout: time.Hour, Logger: zap.New(core)})

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func() error { return errRemote })
	}
	require.Equal(t, StateOpen, cb.State())

	entries := logs.FilterMessage("Circuit breaker state changed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "llm", fields["name"])
	assert.Equal(t, "closed", fields["from"])
	assert.Equal(t, "open", fields["to"])
	assert.Equal(t, uint32(3), fields["failures"])
}
