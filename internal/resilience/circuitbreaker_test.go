package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errUpstream = errors.New("upstream down")

func fail(context.Context) error { return errUpstream }
func ok(context.Context) error   { return nil }

func TestCircuitOpensAfterThreshold(t *testing.T) {
	var transitions []CircuitState
	cb := NewCircuitBreaker("polygon", CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
		OnStateChange: func(_ string, _, to CircuitState) {
			transitions = append(transitions, to)
		},
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errUpstream)
	}
	assert.Equal(t, CircuitOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen)
	assert.Equal(t, []CircuitState{CircuitOpen}, transitions)
	assert.Equal(t, int64(1), cb.Stats().TotalRejected)
}

func TestCircuitHalfOpenRecovers(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker("polygon", CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Second})
	cb.now = func() time.Time { return now }
	ctx := context.Background()

	assert.Error(t, cb.Execute(ctx, fail))
	assert.Equal(t, CircuitOpen, cb.State())

	now = now.Add(2 * time.Second)
	assert.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitIgnoresNonFailures(t *testing.T) {
	notFound := errors.New("no data")
	cb := NewCircuitBreaker("polygon", CircuitBreakerConfig{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return !errors.Is(err, notFound) },
	})

	_, err := ExecuteWithResult(context.Background(), cb, func(context.Context) (int, error) {
		return 0, notFound
	})
	assert.ErrorIs(t, err, notFound)
	assert.Equal(t, CircuitClosed, cb.State())
}
