package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProviderErrorRetryable(t *testing.T) {
	cases := []struct {
		status int
		want   bool
	}{
		{200, false},
		{401, false},
		{404, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range cases {
		err := NewProviderError("/v2/aggs", tc.status, "x", nil)
		assert.Equal(t, tc.want, IsRetryable(err), "status %d", tc.status)
		assert.Equal(t, tc.want, IsRetryable(fmt.Errorf("wrapped: %w", err)), "wrapped status %d", tc.status)
	}
}

func TestIsRetryableSentinels(t *testing.T) {
	assert.True(t, IsRetryable(Wrap(ErrConnectionFailed, "dial")))
	assert.True(t, IsRetryable(ErrTimeout))
	assert.False(t, IsRetryable(ErrInvalidAPIKey))
	assert.False(t, IsRetryable(nil))
}

func TestValidationErrorUnwrapsToSentinel(t *testing.T) {
	err := Wrap(NewValidationError("symbols", nil, "at least one symbol is required"), "backtest")
	assert.True(t, Is(err, ErrInputValidation))

	var ve *ValidationError
	assert.True(t, As(err, &ve))
	assert.Equal(t, "symbols", ve.Field)
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "ctx"))
	assert.NoError(t, Wrapf(nil, "ctx %d", 1))
}
