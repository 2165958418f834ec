package exception

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/yanun0323/errors"
)

func TestSentinelsSurviveWrapping(t *testing.T) {
	sentinels := []error{
		ErrClockRegression,
		ErrNoPosition,
		ErrOrderRetriesExhausted,
		ErrZeroQuantity,
		ErrStoreClosed,
		ErrInvalidArgument,
	}
	for _, sentinel := range sentinels {
		t.Run(sentinel.Error(), func(t *testing.T) {
			wrapped := errors.Wrapf(sentinel, "symbol %s", "AAA")
			twice := errors.Wrap(wrapped, "cycle 3")
			formatted := errors.Errorf("submit order 7: %w", twice)

			for _, err := range []error{wrapped, twice, formatted} {
				assert.ErrorIs(t, err, sentinel)
				assert.True(t, stderrors.Is(err, sentinel))
				assert.True(t, errors.Is(err, sentinel))
			}
			assert.False(t, stderrors.Is(wrapped, ErrInternal))
		})
	}
}
