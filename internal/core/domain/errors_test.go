package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{ErrInvalidInput, KindInvalidInput},
		{ErrNotFound, KindNotFound},
		{ErrConflict, KindConflict},
		{ErrTransient, KindTransient},
		{ErrRateLimited, KindRateLimited},
		{ErrPartialResult, KindPartialResult},
		{ErrFatalConfig, KindFatalConfig},
		{ErrInternal, KindInternal},
		{errors.New("surprise"), KindInternal},
		{fmt.Errorf("store: %w", ErrTransient), KindTransient},
		{fmt.Errorf("lookup %q: %w", "X", ErrNotFound), KindNotFound},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Kind(tt.err), "err=%v", tt.err)
	}
}

func TestRateLimitError(t *testing.T) {
	err := &RateLimitError{Tool: "search_tests", RetryAfter: 2 * time.Second}
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, KindRateLimited, Kind(err))
	assert.Contains(t, err.Error(), "search_tests")
}

func TestInputError(t *testing.T) {
	err := &InputError{Index: 3, Reason: "input too long"}
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, KindInvalidInput, Kind(err))
	assert.Contains(t, err.Error(), "index 3")
}
