package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapKeepsInnerCode(t *testing.T) {
	base := ConfigInvalid("burn_in must be smaller than total_steps")
	wrapped := Wrap(base, "configuration validation failed")

	assert.Equal(t, CodeConfigInvalid, GetCode(wrapped))
	assert.True(t, stderrors.Is(wrapped, base))
	assert.Contains(t, wrapped.Error(), "burn_in")
}

func TestWrapForeignError(t *testing.T) {
	cause := fmt.Errorf("boom")
	wrapped := Wrap(cause, "replicate 3")

	assert.Equal(t, CodeInternalError, GetCode(wrapped))
	assert.Equal(t, "replicate 3: boom", wrapped.Error())
	assert.Nil(t, Wrap(nil, "ignored"))
}

func TestNumericalAndNestedLookup(t *testing.T) {
	sentinel := stderrors.New("singular")
	err := Numerical("coefficient x1", sentinel)
	outer := fmt.Errorf("view 0: %w", err)
	assert.True(t, stderrors.Is(outer, sentinel))

	var appErr *AppError
	assert.True(t, stderrors.As(outer, &appErr))
	assert.Equal(t, CodeNumerical, GetCode(outer))
	assert.Equal(t, "UNKNOWN", GetCode(sentinel))
}
