package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestError_Error tests the rendering of coded errors
func TestError_Error(t *testing.T) {
	err := NewError(OrderingViolation, "sequence not increasing")
	assert.Equal(t, "[ordering-violation] sequence not increasing", err.Error())

	err = NewErrorf(NegotiationError, "bad options for %s", "x").WithDetails(42)
	assert.Equal(t, "[negotiation] bad options for x: 42", err.Error())

	cause := errors.New("boom")
	err = NewError(DispatchError, "send failed").WithCause(cause)
	assert.Equal(t, "[dispatch] send failed: boom", err.Error())
	assert.Same(t, cause, Unwrap(err))
}

// TestError_Is tests sentinel matching through wrapping
func TestError_Is(t *testing.T) {
	err := NewError(Cancelled, "textDocument/semanticTokens/full cancelled")
	assert.True(t, Is(err, ErrCancelled))
	assert.False(t, Is(err, ErrDisposed))

	wrapped := fmt.Errorf("outer: %w", err)
	assert.True(t, Is(wrapped, ErrCancelled))
}

// TestHasCode tests code extraction helpers
func TestHasCode(t *testing.T) {
	err := fmt.Errorf("wrap: %w", NewError(RegistrationConflict, "overlap"))

	assert.True(t, HasCode(err, RegistrationConflict))
	assert.False(t, HasCode(err, RegistrationDisposed))
	assert.False(t, HasCode(errors.New("plain"), RegistrationConflict))

	assert.Equal(t, RegistrationConflict, CodeOf(err))
	assert.Equal(t, Unknown, CodeOf(errors.New("plain")))
	assert.Equal(t, None, CodeOf(nil))
}

// TestErrorCode_String tests code names
func TestErrorCode_String(t *testing.T) {
	assert.Equal(t, "cancelled", Cancelled.String())
	assert.Equal(t, "code(77)", ErrorCode(77).String())
}
