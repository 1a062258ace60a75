package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := NewError(ErrVersionNotFound, "version v-123 not found")
	assert.Equal(t, "[VERSION_NOT_FOUND] version v-123 not found", err.Error())

	cause := errors.New("row missing")
	withCause := NewError(ErrInternalError, "loading version").WithCause(cause)
	assert.Equal(t, "[INTERNAL_ERROR] loading version: row missing", withCause.Error())
	assert.Same(t, cause, errors.Unwrap(withCause))
}

func TestErrorRetryable(t *testing.T) {
	err := NewError(ErrStoreNotReady, "redis unavailable").WithRetryable(true)
	assert.True(t, err.Retryable)
	assert.False(t, NewError(ErrInvalidRequest, "bad input").Retryable)
}

func TestIsCode(t *testing.T) {
	base := NewError(ErrCandidateExists, "candidate already under test")

	assert.True(t, IsCode(base, ErrCandidateExists))
	assert.False(t, IsCode(base, ErrTestNotFound))
	assert.False(t, IsCode(nil, ErrCandidateExists))
	assert.False(t, IsCode(errors.New("plain"), ErrCandidateExists))

	// The code is found through wrapping in either direction.
	wrapped := fmt.Errorf("cycle failed: %w", base)
	assert.True(t, IsCode(wrapped, ErrCandidateExists))

	outer := NewError(ErrInternalError, "outer").WithCause(base)
	assert.True(t, IsCode(outer, ErrCandidateExists))
	assert.True(t, IsCode(outer, ErrInternalError))
}
