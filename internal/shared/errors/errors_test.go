package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvalidTransition(t *testing.T) {
	err := InvalidTransition("paid", "active")

	assert.Equal(t, "INVALID_TRANSITION", err.Code)
	assert.Equal(t, http.StatusUnprocessableEntity, err.HTTPStatus)
	assert.Equal(t, "paid", err.Details["from"])
	assert.Equal(t, "active", err.Details["to"])
	assert.True(t, Is(err, ErrInvalidTransition))
	assert.False(t, Is(err, ErrValidation))
}

func TestWrapKeepsClassification(t *testing.T) {
	base := NotFound("incident", "abc")
	wrapped := Wrap(base, "failed to load incident")

	assert.True(t, Is(wrapped, ErrNotFound))
	assert.Equal(t, http.StatusNotFound, wrapped.HTTPStatus)
	assert.Equal(t, "failed to load incident: incident not found", wrapped.Message)
	assert.Equal(t, "incident not found", base.Message, "original error must not be mutated")
}

func TestWrapFindsAppErrorInChain(t *testing.T) {
	inner := fmt.Errorf("lookup: %w", Conflict("position taken"))

	var appErr *AppError
	require.True(t, As(Wrap(inner, "add contact"), &appErr))
	assert.Equal(t, "CONFLICT", appErr.Code)
}

func TestWrapPlainError(t *testing.T) {
	wrapped := Wrap(New("boom"), "failed")

	assert.Equal(t, "INTERNAL_ERROR", wrapped.Code)
	assert.Equal(t, "failed: boom", wrapped.Error())
}
