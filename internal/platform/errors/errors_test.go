package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_HTTPStatus(t *testing.T) {
	cases := []struct {
		err    *Error
		status int
	}{
		{ValidationError("bad input"), http.StatusBadRequest},
		{UnauthorizedError("no key"), http.StatusUnauthorized},
		{NotFoundError("missing"), http.StatusNotFound},
		{InternalError("boom", nil), http.StatusInternalServerError},
		{DeliveryError("smtp down", nil), http.StatusBadGateway},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, tc.err.HTTPStatus(), tc.err.Message)
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := InternalError("wrapper", cause)
	assert.True(t, errors.Is(err, cause))
}

func TestError_MessageFormat(t *testing.T) {
	err := DeliveryError("send failed", fmt.Errorf("dial tcp: refused"))
	assert.Equal(t, "delivery: send failed: dial tcp: refused", err.Error())

	bare := ValidationError("userId is required")
	assert.Equal(t, "validation: userId is required", bare.Error())
}

func TestAsStructuredError_PassesThrough(t *testing.T) {
	orig := NotFoundError("nope")
	got := AsStructuredError(fmt.Errorf("wrapped: %w", orig))
	assert.Same(t, orig, got)
}

func TestAsStructuredError_WrapsPlainError(t *testing.T) {
	got := AsStructuredError(errors.New("plain"))
	require.NotNil(t, got)
	assert.Equal(t, TypeInternal, got.Type)
}

func TestWithContext(t *testing.T) {
	err := ValidationError("bad").WithContext("field", "userId")
	assert.Equal(t, "userId", err.Context["field"])

	resp := err.ToResponse()
	assert.Equal(t, "bad", resp.Error)
	assert.Equal(t, "userId", resp.Context["field"])
}
