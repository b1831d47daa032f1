package errorbank

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err    *AppError
		status int
		code   codes.Code
	}{
		{BadRequest("x"), http.StatusBadRequest, codes.InvalidArgument},
		{NotFound("x"), http.StatusNotFound, codes.NotFound},
		{Conflict("x"), http.StatusConflict, codes.AlreadyExists},
		{Unprocessable("x"), http.StatusUnprocessableEntity, codes.FailedPrecondition},
		{LimitExceeded("x"), http.StatusTooManyRequests, codes.ResourceExhausted},
		{Unavailable("x"), http.StatusServiceUnavailable, codes.Unavailable},
		{Internal("x"), http.StatusInternalServerError, codes.Internal},
	}
	for _, tc := range cases {
		t.Run(string(tc.err.Kind()), func(t *testing.T) {
			assert.Equal(t, tc.status, tc.err.StatusCode())
			assert.Equal(t, tc.code, tc.err.GRPCCode())
		})
	}
}

func TestReasons(t *testing.T) {
	err := BadRequest("invalid order", WithReasons("a"), WithReasons("b", "c"))
	assert.Equal(t, []string{"a", "b", "c"}, err.Reasons())

	plain := NotFound("order not found")
	assert.Equal(t, []string{"order not found"}, plain.Reasons())
}

func TestFromAndIsKind(t *testing.T) {
	cause := errors.New("boom")
	wrapped := fmt.Errorf("create: %w", LimitExceeded("full", WithCause(cause)))

	assert.True(t, IsKind(wrapped, KindLimitExceeded))
	assert.False(t, IsKind(wrapped, KindInternal))
	assert.ErrorIs(t, wrapped, cause)

	appErr := From(wrapped)
	require.NotNil(t, appErr)
	assert.Equal(t, KindLimitExceeded, appErr.Kind())

	internal := From(cause)
	assert.Equal(t, KindInternal, internal.Kind())
	assert.Nil(t, From(nil))
}
