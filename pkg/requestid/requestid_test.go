package requestid_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/creditkit/pkg/requestid"
)

func TestMiddleware(t *testing.T) {
	t.Parallel()

	capture := func(got *string) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			*got = requestid.FromContext(r.Context())
		})
	}

	t.Run("generates id when absent", func(t *testing.T) {
		t.Parallel()

		var got string
		rec := httptest.NewRecorder()
		requestid.Middleware(capture(&got)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		require.NotEmpty(t, got)
		_, err := uuid.Parse(got)
		assert.NoError(t, err)
		assert.Equal(t, got, rec.Header().Get(requestid.Header))
	})

	t.Run("honors valid inbound id", func(t *testing.T) {
		t.Parallel()

		var got string
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(requestid.Header, "client-id_01")
		requestid.Middleware(capture(&got)).ServeHTTP(httptest.NewRecorder(), req)

		assert.Equal(t, "client-id_01", got)
	})

	t.Run("replaces malformed inbound id", func(t *testing.T) {
		t.Parallel()

		var got string
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(requestid.Header, "bad id\nwith newline")
		requestid.Middleware(capture(&got)).ServeHTTP(httptest.NewRecorder(), req)

		assert.NotEqual(t, "bad id\nwith newline", got)
		_, err := uuid.Parse(got)
		assert.NoError(t, err)
	})
}

func TestFromContext_Empty(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, requestid.FromContext(req.Context()))
}
