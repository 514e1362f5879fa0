package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akave-ai/devlog/internal/apperr"
)

func TestFromError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		msg    string
	}{
		{apperr.Validation("bad id"), http.StatusBadRequest, "bad id"},
		{apperr.Unauthorized("invalid user id"), http.StatusUnauthorized, "invalid user id"},
		{apperr.Forbidden("not yours"), http.StatusForbidden, "not yours"},
		{apperr.NotFound("no pending request"), http.StatusNotFound, "no pending request"},
		{apperr.Conflict("raced", nil), http.StatusInternalServerError, "raced"},
		{apperr.Storage("failed to save logs", errors.New("disk")), http.StatusInternalServerError, "failed to save logs"},
		{errors.New("secret detail"), http.StatusInternalServerError, "internal server error"},
	}
	e := echo.New()
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/logs/upload", nil), rec)
		require.NoError(t, FromError(c, tc.err))

		assert.Equal(t, tc.status, rec.Code)
		var body APIError
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, tc.status, body.Status)
		assert.Equal(t, tc.msg, body.Message)
		assert.Equal(t, "/logs/upload", body.Path)
		assert.NotContains(t, rec.Body.String(), "disk")
	}
}
