package testutil

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/biocloudlabs/backend/internal/interfaces/http/dto"
)

// PerformRequest issues an in-process HTTP request against the engine.
// A non-nil body is JSON encoded and the Content-Type header is set.
func PerformRequest(t *testing.T, engine *gin.Engine, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err, "failed to marshal request body")
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

// PerformRaw issues a request with an unencoded payload, for endpoints
// that consume the raw body such as webhook receivers.
func PerformRaw(t *testing.T, engine *gin.Engine, method, path string, payload []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

// DecodeEnvelope parses the standard response envelope and, when out is
// non-nil, re-marshals the Data field into it.
func DecodeEnvelope(t *testing.T, w *httptest.ResponseRecorder, out any) dto.Response {
	t.Helper()

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "response is not a valid envelope")

	if out != nil && resp.Data != nil {
		raw, err := json.Marshal(resp.Data)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, out), "response data does not match target type")
	}
	return resp
}

// RequireErrorCode asserts the status code and the wire error code of a
// failed request.
func RequireErrorCode(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()

	require.Equal(t, status, w.Code, "unexpected HTTP status: %s", w.Body.String())
	resp := DecodeEnvelope(t, w, nil)
	require.False(t, resp.Success)
	require.NotNil(t, resp.Error, "error body missing")
	require.Equal(t, code, resp.Error.Code)
}

// AuthHeader builds the Authorization header map for a bearer token.
func AuthHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

// RequireSuccess asserts a 2xx envelope and decodes its data payload.
func RequireSuccess(t *testing.T, w *httptest.ResponseRecorder, status int, out any) dto.Response {
	t.Helper()

	require.Equal(t, status, w.Code, "unexpected HTTP status: %s", w.Body.String())
	resp := DecodeEnvelope(t, w, out)
	require.True(t, resp.Success, "expected success envelope: %s", w.Body.String())
	return resp
}
