package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewJSONRequest creates an *http.Request with JSON body and Content-Type header.
func NewJSONRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		err := json.NewEncoder(&buf).Encode(body)
		require.NoError(t, err, "failed to encode request body")
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// AssertJSONResponse reads the response body as JSON, asserts the status code,
// and unmarshals into the provided target. Returns the raw body bytes.
func AssertJSONResponse(t *testing.T, rec *httptest.ResponseRecorder, expectedStatus int, target any) []byte {
	t.Helper()
	assert.Equal(t, expectedStatus, rec.Code, "unexpected status code")
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	body := rec.Body.Bytes()
	if target != nil {
		err := json.Unmarshal(body, target)
		require.NoError(t, err, "failed to unmarshal response body: %s", string(body))
	}
	return body
}

// AssertJSONError asserts that the response carries the uniform error
// envelope with the expected status code and a message containing the given
// substring.
func AssertJSONError(t *testing.T, rec *httptest.ResponseRecorder, expectedStatus int, messageSubstring string) {
	t.Helper()
	var resp struct {
		Status  int      `json:"status"`
		Message string   `json:"message"`
		Details []string `json:"details"`
	}
	AssertJSONResponse(t, rec, expectedStatus, &resp)
	assert.Equal(t, expectedStatus, resp.Status, "envelope status should match HTTP status")
	assert.NotNil(t, resp.Details, "details should never be null")
	assert.Contains(t, resp.Message, messageSubstring, "error message should contain expected substring")
}
