// SPDX-License-Identifier: GPL-3.0-or-later

package mooring

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewRequest returns a request with empty query and headers and no body.
func TestNewRequest(t *testing.T) {
	req := NewRequest(http.MethodGet, "/containers/json")

	require.NotNil(t, req)
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "/containers/json", req.Path)
	assert.NotNil(t, req.Query)
	assert.Empty(t, req.Query)
	assert.NotNil(t, req.Header)
	assert.Empty(t, req.Header)
	assert.Nil(t, req.Body)
}

// BytesBody reports its exact length and replays its buffer.
func TestBytesBody(t *testing.T) {
	body := BytesBody(`{"Image":"alpine"}`)

	assert.Equal(t, int64(18), body.Length())

	data, err := io.ReadAll(body.Open())
	require.NoError(t, err)
	assert.Equal(t, `{"Image":"alpine"}`, string(data))
}

// ReaderBody reports an unknown length and exposes the reader as-is.
func TestReaderBody(t *testing.T) {
	reader := strings.NewReader("streamed content")
	body := ReaderBody{R: reader}

	assert.Equal(t, int64(-1), body.Length())

	data, err := io.ReadAll(body.Open())
	require.NoError(t, err)
	assert.Equal(t, "streamed content", string(data))
}

// newHTTPRequest serializes method, path, query, and headers.
func TestRequestNewHTTPRequest(t *testing.T) {
	req := NewRequest(http.MethodPost, "/containers/create")
	req.Query.Set("name", "web")
	req.Header.Set("Content-Type", "application/json")
	req.Body = BytesBody(`{"Image":"alpine"}`)

	hreq, err := req.newHTTPRequest(context.Background(), "http", "daemon")

	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, hreq.Method)
	assert.Equal(t, "http://daemon/containers/create?name=web", hreq.URL.String())
	assert.Equal(t, "application/json", hreq.Header.Get("Content-Type"))
	assert.Equal(t, int64(18), hreq.ContentLength)

	data, err := io.ReadAll(hreq.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"Image":"alpine"}`, string(data))
}

// newHTTPRequest marks unknown-length bodies for chunked transfer encoding.
func TestRequestNewHTTPRequestChunked(t *testing.T) {
	req := NewRequest(http.MethodPost, "/build")
	req.Body = ReaderBody{R: strings.NewReader("tar bytes")}

	hreq, err := req.newHTTPRequest(context.Background(), "http", "daemon")

	require.NoError(t, err)
	assert.Equal(t, int64(-1), hreq.ContentLength)
}

// newHTTPRequest without a body produces a zero-length request.
func TestRequestNewHTTPRequestNoBody(t *testing.T) {
	req := NewRequest(http.MethodGet, "/info")

	hreq, err := req.newHTTPRequest(context.Background(), "http", "daemon")

	require.NoError(t, err)
	assert.Equal(t, int64(0), hreq.ContentLength)
	assert.Nil(t, hreq.Body)
}

// newHTTPRequest rejects invalid methods.
func TestRequestNewHTTPRequestInvalidMethod(t *testing.T) {
	req := NewRequest("GET METHOD", "/info")

	hreq, err := req.newHTTPRequest(context.Background(), "http", "daemon")

	require.Error(t, err)
	assert.Nil(t, hreq)
}
