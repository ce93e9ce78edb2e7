// SPDX-License-Identifier: GPL-3.0-or-later

package mooring

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
)

// Request describes one HTTP request to the daemon.
//
// Endpoint builders construct a Request with the method, API path, query
// parameters, headers, and optional body, then hand it to
// [DaemonConn.Exchange]. The Request does not know which transport will
// carry it.
type Request struct {
	// Method is the HTTP method (e.g., "POST").
	Method string

	// Path is the API path (e.g., "/containers/json").
	Path string

	// Query contains the optional query parameters.
	Query url.Values

	// Header contains the optional extra headers. Keys are unique;
	// values are ordered per key.
	Header http.Header

	// Body is the optional request body source.
	Body BodySource
}

// NewRequest returns a new [*Request] with the given method and path
// and no query, headers, or body.
func NewRequest(method string, path string) *Request {
	return &Request{
		Method: method,
		Path:   path,
		Query:  url.Values{},
		Header: http.Header{},
		Body:   nil,
	}
}

// BodySource is the source of a [Request] body.
//
// The two implementations are [BytesBody] (a fixed buffer of known
// length) and [ReaderBody] (a lazy byte-producing sequence of unknown
// length, sent using chunked transfer encoding).
type BodySource interface {
	// Open returns the content reader.
	Open() io.Reader

	// Length returns the content length in bytes, or -1 when the
	// length is not known ahead of time.
	Length() int64
}

// BytesBody is a [BodySource] backed by a fixed byte buffer.
type BytesBody []byte

var _ BodySource = BytesBody(nil)

// Open implements [BodySource].
func (b BytesBody) Open() io.Reader {
	return bytes.NewReader(b)
}

// Length implements [BodySource].
func (b BytesBody) Length() int64 {
	return int64(len(b))
}

// ReaderBody is a [BodySource] backed by a lazy reader whose length is
// not known ahead of time, such as the output of [ArchiveFunc]. The body
// is sent using chunked transfer encoding.
type ReaderBody struct {
	// R produces the body bytes.
	R io.Reader
}

var _ BodySource = ReaderBody{}

// Open implements [BodySource].
func (b ReaderBody) Open() io.Reader {
	return b.R
}

// Length implements [BodySource].
//
// This function returns -1: the length is unknown until the reader
// is exhausted.
func (b ReaderBody) Length() int64 {
	return -1
}

// newHTTPRequest serializes the [*Request] into an [*http.Request]
// addressed to the given authority with the given URL scheme.
func (r *Request) newHTTPRequest(ctx context.Context, scheme string, authority string) (*http.Request, error) {
	reqURL := &url.URL{
		Scheme:   scheme,
		Host:     authority,
		Path:     r.Path,
		RawQuery: r.Query.Encode(),
	}
	var body io.Reader
	contentLength := int64(0)
	if r.Body != nil {
		body = r.Body.Open()
		contentLength = r.Body.Length()
	}
	hreq, err := http.NewRequestWithContext(ctx, r.Method, reqURL.String(), body)
	if err != nil {
		return nil, err
	}
	// A negative length makes net/http fall back to chunked transfer
	// encoding, which is what we need for archiver output.
	hreq.ContentLength = contentLength
	for key, values := range r.Header {
		for _, value := range values {
			hreq.Header.Add(key, value)
		}
	}
	return hreq, nil
}
