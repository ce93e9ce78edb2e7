// SPDX-License-Identifier: GPL-3.0-or-later

package mooring

import (
	"io"
	"net/http"
	"sync"
)

// Shape is the semantic shape of a [Response] body.
type Shape int

const (
	// ShapeDocument is a single JSON document.
	ShapeDocument = Shape(iota)

	// ShapeEventStream is a newline-delimited stream of JSON values,
	// used by the daemon for progress and event feeds.
	ShapeEventStream

	// ShapeRawStream is an uninterpreted byte stream, possibly carrying
	// multiplexed stdin/stdout/stderr frames.
	ShapeRawStream
)

// String returns the shape name.
func (s Shape) String() string {
	switch s {
	case ShapeDocument:
		return "document"
	case ShapeEventStream:
		return "eventStream"
	case ShapeRawStream:
		return "rawStream"
	default:
		return "unknown"
	}
}

// Response is the classified result of a [DaemonConn.Exchange].
//
// A Response owns the connection the exchange ran on. Consume the body
// through exactly one of [Response.Document], [Response.Events],
// [Response.Raw], or [Response.Frames], matching the Shape; the body is
// lazy and single-pass, so consuming an item advances the underlying
// connection and is not restartable.
//
// The caller must ensure [Response.Close] runs when done. Document
// consumes and closes in one step; the lazy sequences close the Response
// when they end or fail, but an abandoned sequence still requires an
// explicit Close (or a [CancelWatchFunc]-wrapped connection).
type Response struct {
	// Shape is the semantic shape of the body.
	Shape Shape

	// StatusCode is the HTTP status code.
	StatusCode int

	// Header contains the response headers.
	Header http.Header

	// body is the lazily-consumed response body.
	body io.ReadCloser

	// closeConn releases the owned connection.
	closeConn func() error

	// closeOnce ensures that Close has "once" semantics.
	closeOnce sync.Once

	// maxFramePayload bounds frame payloads in [Response.Frames].
	maxFramePayload int
}

// Close closes the body and releases the owned connection.
func (r *Response) Close() (err error) {
	r.closeOnce.Do(func() {
		err = r.body.Close()
		if closeErr := r.closeConn(); err == nil {
			err = closeErr
		}
	})
	return
}
