// SPDX-License-Identifier: GPL-3.0-or-later

package mooring

import "fmt"

// ConnectError wraps a failure to establish the duplex byte channel to the
// daemon: address resolution, connection refusal, invalid TLS material, or
// a failed TLS handshake.
//
// This layer never retries. Transient failures surface to the caller,
// who decides whether to retry.
type ConnectError struct {
	// Network is the dial network ("tcp" or "unix").
	Network string

	// Address is the dial address (host:port or socket path).
	Address string

	// Err is the underlying cause.
	Err error
}

var _ error = &ConnectError{}

// Error implements error.
func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s %s: %v", e.Network, e.Address, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ConnectError) Unwrap() error {
	return e.Err
}

// RequestError is returned when the daemon answers with a non-2xx status.
//
// The Message field carries the daemon-supplied error detail when the
// error body was a JSON document containing a "message" field; otherwise
// it carries the raw body text, possibly empty.
type RequestError struct {
	// StatusCode is the HTTP status code returned by the daemon.
	StatusCode int

	// Message is the daemon-supplied error detail, possibly empty.
	Message string
}

var _ error = &RequestError{}

// Error implements error.
func (e *RequestError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon responded with status %d", e.StatusCode)
	}
	return fmt.Sprintf("daemon responded with status %d: %s", e.StatusCode, e.Message)
}

// DecodeError wraps a failure to parse a Document body or an EventStream
// line as JSON, including a body that the connection truncated before the
// JSON value was complete.
type DecodeError struct {
	// Err is the underlying cause.
	Err error
}

var _ error = &DecodeError{}

// Error implements error.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode: %v", e.Err)
}

// Unwrap returns the underlying cause.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// FrameError reports a violation of the multiplexing protocol: an invalid
// stream-type tag, non-zero reserved header bytes, a declared payload
// length above the configured maximum, or end-of-stream in the middle of
// a frame.
//
// A FrameError is fatal for the whole stream: the header layout carries no
// resynchronization marker, so there is no reliable way to skip to the
// next frame boundary once the framing is broken.
type FrameError struct {
	// Reason describes the protocol violation.
	Reason string
}

var _ error = &FrameError{}

// Error implements error.
func (e *FrameError) Error() string {
	return fmt.Sprintf("frame: %s", e.Reason)
}

// ArchiveError reports that an entry's content length, discovered while
// streaming, disagrees with the size declared in its tar header.
//
// The header was already written when the mismatch is discovered, so the
// archive cannot be corrected in a single streaming pass: the only safe
// outcome is terminating the stream with this error instead of silently
// producing a corrupt archive.
type ArchiveError struct {
	// Path is the relative path of the offending entry.
	Path string

	// Declared is the size announced in the entry's tar header.
	Declared int64

	// Actual is the number of content bytes the entry produced.
	Actual int64
}

var _ error = &ArchiveError{}

// Error implements error.
func (e *ArchiveError) Error() string {
	return fmt.Sprintf(
		"archive %s: entry declared %d bytes but content provided %d",
		e.Path, e.Declared, e.Actual)
}
