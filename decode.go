// SPDX-License-Identifier: GPL-3.0-or-later

package mooring

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"

	"github.com/bassosimone/runtimex"
)

// Document reads the whole body and parses it as a single JSON value.
//
// The [*Response] is closed regardless of the outcome. Returns a
// [*DecodeError] when the body is malformed JSON or the connection
// closes before the body terminates.
//
// Calling Document on a non-Document response is a programmer error.
func (r *Response) Document() (any, error) {
	runtimex.Assert(r.Shape == ShapeDocument)
	defer r.Close()
	data, err := io.ReadAll(r.body)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, &DecodeError{Err: err}
	}
	return value, nil
}

// Events returns the lazy sequence of JSON values in an EventStream body.
//
// Calling Events on a non-EventStream response is a programmer error.
func (r *Response) Events() *EventStream {
	runtimex.Assert(r.Shape == ShapeEventStream)
	return &EventStream{
		br:   bufio.NewReader(r.body),
		done: false,
		err:  nil,
		resp: r,
	}
}

// EventStream is a lazy, single-pass sequence of JSON values, one per
// newline-delimited line of the response body.
//
// Partial lines across I/O boundaries are buffered until a full line is
// available. The sequence ends when the body reports end-of-stream; a
// trailing non-empty undelimited line at end-of-stream is parsed as one
// final value. Consuming a value advances the underlying connection:
// the sequence is never restartable.
type EventStream struct {
	// br buffers partial lines across reads.
	br *bufio.Reader

	// done records that the body reported end-of-stream.
	done bool

	// err is the latched terminal error, if any.
	err error

	// resp is the [*Response] that owns the connection.
	resp *Response
}

// Next returns the next JSON value in the stream.
//
// Returns [io.EOF] when the sequence ends, a [*DecodeError] when a line
// is malformed JSON, or the underlying I/O error. Any error terminates
// the sequence and releases the connection; values already delivered
// stand.
func (s *EventStream) Next() (json.RawMessage, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.done {
		return nil, io.EOF
	}
	for {
		line, err := s.br.ReadBytes('\n')
		switch {
		case err == nil:
			line = trimLineEnding(line)
			if len(line) == 0 {
				continue
			}
			return s.parseLine(line)

		case errors.Is(err, io.EOF):
			s.done = true
			line = trimLineEnding(line)
			if len(line) == 0 {
				s.resp.Close()
				return nil, io.EOF
			}
			// Final unterminated value at end-of-stream.
			return s.parseLine(line)

		default:
			return nil, s.fail(err)
		}
	}
}

// Close releases the connection without consuming the rest of the stream.
func (s *EventStream) Close() error {
	return s.resp.Close()
}

func (s *EventStream) parseLine(line []byte) (json.RawMessage, error) {
	var value json.RawMessage
	if err := json.Unmarshal(line, &value); err != nil {
		return nil, s.fail(&DecodeError{Err: err})
	}
	if s.done {
		s.resp.Close()
	}
	return value, nil
}

func (s *EventStream) fail(err error) error {
	s.err = err
	s.resp.Close()
	return err
}

// trimLineEnding removes a trailing LF or CRLF.
func trimLineEnding(line []byte) []byte {
	if n := len(line); n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
	}
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line
}

// rawChunkSize is the read granularity of a [*RawStream].
const rawChunkSize = 32 << 10

// Raw returns the lazy sequence of raw byte chunks in a RawStream body.
//
// Calling Raw on a non-RawStream response is a programmer error.
func (r *Response) Raw() *RawStream {
	runtimex.Assert(r.Shape == ShapeRawStream)
	return &RawStream{
		buf:  make([]byte, rawChunkSize),
		err:  nil,
		resp: r,
	}
}

// RawStream is a lazy, single-pass sequence of raw byte chunks delivered
// as they arrive, with no interpretation. Feed it into a [*FrameStream]
// (via [Response.Frames]) when the body carries multiplexed frames.
type RawStream struct {
	// buf is the reusable read buffer.
	buf []byte

	// err is the latched terminal error, if any.
	err error

	// resp is the [*Response] that owns the connection.
	resp *Response
}

// Next returns the next chunk of bytes.
//
// The returned slice aliases an internal buffer and is only valid until
// the following call to Next. Returns [io.EOF] when the stream ends or
// the underlying I/O error; either terminates the sequence and releases
// the connection.
func (s *RawStream) Next() ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	for {
		count, err := s.resp.body.Read(s.buf)
		if count > 0 {
			if err != nil {
				// Deliver the chunk now; surface the error on the
				// next call.
				s.err = err
				s.resp.Close()
			}
			return s.buf[:count], nil
		}
		if err != nil {
			s.err = err
			s.resp.Close()
			return nil, s.err
		}
	}
}

// Close releases the connection without consuming the rest of the stream.
func (s *RawStream) Close() error {
	return s.resp.Close()
}
