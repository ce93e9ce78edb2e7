// SPDX-License-Identifier: GPL-3.0-or-later

package mooring

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/bassosimone/runtimex"
)

// StreamType is the stream a [Frame] belongs to.
type StreamType uint8

const (
	// StreamStdin tags frames carrying stdin content.
	StreamStdin = StreamType(0)

	// StreamStdout tags frames carrying stdout content.
	StreamStdout = StreamType(1)

	// StreamStderr tags frames carrying stderr content.
	StreamStderr = StreamType(2)
)

// String returns the stream name.
func (t StreamType) String() string {
	switch t {
	case StreamStdin:
		return "stdin"
	case StreamStdout:
		return "stdout"
	case StreamStderr:
		return "stderr"
	default:
		return fmt.Sprintf("invalid(%d)", uint8(t))
	}
}

// Frame is one typed record of a multiplexed stream.
//
// Frames are produced only by demultiplexing; callers never construct
// them. The payload length always exactly matches the length declared
// by the frame header on the wire.
type Frame struct {
	// Stream is the stream-type tag.
	Stream StreamType

	// Payload is the frame content.
	Payload []byte
}

// frameHeaderSize is the size of the wire header preceding each payload:
// [type:u8][reserved:u8×3 == 0][length:u32 big-endian].
const frameHeaderSize = 8

// NewDemuxer returns a new [*Demuxer].
//
// The cfg argument contains the common configuration for mooring
// operations; the demuxer takes its payload bound from it.
func NewDemuxer(cfg *Config) *Demuxer {
	runtimex.Assert(cfg.MaxFramePayload > 0)
	return &Demuxer{
		MaxPayload: cfg.MaxFramePayload,
		buf:        nil,
		err:        nil,
	}
}

// Demuxer splits the daemon's interleaved byte stream into typed,
// length-delimited [Frame] records.
//
// The Demuxer is a purely synchronous byte-transformation state machine:
// it holds no connection and spawns no tasks. Headers and payloads may be
// split arbitrarily across feeds; partial data is retained across calls
// and a Frame is emitted only once a complete header and its full payload
// have accumulated.
//
// Errors are latching: once [Demuxer.Feed] reports a [*FrameError], the
// stream framing is unrecoverable and every subsequent call reports the
// same error.
type Demuxer struct {
	// MaxPayload bounds the payload length a single header may declare.
	//
	// Set by [NewDemuxer] from [Config.MaxFramePayload].
	MaxPayload int

	// buf retains partial frame data across feeds.
	buf []byte

	// err is the latched protocol violation, if any.
	err error
}

// Feed accumulates the given chunk and returns the frames completed by it,
// possibly none.
//
// Returns a [*FrameError] on an invalid stream-type tag, non-zero reserved
// header bytes, or a declared payload length above MaxPayload. Frames
// completed before the violation are not returned: a violated stream
// cannot be trusted, so the error wins.
func (d *Demuxer) Feed(chunk []byte) ([]Frame, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.buf = append(d.buf, chunk...)
	var frames []Frame
	for len(d.buf) >= frameHeaderSize {
		tag := d.buf[0]
		if tag > uint8(StreamStderr) {
			return nil, d.fail(fmt.Sprintf("invalid stream-type tag %d", tag))
		}
		if d.buf[1] != 0 || d.buf[2] != 0 || d.buf[3] != 0 {
			return nil, d.fail("non-zero reserved header bytes")
		}
		length := binary.BigEndian.Uint32(d.buf[4:8])
		if int64(length) > int64(d.MaxPayload) {
			return nil, d.fail(fmt.Sprintf(
				"declared payload length %d exceeds maximum %d", length, d.MaxPayload))
		}
		if len(d.buf) < frameHeaderSize+int(length) {
			break
		}
		payload := make([]byte, length)
		copy(payload, d.buf[frameHeaderSize:frameHeaderSize+int(length)])
		frames = append(frames, Frame{Stream: StreamType(tag), Payload: payload})
		d.buf = d.buf[frameHeaderSize+int(length):]
	}
	return frames, nil
}

// Finish reports whether the stream ended cleanly.
//
// End-of-stream with a non-empty partial header or payload buffer is a
// truncated frame, reported as a [*FrameError] rather than silently
// dropped.
func (d *Demuxer) Finish() error {
	if d.err != nil {
		return d.err
	}
	if len(d.buf) > 0 {
		return d.fail(fmt.Sprintf("truncated frame: %d trailing bytes", len(d.buf)))
	}
	return nil
}

func (d *Demuxer) fail(reason string) error {
	d.err = &FrameError{Reason: reason}
	return d.err
}

// Frames returns the typed frame sequence of a multiplexed RawStream body.
//
// Calling Frames on a non-RawStream response is a programmer error.
func (r *Response) Frames() *FrameStream {
	return &FrameStream{
		demux:   &Demuxer{MaxPayload: r.maxFramePayload, buf: nil, err: nil},
		done:    false,
		err:     nil,
		pending: nil,
		raw:     r.Raw(),
	}
}

// FrameStream is a lazy, single-pass sequence of [Frame] records pulled
// from a [*RawStream] through a [*Demuxer].
type FrameStream struct {
	// demux is the framing state machine.
	demux *Demuxer

	// done records that the raw sequence ended cleanly.
	done bool

	// err is the latched terminal error, if any.
	err error

	// pending holds frames decoded but not yet delivered.
	pending []Frame

	// raw is the underlying chunk sequence.
	raw *RawStream
}

// Next returns the next frame.
//
// Returns [io.EOF] when the stream ends on a frame boundary, a
// [*FrameError] on a protocol violation (fatal for the whole stream),
// or the underlying I/O error. Frames already delivered stand.
func (s *FrameStream) Next() (*Frame, error) {
	for {
		if s.err != nil {
			return nil, s.err
		}
		if len(s.pending) > 0 {
			frame := s.pending[0]
			s.pending = s.pending[1:]
			return &frame, nil
		}
		if s.done {
			return nil, io.EOF
		}
		chunk, err := s.raw.Next()
		switch {
		case err == nil:
			frames, err := s.demux.Feed(chunk)
			if err != nil {
				s.err = err
				s.raw.Close()
				return nil, s.err
			}
			s.pending = frames

		case errors.Is(err, io.EOF):
			s.done = true
			if err := s.demux.Finish(); err != nil {
				s.err = err
				return nil, s.err
			}

		default:
			s.err = err
			return nil, s.err
		}
	}
}

// Close releases the connection without consuming the rest of the stream.
func (s *FrameStream) Close() error {
	return s.raw.Close()
}
