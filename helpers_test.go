// SPDX-License-Identifier: GPL-3.0-or-later

package mooring

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net"

	"github.com/bassosimone/netstub"
	"github.com/bassosimone/slogstub"
	"github.com/bassosimone/tlsstub"
)

// newCapturingLogger returns a logger that captures all log records into the
// returned slice. The caller can inspect the slice after exercising the code
// under test to verify which events were emitted.
func newCapturingLogger() (*slog.Logger, *[]slog.Record) {
	var records []slog.Record
	handler := &slogstub.FuncHandler{
		EnabledFunc: func(ctx context.Context, level slog.Level) bool {
			return true
		},
		HandleFunc: func(ctx context.Context, record slog.Record) error {
			records = append(records, record)
			return nil
		},
	}
	return slog.New(handler), &records
}

// newMockTLSEngine returns a [*tlsstub.FuncTLSEngine] that wraps the given
// [TLSConn]. The engine's ClientFunc returns the conn and NameFunc returns
// "mock".
func newMockTLSEngine(conn TLSConn) *tlsstub.FuncTLSEngine[TLSConn] {
	return &tlsstub.FuncTLSEngine[TLSConn]{
		ClientFunc: func(c net.Conn, config *tls.Config) TLSConn {
			return conn
		},
		NameFunc: func() string {
			return "mock"
		},
		ParrotFunc: func() string {
			return ""
		},
	}
}

// newMinimalConn returns a [*netstub.FuncConn] with only LocalAddrFunc and
// RemoteAddrFunc set. This is the minimum needed for code that calls
// [safeconn.LocalAddr], [safeconn.RemoteAddr], and [safeconn.Network]
// during construction.
func newMinimalConn() *netstub.FuncConn {
	return &netstub.FuncConn{
		LocalAddrFunc:  func() net.Addr { return &net.TCPAddr{} },
		RemoteAddrFunc: func() net.Addr { return &net.TCPAddr{} },
	}
}

// newTestResponse returns a [*Response] with the given shape whose body
// reads the given bytes and whose connection-release hook records whether
// it ran. Tests use it to exercise the decoders without a network.
func newTestResponse(shape Shape, body []byte) (*Response, *bool) {
	closed := false
	return &Response{
		Shape:      shape,
		StatusCode: 200,
		Header:     nil,
		body:       &recordingBody{data: body},
		closeConn: func() error {
			closed = true
			return nil
		},
		maxFramePayload: DefaultMaxFramePayload,
	}, &closed
}

// recordingBody is an in-memory [io.ReadCloser] delivering its data in
// reads bounded by chunkSize (unbounded when zero).
type recordingBody struct {
	data      []byte
	chunkSize int
}

func (b *recordingBody) Read(buf []byte) (int, error) {
	if len(b.data) == 0 {
		return 0, io.EOF
	}
	limit := len(buf)
	if b.chunkSize > 0 && b.chunkSize < limit {
		limit = b.chunkSize
	}
	count := copy(buf[:limit], b.data)
	b.data = b.data[count:]
	return count, nil
}

func (b *recordingBody) Close() error {
	return nil
}
