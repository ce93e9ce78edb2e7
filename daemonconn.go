// SPDX-License-Identifier: GPL-3.0-or-later

package mooring

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"time"

	"github.com/bassosimone/safeconn"
	"github.com/bassosimone/sud"
	"golang.org/x/net/http2"
)

// DaemonConn is an HTTP "connection" to the daemon (a configured
// transport over a single owned connection).
//
// A DaemonConn serves exactly one logical request at a time: the
// connection it owns is held open and exclusively owned until the
// [Response] body is fully consumed, the exchange fails, or the caller
// cancels. It is not a connection pool; run independent requests on
// independent DaemonConn instances.
//
// The caller is responsible for calling [DaemonConn.Close] when done,
// unless ownership already passed to a [Response] (closing the Response
// closes the connection).
//
// Construct using [NewDaemonConnFunc].
type DaemonConn struct {
	// conn is the underlying connection.
	conn net.Conn

	// txp is the HTTP transport.
	txp http.RoundTripper

	// closeIdleFunc closes idle connections in the transport.
	closeIdleFunc func()

	// scheme is the request URL scheme ("http" or "https").
	scheme string

	// Authority is the value used as the request URL host. Defaults to
	// "daemon", which suits Unix-socket daemons that ignore the Host
	// header; override it for virtual-hosted TCP daemons.
	Authority string

	// ErrClassifier classifies errors for structured logging.
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use (configurable for testing or custom logging).
	Logger SLogger

	// MaxFramePayload bounds the payload length accepted when the
	// response is demultiplexed via [Response.Frames].
	MaxFramePayload int

	// TimeNow is the function to get the current time (configurable for testing).
	TimeNow func() time.Time
}

// maxErrorBodySize bounds how much of a non-2xx error body we read
// while extracting the daemon-supplied detail.
const maxErrorBodySize = 4096

// Exchange serializes the [*Request] onto the owned connection, reads the
// response status and headers, and classifies the body into one of the
// three response shapes.
//
// A non-2xx status yields a [*RequestError] carrying the daemon-supplied
// detail; the connection is closed in that case, as it is on any exchange
// error. On success, ownership of the connection passes to the returned
// [*Response].
func (dc *DaemonConn) Exchange(ctx context.Context, req *Request) (*Response, error) {
	// 1. Serialize the request
	conn := dc.conn
	spanID := NewSpanID()
	hreq, err := req.newHTTPRequest(ctx, dc.scheme, dc.Authority)
	if err != nil {
		dc.Close()
		return nil, err
	}

	// 2. Perform the round trip with logging
	t0 := dc.TimeNow()
	deadline, _ := ctx.Deadline()
	dc.logExchangeStart(conn, hreq, spanID, t0, deadline)
	resp, err := dc.txp.RoundTrip(hreq)
	dc.logExchangeDone(conn, hreq, spanID, t0, deadline, resp, err)
	if err != nil {
		dc.Close()
		return nil, err
	}

	// 3. Reject non-2xx responses with the daemon-supplied detail
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reqErr := newRequestError(resp)
		resp.Body.Close()
		dc.Close()
		return nil, reqErr
	}

	// 4. Classify the body and transfer connection ownership
	body := respBodyWrap(
		resp.Body,
		dc.ErrClassifier,
		safeconn.LocalAddr(conn),
		dc.Logger,
		safeconn.Network(conn),
		safeconn.RemoteAddr(conn),
		spanID,
		dc.TimeNow,
	)
	return &Response{
		Shape:           classifyShape(resp.Header.Get("Content-Type")),
		StatusCode:      resp.StatusCode,
		Header:          resp.Header,
		body:            body,
		closeConn:       dc.Close,
		maxFramePayload: dc.MaxFramePayload,
	}, nil
}

// Close cleans up the transport and closes the underlying connection.
func (dc *DaemonConn) Close() error {
	dc.closeIdleFunc()
	return dc.conn.Close()
}

// Conn returns the underlying [net.Conn] used by this [*DaemonConn].
//
// This method exists to support logging operations that need connection
// metadata (local/remote addresses, network type).
func (dc *DaemonConn) Conn() net.Conn {
	return dc.conn
}

// classifyShape maps the response Content-Type to a [Shape].
//
// A single JSON document is a Document; a JSON-lines progress/event feed
// is an EventStream; everything else, notably the daemon's raw and
// multiplexed attach/exec/logs content types, is a RawStream.
func classifyShape(contentType string) Shape {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ShapeRawStream
	}
	switch mediaType {
	case "application/json":
		return ShapeDocument
	case "application/x-ndjson", "application/json-sequence":
		return ShapeEventStream
	default:
		return ShapeRawStream
	}
}

// newRequestError builds the [*RequestError] for a non-2xx response,
// extracting the "message" field when the error body is JSON.
func newRequestError(resp *http.Response) *RequestError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	reqErr := &RequestError{StatusCode: resp.StatusCode, Message: ""}
	if classifyShape(resp.Header.Get("Content-Type")) == ShapeDocument {
		var detail struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(data, &detail); err == nil && detail.Message != "" {
			reqErr.Message = detail.Message
			return reqErr
		}
	}
	reqErr.Message = string(data)
	return reqErr
}

func (dc *DaemonConn) logExchangeStart(conn net.Conn,
	hreq *http.Request, spanID string, t0 time.Time, deadline time.Time) {
	dc.Logger.Info(
		"daemonExchangeStart",
		slog.Time("deadline", deadline),
		slog.String("httpMethod", hreq.Method),
		slog.String("httpUrl", hreq.URL.String()),
		slog.Any("httpRequestHeaders", hreq.Header),
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", safeconn.Network(conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(conn)),
		slog.String("spanId", spanID),
		slog.Time("t", t0),
	)
}

func (dc *DaemonConn) logExchangeDone(conn net.Conn, hreq *http.Request,
	spanID string, t0 time.Time, deadline time.Time, resp *http.Response, err error) {
	var (
		statusCode int
		headers    http.Header
	)
	if resp != nil {
		statusCode = resp.StatusCode
		headers = resp.Header
	}
	dc.Logger.Info(
		"daemonExchangeDone",
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", dc.ErrClassifier.Classify(err)),
		slog.String("httpMethod", hreq.Method),
		slog.String("httpUrl", hreq.URL.String()),
		slog.Any("httpRequestHeaders", hreq.Header),
		slog.Any("httpResponseHeaders", headers),
		slog.Int("httpResponseStatusCode", statusCode),
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", safeconn.Network(conn)),
		slog.String("remoteAddr", safeconn.RemoteAddr(conn)),
		slog.String("spanId", spanID),
		slog.Time("t0", t0),
		slog.Time("t", dc.TimeNow()),
	)
}

// DaemonConnFunc wraps a connection into a [*DaemonConn].
//
// This is a [Func] that can be composed into pipelines after
// [ConnectFunc] (and optionally [ObserveConnFunc] and [CancelWatchFunc]).
// It creates a [*DaemonConn] from the input connection with ALPN-based
// protocol detection: connections whose TLS handshake negotiated "h2"
// use an HTTP/2 transport, everything else uses HTTP/1.1.
//
// The caller is responsible for closing the returned [*DaemonConn].
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [Call].
type DaemonConnFunc struct {
	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewDaemonConnFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use (configurable for testing or custom logging).
	//
	// Set by [NewDaemonConnFunc] to the user-provided logger.
	Logger SLogger

	// MaxFramePayload bounds the frame payload length accepted when
	// demultiplexing responses.
	//
	// Set by [NewDaemonConnFunc] from [Config.MaxFramePayload].
	MaxFramePayload int

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewDaemonConnFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

// NewDaemonConnFunc returns a new [*DaemonConnFunc].
//
// The cfg argument contains the common configuration for mooring operations.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewDaemonConnFunc(cfg *Config, logger SLogger) *DaemonConnFunc {
	return &DaemonConnFunc{
		ErrClassifier:   cfg.ErrClassifier,
		Logger:          logger,
		MaxFramePayload: cfg.MaxFramePayload,
		TimeNow:         cfg.TimeNow,
	}
}

var _ Func[net.Conn, *DaemonConn] = &DaemonConnFunc{}

// Call implements [Func].
func (op *DaemonConnFunc) Call(ctx context.Context, conn net.Conn) (*DaemonConn, error) {
	// Obtain the protocol that was negotiated
	type connectionStater interface {
		ConnectionState() tls.ConnectionState
	}
	var (
		alpn   string
		scheme = "http"
	)
	if csp, ok := any(conn).(connectionStater); ok {
		alpn = csp.ConnectionState().NegotiatedProtocol
		scheme = "https"
	}

	// Create a special dialer that works just once
	dialer := sud.NewSingleUseDialer(conn)

	// Create proper transport depending on ALPN
	var txp http.RoundTripper
	var closeIdleFunc func()
	switch alpn {
	case "h2":
		h2txp := &http2.Transport{
			DialTLSContext:     dialer.DialTLSContext,
			DisableCompression: false,
		}
		txp = h2txp
		closeIdleFunc = h2txp.CloseIdleConnections

	default:
		h1txp := &http.Transport{
			DialContext:        dialer.DialContext,
			DialTLSContext:     dialer.DialContext,
			DisableKeepAlives:  true,
			DisableCompression: false,
		}
		txp = h1txp
		closeIdleFunc = h1txp.CloseIdleConnections
	}

	dc := &DaemonConn{
		conn:            conn,
		txp:             txp,
		closeIdleFunc:   closeIdleFunc,
		scheme:          scheme,
		Authority:       "daemon",
		ErrClassifier:   op.ErrClassifier,
		Logger:          op.Logger,
		MaxFramePayload: op.MaxFramePayload,
		TimeNow:         op.TimeNow,
	}
	return dc, nil
}
