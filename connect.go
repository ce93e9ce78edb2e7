// SPDX-License-Identifier: GPL-3.0-or-later

package mooring

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/bassosimone/safeconn"
)

// Dialer abstracts the [*net.Dialer] behavior.
//
// By making [*ConnectFunc] depend on an abstract implementation we
// allow for unit testing and for using alternative dialers.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// NewConnectFunc returns a new [*ConnectFunc] with default dialer and
// TLS engine.
//
// The cfg argument contains the common configuration for mooring operations.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewConnectFunc(cfg *Config, logger SLogger) *ConnectFunc {
	return &ConnectFunc{
		Dialer:        cfg.Dialer,
		Engine:        TLSEngineStdlib{},
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		TimeNow:       cfg.TimeNow,
	}
}

// ConnectFunc establishes the duplex byte channel to the daemon
// described by a [Target].
//
// For a [TCPTarget] carrying [TLSMaterial], the TLS handshake happens
// before returning, and the returned connection reads and writes the
// decrypted stream. For a [UnixTarget] there is no handshake.
//
// Returns either a valid [net.Conn] or a [*ConnectError], never both.
// This layer never retries.
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [Call].
type ConnectFunc struct {
	// Dialer is the [Dialer] to use.
	//
	// Set by [NewConnectFunc] from [Config.Dialer].
	Dialer Dialer

	// Engine is the [TLSEngine] to use when the target requires TLS.
	//
	// Set by [NewConnectFunc] to [TLSEngineStdlib].
	Engine TLSEngine

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConnectFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use (configurable for testing or custom logging).
	//
	// Set by [NewConnectFunc] to the user-provided logger.
	Logger SLogger

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewConnectFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Func[Target, net.Conn] = &ConnectFunc{}

// Call invokes the [*ConnectFunc] to connect to the given [Target].
func (op *ConnectFunc) Call(ctx context.Context, target Target) (net.Conn, error) {
	// 1. Dial the raw connection
	t0 := op.TimeNow()
	deadline, _ := ctx.Deadline()
	op.logConnectStart(target, t0, deadline)
	conn, err := op.Dialer.DialContext(ctx, target.Network(), target.Address())
	op.logConnectDone(target, conn, t0, deadline, err)
	if err != nil {
		return nil, op.connectError(target, err)
	}

	// 2. Compile the TLS configuration, if any
	config, err := target.TLSClientConfig()
	if err != nil {
		conn.Close()
		return nil, op.connectError(target, err)
	}
	if config == nil {
		return conn, nil
	}

	// 3. Handshake before handing the channel to the caller
	handshake := &TLSHandshakeFunc{
		Config:        config,
		Engine:        op.Engine,
		ErrClassifier: op.ErrClassifier,
		Logger:        op.Logger,
		TimeNow:       op.TimeNow,
	}
	tconn, err := handshake.Call(ctx, conn)
	if err != nil {
		// The handshake op already closed the connection.
		return nil, op.connectError(target, err)
	}
	return tconn, nil
}

func (op *ConnectFunc) connectError(target Target, err error) error {
	return &ConnectError{
		Network: target.Network(),
		Address: target.Address(),
		Err:     err,
	}
}

func (op *ConnectFunc) logConnectStart(target Target, t0 time.Time, deadline time.Time) {
	op.Logger.Info(
		"connectStart",
		slog.Time("deadline", deadline),
		slog.String("protocol", target.Network()),
		slog.String("remoteAddr", target.Address()),
		slog.Time("t", t0),
	)
}

func (op *ConnectFunc) logConnectDone(target Target,
	conn net.Conn, t0 time.Time, deadline time.Time, err error) {
	op.Logger.Info(
		"connectDone",
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", op.ErrClassifier.Classify(err)),
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", target.Network()),
		slog.String("remoteAddr", target.Address()),
		slog.Time("t0", t0),
		slog.Time("t", op.TimeNow()),
	)
}
