// SPDX-License-Identifier: GPL-3.0-or-later

package mooring

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// respBodyWrap wraps a response body so that we emit structured log events
// lazily: daemonBodyStreamStart on the first Read, and daemonBodyStreamDone
// on Close (only if at least one Read happened). The spanId attribute ties
// the body events to the exchange that produced the body.
func respBodyWrap(
	body io.ReadCloser,
	errClass ErrClassifier,
	laddr string,
	logger SLogger,
	protocol string,
	raddr string,
	spanID string,
	timeNow func() time.Time,
) io.ReadCloser {
	return &respBodyWrapper{
		body:      body,
		closeOnce: sync.Once{},
		didRead:   atomic.Bool{},
		errClass:  errClass,
		laddr:     laddr,
		logger:    logger,
		protocol:  protocol,
		raddr:     raddr,
		readOnce:  sync.Once{},
		spanID:    spanID,
		timeNow:   timeNow,
		t0:        time.Time{},
	}
}

type respBodyWrapper struct {
	// body is the actual body.
	body io.ReadCloser

	// closeOnce ensures that Close has "once" semantics.
	closeOnce sync.Once

	// didRead tracks whether at least one Read happened.
	didRead atomic.Bool

	// errClass is the err classifier in use.
	errClass ErrClassifier

	// laddr is the local address.
	laddr string

	// logger is the [SLogger] in use.
	logger SLogger

	// protocol is the network protocol ("tcp" or "unix").
	protocol string

	// raddr is the remote address.
	raddr string

	// readOnce ensures we log daemonBodyStreamStart only once.
	readOnce sync.Once

	// spanID correlates body events with the exchange.
	spanID string

	// t0 is the time when we started reading the body.
	t0 time.Time

	// timeNow mocks [time.Now].
	timeNow func() time.Time
}

var _ io.ReadCloser = &respBodyWrapper{}

// Close implements [io.ReadCloser].
func (b *respBodyWrapper) Close() (err error) {
	b.closeOnce.Do(func() {
		err = b.body.Close()
		if b.didRead.Load() { // acquire: t0 is visible if this returns true
			b.logger.Info(
				"daemonBodyStreamDone",
				slog.Any("err", err),
				slog.String("errClass", b.errClass.Classify(err)),
				slog.String("localAddr", b.laddr),
				slog.String("protocol", b.protocol),
				slog.String("remoteAddr", b.raddr),
				slog.String("spanId", b.spanID),
				slog.Time("t0", b.t0),
				slog.Time("t", b.timeNow()),
			)
		}
	})
	return
}

// Read implements [io.ReadCloser].
func (b *respBodyWrapper) Read(buffer []byte) (int, error) {
	b.readOnce.Do(func() {
		b.t0 = b.timeNow()    // write t0 BEFORE the atomic store (release)
		b.didRead.Store(true) // release: makes t0 visible to Close
		b.logger.Info(
			"daemonBodyStreamStart",
			slog.String("localAddr", b.laddr),
			slog.String("protocol", b.protocol),
			slog.String("remoteAddr", b.raddr),
			slog.String("spanId", b.spanID),
			slog.Time("t", b.t0),
		)
	})
	return b.body.Read(buffer)
}
