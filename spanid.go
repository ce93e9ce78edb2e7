// SPDX-License-Identifier: GPL-3.0-or-later

package mooring

import (
	"github.com/bassosimone/runtimex"
	"github.com/google/uuid"
)

// NewSpanID returns a UUIDv7 representing a span.
//
// A span is a sequence of operations that can fail in a single, specific
// way. For example, a single request exchange with the daemon, including
// the lazy consumption of its response body.
//
// [DaemonConn.Exchange] generates one span ID per exchange and attaches it
// to the exchange and body-stream events it emits, so that log consumers
// can correlate a round trip with its streamed body.
//
// The span terminology is borrowed from OTel.
//
// This function panics if the system random number generator fails,
// which should only happen under extraordinary circumstances.
func NewSpanID() string {
	return runtimex.PanicOnError1(uuid.NewV7()).String()
}
