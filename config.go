// SPDX-License-Identifier: GPL-3.0-or-later

package mooring

import (
	"net"
	"time"
)

// DefaultMaxFramePayload is the default upper bound on the payload length
// declared by a single multiplexed frame header.
//
// A daemon claiming a larger frame is treated as a protocol violation
// rather than an invitation to buffer without bound.
const DefaultMaxFramePayload = 16 << 20

// Config holds common configuration for mooring operations.
//
// Pass this to constructor functions to pre-wire dependencies.
// All fields have sensible defaults set by [NewConfig].
type Config struct {
	// Dialer is used by [*ConnectFunc].
	//
	// Set by [NewConfig] to [*net.Dialer].
	Dialer Dialer

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConfig] to [DefaultErrClassifier].
	ErrClassifier ErrClassifier

	// MaxFramePayload bounds the payload length a [*Demuxer] accepts.
	//
	// Set by [NewConfig] to [DefaultMaxFramePayload].
	MaxFramePayload int

	// TimeNow returns the current time.
	//
	// Set by [NewConfig] to [time.Now].
	TimeNow func() time.Time
}

// NewConfig creates a [*Config] with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Dialer:          &net.Dialer{},
		ErrClassifier:   DefaultErrClassifier,
		MaxFramePayload: DefaultMaxFramePayload,
		TimeNow:         time.Now,
	}
}
