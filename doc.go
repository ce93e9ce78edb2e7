// SPDX-License-Identifier: GPL-3.0-or-later

// Package mooring implements the transport-and-stream core of a client
// for a container-management daemon's HTTP API.
//
// # Core Abstraction
//
// The package is built around a single interface:
//
//	type Func[A, B any] interface {
//		Call(ctx context.Context, input A) (B, error)
//	}
//
// Each Func represents an atomic operation with exactly one success mode
// and one failure mode. This design enables type-safe composition via
// [Compose2], [Compose3], etc., where the compiler verifies that outputs
// match inputs across pipeline stages.
//
// # Available Primitives
//
// Connection establishment:
//   - [ConnectFunc]: dials a [Target] (TCP with optional TLS, or a Unix
//     domain socket) and returns the duplex byte channel
//   - [TLSHandshakeFunc]: performs a TLS handshake over an existing connection
//   - [ObserveConnFunc]: observes connections for logging I/O operations
//   - [CancelWatchFunc]: closes connection on context cancellation (so that
//     abandoning a half-consumed stream releases the connection promptly)
//
// Request exchange:
//   - [DaemonConn]: wraps a connection with an HTTP transport and exchanges
//     a [Request] for a [Response], classifying the body into one of the
//     three response shapes (created via [NewDaemonConnFunc])
//
// Response consumption:
//   - [Response.Document]: reads the whole body as one JSON value
//   - [Response.Events]: lazy newline-delimited JSON sequence
//   - [Response.Raw]: lazy raw byte chunk sequence
//   - [Response.Frames]: demultiplexes the raw sequence into typed
//     stdin/stdout/stderr [Frame] records
//
// Build context upload:
//   - [ArchiveFunc]: streams an [EntrySource] into a tar (optionally
//     gzip-compressed) byte stream suitable as a [Request] body
//   - [NewDirEntrySource]: lazily walks a directory tree into entries
//
// Composition utilities:
//   - [Compose2] through [Compose4]: chain Funcs into pipelines
//   - [FuncAdapter]: wrap a function as a Func for ad-hoc custom behavior
//   - [Apply]: bind a fixed input to a Func
//   - [ConstFunc]: lift a pure value into a Func
//
// # Connection Lifecycle
//
// A single logical request owns a single connection for its whole lifetime:
// [ConnectFunc] opens it, [DaemonConn] exchanges over it, and the connection
// is released when the [Response] body is fully consumed, when an error
// terminates the exchange, or when the caller cancels. Connections are never
// shared across concurrent requests; run independent requests as independent
// tasks, each built from the same immutable [Target].
//
// Dial operations ([ConnectFunc], [TLSHandshakeFunc]) create connections and
// transfer ownership to the next stage on success. On error, they close the
// connection. [DaemonConn] OWNS its underlying connection; closing the
// [Response] (or the DaemonConn itself) closes the connection.
//
// # Error Handling
//
// Failures carry a typed wrapper identifying the failing layer:
// [*ConnectError] (dial, TLS material, handshake), [*RequestError] (non-2xx
// status with the daemon-supplied detail), [*DecodeError] (malformed JSON),
// [*FrameError] (multiplexing protocol violation), and [*ArchiveError]
// (entry size changed while streaming). Errors are never retried or masked
// internally: they terminate the in-flight operation and surface to the
// caller, who owns retry policy. Items already delivered by a lazy sequence
// stand; the sequence terminates with a final error instead.
//
// # Observability
//
// All primitives support structured logging via [SLogger] (compatible with
// [log/slog]). By default, logging is disabled. Set the Logger field to a
// custom [*slog.Logger] to enable logging. Error classification is
// configurable via [ErrClassifier]; by default, a no-op classifier is used.
//
// Primitives emit span events (*Start/*Done pairs) recording operation
// lifecycle, timing, and success/failure. All events share a common set of
// fields: localAddr, remoteAddr, protocol, and t (timestamp). Completion
// events (*Done) additionally include t0 (start time), err, and errClass.
// Exchange events additionally carry a spanId correlating the round trip
// with its lazily-consumed body stream.
package mooring
