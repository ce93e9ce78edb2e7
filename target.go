// SPDX-License-Identifier: GPL-3.0-or-later

package mooring

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"strconv"
)

// Target describes how to reach the daemon.
//
// A Target is an immutable value constructed once from caller-supplied
// settings; [*ConnectFunc] selects the dial behavior from it at
// connection-open time and never inspects it again afterwards.
//
// The two implementations are [TCPTarget] and [UnixTarget].
type Target interface {
	// Network returns the dial network ("tcp" or "unix").
	Network() string

	// Address returns the dial address (host:port or socket path).
	Address() string

	// TLSClientConfig returns the TLS configuration to use after dialing,
	// or nil when the exchange is cleartext. It fails when the configured
	// TLS material cannot be parsed.
	TLSClientConfig() (*tls.Config, error)
}

// TCPTarget reaches a daemon listening on a TCP endpoint, optionally
// wrapping the connection in TLS when TLS material is configured.
type TCPTarget struct {
	// Host is the daemon host name or IP address.
	Host string

	// Port is the daemon TCP port.
	Port uint16

	// TLS optionally holds the TLS material to use. When nil,
	// the exchange happens in cleartext.
	TLS *TLSMaterial
}

var _ Target = TCPTarget{}

// Network implements [Target].
func (t TCPTarget) Network() string {
	return "tcp"
}

// Address implements [Target].
func (t TCPTarget) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(int(t.Port)))
}

// TLSClientConfig implements [Target].
//
// The server name defaults to the target host unless the TLS
// material overrides it.
func (t TCPTarget) TLSClientConfig() (*tls.Config, error) {
	if t.TLS == nil {
		return nil, nil
	}
	return t.TLS.clientConfig(t.Host)
}

// UnixTarget reaches a daemon listening on a Unix domain socket.
type UnixTarget struct {
	// Path is the filesystem path of the socket.
	Path string
}

var _ Target = UnixTarget{}

// Network implements [Target].
func (t UnixTarget) Network() string {
	return "unix"
}

// Address implements [Target].
func (t UnixTarget) Address() string {
	return t.Path
}

// TLSClientConfig implements [Target].
//
// This function returns nil: a local socket does not handshake.
func (t UnixTarget) TLSClientConfig() (*tls.Config, error) {
	return nil, nil
}

// TLSMaterial holds the PEM-encoded TLS material for a [TCPTarget].
//
// All fields are optional: an empty TLSMaterial still enables TLS, using
// the system trust root and no client certificate.
type TLSMaterial struct {
	// CertPEM is the PEM-encoded client certificate.
	CertPEM []byte

	// KeyPEM is the PEM-encoded client private key.
	KeyPEM []byte

	// RootCAPEM is the PEM-encoded trust root for verifying the daemon.
	// When empty, the system trust root applies.
	RootCAPEM []byte

	// ServerName overrides the name used for certificate verification
	// and SNI. When empty, the target host applies.
	ServerName string

	// InsecureSkipVerify disables certificate verification. Use only
	// against daemons you control.
	InsecureSkipVerify bool
}

// errBadRootCA indicates that RootCAPEM contained no usable certificate.
var errBadRootCA = errors.New("no usable certificate in trust root PEM")

// clientConfig compiles the material into a [*tls.Config].
func (m *TLSMaterial) clientConfig(defaultServerName string) (*tls.Config, error) {
	config := &tls.Config{
		InsecureSkipVerify: m.InsecureSkipVerify,
		NextProtos:         []string{"h2", "http/1.1"},
		ServerName:         defaultServerName,
	}
	if m.ServerName != "" {
		config.ServerName = m.ServerName
	}
	if len(m.CertPEM) > 0 || len(m.KeyPEM) > 0 {
		cert, err := tls.X509KeyPair(m.CertPEM, m.KeyPEM)
		if err != nil {
			return nil, err
		}
		config.Certificates = []tls.Certificate{cert}
	}
	if len(m.RootCAPEM) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(m.RootCAPEM) {
			return nil, errBadRootCA
		}
		config.RootCAs = pool
	}
	return config, nil
}
