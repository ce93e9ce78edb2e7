// SPDX-License-Identifier: GPL-3.0-or-later

package mooring

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TCPTarget exposes the TCP dial parameters.
func TestTCPTarget(t *testing.T) {
	target := TCPTarget{Host: "daemon.example.com", Port: 2376}

	assert.Equal(t, "tcp", target.Network())
	assert.Equal(t, "daemon.example.com:2376", target.Address())

	// Without TLS material the exchange is cleartext.
	config, err := target.TLSClientConfig()
	require.NoError(t, err)
	assert.Nil(t, config)
}

// UnixTarget exposes the socket path and never handshakes.
func TestUnixTarget(t *testing.T) {
	target := UnixTarget{Path: "/run/daemon.sock"}

	assert.Equal(t, "unix", target.Network())
	assert.Equal(t, "/run/daemon.sock", target.Address())

	config, err := target.TLSClientConfig()
	require.NoError(t, err)
	assert.Nil(t, config)
}

// TLSClientConfig compiles the TLS material into a client configuration.
func TestTCPTargetTLSClientConfig(t *testing.T) {
	t.Run("empty material uses system trust and the target host", func(t *testing.T) {
		target := TCPTarget{Host: "daemon.example.com", Port: 2376, TLS: &TLSMaterial{}}

		config, err := target.TLSClientConfig()

		require.NoError(t, err)
		require.NotNil(t, config)
		assert.Equal(t, "daemon.example.com", config.ServerName)
		assert.Nil(t, config.RootCAs)
		assert.Empty(t, config.Certificates)
		assert.Equal(t, []string{"h2", "http/1.1"}, config.NextProtos)
	})

	t.Run("server name override", func(t *testing.T) {
		target := TCPTarget{
			Host: "10.0.0.1",
			Port: 2376,
			TLS:  &TLSMaterial{ServerName: "daemon.internal"},
		}

		config, err := target.TLSClientConfig()

		require.NoError(t, err)
		assert.Equal(t, "daemon.internal", config.ServerName)
	})

	t.Run("insecure skip verify", func(t *testing.T) {
		target := TCPTarget{
			Host: "10.0.0.1",
			Port: 2376,
			TLS:  &TLSMaterial{InsecureSkipVerify: true},
		}

		config, err := target.TLSClientConfig()

		require.NoError(t, err)
		assert.True(t, config.InsecureSkipVerify)
	})

	t.Run("valid client certificate and trust root", func(t *testing.T) {
		certPEM, keyPEM := newTestCertificate(t)
		target := TCPTarget{
			Host: "daemon.example.com",
			Port: 2376,
			TLS: &TLSMaterial{
				CertPEM:   certPEM,
				KeyPEM:    keyPEM,
				RootCAPEM: certPEM,
			},
		}

		config, err := target.TLSClientConfig()

		require.NoError(t, err)
		assert.Len(t, config.Certificates, 1)
		assert.NotNil(t, config.RootCAs)
	})

	t.Run("malformed client certificate", func(t *testing.T) {
		target := TCPTarget{
			Host: "daemon.example.com",
			Port: 2376,
			TLS: &TLSMaterial{
				CertPEM: []byte("not a certificate"),
				KeyPEM:  []byte("not a key"),
			},
		}

		config, err := target.TLSClientConfig()

		require.Error(t, err)
		assert.Nil(t, config)
	})

	t.Run("malformed trust root", func(t *testing.T) {
		target := TCPTarget{
			Host: "daemon.example.com",
			Port: 2376,
			TLS:  &TLSMaterial{RootCAPEM: []byte("not a certificate")},
		}

		config, err := target.TLSClientConfig()

		require.ErrorIs(t, err, errBadRootCA)
		assert.Nil(t, config)
	})
}

// newTestCertificate generates a self-signed certificate and returns the
// PEM-encoded certificate and private key.
func newTestCertificate(t *testing.T) (certPEM []byte, keyPEM []byte) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "daemon.example.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return
}
