package certs

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	t.Parallel()

	cert, err := Generate(24*time.Hour, "u64.local", "192.168.1.64", "")
	require.NoError(t, err)
	require.NotEmpty(t, cert.TLSCert.Certificate)

	x509Cert, err := x509.ParseCertificate(cert.TLSCert.Certificate[0])
	require.NoError(t, err)

	assert.LessOrEqual(t, x509Cert.NotAfter.Sub(x509Cert.NotBefore), 24*time.Hour+2*time.Minute)
	assert.True(t, x509Cert.NotAfter.After(time.Now()))
	assert.Equal(t, sha256.Sum256(cert.TLSCert.Certificate[0]), cert.Fingerprint)

	assert.Equal(t, []string{"localhost", "u64.local"}, x509Cert.DNSNames)
	require.Len(t, x509Cert.IPAddresses, 3)
	assert.True(t, x509Cert.IPAddresses[2].Equal(net.ParseIP("192.168.1.64")))
	assert.NoError(t, x509Cert.VerifyHostname("u64.local"))
}

func TestGenerateDefaultValidity(t *testing.T) {
	t.Parallel()

	cert, err := Generate(0)
	require.NoError(t, err)
	x509Cert, err := x509.ParseCertificate(cert.TLSCert.Certificate[0])
	require.NoError(t, err)
	assert.InDelta(t, DefaultValidity.Hours(), x509Cert.NotAfter.Sub(x509Cert.NotBefore).Hours(), 0.1)
}

func TestFingerprintHex(t *testing.T) {
	t.Parallel()

	var c CertInfo
	c.Fingerprint[0] = 0xAB
	c.Fingerprint[31] = 0x01
	fp := c.FingerprintHex()
	assert.Len(t, fp, 32*3-1)
	assert.True(t, strings.HasPrefix(fp, "AB:00:"))
	assert.True(t, strings.HasSuffix(fp, ":01"))
}

func TestTLSConfig(t *testing.T) {
	t.Parallel()

	cert, err := Generate(time.Hour)
	require.NoError(t, err)
	cfg := cert.TLSConfig()
	require.Len(t, cfg.Certificates, 1)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
}
