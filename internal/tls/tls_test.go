package tls

import (
	"crypto/tls"
	"crypto/x509"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bulletin-service/internal/config"
)

func TestDevCertGenerator_ReusesValidCert(t *testing.T) {
	dir := t.TempDir()
	gen := NewDevCertGenerator(dir, nil)

	first, err := gen.GenerateCert([]string{"bulletin.local", "127.0.0.1"})
	require.NoError(t, err)

	leaf, err := x509.ParseCertificate(first.Certificate[0])
	require.NoError(t, err)
	assert.Contains(t, leaf.DNSNames, "bulletin.local")
	require.Len(t, leaf.IPAddresses, 1)

	second, err := gen.GenerateCert([]string{"bulletin.local"})
	require.NoError(t, err)
	assert.Equal(t, first.Certificate[0], second.Certificate[0])
}

func TestTLSManager_DevelopmentFallsBackToSelfSigned(t *testing.T) {
	m := NewTLSManager(config.ServerConfig{EnableTLS: true, Domain: "localhost", AutoCertDir: t.TempDir()}, false, zap.NewNop())
	assert.Nil(t, m.GetAutocertManager())

	cert, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	require.NoError(t, err)
	require.NotNil(t, cert)
	assert.Equal(t, uint16(tls.VersionTLS12), m.GetTLSConfig().MinVersion)
}

func TestTLSManager_ProductionRequiresCertificate(t *testing.T) {
	m := NewTLSManager(config.ServerConfig{EnableTLS: true, Domain: "example.com", AutoCertDir: t.TempDir()}, true, zap.NewNop())

	_, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "example.com"})
	assert.Error(t, err)
}
