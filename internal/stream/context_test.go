package stream

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateSelfSignedPEM(t *testing.T, cn string) (certPEM, keyPEM []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return certPEM, keyPEM
}

func writeTemp(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path
}

func TestContextNotReadyUntilFullyConfigured(t *testing.T) {
	ctxCfg := newContext()
	assert.False(t, ctxCfg.Ready())
	assert.False(t, ctxCfg.IsConfigured())
}

func TestContextSetKeyThenCertPairs(t *testing.T) {
	dir := t.TempDir()
	certPEM, keyPEM := generateSelfSignedPEM(t, "unit-test-node")
	keyPath := writeTemp(t, dir, "key.pem", keyPEM)
	certPath := writeTemp(t, dir, "cert.pem", certPEM)
	caPath := writeTemp(t, dir, "ca.pem", certPEM)

	ctxCfg := newContext()
	require.NoError(t, ctxCfg.SetPrivateKeyFile(keyPath))
	assert.True(t, ctxCfg.IsConfigured())
	assert.False(t, ctxCfg.Ready())

	require.NoError(t, ctxCfg.SetCertificateFile(certPath))
	assert.True(t, ctxCfg.haveCert)

	require.NoError(t, ctxCfg.SetCACertFile(caPath, false))
	assert.True(t, ctxCfg.Ready())
}

func TestContextSetCertThenKeyOrderIndependent(t *testing.T) {
	dir := t.TempDir()
	certPEM, keyPEM := generateSelfSignedPEM(t, "unit-test-node")
	keyPath := writeTemp(t, dir, "key.pem", keyPEM)
	certPath := writeTemp(t, dir, "cert.pem", certPEM)

	ctxCfg := newContext()
	require.NoError(t, ctxCfg.SetCertificateFile(certPath))
	assert.False(t, ctxCfg.haveCert)
	require.NoError(t, ctxCfg.SetPrivateKeyFile(keyPath))
	assert.True(t, ctxCfg.haveCert)
}

func TestContextBootstrapPendingWhenCAFileMissing(t *testing.T) {
	dir := t.TempDir()
	caPath := filepath.Join(dir, "does-not-exist-yet.pem")

	ctxCfg := newContext()
	require.NoError(t, ctxCfg.SetCACertFile(caPath, true))

	pending, path := ctxCfg.bootstrapState()
	assert.True(t, pending)
	assert.Equal(t, caPath, path)
	assert.False(t, ctxCfg.configuredCA)
}

func TestContextBootstrapWinInstallsTrust(t *testing.T) {
	dir := t.TempDir()
	caPath := filepath.Join(dir, "bootstrap-ca.pem")
	certPEM, _ := generateSelfSignedPEM(t, "bootstrapped-ca")
	cert, err := parseSingleCertPEM(certPEM)
	require.NoError(t, err)

	ctxCfg := newContext()
	require.NoError(t, ctxCfg.SetCACertFile(caPath, true))
	pending, _ := ctxCfg.bootstrapState()
	require.True(t, pending)

	ctxCfg.bootstrapWin(cert)

	pending, _ = ctxCfg.bootstrapState()
	assert.False(t, pending)
	assert.True(t, ctxCfg.configuredCA)
}

func TestContextSetCACertFileMissingFileErrors(t *testing.T) {
	ctxCfg := newContext()
	err := ctxCfg.SetCACertFile("/nonexistent/path/ca.pem", false)
	require.Error(t, err)
	errno, ok := Errno(err)
	require.True(t, ok)
	assert.Equal(t, ErrNoProtoOpt, errno)
}

func TestClientTLSConfigForcesInsecureDuringBootstrap(t *testing.T) {
	dir := t.TempDir()
	certPEM, keyPEM := generateSelfSignedPEM(t, "unit-test-node")
	keyPath := writeTemp(t, dir, "key.pem", keyPEM)
	certPath := writeTemp(t, dir, "cert.pem", certPEM)

	ctxCfg := newContext()
	require.NoError(t, ctxCfg.SetPrivateKeyFile(keyPath))
	require.NoError(t, ctxCfg.SetCertificateFile(certPath))

	cfg := ctxCfg.clientTLSConfig("switch1", true)
	assert.True(t, cfg.InsecureSkipVerify)

	cfg = ctxCfg.clientTLSConfig("switch1", false)
	assert.False(t, cfg.InsecureSkipVerify)
	assert.Equal(t, "switch1", cfg.ServerName)
}

func TestServerTLSConfigRequiresClientCert(t *testing.T) {
	dir := t.TempDir()
	certPEM, keyPEM := generateSelfSignedPEM(t, "unit-test-node")
	keyPath := writeTemp(t, dir, "key.pem", keyPEM)
	certPath := writeTemp(t, dir, "cert.pem", certPEM)

	ctxCfg := newContext()
	require.NoError(t, ctxCfg.SetPrivateKeyFile(keyPath))
	require.NoError(t, ctxCfg.SetCertificateFile(certPath))

	cfg := ctxCfg.serverTLSConfig()
	assert.Equal(t, tls.RequireAndVerifyClientCert, cfg.ClientAuth)
}
