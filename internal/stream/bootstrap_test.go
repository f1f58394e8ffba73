package stream

import (
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteBootstrapFileCreatesReadOnlyPEM(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bootstrap-ca.pem")
	certPEM, _ := generateSelfSignedPEM(t, "bootstrap-root")
	cert, err := parseSingleCertPEM(certPEM)
	require.NoError(t, err)

	require.NoError(t, writeBootstrapFile(path, cert))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "BEGIN CERTIFICATE")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0444), info.Mode().Perm())
}

func TestWriteBootstrapFileLosesRaceWhenFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bootstrap-ca.pem")
	certPEM, _ := generateSelfSignedPEM(t, "bootstrap-root")
	cert, err := parseSingleCertPEM(certPEM)
	require.NoError(t, err)

	require.NoError(t, writeBootstrapFile(path, cert))
	// A second attempt at the same path represents losing the O_EXCL race
	// to another stream that bootstrapped first.
	err = writeBootstrapFile(path, cert)
	require.Error(t, err)
}

func TestRunBootstrapRejectsEmptyChain(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bootstrap-ca.pem")

	ctxCfg := newContext()
	err := runBootstrap(ctxCfg, path, []*x509.Certificate{}, ctxCfg.logger)
	require.Error(t, err)
	assert.NoFileExists(t, path)
}

func TestRunBootstrapAcceptsSelfSignedCandidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bootstrap-ca.pem")

	rootPEM, _ := generateSelfSignedPEM(t, "some-root")
	root, err := parseSingleCertPEM(rootPEM)
	require.NoError(t, err)

	ctxCfg := newContext()
	require.NoError(t, runBootstrap(ctxCfg, path, []*x509.Certificate{root}, ctxCfg.logger))

	pending, _ := ctxCfg.bootstrapState()
	assert.False(t, pending)
	assert.True(t, ctxCfg.configuredCA)
	assert.FileExists(t, path)
}
