package stream

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCertWatcherReloadsCATrustStoreOnWrite exercises the fix for
// maybeReload's CA branch: dropping a renewed CA file into place must
// update the trust store via SetCACertFile, not append it as an extra
// chain certificate via SetPeerCACertFile.
func TestCertWatcherReloadsCATrustStoreOnWrite(t *testing.T) {
	dir := t.TempDir()
	certPEM, keyPEM := generateSelfSignedPEM(t, "cert-watch-node")
	keyPath := writeTemp(t, dir, "key.pem", keyPEM)
	certPath := writeTemp(t, dir, "cert.pem", certPEM)
	caPath := writeTemp(t, dir, "ca.pem", certPEM)

	ctxCfg := newContext()
	require.NoError(t, ctxCfg.SetPrivateKeyFile(keyPath))
	require.NoError(t, ctxCfg.SetCertificateFile(certPath))
	require.NoError(t, ctxCfg.SetCACertFile(caPath, false))
	require.True(t, ctxCfg.Ready())

	preReloadExtraChain := len(ctxCfg.extraChain)

	watcher, err := WatchCertFiles(ctxCfg, keyPath, certPath, caPath)
	require.NoError(t, err)
	defer watcher.Close()

	renewedCertPEM, _ := generateSelfSignedPEM(t, "cert-watch-node-renewed")
	require.NoError(t, os.WriteFile(caPath, renewedCertPEM, 0600))

	// give the watcher goroutine time to observe the write and reload.
	time.Sleep(300 * time.Millisecond)

	assert.True(t, ctxCfg.configuredCA)
	assert.Equal(t, preReloadExtraChain, len(ctxCfg.extraChain),
		"CA reload must not append to extraChain, that is SetPeerCACertFile's job")
}

func TestCertWatcherReloadsKeyAndCertOnWrite(t *testing.T) {
	dir := t.TempDir()
	certPEM, keyPEM := generateSelfSignedPEM(t, "cert-watch-node")
	keyPath := writeTemp(t, dir, "key.pem", keyPEM)
	certPath := writeTemp(t, dir, "cert.pem", certPEM)
	caPath := writeTemp(t, dir, "ca.pem", certPEM)

	ctxCfg := newContext()
	require.NoError(t, ctxCfg.SetPrivateKeyFile(keyPath))
	require.NoError(t, ctxCfg.SetCertificateFile(certPath))
	require.NoError(t, ctxCfg.SetCACertFile(caPath, false))

	watcher, err := WatchCertFiles(ctxCfg, keyPath, certPath, caPath)
	require.NoError(t, err)
	defer watcher.Close()

	renewedCertPEM, renewedKeyPEM := generateSelfSignedPEM(t, "cert-watch-node-renewed")
	require.NoError(t, os.WriteFile(keyPath, renewedKeyPEM, 0600))
	require.NoError(t, os.WriteFile(certPath, renewedCertPEM, 0600))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ctxCfg.Ready() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.True(t, ctxCfg.Ready())
}
