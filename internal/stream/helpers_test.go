package stream

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

// newTestReadyContext builds a Context with a self-signed key/cert pair and
// that same cert trusted as CA, satisfying Ready() for tests that need a
// working active or passive stream without a real certificate authority.
func newTestReadyContext(t *testing.T, dir string) *Context {
	t.Helper()
	certPEM, keyPEM := generateSelfSignedPEM(t, "test-node")
	keyPath := writeTemp(t, dir, "key.pem", keyPEM)
	certPath := writeTemp(t, dir, "cert.pem", certPEM)
	caPath := writeTemp(t, dir, "ca.pem", certPEM)

	ctxCfg := newContext()
	require.NoError(t, ctxCfg.SetPrivateKeyFile(keyPath))
	require.NoError(t, ctxCfg.SetCertificateFile(certPath))
	require.NoError(t, ctxCfg.SetCACertFile(caPath, false))
	require.True(t, ctxCfg.Ready())
	return ctxCfg
}

// swapGlobalContext installs ctxCfg as the process-wide GlobalContext for
// the duration of a test, returning the previous context and a restore
// function. Tests exercising Dial/Listen, which both go through
// GlobalContext(), need this since that singleton is normally initialized
// exactly once per process.
func swapGlobalContext(ctxCfg *Context) (*Context, func()) {
	prevCtx := globalCtx
	var prevOnce sync.Once
	*(*sync.Once)(unsafe.Pointer(&prevOnce)) = *(*sync.Once)(unsafe.Pointer(&globalCtxOnce))

	globalCtx = ctxCfg
	globalCtxOnce = sync.Once{}
	globalCtxOnce.Do(func() {})

	restore := func() {
		globalCtx = prevCtx
		*(*sync.Once)(unsafe.Pointer(&globalCtxOnce)) = *(*sync.Once)(unsafe.Pointer(&prevOnce))
	}
	return prevCtx, restore
}
