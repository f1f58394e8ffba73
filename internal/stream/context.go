package stream

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"sync"
)

// Context is the process-wide, lazily-initialized configuration shared by
// every active and passive stream: credentials, the peer trust store, the
// bootstrap-CA state machine, and the cached Diffie-Hellman parameter pool.
// It is created once and never torn down.
type Context struct {
	mu sync.Mutex

	configuredKey  bool
	configuredCert bool
	configuredCA   bool

	bootstrapPending bool
	bootstrapPath    string

	pendingKeyPEM  []byte
	pendingCertPEM []byte
	certificate    tls.Certificate
	haveCert       bool

	roots      *x509.CertPool
	extraChain []*x509.Certificate

	dh *dhCache

	logger *Logger
}

var (
	globalCtx     *Context
	globalCtxOnce sync.Once
)

// GlobalContext returns the process-wide Context, constructing it on first
// use. Every subsequent call returns the same instance; construction never
// fails on its own since it does no I/O, matching init()'s cached-status
// contract.
func GlobalContext() *Context {
	globalCtxOnce.Do(func() {
		globalCtx = newContext()
	})
	return globalCtx
}

func newContext() *Context {
	return &Context{
		roots:  x509.NewCertPool(),
		dh:     newDHCache(),
		logger: NewLogger(nil),
	}
}

// IsConfigured reports whether any of key, certificate, or CA trust has
// been set, matching the free-function is_configured() query.
func (c *Context) IsConfigured() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.configuredKey || c.configuredCert || c.configuredCA
}

// ready reports whether enough configuration exists to build a TLS stream:
// key and certificate must be set, and either CA trust is established or a
// bootstrap is pending. Callers must hold c.mu.
func (c *Context) ready() bool {
	return c.configuredKey && c.configuredCert && (c.configuredCA || c.bootstrapPending)
}

// Ready is the exported, locked form of ready, used by stream constructors
// to fail fast with ErrNoProtoOpt before opening a session.
func (c *Context) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready()
}

// SetPrivateKeyFile loads a PEM-encoded private key and pairs it with any
// previously loaded certificate chain. A previously loaded certificate that
// does not pair with the new key is discarded, so the context is not Ready
// again until SetCertificateFile loads one that does; this lets a context
// be reconfigured key first, then certificate.
func (c *Context) SetPrivateKeyFile(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	keyPEM, err := os.ReadFile(path)
	if err != nil {
		return newErrWithCause(ErrNoProtoOpt, "set_private_key_file", err).WithContext("path", path)
	}
	c.pendingKeyPEM = keyPEM
	if err := c.pairCertificateLocked(); err != nil {
		c.pendingCertPEM = nil
		c.haveCert = false
		c.configuredCert = false
	}
	c.configuredKey = true
	return nil
}

// SetCertificateFile loads a PEM-encoded certificate chain (leaf first)
// and pairs it with any previously loaded private key.
func (c *Context) SetCertificateFile(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	certPEM, err := os.ReadFile(path)
	if err != nil {
		return newErrWithCause(ErrNoProtoOpt, "set_certificate_file", err).WithContext("path", path)
	}
	c.pendingCertPEM = certPEM
	if err := c.pairCertificateLocked(); err != nil {
		return err
	}
	c.configuredCert = true
	return nil
}

// pairCertificateLocked builds the tls.Certificate once both halves of the
// key pair have arrived; set_private_key_file and set_certificate_file may
// be called in either order. Callers must hold c.mu.
func (c *Context) pairCertificateLocked() error {
	if c.pendingKeyPEM == nil || c.pendingCertPEM == nil {
		return nil
	}
	cert, err := tls.X509KeyPair(c.pendingCertPEM, c.pendingKeyPEM)
	if err != nil {
		return newErrWithCause(ErrNoProtoOpt, "pair_certificate", err)
	}
	c.certificate = cert
	c.haveCert = true
	return nil
}

// SetCACertFile loads a trusted CA certificate. If bootstrap is true and
// the file does not yet exist, the context enters bootstrap mode instead
// of failing: the first successful handshake will populate the file.
func (c *Context) SetCACertFile(path string, bootstrap bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if bootstrap {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			c.bootstrapPending = true
			c.bootstrapPath = path
			return nil
		}
	}

	caPEM, err := os.ReadFile(path)
	if err != nil {
		return newErrWithCause(ErrNoProtoOpt, "set_ca_cert_file", err).WithContext("path", path)
	}
	cert, err := parseSingleCertPEM(caPEM)
	if err != nil {
		return newErrWithCause(ErrProto, "set_ca_cert_file", err).WithContext("path", path)
	}
	if !c.roots.AppendCertsFromPEM(caPEM) {
		return newErr(ErrProto, "set_ca_cert_file").WithContext("path", path).WithContext("reason", "no certificates parsed")
	}
	c.configuredCA = true
	c.bootstrapPending = false

	c.logger.LogCACertTrusted(context.Background(), path, cert.Subject.String(), fingerprintSHA1(cert))
	return nil
}

// SetPeerCACertFile parses an extra certificate and records it in
// extraChain, without affecting trust decisions. Neither clientTLSConfig
// nor serverTLSConfig uses extraChain: peers are sent only the chain loaded
// by SetCertificateFile.
func (c *Context) SetPeerCACertFile(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return newErrWithCause(ErrNoProtoOpt, "set_peer_ca_cert_file", err).WithContext("path", path)
	}
	cert, err := parseSingleCertPEM(pemBytes)
	if err != nil {
		return newErrWithCause(ErrProto, "set_peer_ca_cert_file", err).WithContext("path", path)
	}
	c.extraChain = append(c.extraChain, cert)
	return nil
}

// bootstrapWin is invoked by the bootstrap protocol after it wins the
// O_EXCL race: it installs the freshly persisted CA into the trust store
// and flips global state atomically from the perspective of any subsequent
// handshake.
func (c *Context) bootstrapWin(cert *x509.Certificate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.roots.AddCert(cert)
	c.extraChain = append(c.extraChain, cert)
	c.configuredCA = true
	c.bootstrapPending = false

	c.logger.LogBootstrapWin(context.Background(), c.bootstrapPath, cert.Subject.String(), fingerprintSHA1(cert))
}

// bootstrapState returns whether a bootstrap is currently pending and, if
// so, the path it will populate.
func (c *Context) bootstrapState() (pending bool, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bootstrapPending, c.bootstrapPath
}

// clientTLSConfig builds a *tls.Config for an outbound handshake. When
// forceInsecure is true (bootstrap mode, this session only) verification
// is disabled for this session alone; the shared trust store is untouched.
func (c *Context) clientTLSConfig(serverName string, forceInsecure bool) *tls.Config {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{c.certificate},
		RootCAs:      c.roots,
		ServerName:   serverName,
	}
	if forceInsecure {
		cfg.InsecureSkipVerify = true
	}
	return cfg
}

// serverTLSConfig builds a *tls.Config for an inbound handshake, requiring
// and verifying a client certificate against the shared trust store.
func (c *Context) serverTLSConfig() *tls.Config {
	c.mu.Lock()
	defer c.mu.Unlock()

	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{c.certificate},
		ClientCAs:    c.roots,
		ClientAuth:   tls.RequireAndVerifyClientCert,
	}
}

// parseSingleCertPEM decodes the first PEM block in data as an X.509
// certificate.
func parseSingleCertPEM(data []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("no CERTIFICATE PEM block found")
	}
	return x509.ParseCertificate(block.Bytes)
}
