package stream

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// runBootstrap implements the one-time trust-on-first-use flow: take the
// last certificate in the peer's chain as the candidate root, verify it is
// self-signed, and atomically persist it. The O_EXCL gate ensures exactly
// one concurrently-handshaking stream wins; every loser's error is
// propagated unchanged so the caller's handshake still fails, but only the
// winner mutates global state.
func runBootstrap(ctxCfg *Context, path string, peerChain []*x509.Certificate, logger *Logger) error {
	candidate, ok := lastCert(peerChain)
	if !ok {
		return fmt.Errorf("peer presented no certificate chain during bootstrap")
	}
	if !isSelfSigned(candidate) {
		return fmt.Errorf("peer's root certificate is not self-signed; peer probably did not send its CA certificate")
	}

	if err := writeBootstrapFile(path, candidate); err != nil {
		return err
	}

	ctxCfg.bootstrapWin(candidate)
	return nil
}

// writeBootstrapFile atomically creates path with O_CREAT|O_EXCL|O_WRONLY
// and mode 0444, containing candidate PEM-encoded. Any failure after
// creation removes the partial file, so a losing or failed attempt never
// leaves a file behind.
func writeBootstrapFile(path string, candidate *x509.Certificate) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0444)
	if err != nil {
		if os.IsExist(err) {
			return newErrWithCause(ErrProto, "bootstrap_ca", err).WithContext("path", path).WithContext("reason", "lost O_EXCL race")
		}
		return newErrWithCause(ErrProto, "bootstrap_ca", err).WithContext("path", path)
	}

	block := &pem.Block{Type: "CERTIFICATE", Bytes: candidate.Raw}
	if err := pem.Encode(f, block); err != nil {
		f.Close()
		os.Remove(path)
		return newErrWithCause(ErrProto, "bootstrap_ca", err).WithContext("path", path)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return newErrWithCause(ErrProto, "bootstrap_ca", err).WithContext("path", path)
	}
	return nil
}
