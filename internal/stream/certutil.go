package stream

import (
	"crypto/sha1"
	"crypto/x509"
	"encoding/hex"
	"strings"
)

// fingerprintSHA1 renders the SHA-1 fingerprint of cert as colon-separated
// hex, matching the format the original log_ca_cert diagnostic used.
func fingerprintSHA1(cert *x509.Certificate) string {
	sum := sha1.Sum(cert.Raw)
	hexDigits := hex.EncodeToString(sum[:])
	pairs := make([]string, 0, len(hexDigits)/2)
	for i := 0; i < len(hexDigits); i += 2 {
		pairs = append(pairs, strings.ToUpper(hexDigits[i:i+2]))
	}
	return strings.Join(pairs, ":")
}

// isSelfSigned reports whether cert's issuer and subject match and its
// signature verifies against its own public key, the two conditions a
// bootstrap candidate CA must satisfy.
func isSelfSigned(cert *x509.Certificate) bool {
	if cert.Subject.String() != cert.Issuer.String() {
		return false
	}
	return cert.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature) == nil
}

// lastCert returns the final certificate in a peer chain, the position the
// bootstrap protocol treats as the candidate root: chains are ordered
// leaf-first, so the root a peer offers (if any) comes last.
func lastCert(chain []*x509.Certificate) (*x509.Certificate, bool) {
	if len(chain) == 0 {
		return nil, false
	}
	return chain[len(chain)-1], true
}
