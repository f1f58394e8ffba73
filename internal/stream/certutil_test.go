package stream

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateTestCert(t *testing.T, subject, issuer string, signerKey *ecdsa.PrivateKey) (*x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: subject},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		IsCA:         true,
	}

	signer := key
	signerPub := &key.PublicKey
	parentTmpl := tmpl
	if signerKey != nil {
		signer = signerKey
		signerPub = &signerKey.PublicKey
		parentTmpl = &x509.Certificate{Subject: pkix.Name{CommonName: issuer}}
	}
	_ = signerPub

	der, err := x509.CreateCertificate(rand.Reader, tmpl, parentTmpl, &key.PublicKey, signer)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert, key
}

func TestIsSelfSignedTrueForSelfSignedCert(t *testing.T) {
	cert, _ := generateTestCert(t, "root-ca", "root-ca", nil)
	assert.True(t, isSelfSigned(cert))
}

func TestIsSelfSignedFalseForDifferentSubjectIssuer(t *testing.T) {
	caCert, caKey := generateTestCert(t, "root-ca", "root-ca", nil)
	_ = caCert
	leaf, _ := generateTestCert(t, "leaf", "root-ca", caKey)
	assert.False(t, isSelfSigned(leaf))
}

func TestFingerprintSHA1Format(t *testing.T) {
	cert, _ := generateTestCert(t, "example", "example", nil)
	fp := fingerprintSHA1(cert)

	parts := strings.Split(fp, ":")
	assert.Len(t, parts, 20, "SHA-1 fingerprint should have 20 colon-separated octets")
	for _, p := range parts {
		assert.Len(t, p, 2)
		assert.Equal(t, strings.ToUpper(p), p)
	}
}

func TestLastCert(t *testing.T) {
	leaf, _ := generateTestCert(t, "leaf", "leaf", nil)
	root, _ := generateTestCert(t, "root", "root", nil)

	last, ok := lastCert([]*x509.Certificate{leaf, root})
	require.True(t, ok)
	assert.Equal(t, root, last)

	_, ok = lastCert(nil)
	assert.False(t, ok)
}
