// Command ofssl-cert generates, inspects, and validates the key/certificate
// material internal/stream.Context consumes, and reports the on-disk status
// of a bootstrap CA file.
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ofssl-cert",
		Short: "Generate, inspect, and validate OFSSL stream credentials",
	}
	root.AddCommand(newGenerateCmd(), newInspectCmd(), newValidateCmd(), newBootstrapStatusCmd())
	return root
}

// generateOptions mirrors the teacher's polis-cert generateOptions, trimmed
// to the fields this tool's certificates actually need.
type generateOptions struct {
	commonName  string
	org         string
	country     string
	dnsNames    []string
	ipAddresses []net.IP
	validFor    time.Duration
	keySize     int
	isCA        bool
	certFile    string
	keyFile     string
	outputDir   string
}

func newGenerateCmd() *cobra.Command {
	opts := generateOptions{}
	var dns, ips string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a self-signed certificate and key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.dnsNames = splitTrim(dns)
			opts.ipAddresses = parseIPs(splitTrim(ips))
			return runGenerate(opts)
		},
	}

	cmd.Flags().StringVar(&opts.commonName, "cn", "localhost", "Common name for the certificate")
	cmd.Flags().StringVar(&opts.org, "org", "OFSSL Test", "Organization name")
	cmd.Flags().StringVar(&opts.country, "country", "US", "Country code")
	cmd.Flags().StringVar(&dns, "dns", "", "Comma-separated list of DNS names (SANs)")
	cmd.Flags().StringVar(&ips, "ips", "127.0.0.1", "Comma-separated list of IP addresses")
	cmd.Flags().DurationVar(&opts.validFor, "valid-for", 365*24*time.Hour, "Certificate validity duration")
	cmd.Flags().IntVar(&opts.keySize, "key-size", 2048, "RSA key size in bits")
	cmd.Flags().BoolVar(&opts.isCA, "ca", false, "Generate a CA certificate")
	cmd.Flags().StringVar(&opts.certFile, "cert", "cert.pem", "Output certificate file name")
	cmd.Flags().StringVar(&opts.keyFile, "key", "key.pem", "Output private key file name")
	cmd.Flags().StringVar(&opts.outputDir, "output-dir", ".", "Output directory")

	return cmd
}

func runGenerate(opts generateOptions) error {
	if err := os.MkdirAll(opts.outputDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	key, err := rsa.GenerateKey(rand.Reader, opts.keySize)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			CommonName:   opts.commonName,
			Organization: []string{opts.org},
			Country:      []string{opts.country},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(opts.validFor),
		DNSNames:              opts.dnsNames,
		IPAddresses:           opts.ipAddresses,
		BasicConstraintsValid: true,
	}
	if opts.isCA {
		tmpl.IsCA = true
		tmpl.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature
	} else {
		tmpl.KeyUsage = x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature
		tmpl.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth}
	}

	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("create certificate: %w", err)
	}

	certPath := filepath.Join(opts.outputDir, opts.certFile)
	keyPath := filepath.Join(opts.outputDir, opts.keyFile)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	if err := os.WriteFile(certPath, certPEM, 0644); err != nil {
		return fmt.Errorf("write certificate: %w", err)
	}
	if err := os.WriteFile(keyPath, keyPEM, 0600); err != nil {
		return fmt.Errorf("write key: %w", err)
	}

	fmt.Printf("Certificate generated:\n  cert: %s\n  key:  %s\n  cn:   %s\n", certPath, keyPath, opts.commonName)
	return nil
}

func newInspectCmd() *cobra.Command {
	var certFile, format string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the subject, validity window, and fingerprint of a certificate",
		RunE: func(cmd *cobra.Command, args []string) error {
			if certFile == "" {
				return fmt.Errorf("--cert is required")
			}
			cert, err := loadCertFile(certFile)
			if err != nil {
				return err
			}
			switch format {
			case "text", "":
				printCertText(certFile, cert)
			case "json":
				printCertJSON(certFile, cert)
			default:
				return fmt.Errorf("unknown format %q (supported: text, json)", format)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&certFile, "cert", "", "Certificate file to inspect")
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text, json")
	return cmd
}

func newValidateCmd() *cobra.Command {
	var certFile, keyFile string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a certificate file, and its key pairing if provided",
		RunE: func(cmd *cobra.Command, args []string) error {
			if certFile == "" {
				return fmt.Errorf("--cert is required")
			}
			cert, err := loadCertFile(certFile)
			if err != nil {
				return fmt.Errorf("certificate invalid: %w", err)
			}
			if time.Now().After(cert.NotAfter) {
				return fmt.Errorf("certificate expired at %s", cert.NotAfter.Format(time.RFC3339))
			}
			if keyFile != "" {
				if _, err := tls.LoadX509KeyPair(certFile, keyFile); err != nil {
					return fmt.Errorf("key pair mismatch: %w", err)
				}
			}
			fmt.Println("OK")
			return nil
		},
	}
	cmd.Flags().StringVar(&certFile, "cert", "", "Certificate file to validate")
	cmd.Flags().StringVar(&keyFile, "key", "", "Private key file to validate against the certificate")
	return cmd
}

// newBootstrapStatusCmd reports whether internal/stream's bootstrap protocol
// (§4.5) has installed a CA file yet, without linking against internal/stream
// itself: the on-disk contract (present == installed, absent == pending) is
// all this tool needs.
func newBootstrapStatusCmd() *cobra.Command {
	var caFile string
	cmd := &cobra.Command{
		Use:   "bootstrap-status",
		Short: "Report whether a bootstrap CA file has been installed",
		RunE: func(cmd *cobra.Command, args []string) error {
			if caFile == "" {
				return fmt.Errorf("--ca-file is required")
			}
			info, err := os.Stat(caFile)
			if os.IsNotExist(err) {
				fmt.Printf("pending: %s has not been written yet\n", caFile)
				return nil
			}
			if err != nil {
				return err
			}
			cert, err := loadCertFile(caFile)
			if err != nil {
				return fmt.Errorf("installed file is not a valid certificate: %w", err)
			}
			fmt.Printf("installed: %s (mode %s, subject %s, fingerprint %s)\n",
				caFile, info.Mode(), cert.Subject.String(), fingerprintSHA1(cert))
			return nil
		},
	}
	cmd.Flags().StringVar(&caFile, "ca-file", "", "Path the bootstrap CA file is expected at")
	return cmd
}

func loadCertFile(path string) (*x509.Certificate, error) {
	// #nosec G304 -- path is an operator-supplied CLI argument.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", path)
	}
	return x509.ParseCertificate(block.Bytes)
}

func fingerprintSHA1(cert *x509.Certificate) string {
	sum := sha1.Sum(cert.Raw)
	hexDigits := hex.EncodeToString(sum[:])
	pairs := make([]string, 0, len(hexDigits)/2)
	for i := 0; i < len(hexDigits); i += 2 {
		pairs = append(pairs, strings.ToUpper(hexDigits[i:i+2]))
	}
	return strings.Join(pairs, ":")
}

func printCertText(path string, cert *x509.Certificate) {
	fmt.Printf("Certificate: %s\n", path)
	fmt.Printf("  Subject:     %s\n", cert.Subject.String())
	fmt.Printf("  Issuer:      %s\n", cert.Issuer.String())
	fmt.Printf("  Not before:  %s\n", cert.NotBefore.Format(time.RFC3339))
	fmt.Printf("  Not after:   %s\n", cert.NotAfter.Format(time.RFC3339))
	fmt.Printf("  Fingerprint: %s\n", fingerprintSHA1(cert))
	if len(cert.DNSNames) > 0 {
		fmt.Printf("  DNS names:   %s\n", strings.Join(cert.DNSNames, ", "))
	}
	selfSigned := cert.Subject.String() == cert.Issuer.String() && cert.CheckSignatureFrom(cert) == nil
	fmt.Printf("  Self-signed: %t\n", selfSigned)
	now := time.Now()
	switch {
	case now.After(cert.NotAfter):
		fmt.Printf("  Status:      EXPIRED (%v ago)\n", now.Sub(cert.NotAfter).Truncate(time.Hour))
	case now.Before(cert.NotBefore):
		fmt.Printf("  Status:      NOT YET VALID\n")
	default:
		fmt.Printf("  Status:      VALID (expires in %v)\n", cert.NotAfter.Sub(now).Truncate(time.Hour))
	}
}

func printCertJSON(path string, cert *x509.Certificate) {
	fmt.Printf("{\n")
	fmt.Printf("  \"file\": %q,\n", path)
	fmt.Printf("  \"subject\": %q,\n", cert.Subject.String())
	fmt.Printf("  \"issuer\": %q,\n", cert.Issuer.String())
	fmt.Printf("  \"not_before\": %q,\n", cert.NotBefore.Format(time.RFC3339))
	fmt.Printf("  \"not_after\": %q,\n", cert.NotAfter.Format(time.RFC3339))
	fmt.Printf("  \"fingerprint_sha1\": %q\n", fingerprintSHA1(cert))
	fmt.Printf("}\n")
}

func splitTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseIPs(strs []string) []net.IP {
	var ips []net.IP
	for _, s := range strs {
		if ip := net.ParseIP(s); ip != nil {
			ips = append(ips, ip)
		}
	}
	return ips
}
