package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
)

// DefaultCertFile is the CA bundle used to verify servers.
const DefaultCertFile = "/etc/ssl/certs/ca-certificates.crt"

// DefaultCiphers is the restricted cipher policy, in OpenSSL notation.
var DefaultCiphers = []string{
	"ECDHE-RSA-AES128-GCM-SHA256",
	"ECDHE-ECDSA-AES128-GCM-SHA256",
	"AES128-GCM-SHA256",
}

// opensslNames maps OpenSSL cipher names to their Go identifiers.
var opensslNames = map[string]uint16{
	"AES128-GCM-SHA256":             tls.TLS_RSA_WITH_AES_128_GCM_SHA256,
	"AES256-GCM-SHA384":             tls.TLS_RSA_WITH_AES_256_GCM_SHA384,
	"ECDHE-RSA-AES128-GCM-SHA256":   tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	"ECDHE-RSA-AES256-GCM-SHA384":   tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	"ECDHE-ECDSA-AES128-GCM-SHA256": tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	"ECDHE-ECDSA-AES256-GCM-SHA384": tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	"ECDHE-RSA-CHACHA20-POLY1305":   tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
	"ECDHE-ECDSA-CHACHA20-POLY1305": tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
}

// ParseCipherSuites converts cipher names to crypto/tls identifiers. Both
// OpenSSL names ("AES128-GCM-SHA256") and Go names
// ("TLS_RSA_WITH_AES_128_GCM_SHA256") are accepted.
func ParseCipherSuites(names []string) ([]uint16, error) {
	known := make(map[string]uint16)
	for _, s := range tls.CipherSuites() {
		known[s.Name] = s.ID
	}
	for _, s := range tls.InsecureCipherSuites() {
		known[s.Name] = s.ID
	}

	ids := make([]uint16, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if id, ok := opensslNames[strings.ToUpper(name)]; ok {
			ids = append(ids, id)
			continue
		}
		if id, ok := known[strings.ToUpper(name)]; ok {
			ids = append(ids, id)
			continue
		}
		return nil, fmt.Errorf("unknown cipher suite %q", name)
	}
	return ids, nil
}

// LoadRootCAs reads a PEM bundle. When the file cannot be read or holds no
// certificates, the system pool is returned instead and fallback is true.
func LoadRootCAs(certFile string) (pool *x509.CertPool, fallback bool, err error) {
	if certFile != "" {
		data, readErr := os.ReadFile(certFile) //nolint:gosec // configured CA bundle path
		if readErr == nil {
			pool = x509.NewCertPool()
			if pool.AppendCertsFromPEM(data) {
				return pool, false, nil
			}
		}
	}
	pool, err = x509.SystemCertPool()
	if err != nil {
		return nil, true, fmt.Errorf("failed to load system root CAs: %w", err)
	}
	return pool, true, nil
}

// NewTLSConfig builds the client TLS configuration from a CA bundle and a
// cipher policy. A non-empty policy caps the protocol at TLS 1.2 because
// TLS 1.3 suites are not configurable.
func NewTLSConfig(certFile string, ciphers []string) (*tls.Config, bool, error) {
	pool, fallback, err := LoadRootCAs(certFile)
	if err != nil {
		return nil, fallback, err
	}
	suites, err := ParseCipherSuites(ciphers)
	if err != nil {
		return nil, fallback, err
	}

	cfg := &tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	}
	if len(suites) > 0 {
		cfg.CipherSuites = suites
		cfg.MaxVersion = tls.VersionTLS12
	}
	return cfg, fallback, nil
}
