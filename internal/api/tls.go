package api

import (
	"crypto/tls"
	"log"
	"os"
)

// TLSConfig holds the certificate pair served by the API.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

var tlsConfig *TLSConfig

// InitTLS sets the certificate pair from alchemy.yaml. ALCHEMY_TLS_CERT
// and ALCHEMY_TLS_KEY override the file values. TLS stays off unless
// both halves are known.
func InitTLS(certFile, keyFile string) {
	if v := os.Getenv("ALCHEMY_TLS_CERT"); v != "" {
		certFile = v
	}
	if v := os.Getenv("ALCHEMY_TLS_KEY"); v != "" {
		keyFile = v
	}

	tlsConfig = nil
	if certFile != "" && keyFile != "" {
		tlsConfig = &TLSConfig{CertFile: certFile, KeyFile: keyFile}
	}
}

// IsTLSEnabled returns true if TLS is configured.
func IsTLSEnabled() bool {
	return tlsConfig != nil && tlsConfig.CertFile != "" && tlsConfig.KeyFile != ""
}

// GetTLSConfig returns the current TLS configuration (may be nil).
func GetTLSConfig() *TLSConfig {
	return tlsConfig
}

// LoadTLSConfig loads the certificate pair. It returns nil, and the API
// falls back to plain HTTP, when TLS is off or the files are unreadable.
func LoadTLSConfig() *tls.Config {
	if !IsTLSEnabled() {
		return nil
	}

	cert, err := tls.LoadX509KeyPair(tlsConfig.CertFile, tlsConfig.KeyFile)
	if err != nil {
		log.Printf("Failed to load TLS certificate: %v", err)
		return nil
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
}

// SetTLSConfigForTest allows tests to set TLS config directly.
func SetTLSConfigForTest(cfg *TLSConfig) {
	tlsConfig = cfg
}
