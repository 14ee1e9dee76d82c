package authority

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// PinMode selects how the authority's certificate is pinned
type PinMode string

const (
	// PinCommonName accepts any certificate whose subject CN equals the pinned host,
	// without chain verification. Kept for compatibility with existing deployments.
	PinCommonName PinMode = "common-name"

	// PinPublicKey verifies the chain and requires the leaf's SubjectPublicKeyInfo
	// SHA-256 to be in the pin set.
	PinPublicKey PinMode = "public-key"
)

// ErrPinMismatch is returned from the handshake when the server identity is not pinned
var ErrPinMismatch = errors.New("server certificate does not match pin")

// PinConfig configures certificate pinning
type PinConfig struct {
	Mode    PinMode
	Host    string         // Required CN in common-name mode
	Keys    []string       // base64 SHA-256 SPKI hashes in public-key mode
	RootCAs *x509.CertPool // nil uses the system pool
}

// NewPinnedTransport returns an HTTP transport that rejects any server outside the pin
func NewPinnedTransport(cfg PinConfig) (*http.Transport, error) {
	tlsConfig, err := pinnedTLSConfig(cfg)
	if err != nil {
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig
	transport.TLSHandshakeTimeout = 10 * time.Second
	return transport, nil
}

func pinnedTLSConfig(cfg PinConfig) (*tls.Config, error) {
	switch cfg.Mode {
	case PinCommonName, "":
		if cfg.Host == "" {
			return nil, fmt.Errorf("common-name pinning requires a host")
		}
		return &tls.Config{
			MinVersion: tls.VersionTLS12,
			// Identity is decided by VerifyConnection alone
			InsecureSkipVerify: true,
			VerifyConnection:   verifyCommonName(cfg.Host),
		}, nil

	case PinPublicKey:
		if len(cfg.Keys) == 0 {
			return nil, fmt.Errorf("public-key pinning requires at least one key")
		}
		pins := make(map[string]bool, len(cfg.Keys))
		for _, k := range cfg.Keys {
			if _, err := base64.StdEncoding.DecodeString(k); err != nil {
				return nil, fmt.Errorf("invalid pinned key %q: %w", k, err)
			}
			pins[k] = true
		}
		return &tls.Config{
			MinVersion:       tls.VersionTLS12,
			RootCAs:          cfg.RootCAs,
			VerifyConnection: verifyPublicKey(pins),
		}, nil

	default:
		return nil, fmt.Errorf("unknown pin mode %q", cfg.Mode)
	}
}

func verifyCommonName(host string) func(tls.ConnectionState) error {
	return func(cs tls.ConnectionState) error {
		if len(cs.PeerCertificates) == 0 {
			return fmt.Errorf("%w: no certificate presented", ErrPinMismatch)
		}
		if cn := cs.PeerCertificates[0].Subject.CommonName; cn != host {
			return fmt.Errorf("%w: common name %q", ErrPinMismatch, cn)
		}
		return nil
	}
}

func verifyPublicKey(pins map[string]bool) func(tls.ConnectionState) error {
	return func(cs tls.ConnectionState) error {
		if len(cs.PeerCertificates) == 0 {
			return fmt.Errorf("%w: no certificate presented", ErrPinMismatch)
		}
		hash := SPKIHash(cs.PeerCertificates[0])
		if !pins[hash] {
			return fmt.Errorf("%w: public key %s", ErrPinMismatch, hash)
		}
		return nil
	}
}

// SPKIHash returns the base64 SHA-256 of a certificate's SubjectPublicKeyInfo
func SPKIHash(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.RawSubjectPublicKeyInfo)
	return base64.StdEncoding.EncodeToString(sum[:])
}
