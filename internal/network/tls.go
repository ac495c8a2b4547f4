// internal/network/tls.go
package network

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// HostnameVerifier decides whether the peer presented in state may serve host.
// Returning an error aborts the handshake.
type HostnameVerifier func(host string, state tls.ConnectionState) error

// NewSecureTLSConfig returns the hardened baseline: TLS 1.2+, modern curves, PFS
// suites and session resumption.
func NewSecureTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: SecureMinTLSVersion,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		},
		ClientSessionCache: tls.NewLRUClientSessionCache(512),
	}
}

// tlsPolicy is the TLS-relevant slice of one exchange.
type tlsPolicy struct {
	handleHTTPS       bool
	insecure          bool
	trustAllHostnames bool
	verifier          HostnameVerifier
	sessionConfig     *tls.Config
	defaultConfig     *tls.Config
}

// build produces the client TLS configuration for an exchange against host.
func (p tlsPolicy) build(host string, logger *zap.Logger) *tls.Config {
	var cfg *tls.Config
	switch {
	case p.handleHTTPS && p.sessionConfig != nil:
		cfg = p.sessionConfig.Clone()
	case p.defaultConfig != nil:
		cfg = p.defaultConfig.Clone()
	default:
		cfg = NewSecureTLSConfig()
	}

	hardened := NewSecureTLSConfig()
	if cfg.MinVersion == 0 {
		cfg.MinVersion = hardened.MinVersion
	}
	if len(cfg.CurvePreferences) == 0 {
		cfg.CurvePreferences = hardened.CurvePreferences
	}
	if cfg.ClientSessionCache == nil {
		cfg.ClientSessionCache = hardened.ClientSessionCache
	}
	if cfg.MinVersion < SecureMinTLSVersion {
		logger.Warn("TLS minimum version below 1.2 configured", zap.Uint16("min_version", cfg.MinVersion))
	}

	if !p.handleHTTPS {
		return cfg
	}
	if !p.insecure && !p.trustAllHostnames && p.verifier == nil {
		return cfg
	}

	// Chain and hostname checks are split so each can be relaxed on its own.
	roots := cfg.RootCAs
	insecure, trustAll, verifier := p.insecure, p.trustAllHostnames, p.verifier
	cfg.InsecureSkipVerify = true
	cfg.VerifyConnection = func(state tls.ConnectionState) error {
		if len(state.PeerCertificates) == 0 {
			return errors.New("tls: peer presented no certificates")
		}
		if !insecure {
			if err := verifyChain(state, roots); err != nil {
				return err
			}
		}
		name := state.ServerName
		if name == "" {
			name = host
		}
		switch {
		case verifier != nil:
			return verifier(name, state)
		case trustAll:
			return nil
		default:
			return state.PeerCertificates[0].VerifyHostname(name)
		}
	}
	if insecure {
		logger.Debug("Certificate chain verification disabled for exchange", zap.String("host", host))
	}
	return cfg
}

// verifyChain validates the peer chain against roots, or the system pool when nil.
func verifyChain(state tls.ConnectionState, roots *x509.CertPool) error {
	opts := x509.VerifyOptions{
		Roots:         roots,
		Intermediates: x509.NewCertPool(),
	}
	for _, cert := range state.PeerCertificates[1:] {
		opts.Intermediates.AddCert(cert)
	}
	if _, err := state.PeerCertificates[0].Verify(opts); err != nil {
		return fmt.Errorf("tls: certificate verification failed: %w", err)
	}
	return nil
}

// TrustAllHostnames is a HostnameVerifier that accepts every host.
func TrustAllHostnames(string, tls.ConnectionState) error { return nil }
