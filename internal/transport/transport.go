// Package transport builds the pooled HTTP client used by the repository
// client, selecting between shared-secret and mutual-TLS authentication.
package transport

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/sha1n/index-bridge/internal/config"
)

// secretHeaderName is the fixed header carrying the shared secret.
const secretHeaderName = "X-Alfresco-Search-Secret"

// signingRoundTripper injects the shared-secret header on every request.
type signingRoundTripper struct {
	next   http.RoundTripper
	secret string
}

func (s *signingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	cloned.Header.Set(secretHeaderName, s.secret)
	return s.next.RoundTrip(cloned)
}

// New builds a pooled *http.Client configured for the given secure
// communications mode. It mirrors the two recognized options as a single
// capability rather than two client types: the caller only ever sees an
// *http.Client with the correct RoundTripper and TLS configuration wired
// in.
func New(cfg config.RepositorySettings) (*http.Client, error) {
	base := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}

	switch cfg.SecureComms {
	case config.SecureCommsSecret:
		return &http.Client{
			Transport: &signingRoundTripper{next: base, secret: cfg.Secret},
		}, nil
	case config.SecureCommsMTLS:
		tlsConfig, err := mtlsConfig(cfg.Keystore, cfg.Truststore)
		if err != nil {
			return nil, fmt.Errorf("building mtls transport: %w", err)
		}
		base.TLSClientConfig = tlsConfig
		return &http.Client{Transport: base}, nil
	default:
		return nil, fmt.Errorf("unsupported repository.secure_comms: %q", cfg.SecureComms)
	}
}

func mtlsConfig(keystore, truststore config.KeystoreSettings) (*tls.Config, error) {
	if keystore.Path == "" || truststore.Path == "" {
		return nil, errors.New("mtls mode requires both keystore and truststore paths")
	}

	cert, err := loadCombinedPEMKeyPair(keystore.Path)
	if err != nil {
		return nil, fmt.Errorf("loading client keypair: %w", err)
	}

	caBytes, err := os.ReadFile(truststore.Path)
	if err != nil {
		return nil, fmt.Errorf("reading truststore: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, errors.New("truststore contains no usable certificates")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// loadCombinedPEMKeyPair reads a single PEM file holding both the client
// certificate and its private key, as produced when a Java keystore is
// exported to PEM form ahead of deployment.
func loadCombinedPEMKeyPair(path string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, err
	}

	var certPEM, keyPEM []byte
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch block.Type {
		case "CERTIFICATE":
			certPEM = append(certPEM, pem.EncodeToMemory(block)...)
		default:
			keyPEM = append(keyPEM, pem.EncodeToMemory(block)...)
		}
	}
	if len(certPEM) == 0 || len(keyPEM) == 0 {
		return tls.Certificate{}, errors.New("keystore file must contain both a certificate and a private key block")
	}
	return tls.X509KeyPair(certPEM, keyPEM)
}
