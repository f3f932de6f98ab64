package searchclient

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/sha1n/index-bridge/internal/config"
)

func newTLSClient(cfg config.SearchSettings) (*http.Client, error) {
	if cfg.ClientKeystore.Path == "" || cfg.Truststore.Path == "" {
		return nil, errors.New("search.protocol 'https' requires client keystore and truststore paths")
	}

	cert, err := loadCombinedPEMKeyPair(cfg.ClientKeystore.Path)
	if err != nil {
		return nil, fmt.Errorf("loading search client keypair: %w", err)
	}

	caBytes, err := os.ReadFile(cfg.Truststore.Path)
	if err != nil {
		return nil, fmt.Errorf("reading search truststore: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, errors.New("search truststore contains no usable certificates")
	}

	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				Certificates: []tls.Certificate{cert},
				RootCAs:      pool,
				MinVersion:   tls.VersionTLS12,
			},
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 20,
		},
	}, nil
}

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
