// Package websrv constructs and runs the host's HTTP server: listener
// configuration with production timeouts, optional TLS from the configured
// certificate material, and graceful shutdown.
package websrv

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"
)

// Options selects the listen address and, when Secure is set, the TLS
// material to serve with.
type Options struct {
	Address       string
	Secure        bool
	Certificate   string
	Key           string
	KeyPassphrase string
}

const defaultAddress = ":8080"

// Create builds the HTTP server for the given handler. TLS configuration
// errors are reported here, before any listen attempt.
func Create(opts Options, handler http.Handler) (*http.Server, error) {
	address := opts.Address
	if address == "" {
		address = defaultAddress
	}

	server := &http.Server{
		Addr:         address,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if opts.Secure {
		certificate, err := loadCertificate(opts.Certificate, opts.Key, opts.KeyPassphrase)
		if err != nil {
			return nil, fmt.Errorf("load TLS material: %w", err)
		}
		server.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{certificate},
			MinVersion:   tls.VersionTLS12,
		}
	}

	return server, nil
}

// Start listens and serves until the server shuts down. The caller decides
// whether http.ErrServerClosed is an error.
func Start(server *http.Server) error {
	if server.TLSConfig != nil {
		return server.ListenAndServeTLS("", "")
	}
	return server.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting up to timeout for active
// connections to drain.
func Shutdown(server *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// loadCertificate reads the PEM certificate and key, decrypting the key
// first when a passphrase is configured.
func loadCertificate(certPath, keyPath, passphrase string) (tls.Certificate, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return tls.Certificate{}, err
	}

	if passphrase != "" {
		block, _ := pem.Decode(keyPEM)
		if block == nil {
			return tls.Certificate{}, errors.New("no PEM block in key file")
		}
		der, err := x509.DecryptPEMBlock(block, []byte(passphrase)) //nolint:staticcheck // legacy encrypted keys are part of the config surface
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("decrypt key: %w", err)
		}
		keyPEM = pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der})
	}

	return tls.X509KeyPair(certPEM, keyPEM)
}
