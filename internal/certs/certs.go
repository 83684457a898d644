// File: internal/certs/certs.go

// Package certs preflights the client certificate before a session starts.
// The SSO login fails late and cryptically when the browser has no usable
// certificate; checking the file up front turns that into an immediate,
// readable error.
package certs

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
)

// expiryWarning is how close to NotAfter a certificate may be before the
// preflight starts warning about it.
const expiryWarning = 30 * 24 * time.Hour

// Info is the summary of a parsed client certificate.
type Info struct {
	Subject      string
	Issuer       string
	SerialNumber string
	NotBefore    time.Time
	NotAfter     time.Time
	ExpiresSoon  bool
}

// Load reads and parses a certificate file. Both PEM and raw DER encodings
// are accepted; for PEM, the first CERTIFICATE block wins.
func Load(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading certificate file: %w", err)
	}

	der := data
	for block, rest := pem.Decode(data); block != nil; block, rest = pem.Decode(rest) {
		if block.Type == "CERTIFICATE" {
			der = block.Bytes
			break
		}
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parsing certificate: %w", err)
	}
	return cert, nil
}

// Verify checks the certificate's validity window against now.
func Verify(cert *x509.Certificate, now time.Time) (*Info, error) {
	info := &Info{
		Subject:      cert.Subject.String(),
		Issuer:       cert.Issuer.String(),
		SerialNumber: cert.SerialNumber.String(),
		NotBefore:    cert.NotBefore,
		NotAfter:     cert.NotAfter,
	}

	if now.Before(cert.NotBefore) {
		return info, fmt.Errorf("certificate %s is not valid until %s", info.Subject, cert.NotBefore.Format(time.RFC3339))
	}
	if now.After(cert.NotAfter) {
		return info, fmt.Errorf("certificate %s expired on %s", info.Subject, cert.NotAfter.Format(time.RFC3339))
	}
	info.ExpiresSoon = now.Add(expiryWarning).After(cert.NotAfter)
	return info, nil
}

// Preflight loads and verifies the certificate at path, logging what it
// found. A missing path is a no-op so certificate-less profiles, where the
// browser profile already holds the credential, still run.
func Preflight(path string, logger *zap.Logger) (*Info, error) {
	log := logger.Named("certs")
	if path == "" {
		log.Debug("No certificate path configured, skipping preflight")
		return nil, nil
	}

	cert, err := Load(path)
	if err != nil {
		return nil, err
	}

	info, err := Verify(cert, time.Now())
	if err != nil {
		return info, err
	}

	log.Info("Certificate preflight passed",
		zap.String("subject", info.Subject),
		zap.String("issuer", info.Issuer),
		zap.Time("not_after", info.NotAfter),
	)
	if info.ExpiresSoon {
		log.Warn("Certificate expires soon", zap.Time("not_after", info.NotAfter))
	}
	return info, nil
}
