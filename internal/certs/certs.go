// Package certs keeps a self-signed TLS key pair for local development.
//
// At startup Ensure reuses the pair on disk when it is still comfortably
// valid and regenerates it otherwise. Nothing here is meant for trust
// outside the developer's machine.
package certs

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

const (
	CertFileName = "cert.pem"
	KeyFileName  = "key.pem"

	// RenewThreshold is the remaining validity at or below which a pair
	// is replaced.
	RenewThreshold = 30 * 24 * time.Hour
	validity       = 365 * 24 * time.Hour
	rsaBits        = 2048
)

// State classifies the certificate on disk.
type State string

const (
	StateAbsent   State = "absent"
	StateValid    State = "valid"
	StateExpiring State = "expiring"
	StateInvalid  State = "invalid"
)

// Assess classifies a parsed certificate by its expiry. A zero notAfter
// means no certificate was found.
func Assess(now, notAfter time.Time, threshold time.Duration) State {
	if notAfter.IsZero() {
		return StateAbsent
	}
	if notAfter.Sub(now) <= threshold {
		return StateExpiring
	}
	return StateValid
}

// ShouldRegenerate reports whether a certificate valid until notAfter has
// 30 days or less left at now. Expired certificates always qualify.
func ShouldRegenerate(now, notAfter time.Time) bool {
	return Assess(now, notAfter, RenewThreshold) != StateValid
}

// Manager owns cert.pem and key.pem in Dir.
type Manager struct {
	Dir    string
	Now    func() time.Time
	Logger *slog.Logger
}

// NewManager returns a Manager for dir using the wall clock.
func NewManager(dir string, logger *slog.Logger) *Manager {
	return &Manager{Dir: dir, Now: time.Now, Logger: logger}
}

func (m *Manager) CertFile() string { return filepath.Join(m.Dir, CertFileName) }
func (m *Manager) KeyFile() string  { return filepath.Join(m.Dir, KeyFileName) }

// Ensure returns paths to a usable key pair, generating a new one when the
// existing pair is absent, unreadable, mismatched or close to expiry.
func (m *Manager) Ensure() (certFile, keyFile string, err error) {
	now := m.Now()
	state, notAfter := m.Inspect(now)
	if state == StateValid {
		m.Logger.Info("reusing TLS certificate", "dir", m.Dir, "not_after", notAfter)
		return m.CertFile(), m.KeyFile(), nil
	}

	m.Logger.Info("generating TLS certificate", "dir", m.Dir, "previous_state", state)
	if err := m.generate(now); err != nil {
		return "", "", err
	}
	return m.CertFile(), m.KeyFile(), nil
}

// Inspect loads the pair on disk and classifies it.
func (m *Manager) Inspect(now time.Time) (State, time.Time) {
	certPEM, certErr := os.ReadFile(m.CertFile())
	keyPEM, keyErr := os.ReadFile(m.KeyFile())
	if errors.Is(certErr, fs.ErrNotExist) || errors.Is(keyErr, fs.ErrNotExist) {
		return StateAbsent, time.Time{}
	}
	if certErr != nil || keyErr != nil {
		return StateInvalid, time.Time{}
	}

	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return StateInvalid, time.Time{}
	}
	leaf := pair.Leaf
	if leaf == nil {
		if leaf, err = x509.ParseCertificate(pair.Certificate[0]); err != nil {
			return StateInvalid, time.Time{}
		}
	}
	return Assess(now, leaf.NotAfter, RenewThreshold), leaf.NotAfter
}

func (m *Manager) generate(now time.Time) error {
	key, err := rsa.GenerateKey(rand.Reader, rsaBits)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("generate serial: %w", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "localhost", Organization: []string{"reviewgate"}},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1"), net.IPv6loopback},
		SignatureAlgorithm:    x509.SHA256WithRSA,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("create certificate: %w", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("marshal key: %w", err)
	}

	if err := os.MkdirAll(m.Dir, 0o700); err != nil {
		return fmt.Errorf("create cert dir: %w", err)
	}
	if err := writePEM(m.KeyFile(), "PRIVATE KEY", keyDER); err != nil {
		return err
	}
	return writePEM(m.CertFile(), "CERTIFICATE", der)
}

// writePEM replaces path through a temp file so a crash never leaves a
// half-written pair behind.
func writePEM(path, blockType string, der []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := pem.Encode(tmp, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
