package certs

import (
	"crypto/tls"
	"crypto/x509"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var now = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func TestAssess(t *testing.T) {
	tests := []struct {
		name     string
		notAfter time.Time
		want     State
	}{
		{"absent", time.Time{}, StateAbsent},
		{"far future", now.Add(365 * 24 * time.Hour), StateValid},
		{"just over threshold", now.Add(RenewThreshold + time.Second), StateValid},
		{"exactly threshold", now.Add(RenewThreshold), StateExpiring},
		{"inside threshold", now.Add(10 * 24 * time.Hour), StateExpiring},
		{"expired", now.Add(-time.Hour), StateExpiring},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Assess(now, tt.notAfter, RenewThreshold); got != tt.want {
				t.Errorf("Assess = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestShouldRegenerate(t *testing.T) {
	tests := []struct {
		left time.Duration
		want bool
	}{
		{31 * 24 * time.Hour, false},
		{30 * 24 * time.Hour, true},
		{29 * 24 * time.Hour, true},
		{-24 * time.Hour, true},
	}
	for _, tt := range tests {
		if got := ShouldRegenerate(now, now.Add(tt.left)); got != tt.want {
			t.Errorf("ShouldRegenerate(left=%v) = %v, want %v", tt.left, got, tt.want)
		}
	}
}

func newTestManager(t *testing.T, dir string, at time.Time) *Manager {
	t.Helper()
	m := NewManager(dir, slog.New(slog.DiscardHandler))
	m.Now = func() time.Time { return at }
	return m
}

func loadLeaf(t *testing.T, certFile, keyFile string) *x509.Certificate {
	t.Helper()
	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		t.Fatalf("LoadX509KeyPair: %v", err)
	}
	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		t.Fatalf("ParseCertificate: %v", err)
	}
	return leaf
}

func TestEnsure_GeneratesWhenAbsent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")
	m := newTestManager(t, dir, time.Now())

	certFile, keyFile, err := m.Ensure()
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	leaf := loadLeaf(t, certFile, keyFile)
	if leaf.SignatureAlgorithm != x509.SHA256WithRSA {
		t.Errorf("signature = %v, want SHA256WithRSA", leaf.SignatureAlgorithm)
	}
	if err := leaf.VerifyHostname("localhost"); err != nil {
		t.Errorf("localhost SAN: %v", err)
	}
	if err := leaf.VerifyHostname("127.0.0.1"); err != nil {
		t.Errorf("127.0.0.1 SAN: %v", err)
	}
	var hasV6 bool
	for _, ip := range leaf.IPAddresses {
		if ip.Equal(net.IPv6loopback) {
			hasV6 = true
		}
	}
	if !hasV6 {
		t.Error("missing ::1 SAN")
	}
	if left := time.Until(leaf.NotAfter); left < 364*24*time.Hour {
		t.Errorf("validity left = %v, want about a year", left)
	}

	for _, f := range []string{certFile, keyFile} {
		info, err := os.Stat(f)
		if err != nil {
			t.Fatalf("Stat(%s): %v", f, err)
		}
		if perm := info.Mode().Perm(); perm != 0o600 {
			t.Errorf("%s mode = %o, want 600", filepath.Base(f), perm)
		}
	}
	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("Stat(dir): %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o700 {
		t.Errorf("dir mode = %o, want 700", perm)
	}
}

func TestEnsure_ReusesValidPair(t *testing.T) {
	dir := t.TempDir()
	start := time.Now()

	certFile, keyFile, err := newTestManager(t, dir, start).Ensure()
	if err != nil {
		t.Fatalf("first Ensure: %v", err)
	}
	first := loadLeaf(t, certFile, keyFile)

	// 300 days later the pair still has more than 30 days left.
	certFile, keyFile, err = newTestManager(t, dir, start.Add(300*24*time.Hour)).Ensure()
	if err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	second := loadLeaf(t, certFile, keyFile)
	if first.SerialNumber.Cmp(second.SerialNumber) != 0 {
		t.Error("valid certificate was regenerated")
	}
}

func TestEnsure_RegeneratesExpiringPair(t *testing.T) {
	dir := t.TempDir()
	start := time.Now()

	certFile, keyFile, err := newTestManager(t, dir, start).Ensure()
	if err != nil {
		t.Fatalf("first Ensure: %v", err)
	}
	first := loadLeaf(t, certFile, keyFile)

	later := newTestManager(t, dir, start.Add(340*24*time.Hour))
	if state, _ := later.Inspect(later.Now()); state != StateExpiring {
		t.Fatalf("state = %q, want expiring", state)
	}
	certFile, keyFile, err = later.Ensure()
	if err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	second := loadLeaf(t, certFile, keyFile)
	if first.SerialNumber.Cmp(second.SerialNumber) == 0 {
		t.Error("expiring certificate was not regenerated")
	}
	if !second.NotAfter.After(first.NotAfter) {
		t.Errorf("new NotAfter %v not after old %v", second.NotAfter, first.NotAfter)
	}
}

func TestEnsure_ReplacesInvalidPair(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, dir, time.Now())
	if err := os.WriteFile(m.CertFile(), []byte("not a certificate"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(m.KeyFile(), []byte("not a key"), 0o600); err != nil {
		t.Fatal(err)
	}

	if state, _ := m.Inspect(m.Now()); state != StateInvalid {
		t.Fatalf("state = %q, want invalid", state)
	}
	certFile, keyFile, err := m.Ensure()
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	loadLeaf(t, certFile, keyFile)
}

func TestInspect_MissingKeyIsAbsent(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, dir, time.Now())
	if _, _, err := m.Ensure(); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if err := os.Remove(m.KeyFile()); err != nil {
		t.Fatal(err)
	}
	if state, _ := m.Inspect(m.Now()); state != StateAbsent {
		t.Errorf("state = %q, want absent", state)
	}
}
