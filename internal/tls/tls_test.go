package tls

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSetupAutoGenerate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")
	cfg, err := Setup(Options{Dir: dir, AutoGenerate: true, Hosts: []string{"localhost", "127.0.0.1"}})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if cfg.MinVersion != tls.VersionTLS13 {
		t.Fatalf("expected TLS 1.3 minimum, got %x", cfg.MinVersion)
	}
	for _, name := range []string{certName, keyName, caCertName} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("%s not written: %v", name, err)
		}
	}
	cert, err := cfg.GetCertificate(&tls.ClientHelloInfo{})
	if err != nil {
		t.Fatalf("load certificate: %v", err)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("parse leaf: %v", err)
	}
	if leaf.Subject.CommonName != "localhost" {
		t.Fatalf("unexpected CN %q", leaf.Subject.CommonName)
	}
	if len(leaf.DNSNames) != 1 || len(leaf.IPAddresses) != 1 {
		t.Fatalf("hosts not split: dns=%v ip=%v", leaf.DNSNames, leaf.IPAddresses)
	}
}

func TestSetupKeepsExistingPair(t *testing.T) {
	dir := t.TempDir()
	if _, err := Setup(Options{Dir: dir, AutoGenerate: true}); err != nil {
		t.Fatalf("first setup: %v", err)
	}
	before, _ := os.ReadFile(filepath.Join(dir, certName))
	if _, err := Setup(Options{Dir: dir, AutoGenerate: true}); err != nil {
		t.Fatalf("second setup: %v", err)
	}
	after, _ := os.ReadFile(filepath.Join(dir, certName))
	if string(before) != string(after) {
		t.Fatalf("existing certificate was regenerated")
	}
}

func TestSetupExplicitFiles(t *testing.T) {
	dir := t.TempDir()
	req := CertRequest{
		CommonName: "api.local",
		Hosts:      []string{"api.local"},
		NotAfter:   time.Now().Add(time.Hour),
		CertPath:   filepath.Join(dir, "api.crt"),
		KeyPath:    filepath.Join(dir, "api.key"),
	}
	if err := GenerateSelfSigned(req); err != nil {
		t.Fatalf("generate: %v", err)
	}
	cfg, err := Setup(Options{CertFile: req.CertPath, KeyFile: req.KeyPath, MinVersion: "1.2"})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if cfg.MinVersion != tls.VersionTLS12 {
		t.Fatalf("expected TLS 1.2 minimum")
	}
	if _, err := cfg.GetCertificate(&tls.ClientHelloInfo{}); err != nil {
		t.Fatalf("load: %v", err)
	}
}

func TestSetupErrors(t *testing.T) {
	if _, err := Setup(Options{}); err == nil {
		t.Fatalf("expected error without certificate source")
	}
	if _, err := Setup(Options{Dir: t.TempDir()}); err == nil {
		t.Fatalf("expected error for missing pair without auto-generate")
	}
	if _, err := Setup(Options{Dir: t.TempDir(), AutoGenerate: true, MinVersion: "1.0"}); err == nil {
		t.Fatalf("expected error for unsupported version")
	}
}

func TestParseVersion(t *testing.T) {
	for _, ok := range []string{"", "default", "1.2", "TLS1.2", "1.3", "tls1.3"} {
		if err := ParseVersion(ok); err != nil {
			t.Fatalf("%q: %v", ok, err)
		}
	}
	if err := ParseVersion("1.1"); err == nil {
		t.Fatalf("expected 1.1 to be rejected")
	}
}
