// Package tls builds the server-side TLS configuration for the HTTP API.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	caCertName = "tls_ca.crt"
	certName   = "tls.crt"
	keyName    = "tls.key"
)

// Options locates or generates the API certificate.
type Options struct {
	// CertFile and KeyFile take precedence over Dir when both are set.
	CertFile string
	KeyFile  string
	// Dir holds tls.crt and tls.key.
	Dir          string
	AutoGenerate bool
	// CommonName and Hosts describe a generated certificate.
	CommonName string
	Hosts      []string
	ValidDays  int
	MinVersion string
}

func parseVersion(ver string) (uint16, error) {
	switch strings.ToLower(ver) {
	case "", "default", "1.3", "tls1.3":
		return tls.VersionTLS13, nil
	case "1.2", "tls1.2":
		return tls.VersionTLS12, nil
	default:
		return 0, fmt.Errorf("unsupported tls version %q", ver)
	}
}

// ParseVersion accepts "1.2", "1.3" (and their TLS-prefixed spellings).
func ParseVersion(ver string) error {
	_, err := parseVersion(ver)
	return err
}

// safeReadFile refuses paths that escape baseDir.
func safeReadFile(baseDir, p string) ([]byte, error) {
	clean := filepath.Clean(p)
	if baseDir != "" {
		absBase, _ := filepath.Abs(baseDir)
		absFile, _ := filepath.Abs(clean)
		if !strings.HasPrefix(absFile, absBase+string(filepath.Separator)) && absFile != absBase {
			return nil, errors.New("file path outside of allowed directory")
		}
	}
	return os.ReadFile(clean)
}

// certLoader re-reads the pair on every handshake so rotated files are picked up.
func certLoader(certFile, keyFile string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	baseDir := filepath.Dir(certFile)
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		certPEM, err := safeReadFile(baseDir, certFile)
		if err != nil {
			return nil, err
		}
		keyPEM, err := safeReadFile(filepath.Dir(keyFile), keyFile)
		if err != nil {
			return nil, err
		}
		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, err
		}
		return &cert, nil
	}
}

// Setup returns the server TLS config described by o.
func Setup(o Options) (*tls.Config, error) {
	minVer, err := parseVersion(o.MinVersion)
	if err != nil {
		return nil, err
	}

	certPath, keyPath := o.CertFile, o.KeyFile
	switch {
	case certPath != "" && keyPath != "":
	case o.Dir != "":
		certPath = filepath.Join(o.Dir, certName)
		keyPath = filepath.Join(o.Dir, keyName)
		if o.AutoGenerate && !exists(certPath, keyPath) {
			if err := generate(o); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
	default:
		return nil, errors.New("tls enabled but neither cert_file/key_file nor dir is set")
	}
	if !exists(certPath, keyPath) {
		return nil, fmt.Errorf("certificate pair not found: %s, %s", certPath, keyPath)
	}

	// #nosec G402 minimum version is configurable down to 1.2 only
	return &tls.Config{
		GetCertificate: certLoader(certPath, keyPath),
		MinVersion:     minVer,
	}, nil
}

func exists(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func generate(o Options) error {
	if err := os.MkdirAll(o.Dir, 0o750); err != nil {
		return fmt.Errorf("create certificate dir: %w", err)
	}
	cn := o.CommonName
	if cn == "" {
		cn = "localhost"
	}
	hosts := o.Hosts
	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1"}
	}
	days := o.ValidDays
	if days <= 0 {
		days = 365
	}
	return GenerateSelfSigned(CertRequest{
		CommonName:   cn,
		Organization: "screenguard",
		Hosts:        hosts,
		NotAfter:     time.Now().AddDate(0, 0, days),
		CertPath:     filepath.Join(o.Dir, certName),
		KeyPath:      filepath.Join(o.Dir, keyName),
		CACertPath:   filepath.Join(o.Dir, caCertName),
	})
}
