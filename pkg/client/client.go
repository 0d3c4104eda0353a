// Package client talks to a running screenguard daemon over its HTTP API.
package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// ErrBusy is returned when the daemon already has a cycle in flight.
var ErrBusy = errors.New("a capture cycle is already in flight")

// Client provides HTTP client functionality to communicate with a screenguard daemon
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	CACert     string // CA certificate file path
	ServerName string
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8787",
		Timeout: 10 * time.Second,
	}
}

// New creates a client. TLS material that cannot be loaded is an error.
func New(config Config) (*Client, error) {
	d := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = d.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = d.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if config.TLS != nil || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsConfig
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}, nil
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Status fetches the session snapshot.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	code, err := c.do(ctx, http.MethodGet, c.baseURL+"/status", &st)
	if err != nil {
		return Status{}, err
	}
	if code != http.StatusOK {
		return Status{}, fmt.Errorf("HTTP %d", code)
	}
	return st, nil
}

// Trigger asks the daemon to start a cycle now without waiting for it.
// ErrBusy reports that one is already running.
func (c *Client) Trigger(ctx context.Context) error {
	code, err := c.do(ctx, http.MethodPost, c.baseURL+"/capture", nil)
	if err != nil {
		return err
	}
	if code != http.StatusAccepted {
		return fmt.Errorf("HTTP %d", code)
	}
	return nil
}

// Capture runs a cycle and waits up to wait for its report. The boolean is
// false when the daemon answered before the cycle finished; the cycle still
// runs in that case.
func (c *Client) Capture(ctx context.Context, wait time.Duration) (CaptureResult, bool, error) {
	u := c.baseURL + "/capture?wait=" + url.QueryEscape(wait.String())
	var res CaptureResult
	code, err := c.do(ctx, http.MethodPost, u, &res)
	if err != nil {
		return CaptureResult{}, false, err
	}
	switch code {
	case http.StatusOK:
		return res, true, nil
	case http.StatusAccepted:
		return CaptureResult{}, false, nil
	default:
		return CaptureResult{}, false, fmt.Errorf("HTTP %d", code)
	}
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if config.Insecure {
		// #nosec G402 explicit opt-in for self-signed daemons
		tlsConfig.InsecureSkipVerify = true
	}
	if config.TLS == nil {
		return tlsConfig, nil
	}
	tlsConfig.ServerName = config.TLS.ServerName
	if config.TLS.CACert != "" {
		if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
			return nil, fmt.Errorf("failed to load CA certificate: %w", err)
		}
	}
	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}
	tlsConfig.RootCAs = pool
	return nil
}

// do sends a request and decodes a 2xx body into out when out is non-nil.
// A 409 maps to ErrBusy and other error statuses to the API's message.
func (c *Client) do(ctx context.Context, method, u string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("http request failed", "error", err, "url", u)
		return 0, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusConflict {
		return resp.StatusCode, ErrBusy
	}
	if resp.StatusCode >= 400 {
		return resp.StatusCode, c.errorFrom(resp)
	}
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (c *Client) errorFrom(resp *http.Response) error {
	var e ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	c.logger.Debug("api request failed", "error", e.Error, "status", resp.StatusCode)
	return fmt.Errorf("API error: %s", e.Error)
}
