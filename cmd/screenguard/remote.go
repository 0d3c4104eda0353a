package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/loykin/screenguard/pkg/client"
)

// apiClient builds a client for the daemon named by f, or by the config's
// [server] section when no URL is given.
func (c *command) apiClient(f APIFlags) (*client.Client, error) {
	base := f.APIUrl
	if base == "" {
		cfg, err := loadConfig(f.ConfigPath)
		if err != nil {
			return nil, err
		}
		if cfg.Server.Listen == "" {
			return nil, errors.New("no --api-url given and server.listen is not configured")
		}
		base = listenURL(cfg.Server.Listen, cfg.Server.BasePath, cfg.Server.TLS.Enabled)
	}
	cc := client.Config{BaseURL: base, Timeout: f.Timeout, Insecure: f.Insecure}
	if f.CACert != "" {
		cc.TLS = &client.TLSClientConfig{CACert: f.CACert}
	}
	return client.New(cc)
}

// listenURL turns a listen address into a URL a local client can dial.
func listenURL(listen, basePath string, secure bool) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		host, port = listen, ""
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	if port != "" {
		host = net.JoinHostPort(host, port)
	}
	scheme := "http"
	if secure {
		scheme = "https"
	}
	u := url.URL{Scheme: scheme, Host: host, Path: strings.TrimRight(basePath, "/")}
	return u.String()
}

// Status prints the daemon's session snapshot.
func (c *command) Status(ctx context.Context, f StatusFlags) error {
	api, err := c.apiClient(f.APIFlags)
	if err != nil {
		return err
	}
	st, err := api.Status(ctx)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	if f.JSON {
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	state := "stopped"
	if st.Running {
		state = "running"
	}
	if st.InFlight {
		state += ", cycle in flight"
	}
	_, _ = fmt.Fprintf(c.out, "session:      %s\n", state)
	_, _ = fmt.Fprintf(c.out, "next capture: %ds of %ds\n", st.Remaining, st.Period)
	_, _ = fmt.Fprintf(c.out, "provisioned:  %t\n", st.Provisioned)
	_, _ = fmt.Fprintf(c.out, "screenshots:  %s\n", st.ScreenshotDir)
	if e := st.LastEvent; e != nil {
		_, _ = fmt.Fprintf(c.out, "last event:   %s %s\n", e.Type, e.OccurredAt.Format("15:04:05"))
	}
	return nil
}

// Trigger starts a cycle on the daemon, optionally waiting for its report.
func (c *command) Trigger(ctx context.Context, f TriggerFlags) error {
	api, err := c.apiClient(f.APIFlags)
	if err != nil {
		return err
	}
	if f.Wait <= 0 {
		if err := api.Trigger(ctx); err != nil {
			return fmt.Errorf("trigger: %w", err)
		}
		_, _ = fmt.Fprintln(c.out, "capture started")
		return nil
	}

	res, done, err := api.Capture(ctx, f.Wait)
	if err != nil {
		return fmt.Errorf("trigger: %w", err)
	}
	if !done {
		_, _ = fmt.Fprintf(c.out, "capture still running after %s\n", f.Wait)
		return nil
	}
	_, _ = fmt.Fprintf(c.out, "%s %s %s (%s)\n", res.CycleID, res.Outcome, res.Path, res.Duration())
	if res.Outcome != "analyzed" {
		if res.Error != "" {
			return fmt.Errorf("capture failed: %s: %s", res.Outcome, res.Error)
		}
		return fmt.Errorf("capture failed: %s", res.Outcome)
	}
	return nil
}
