package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func fakeDaemon(t *testing.T, outcome string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"running":true,"remaining":7,"period":30,"provisioned":true,"screenshot_dir":"/shots"}`))
	})
	mux.HandleFunc("/api/capture", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("wait") == "" {
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"started":true}`))
			return
		}
		_, _ = w.Write([]byte(`{"cycle_id":"c1","outcome":"` + outcome + `","path":"/shots/a.png","duration_ms":10}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestStatusCommand(t *testing.T) {
	srv := fakeDaemon(t, "analyzed")
	c, out, _ := testCommand()
	if err := c.Status(context.Background(), StatusFlags{APIFlags: APIFlags{APIUrl: srv.URL + "/api"}}); err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out.String(), "running") || !strings.Contains(out.String(), "7s of 30s") {
		t.Fatalf("unexpected output: %s", out.String())
	}

	out.Reset()
	if err := c.Status(context.Background(), StatusFlags{APIFlags: APIFlags{APIUrl: srv.URL + "/api"}, JSON: true}); err != nil {
		t.Fatalf("status json: %v", err)
	}
	var v map[string]any
	if err := json.Unmarshal(out.Bytes(), &v); err != nil || v["screenshot_dir"] != "/shots" {
		t.Fatalf("bad json output %q: %v", out.String(), err)
	}
}

func TestTriggerCommand(t *testing.T) {
	srv := fakeDaemon(t, "analyzed")
	c, out, _ := testCommand()
	api := APIFlags{APIUrl: srv.URL + "/api"}
	if err := c.Trigger(context.Background(), TriggerFlags{APIFlags: api}); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if !strings.Contains(out.String(), "capture started") {
		t.Fatalf("unexpected output: %s", out.String())
	}
	out.Reset()
	if err := c.Trigger(context.Background(), TriggerFlags{APIFlags: api, Wait: time.Minute}); err != nil {
		t.Fatalf("trigger wait: %v", err)
	}
	if !strings.Contains(out.String(), "c1 analyzed /shots/a.png") {
		t.Fatalf("unexpected output: %s", out.String())
	}
}

func TestTriggerCommandReportsFailedCycle(t *testing.T) {
	srv := fakeDaemon(t, "exit-nonzero")
	c, _, _ := testCommand()
	err := c.Trigger(context.Background(), TriggerFlags{APIFlags: APIFlags{APIUrl: srv.URL + "/api"}, Wait: time.Second})
	if err == nil || !strings.Contains(err.Error(), "exit-nonzero") {
		t.Fatalf("expected failed outcome error, got %v", err)
	}
}

func TestAPIClientNeedsAddress(t *testing.T) {
	c, _, _ := testCommand()
	path := filepath.Join(t.TempDir(), "screenguard.toml")
	if err := os.WriteFile(path, []byte("interval = \"5s\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := c.apiClient(APIFlags{ConfigPath: path}); err == nil {
		t.Fatalf("expected error without server.listen")
	}
}

func TestListenURL(t *testing.T) {
	cases := []struct {
		listen, base string
		secure       bool
		want         string
	}{
		{"127.0.0.1:8787", "", false, "http://127.0.0.1:8787"},
		{":8787", "/api/", false, "http://127.0.0.1:8787/api"},
		{"0.0.0.0:8443", "/guard", true, "https://127.0.0.1:8443/guard"},
		{"[::1]:9000", "", false, "http://[::1]:9000"},
	}
	for _, tc := range cases {
		if got := listenURL(tc.listen, tc.base, tc.secure); got != tc.want {
			t.Fatalf("listenURL(%q, %q, %v) = %q, want %q", tc.listen, tc.base, tc.secure, got, tc.want)
		}
	}
}
