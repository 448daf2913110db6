//nolint:testpackage // white-box tests for the status command
package main

import (
	"bytes"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// No t.Parallel here: these tests mutate process environment.

func TestStatusNotRunning(t *testing.T) {
	t.Setenv("EMEPATH_HOME", t.TempDir())

	var out bytes.Buffer
	cmd := newStatusCmd()
	cmd.SetOut(&out)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out.String(), "not running") {
		t.Errorf("output = %q, want not running", out.String())
	}
}

func TestStatusStalePID(t *testing.T) {
	home := t.TempDir()
	t.Setenv("EMEPATH_HOME", home)
	pidFile := filepath.Join(home, "emepath.pid")
	t.Setenv("EMEPATH_PID_PATH", pidFile)
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(1<<22+999)), 0o600); err != nil {
		t.Fatalf("setup: %v", err)
	}

	var out bytes.Buffer
	cmd := newStatusCmd()
	cmd.SetOut(&out)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out.String(), "stale PID file") {
		t.Errorf("output = %q, want stale PID file", out.String())
	}
}

func TestStatusRunningQueriesAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/health":
			_, _ = w.Write([]byte(`{"ok":true,"service":"emepath","version":"1.0.0","paused":true,"running":2}`))
		case "/watch/state":
			_, _ = w.Write([]byte(`{"ok":true,"watch":{"active":true,"countdownSeconds":7,"step":"restarting","targetPort":0}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	_, port, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	if err != nil {
		t.Fatalf("parse server URL: %v", err)
	}

	home := t.TempDir()
	t.Setenv("EMEPATH_HOME", home)
	pidFile := filepath.Join(home, "emepath.pid")
	t.Setenv("EMEPATH_PID_PATH", pidFile)
	t.Setenv("EMEPATH_PORT", port)
	if err := WritePIDFile(pidFile, os.Getpid()); err != nil {
		t.Fatalf("setup: %v", err)
	}

	var out bytes.Buffer
	cmd := newStatusCmd()
	cmd.SetOut(&out)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("status: %v", err)
	}

	got := out.String()
	for _, want := range []string{"running (PID", "version: 1.0.0", "queue: paused, 2 job(s) active", "restart in 7s"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}
