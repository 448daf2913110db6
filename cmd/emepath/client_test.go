//nolint:testpackage // white-box tests for the API client helpers
package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAPICallDecodesResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"paused":false}`))
	}))
	defer srv.Close()

	var reply struct {
		OK     bool `json:"ok"`
		Paused bool `json:"paused"`
	}
	if err := apiCall(context.Background(), "GET", srv.URL+"/health", &reply); err != nil {
		t.Fatalf("apiCall: %v", err)
	}
	if !reply.OK || reply.Paused {
		t.Errorf("reply = %+v", reply)
	}
}

func TestAPICallSurfacesHTTPErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"ok":false,"error":"job not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	err := apiCall(context.Background(), "GET", srv.URL+"/job/nope", nil)
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error %q should mention the status", err)
	}
}

func TestAPICallConnectionRefused(t *testing.T) {
	t.Parallel()

	err := apiCall(context.Background(), "GET", "http://127.0.0.1:1/health", nil)
	if err == nil {
		t.Fatal("expected connection error")
	}
	if !strings.Contains(err.Error(), "daemon running") {
		t.Errorf("error %q should hint at the daemon", err)
	}
}
