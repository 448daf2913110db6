//nolint:testpackage // white-box tests for serve wiring helpers
package main

import (
	"testing"

	"emepath/pkg/config"
	"emepath/pkg/stack"
)

func TestSpecFromServiceDefaults(t *testing.T) {
	t.Parallel()

	spec := specFromService(config.Service{
		Name:    "gateway",
		Command: "python",
		Args:    []string{"-m", "gateway"},
		Port:    3123,
	})

	if spec.Role != stack.RoleService {
		t.Errorf("role = %q, want default service role", spec.Role)
	}
	if spec.Name != "gateway" || spec.Port != 3123 {
		t.Errorf("spec = %+v, want name/port carried over", spec)
	}
}

func TestSpecFromServiceKeepsExplicitRole(t *testing.T) {
	t.Parallel()

	spec := specFromService(config.Service{Name: "mgr", Role: stack.RoleManager})
	if spec.Role != stack.RoleManager {
		t.Errorf("role = %q, want explicit role preserved", spec.Role)
	}
}

func TestWatchTargetSpec(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults()
	cfg.WatchService = "gateway"
	cfg.Services = []config.Service{
		{Name: "llama", Port: 11435},
		{Name: "gateway", Port: 3123},
	}

	spec, ok := watchTargetSpec(cfg)
	if !ok {
		t.Fatal("expected gateway spec to be found")
	}
	if spec.Name != "gateway" || spec.Port != 3123 {
		t.Errorf("spec = %+v, want the gateway entry", spec)
	}

	cfg.WatchService = "missing"
	if _, ok := watchTargetSpec(cfg); ok {
		t.Error("unknown watch service should not resolve")
	}
}

func TestHealthPathOfDefault(t *testing.T) {
	t.Parallel()

	if got := healthPathOf(config.Service{}); got != "/health" {
		t.Errorf("default health path = %q", got)
	}
	if got := healthPathOf(config.Service{HealthPath: "/v1/models"}); got != "/v1/models" {
		t.Errorf("explicit health path = %q", got)
	}
}
