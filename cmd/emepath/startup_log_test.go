//nolint:testpackage // white-box tests for boot progress output
package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestStartupLogStepAndWarn(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := newStartupLog(&buf, false)

	log.Step("state database ready")
	log.Warn("gateway not healthy yet")

	got := buf.String()
	if !strings.Contains(got, "✓ state database ready") {
		t.Errorf("missing checkmark line: %q", got)
	}
	if !strings.Contains(got, "! gateway not healthy yet") {
		t.Errorf("missing warning line: %q", got)
	}
}

func TestStartupLogSpinnerNonTTY(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := newStartupLog(&buf, false)

	stop := log.StartSpinner("starting llama")
	stop()
	stop() // stopping twice is fine

	got := buf.String()
	if !strings.Contains(got, "starting llama\n") {
		t.Errorf("missing static line: %q", got)
	}
	if strings.Count(got, "✓ starting llama") != 1 {
		t.Errorf("stop should print exactly one checkmark: %q", got)
	}
}

func TestStartupLogSpinnerTTYStops(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := newStartupLog(&buf, true)

	stop := log.StartSpinner("staging instance")
	stop()

	if !strings.Contains(buf.String(), "✓ staging instance") {
		t.Errorf("missing final checkmark: %q", buf.String())
	}
}
