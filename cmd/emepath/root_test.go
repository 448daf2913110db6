//nolint:testpackage // white-box tests for command wiring
package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRootHasSubcommands(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	want := []string{"serve", "status", "stop", "pause", "resume", "logs"}
	for _, name := range want {
		found := false
		for _, sub := range root.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestRootVersionOutput(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--version"})

	if err := root.Execute(); err != nil {
		t.Fatalf("execute --version: %v", err)
	}
	if !strings.Contains(out.String(), "emepath") {
		t.Errorf("version output %q should mention emepath", out.String())
	}
}

func TestRootUnknownCommandErrors(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"definitely-not-a-command"})

	if err := root.Execute(); err == nil {
		t.Error("expected error for unknown subcommand")
	}
}
