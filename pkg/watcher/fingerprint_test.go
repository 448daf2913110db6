package watcher //nolint:testpackage // white-box tests

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFileAt(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestFingerprintMaxMtime(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	writeFileAt(t, filepath.Join(root, "a.go"), older)
	writeFileAt(t, filepath.Join(root, "sub", "b.go"), newer)

	got := fingerprint(root, newIgnoreRules(nil, ""))
	if !got.Equal(newer) {
		t.Fatalf("fingerprint: got %v, want %v", got, newer)
	}
}

func TestFingerprintSkipsIgnoredDirs(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	poison := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	writeFileAt(t, filepath.Join(root, "a.go"), base)
	writeFileAt(t, filepath.Join(root, ".git", "index"), poison)
	writeFileAt(t, filepath.Join(root, "node_modules", "m", "x.js"), poison)
	writeFileAt(t, filepath.Join(root, "logs", "out.log"), poison)

	got := fingerprint(root, newIgnoreRules(nil, ""))
	if !got.Equal(base) {
		t.Fatalf("fingerprint: got %v, want %v (ignored dirs leaked)", got, base)
	}
}

func TestFingerprintGlobRules(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	poison := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	writeFileAt(t, filepath.Join(root, "a.go"), base)
	writeFileAt(t, filepath.Join(root, "debug.log"), poison)
	writeFileAt(t, filepath.Join(root, "tmp", "scratch"), poison)

	got := fingerprint(root, newIgnoreRules([]string{"*.log", "tmp"}, ""))
	if !got.Equal(base) {
		t.Fatalf("fingerprint: got %v, want %v (glob rules leaked)", got, base)
	}
}

func TestFingerprintIgnoreFile(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	poison := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	writeFileAt(t, filepath.Join(root, "a.go"), base)
	writeFileAt(t, filepath.Join(root, "cache", "blob"), poison)
	writeFileAt(t, filepath.Join(root, "gen.pb.go"), poison)

	ignorePath := filepath.Join(t.TempDir(), "watchignore")
	doc := "# generated artifacts\ncache/\n*.pb.go\n\n"
	if err := os.WriteFile(ignorePath, []byte(doc), 0o600); err != nil {
		t.Fatalf("write ignore file: %v", err)
	}

	got := fingerprint(root, newIgnoreRules(nil, ignorePath))
	if !got.Equal(base) {
		t.Fatalf("fingerprint: got %v, want %v (ignore file rules leaked)", got, base)
	}
}

func TestFingerprintMissingRootZero(t *testing.T) {
	t.Parallel()

	got := fingerprint(filepath.Join(t.TempDir(), "gone"), newIgnoreRules(nil, ""))
	if !got.IsZero() {
		t.Fatalf("fingerprint of missing root: got %v, want zero", got)
	}
}

func TestFingerprintMissingIgnoreFileTolerated(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	writeFileAt(t, filepath.Join(root, "a.go"), base)

	got := fingerprint(root, newIgnoreRules(nil, "/no/such/ignorefile"))
	if !got.Equal(base) {
		t.Fatalf("fingerprint: got %v, want %v", got, base)
	}
}
