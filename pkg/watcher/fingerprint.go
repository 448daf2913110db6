// Package watcher restarts the primary service when the source tree changes.
// A periodic directory fingerprint (maximum modification time) is the source
// of truth; fsnotify events only wake the check up early, so the debounce
// and coalescing behavior is identical with or without kernel file events.
package watcher

import (
	"bufio"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Directory names never fingerprinted: build artifacts, logs, data, vendored
// dependencies.
var defaultIgnoreDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	"target":       true,
	"logs":         true,
	"data":         true,
	"__pycache__":  true,
	".venv":        true,
	".cache":       true,
}

// ignoreRules decides which paths a fingerprint walk skips.
type ignoreRules struct {
	dirs  map[string]bool
	globs []string // matched against the base name and the slash-relative path
}

// newIgnoreRules builds rules from the defaults, extra globs, and an optional
// ignore file (one pattern per line, # comments). A missing ignore file is
// not an error.
func newIgnoreRules(globs []string, ignoreFile string) *ignoreRules {
	r := &ignoreRules{dirs: make(map[string]bool, len(defaultIgnoreDirs))}
	for d := range defaultIgnoreDirs {
		r.dirs[d] = true
	}
	for _, g := range globs {
		r.add(g)
	}
	if ignoreFile != "" {
		r.loadFile(ignoreFile)
	}
	return r
}

// add classifies a pattern: a plain name becomes a directory exclusion, a
// pattern with wildcards or slashes becomes a glob.
func (r *ignoreRules) add(pattern string) {
	pattern = strings.TrimSpace(strings.TrimSuffix(pattern, "/"))
	if pattern == "" {
		return
	}
	if !strings.ContainsAny(pattern, "*?[/") {
		r.dirs[pattern] = true
		return
	}
	r.globs = append(r.globs, pattern)
}

func (r *ignoreRules) loadFile(p string) {
	f, err := os.Open(p) //nolint:gosec // path comes from operator config
	if err != nil {
		return
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		r.add(line)
	}
}

func (r *ignoreRules) skipDir(name string) bool {
	return r.dirs[name]
}

// skipPath reports whether a glob matches the relative path or its base name.
func (r *ignoreRules) skipPath(rel string) bool {
	base := path.Base(rel)
	for _, g := range r.globs {
		if ok, _ := path.Match(g, rel); ok {
			return true
		}
		if ok, _ := path.Match(g, base); ok {
			return true
		}
	}
	return false
}

// fingerprint walks root and returns the maximum modification time of any
// non-ignored file. Unreadable entries are skipped, not fatal. An empty or
// missing tree yields the zero time.
func fingerprint(root string, rules *ignoreRules) time.Time {
	var maxMtime time.Time
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && (rules.skipDir(d.Name()) || rules.skipPath(rel)) {
				return filepath.SkipDir
			}
			return nil
		}
		if rules.skipPath(rel) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if mt := info.ModTime(); mt.After(maxMtime) {
			maxMtime = mt
		}
		return nil
	})
	return maxMtime
}
