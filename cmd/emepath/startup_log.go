package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// startupLog provides step-by-step boot progress output with spinner support.
type startupLog struct {
	w     io.Writer
	isTTY bool
	mu    sync.Mutex
}

// newStartupLog creates a startup logger that writes to w. isTTY selects
// animated spinners over static lines.
func newStartupLog(w io.Writer, isTTY bool) *startupLog {
	return &startupLog{w: w, isTTY: isTTY}
}

// Step prints a completed step with a checkmark.
func (s *startupLog) Step(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "✓ %s\n", msg)
}

// Warn prints a non-fatal boot problem.
func (s *startupLog) Warn(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "! %s\n", msg)
}

// StartSpinner starts an animated spinner for a long-running boot step and
// returns a stop function that prints the final checkmark. Non-TTY output is
// a static line instead.
func (s *startupLog) StartSpinner(msg string) func() {
	if !s.isTTY {
		s.mu.Lock()
		fmt.Fprintf(s.w, "%s\n", msg)
		s.mu.Unlock()
		return func() { s.Step(msg) }
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)

	frames := []rune{'⠋', '⠙', '⠹', '⠸', '⠼', '⠴', '⠦', '⠧', '⠇', '⠏'}

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()

		i := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				fmt.Fprintf(s.w, "\r%c %s", frames[i], msg)
				s.mu.Unlock()
				i = (i + 1) % len(frames)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
			s.mu.Lock()
			defer s.mu.Unlock()
			fmt.Fprintf(s.w, "\r✓ %s\n", msg)
		})
	}
}
