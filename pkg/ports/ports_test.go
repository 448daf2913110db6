package ports //nolint:testpackage // white-box tests

import (
	"fmt"
	"net"
	"testing"
)

// holdPorts binds every port in [start, end] for the duration of the test.
// Skips the test if any port in the range is already taken by the host.
func holdPorts(t *testing.T, start, end int) {
	t.Helper()
	for p := start; p <= end; p++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", p))
		if err != nil {
			t.Skipf("port %d unavailable on host, skipping: %v", p, err)
		}
		t.Cleanup(func() { _ = ln.Close() })
	}
}

// freeRange finds a small contiguous range of free ports for the test.
func freeRange(t *testing.T, width int) (int, int) {
	t.Helper()
	for base := 42100; base < 42900; base += width + 1 {
		ok := true
		for p := base; p < base+width; p++ {
			if !Free(p) {
				ok = false
				break
			}
		}
		if ok {
			return base, base + width - 1
		}
	}
	t.Skip("no free contiguous port range found")
	return 0, 0
}

func TestPickExplicitReturnedUnchecked(t *testing.T) {
	t.Parallel()

	start, end := freeRange(t, 3)
	// Explicit wins even if occupied.
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", start))
	if err != nil {
		t.Skipf("bind: %v", err)
	}
	defer func() { _ = ln.Close() }()

	if got := Pick(start, start, end); got != start {
		t.Fatalf("Pick explicit: got %d, want %d", got, start)
	}
}

func TestPickFirstFreeInRange(t *testing.T) {
	start, end := freeRange(t, 4)

	// Occupy the first port; Pick should land on the second.
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", start))
	if err != nil {
		t.Skipf("bind: %v", err)
	}
	defer func() { _ = ln.Close() }()

	if got := Pick(0, start, end); got != start+1 {
		t.Fatalf("Pick: got %d, want %d", got, start+1)
	}
}

func TestPickExhaustedRangeReturnsZero(t *testing.T) {
	start, end := freeRange(t, 3)
	holdPorts(t, start, end)

	if got := Pick(0, start, end); got != 0 {
		t.Fatalf("Pick on exhausted range: got %d, want 0", got)
	}
}

func TestFindAlternatePrefersNext(t *testing.T) {
	start, end := freeRange(t, 4)

	if got := FindAlternate(start, start, end); got != start+1 {
		t.Fatalf("FindAlternate: got %d, want %d", got, start+1)
	}
}

func TestFindAlternateWrapsPastEnd(t *testing.T) {
	start, end := freeRange(t, 3)

	if got := FindAlternate(end, start, end); got != start {
		t.Fatalf("FindAlternate wrap: got %d, want %d", got, start)
	}
}

func TestFindAlternateFallsBackToScan(t *testing.T) {
	start, end := freeRange(t, 4)

	// Occupy current+1 so the preference fails and the scan runs.
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", start+1))
	if err != nil {
		t.Skipf("bind: %v", err)
	}
	defer func() { _ = ln.Close() }()

	got := FindAlternate(start, start, end)
	if got == start || got == start+1 {
		t.Fatalf("FindAlternate scan: got %d, want a free port other than %d and %d", got, start, start+1)
	}
}

func TestFindAlternateExhaustedReturnsCurrent(t *testing.T) {
	start, end := freeRange(t, 3)
	holdPorts(t, start, end)

	if got := FindAlternate(start, start, end); got != start {
		t.Fatalf("FindAlternate exhausted: got %d, want current %d", got, start)
	}
}
