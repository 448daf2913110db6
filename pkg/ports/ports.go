// Package ports allocates TCP ports for supervised services. Allocation is
// probe-based: a port counts as free if a bind-and-release on the loopback
// interface succeeds at probe time. There is an unavoidable window between
// probe and actual use; callers own retry behavior.
package ports

import (
	"fmt"
	"net"
)

// Free reports whether the port can currently be bound on localhost.
func Free(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// Pick returns a port to serve on. A nonzero explicit port is returned
// unchecked, since the caller asked for it. Otherwise ports are probed
// sequentially from start to end and the first free one wins. If the whole
// range is occupied, Pick returns 0, meaning "let the OS assign an ephemeral
// port"; callers must treat 0 as a valid, non-error outcome.
func Pick(explicit, start, end int) int {
	if explicit != 0 {
		return explicit
	}
	for p := start; p <= end; p++ {
		if Free(p) {
			return p
		}
	}
	return 0
}

// FindAlternate returns a staging port distinct from current. It prefers
// current+1, wrapping to start past end. If that is taken it falls back to a
// full range scan excluding current. If nothing in the range is free it
// returns current itself; the caller must tolerate a no-op stage.
func FindAlternate(current, start, end int) int {
	next := current + 1
	if next > end {
		next = start
	}
	if next != current && Free(next) {
		return next
	}
	for p := start; p <= end; p++ {
		if p == current {
			continue
		}
		if Free(p) {
			return p
		}
	}
	return current
}
