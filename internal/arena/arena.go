// Package arena provides a bump-allocated scratch buffer scoped to a single
// request or task frame, per the source's per-request arena pattern (spec
// DESIGN NOTES §9). Go's garbage collector makes a literal bump allocator
// unnecessary for correctness, but the HTTP server and worker pool still
// want one pooled scratch buffer per frame instead of many small
// allocations scattered across a handler — this gives them that without
// fighting the allocator.
package arena

import "sync"

// Arena is a reusable byte-buffer scratch space. It is not safe for
// concurrent use by multiple goroutines; each frame (HTTP request, worker
// task) owns exactly one Arena for its lifetime.
type Arena struct {
	buf  []byte
	objs []interface{}
}

var pool = sync.Pool{
	New: func() interface{} {
		return &Arena{buf: make([]byte, 0, 4096)}
	},
}

// Get returns an Arena from the pool, ready for use.
func Get() *Arena {
	return pool.Get().(*Arena)
}

// Put resets a and returns it to the pool. Callers must not use a after
// calling Put — this is the "freed en masse on return" step of the arena
// contract.
func Put(a *Arena) {
	a.Reset()
	pool.Put(a)
}

// Reset discards all scratch allocations, retaining the backing array's
// capacity for reuse.
func (a *Arena) Reset() {
	a.buf = a.buf[:0]
	for i := range a.objs {
		a.objs[i] = nil
	}
	a.objs = a.objs[:0]
}

// Bytes returns n scratch bytes carved from the arena's backing array. The
// returned slice is only valid until the next Reset/Put.
func (a *Arena) Bytes(n int) []byte {
	if cap(a.buf)-len(a.buf) < n {
		grown := make([]byte, len(a.buf), len(a.buf)+n+len(a.buf)/2+64)
		copy(grown, a.buf)
		a.buf = grown
	}
	start := len(a.buf)
	a.buf = a.buf[:start+n]
	return a.buf[start : start+n : start+n]
}

// Hold keeps a reference alive for the arena's lifetime — used for
// heap-allocated values (e.g. decoded rows) the frame wants freed together
// with everything else when the arena resets, rather than tracked
// individually.
func (a *Arena) Hold(v interface{}) {
	a.objs = append(a.objs, v)
}
