// Package index holds the authoritative in-memory mapping from fingerprint
// to storage handle.
package index

import (
	"sync"

	"github.com/andresmejia3/pixelvault/internal/fingerprint"
)

// Handle identifies one stored, non-duplicate image. Handles are allocated
// sequentially and never reused.
type Handle uint64

// Index is safe for concurrent use. Entries are never removed.
type Index struct {
	mu      sync.Mutex
	entries map[fingerprint.Fingerprint]Handle
	next    Handle
}

// New returns an empty index whose first allocated handle is first.
func New(first Handle) *Index {
	return &Index{
		entries: make(map[fingerprint.Fingerprint]Handle),
		next:    first,
	}
}

// CheckAndInsert returns the existing handle and true if fp is known.
// Otherwise it allocates the next handle, records it, and returns false.
// The lookup, allocation and insert happen under one lock, so among any
// number of concurrent callers with the same fp exactly one sees false.
func (x *Index) CheckAndInsert(fp fingerprint.Fingerprint) (present bool, h Handle) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if h, ok := x.entries[fp]; ok {
		return true, h
	}
	h = x.next
	x.next++
	x.entries[fp] = h
	return false, h
}

// Lookup returns the handle recorded for fp, if any.
func (x *Index) Lookup(fp fingerprint.Fingerprint) (Handle, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	h, ok := x.entries[fp]
	return h, ok
}

// Len returns the number of distinct fingerprints seen.
func (x *Index) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.entries)
}
