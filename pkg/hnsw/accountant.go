package hnsw

import "sync"

// Accountant counts the bytes of every ciphertext transmitted across the
// trust boundary under the hybrid protocol. It belongs to a single Graph
// instance rather than living in process-global state, so independent
// indexes (and tests) never observe each other's traffic.
//
// The caller owns the reset/read lifecycle: reset at the start of a
// measurement window, read after the searches of interest complete. Resetting
// while a search is in flight splits that search's traffic across windows.
type Accountant struct {
	mu    sync.Mutex
	bytes int64
}

func (a *Accountant) add(n int) {
	a.mu.Lock()
	a.bytes += int64(n)
	a.mu.Unlock()
}

// Bytes returns the bytes accumulated since the last reset.
func (a *Accountant) Bytes() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bytes
}

// Reset zeroes the counter.
func (a *Accountant) Reset() {
	a.mu.Lock()
	a.bytes = 0
	a.mu.Unlock()
}
