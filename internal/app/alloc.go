package app

import "sync"

// NumberAllocator hands out guest numbers for anonymous viewers. Acquire
// always returns the smallest number not currently in use, so numbers
// released by disconnects or identity merges are reused immediately.
type NumberAllocator struct {
	mu   sync.Mutex
	used map[int]bool
}

func NewNumberAllocator() *NumberAllocator {
	return &NumberAllocator{used: make(map[int]bool)}
}

// Acquire reserves and returns the smallest free number, starting at 1.
func (a *NumberAllocator) Acquire() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 1
	for a.used[n] {
		n++
	}
	a.used[n] = true
	return n
}

// Release frees a number for reuse. Releasing an unheld number is a no-op.
func (a *NumberAllocator) Release(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.used, n)
}

// InUse reports how many numbers are currently held.
func (a *NumberAllocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.used)
}
