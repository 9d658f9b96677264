package scheduler

import (
	"sort"
	"sync"
)

// PathLocker provides per-path mutual exclusion for tasks running in the
// same batch. Output ownership is validated at graph build time, but tasks
// may still share scratch directories or sentinel files; the locker keeps
// such writes serialized without a global lock.
type PathLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewPathLocker creates an empty path locker.
func NewPathLocker() *PathLocker {
	return &PathLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *PathLocker) lockFor(path string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, exists := l.locks[path]
	if !exists {
		m = &sync.Mutex{}
		l.locks[path] = m
	}
	return m
}

// Acquire locks every given path. Paths are deduplicated and locked in
// sorted order so two tasks sharing paths cannot deadlock.
func (l *PathLocker) Acquire(paths []string) {
	for _, p := range sortedUnique(paths) {
		l.lockFor(p).Lock()
	}
}

// Release unlocks every given path, in reverse sorted order.
func (l *PathLocker) Release(paths []string) {
	sorted := sortedUnique(paths)
	for i := len(sorted) - 1; i >= 0; i-- {
		l.lockFor(sorted[i]).Unlock()
	}
}

func sortedUnique(paths []string) []string {
	if len(paths) == 0 {
		return nil
	}
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)
	out := sorted[:1]
	for _, p := range sorted[1:] {
		if p != out[len(out)-1] {
			out = append(out, p)
		}
	}
	return out
}
