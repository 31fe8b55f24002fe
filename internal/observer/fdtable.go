package observer

import "sync"

// FDTable is the process-local fd→canonical-path cache: RLock for
// lookups, Lock for mutation, never both held at once.
type FDTable struct {
	mu      sync.RWMutex
	entries map[int]string
	// resolveFromKernel is swapped out in tests; in production it reads
	// /proc/self/fd/<n> (package-level platform shim, see fdtable_linux.go).
	resolveFromKernel func(fd int) (string, bool)
}

// NewFDTable constructs an empty table using the platform's kernel fallback.
func NewFDTable() *FDTable {
	return &FDTable{
		entries:           make(map[int]string),
		resolveFromKernel: resolveFDFromKernel,
	}
}

// Set caches path for fd, called right after an operation returns or
// rebinds a descriptor (open/openat/creat/fopen-family, dup/dup2/dup3).
func (t *FDTable) Set(fd int, path string) {
	if fd < 0 {
		return
	}
	t.mu.Lock()
	t.entries[fd] = path
	t.mu.Unlock()
}

// Reset drops any cached entry for fd. Called on close and before any call
// that rebinds fd to a new file, so a later lookup never returns a path
// that no longer belongs to that descriptor.
func (t *FDTable) Reset(fd int) {
	t.mu.Lock()
	delete(t.entries, fd)
	t.mu.Unlock()
}

// ResetAll drops every cached entry. Called in the fork-child and on exec,
// since a freshly forked or exec'd process's descriptor table no longer
// matches anything cached from before.
func (t *FDTable) ResetAll() {
	t.mu.Lock()
	t.entries = make(map[int]string)
	t.mu.Unlock()
}

// Lookup returns the cached path for fd, resolving and caching via the
// kernel fallback on a miss.
func (t *FDTable) Lookup(fd int) (string, bool) {
	t.mu.RLock()
	path, ok := t.entries[fd]
	t.mu.RUnlock()
	if ok {
		return path, true
	}

	resolved, ok := t.resolveFromKernel(fd)
	if !ok {
		return "", false
	}
	t.mu.Lock()
	t.entries[fd] = resolved
	t.mu.Unlock()
	return resolved, true
}
