package tagfile

import (
	"path/filepath"
	"sync"
)

// FileLocks provides per-file mutual exclusion. Each cleaned path gets its own
// mutex, so tasks touching different files run concurrently while a read and a
// save of the same file never overlap.
type FileLocks struct {
	mu    sync.Mutex             // Guards the locks map itself
	locks map[string]*sync.Mutex // Per-file mutexes
}

// NewFileLocks creates an empty lock set.
func NewFileLocks() *FileLocks {
	return &FileLocks{
		locks: make(map[string]*sync.Mutex),
	}
}

// Lock acquires the mutex for path and returns the matching unlock function.
// The mutex is created on first access. A nil FileLocks does not lock.
func (l *FileLocks) Lock(path string) (unlock func()) {
	if l == nil {
		return func() {}
	}
	key := filepath.Clean(path)

	l.mu.Lock()
	fileLock, ok := l.locks[key]
	if !ok {
		fileLock = &sync.Mutex{}
		l.locks[key] = fileLock
	}
	l.mu.Unlock()

	// Outside the map lock so other paths are not blocked
	fileLock.Lock()
	return fileLock.Unlock
}

// Len returns the number of paths seen so far.
func (l *FileLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
