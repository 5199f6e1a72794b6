package fusefs

import (
	"path"
	"sync"
)

// RootID is the inode number the kernel uses for the mount root. It is
// preassigned to "/" and never reallocated.
const RootID uint64 = 1

// InodeTable is one mount's bidirectional path ↔ inode number mapping.
// Numbers are handed to the kernel and must stay resolvable for the life
// of the mount, so the table only grows; paths that disappear from the
// backend keep their number and simply fail revalidation on next use.
//
// The fuse server dispatches callbacks concurrently within a mount, so both
// directions are guarded by one lock to keep them consistent. Tables are
// never shared between mounts.
type InodeTable struct {
	mu      sync.RWMutex
	paths   map[uint64]string
	inos    map[string]uint64
	nextIno uint64
}

// NewInodeTable returns a table preseeded with the root mapping.
func NewInodeTable() *InodeTable {
	t := &InodeTable{
		paths:   make(map[uint64]string),
		inos:    make(map[string]uint64),
		nextIno: RootID + 1,
	}
	t.paths[RootID] = "/"
	t.inos["/"] = RootID
	return t
}

// GetOrCreate returns the inode number for p, allocating the next unused
// number the first time a path is seen. Numbers are monotonically
// increasing and never reused. Paths are normalized to clean absolute form
// before use, so equivalent spellings share one number.
func (t *InodeTable) GetOrCreate(p string) uint64 {
	p = NormalizePath(p)

	t.mu.Lock()
	defer t.mu.Unlock()
	if ino, ok := t.inos[p]; ok {
		return ino
	}
	ino := t.nextIno
	t.nextIno++
	t.inos[p] = ino
	t.paths[ino] = p
	return ino
}

// Resolve returns the path for a known inode number. A false return means
// the kernel asked about a number this mount never handed out; callers
// reply ENOENT.
func (t *InodeTable) Resolve(ino uint64) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.paths[ino]
	return p, ok
}

// Parent returns the inode number of ino's parent directory, allocating it
// if it has never been seen. The root is its own parent. The second return
// is false only when ino itself is unknown.
func (t *InodeTable) Parent(ino uint64) (uint64, bool) {
	p, ok := t.Resolve(ino)
	if !ok {
		return 0, false
	}
	if p == "/" {
		return RootID, true
	}
	return t.GetOrCreate(path.Dir(p)), true
}

// Len returns the number of known paths.
func (t *InodeTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.paths)
}

// NormalizePath returns the clean absolute form of p: "/" separated,
// leading slash, no trailing slash except for the root itself.
func NormalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	return path.Clean(p)
}
