package vfs

import (
	"sync"

	"defs"
)

// devfs is the concurrent name→node map of spec.md §4.10: register
// stores a borrowed node (no retain — devfs does not itself own a
// reference), fetch returns the borrowed pointer, clone returns a fresh
// ref-counted handle, and take atomically removes and returns ownership
// (used when a PTY slave's sole devfs entry is torn down with the PTY
// pair itself).
var (
	devMu sync.RWMutex
	devs  = map[string]*Node_t{}
)

// DevRegister stores node under name, replacing any previous entry. The
// only callers register the fixed devices console, null, kbd, stat and
// prof at boot.
func DevRegister(name string, node *Node_t) {
	devMu.Lock()
	devs[name] = node
	devMu.Unlock()
}

// DevFetch returns the borrowed node registered under name, without
// taking a reference.
func DevFetch(name string) (*Node_t, bool) {
	devMu.RLock()
	defer devMu.RUnlock()
	n, ok := devs[name]
	return n, ok
}

// DevClone returns a freshly ref-counted handle to the node registered
// under name (spec.md §4.10's devfs_clone, the backend of master-open
// /dev/<name> paths).
func DevClone(name string) (*Node_t, defs.Err_t) {
	devMu.RLock()
	n, ok := devs[name]
	devMu.RUnlock()
	if !ok {
		return nil, -defs.ENOENT
	}
	n.Ref()
	return n, 0
}

// DevTake atomically removes and returns ownership of the node registered
// under name, for a PTY pair's destruction path that wants to be the only
// future opener of a minor that is going away.
func DevTake(name string) (*Node_t, bool) {
	devMu.Lock()
	defer devMu.Unlock()
	n, ok := devs[name]
	if ok {
		delete(devs, name)
	}
	return n, ok
}

// DevRemove drops the name→node mapping without touching the node's
// refcount (used when a borrowed-only entry, e.g. a fixed device, is
// being replaced).
func DevRemove(name string) {
	devMu.Lock()
	delete(devs, name)
	devMu.Unlock()
}
