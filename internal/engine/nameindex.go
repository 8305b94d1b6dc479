package engine

import "github.com/varserverd/varserver/internal/wire"

// nameIndex maps a variable or alias name to its handle (C1). Go's
// built-in map already gives uniform-distribution hashing with internal
// chaining over arbitrary keys, including hierarchical names like
// "/a/b/c" — spec.md §4.1 leaves the hash function implementation
// defined, so there is no reason to hand-rolled one here. Lookup is
// case-sensitive, per spec.md §4.1.
type nameIndex struct {
	byName map[string]Handle
}

func newNameIndex(capacity int) *nameIndex {
	return &nameIndex{byName: make(map[string]Handle, capacity)}
}

func (n *nameIndex) insert(name string, h Handle) wire.Errno {
	if _, exists := n.byName[name]; exists {
		return wire.EEXIST
	}
	n.byName[name] = h
	return wire.EOK
}

func (n *nameIndex) lookup(name string) (Handle, bool) {
	h, ok := n.byName[name]
	return h, ok
}

func (n *nameIndex) remove(name string) {
	delete(n.byName, name)
}
