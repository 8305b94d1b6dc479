package engine

import "github.com/varserverd/varserver/internal/wire"

// store owns every canonical VarStorage record, allocated by stable
// handle, plus the alias map resolving secondary handles onto them
// (C3 + C4). Handles are assigned from a monotonic counter and are
// never reused while a variable exists (spec.md §3).
type store struct {
	names *nameIndex
	tags  *tagTable

	canonical map[Handle]*varStorage
	aliases   map[Handle]*alias

	nextHandle   uint32
	nextGUID     uint64
	maxVariables int
}

func newStore(maxVariables int) *store {
	return &store{
		names:        newNameIndex(maxVariables),
		tags:         newTagTable(),
		canonical:    make(map[Handle]*varStorage, maxVariables),
		aliases:      make(map[Handle]*alias),
		nextHandle:   1,
		maxVariables: maxVariables,
	}
}

func (s *store) allocHandle() Handle {
	h := Handle(s.nextHandle)
	s.nextHandle++
	return h
}

// new creates a canonical variable from info (C3 NEW).
func (s *store) new(info VarInfo) (Handle, wire.Errno) {
	if len(s.canonical) >= s.maxVariables {
		return InvalidHandle, wire.ENOMEM
	}

	h := s.allocHandle()
	if err := s.names.insert(info.Name, h); err != wire.EOK {
		return InvalidHandle, err
	}

	tagNums := make([]uint16, 0, len(info.Tags))
	tagNums = append(tagNums, info.Tags...)

	s.nextGUID++
	vs := &varStorage{
		handle:     h,
		name:       info.Name,
		instanceID: info.InstanceID,
		guid:       s.nextGUID,
		value:      info.Value.Clone(),
		flags:      info.Flags,
		tags:       tagNums,
		format:     info.Format,
		perms:      info.Perms,
	}
	s.canonical[h] = vs
	return h, wire.EOK
}

// find resolves a name to its handle (C1 lookup via the name index);
// the returned handle may be an alias or the canonical handle,
// whichever was registered under that name.
func (s *store) find(name string) (Handle, wire.Errno) {
	h, ok := s.names.lookup(name)
	if !ok {
		return InvalidHandle, wire.ENOENT
	}
	return h, wire.EOK
}

// resolve follows h (canonical or alias) to its backing varStorage.
func (s *store) resolve(h Handle) (*varStorage, wire.Errno) {
	if vs, ok := s.canonical[h]; ok {
		return vs, wire.EOK
	}
	if a, ok := s.aliases[h]; ok {
		if vs, ok := s.canonical[a.canonical]; ok {
			return vs, wire.EOK
		}
	}
	return nil, wire.ENOENT
}

// allCanonicalHandles snapshots every live variable's canonical handle,
// used by GET_FIRST to take a stable iteration snapshot (spec.md §9
// Open Question: "implementers SHOULD snapshot the set of candidate
// handles at GET_FIRST time").
func (s *store) allCanonicalHandles() []Handle {
	out := make([]Handle, 0, len(s.canonical))
	for h := range s.canonical {
		out = append(out, h)
	}
	return out
}
