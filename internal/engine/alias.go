package engine

import "github.com/varserverd/varserver/internal/wire"

// addAlias allocates a new handle under newName that resolves to the
// same storage as canonicalHandle (C4 ALIAS). No uniqueness check is
// made here and ENOTSUP is never returned: aliases carry no
// subscriptions of their own (a NOTIFY on an alias handle registers on
// the canonical record, where register enforces the "at most one
// CALC/VALIDATE/PRINT subscriber" invariant), so there is no list to
// merge.
func (s *store) addAlias(canonicalHandle Handle, newName string) (Handle, wire.Errno) {
	vs, err := s.resolve(canonicalHandle)
	if err != wire.EOK {
		return InvalidHandle, wire.ENOENT
	}

	h := s.allocHandle()
	if err := s.names.insert(newName, h); err != wire.EOK {
		return InvalidHandle, err
	}

	s.aliases[h] = &alias{handle: h, name: newName, canonical: vs.handle}
	return h, wire.EOK
}

// getAliases enumerates every handle — canonical plus every alias —
// resolving to the same storage as h (C4 GET_ALIASES).
func (s *store) getAliases(h Handle) ([]Handle, wire.Errno) {
	vs, err := s.resolve(h)
	if err != wire.EOK {
		return nil, wire.ENOENT
	}

	out := []Handle{vs.handle}
	for ah, a := range s.aliases {
		if a.canonical == vs.handle {
			out = append(out, ah)
		}
	}
	return out, wire.EOK
}
