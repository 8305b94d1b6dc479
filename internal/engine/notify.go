package engine

import "github.com/varserverd/varserver/internal/wire"

// notification is one subscriber record in a variable's notification
// list (spec.md §3). Kind NotifyNone is a tombstone: the slot is free
// and will be reused before any new allocation (spec.md §3, §4.3).
type notification struct {
	kind      wire.NotifyKind
	clientID  uint32
	reqHandle Handle // handle as originally requested, preserved across alias rewrites
	pending   bool   // MODIFIED_QUEUE dedup: one undelivered post at a time
	next      *notification
}

// register adds a subscriber to vs's notification list, enforcing the
// uniqueness invariant for CALC/VALIDATE/PRINT and the dedup invariant
// for MODIFIED/MODIFIED_QUEUE (spec.md §3, §4.3).
func (vs *varStorage) register(kind wire.NotifyKind, clientID uint32, reqHandle Handle) wire.Errno {
	if kind.Unique() {
		for n := vs.notifications; n != nil; n = n.next {
			if n.kind == kind {
				return wire.ENOTSUP
			}
		}
	} else {
		for n := vs.notifications; n != nil; n = n.next {
			if n.kind == kind && n.clientID == clientID {
				return wire.EOK // already registered, dedup is a no-op
			}
		}
	}

	for n := vs.notifications; n != nil; n = n.next {
		if n.kind == wire.NotifyNone {
			n.kind, n.clientID, n.reqHandle, n.pending = kind, clientID, reqHandle, false
			vs.mask |= maskFor(kind)
			return wire.EOK
		}
	}

	vs.notifications = &notification{kind: kind, clientID: clientID, reqHandle: reqHandle, next: vs.notifications}
	vs.mask |= maskFor(kind)
	return wire.EOK
}

// cancel tombstones the matching subscriber, if any.
func (vs *varStorage) cancel(kind wire.NotifyKind, clientID uint32) wire.Errno {
	for n := vs.notifications; n != nil; n = n.next {
		if n.kind == kind && n.clientID == clientID {
			n.kind = wire.NotifyNone
			vs.recomputeMask()
			return wire.EOK
		}
	}
	return wire.ENOENT
}

// tombstoneClient removes every subscription owned by clientID, used
// when sweeping a disconnected client's notifications (spec.md §3
// Lifecycles, §4.6 CLOSE).
func (vs *varStorage) tombstoneClient(clientID uint32) {
	changed := false
	for n := vs.notifications; n != nil; n = n.next {
		if n.kind != wire.NotifyNone && n.clientID == clientID {
			n.kind = wire.NotifyNone
			changed = true
		}
	}
	if changed {
		vs.recomputeMask()
	}
}

// unique returns the active subscriber of a unique kind (CALC/VALIDATE/
// PRINT), or nil if none is registered.
func (vs *varStorage) unique(kind wire.NotifyKind) *notification {
	for n := vs.notifications; n != nil; n = n.next {
		if n.kind == kind {
			return n
		}
	}
	return nil
}

// recomputeMask rebuilds vs.mask from the currently active subscribers,
// preserving the invariant "notifyMask always equals the bitwise OR of
// the kinds currently present" (spec.md §3) after a cancel/tombstone.
func (vs *varStorage) recomputeMask() {
	var m notifyMask
	for n := vs.notifications; n != nil; n = n.next {
		if n.kind != wire.NotifyNone {
			m |= maskFor(n.kind)
		}
	}
	vs.mask = m
}
