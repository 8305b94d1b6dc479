// Package engine implements the VarServer core: the variable store and
// its lookup index, the notification subsystem, the cross-client
// transaction mediator, the blocked-client queue, the request
// dispatcher, and the per-request semantics that drive them (spec.md
// §1, §4). Every exported method on Engine is meant to be called from
// a single goroutine — the engine keeps no internal locks, by design
// (spec.md §5).
package engine

import (
	"github.com/varserverd/varserver/internal/wire"
)

// Handle is a stable identifier for a variable or an alias onto one.
// Zero is reserved for "invalid" and is never assigned.
type Handle uint32

const InvalidHandle Handle = 0

// Variable flags (spec.md §3 VarStorage.flags).
type Flags uint32

const (
	FlagDirty Flags = 1 << iota
	FlagReadOnly
	FlagHidden
	FlagAudit
	FlagTrigger
)

// Permissions is a variable's read/write access-control lists. An empty
// list means publicly accessible; UID 0 matches any requester
// (spec.md §4.9).
type Permissions struct {
	ReadUIDs  []uint32
	WriteUIDs []uint32
}

func (p Permissions) allows(uids []uint32, uid uint32) bool {
	if len(uids) == 0 {
		return true
	}
	for _, u := range uids {
		if u == 0 || u == uid {
			return true
		}
	}
	return false
}

func (p Permissions) CanRead(uid uint32) bool  { return p.allows(p.ReadUIDs, uid) }
func (p Permissions) CanWrite(uid uint32) bool { return p.allows(p.WriteUIDs, uid) }

// VarInfo is the caller-supplied description of a variable to create,
// the NEW operation's input (spec.md §4.2, §4.6).
type VarInfo struct {
	Name       string
	InstanceID uint32
	Value      wire.Value
	Flags      Flags
	Tags       []uint16
	Format     string
	Perms      Permissions
}

// notifyMask is the bitwise-OR summary of notification kinds currently
// registered on a variable (spec.md §3 invariant: "notifyMask always
// equals the bitwise OR of the kinds currently present").
type notifyMask uint8

const (
	maskModified notifyMask = 1 << iota
	maskModifiedQueue
	maskCalc
	maskValidate
	maskPrint
)

func maskFor(k wire.NotifyKind) notifyMask {
	switch k {
	case wire.NotifyModified:
		return maskModified
	case wire.NotifyModifiedQueue:
		return maskModifiedQueue
	case wire.NotifyCalc:
		return maskCalc
	case wire.NotifyValidate:
		return maskValidate
	case wire.NotifyPrint:
		return maskPrint
	default:
		return 0
	}
}

// varStorage is the canonical per-variable record (spec.md §3).
type varStorage struct {
	handle     Handle
	name       string
	instanceID uint32
	guid       uint64
	value      wire.Value
	flags      Flags
	tags       []uint16
	format     string
	perms      Permissions

	notifications *notification // head of the subscriber list
	mask          notifyMask
}

// alias is a distinct handle resolving to the same varStorage
// (spec.md §3).
type alias struct {
	handle    Handle
	name      string
	canonical Handle
}
