// Package wire defines the request/response record layout and the
// enumerations that travel on it: request kinds, notification kinds,
// variable type tags, and the server's errno-like result codes.
//
// Only the fixed header layout is specified by the protocol (see
// spec.md §6); everything else — framing on top of it, compression,
// transport choice — is a frontend concern handled in internal/transport.
package wire

import "syscall"

// Errno is the server's errno-like response code. It reuses the
// canonical Unix errno values from the standard library rather than
// inventing a parallel numbering, since the wire protocol is explicitly
// "the system errno space" (spec.md §6).
type Errno int32

const (
	EOK        Errno = 0
	EINVAL     Errno = Errno(syscall.EINVAL)
	ENOENT     Errno = Errno(syscall.ENOENT)
	EEXIST     Errno = Errno(syscall.EEXIST)
	ENOTSUP    Errno = Errno(syscall.ENOTSUP)
	ENOMEM     Errno = Errno(syscall.ENOMEM)
	EACCES     Errno = Errno(syscall.EACCES)
	E2BIG      Errno = Errno(syscall.E2BIG)
	ERANGE     Errno = Errno(syscall.ERANGE)
	EBADF      Errno = Errno(syscall.EBADF)
	ESRCH      Errno = Errno(syscall.ESRCH)
	EINPROGRESS Errno = Errno(syscall.EINPROGRESS)
	ESTRPIPE   Errno = Errno(syscall.ESTRPIPE)
	EBUSY      Errno = Errno(syscall.EBUSY)
)

func (e Errno) Error() string {
	if e == EOK {
		return "success"
	}
	return syscall.Errno(e).Error()
}

// IsDeferred reports whether e represents EINPROGRESS — a pending
// transaction, not a failure. Callers use this to decide whether to
// place a client on the blocked queue instead of answering it.
func (e Errno) IsDeferred() bool {
	return e == EINPROGRESS
}
