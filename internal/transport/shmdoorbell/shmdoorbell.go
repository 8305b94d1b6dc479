// Package shmdoorbell stands in for spec.md §6's "named shared region
// publishes the server's process identifier for signal-based clients."
// A full shared-memory/RT-signal transport is out of scope for a
// portable Go build (spec.md §1 Non-goals); this package gives
// same-host signal-based clients the one piece of state they need —
// the server PID — through a world-readable PID file, the closest
// idiomatic Go analogue to a shared discovery segment.
package shmdoorbell

import (
	"fmt"
	"os"
	"strconv"
)

// Doorbell publishes the running server's PID to a well-known path.
type Doorbell struct {
	path string
}

// New returns a Doorbell writing to path (spec.md's Config.PidFile,
// default /var/run/varserver.pid).
func New(path string) *Doorbell {
	return &Doorbell{path: path}
}

// Publish writes the current process's PID, creating the file if
// needed. Call once at startup.
func (d *Doorbell) Publish() error {
	if d.path == "" {
		return nil
	}
	pid := os.Getpid()
	if err := os.WriteFile(d.path, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return fmt.Errorf("shmdoorbell: publish pid: %w", err)
	}
	return nil
}

// Withdraw removes the PID file on shutdown.
func (d *Doorbell) Withdraw() {
	if d.path == "" {
		return
	}
	os.Remove(d.path)
}

// Read returns the PID currently published at path, for clients or
// tests that want to confirm a server is up without connecting.
func Read(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, fmt.Errorf("shmdoorbell: malformed pid file: %w", err)
	}
	return pid, nil
}
