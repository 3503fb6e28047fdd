// File: affinity/adapter.go
// Author: momentics <momentics@gmail.com>
//
// CPUAffinity adapts the package's bare SetAffinity function to the
// api.Affinity pin/unpin/query contract.

package affinity

import (
	"sync"

	"github.com/momentics/kqreactor/api"
)

var _ api.Affinity = (*CPUAffinity)(nil)

// CPUAffinity tracks the calling thread's last-requested pin so Get can
// answer without a platform round trip. There is no NUMA topology in
// this codebase; numaID is accepted for interface compatibility and
// reported back as 0 while pinned (-1 when not pinned).
type CPUAffinity struct {
	mu     sync.Mutex
	cpuID  int
	pinned bool
}

// Pin sets the calling OS thread's affinity to cpuID. numaID is ignored.
func (a *CPUAffinity) Pin(cpuID int, numaID int) error {
	if err := SetAffinity(cpuID); err != nil {
		return err
	}
	a.mu.Lock()
	a.cpuID, a.pinned = cpuID, true
	a.mu.Unlock()
	return nil
}

// Unpin clears any affinity previously set by Pin on this thread.
func (a *CPUAffinity) Unpin() error {
	if err := SetAffinity(-1); err != nil {
		return err
	}
	a.mu.Lock()
	a.pinned = false
	a.mu.Unlock()
	return nil
}

// Get reports the last cpuID passed to Pin, or -1 if not currently pinned.
func (a *CPUAffinity) Get() (cpuID int, numaID int, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.pinned {
		return -1, -1, nil
	}
	return a.cpuID, 0, nil
}
