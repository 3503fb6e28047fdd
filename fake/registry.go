// Package fake
// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package fake

import (
	"sync"

	"github.com/momentics/kqreactor/api"
)

// ListeningSocketRegistry is a scriptable api.ListeningSocketRegistry.
// By default CloseSafe reports every caller as the last holder.
type ListeningSocketRegistry struct {
	mu        sync.Mutex
	lastCalls []uintptr
	result    bool
	resultSet bool
}

// NewListeningSocketRegistry constructs a registry whose CloseSafe
// always reports "last holder" unless SetResult overrides it.
func NewListeningSocketRegistry() *ListeningSocketRegistry {
	return &ListeningSocketRegistry{result: true}
}

// SetResult fixes what subsequent CloseSafe calls report.
func (r *ListeningSocketRegistry) SetResult(lastHolder bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result = lastHolder
	r.resultSet = true
}

func (r *ListeningSocketRegistry) CloseSafe(fd uintptr) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastCalls = append(r.lastCalls, fd)
	return r.result
}

// Calls returns every fd CloseSafe was invoked with.
func (r *ListeningSocketRegistry) Calls() []uintptr {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uintptr, len(r.lastCalls))
	copy(out, r.lastCalls)
	return out
}

// SignalRegistry records Clear calls for assertions.
type SignalRegistry struct {
	mu      sync.Mutex
	cleared []uintptr
}

// NewSignalRegistry constructs an empty recording registry.
func NewSignalRegistry() *SignalRegistry {
	return &SignalRegistry{}
}

func (r *SignalRegistry) Clear(fd uintptr, port api.Port) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared = append(r.cleared, fd)
}

// Cleared returns every fd Clear was invoked with.
func (r *SignalRegistry) Cleared() []uintptr {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uintptr, len(r.cleared))
	copy(out, r.cleared)
	return out
}
