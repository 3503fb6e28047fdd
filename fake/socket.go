// Package fake
// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package fake

import "sync/atomic"

// SocketHandle is a fake api.SocketHandle exposing its refcount for
// assertions.
type SocketHandle struct {
	fd    uintptr
	count atomic.Int32
}

// NewSocketHandle constructs a handle with one outstanding reference.
func NewSocketHandle(fd uintptr) *SocketHandle {
	h := &SocketHandle{fd: fd}
	h.count.Store(1)
	return h
}

func (h *SocketHandle) RawFD() uintptr { return h.fd }
func (h *SocketHandle) Retain()        { h.count.Add(1) }
func (h *SocketHandle) Release()       { h.count.Add(-1) }

// RefCount returns the current outstanding reference count.
func (h *SocketHandle) RefCount() int32 { return h.count.Load() }
