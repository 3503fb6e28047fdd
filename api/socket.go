// File: api/socket.go
// Package api defines the external socket/registry collaborators the loop
// consumes but does not own.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// SocketHandle is the out-of-scope reference-counted socket wrapper. The
// loop only ever reads RawFD and adjusts the refcount around a single
// command's dispatch; it never interprets payload data through this
// interface.
type SocketHandle interface {
	RawFD() uintptr
	Retain()
	Release()
}

// ListeningSocketRegistry deduplicates close requests against listening
// sockets shared across threads. CloseSafe must be safe to call
// concurrently with registrations happening on other threads; it reports
// whether this call actually performed the close.
type ListeningSocketRegistry interface {
	CloseSafe(fd uintptr) bool
}

// SignalRegistry clears a signal handler registered against fd/port pairs
// before the loop tears down a signal-backed descriptor.
type SignalRegistry interface {
	Clear(fd uintptr, port Port)
}
