// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Error definitions for the event loop.

package concurrency

import "errors"

var (
	// ErrLoopClosed indicates the loop has already shut down.
	ErrLoopClosed = errors.New("event loop is closed")

	// ErrLoopAlreadyRunning indicates Start was called on a running loop.
	ErrLoopAlreadyRunning = errors.New("event loop already running")

	// ErrShutdownTimeout indicates Shutdown did not observe termination in time.
	ErrShutdownTimeout = errors.New("event loop shutdown timed out")

	// ErrDescriptorNotTracked indicates a command referenced an fd the table
	// does not know about.
	ErrDescriptorNotTracked = errors.New("descriptor not tracked")

	// ErrAffinityNotSupported indicates CPU affinity is not supported on this platform.
	ErrAffinityNotSupported = errors.New("CPU affinity not supported")
)
