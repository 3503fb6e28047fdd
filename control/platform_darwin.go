//go:build darwin
// +build darwin

// control/platform_darwin.go
// Author: momentics <momentics@gmail.com>
//
// macOS-specific debug probe registrations.

package control

import "runtime"

// RegisterPlatformProbes sets macOS-specific debug probes.
func RegisterPlatformProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
	dp.RegisterProbe("platform.os", func() any {
		return "darwin"
	})
}
