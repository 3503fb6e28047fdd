//go:build darwin
// +build darwin

// File: affinity/affinity_darwin.go
// Author: momentics <momentics@gmail.com>
//
// macOS implementation for setting thread CPU affinity. Darwin has no
// pthread_setaffinity_np; the nearest analogue is the Mach thread affinity
// tag set via thread_policy_set, which is an advisory scheduling hint
// rather than a hard pin.

package affinity

/*
#include <pthread.h>
#include <mach/mach.h>
#include <mach/thread_policy.h>

int go_setaffinity(int cpu) {
	thread_affinity_policy_data_t policy = { cpu + 1 };
	thread_port_t thread = pthread_mach_thread_np(pthread_self());
	return thread_policy_set(thread, THREAD_AFFINITY_POLICY,
		(thread_policy_t)&policy, THREAD_AFFINITY_POLICY_COUNT);
}
*/
import "C"
import "fmt"

// setAffinityPlatform tags the calling thread with a Mach affinity set
// derived from cpuID. The kernel treats this as a locality hint, not a
// guarantee, which is consistent with the loop's own requirement
// (pinning affects scheduling locality, never correctness).
func setAffinityPlatform(cpuID int) error {
	ret := C.go_setaffinity(C.int(cpuID))
	if ret != 0 {
		return fmt.Errorf("affinity: thread_policy_set failed, code %d", ret)
	}
	return nil
}
