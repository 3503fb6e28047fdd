//go:build darwin

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// KqueueReactor: installs/removes EVFILT_READ and EVFILT_WRITE filters and
// translates kernel events into event masks. Grounded on the kqueue
// register/translate idioms found across the retrieval pack's kqueue
// pollers (EV_ADD/EV_DELETE/EV_CLEAR change lists, EV_EOF + Fflags-as-errno
// translation, and the darwin self-pipe wakeup registration pattern).

package concurrency

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/momentics/kqreactor/api"
)

// KqueueReactor owns the kqueue fd. Only the loop thread calls its methods.
type KqueueReactor struct {
	kq int
}

// NewKqueueReactor creates the kqueue. Failure is fatal (§7 class 1).
func NewKqueueReactor() (*KqueueReactor, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("kqueue: creation failed: %w", err)
	}
	if err := unix.CloseOnExec(kq); err != nil {
		unix.Close(kq)
		return nil, fmt.Errorf("kqueue: close-on-exec failed: %w", err)
	}
	return &KqueueReactor{kq: kq}, nil
}

// Close releases the kqueue fd.
func (r *KqueueReactor) Close() error { return unix.Close(r.kq) }

// RegisterWakeup installs the self-pipe's read end with EVFILT_READ and a
// null user-data cookie (§3 invariant 5).
func (r *KqueueReactor) RegisterWakeup(fd uintptr) error {
	ev := unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_ADD,
		Udata:  nil,
	}
	_, err := unix.Kevent(r.kq, []unix.Kevent_t{ev}, nil, nil)
	return err
}

// Update is the sole entry point for kernel-filter mutation (§4.3 table).
// Installation failures are handled internally — a CLOSE is synthesized to
// every subscriber and the error is not propagated to the caller.
func (r *KqueueReactor) Update(oldMask api.EventMask, di *DescriptorInfo, mailbox api.Mailbox) {
	newMask := di.Mask()
	switch {
	case oldMask == 0 && newMask == 0:
		return
	case oldMask == 0 && newMask != 0:
		r.install(di, newMask, mailbox)
	case oldMask != 0 && newMask == 0:
		r.remove(di)
		di.trackedByKqueue = false
	case oldMask == newMask:
		return
	default:
		if di.isListening {
			panic("kqueue: listening socket took a mask-change path; filters are level-triggered and should never transition nonzero->different-nonzero")
		}
		r.remove(di)
		r.install(di, newMask, mailbox)
	}
}

func (r *KqueueReactor) install(di *DescriptorInfo, mask api.EventMask, mailbox api.Mailbox) {
	flags := uint16(unix.EV_ADD)
	if !di.isListening {
		flags |= unix.EV_CLEAR
	}
	changes := make([]unix.Kevent_t, 0, 2)
	if mask.Has(api.EventIn) {
		changes = append(changes, unix.Kevent_t{
			Ident:  uint64(di.fd),
			Filter: unix.EVFILT_READ,
			Flags:  flags,
			Udata:  (*byte)(unsafe.Pointer(di)),
		})
	}
	if mask.Has(api.EventOut) {
		changes = append(changes, unix.Kevent_t{
			Ident:  uint64(di.fd),
			Filter: unix.EVFILT_WRITE,
			Flags:  flags,
			Udata:  (*byte)(unsafe.Pointer(di)),
		})
	}
	if _, err := unix.Kevent(r.kq, changes, nil, nil); err != nil {
		_ = di.NotifyAllPorts(mailbox, api.EventMask(0).Set(api.EventClose))
		di.trackedByKqueue = false
		return
	}
	di.trackedByKqueue = true
}

func (r *KqueueReactor) remove(di *DescriptorInfo) {
	changes := []unix.Kevent_t{
		{Ident: uint64(di.fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(di.fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	// Errors are ignored: the filter may never have been installed (§7 class 3).
	_, _ = unix.Kevent(r.kq, changes, nil, nil)
}

// Translate converts a raw kernel event into an event mask per §4.3's
// per-filter, per-listening-state table. Data-before-close priority is
// deliberate: a readable socket at EOF still surfaces IN so buffered
// bytes can be consumed before CLOSE.
func Translate(ev *unix.Kevent_t, isListening bool) api.EventMask {
	eof := ev.Flags&unix.EV_EOF != 0
	errored := eof && ev.Fflags != 0

	switch ev.Filter {
	case unix.EVFILT_READ:
		if isListening {
			switch {
			case errored:
				return api.EventMask(0).Set(api.EventError)
			case eof:
				return api.EventMask(0).Set(api.EventClose)
			default:
				return api.EventMask(0).Set(api.EventIn)
			}
		}
		m := api.EventMask(0).Set(api.EventIn)
		if errored {
			return api.EventMask(0).Set(api.EventError)
		}
		if eof {
			m = m.Set(api.EventClose)
		}
		return m
	case unix.EVFILT_WRITE:
		if errored {
			return api.EventMask(0).Set(api.EventError)
		}
		return api.EventMask(0).Set(api.EventOut)
	default:
		return 0
	}
}

// DescriptorInfoFromUdata recovers the DescriptorInfo pointer stored as a
// kernel-event user-data cookie. Valid only while the originating
// DescriptorInfo's trackedByKqueue remains true (§3 invariant 4).
func DescriptorInfoFromUdata(udata *byte) *DescriptorInfo {
	if udata == nil {
		return nil
	}
	return (*DescriptorInfo)(unsafe.Pointer(udata))
}

// Poll blocks in kevent() for at most timeoutMS (negative means forever)
// and fills out with ready events, returning the count.
func (r *KqueueReactor) Poll(out []unix.Kevent_t, timeoutMS int64) (int, error) {
	var ts *unix.Timespec
	if timeoutMS >= 0 {
		t := unix.NsecToTimespec(timeoutMS * int64(1_000_000))
		ts = &t
	}
	for {
		n, err := unix.Kevent(r.kq, nil, out, ts)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("kqueue: poll failed: %w", err)
		}
		return n, nil
	}
}
