// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// DescriptorInfo and DescriptorTable: per-fd subscriber state and the
// fd -> DescriptorInfo mapping the loop thread owns exclusively.

package concurrency

import (
	"github.com/momentics/kqreactor/api"
	"github.com/momentics/kqreactor/pool"
)

// DescriptorKind distinguishes a single-subscriber fd from a listening
// socket fanned out to many subscribers round-robin.
type DescriptorKind uint8

const (
	KindSingle DescriptorKind = iota
	KindMultiple
)

type subscriber struct {
	port   api.Port
	mask   api.EventMask
	tokens int32
}

func (s *subscriber) eligible(event api.EventMask) bool {
	return s.tokens > 0 && s.mask&event != 0
}

// DescriptorInfo is the per-fd state machine the loop mutates in response
// to commands and kernel events. Only the loop thread ever touches one.
type DescriptorInfo struct {
	fd              uintptr
	kind            DescriptorKind
	single          *subscriber
	many            []*subscriber
	cursor          int
	trackedByKqueue bool
	isListening     bool
	isSignal        bool
}

func newDescriptorInfo() *DescriptorInfo {
	return &DescriptorInfo{}
}

// reset clears state before returning a DescriptorInfo to the pool.
func (di *DescriptorInfo) reset() {
	di.fd = 0
	di.kind = KindSingle
	di.single = nil
	di.many = di.many[:0]
	di.cursor = 0
	di.trackedByKqueue = false
	di.isListening = false
	di.isSignal = false
}

// FD returns the tracked file descriptor.
func (di *DescriptorInfo) FD() uintptr { return di.fd }

// TrackedByKqueue reports whether at least one filter is installed.
func (di *DescriptorInfo) TrackedByKqueue() bool { return di.trackedByKqueue }

// Mask is the bitwise OR of all currently-eligible subscribers' masks.
// Only subscribers with a positive token count contribute (§3 invariant 2).
func (di *DescriptorInfo) Mask() api.EventMask {
	var m api.EventMask
	if di.kind == KindSingle {
		if di.single != nil && di.single.tokens > 0 {
			m = di.single.mask
		}
		return m
	}
	for _, s := range di.many {
		if s.tokens > 0 {
			m |= s.mask
		}
	}
	return m
}

// SetPortAndMask upserts a subscriber: replaces the sole subscriber for
// Single descriptors, inserts-or-updates for Multiple.
func (di *DescriptorInfo) SetPortAndMask(port api.Port, mask api.EventMask) {
	if di.kind == KindSingle {
		if di.single == nil {
			di.single = &subscriber{port: port, mask: mask, tokens: 1}
		} else {
			di.single.port = port
			di.single.mask = mask
		}
		return
	}
	for _, s := range di.many {
		if s.port == port {
			s.mask = mask
			return
		}
	}
	di.many = append(di.many, &subscriber{port: port, mask: mask, tokens: 1})
}

// RemovePort removes the subscriber bound to port, if any.
func (di *DescriptorInfo) RemovePort(port api.Port) {
	if di.kind == KindSingle {
		if di.single != nil && di.single.port == port {
			di.single = nil
		}
		return
	}
	for i, s := range di.many {
		if s.port == port {
			di.many = append(di.many[:i], di.many[i+1:]...)
			if di.cursor > i {
				di.cursor--
			}
			return
		}
	}
}

// ReturnTokens credits n tokens to the subscriber at port. Zero tokens
// silence a subscriber's contribution to Mask() until tokens return.
func (di *DescriptorInfo) ReturnTokens(port api.Port, n int32) {
	if di.kind == KindSingle {
		if di.single != nil && di.single.port == port {
			di.single.tokens += n
		}
		return
	}
	for _, s := range di.many {
		if s.port == port {
			s.tokens += n
			return
		}
	}
}

// NextNotifyPort picks the next eligible subscriber for eventMask and
// decrements one token. For Multiple it advances a rotating cursor so
// N consecutive calls fan out round-robin (P5). Reports false, and
// decrements nothing, when no subscriber is eligible.
func (di *DescriptorInfo) NextNotifyPort(eventMask api.EventMask) (api.Port, bool) {
	if di.kind == KindSingle {
		if di.single != nil && di.single.eligible(eventMask) {
			di.single.tokens--
			return di.single.port, true
		}
		return 0, false
	}
	n := len(di.many)
	for i := 0; i < n; i++ {
		idx := (di.cursor + i) % n
		s := di.many[idx]
		if s.eligible(eventMask) {
			s.tokens--
			di.cursor = (idx + 1) % n
			return s.port, true
		}
	}
	return 0, false
}

// NotifyAllPorts delivers eventMask to every subscriber whose mask
// overlaps it, regardless of token count (used for broadcast ERROR/CLOSE).
func (di *DescriptorInfo) NotifyAllPorts(mailbox api.Mailbox, eventMask api.EventMask) error {
	deliver := func(s *subscriber) error {
		if s.mask&eventMask == 0 {
			return nil
		}
		return mailbox.PostInt32(s.port, int32(eventMask))
	}
	if di.kind == KindSingle {
		if di.single != nil {
			return deliver(di.single)
		}
		return nil
	}
	for _, s := range di.many {
		if err := deliver(s); err != nil {
			return err
		}
	}
	return nil
}

// Subscribed reports whether any subscriber is currently attached.
func (di *DescriptorInfo) Subscribed() bool {
	if di.kind == KindSingle {
		return di.single != nil
	}
	return len(di.many) > 0
}

// DescriptorTable maps fd -> *DescriptorInfo. Recycles DescriptorInfo
// instances through a sync.Pool to absorb the close/reopen churn a
// production listener experiences (spec §12 supplement).
type DescriptorTable struct {
	entries map[uintptr]*DescriptorInfo
	pool    *pool.SyncPool[*DescriptorInfo]
}

// NewDescriptorTable constructs an empty table.
func NewDescriptorTable() *DescriptorTable {
	return &DescriptorTable{
		entries: make(map[uintptr]*DescriptorInfo),
		pool:    pool.NewSyncPool(newDescriptorInfo),
	}
}

// GetOrInsert returns the existing DescriptorInfo for fd, or constructs
// and inserts a fresh one keyed by fd itself (a Go map needs no reserved
// empty-slot key, so fd 0 is stored as-is, without a +1 offset).
func (t *DescriptorTable) GetOrInsert(fd uintptr, kind DescriptorKind) *DescriptorInfo {
	if di, ok := t.entries[fd]; ok {
		return di
	}
	di := t.pool.Get()
	di.fd = fd
	di.kind = kind
	t.entries[fd] = di
	return di
}

// Lookup returns the DescriptorInfo for fd without inserting.
func (t *DescriptorTable) Lookup(fd uintptr) (*DescriptorInfo, bool) {
	di, ok := t.entries[fd]
	return di, ok
}

// Remove deletes fd's entry and recycles its DescriptorInfo.
func (t *DescriptorTable) Remove(fd uintptr) {
	di, ok := t.entries[fd]
	if !ok {
		return
	}
	delete(t.entries, fd)
	di.reset()
	t.pool.Put(di)
}

// Len reports the number of tracked descriptors (diagnostics, §4.6).
func (t *DescriptorTable) Len() int { return len(t.entries) }
