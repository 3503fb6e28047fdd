// Package fake
// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT
//
// Fake implementations of the loop's external collaborators, for use in
// package tests without a real kqueue.

package fake

import (
	"sync"

	"github.com/momentics/kqreactor/api"
)

// Delivery records one mailbox post.
type Delivery struct {
	Port  api.Port
	Value int32
	Null  bool
}

// Mailbox implements api.Mailbox by recording deliveries for assertions.
type Mailbox struct {
	mu         sync.Mutex
	deliveries []Delivery
}

// NewMailbox constructs an empty recording mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{}
}

func (m *Mailbox) PostInt32(port api.Port, value int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries = append(m.deliveries, Delivery{Port: port, Value: value})
	return nil
}

func (m *Mailbox) PostNull(port api.Port) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries = append(m.deliveries, Delivery{Port: port, Null: true})
	return nil
}

// Deliveries returns a copy of everything posted so far.
func (m *Mailbox) Deliveries() []Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Delivery, len(m.deliveries))
	copy(out, m.deliveries)
	return out
}

// Reset clears recorded deliveries.
func (m *Mailbox) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries = nil
}
