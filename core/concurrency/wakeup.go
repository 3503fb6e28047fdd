//go:build darwin

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// WakeupChannel: the self-pipe carrying fixed-size control messages from
// any thread to the loop thread. Grounded in the self-pipe constructions
// used by comparable kqueue-based pollers: O_CLOEXEC on both ends,
// O_NONBLOCK on the read end only, leaving the write end blocking.

package concurrency

import (
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/momentics/kqreactor/api"
)

// wireRecordSize is interruptMessageSize plus an 8-byte socket
// correlation id appended by the channel itself: api.SocketHandle is an
// interface and cannot be serialized into the pipe's raw bytes, so a
// retained handle travels via sockets (below), keyed by a sequence
// number that rides alongside the encoded message.
const wireRecordSize = interruptMessageSize + 8

// WakeupChannel is a one-directional self-pipe. send() is safe from any
// thread; drain() is only ever called from the loop thread.
type WakeupChannel struct {
	readFD  int
	writeFD int

	mu      sync.Mutex
	nextSeq uint64
	sockets map[uint64]api.SocketHandle
}

// NewWakeupChannel creates the pipe, putting only the read end in
// non-blocking mode (§4.1): the write end stays blocking so a producer
// backs off under backpressure instead of losing a command to EAGAIN.
// Pipe creation failure is fatal per the error taxonomy (§7 class 1):
// there is no recoverable path.
func NewWakeupChannel() (*WakeupChannel, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("wakeup: pipe creation failed: %w", err)
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, fmt.Errorf("wakeup: set read end non-blocking: %w", err)
	}
	return &WakeupChannel{
		readFD:  fds[0],
		writeFD: fds[1],
		sockets: make(map[uint64]api.SocketHandle),
	}, nil
}

// ReadFD is the descriptor the KqueueReactor registers with EVFILT_READ
// and a null user-data cookie (§3 invariant 5).
func (w *WakeupChannel) ReadFD() uintptr { return uintptr(w.readFD) }

// Send writes msg to the pipe's write end. Because InterruptMessage's
// encoded size is well under PIPE_BUF, the kernel guarantees the write is
// atomic and interleave-free against concurrent senders — no user-space
// lock is needed (mu guards only the sockets map). A short write or
// write error is returned to the caller as an error; Send does not abort
// the process.
func (w *WakeupChannel) Send(msg api.InterruptMessage) error {
	var seq uint64
	if msg.Socket != nil {
		w.mu.Lock()
		w.nextSeq++
		seq = w.nextSeq
		w.sockets[seq] = msg.Socket
		w.mu.Unlock()
	}

	buf := make([]byte, wireRecordSize)
	copy(buf, encodeInterruptMessage(msg))
	binary.LittleEndian.PutUint64(buf[interruptMessageSize:], seq)

	n, err := unix.Write(w.writeFD, buf)
	if err != nil {
		return fmt.Errorf("wakeup: send failed: %w", err)
	}
	if n != len(buf) {
		return fmt.Errorf("wakeup: short write (%d of %d bytes)", n, len(buf))
	}
	return nil
}

// Drain reads up to len(out) complete messages, retrying on EINTR.
// Returns the number of messages read. A partial trailing message is a
// fatal protocol error — it should not occur given the atomicity of Send.
func (w *WakeupChannel) Drain(out []api.InterruptMessage) (int, error) {
	buf := make([]byte, wireRecordSize*len(out))
	var n int
	for {
		r, err := unix.Read(w.readFD, buf)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("wakeup: drain failed: %w", err)
		}
		n = r
		break
	}
	if n%wireRecordSize != 0 {
		return 0, fmt.Errorf("wakeup: partial message read (%d bytes)", n)
	}
	count := n / wireRecordSize
	for i := 0; i < count; i++ {
		rec := buf[i*wireRecordSize : (i+1)*wireRecordSize]
		msg := decodeInterruptMessage(rec[:interruptMessageSize])
		if seq := binary.LittleEndian.Uint64(rec[interruptMessageSize:]); seq != 0 {
			w.mu.Lock()
			msg.Socket = w.sockets[seq]
			delete(w.sockets, seq)
			w.mu.Unlock()
		}
		out[i] = msg
	}
	return count, nil
}

// Close releases both pipe ends.
func (w *WakeupChannel) Close() error {
	err1 := unix.Close(w.readFD)
	err2 := unix.Close(w.writeFD)
	if err1 != nil {
		return err1
	}
	return err2
}
