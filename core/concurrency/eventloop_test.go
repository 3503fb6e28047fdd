//go:build darwin

package concurrency

import (
	"os"
	"testing"
	"time"

	"github.com/momentics/kqreactor/api"
	"github.com/momentics/kqreactor/fake"
)

func waitForDeliveries(t *testing.T, mailbox *fake.Mailbox, min int, timeout time.Duration) []fake.Delivery {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if got := mailbox.Deliveries(); len(got) >= min {
			return got
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d deliveries, got %d", min, len(mailbox.Deliveries()))
	return nil
}

// TestSingleFDRead covers scenario 1: registering a readable pipe end
// with mask IN delivers exactly one IN event per available token.
func TestSingleFDRead(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	el, err := NewEventLoop(EventLoopConfig{BatchSize: 16, PinCPU: -1}, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	mailbox := fake.NewMailbox()
	el.Start(mailbox, nil, nil, nil)
	defer el.Shutdown()

	fd := uintptr(r.Fd())
	if err := el.SendData(api.InterruptMessage{
		Tag:  api.CommandSetEventMask,
		FD:   fd,
		Port: 7,
		Mask: api.EventMask(0).Set(api.EventIn),
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := w.Write([]byte("X")); err != nil {
		t.Fatal(err)
	}

	deliveries := waitForDeliveries(t, mailbox, 1, 2*time.Second)
	if deliveries[0].Port != 7 || deliveries[0].Value != int32(api.EventMask(0).Set(api.EventIn)) {
		t.Errorf("unexpected first delivery: %+v", deliveries[0])
	}

	mailbox.Reset()
	if err := el.SendData(api.InterruptMessage{Tag: api.CommandReturnToken, FD: fd, Port: 7, Data: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("Y")); err != nil {
		t.Fatal(err)
	}
	waitForDeliveries(t, mailbox, 1, 2*time.Second)
}

// TestTimerDelivery covers scenario 4: a timer update yields a null
// delivery within the requested window and is then removed.
func TestTimerDelivery(t *testing.T) {
	el, err := NewEventLoop(EventLoopConfig{BatchSize: 16, PinCPU: -1}, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	mailbox := fake.NewMailbox()
	el.Start(mailbox, nil, nil, nil)
	defer el.Shutdown()

	before := time.Now()
	// UnixMilli truncates; round up so the deadline is at least 50ms after before.
	deadline := before.Add(50*time.Millisecond).UnixMilli() + 1
	if err := el.SendData(api.InterruptMessage{Tag: api.CommandTimerUpdate, Port: 20, Data: deadline}); err != nil {
		t.Fatal(err)
	}

	deliveries := waitForDeliveries(t, mailbox, 1, 500*time.Millisecond)
	if elapsed := time.Since(before); elapsed < 50*time.Millisecond {
		t.Errorf("delivery fired after %v, expected at least 50ms", elapsed)
	}
	if !deliveries[0].Null || deliveries[0].Port != 20 {
		t.Errorf("expected a null delivery to port 20, got %+v", deliveries[0])
	}
}

// TestCloseDeliversDestroyedExactlyOnce covers scenario 5.
func TestCloseDeliversDestroyedExactlyOnce(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	el, err := NewEventLoop(EventLoopConfig{BatchSize: 16, PinCPU: -1}, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	mailbox := fake.NewMailbox()
	el.Start(mailbox, nil, nil, nil)
	defer el.Shutdown()

	fd := uintptr(r.Fd())
	if err := el.SendData(api.InterruptMessage{
		Tag: api.CommandSetEventMask, FD: fd, Port: 30, Mask: api.EventMask(0).Set(api.EventIn),
	}); err != nil {
		t.Fatal(err)
	}
	if err := el.SendData(api.InterruptMessage{Tag: api.CommandClose, FD: fd, Port: 30}); err != nil {
		t.Fatal(err)
	}

	deliveries := waitForDeliveries(t, mailbox, 1, 2*time.Second)
	destroyed := 0
	for _, d := range deliveries {
		if d.Value == int32(api.EventMask(0).Set(api.EventDestroyed)) {
			destroyed++
		}
	}
	if destroyed != 1 {
		t.Errorf("expected exactly one DESTROYED delivery, got %d", destroyed)
	}
}

// TestCloseReleasesRetainedSocket covers §5's cross-thread refcount
// contract: a CLOSE command carrying a retained SocketHandle must see
// it released exactly once, after the close has been fully processed.
func TestCloseReleasesRetainedSocket(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	el, err := NewEventLoop(EventLoopConfig{BatchSize: 16, PinCPU: -1}, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	mailbox := fake.NewMailbox()
	el.Start(mailbox, nil, nil, nil)
	defer el.Shutdown()

	fd := uintptr(r.Fd())
	if err := el.SendData(api.InterruptMessage{
		Tag: api.CommandSetEventMask, FD: fd, Port: 40, Mask: api.EventMask(0).Set(api.EventIn),
	}); err != nil {
		t.Fatal(err)
	}

	handle := fake.NewSocketHandle(fd)
	handle.Retain() // sender holds a reference across the wakeup
	if err := el.SendData(api.InterruptMessage{Tag: api.CommandClose, FD: fd, Port: 40, Socket: handle}); err != nil {
		t.Fatal(err)
	}

	waitForDeliveries(t, mailbox, 1, 2*time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for handle.RefCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("expected refcount 1 after scoped release, got %d", handle.RefCount())
		}
		time.Sleep(time.Millisecond)
	}
}
