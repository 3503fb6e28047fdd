package concurrency

import (
	"testing"

	"github.com/momentics/kqreactor/api"
)

// TestInterruptMessageRoundTrip checks P4: encoding then decoding any
// InterruptMessage through the pipe wire format yields the original
// fields bit-exactly.
func TestInterruptMessageRoundTrip(t *testing.T) {
	cases := []api.InterruptMessage{
		{Tag: api.CommandSetEventMask, FD: 42, Port: 7, Mask: api.EventMask(0).Set(api.EventIn)},
		{Tag: api.CommandClose, FD: 1 << 40, Port: -5, IsListening: true, IsSignal: true},
		{Tag: api.CommandTimerUpdate, Port: 99, Data: 5000},
		{Tag: api.CommandTimerUpdate, Port: 100, Data: 1_753_000_000_123}, // absolute deadline exceeds int32 range
		{Tag: api.CommandReturnToken, FD: 3, Port: 1, Data: -7},
		{Tag: api.CommandShutdown},
	}

	for i, want := range cases {
		buf := encodeInterruptMessage(want)
		if len(buf) != interruptMessageSize {
			t.Fatalf("case %d: encoded length = %d, want %d", i, len(buf), interruptMessageSize)
		}
		got := decodeInterruptMessage(buf)
		if got != want {
			t.Errorf("case %d: round-trip mismatch: got %+v, want %+v", i, got, want)
		}
	}
}
