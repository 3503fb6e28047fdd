package concurrency

import (
	"testing"

	"github.com/momentics/kqreactor/api"
)

func TestDescriptorInfoMaskRespectsTokens(t *testing.T) {
	di := newDescriptorInfo()
	di.kind = KindSingle
	di.SetPortAndMask(7, api.EventMask(0).Set(api.EventIn))

	if got := di.Mask(); got != api.EventMask(0).Set(api.EventIn) {
		t.Fatalf("expected IN mask, got %v", got)
	}

	di.ReturnTokens(7, -1) // drain the default token to zero
	if got := di.Mask(); got != 0 {
		t.Errorf("expected zero mask once tokens are exhausted, got %v", got)
	}

	di.ReturnTokens(7, 1)
	if got := di.Mask(); got == 0 {
		t.Error("expected nonzero mask once a token is returned")
	}
}

func TestDescriptorInfoNextNotifyPortRoundRobin(t *testing.T) {
	di := newDescriptorInfo()
	di.kind = KindMultiple
	di.isListening = true
	di.SetPortAndMask(10, api.EventMask(0).Set(api.EventIn))
	di.SetPortAndMask(11, api.EventMask(0).Set(api.EventIn))
	di.SetPortAndMask(12, api.EventMask(0).Set(api.EventIn))

	var got []api.Port
	for i := 0; i < 3; i++ {
		port, ok := di.NextNotifyPort(api.EventMask(0).Set(api.EventIn))
		if !ok {
			t.Fatalf("expected a subscriber to be eligible at iteration %d", i)
		}
		got = append(got, port)
	}

	want := []api.Port{10, 11, 12}
	for i, p := range want {
		if got[i] != p {
			t.Errorf("fan-out order[%d] = %d, want %d", i, got[i], p)
		}
	}

	if _, ok := di.NextNotifyPort(api.EventMask(0).Set(api.EventIn)); ok {
		t.Error("expected no eligible subscriber once every token is spent")
	}

	di.ReturnTokens(10, 1)
	port, ok := di.NextNotifyPort(api.EventMask(0).Set(api.EventIn))
	if !ok || port != 10 {
		t.Errorf("expected port 10 to become eligible again, got port=%d ok=%v", port, ok)
	}
}

func TestDescriptorInfoRemovePort(t *testing.T) {
	di := newDescriptorInfo()
	di.kind = KindMultiple
	di.SetPortAndMask(1, api.EventMask(0).Set(api.EventIn))
	di.SetPortAndMask(2, api.EventMask(0).Set(api.EventIn))
	di.RemovePort(1)

	if di.Subscribed() != true {
		t.Fatal("expected remaining subscriber at port 2")
	}
	if _, ok := di.NextNotifyPort(api.EventMask(0).Set(api.EventIn)); !ok {
		t.Error("expected port 2 still eligible")
	}
}

func TestDescriptorTableRecyclesEntries(t *testing.T) {
	table := NewDescriptorTable()
	di := table.GetOrInsert(5, KindSingle)
	di.SetPortAndMask(9, api.EventMask(0).Set(api.EventIn))

	table.Remove(5)
	if _, ok := table.Lookup(5); ok {
		t.Fatal("expected fd 5 to be gone after Remove")
	}

	reused := table.GetOrInsert(6, KindSingle)
	if reused.Subscribed() {
		t.Error("expected recycled DescriptorInfo to start with no subscribers")
	}
}
