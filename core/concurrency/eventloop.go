//go:build darwin

// File: core/concurrency/eventloop.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// EventLoop is the single dedicated thread owning the kqueue fd, the
// DescriptorTable, and the TimeoutQueue. No locks protect those
// structures because only this thread ever touches them (§5).

package concurrency

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"

	"github.com/momentics/kqreactor/affinity"
	"github.com/momentics/kqreactor/api"
	"github.com/momentics/kqreactor/control"
)

var (
	_ api.GracefulShutdown = (*EventLoop)(nil)
	_ api.Debug            = (*control.DebugProbes)(nil)
)

// LoopState is the EventLoop's three-state lifecycle (§4.4).
type LoopState int32

const (
	StateRunning LoopState = iota
	StateShuttingDown
	StateTerminated
)

func (s LoopState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting-down"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

const defaultBatchSize = 256

// EventLoopConfig tunes batch size and initial CPU placement.
// PinCPU can additionally be hot-reloaded at runtime via WireConfigStore
// (§10 ambient configuration); BatchSize is fixed for the loop's
// lifetime since it sizes eventBuf, a loop-owned buffer no other thread
// may resize.
type EventLoopConfig struct {
	BatchSize int
	PinCPU    int // negative disables pinning
}

// EventLoopConfigFromStore reads batch_size/pin_cpu out of a
// control.ConfigStore snapshot, falling back to defaults for missing or
// mistyped keys.
func EventLoopConfigFromStore(cs *control.ConfigStore) EventLoopConfig {
	cfg := EventLoopConfig{BatchSize: defaultBatchSize, PinCPU: -1}
	snap := cs.GetSnapshot()
	if v, ok := snap["batch_size"].(int); ok {
		cfg.BatchSize = v
	}
	if v, ok := snap["pin_cpu"].(int); ok {
		cfg.PinCPU = v
	}
	return cfg
}

// EventLoop is the event demultiplexer and dispatch engine (§1).
type EventLoop struct {
	reactor  *KqueueReactor
	wakeup   *WakeupChannel
	table    *DescriptorTable
	timeouts *TimeoutQueue

	mailbox     api.Mailbox
	listenReg   api.ListeningSocketRegistry
	signalReg   api.SignalRegistry
	onShutdown  func()

	logger  *log.Logger
	debug   *control.DebugProbes
	metrics *control.MetricsRegistry
	aff     *affinity.CPUAffinity
	cfg     EventLoopConfig

	state  atomic.Int32
	doneCh chan struct{}

	eventBuf  []unix.Kevent_t
	batch     *queue.Queue
	dispatched uint64
	iterations uint64
}

// NewEventLoop creates the wakeup pipe and the kqueue, and registers the
// wakeup fd's read end (§3 invariant 5). Any failure here is fatal —
// there is no recoverable path from a broken kqueue/pipe pair.
func NewEventLoop(cfg EventLoopConfig, debug *control.DebugProbes, metrics *control.MetricsRegistry, logger *log.Logger) (*EventLoop, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if logger == nil {
		logger = log.New(os.Stderr, "kqloop: ", log.LstdFlags)
	}

	wakeup, err := NewWakeupChannel()
	if err != nil {
		return nil, err
	}
	reactor, err := NewKqueueReactor()
	if err != nil {
		wakeup.Close()
		return nil, err
	}
	if err := reactor.RegisterWakeup(wakeup.ReadFD()); err != nil {
		wakeup.Close()
		reactor.Close()
		return nil, fmt.Errorf("kqueue: failed to register wakeup fd: %w", err)
	}

	el := &EventLoop{
		reactor:  reactor,
		wakeup:   wakeup,
		table:    NewDescriptorTable(),
		timeouts: NewTimeoutQueue(),
		logger:   logger,
		debug:    debug,
		metrics:  metrics,
		aff:      &affinity.CPUAffinity{},
		cfg:      cfg,
		doneCh:   make(chan struct{}),
		eventBuf: make([]unix.Kevent_t, cfg.BatchSize),
		batch:    queue.New(),
	}
	el.state.Store(int32(StateRunning))
	if debug != nil {
		el.registerProbes()
	}
	return el, nil
}

func (el *EventLoop) registerProbes() {
	el.debug.RegisterProbe("loop.state", func() any { return LoopState(el.state.Load()).String() })
	el.debug.RegisterProbe("loop.descriptors", func() any { return el.table.Len() })
	el.debug.RegisterProbe("loop.pending_timeouts", func() any { return el.timeouts.Len() })
	el.debug.RegisterProbe("loop.dispatched_events", func() any { return atomic.LoadUint64(&el.dispatched) })
	el.debug.RegisterProbe("loop.iterations", func() any { return atomic.LoadUint64(&el.iterations) })
	el.debug.RegisterProbe("loop.pinned_cpu", func() any {
		cpuID, _, _ := el.aff.Get()
		return cpuID
	})
}

// Start spawns the loop thread. handler (the Mailbox) receives all
// readiness and timeout deliveries; onShutdown is invoked exactly once,
// on the loop goroutine itself, after the loop has left its last
// iteration, stored StateTerminated and closed doneCh (scenario 6).
func (el *EventLoop) Start(handler api.Mailbox, listenReg api.ListeningSocketRegistry, signalReg api.SignalRegistry, onShutdown func()) {
	el.mailbox = handler
	el.listenReg = listenReg
	el.signalReg = signalReg
	el.onShutdown = onShutdown
	go el.run()
}

// WireConfigStore subscribes to cs for live pin_cpu updates. The reload
// hook (invoked on its own goroutine by ConfigStore) only enqueues a
// CommandRepin; the actual affinity.CPUAffinity.Pin/Unpin call still
// happens on the loop thread when dispatch processes it, preserving
// §5's single-owner invariant for everything the loop touches.
func (el *EventLoop) WireConfigStore(cs *control.ConfigStore) {
	cs.OnReload(func() {
		cpuID, ok := cs.GetSnapshot()["pin_cpu"].(int)
		if !ok {
			return
		}
		if err := el.SendData(api.InterruptMessage{Tag: api.CommandRepin, Data: int64(cpuID)}); err != nil {
			el.logger.Printf("config: repin request dropped: %v", err)
		}
	})
}

// Shutdown sends a SHUTDOWN control message and blocks until the loop
// thread has terminated.
func (el *EventLoop) Shutdown() error {
	if err := el.wakeup.Send(api.InterruptMessage{Tag: api.CommandShutdown}); err != nil {
		return err
	}
	<-el.doneCh
	return nil
}

// SendData forwards an InterruptMessage through the wakeup channel (§6).
func (el *EventLoop) SendData(msg api.InterruptMessage) error {
	if LoopState(el.state.Load()) == StateTerminated {
		return ErrLoopClosed
	}
	return el.wakeup.Send(msg)
}

func (el *EventLoop) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if el.cfg.PinCPU >= 0 {
		if err := el.aff.Pin(el.cfg.PinCPU, 0); err != nil {
			el.logger.Printf("affinity: pin to cpu %d failed: %v", el.cfg.PinCPU, err)
		}
	}

	defer func() {
		if pinned, _, _ := el.aff.Get(); pinned >= 0 {
			_ = el.aff.Unpin()
		}
		el.state.Store(int32(StateTerminated))
		close(el.doneCh)
		if el.onShutdown != nil {
			el.onShutdown()
		}
	}()

	for {
		if LoopState(el.state.Load()) == StateShuttingDown {
			return
		}
		el.iterate()
		atomic.AddUint64(&el.iterations, 1)
	}
}

// iterate runs a single loop iteration per §4.4.
func (el *EventLoop) iterate() {
	timeoutMS := el.computeTimeoutMS()

	n, err := el.reactor.Poll(el.eventBuf, timeoutMS)
	if err != nil {
		el.logger.Fatalf("kqueue: fatal poll error: %v", err)
	}

	el.serviceTimeouts()

	for i := 0; i < n; i++ {
		el.batch.Add(el.eventBuf[i])
	}

	interruptPending := false
	for el.batch.Length() > 0 {
		ev := el.batch.Peek().(unix.Kevent_t)
		el.batch.Remove()

		if ev.Flags&unix.EV_ERROR != 0 {
			el.logger.Fatalf("kqueue: unexpected EV_ERROR: fflags=%d", ev.Fflags)
		}
		if ev.Udata == nil {
			interruptPending = true
			continue
		}
		el.processSocketEvent(&ev)
	}

	if interruptPending {
		el.drainCommands()
	}

	if el.metrics != nil {
		el.metrics.Set("loop.last_iteration_events", n)
	}
}

func (el *EventLoop) computeTimeoutMS() int64 {
	deadline, _, ok := el.timeouts.Current()
	if !ok {
		return -1
	}
	nowMS := time.Now().UnixMilli()
	remaining := deadline - nowMS
	if remaining < 0 {
		remaining = 0
	}
	const maxMS = int64(1<<31 - 1)
	if remaining > maxMS {
		remaining = maxMS
	}
	return remaining
}

// serviceTimeouts delivers null events for every deadline that has
// already elapsed and removes them (§4.4 step 3).
func (el *EventLoop) serviceTimeouts() {
	nowMS := time.Now().UnixMilli()
	for {
		deadline, port, ok := el.timeouts.Current()
		if !ok || deadline > nowMS {
			return
		}
		if err := el.mailbox.PostNull(port); err != nil {
			el.logger.Printf("mailbox: post_null to port %d failed: %v", port, err)
		}
		el.timeouts.RemoveCurrent()
	}
}

// processSocketEvent handles one drained kqueue event (§4.4 step 4).
func (el *EventLoop) processSocketEvent(ev *unix.Kevent_t) {
	di := DescriptorInfoFromUdata(ev.Udata)
	if di == nil {
		return
	}
	oldMask := di.Mask()
	eventMask := Translate(ev, di.isListening)

	if eventMask.Has(api.EventError) {
		if err := di.NotifyAllPorts(el.mailbox, eventMask); err != nil {
			el.logger.Printf("mailbox: broadcast error delivery failed: %v", err)
		}
	} else if port, ok := di.NextNotifyPort(eventMask); ok {
		if err := el.mailbox.PostInt32(port, int32(eventMask)); err != nil {
			el.logger.Printf("mailbox: post_int32 to port %d failed: %v", port, err)
		}
		atomic.AddUint64(&el.dispatched, 1)
	}

	el.reactor.Update(oldMask, di, el.mailbox)
}

// drainCommands reads pending control messages from the self-pipe and
// dispatches each one (§4.5). Runs after socket events so a CLOSE never
// destroys a descriptor with events still pending in the current batch.
func (el *EventLoop) drainCommands() {
	buf := make([]api.InterruptMessage, el.cfg.BatchSize)
	for {
		n, err := el.wakeup.Drain(buf)
		if err != nil {
			el.logger.Fatalf("wakeup: fatal drain error: %v", err)
		}
		if n == 0 {
			return
		}
		for i := 0; i < n; i++ {
			el.dispatch(buf[i])
		}
		if n < len(buf) {
			return
		}
	}
}

// dispatch processes one command. A Socket carried on an fd-bearing
// command was Retained by the sender before the wakeup write; this
// scoped release is the other half of that contract (§5), running once
// the command has been fully processed regardless of which branch
// handled it.
func (el *EventLoop) dispatch(msg api.InterruptMessage) {
	if msg.Socket != nil {
		defer msg.Socket.Release()
	}

	switch msg.Tag {
	case api.CommandTimerUpdate:
		el.timeouts.Update(msg.Port, msg.Data)

	case api.CommandShutdown:
		el.state.Store(int32(StateShuttingDown))

	case api.CommandShutdownRead:
		_ = unix.Shutdown(int(msg.FD), unix.SHUT_RD) // errors ignored (§7 class 3)

	case api.CommandShutdownWrite:
		_ = unix.Shutdown(int(msg.FD), unix.SHUT_WR)

	case api.CommandReturnToken:
		di, ok := el.table.Lookup(msg.FD)
		if !ok {
			return
		}
		oldMask := di.Mask()
		di.ReturnTokens(msg.Port, int32(msg.Data))
		el.reactor.Update(oldMask, di, el.mailbox)

	case api.CommandSetEventMask:
		kind := KindSingle
		if msg.IsListening {
			kind = KindMultiple
		}
		di := el.table.GetOrInsert(msg.FD, kind)
		di.isListening = msg.IsListening
		oldMask := di.Mask()
		di.SetPortAndMask(msg.Port, msg.Mask)
		el.reactor.Update(oldMask, di, el.mailbox)

	case api.CommandClose:
		el.dispatchClose(msg)

	case api.CommandRepin:
		cpuID := int(msg.Data)
		el.cfg.PinCPU = cpuID
		if cpuID < 0 {
			if err := el.aff.Unpin(); err != nil {
				el.logger.Printf("affinity: unpin failed: %v", err)
			}
			return
		}
		if err := el.aff.Pin(cpuID, 0); err != nil {
			el.logger.Printf("affinity: repin to cpu %d failed: %v", cpuID, err)
		}
	}
}

// dispatchClose implements the CLOSE row of §4.5's dispatch table.
func (el *EventLoop) dispatchClose(msg api.InterruptMessage) {
	di, ok := el.table.Lookup(msg.FD)
	if !ok {
		_ = unix.Close(int(msg.FD))
		return
	}

	if msg.IsSignal && el.signalReg != nil {
		el.signalReg.Clear(msg.FD, msg.Port)
	}

	oldMask := di.Mask()
	di.RemovePort(msg.Port)

	shouldDestroy := true
	if msg.IsListening && el.listenReg != nil {
		shouldDestroy = el.listenReg.CloseSafe(msg.FD)
	}

	if shouldDestroy {
		el.reactor.Update(oldMask, di, el.mailbox)
		el.table.Remove(msg.FD)
		_ = unix.Close(int(msg.FD))
	} else {
		el.reactor.Update(oldMask, di, el.mailbox)
	}

	if err := el.mailbox.PostInt32(msg.Port, int32(api.EventMask(0).Set(api.EventDestroyed))); err != nil {
		el.logger.Printf("mailbox: post_int32(DESTROYED) to port %d failed: %v", msg.Port, err)
	}
}
