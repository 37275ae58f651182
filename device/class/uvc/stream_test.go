package uvc

import (
	"context"
	"errors"
	"testing"

	"github.com/ardnew/fx3uvc/device"
	"github.com/ardnew/fx3uvc/device/hal/capture"
	"github.com/ardnew/fx3uvc/pkg"
)

func TestBeginLoadsOnce(t *testing.T) {
	r := newRig(t)
	ch := r.video(t)
	r.streaming(t)

	loads, starts, switches, _ := r.gpif.counts()
	if loads != 1 || starts != 1 || switches != 0 {
		t.Fatalf("loads/starts/switches = %d/%d/%d, want 1/1/0", loads, starts, switches)
	}
	if ch.transfers != 1 {
		t.Errorf("transfers = %d, want 1", ch.transfers)
	}
	if !r.fn.gpif.Initialized() {
		t.Error("GPIF not initialized after begin")
	}

	// A second session on a running machine only restarts it.
	r.fn.session.SetState(StateIdle)
	r.step(t)
	loads, starts, switches, _ = r.gpif.counts()
	if loads != 1 || starts != 1 || switches != 1 {
		t.Errorf("loads/starts/switches = %d/%d/%d, want 1/1/1", loads, starts, switches)
	}
	if r.fn.gpif.Restarts() != 1 {
		t.Errorf("Restarts() = %d", r.fn.gpif.Restarts())
	}
}

func TestBeginLoadFailureIsFatal(t *testing.T) {
	r := newRig(t)
	r.video(t)
	r.gpif.loadErr = errors.New("bad waveform")
	r.fn.events.Set(EventStream)

	_, err := r.fn.videoStep(context.Background())
	if !errors.Is(err, pkg.ErrFatalConfig) {
		t.Fatalf("videoStep() error = %v, want %v", err, pkg.ErrFatalConfig)
	}
	if got := r.fn.State(); got != StateFatal {
		t.Errorf("State() = %v, want %v", got, StateFatal)
	}
}

func TestBeginWithoutChannel(t *testing.T) {
	r := newRig(t)
	r.fn.events.Set(EventStream)
	r.step(t)
	if r.fn.events.Get()&EventStream != 0 {
		t.Error("stream event left raised without a channel")
	}
	if loads, _, _, _ := r.gpif.counts(); loads != 0 {
		t.Errorf("loads = %d, want 0", loads)
	}
}

func TestFrameLifecycle(t *testing.T) {
	r := newRig(t)
	ch := r.video(t)
	r.streaming(t)

	ch.push(FullBufferPayload)
	ch.push(100)

	r.step(t)
	if len(ch.commits) != 1 {
		t.Fatalf("commits = %d, want 1", len(ch.commits))
	}
	first := ch.commits[0]
	if first.count != FullBufferPayload+VideoHeaderSize {
		t.Errorf("commit count = %d, want %d", first.count, FullBufferPayload+VideoHeaderSize)
	}
	if first.data[0] != HeaderSize || first.data[1] != headerInfoNormal {
		t.Errorf("header = % X, want normal with FID 0", first.data[:2])
	}
	r.fn.session.Consume()

	// Frame valid with the tail of the frame still in socket 1.
	r.gpif.fire(capture.StatePartialInSocket1)
	if len(ch.wrapped) != 1 || ch.wrapped[0] != capture.SocketPIB1 {
		t.Fatalf("wrapped = %v, want [1]", ch.wrapped)
	}
	if !r.fn.session.PartialPending() {
		t.Fatal("partial not pending after frame valid")
	}

	r.step(t)
	if len(ch.commits) != 2 {
		t.Fatalf("commits = %d, want 2", len(ch.commits))
	}
	last := ch.commits[1]
	if last.count != 100+VideoHeaderSize || last.data[1] != headerInfoEOF {
		t.Errorf("last commit = %d bytes info 0x%02X", last.count, last.data[1])
	}
	if r.fn.session.PartialPending() {
		t.Error("partial still pending after it was committed")
	}
	if r.fn.Stats().Frames != 0 {
		t.Fatal("frame ended before the last buffer drained")
	}

	r.fn.session.Consume()
	r.step(t)
	if r.fn.Stats().Frames != 1 {
		t.Fatalf("Frames = %d, want 1", r.fn.Stats().Frames)
	}
	if r.fn.headers.FID() != HeaderFID {
		t.Errorf("FID = %d, want 1", r.fn.headers.FID())
	}
	if ch.resetCount() != 1 || ch.transfers != 2 {
		t.Errorf("resets/transfers = %d/%d, want 1/2", ch.resets, ch.transfers)
	}
	if _, _, switches, _ := r.gpif.counts(); switches != 1 {
		t.Errorf("switches = %d, want 1", switches)
	}
	if r.fn.session.Produced() != 0 || r.fn.session.Consumed() != 0 {
		t.Error("counters not reset at end of frame")
	}

	ch.push(FullBufferPayload)
	r.step(t)
	if got := ch.commits[2].data[1]; got != headerInfoNormal|HeaderFID {
		t.Errorf("next frame info = 0x%02X, want 0x%02X", got, headerInfoNormal|HeaderFID)
	}
}

func TestFrameNeedsFrameValid(t *testing.T) {
	r := newRig(t)
	ch := r.video(t)
	r.streaming(t)

	ch.push(FullBufferPayload)
	r.step(t)
	r.fn.session.Consume()
	r.step(t)
	if r.fn.Stats().Frames != 0 {
		t.Fatal("frame ended without frame valid")
	}

	r.gpif.fire(capture.StateFullInSocket0)
	if len(ch.wrapped) != 0 {
		t.Errorf("full state wrapped a socket: %v", ch.wrapped)
	}
	r.step(t)
	if r.fn.Stats().Frames != 1 {
		t.Errorf("Frames = %d, want 1", r.fn.Stats().Frames)
	}
}

func TestCommitFailure(t *testing.T) {
	r := newRig(t)
	ch := r.video(t)
	r.streaming(t)

	ch.commitErr = errors.New("consumer gone")
	ch.push(FullBufferPayload)
	r.step(t)

	if r.fn.session.Produced() != 0 {
		t.Errorf("Produced() = %d, want 0", r.fn.session.Produced())
	}
	stats := r.fn.Stats()
	if stats.CommitFailures != 1 || stats.Committed != 0 {
		t.Errorf("failures/committed = %d/%d, want 1/0", stats.CommitFailures, stats.Committed)
	}
}

func TestClearHaltAbort(t *testing.T) {
	r := newRig(t)
	ch := r.video(t)
	r.streaming(t)

	// Ignored until the host has drained something.
	r.fn.HandleClearHalt(EndpointVideo)
	if r.fn.events.Get()&EventAbort != 0 {
		t.Fatal("abort raised before the stream started")
	}

	r.fn.session.Consume()
	r.fn.HandleClearHalt(EndpointAnalyser)
	if r.fn.events.Get()&EventAbort != 0 {
		t.Fatal("abort raised for another endpoint")
	}

	r.fn.HandleClearHalt(EndpointVideo)
	if got := r.fn.events.Get(); got&EventAbort == 0 || got&EventStream != 0 {
		t.Fatalf("events = %v, want abort without stream", got)
	}
	if got := r.fn.State(); got != StateAborting {
		t.Errorf("State() = %v, want %v", got, StateAborting)
	}
	if _, _, _, disables := r.gpif.counts(); disables != 1 {
		t.Errorf("disables = %d, want 1", disables)
	}
	if ch.resetCount() != 1 || r.usb.flushCount(EndpointVideo) != 1 {
		t.Errorf("resets/flushes = %d/%d, want 1/1", ch.resetCount(), r.usb.flushCount(EndpointVideo))
	}
	if len(r.usb.naks) != 2 || !r.usb.naks[0] || r.usb.naks[1] {
		t.Errorf("naks = %v, want [true false]", r.usb.naks)
	}
	if _, ok := r.display.find("clearFeature"); !ok {
		t.Error("clearFeature not shown")
	}

	r.step(t)
	if ch.resetCount() != 1 || r.usb.flushCount(EndpointVideo) != 1 {
		t.Errorf("abort cleanup repeated the reset: resets/flushes = %d/%d",
			ch.resetCount(), r.usb.flushCount(EndpointVideo))
	}
	if got := r.fn.State(); got != StateIdle {
		t.Errorf("State() = %v, want %v", got, StateIdle)
	}
	if r.fn.session.TakeClearFeature() {
		t.Error("clear feature mark survived the abort")
	}
}

func TestBusResetAbort(t *testing.T) {
	r := newRig(t)
	ch := r.video(t)
	r.streaming(t)
	r.fn.session.Consume()

	r.fn.HandleBusEvent(device.BusEventReset)
	if _, _, _, disables := r.gpif.counts(); disables != 1 {
		t.Errorf("disables = %d, want 1", disables)
	}
	if r.fn.session.Started() {
		t.Error("still started after reset")
	}

	r.step(t)
	if ch.resetCount() != 1 || r.usb.flushCount(EndpointVideo) != 1 {
		t.Errorf("resets/flushes = %d/%d, want 1/1", ch.resetCount(), r.usb.flushCount(EndpointVideo))
	}
	if got := r.fn.State(); got != StateIdle {
		t.Errorf("State() = %v, want %v", got, StateIdle)
	}

	// The next commit loads the waveform again.
	r.fn.events.Set(EventStream)
	r.step(t)
	if loads, _, _, _ := r.gpif.counts(); loads != 2 {
		t.Errorf("loads = %d, want 2", loads)
	}
}

func TestClearHaltEndpointErrors(t *testing.T) {
	r := newRig(t)
	ch := r.video(t)
	r.streaming(t)
	r.fn.session.Consume()
	r.usb.err = errors.New("endpoint busy")

	r.fn.HandleClearHalt(EndpointVideo)
	if ch.resetCount() != 1 {
		t.Errorf("resets = %d, want 1", ch.resetCount())
	}
	if len(r.usb.naks) != 2 || r.usb.clears[EndpointVideo] != 1 {
		t.Errorf("naks/clears = %v/%d, want 2 naks and 1 clear", r.usb.naks, r.usb.clears[EndpointVideo])
	}
	if got := r.fn.State(); got != StateAborting {
		t.Fatalf("State() = %v, want %v", got, StateAborting)
	}
	r.step(t)
	if got := r.fn.State(); got != StateIdle {
		t.Errorf("State() = %v, want %v", got, StateIdle)
	}
}

func TestAbortDuringBegin(t *testing.T) {
	r := newRig(t)
	ch := r.video(t)

	// The reset lands after the video context saw the stream event but
	// before it stored Streaming.
	r.fn.events.Set(EventStream)
	r.fn.HandleBusEvent(device.BusEventReset)
	if err := r.fn.beginStep(); err != nil {
		t.Fatalf("beginStep() error = %v", err)
	}
	if got := r.fn.State(); got != StateStreaming {
		t.Fatalf("State() = %v, want %v", got, StateStreaming)
	}

	r.step(t) // abort
	if got := r.fn.State(); got != StateIdle {
		t.Fatalf("State() after abort = %v, want %v", got, StateIdle)
	}
	if got := r.fn.events.Get(); got != 0 {
		t.Errorf("events = %v, want none", got)
	}

	// The next commit arms the channel and restarts the capture machine.
	r.fn.events.Set(EventStream)
	r.step(t)
	if got := r.fn.State(); got != StateStreaming {
		t.Fatalf("State() = %v, want %v", got, StateStreaming)
	}
	if ch.transfers != 2 {
		t.Errorf("transfers = %d, want 2", ch.transfers)
	}
	loads, starts, switches, _ := r.gpif.counts()
	if loads != 1 || starts != 1 || switches != 1 {
		t.Errorf("loads/starts/switches = %d/%d/%d, want 1/1/1", loads, starts, switches)
	}
}

func TestDisconnectDisables(t *testing.T) {
	r := newRig(t)
	r.video(t)
	r.streaming(t)

	r.fn.HandleBusEvent(device.BusEventDisconnect)
	r.step(t)
	if got := r.fn.State(); got != StateDisabled {
		t.Errorf("State() = %v, want %v", got, StateDisabled)
	}
}

func TestBusEventWhileIdle(t *testing.T) {
	r := newRig(t)
	r.video(t)

	r.fn.HandleBusEvent(device.BusEventReset)
	if r.fn.events.Get() != 0 {
		t.Errorf("events = %v, want none", r.fn.events.Get())
	}
	if got := r.fn.State(); got != StateIdle {
		t.Errorf("State() = %v, want %v", got, StateIdle)
	}
}

func TestBackflowShownOncePerFrame(t *testing.T) {
	r := newRig(t)
	ch := r.video(t)
	r.streaming(t)

	r.fn.onPIBError(capture.PIBErrorBackflow0)
	r.fn.onPIBError(capture.PIBErrorBackflow1)
	r.fn.onPIBError(0x1001)
	if n := r.display.count("pib err"); n != 1 {
		t.Fatalf("pib err shown %d times, want 1", n)
	}
	if r.fn.Stats().Backflows != 2 {
		t.Errorf("Backflows = %d, want 2", r.fn.Stats().Backflows)
	}

	// A committed buffer does not clear the mark; the end of the frame does.
	ch.push(100)
	r.step(t)
	r.fn.onPIBError(capture.PIBErrorBackflow0)
	if n := r.display.count("pib err"); n != 1 {
		t.Fatalf("pib err shown %d times mid-frame, want 1", n)
	}

	r.fn.session.Consume()
	r.gpif.fire(capture.StateFullInSocket0)
	r.step(t)
	r.fn.onPIBError(capture.PIBErrorBackflow0)
	if n := r.display.count("pib err"); n != 2 {
		t.Errorf("pib err shown %d times, want 2", n)
	}
}

func TestRunFatalWithoutChannel(t *testing.T) {
	r := newRig(t)
	r.dma.err = errors.New("no sockets")

	err := r.fn.Run(context.Background())
	if !errors.Is(err, pkg.ErrFatalConfig) {
		t.Fatalf("Run() error = %v, want %v", err, pkg.ErrFatalConfig)
	}
	if got := r.fn.State(); got != StateFatal {
		t.Errorf("State() = %v, want %v", got, StateFatal)
	}
}

func TestRunStopsWithContext(t *testing.T) {
	r := newRig(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.fn.Run(ctx) }()

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}
	if ch := r.dma.last(); ch == nil || !ch.destroyed {
		t.Error("channel not destroyed when Run returned")
	}
}
