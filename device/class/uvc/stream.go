package uvc

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/ardnew/fx3uvc/device/hal/capture"
	"github.com/ardnew/fx3uvc/pkg"
)

// runVideo is the video context. It loops over videoStep until ctx is done
// or the capture hardware cannot be configured.
func (f *Function) runVideo(ctx context.Context) error {
	for {
		busy, err := f.videoStep(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if busy || f.config.PollInterval <= 0 {
			runtime.Gosched()
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(f.config.PollInterval):
		}
	}
}

// videoStep runs one pass of the video context and reports whether it did
// any work. A raised abort is cleaned up first. While the stream event is
// raised the session is started once and then moves buffers and closes
// frames. Otherwise the step blocks until either event is raised.
func (f *Function) videoStep(ctx context.Context) (bool, error) {
	if _, ok := f.events.Poll(EventAbort, WaitAll, true); ok {
		f.abortStep()
		return true, nil
	}
	if _, ok := f.events.Poll(EventStream, WaitAll, false); ok {
		if f.session.State() != StateStreaming {
			return true, f.beginStep()
		}
		return f.streamStep(), nil
	}
	if _, err := f.events.Wait(ctx, EventStream|EventAbort, WaitAny, false); err != nil {
		return false, err
	}
	return true, nil
}

// beginStep arms the channel and starts the capture machine.
func (f *Function) beginStep() error {
	ch, mode := f.pipeline.Current()
	if ch == nil {
		pkg.LogWarn(pkg.ComponentStream, "stream requested without a channel")
		f.events.Clear(EventStream)
		return nil
	}
	if err := ch.SetTransfer(0); err != nil {
		pkg.LogWarn(pkg.ComponentStream, "arm channel failed",
			"error", err)
	}

	f.headers.StampFrame()
	loaded, err := f.gpif.Begin()
	switch {
	case errors.Is(err, pkg.ErrFatalConfig):
		f.session.SetState(StateFatal)
		return err
	case err != nil:
		pkg.LogWarn(pkg.ComponentStream, "restart capture failed",
			"error", err)
	}

	f.session.SetState(StateStreaming)
	pkg.LogInfo(pkg.ComponentStream, "streaming",
		"mode", mode.String(),
		"loaded", loaded)
	return nil
}

// streamStep moves at most one produced buffer to the endpoint, then
// closes the frame if it is complete.
func (f *Function) streamStep() bool {
	ch, mode := f.pipeline.Current()
	if ch == nil {
		return false
	}

	busy := false
	buf, err := ch.GetBuffer(0)
	switch {
	case err == nil:
		busy = true
		f.commit(ch, mode, buf)
	case errors.Is(err, pkg.ErrNoBuffer):
	default:
		pkg.LogDebug(pkg.ComponentStream, "get buffer failed",
			"error", err)
	}

	if f.session.FrameReady() {
		f.endFrame(ch)
		busy = true
	}
	return busy
}

// commit tags a produced buffer with its payload header and hands it to
// the endpoint. A short buffer ends the frame and gets the EOF header.
func (f *Function) commit(ch capture.Channel, mode Mode, buf capture.Buffer) {
	cfg := mode.ChannelConfig()
	full := buf.Count == cfg.PayloadSize()
	if !full {
		f.session.PartialReceived()
	}

	count := buf.Count
	if cfg.Header > 0 {
		f.headers.WriteTo(buf.Data, !full)
		count += cfg.Header
	}

	f.session.Committing()
	if err := ch.Commit(count, 0); err != nil {
		f.session.CommitFailed()
		pkg.LogDebug(pkg.ComponentStream, "commit failed",
			"count", count,
			"error", err)
		return
	}
	f.session.Committed()
}

// endFrame resets the frame bookkeeping, flips the frame ID and re-arms
// the channel and capture machine for the next frame.
func (f *Function) endFrame(ch capture.Channel) {
	f.session.EndFrame()
	f.headers.ToggleFID()
	f.headers.StampFrame()

	if err := ch.Reset(); err != nil {
		pkg.LogDebug(pkg.ComponentStream, "reset channel failed",
			"error", err)
	}
	if err := ch.SetTransfer(0); err != nil {
		pkg.LogDebug(pkg.ComponentStream, "arm channel failed",
			"error", err)
	}
	if err := f.gpif.Restart(); err != nil {
		pkg.LogDebug(pkg.ComponentStream, "restart capture failed",
			"error", err)
	}
}

// abortStep clears the frame bookkeeping after an abort and returns the
// session to Idle. When the abort came from the host clearing the endpoint,
// the channel was already reset by that request.
func (f *Function) abortStep() {
	f.session.Abort()
	cleared := f.session.TakeClearFeature()
	if !cleared {
		ch, mode := f.pipeline.Current()
		if ch != nil {
			if err := ch.Reset(); err != nil {
				pkg.LogDebug(pkg.ComponentStream, "reset channel failed",
					"error", err)
			}
		}
		if usb := f.endpoints(); usb != nil {
			if err := usb.Flush(mode.Endpoint()); err != nil {
				pkg.LogDebug(pkg.ComponentStream, "flush endpoint failed",
					"error", err)
			}
		}
	}
	// The abort may have raced beginStep, so the state is not necessarily
	// Aborting here.
	state := f.session.Settle()
	pkg.LogInfo(pkg.ComponentStream, "stream aborted",
		"clearFeature", cleared,
		"state", state.String())
}
