package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ardnew/fx3uvc/device/class/uvc"
	"github.com/ardnew/fx3uvc/device/hal"
	"github.com/ardnew/fx3uvc/device/hal/loopback"
	"github.com/ardnew/fx3uvc/pkg"
)

// Host side polling.
const (
	nakBackoff  = time.Millisecond
	idleTimeout = 2 * time.Second
)

// bench plays the USB host against the camera.
type bench struct {
	host  *loopback.Host
	fn    *uvc.Function
	speed hal.Speed
}

// stream enumerates the camera, negotiates with PROBE and COMMIT, reads n
// frames and stops the stream with CLEAR_FEATURE(ENDPOINT_HALT).
func (b *bench) stream(ctx context.Context, n int) error {
	// The video channel is created when Run starts.
	for b.fn.Stats().Mode != uvc.ModeVideo {
		if err := b.wait(ctx); err != nil {
			return err
		}
	}

	enum, err := b.host.Enumerate(ctx, b.speed, address)
	if err != nil {
		return fmt.Errorf("enumerate: %w", err)
	}
	pkg.LogInfo(component, "enumerated",
		"speed", b.speed.String(), "config_len", len(enum.Configuration))

	probe, err := b.negotiate(ctx)
	if err != nil {
		return err
	}
	pkg.LogInfo(component, "stream committed",
		"fps", probe.FramesPerSecond(), "max_frame", probe.MaxVideoFrameSize)

	var frames []uvc.Frame
	asm := uvc.NewFrameAssembler(func(f uvc.Frame) {
		frames = append(frames, f)
		pkg.LogDebug(component, "frame",
			"n", len(frames), "bytes", len(f.Data), "payloads", f.Payloads, "fid", f.FID, "error", f.Error)
	})
	for len(frames) < n {
		data, err := b.host.Read(ctx, uvc.EndpointVideo)
		switch {
		case errors.Is(err, pkg.ErrNAK):
			if err := b.wait(ctx); err != nil {
				return err
			}
			continue
		case err != nil:
			return fmt.Errorf("read video: %w", err)
		}
		if err := asm.Push(data); err != nil {
			pkg.LogWarn(component, "bad payload", "error", err)
		}
	}

	var bad int
	for _, f := range frames {
		if f.Error || uint32(len(f.Data)) != probe.MaxVideoFrameSize {
			bad++
		}
	}
	pkg.LogInfo(component, "frames received", "frames", len(frames), "bad", bad)

	if err := b.host.ClearHalt(ctx, uvc.EndpointVideo); err != nil {
		return fmt.Errorf("clear halt: %w", err)
	}
	deadline := time.Now().Add(idleTimeout)
	for b.fn.State() != uvc.StateIdle {
		if time.Now().After(deadline) {
			return fmt.Errorf("stream still %v after clear halt: %w", b.fn.State(), pkg.ErrTimeout)
		}
		if err := sleep(ctx, nakBackoff); err != nil {
			return err
		}
	}
	return nil
}

// negotiate reads the device's current probe block, proposes it back and
// commits what the device returns.
func (b *bench) negotiate(ctx context.Context) (uvc.ProbeControl, error) {
	var probe uvc.ProbeControl
	block, err := b.videoStream(ctx, uvc.RequestGetCur, uvc.VSProbeControl, nil)
	if err != nil {
		return probe, fmt.Errorf("probe: %w", err)
	}
	if _, err := b.videoStream(ctx, uvc.RequestSetCur, uvc.VSProbeControl, block); err != nil {
		return probe, fmt.Errorf("probe: %w", err)
	}
	if block, err = b.videoStream(ctx, uvc.RequestGetCur, uvc.VSProbeControl, nil); err != nil {
		return probe, fmt.Errorf("probe: %w", err)
	}
	if err := uvc.ParseProbeControl(block, &probe); err != nil {
		return probe, err
	}
	if _, err := b.videoStream(ctx, uvc.RequestSetCur, uvc.VSCommitControl, block); err != nil {
		return probe, fmt.Errorf("commit: %w", err)
	}
	return probe, nil
}

// videoStream issues a class request to the streaming interface.
func (b *bench) videoStream(ctx context.Context, request, selector uint8, data []byte) ([]byte, error) {
	requestType := uint8(0x21)
	if request&0x80 != 0 {
		requestType = 0xA1
	}
	return b.host.Control(ctx, hal.SetupPacket{
		RequestType: requestType,
		Request:     request,
		Value:       uint16(selector) << 8,
		Index:       uvc.InterfaceStream,
		Length:      uvc.ProbeControlSize,
	}, data)
}

// wait backs off before the next poll and fails once the function can no
// longer stream.
func (b *bench) wait(ctx context.Context) error {
	if b.fn.State() == uvc.StateFatal {
		return pkg.ErrFatalConfig
	}
	return sleep(ctx, nakBackoff)
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
