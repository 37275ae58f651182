package uvc

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ardnew/fx3uvc/device/hal/capture"
	"github.com/ardnew/fx3uvc/pkg"
)

// GPIFAdapter drives the capture state machine for a streaming session. The
// waveform is loaded and started once; later sessions restart it with a
// state switch until Disable forces the next session to load it again.
type GPIFAdapter struct {
	gpif     capture.GPIF
	waveform *capture.Waveform

	initialized atomic.Bool
	loads       atomic.Uint64
	restarts    atomic.Uint64

	mutex        sync.RWMutex
	onFrameValid func(state uint8)
}

// NewGPIFAdapter creates an adapter for g and installs its event handler.
func NewGPIFAdapter(g capture.GPIF, waveform *capture.Waveform) *GPIFAdapter {
	a := &GPIFAdapter{
		gpif:     g,
		waveform: waveform,
	}
	g.SetCallback(a.handleEvent)
	return a
}

// SetOnFrameValid sets the handler for the frame valid interrupt. It runs
// in the capture block's interrupt context and must not block.
func (a *GPIFAdapter) SetOnFrameValid(cb func(state uint8)) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.onFrameValid = cb
}

func (a *GPIFAdapter) handleEvent(event capture.GPIFEvent, state uint8) {
	if event != capture.EventInterrupt {
		pkg.LogDebug(pkg.ComponentGPIF, "ignoring event",
			"event", event.String(),
			"state", state)
		return
	}
	a.mutex.RLock()
	cb := a.onFrameValid
	a.mutex.RUnlock()
	if cb != nil {
		cb(state)
	}
}

// Initialized reports whether the waveform is loaded and running.
func (a *GPIFAdapter) Initialized() bool {
	return a.initialized.Load()
}

// Loads returns how many times the waveform was loaded.
func (a *GPIFAdapter) Loads() uint64 { return a.loads.Load() }

// Restarts returns how many state switch restarts were issued.
func (a *GPIFAdapter) Restarts() uint64 { return a.restarts.Load() }

// Begin starts the machine for a new session. The first call loads and
// starts the waveform and reports loaded; later calls only restart it.
// Load and start failures wrap pkg.ErrFatalConfig.
func (a *GPIFAdapter) Begin() (loaded bool, err error) {
	if a.initialized.Load() {
		return false, a.Restart()
	}
	if err := a.gpif.Load(a.waveform); err != nil {
		return false, fmt.Errorf("load waveform: %w: %w", pkg.ErrFatalConfig, err)
	}
	if err := a.gpif.Start(capture.StateStart, capture.AlphaStart); err != nil {
		return false, fmt.Errorf("start waveform: %w: %w", pkg.ErrFatalConfig, err)
	}
	a.initialized.Store(true)
	a.loads.Add(1)
	pkg.LogInfo(pkg.ComponentGPIF, "waveform loaded",
		"name", a.waveform.Name)
	return true, nil
}

// Restart jumps the running machine back to its start state.
func (a *GPIFAdapter) Restart() error {
	err := a.gpif.Switch(capture.SwitchAnyState, uint16(capture.StateStart),
		capture.SwitchAnyState, capture.AlphaStart, capture.SwitchTimeout)
	if err != nil {
		return fmt.Errorf("switch to start state: %w", err)
	}
	a.restarts.Add(1)
	return nil
}

// Disable halts the machine and drops the FIFO contents. The next Begin
// loads the waveform again.
func (a *GPIFAdapter) Disable() {
	a.initialized.Store(false)
	if err := a.gpif.Disable(true); err != nil {
		pkg.LogWarn(pkg.ComponentGPIF, "disable failed",
			"error", err)
	}
}
