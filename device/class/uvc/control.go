package uvc

import (
	"context"
	"encoding/binary"
	"fmt"
	"runtime"

	"github.com/ardnew/fx3uvc/device"
	"github.com/ardnew/fx3uvc/pkg"
)

// Camera terminal control ranges advertised to the host.
const (
	ZoomMin       = 0
	ZoomMax       = 255
	ZoomDefault   = 0
	PanTiltMin    = -648000 // arc seconds, -180 degrees
	PanTiltMax    = 648000  // arc seconds, +180 degrees
	PanTiltDef    = 0
	PTZResolution = 1
)

// Control payload lengths.
const (
	zoomControlSize    = 2
	panTiltControlSize = 8
)

// controlEvents is the mask the control context waits on.
const controlEvents = EventVideoControl | EventVideoStream | EventVendor | EventButtonDown | EventButtonUp

// requestEvents are the events that carry a deferred request.
const requestEvents = EventVideoControl | EventVideoStream | EventVendor

// controlRequest is a setup request deferred to the control context.
type controlRequest struct {
	kind  Event
	setup device.SetupPacket
	data  []byte
	done  chan controlReply
}

type controlReply struct {
	data []byte
	err  error
}

// deferRequest hands a request to the control context and waits a bounded
// time for its reply.
func (f *Function) deferRequest(kind Event, setup *device.SetupPacket, data []byte) ([]byte, error) {
	req := &controlRequest{
		kind:  kind,
		setup: *setup,
		data:  append([]byte(nil), data...),
		done:  make(chan controlReply, 1),
	}

	f.mutex.Lock()
	f.pending = req
	f.mutex.Unlock()
	f.events.Set(kind)

	timer := f.clock.NewTimer(f.config.RequestTimeout)
	defer timer.Stop()
	select {
	case reply := <-req.done:
		return reply.data, reply.err
	case <-timer.Chan():
		f.mutex.Lock()
		if f.pending == req {
			f.pending = nil
		}
		f.mutex.Unlock()
		pkg.LogWarn(pkg.ComponentControl, "request timed out",
			"request", setup.String())
		return nil, pkg.ErrTimeout
	}
}

func (f *Function) takeRequest() *controlRequest {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	req := f.pending
	f.pending = nil
	return req
}

// runControl is the control context. It answers deferred class and vendor
// requests and forwards button edges to the sensor.
func (f *Function) runControl(ctx context.Context) error {
	for {
		got, err := f.events.Wait(ctx, controlEvents, WaitAny, true)
		if err != nil {
			return nil
		}
		f.latchSpeed()

		if got&requestEvents != 0 {
			if req := f.takeRequest(); req != nil {
				data, err := f.handleRequest(req)
				req.done <- controlReply{data: data, err: err}
			}
		}
		if got&EventButtonDown != 0 {
			f.button(true)
		}
		if got&EventButtonUp != 0 {
			f.button(false)
		}
		runtime.Gosched()
	}
}

// latchSpeed records the link speed on the first event after connection
// and shows it.
func (f *Function) latchSpeed() {
	f.mutex.Lock()
	if f.speedLatched || f.usb == nil {
		f.mutex.Unlock()
		return
	}
	speed := f.usb.Speed()
	f.speed = speed
	f.speedLatched = true
	f.mutex.Unlock()

	f.display.Line3("USB", int(speed))
	pkg.LogInfo(pkg.ComponentControl, "link speed",
		"speed", speed.String())
}

// linkSpeed returns the latched speed, or the live one before latching.
func (f *Function) linkSpeed() device.Speed {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.speedLatched || f.usb == nil {
		return f.speed
	}
	return f.usb.Speed()
}

func (f *Function) button(pressed bool) {
	pkg.LogDebug(pkg.ComponentControl, "button",
		"pressed", pressed)
	if f.sensor == nil {
		return
	}
	if err := f.sensor.Button(pressed); err != nil {
		pkg.LogWarn(pkg.ComponentControl, "sensor button failed",
			"error", err)
	}
}

// handleRequest answers one deferred request. An error stalls EP0.
func (f *Function) handleRequest(req *controlRequest) ([]byte, error) {
	switch req.kind {
	case EventVideoControl:
		return f.videoControlRequest(&req.setup, req.data)
	case EventVideoStream:
		return f.videoStreamRequest(&req.setup, req.data)
	case EventVendor:
		return f.vendorRequest(&req.setup, req.data)
	}
	return nil, pkg.ErrInvalidRequest
}

// videoControlRequest answers a request addressed to the control
// interface. Only the camera terminal's pan, tilt and zoom are supported.
func (f *Function) videoControlRequest(setup *device.SetupPacket, data []byte) ([]byte, error) {
	switch setup.EntityID() {
	case EntityCameraTerminal:
		return f.cameraTerminalRequest(setup, data)
	case EntityProcessingUnit, EntityExtensionUnit:
		return nil, fmt.Errorf("unit %d control 0x%02X: %w",
			setup.EntityID(), setup.Value>>8, pkg.ErrNotSupported)
	default:
		return nil, fmt.Errorf("entity %d: %w", setup.EntityID(), pkg.ErrInvalidRequest)
	}
}

func (f *Function) cameraTerminalRequest(setup *device.SetupPacket, data []byte) ([]byte, error) {
	if f.ptz == nil {
		return nil, pkg.ErrNotSupported
	}
	selector := uint8(setup.Value >> 8)
	switch selector {
	case CTZoomAbsolute:
		return f.zoomRequest(setup.Request, data)
	case CTPanTiltAbsolute:
		return f.panTiltRequest(setup.Request, data)
	}
	return nil, fmt.Errorf("camera control 0x%02X: %w", selector, pkg.ErrNotSupported)
}

func (f *Function) zoomRequest(request uint8, data []byte) ([]byte, error) {
	buf := make([]byte, zoomControlSize)
	var value int32
	switch request {
	case RequestGetInfo:
		return []byte{InfoSupportsGet | InfoSupportsSet}, nil
	case RequestGetLen:
		binary.LittleEndian.PutUint16(buf, zoomControlSize)
		return buf, nil
	case RequestGetCur:
		value = f.ptz.Zoom()
	case RequestGetMin:
		value = ZoomMin
	case RequestGetMax:
		value = ZoomMax
	case RequestGetRes:
		value = PTZResolution
	case RequestGetDef:
		value = ZoomDefault
	case RequestSetCur:
		if len(data) < zoomControlSize {
			return nil, pkg.ErrBufferTooSmall
		}
		zoom := int32(binary.LittleEndian.Uint16(data))
		if zoom < ZoomMin || zoom > ZoomMax {
			return nil, fmt.Errorf("zoom %d: %w", zoom, pkg.ErrInvalidParameter)
		}
		f.ptz.ModifyZoom(zoom)
		return nil, nil
	default:
		return nil, pkg.ErrInvalidRequest
	}
	binary.LittleEndian.PutUint16(buf, uint16(value))
	return buf, nil
}

func (f *Function) panTiltRequest(request uint8, data []byte) ([]byte, error) {
	buf := make([]byte, panTiltControlSize)
	var pan, tilt int32
	switch request {
	case RequestGetInfo:
		return []byte{InfoSupportsGet | InfoSupportsSet}, nil
	case RequestGetLen:
		binary.LittleEndian.PutUint16(buf, panTiltControlSize)
		return buf[:2], nil
	case RequestGetCur:
		pan, tilt = f.ptz.Pan(), f.ptz.Tilt()
	case RequestGetMin:
		pan, tilt = PanTiltMin, PanTiltMin
	case RequestGetMax:
		pan, tilt = PanTiltMax, PanTiltMax
	case RequestGetRes:
		pan, tilt = PTZResolution, PTZResolution
	case RequestGetDef:
		pan, tilt = PanTiltDef, PanTiltDef
	case RequestSetCur:
		if len(data) < panTiltControlSize {
			return nil, pkg.ErrBufferTooSmall
		}
		pan = int32(binary.LittleEndian.Uint32(data[0:4]))
		tilt = int32(binary.LittleEndian.Uint32(data[4:8]))
		if pan < PanTiltMin || pan > PanTiltMax || tilt < PanTiltMin || tilt > PanTiltMax {
			return nil, fmt.Errorf("pan %d tilt %d: %w", pan, tilt, pkg.ErrInvalidParameter)
		}
		if pan != f.ptz.Pan() {
			f.ptz.ModifyPan(pan)
		}
		if tilt != f.ptz.Tilt() {
			f.ptz.ModifyTilt(tilt)
		}
		return nil, nil
	default:
		return nil, pkg.ErrInvalidRequest
	}
	binary.LittleEndian.PutUint32(buf[0:4], uint32(pan))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(tilt))
	return buf, nil
}

// videoStreamRequest answers PROBE and COMMIT. SET_CUR on COMMIT starts
// the stream.
func (f *Function) videoStreamRequest(setup *device.SetupPacket, data []byte) ([]byte, error) {
	if setup.InterfaceNumber() != InterfaceStream {
		return nil, fmt.Errorf("interface %d: %w", setup.InterfaceNumber(), pkg.ErrInvalidRequest)
	}
	selector := uint8(setup.Value >> 8)
	speed := f.linkSpeed()

	if setup.Request == RequestSetCur {
		if err := f.probes.Set(selector, speed, data); err != nil {
			return nil, err
		}
		if selector == VSCommitControl {
			committed := f.probes.Current(speed)
			pkg.LogInfo(pkg.ComponentControl, "commit",
				"interval", committed.FrameInterval,
				"fps", committed.FramesPerSecond())
			f.events.Set(EventStream)
		}
		return nil, nil
	}

	buf := make([]byte, ProbeControlSize)
	n, err := f.probes.Get(selector, setup.Request, speed, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// vendorRequest answers the register pass-through and analyser requests.
func (f *Function) vendorRequest(setup *device.SetupPacket, data []byte) ([]byte, error) {
	hi, lo := uint8(setup.Value>>8), uint8(setup.Value)

	switch setup.Request {
	case VendorRequestFocus:
		if f.sensor == nil || len(data) == 0 {
			return nil, nil
		}
		if err := f.sensor.Focus(int(data[0])); err != nil {
			pkg.LogWarn(pkg.ComponentControl, "focus failed",
				"error", err)
		}
		return nil, nil

	case VendorRequestI2CRead:
		if f.sensor == nil {
			return nil, pkg.ErrNotSupported
		}
		value, err := f.sensor.ReadRegister(hi, lo)
		if err != nil {
			return nil, fmt.Errorf("read register 0x%02X%02X: %w", hi, lo, err)
		}
		return value[:], nil

	case VendorRequestI2CWrite:
		if f.sensor == nil {
			return nil, pkg.ErrNotSupported
		}
		if len(data) < 2 {
			return nil, pkg.ErrBufferTooSmall
		}
		if err := f.sensor.WriteRegister(hi, lo, data[0], data[1]); err != nil {
			return nil, fmt.Errorf("write register 0x%02X%02X: %w", hi, lo, err)
		}
		return nil, nil

	case VendorRequestStartAnalyser:
		if f.session.Started() {
			f.stopStreaming()
			f.abort()
		}
		if _, err := f.pipeline.Ensure(ModeAnalyser); err != nil {
			return nil, err
		}
		f.events.Set(EventStream)
		return nil, nil
	}

	f.display.Line3("vendor", int(setup.Request))
	return nil, fmt.Errorf("vendor request 0x%02X: %w", setup.Request, pkg.ErrInvalidRequest)
}
