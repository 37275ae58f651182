package uvc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ardnew/fx3uvc/device"
	"github.com/ardnew/fx3uvc/device/hal/capture"
	"github.com/ardnew/fx3uvc/pkg"
)

// Default timing.
const (
	DefaultRequestTimeout = 500 * time.Millisecond
	DefaultPollInterval   = 0
)

// Sensor is the image sensor behind the capture port.
type Sensor interface {
	ReadRegister(hi, lo uint8) ([2]byte, error)
	WriteRegister(hi, lo, hiData, loData uint8) error
	Button(pressed bool) error
	Focus(value int) error
}

// Display shows status text. Calls must not block.
type Display interface {
	Line1(text string)
	Line2(text string)
	Line3(text string, value int)
}

// PTZ holds the camera terminal's pan, tilt and zoom.
type PTZ interface {
	Zoom() int32
	Pan() int32
	Tilt() int32
	ModifyZoom(value int32)
	ModifyPan(value int32)
	ModifyTilt(value int32)
}

// USB is the part of the device stack the function drives. *device.Stack
// satisfies it.
type USB interface {
	Speed() device.Speed
	SetNAK(address uint8, nak bool) error
	Flush(address uint8) error
	ClearStall(address uint8) error
}

// Config describes the video function.
type Config struct {
	// Waveform is the GPIF state table loaded at the first stream start.
	Waveform *capture.Waveform

	// Format is the frame advertised in the streaming descriptors.
	Format FrameFormat

	// ProbeHighSpeed and ProbeSuperSpeed are the negotiation defaults.
	ProbeHighSpeed  ProbeControl
	ProbeSuperSpeed ProbeControl

	// RequestTimeout bounds how long a class or vendor request waits for
	// the control context.
	RequestTimeout time.Duration

	// PollInterval is how long the video context sleeps after a pass that
	// found nothing to do. Zero only yields.
	PollInterval time.Duration
}

// DefaultConfig returns a VGA YUY2 function with the standard probe blocks.
func DefaultConfig() Config {
	return Config{
		Waveform: &capture.Waveform{Name: "sync-16bit-fv"},
		Format: FrameFormat{
			Width:        640,
			Height:       480,
			BitsPerPixel: 16,
			Intervals: []uint32{
				DefaultProbeHighSpeed.FrameInterval,
				DefaultProbeSuperSpeed.FrameInterval,
			},
			MaxFrameBytes: DefaultProbeSuperSpeed.MaxVideoFrameSize,
		},
		ProbeHighSpeed:  DefaultProbeHighSpeed,
		ProbeSuperSpeed: DefaultProbeSuperSpeed,
		RequestTimeout:  DefaultRequestTimeout,
		PollInterval:    DefaultPollInterval,
	}
}

// Option configures optional collaborators of a Function.
type Option func(*Function)

// WithSensor sets the sensor used for register pass-through, focus and
// the button.
func WithSensor(s Sensor) Option {
	return func(f *Function) { f.sensor = s }
}

// WithDisplay sets the status display.
func WithDisplay(d Display) Option {
	return func(f *Function) {
		if d != nil {
			f.display = d
		}
	}
}

// WithPTZ sets the pan, tilt and zoom state answered for the camera
// terminal.
func WithPTZ(p PTZ) Option {
	return func(f *Function) { f.ptz = p }
}

// WithClock sets the clock behind payload timestamps and request timeouts.
func WithClock(c clockwork.Clock) Option {
	return func(f *Function) {
		if c != nil {
			f.clock = c
		}
	}
}

// Function is the UVC video function: the class driver of the control and
// streaming interfaces, the streaming session and its two contexts.
type Function struct {
	config Config
	clock  clockwork.Clock

	sensor  Sensor
	display Display
	ptz     PTZ

	events   EventGroup
	session  Session
	probes   *ProbeTable
	headers  *PayloadHeaders
	pipeline *Pipeline
	gpif     *GPIFAdapter

	controlIface *device.Interface
	streamIface  *device.Interface

	mutex        sync.Mutex
	usb          USB
	speed        device.Speed
	speedLatched bool
	pending      *controlRequest
	running      bool
}

var (
	_ device.ClassDriver     = (*Function)(nil)
	_ device.BusEventHandler = (*Function)(nil)
)

// New creates a video function over the capture hardware.
func New(g capture.GPIF, dma capture.DMA, cfg Config, opts ...Option) *Function {
	if cfg.Waveform == nil {
		cfg.Waveform = DefaultConfig().Waveform
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	f := &Function{
		config:  cfg,
		clock:   clockwork.NewRealClock(),
		display: nopDisplay{},
	}
	for _, opt := range opts {
		opt(f)
	}

	f.probes = NewProbeTable(cfg.ProbeHighSpeed, cfg.ProbeSuperSpeed)
	f.headers = NewPayloadHeaders(f.clock)
	f.pipeline = NewPipeline(dma, f.session.Consume, f.onPIBError)
	f.gpif = NewGPIFAdapter(g, cfg.Waveform)
	f.gpif.SetOnFrameValid(f.onFrameValid)
	return f
}

// ConfigureDevice adds the video function to the configuration being
// built: an interface association, the control interface with its status
// interrupt endpoint and the streaming interface with its bulk endpoint.
func (f *Function) ConfigureDevice(b *device.DeviceBuilder) *device.DeviceBuilder {
	var first uint8
	if config := b.Configuration(); config != nil {
		first = uint8(config.NumInterfaces())
	}
	b.AddAssociation(device.InterfaceAssociationDescriptor{
		FirstInterface:   first,
		InterfaceCount:   2,
		FunctionClass:    ClassVideo,
		FunctionSubClass: SubclassVideoInterfaceColl,
		FunctionProtocol: ProtocolUndefined,
	}).
		AddInterface(ClassVideo, SubclassVideoControl, ProtocolUndefined).
		WithClassDescriptors(ControlDescriptors()).
		AddEndpoint(&device.Endpoint{
			Address:       EndpointInterrupt,
			Attributes:    device.EndpointTypeInterrupt,
			MaxPacketSize: 64,
			Interval:      8,
		})
	f.bind(b.Interface())

	b.AddInterface(ClassVideo, SubclassVideoStreaming, ProtocolUndefined).
		WithClassDescriptors(StreamDescriptors(f.config.Format)).
		AddEndpoint(&device.Endpoint{
			Address:       EndpointVideo,
			Attributes:    device.EndpointTypeBulk,
			MaxPacketSize: 512,
			MaxBurst:      15,
		}).
		AddEndpoint(&device.Endpoint{
			Address:       EndpointAnalyser,
			Attributes:    device.EndpointTypeBulk,
			MaxPacketSize: 512,
			MaxBurst:      15,
		})
	f.bind(b.Interface())
	return b
}

func (f *Function) bind(iface *device.Interface) {
	if iface == nil {
		return
	}
	if err := iface.SetClassDriver(f); err != nil {
		pkg.LogWarn(pkg.ComponentUVC, "bind interface failed",
			"interface", iface.Number,
			"error", err)
	}
}

// Attach connects the function to a running stack: vendor requests, the
// streaming endpoint's clear halt hook and endpoint configuration on
// SET_CONFIGURATION.
func (f *Function) Attach(stack *device.Stack) {
	f.mutex.Lock()
	f.usb = stack
	f.mutex.Unlock()

	dev := stack.Device()
	stack.SetVendorHandler(f.HandleVendor)
	dev.SetOnClearHalt(f.HandleClearHalt)
	dev.SetOnSetConfiguration(func(value uint8) {
		if config := dev.ActiveConfiguration(); config != nil {
			if err := stack.ConfigureEndpoints(config); err != nil {
				pkg.LogError(pkg.ComponentUVC, "configure endpoints failed",
					"configuration", value,
					"error", err)
			}
		}
	})
}

// SetUSB sets the endpoint control used by the function without a stack.
func (f *Function) SetUSB(usb USB) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.usb = usb
}

func (f *Function) endpoints() USB {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.usb
}

// Init implements device.ClassDriver.
func (f *Function) Init(iface *device.Interface) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	switch iface.SubClass {
	case SubclassVideoControl:
		f.controlIface = iface
	case SubclassVideoStreaming:
		f.streamIface = iface
	default:
		return fmt.Errorf("interface subclass 0x%02X: %w", iface.SubClass, pkg.ErrNotSupported)
	}
	return nil
}

// HandleSetup implements device.ClassDriver. Requests are answered by the
// control context.
func (f *Function) HandleSetup(iface *device.Interface, setup *device.SetupPacket, data []byte) ([]byte, bool, error) {
	var kind Event
	switch iface.SubClass {
	case SubclassVideoControl:
		kind = EventVideoControl
	case SubclassVideoStreaming:
		kind = EventVideoStream
		f.switchToVideo()
	default:
		return nil, false, nil
	}
	response, err := f.deferRequest(kind, setup, data)
	return response, true, err
}

// HandleVendor answers a device vendor request through the control
// context. It is installed with device.Stack.SetVendorHandler.
func (f *Function) HandleVendor(setup *device.SetupPacket, data []byte) ([]byte, error) {
	return f.deferRequest(EventVendor, setup, data)
}

// SetAlternate implements device.ClassDriver.
func (f *Function) SetAlternate(iface *device.Interface, alt uint8) error {
	if alt != 0 {
		return pkg.ErrInvalidRequest
	}
	return nil
}

// Close implements device.ClassDriver.
func (f *Function) Close() error {
	return nil
}

// HandleClearHalt stops the stream when the host clears the video
// endpoint after it started draining it.
func (f *Function) HandleClearHalt(address uint8) {
	if address != EndpointVideo {
		return
	}
	if !f.session.Started() {
		return
	}
	f.display.Line2("clearFeature")
	f.stopStreaming()
	f.session.MarkClearFeature()
	f.abort()
}

// HandleBusEvent implements device.BusEventHandler. The capture machine is
// disabled before the video context is told to abort.
func (f *Function) HandleBusEvent(event device.BusEvent) {
	f.gpif.Disable()
	f.session.Stop()
	if event == device.BusEventDisconnect {
		f.mutex.Lock()
		f.speedLatched = false
		f.mutex.Unlock()
	}
	f.abort()
	if event == device.BusEventDisconnect {
		f.session.SetState(StateDisabled)
	}
	pkg.LogInfo(pkg.ComponentUVC, "bus event",
		"event", event.String())
}

// Button raises a button edge for the control context.
func (f *Function) Button(pressed bool) {
	if pressed {
		f.events.Set(EventButtonDown)
	} else {
		f.events.Set(EventButtonUp)
	}
}

// switchToVideo makes the video channel current. A running analyser
// stream is stopped and aborted before its channel is destroyed, and the
// host restarts streaming with COMMIT.
func (f *Function) switchToVideo() {
	if mode := f.pipeline.Mode(); mode != ModeNone && mode != ModeVideo &&
		f.session.State() == StateStreaming {
		pkg.LogInfo(pkg.ComponentUVC, "leaving analyser mode")
		f.stopStreaming()
		f.abort()
	}
	if _, err := f.pipeline.Ensure(ModeVideo); err != nil {
		pkg.LogWarn(pkg.ComponentUVC, "video channel unavailable",
			"error", err)
	}
}

// abort turns a raised stream event into an abort in one step.
func (f *Function) abort() {
	if f.events.Transfer(EventStream, EventAbort) {
		f.session.Transition(StateStreaming, StateAborting)
	}
}

// stopStreaming halts capture and drops everything queued on the current
// endpoint.
func (f *Function) stopStreaming() {
	f.session.Stop()
	f.gpif.Disable()

	ch, mode := f.pipeline.Current()
	ep := mode.Endpoint()
	usb := f.endpoints()
	if usb != nil {
		if err := usb.SetNAK(ep, true); err != nil {
			pkg.LogDebug(pkg.ComponentUVC, "nak endpoint failed",
				"endpoint", ep,
				"error", err)
		}
	}
	if ch != nil {
		if err := ch.Reset(); err != nil {
			pkg.LogDebug(pkg.ComponentUVC, "reset channel failed",
				"error", err)
		}
	}
	if usb != nil {
		if err := usb.Flush(ep); err != nil {
			pkg.LogDebug(pkg.ComponentUVC, "flush endpoint failed",
				"endpoint", ep,
				"error", err)
		}
		if err := usb.SetNAK(ep, false); err != nil {
			pkg.LogDebug(pkg.ComponentUVC, "release endpoint failed",
				"endpoint", ep,
				"error", err)
		}
		if err := usb.ClearStall(ep); err != nil {
			pkg.LogDebug(pkg.ComponentUVC, "clear stall failed",
				"endpoint", ep,
				"error", err)
		}
	}
	pkg.LogInfo(pkg.ComponentUVC, "streaming stopped",
		"endpoint", ep)
}

// onFrameValid handles the frame valid interrupt. A buffer left partially
// filled in a socket is recorded before it is wrapped up.
func (f *Function) onFrameValid(state uint8) {
	switch state {
	case capture.StatePartialInSocket0, capture.StatePartialInSocket1:
		f.session.MarkPartial()
		if ch := f.pipeline.Channel(); ch != nil {
			socket := capture.Socket(state - capture.StatePartialInSocket0)
			if err := ch.WrapUp(socket); err != nil {
				pkg.LogDebug(pkg.ComponentGPIF, "wrap up failed",
					"socket", socket,
					"error", err)
			}
		}
	}
	f.session.FrameValid()
}

// onPIBError records capture port errors. Backflow is shown once per
// frame.
func (f *Function) onPIBError(code uint16) {
	if !capture.IsBackflow(code) {
		pkg.LogDebug(pkg.ComponentCapture, "port error",
			"code", code)
		return
	}
	if f.session.Backflow() {
		f.display.Line2("pib err")
		pkg.LogWarn(pkg.ComponentCapture, "backflow",
			"code", code)
	}
}

// Run creates the video channel and runs the video and control contexts
// until ctx is done. It returns an error wrapping pkg.ErrFatalConfig when
// the capture hardware cannot be configured.
func (f *Function) Run(ctx context.Context) error {
	f.mutex.Lock()
	if f.running {
		f.mutex.Unlock()
		return pkg.ErrAlreadyRunning
	}
	f.running = true
	f.mutex.Unlock()
	defer func() {
		f.mutex.Lock()
		f.running = false
		f.mutex.Unlock()
	}()

	if _, err := f.pipeline.Ensure(ModeVideo); err != nil {
		f.session.SetState(StateFatal)
		pkg.LogError(pkg.ComponentUVC, "channel configuration failed",
			"error", err)
		return fmt.Errorf("%w: %w", pkg.ErrFatalConfig, err)
	}
	defer f.pipeline.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.runControl(ctx)
	}()

	err := f.runVideo(ctx)
	cancel()
	wg.Wait()

	if errors.Is(err, pkg.ErrFatalConfig) {
		pkg.LogError(pkg.ComponentUVC, "capture configuration failed",
			"error", err)
	}
	return err
}

// State returns the session state.
func (f *Function) State() State {
	return f.session.State()
}

// Stats returns a snapshot of the streaming counters.
func (f *Function) Stats() Stats {
	s := f.session.Stats()
	s.Mode = f.pipeline.Mode()
	return s
}

// Probe returns the active negotiation block for speed.
func (f *Function) Probe(speed device.Speed) ProbeControl {
	return f.probes.Current(speed)
}

type nopDisplay struct{}

func (nopDisplay) Line1(string)      {}
func (nopDisplay) Line2(string)      {}
func (nopDisplay) Line3(string, int) {}
