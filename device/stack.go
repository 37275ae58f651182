package device

import (
	"context"
	"errors"
	"sync"

	"github.com/ardnew/fx3uvc/device/hal"
	"github.com/ardnew/fx3uvc/pkg"
)

// MaxControlDataSize is the largest OUT data stage the stack buffers.
const MaxControlDataSize = 512

// VendorHandler processes a vendor request addressed to the device. data
// holds the OUT data stage; the returned bytes form the IN data stage. A
// non-nil error stalls EP0.
type VendorHandler func(setup *SetupPacket, data []byte) ([]byte, error)

// Stack runs the control pipe of a Device over a hal.DeviceHAL.
type Stack struct {
	device  *Device
	hal     hal.DeviceHAL
	handler *StandardRequestHandler

	running bool
	mutex   sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// Reusable setup packet for zero-allocation reads
	setupBuf hal.SetupPacket

	// EP0 read buffer for control OUT data stage
	ep0ReadBuf [MaxControlDataSize]byte

	vendor       VendorHandler
	onConnect    func()
	onDisconnect func()
}

// halSpeedToDeviceSpeed converts hal.Speed to device.Speed.
func halSpeedToDeviceSpeed(s hal.Speed) Speed {
	switch s {
	case hal.SpeedLow:
		return SpeedLow
	case hal.SpeedHigh:
		return SpeedHigh
	case hal.SpeedSuper:
		return SpeedSuper
	default:
		return SpeedFull
	}
}

// NewStack creates a new device stack.
func NewStack(dev *Device, h hal.DeviceHAL) *Stack {
	return &Stack{
		device:  dev,
		hal:     h,
		handler: NewStandardRequestHandler(dev),
	}
}

// Start initializes the HAL and starts the control loop.
func (s *Stack) Start(ctx context.Context) error {
	s.mutex.Lock()
	if s.running {
		s.mutex.Unlock()
		return pkg.ErrAlreadyRunning
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mutex.Unlock()

	if err := s.hal.Init(s.ctx); err != nil {
		return err
	}
	if err := s.hal.Start(); err != nil {
		return err
	}

	s.mutex.Lock()
	s.running = true
	s.done = make(chan struct{})
	s.mutex.Unlock()

	s.device.SetSpeed(s.Speed())
	pkg.LogDebug(pkg.ComponentStack, "device stack started")

	go s.controlLoop()
	return nil
}

// Stop stops the control loop and the HAL.
func (s *Stack) Stop() error {
	s.mutex.Lock()
	if !s.running {
		s.mutex.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	done := s.done
	s.mutex.Unlock()

	if err := s.hal.Stop(); err != nil {
		return err
	}
	<-done

	pkg.LogDebug(pkg.ComponentStack, "device stack stopped")
	return nil
}

// IsRunning returns true if the stack is running.
func (s *Stack) IsRunning() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.running
}

// Device returns the underlying device.
func (s *Stack) Device() *Device {
	return s.device
}

// controlLoop handles control transfers and bus events on EP0.
func (s *Stack) controlLoop() {
	defer close(s.done)

	for {
		if s.ctx.Err() != nil {
			return
		}

		if err := s.hal.ReadSetup(s.ctx, &s.setupBuf); err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.handleBusError(err)
			continue
		}

		var setup SetupPacket
		setup.RequestType = s.setupBuf.RequestType
		setup.Request = s.setupBuf.Request
		setup.Value = s.setupBuf.Value
		setup.Index = s.setupBuf.Index
		setup.Length = s.setupBuf.Length

		if err := s.handleSetup(&setup); err != nil {
			pkg.LogDebug(pkg.ComponentStack, "stalling request",
				"error", err,
				"request", setup.String())
			if stallErr := s.hal.StallEP0(); stallErr != nil {
				pkg.LogWarn(pkg.ComponentStack, "failed to stall EP0",
					"error", stallErr)
			}
		}
	}
}

// handleBusError maps a ReadSetup failure to a bus event.
func (s *Stack) handleBusError(err error) {
	switch {
	case errors.Is(err, pkg.ErrReset):
		s.device.SetSpeed(s.Speed())
		s.device.Reset()
		pkg.LogInfo(pkg.ComponentStack, "bus reset",
			"speed", s.device.Speed().String())

	case errors.Is(err, pkg.ErrSuspended):
		s.device.Suspend()

	case errors.Is(err, pkg.ErrNoDevice):
		s.device.Disconnect()
		s.mutex.RLock()
		cb := s.onDisconnect
		s.mutex.RUnlock()
		if cb != nil {
			cb()
		}

	default:
		pkg.LogWarn(pkg.ComponentStack, "error reading setup",
			"error", err)
	}
}

// handleSetup processes a single SETUP transaction.
func (s *Stack) handleSetup(setup *SetupPacket) error {
	pkg.LogDebug(pkg.ComponentStack, "setup received",
		"request", setup.String())

	if s.device.State() == StateSuspended {
		s.device.Resume()
	}

	var data []byte
	if !setup.IsDeviceToHost() && setup.Length > 0 {
		n := int(setup.Length)
		if n > MaxControlDataSize {
			return pkg.ErrBufferTooSmall
		}
		read, err := s.hal.ReadEP0(s.ctx, s.ep0ReadBuf[:n])
		if err != nil {
			return err
		}
		data = s.ep0ReadBuf[:read]
	}

	switch {
	case setup.IsStandard():
		response, err := s.handler.HandleSetup(setup, data)
		if err != nil {
			return err
		}
		return s.completeSetup(setup, response)

	case setup.IsClass() && setup.IsInterfaceRecipient():
		iface := s.device.GetInterface(setup.InterfaceNumber())
		if iface == nil {
			return pkg.ErrInvalidRequest
		}
		response, handled, err := iface.HandleSetup(setup, data)
		if err != nil {
			return err
		}
		if !handled {
			return pkg.ErrInvalidRequest
		}
		return s.completeSetup(setup, response)

	case setup.IsVendor():
		s.mutex.RLock()
		vendor := s.vendor
		s.mutex.RUnlock()
		if vendor == nil {
			return pkg.ErrInvalidRequest
		}
		response, err := vendor(setup, data)
		if err != nil {
			return err
		}
		return s.completeSetup(setup, response)
	}

	return pkg.ErrInvalidRequest
}

// completeSetup sends the IN data stage or acknowledges an OUT request.
func (s *Stack) completeSetup(setup *SetupPacket, data []byte) error {
	if setup.IsDeviceToHost() {
		if len(data) > int(setup.Length) {
			data = data[:setup.Length]
		}
		if err := s.hal.WriteEP0(s.ctx, data); err != nil {
			return err
		}
		// Status stage (zero-length OUT)
		_, err := s.hal.ReadEP0(s.ctx, s.ep0ReadBuf[:0])
		return err
	}
	return s.hal.AckEP0()
}

// SetVendorHandler installs the handler for vendor requests.
func (s *Stack) SetVendorHandler(h VendorHandler) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.vendor = h
}

// SetOnConnect sets the connect callback.
func (s *Stack) SetOnConnect(cb func()) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.onConnect = cb
}

// SetOnDisconnect sets the disconnect callback.
func (s *Stack) SetOnDisconnect(cb func()) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.onDisconnect = cb
}

// Speed returns the negotiated USB connection speed.
func (s *Stack) Speed() Speed {
	return halSpeedToDeviceSpeed(s.hal.GetSpeed())
}

// IsConnected returns true if the device is connected to a host.
func (s *Stack) IsConnected() bool {
	return s.hal.IsConnected()
}

// WaitConnect blocks until the device connects to a host or the context is
// cancelled, then runs the connect callback.
func (s *Stack) WaitConnect(ctx context.Context) error {
	if err := s.hal.WaitConnect(ctx); err != nil {
		return err
	}
	s.device.SetSpeed(s.Speed())
	s.mutex.RLock()
	cb := s.onConnect
	s.mutex.RUnlock()
	if cb != nil {
		cb()
	}
	return nil
}

// WaitDisconnect blocks until the device disconnects or the context is cancelled.
func (s *Stack) WaitDisconnect(ctx context.Context) error {
	return s.hal.WaitDisconnect(ctx)
}

// ConfigureEndpoints programs the controller with every endpoint of the
// configuration at the current link speed.
func (s *Stack) ConfigureEndpoints(config *Configuration) error {
	speed := s.device.Speed()
	var cfgs []hal.EndpointConfig
	for _, iface := range config.Interfaces() {
		for _, ep := range iface.Endpoints() {
			cfgs = append(cfgs, hal.EndpointConfig{
				Address:       ep.Address,
				Attributes:    ep.Attributes,
				MaxPacketSize: ep.PacketSize(speed),
				Interval:      ep.Interval,
			})
		}
	}
	return s.hal.ConfigureEndpoints(cfgs)
}

// Read performs a blocking read on an OUT endpoint.
func (s *Stack) Read(ctx context.Context, address uint8, buf []byte) (int, error) {
	if !s.device.IsConfigured() {
		return 0, pkg.ErrNotConfigured
	}
	return s.hal.Read(ctx, address, buf)
}

// Write performs a blocking write on an IN endpoint.
func (s *Stack) Write(ctx context.Context, address uint8, data []byte) (int, error) {
	if !s.device.IsConfigured() {
		return 0, pkg.ErrNotConfigured
	}
	n, err := s.hal.Write(ctx, address, data)
	if err == nil {
		if ep := s.device.GetEndpoint(address); ep != nil {
			ep.ToggleData()
		}
	}
	return n, err
}

// SetNAK makes the controller NAK (or stop NAKing) an endpoint.
func (s *Stack) SetNAK(address uint8, nak bool) error {
	return s.hal.SetNAK(address, nak)
}

// Flush discards data queued on an endpoint.
func (s *Stack) Flush(address uint8) error {
	return s.hal.FlushEndpoint(address)
}

// Stall halts a data endpoint.
func (s *Stack) Stall(address uint8) error {
	if ep := s.device.GetEndpoint(address); ep != nil {
		ep.SetStall(true)
	}
	return s.hal.Stall(address)
}

// ClearStall clears a halted data endpoint.
func (s *Stack) ClearStall(address uint8) error {
	if ep := s.device.GetEndpoint(address); ep != nil {
		ep.SetStall(false)
	}
	return s.hal.ClearStall(address)
}
