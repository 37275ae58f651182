package hal

import (
	"context"
)

// Speed is the negotiated bus speed.
type Speed uint8

// Bus speeds.
const (
	SpeedUnknown Speed = iota
	SpeedLow           // 1.5 Mbit/s
	SpeedFull          // 12 Mbit/s
	SpeedHigh          // 480 Mbit/s
	SpeedSuper         // 5 Gbit/s
)

var speedNames = [...]string{
	SpeedUnknown: "Unknown",
	SpeedLow:     "Low Speed",
	SpeedFull:    "Full Speed",
	SpeedHigh:    "High Speed",
	SpeedSuper:   "SuperSpeed",
}

func (s Speed) String() string {
	if int(s) < len(speedNames) {
		return speedNames[s]
	}
	return speedNames[SpeedUnknown]
}

// EndpointConfig is what the controller needs to arm one data endpoint.
type EndpointConfig struct {
	Address       uint8 // bit 7 set for IN
	Attributes    uint8 // bits 1:0 are the transfer type
	MaxPacketSize uint16
	Interval      uint8
}

// Number returns the endpoint number without the direction bit.
func (e *EndpointConfig) Number() uint8 { return e.Address & 0x0F }

// TransferType returns bits 1:0 of the attributes.
func (e *EndpointConfig) TransferType() uint8 { return e.Attributes & 0x03 }

// SetupPacket is the 8-byte SETUP stage as seen by the controller.
type SetupPacket struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
}

// ControlPipe is endpoint zero.
type ControlPipe interface {
	// ReadSetup blocks for the next SETUP packet. Bus events are returned
	// as errors: pkg.ErrReset, pkg.ErrSuspended and pkg.ErrNoDevice.
	ReadSetup(ctx context.Context, out *SetupPacket) error

	// WriteEP0 sends the IN data stage.
	WriteEP0(ctx context.Context, data []byte) error

	// ReadEP0 receives the OUT data stage into buf.
	ReadEP0(ctx context.Context, buf []byte) (int, error)

	// StallEP0 fails the current control transfer.
	StallEP0() error

	// AckEP0 completes the status stage with a zero-length packet.
	AckEP0() error
}

// DataPipes are the configured data endpoints.
type DataPipes interface {
	Read(ctx context.Context, address uint8, buf []byte) (int, error)
	Write(ctx context.Context, address uint8, data []byte) (int, error)
	Stall(address uint8) error
	ClearStall(address uint8) error

	// SetNAK makes the endpoint refuse (or accept again) host tokens.
	SetNAK(address uint8, nak bool) error

	// FlushEndpoint drops whatever is queued on the endpoint.
	FlushEndpoint(address uint8) error
}

// DeviceHAL is a USB device controller.
//
// Implementations must be safe for concurrent use. The video path writes,
// flushes and NAKs the streaming endpoint while the control loop is blocked
// in ReadSetup.
type DeviceHAL interface {
	ControlPipe
	DataPipes

	Init(ctx context.Context) error
	Start() error
	Stop() error

	// SetAddress latches the address assigned by SET_ADDRESS.
	SetAddress(address uint8) error

	// ConfigureEndpoints arms the endpoints of the selected configuration.
	// An empty list disarms all of them.
	ConfigureEndpoints(endpoints []EndpointConfig) error

	IsConnected() bool
	GetSpeed() Speed
	WaitConnect(ctx context.Context) error
	WaitDisconnect(ctx context.Context) error
}
