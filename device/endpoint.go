package device

import (
	"fmt"
	"sync"
)

// Endpoint transfer types.
const (
	EndpointTypeControl     = 0x00
	EndpointTypeIsochronous = 0x01
	EndpointTypeBulk        = 0x02
	EndpointTypeInterrupt   = 0x03
)

// Endpoint directions.
const (
	EndpointDirectionOut = 0x00 // Host to device
	EndpointDirectionIn  = 0x80 // Device to host
)

// Endpoint is a data endpoint of an interface.
type Endpoint struct {
	Address       uint8  // Endpoint address including direction
	Attributes    uint8  // Transfer type
	MaxPacketSize uint16 // Packet size at full/high speed; bulk endpoints grow at SuperSpeed
	Interval      uint8  // Polling interval for interrupt endpoints
	MaxBurst      uint8  // SuperSpeed burst size minus one

	stalled    bool
	dataToggle bool
	mutex      sync.Mutex
}

// Number returns the endpoint number (0-15).
func (e *Endpoint) Number() uint8 {
	return e.Address & 0x0F
}

// IsIn reports whether this is an IN endpoint.
func (e *Endpoint) IsIn() bool {
	return e.Address&EndpointDirectionIn != 0
}

// TransferType returns the transfer type bits.
func (e *Endpoint) TransferType() uint8 {
	return e.Attributes & 0x03
}

// IsBulk reports whether this is a bulk endpoint.
func (e *Endpoint) IsBulk() bool {
	return e.TransferType() == EndpointTypeBulk
}

// SetStall sets or clears the halt condition.
func (e *Endpoint) SetStall(stalled bool) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.stalled = stalled
	if !stalled {
		e.dataToggle = false
	}
}

// IsStalled reports whether the endpoint is halted.
func (e *Endpoint) IsStalled() bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.stalled
}

// ToggleData flips the DATA0/DATA1 toggle.
func (e *Endpoint) ToggleData() {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.dataToggle = !e.dataToggle
}

// DataToggle returns the current data toggle.
func (e *Endpoint) DataToggle() bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.dataToggle
}

// PacketSize returns the max packet size advertised at the given speed.
func (e *Endpoint) PacketSize(speed Speed) uint16 {
	if e.IsBulk() {
		if limit := speed.BulkMaxPacketSize(); speed >= SpeedHigh || e.MaxPacketSize > limit {
			return limit
		}
	}
	return e.MaxPacketSize
}

// Descriptor returns the endpoint descriptor for the given speed.
func (e *Endpoint) Descriptor(speed Speed) EndpointDescriptor {
	return EndpointDescriptor{
		EndpointAddress: e.Address,
		Attributes:      e.Attributes,
		MaxPacketSize:   e.PacketSize(speed),
		Interval:        e.Interval,
	}
}

// marshalTo writes the endpoint descriptor, followed by its SuperSpeed
// companion when speed is SpeedSuper.
func (e *Endpoint) marshalTo(buf []byte, speed Speed) int {
	desc := e.Descriptor(speed)
	n := desc.MarshalTo(buf)
	if n == 0 || speed != SpeedSuper {
		return n
	}
	var perInterval uint16
	if e.TransferType() == EndpointTypeInterrupt {
		perInterval = e.MaxPacketSize
	}
	m := ssCompanionTo(buf[n:], e.MaxBurst, perInterval)
	if m == 0 {
		return 0
	}
	return n + m
}

func (e *Endpoint) descriptorLength(speed Speed) int {
	if speed == SpeedSuper {
		return EndpointDescriptorSize + SSCompanionSize
	}
	return EndpointDescriptorSize
}

// TransferTypeName returns a human-readable transfer type name.
func TransferTypeName(t uint8) string {
	switch t {
	case EndpointTypeControl:
		return "Control"
	case EndpointTypeIsochronous:
		return "Isochronous"
	case EndpointTypeBulk:
		return "Bulk"
	case EndpointTypeInterrupt:
		return "Interrupt"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}
