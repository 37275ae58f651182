package device

import "fmt"

// Fixed table sizes.
const (
	// MaxEndpointsPerInterface is the maximum number of endpoints per interface.
	MaxEndpointsPerInterface = 16

	// MaxInterfacesPerConfiguration is the maximum number of interfaces per configuration.
	MaxInterfacesPerConfiguration = 8

	// MaxConfigurations is the maximum number of configurations per device.
	MaxConfigurations = 4

	// MaxStrings is the maximum number of string descriptors per device.
	MaxStrings = 16
)

// Link speeds.
const (
	SpeedLow   Speed = 0 // 1.5 Mbps
	SpeedFull  Speed = 1 // 12 Mbps
	SpeedHigh  Speed = 2 // 480 Mbps
	SpeedSuper Speed = 3 // 5 Gbps
)

// Speed represents the negotiated USB link speed.
type Speed uint8

// String returns a human-readable speed description.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "Low Speed (1.5 Mbps)"
	case SpeedFull:
		return "Full Speed (12 Mbps)"
	case SpeedHigh:
		return "High Speed (480 Mbps)"
	case SpeedSuper:
		return "SuperSpeed (5 Gbps)"
	default:
		return fmt.Sprintf("Unknown Speed (%d)", s)
	}
}

// Generation returns the USB major version a link speed belongs to:
// 3 for SuperSpeed, 2 for High Speed, 1 for Full and Low Speed.
func (s Speed) Generation() int {
	switch s {
	case SpeedSuper:
		return 3
	case SpeedHigh:
		return 2
	case SpeedFull, SpeedLow:
		return 1
	default:
		return 0
	}
}

// MaxPacketSize0 returns the maximum packet size for endpoint 0 at this speed.
func (s Speed) MaxPacketSize0() uint16 {
	switch s {
	case SpeedFull, SpeedHigh:
		return 64
	case SpeedSuper:
		return 512
	default:
		return 8
	}
}

// BulkMaxPacketSize returns the largest bulk packet allowed at this speed.
func (s Speed) BulkMaxPacketSize() uint16 {
	switch s {
	case SpeedSuper:
		return 1024
	case SpeedHigh:
		return 512
	default:
		return 64
	}
}

// Device states (USB 2.0 section 9.1).
const (
	StateAttached   State = 0 // Attached but not powered
	StatePowered    State = 1 // Powered
	StateDefault    State = 2 // Reset, using the default address
	StateAddress    State = 3 // Assigned a unique address
	StateConfigured State = 4 // Configured and operational
	StateSuspended  State = 5 // Suspended
)

// State represents USB device state.
type State uint8

// String returns a human-readable state description.
func (s State) String() string {
	switch s {
	case StateAttached:
		return "Attached"
	case StatePowered:
		return "Powered"
	case StateDefault:
		return "Default"
	case StateAddress:
		return "Address"
	case StateConfigured:
		return "Configured"
	case StateSuspended:
		return "Suspended"
	default:
		return fmt.Sprintf("Unknown State (%d)", s)
	}
}
