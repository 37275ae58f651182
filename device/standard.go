package device

import (
	"encoding/binary"

	"github.com/ardnew/fx3uvc/pkg"
)

// MaxDescriptorResponseSize bounds every standard response, including the
// full configuration descriptor with its class-specific blocks.
const MaxDescriptorResponseSize = 1024

// SuperSpeed-only standard requests and device features.
const (
	RequestSetSel              = 0x30
	RequestSetIsochronousDelay = 0x31

	FeatureU1Enable  = 48
	FeatureU2Enable  = 49
	FeatureLTMEnable = 50
)

// StandardRequestHandler handles standard USB device requests.
type StandardRequestHandler struct {
	device *Device

	// The slice returned by HandleSetup aliases this buffer.
	responseBuf [MaxDescriptorResponseSize]byte
}

// NewStandardRequestHandler creates a new standard request handler.
func NewStandardRequestHandler(dev *Device) *StandardRequestHandler {
	return &StandardRequestHandler{device: dev}
}

// HandleSetup processes a standard SETUP request. data holds the OUT data
// stage, if any.
func (h *StandardRequestHandler) HandleSetup(setup *SetupPacket, data []byte) ([]byte, error) {
	if !setup.IsStandard() {
		return nil, pkg.ErrInvalidRequest
	}

	switch setup.Recipient() {
	case RequestRecipientDevice:
		return h.handleDeviceRequest(setup, data)
	case RequestRecipientInterface:
		return h.handleInterfaceRequest(setup)
	case RequestRecipientEndpoint:
		return h.handleEndpointRequest(setup)
	default:
		return nil, pkg.ErrInvalidRequest
	}
}

func (h *StandardRequestHandler) handleDeviceRequest(setup *SetupPacket, data []byte) ([]byte, error) {
	switch setup.Request {
	case RequestGetStatus:
		return h.getDeviceStatus(setup)
	case RequestClearFeature:
		return h.setDeviceFeature(setup, false)
	case RequestSetFeature:
		return h.setDeviceFeature(setup, true)
	case RequestSetAddress:
		return h.setAddress(setup)
	case RequestGetDescriptor:
		return h.getDescriptor(setup)
	case RequestSetDescriptor:
		return nil, pkg.ErrNotSupported
	case RequestGetConfiguration:
		return h.getConfiguration()
	case RequestSetConfiguration:
		return h.setConfiguration(setup)
	case RequestSetSel:
		// Exit latencies are accepted and ignored.
		if len(data) < 6 {
			return nil, pkg.ErrInvalidRequest
		}
		return nil, nil
	case RequestSetIsochronousDelay:
		return nil, nil
	default:
		return nil, pkg.ErrInvalidRequest
	}
}

func (h *StandardRequestHandler) handleInterfaceRequest(setup *SetupPacket) ([]byte, error) {
	switch setup.Request {
	case RequestGetStatus:
		return h.getInterfaceStatus(setup)
	case RequestClearFeature, RequestSetFeature:
		// Function suspend is accepted without effect.
		return nil, nil
	case RequestGetInterface:
		return h.getInterface(setup)
	case RequestSetInterface:
		return h.setInterface(setup)
	default:
		return nil, pkg.ErrInvalidRequest
	}
}

func (h *StandardRequestHandler) handleEndpointRequest(setup *SetupPacket) ([]byte, error) {
	switch setup.Request {
	case RequestGetStatus:
		return h.getEndpointStatus(setup)
	case RequestClearFeature:
		return h.clearEndpointFeature(setup)
	case RequestSetFeature:
		return h.setEndpointFeature(setup)
	case RequestSynchFrame:
		// No isochronous endpoints.
		return nil, pkg.ErrNotSupported
	default:
		return nil, pkg.ErrInvalidRequest
	}
}

func (h *StandardRequestHandler) getDeviceStatus(setup *SetupPacket) ([]byte, error) {
	if setup.Length < 2 {
		return nil, pkg.ErrInvalidRequest
	}
	status := h.device.GetStatus()
	binary.LittleEndian.PutUint16(h.responseBuf[:2], uint16(status))
	return h.responseBuf[:2], nil
}

func (h *StandardRequestHandler) setDeviceFeature(setup *SetupPacket, enable bool) ([]byte, error) {
	switch setup.Value {
	case FeatureDeviceRemoteWakeup:
		h.device.EnableRemoteWakeup(enable)
		return nil, nil
	case FeatureU1Enable, FeatureU2Enable, FeatureLTMEnable:
		if h.device.Speed() != SpeedSuper {
			return nil, pkg.ErrInvalidRequest
		}
		return nil, nil
	case FeatureTestMode:
		return nil, pkg.ErrNotSupported
	default:
		return nil, pkg.ErrInvalidRequest
	}
}

func (h *StandardRequestHandler) setAddress(setup *SetupPacket) ([]byte, error) {
	if err := h.device.SetAddress(uint8(setup.Value & 0x7F)); err != nil {
		return nil, err
	}
	return nil, nil
}

// getDescriptor serves device, configuration, string, qualifier and BOS
// descriptors, shaped for the current link speed.
func (h *StandardRequestHandler) getDescriptor(setup *SetupPacket) ([]byte, error) {
	speed := h.device.Speed()
	descIndex := setup.DescriptorIndex()

	var n int
	switch setup.DescriptorType() {
	case DescriptorTypeDevice:
		desc := h.device.Descriptor.ForSpeed(speed)
		n = desc.MarshalTo(h.responseBuf[:])

	case DescriptorTypeConfiguration:
		config := h.device.GetConfiguration(descIndex + 1)
		if config == nil {
			return nil, pkg.ErrInvalidRequest
		}
		n = config.MarshalSpeedTo(h.responseBuf[:], speed)

	case DescriptorTypeString:
		data := h.device.GetString(descIndex)
		if data == nil {
			return nil, pkg.ErrInvalidRequest
		}
		n = copy(h.responseBuf[:], data)

	case DescriptorTypeDeviceQualifier:
		n = h.deviceQualifierTo(h.responseBuf[:], speed)
		if n == 0 {
			return nil, pkg.ErrInvalidRequest
		}

	case DescriptorTypeBOS:
		if speed != SpeedSuper && h.device.Descriptor.USBVersion < 0x0201 {
			return nil, pkg.ErrInvalidRequest
		}
		n = BOSDescriptorTo(h.responseBuf[:])

	case DescriptorTypeOtherSpeedConfig:
		return nil, pkg.ErrNotSupported

	default:
		return nil, pkg.ErrInvalidRequest
	}

	if n == 0 {
		return nil, pkg.ErrBufferTooSmall
	}
	if n > int(setup.Length) {
		n = int(setup.Length)
	}
	return h.responseBuf[:n], nil
}

// deviceQualifierTo writes the device qualifier. It only exists on USB 2.0
// links; a SuperSpeed device must reject the request.
func (h *StandardRequestHandler) deviceQualifierTo(buf []byte, speed Speed) int {
	if speed == SpeedSuper || len(buf) < 10 {
		return 0
	}
	desc := h.device.Descriptor.ForSpeed(speed)
	buf[0] = 10
	buf[1] = DescriptorTypeDeviceQualifier
	binary.LittleEndian.PutUint16(buf[2:4], desc.USBVersion)
	buf[4] = desc.DeviceClass
	buf[5] = desc.DeviceSubClass
	buf[6] = desc.DeviceProtocol
	buf[7] = desc.MaxPacketSize0
	buf[8] = desc.NumConfigurations
	buf[9] = 0
	return 10
}

func (h *StandardRequestHandler) getConfiguration() ([]byte, error) {
	config := h.device.ActiveConfiguration()
	if config == nil {
		h.responseBuf[0] = 0
	} else {
		h.responseBuf[0] = config.Value
	}
	return h.responseBuf[:1], nil
}

func (h *StandardRequestHandler) setConfiguration(setup *SetupPacket) ([]byte, error) {
	if err := h.device.SetConfiguration(uint8(setup.Value & 0xFF)); err != nil {
		return nil, err
	}
	return nil, nil
}

func (h *StandardRequestHandler) getInterfaceStatus(setup *SetupPacket) ([]byte, error) {
	if setup.Length < 2 {
		return nil, pkg.ErrInvalidRequest
	}
	if h.device.GetInterface(setup.InterfaceNumber()) == nil {
		return nil, pkg.ErrInvalidRequest
	}
	h.responseBuf[0], h.responseBuf[1] = 0, 0
	return h.responseBuf[:2], nil
}

func (h *StandardRequestHandler) getInterface(setup *SetupPacket) ([]byte, error) {
	iface := h.device.GetInterface(setup.InterfaceNumber())
	if iface == nil {
		return nil, pkg.ErrInvalidRequest
	}
	h.responseBuf[0] = iface.AlternateSetting
	return h.responseBuf[:1], nil
}

func (h *StandardRequestHandler) setInterface(setup *SetupPacket) ([]byte, error) {
	iface := h.device.GetInterface(setup.InterfaceNumber())
	if iface == nil {
		return nil, pkg.ErrInvalidRequest
	}
	if err := iface.SetAlternate(uint8(setup.Value & 0xFF)); err != nil {
		return nil, err
	}
	return nil, nil
}

func (h *StandardRequestHandler) getEndpointStatus(setup *SetupPacket) ([]byte, error) {
	if setup.Length < 2 {
		return nil, pkg.ErrInvalidRequest
	}

	var status uint16
	if addr := setup.EndpointAddress(); addr&0x0F != 0 {
		ep := h.device.GetEndpoint(addr)
		if ep == nil {
			return nil, pkg.ErrInvalidEndpoint
		}
		if ep.IsStalled() {
			status = 1
		}
	}
	binary.LittleEndian.PutUint16(h.responseBuf[:2], status)
	return h.responseBuf[:2], nil
}

// clearEndpointFeature handles CLEAR_FEATURE(ENDPOINT_HALT). The device's
// clear-halt hook runs before the status stage completes.
func (h *StandardRequestHandler) clearEndpointFeature(setup *SetupPacket) ([]byte, error) {
	if setup.Value != FeatureEndpointHalt {
		return nil, pkg.ErrInvalidRequest
	}
	addr := setup.EndpointAddress()
	if addr&0x0F == 0 {
		return nil, nil
	}
	if err := h.device.clearHalt(addr); err != nil {
		return nil, err
	}
	return nil, nil
}

func (h *StandardRequestHandler) setEndpointFeature(setup *SetupPacket) ([]byte, error) {
	if setup.Value != FeatureEndpointHalt {
		return nil, pkg.ErrInvalidRequest
	}
	ep := h.device.GetEndpoint(setup.EndpointAddress())
	if ep == nil {
		return nil, pkg.ErrInvalidEndpoint
	}
	ep.SetStall(true)
	return nil, nil
}
