package uvc

import (
	"encoding/binary"
)

// UVCVersion is the bcdUVC release number.
const UVCVersion = 0x0100

// Class-specific descriptor sizes.
const (
	vcHeaderSize          = 13 // one streaming interface
	cameraTerminalSize    = 18
	processingUnitSize    = 11
	extensionUnitSize     = 28
	outputTerminalSize    = 9
	vsInputHeaderSize     = 14 // one format, one control byte
	formatUncompressedLen = 27
	colorMatchingSize     = 6
	frameFixedSize        = 26
)

// Camera terminal bmControls bits.
const (
	ctControlZoomAbsolute    = 1 << 9
	ctControlPanTiltAbsolute = 1 << 11
)

// GUIDYUY2 is the uncompressed YUY2 format GUID.
var GUIDYUY2 = [16]byte{
	'Y', 'U', 'Y', '2', 0x00, 0x00, 0x10, 0x00,
	0x80, 0x00, 0x00, 0xAA, 0x00, 0x38, 0x9B, 0x71,
}

// GUIDExtension identifies the vendor extension unit.
var GUIDExtension = [16]byte{
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
}

// FrameFormat describes the single uncompressed frame the function offers.
type FrameFormat struct {
	Width         uint16
	Height        uint16
	BitsPerPixel  uint8
	Intervals     []uint32 // 100 ns units; the first is the default
	MaxFrameBytes uint32
}

// FrameSize returns the bytes in one frame.
func (f *FrameFormat) FrameSize() uint32 {
	return uint32(f.Width) * uint32(f.Height) * uint32(f.BitsPerPixel) / 8
}

// bitRate returns the bit rate at interval.
func (f *FrameFormat) bitRate(interval uint32) uint32 {
	if interval == 0 {
		return 0
	}
	return uint32(uint64(f.FrameSize()) * 8 * 10_000_000 / uint64(interval))
}

// ControlDescriptors returns the class-specific descriptors of the video
// control interface: header, camera terminal, processing unit, extension
// unit and output terminal, chained in that order.
func ControlDescriptors() []byte {
	total := vcHeaderSize + cameraTerminalSize + processingUnitSize +
		extensionUnitSize + outputTerminalSize
	buf := make([]byte, 0, total)

	buf = append(buf, vcHeaderSize, DescriptorTypeCSInterface, VCHeader)
	buf = binary.LittleEndian.AppendUint16(buf, UVCVersion)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(total))
	buf = binary.LittleEndian.AppendUint32(buf, DeviceClockFrequency)
	buf = append(buf, 1, InterfaceStream)

	buf = append(buf, cameraTerminalSize, DescriptorTypeCSInterface, VCInputTerminal,
		EntityCameraTerminal)
	buf = binary.LittleEndian.AppendUint16(buf, TerminalCamera)
	buf = append(buf, 0, 0) // bAssocTerminal, iTerminal
	buf = binary.LittleEndian.AppendUint16(buf, 0)
	buf = binary.LittleEndian.AppendUint16(buf, 0)
	buf = binary.LittleEndian.AppendUint16(buf, 0)
	controls := uint32(ctControlZoomAbsolute | ctControlPanTiltAbsolute)
	buf = append(buf, 3, byte(controls), byte(controls>>8), byte(controls>>16))

	buf = append(buf, processingUnitSize, DescriptorTypeCSInterface, VCProcessingUnit,
		EntityProcessingUnit, EntityCameraTerminal)
	buf = binary.LittleEndian.AppendUint16(buf, 0) // wMaxMultiplier
	buf = append(buf, 2, 0, 0, 0)

	buf = append(buf, extensionUnitSize, DescriptorTypeCSInterface, VCExtensionUnit,
		EntityExtensionUnit)
	buf = append(buf, GUIDExtension[:]...)
	buf = append(buf, 0, 1, EntityProcessingUnit, 3, 0, 0, 0, 0)

	buf = append(buf, outputTerminalSize, DescriptorTypeCSInterface, VCOutputTerminal,
		EntityOutputTerminal)
	buf = binary.LittleEndian.AppendUint16(buf, TerminalStreaming)
	buf = append(buf, 0, EntityExtensionUnit, 0)
	return buf
}

// StreamDescriptors returns the class-specific descriptors of the video
// streaming interface: input header, uncompressed format, its one frame
// and the color matching descriptor.
func StreamDescriptors(format FrameFormat) []byte {
	frameSize := frameFixedSize + 4*len(format.Intervals)
	total := vsInputHeaderSize + formatUncompressedLen + frameSize + colorMatchingSize
	buf := make([]byte, 0, total)

	buf = append(buf, vsInputHeaderSize, DescriptorTypeCSInterface, VSInputHeader, 1)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(total))
	buf = append(buf, EndpointVideo, 0, EntityOutputTerminal, 0, 0, 0, 1, 0)

	buf = append(buf, formatUncompressedLen, DescriptorTypeCSInterface, VSFormatUncompressed,
		1, 1)
	buf = append(buf, GUIDYUY2[:]...)
	buf = append(buf, format.BitsPerPixel, 1, 0, 0, 0, 0)

	var def uint32
	if len(format.Intervals) > 0 {
		def = format.Intervals[0]
	}
	maxBytes := format.MaxFrameBytes
	if maxBytes == 0 {
		maxBytes = format.FrameSize()
	}
	buf = append(buf, byte(frameSize), DescriptorTypeCSInterface, VSFrameUncompressed, 1, 0)
	buf = binary.LittleEndian.AppendUint16(buf, format.Width)
	buf = binary.LittleEndian.AppendUint16(buf, format.Height)
	buf = binary.LittleEndian.AppendUint32(buf, format.bitRate(slowest(format.Intervals)))
	buf = binary.LittleEndian.AppendUint32(buf, format.bitRate(fastest(format.Intervals)))
	buf = binary.LittleEndian.AppendUint32(buf, maxBytes)
	buf = binary.LittleEndian.AppendUint32(buf, def)
	buf = append(buf, byte(len(format.Intervals)))
	for _, interval := range format.Intervals {
		buf = binary.LittleEndian.AppendUint32(buf, interval)
	}

	buf = append(buf, colorMatchingSize, DescriptorTypeCSInterface, VSColorFormat, 1, 1, 4)
	return buf
}

func slowest(intervals []uint32) uint32 {
	var v uint32
	for _, i := range intervals {
		v = max(v, i)
	}
	return v
}

func fastest(intervals []uint32) uint32 {
	var v uint32
	for n, i := range intervals {
		if n == 0 || i < v {
			v = i
		}
	}
	return v
}
