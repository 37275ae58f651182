package uvc

import (
	"encoding/binary"
	"testing"
)

// walk splits class-specific descriptors by their length bytes.
func walk(t *testing.T, data []byte) [][]byte {
	t.Helper()
	var out [][]byte
	for len(data) > 0 {
		n := int(data[0])
		if n < 3 || n > len(data) {
			t.Fatalf("bad descriptor length %d with %d bytes left", n, len(data))
		}
		if data[1] != DescriptorTypeCSInterface {
			t.Errorf("descriptor type 0x%02X", data[1])
		}
		out = append(out, data[:n])
		data = data[n:]
	}
	return out
}

func TestControlDescriptors(t *testing.T) {
	data := ControlDescriptors()
	descs := walk(t, data)

	wantSubtypes := []byte{VCHeader, VCInputTerminal, VCProcessingUnit, VCExtensionUnit, VCOutputTerminal}
	if len(descs) != len(wantSubtypes) {
		t.Fatalf("got %d descriptors, want %d", len(descs), len(wantSubtypes))
	}
	for i, d := range descs {
		if d[2] != wantSubtypes[i] {
			t.Errorf("descriptor %d subtype 0x%02X, want 0x%02X", i, d[2], wantSubtypes[i])
		}
	}

	header := descs[0]
	if got := binary.LittleEndian.Uint16(header[5:7]); int(got) != len(data) {
		t.Errorf("wTotalLength = %d, want %d", got, len(data))
	}
	if got := binary.LittleEndian.Uint32(header[7:11]); got != DeviceClockFrequency {
		t.Errorf("dwClockFrequency = %d", got)
	}
	if header[12] != InterfaceStream {
		t.Errorf("streaming interface = %d", header[12])
	}

	camera := descs[1]
	controls := uint32(camera[15]) | uint32(camera[16])<<8 | uint32(camera[17])<<16
	if controls != ctControlZoomAbsolute|ctControlPanTiltAbsolute {
		t.Errorf("camera controls = 0x%06X", controls)
	}

	// The chain runs camera -> processing -> extension -> output.
	if descs[2][4] != EntityCameraTerminal || descs[3][22] != EntityProcessingUnit || descs[4][7] != EntityExtensionUnit {
		t.Error("unit chain broken")
	}
}

func TestStreamDescriptors(t *testing.T) {
	format := DefaultConfig().Format
	data := StreamDescriptors(format)
	descs := walk(t, data)
	if len(descs) != 4 {
		t.Fatalf("got %d descriptors, want 4", len(descs))
	}

	header := descs[0]
	if got := binary.LittleEndian.Uint16(header[4:6]); int(got) != len(data) {
		t.Errorf("wTotalLength = %d, want %d", got, len(data))
	}
	if header[6] != EndpointVideo || header[8] != EntityOutputTerminal {
		t.Errorf("input header = % X", header)
	}

	frame := descs[2]
	if frame[2] != VSFrameUncompressed || len(frame) != frameFixedSize+4*len(format.Intervals) {
		t.Fatalf("frame descriptor = % X", frame)
	}
	if w, h := binary.LittleEndian.Uint16(frame[5:7]), binary.LittleEndian.Uint16(frame[7:9]); w != 640 || h != 480 {
		t.Errorf("frame = %dx%d", w, h)
	}
	if got := binary.LittleEndian.Uint32(frame[21:25]); got != DefaultProbeHighSpeed.FrameInterval {
		t.Errorf("default interval = %d", got)
	}
	if frame[25] != 2 {
		t.Errorf("interval count = %d", frame[25])
	}
	minRate := binary.LittleEndian.Uint32(frame[9:13])
	maxRate := binary.LittleEndian.Uint32(frame[13:17])
	if minRate >= maxRate {
		t.Errorf("bit rates %d..%d", minRate, maxRate)
	}
}
