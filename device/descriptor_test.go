package device

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestDeviceDescriptor_MarshalTo(t *testing.T) {
	desc := &DeviceDescriptor{
		USBVersion:        0x0210,
		MaxPacketSize0:    64,
		VendorID:          0x04B4,
		ProductID:         0x00C3,
		DeviceVersion:     0x0100,
		ManufacturerIndex: 1,
		ProductIndex:      2,
		NumConfigurations: 1,
	}

	var buf [DeviceDescriptorSize]byte
	n := desc.MarshalTo(buf[:])
	if n != DeviceDescriptorSize {
		t.Fatalf("MarshalTo() = %d, want %d", n, DeviceDescriptorSize)
	}
	if buf[0] != DeviceDescriptorSize || buf[1] != DescriptorTypeDevice {
		t.Errorf("header = % X, want 12 01", buf[:2])
	}
	if got := binary.LittleEndian.Uint16(buf[8:10]); got != 0x04B4 {
		t.Errorf("idVendor = 0x%04X, want 0x04B4", got)
	}

	var parsed DeviceDescriptor
	if err := ParseDeviceDescriptor(buf[:], &parsed); err != nil {
		t.Fatalf("ParseDeviceDescriptor() error = %v", err)
	}
	if parsed.ProductID != desc.ProductID || parsed.NumConfigurations != 1 {
		t.Errorf("parsed = %+v", parsed)
	}
}

func TestDeviceDescriptor_ForSpeed(t *testing.T) {
	desc := &DeviceDescriptor{USBVersion: 0x0210, MaxPacketSize0: 64}

	tests := []struct {
		speed     Speed
		wantBCD   uint16
		wantMaxP0 uint8
	}{
		{SpeedFull, 0x0210, 64},
		{SpeedHigh, 0x0210, 64},
		{SpeedSuper, 0x0300, 9},
	}
	for _, tt := range tests {
		t.Run(tt.speed.String(), func(t *testing.T) {
			got := desc.ForSpeed(tt.speed)
			if got.USBVersion != tt.wantBCD {
				t.Errorf("bcdUSB = 0x%04X, want 0x%04X", got.USBVersion, tt.wantBCD)
			}
			if got.MaxPacketSize0 != tt.wantMaxP0 {
				t.Errorf("bMaxPacketSize0 = %d, want %d", got.MaxPacketSize0, tt.wantMaxP0)
			}
		})
	}
	if desc.USBVersion != 0x0210 {
		t.Error("ForSpeed modified the receiver")
	}
}

func TestParseDeviceDescriptor_Errors(t *testing.T) {
	var out DeviceDescriptor
	if err := ParseDeviceDescriptor(make([]byte, 4), &out); err == nil {
		t.Error("expected error for short buffer")
	}
	buf := make([]byte, DeviceDescriptorSize)
	buf[0] = DeviceDescriptorSize
	buf[1] = DescriptorTypeConfiguration
	if err := ParseDeviceDescriptor(buf, &out); err == nil {
		t.Error("expected error for type mismatch")
	}
}

func newBulkConfig() *Configuration {
	config := NewConfiguration(1)
	iface := NewInterface(&InterfaceDescriptor{
		InterfaceNumber: 0,
		InterfaceClass:  ClassVideo,
	})
	iface.ClassDescriptors = []byte{0x05, DescriptorTypeCSInterface, 0x01, 0x02, 0x03}
	iface.AddEndpoint(&Endpoint{
		Address:       0x83,
		Attributes:    EndpointTypeBulk,
		MaxPacketSize: 512,
		MaxBurst:      15,
	})
	config.AddInterface(iface)
	config.AddAssociation(InterfaceAssociationDescriptor{
		FirstInterface: 0,
		InterfaceCount: 1,
		FunctionClass:  ClassVideo,
	})
	return config
}

func TestConfiguration_MarshalSpeedTo(t *testing.T) {
	config := newBulkConfig()

	tests := []struct {
		name       string
		speed      Speed
		wantLen    int
		wantMaxPkt uint16
	}{
		{"high", SpeedHigh, 9 + 8 + 9 + 5 + 7, 512},
		{"super", SpeedSuper, 9 + 8 + 9 + 5 + 7 + 6, 1024},
		{"full", SpeedFull, 9 + 8 + 9 + 5 + 7, 64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := config.TotalLength(tt.speed); got != tt.wantLen {
				t.Fatalf("TotalLength() = %d, want %d", got, tt.wantLen)
			}
			buf := make([]byte, 128)
			n := config.MarshalSpeedTo(buf, tt.speed)
			if n != tt.wantLen {
				t.Fatalf("MarshalSpeedTo() = %d, want %d", n, tt.wantLen)
			}
			if got := binary.LittleEndian.Uint16(buf[2:4]); int(got) != tt.wantLen {
				t.Errorf("wTotalLength = %d, want %d", got, tt.wantLen)
			}
			if buf[9+1] != DescriptorTypeInterfaceAssociation {
				t.Errorf("IAD not written after header: % X", buf[9:11])
			}
			// Class-specific block sits between interface and endpoint.
			cs := buf[9+8+9 : 9+8+9+5]
			if !bytes.Equal(cs, config.GetInterface(0).ClassDescriptors) {
				t.Errorf("class descriptors = % X", cs)
			}
			ep := buf[9+8+9+5:]
			if ep[1] != DescriptorTypeEndpoint {
				t.Fatalf("endpoint type = 0x%02X", ep[1])
			}
			if got := binary.LittleEndian.Uint16(ep[4:6]); got != tt.wantMaxPkt {
				t.Errorf("wMaxPacketSize = %d, want %d", got, tt.wantMaxPkt)
			}
			if tt.speed == SpeedSuper {
				comp := ep[EndpointDescriptorSize:]
				if comp[1] != DescriptorTypeSSEndpointCompanion || comp[2] != 15 {
					t.Errorf("companion = % X", comp[:SSCompanionSize])
				}
			}
		})
	}
}

func TestConfiguration_MarshalSpeedTo_ShortBuffer(t *testing.T) {
	config := newBulkConfig()
	if n := config.MarshalSpeedTo(make([]byte, 10), SpeedHigh); n != 0 {
		t.Errorf("MarshalSpeedTo() = %d, want 0", n)
	}
}

func TestConfiguration_SuperSpeedPower(t *testing.T) {
	config := newBulkConfig()
	config.MaxPower = 100 // 200 mA

	buf := make([]byte, 128)
	config.MarshalSpeedTo(buf, SpeedSuper)
	if buf[8] != 25 {
		t.Errorf("bMaxPower = %d, want 25 (8 mA units)", buf[8])
	}
	config.MarshalSpeedTo(buf, SpeedHigh)
	if buf[8] != 100 {
		t.Errorf("bMaxPower = %d, want 100 (2 mA units)", buf[8])
	}
}

func TestBOSDescriptorTo(t *testing.T) {
	var buf [64]byte
	n := BOSDescriptorTo(buf[:])
	if n != 22 {
		t.Fatalf("BOSDescriptorTo() = %d, want 22", n)
	}
	if buf[1] != DescriptorTypeBOS || buf[4] != 2 {
		t.Errorf("header = % X", buf[:5])
	}
	if got := binary.LittleEndian.Uint16(buf[2:4]); got != 22 {
		t.Errorf("wTotalLength = %d, want 22", got)
	}
	if buf[12+2] != 0x03 {
		t.Errorf("second capability type = 0x%02X, want SuperSpeed", buf[14])
	}
	if BOSDescriptorTo(buf[:8]) != 0 {
		t.Error("expected 0 for short buffer")
	}
}

func TestStringDescriptorTo(t *testing.T) {
	var buf [64]byte
	n := StringDescriptorTo(buf[:], "FX3")
	want := []byte{8, DescriptorTypeString, 'F', 0, 'X', 0, '3', 0}
	if !bytes.Equal(buf[:n], want) {
		t.Errorf("StringDescriptorTo() = % X, want % X", buf[:n], want)
	}

	n = LanguageDescriptorTo(buf[:], LangIDUSEnglish)
	if !bytes.Equal(buf[:n], []byte{4, DescriptorTypeString, 0x09, 0x04}) {
		t.Errorf("LanguageDescriptorTo() = % X", buf[:n])
	}
}
