package device

import (
	"testing"

	"github.com/ardnew/fx3uvc/pkg"
)

type busRecorder struct {
	events []BusEvent
}

func (r *busRecorder) Init(*Interface) error { return nil }
func (r *busRecorder) HandleSetup(*Interface, *SetupPacket, []byte) ([]byte, bool, error) {
	return nil, false, nil
}
func (r *busRecorder) SetAlternate(*Interface, uint8) error { return nil }
func (r *busRecorder) Close() error { return nil }
func (r *busRecorder) HandleBusEvent(event BusEvent) { r.events = append(r.events, event) }

func TestDeviceStateMachine(t *testing.T) {
	dev := NewDevice(&DeviceDescriptor{MaxPacketSize0: 64})
	dev.AddConfiguration(NewConfiguration(1))

	if dev.State() != StateAttached {
		t.Fatalf("initial state = %v", dev.State())
	}
	if err := dev.SetAddress(3); err != pkg.ErrInvalidState {
		t.Errorf("SetAddress() before reset error = %v, want %v", err, pkg.ErrInvalidState)
	}

	var transitions []State
	dev.SetOnStateChange(func(_, s State) { transitions = append(transitions, s) })

	dev.Reset()
	if err := dev.SetAddress(3); err != nil {
		t.Fatalf("SetAddress() error = %v", err)
	}
	if err := dev.SetConfiguration(2); err != pkg.ErrInvalidRequest {
		t.Errorf("SetConfiguration(2) error = %v, want %v", err, pkg.ErrInvalidRequest)
	}

	var configured uint8
	dev.SetOnSetConfiguration(func(v uint8) { configured = v })
	if err := dev.SetConfiguration(1); err != nil {
		t.Fatalf("SetConfiguration(1) error = %v", err)
	}
	if !dev.IsConfigured() || configured != 1 {
		t.Errorf("configured = %v, callback value = %d", dev.IsConfigured(), configured)
	}

	dev.Suspend()
	if dev.State() != StateSuspended {
		t.Errorf("state after suspend = %v", dev.State())
	}
	dev.Resume()
	if dev.State() != StateConfigured {
		t.Errorf("state after resume = %v, want Configured", dev.State())
	}

	want := []State{StateDefault, StateAddress, StateConfigured, StateSuspended, StateConfigured}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition[%d] = %v, want %v", i, transitions[i], want[i])
		}
	}
}

func TestDeviceBusEventsReachDrivers(t *testing.T) {
	dev := NewDevice(&DeviceDescriptor{MaxPacketSize0: 64})
	config := NewConfiguration(1)
	iface := NewInterface(&InterfaceDescriptor{InterfaceNumber: 0})
	rec := &busRecorder{}
	iface.SetClassDriver(rec)
	config.AddInterface(iface)
	dev.AddConfiguration(config)

	dev.Reset()
	dev.SetAddress(1)
	dev.SetConfiguration(1)
	dev.Suspend()
	dev.Disconnect()

	want := []BusEvent{BusEventReset, BusEventSuspend, BusEventDisconnect}
	if len(rec.events) != len(want) {
		t.Fatalf("events = %v, want %v", rec.events, want)
	}
	for i := range want {
		if rec.events[i] != want[i] {
			t.Errorf("event[%d] = %v, want %v", i, rec.events[i], want[i])
		}
	}
	if dev.ActiveConfiguration() != nil || dev.Address() != 0 {
		t.Error("disconnect should drop address and configuration")
	}
}

func TestDeviceBuilder(t *testing.T) {
	dev, err := NewDeviceBuilder().
		WithVendorProduct(0x04B4, 0x00C3, 0x0100).
		WithClass(ClassMisc, 0x02, 0x01).
		WithStrings("Cypress", "FX3", "").
		AddConfiguration(1).
		WithMaxPower(250).
		AddAssociation(InterfaceAssociationDescriptor{InterfaceCount: 2, FunctionClass: ClassVideo}).
		AddInterface(ClassVideo, 0x01, 0x00).
		WithClassDescriptors([]byte{3, DescriptorTypeCSInterface, 0}).
		AddInterface(ClassVideo, 0x02, 0x00).
		AddEndpoint(&Endpoint{Address: 0x83, Attributes: EndpointTypeBulk, MaxPacketSize: 512}).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if dev.Descriptor.NumConfigurations != 1 {
		t.Errorf("NumConfigurations = %d", dev.Descriptor.NumConfigurations)
	}
	if dev.Descriptor.ManufacturerIndex != 1 || dev.Descriptor.ProductIndex != 2 || dev.Descriptor.SerialNumberIndex != 0 {
		t.Errorf("string indexes = %d/%d/%d", dev.Descriptor.ManufacturerIndex,
			dev.Descriptor.ProductIndex, dev.Descriptor.SerialNumberIndex)
	}
	if dev.GetString(0) == nil || dev.GetString(2) == nil {
		t.Error("string descriptors missing")
	}

	config := dev.GetConfiguration(1)
	if config.NumInterfaces() != 2 || config.MaxPower != 250 {
		t.Fatalf("interfaces = %d, max power = %d", config.NumInterfaces(), config.MaxPower)
	}
	if config.GetInterface(1).GetEndpoint(0x83) == nil {
		t.Error("endpoint not attached to interface 1")
	}
}

func TestDeviceBuilderErrors(t *testing.T) {
	_, err := NewDeviceBuilder().AddInterface(ClassVideo, 1, 0).Build()
	if err != pkg.ErrInvalidState {
		t.Errorf("Build() error = %v, want %v", err, pkg.ErrInvalidState)
	}

	_, err = NewDeviceBuilder().AddConfiguration(1).AddConfiguration(1).Build()
	if err != pkg.ErrBusy {
		t.Errorf("Build() error = %v, want %v", err, pkg.ErrBusy)
	}
}
