package device

import (
	"sync"

	"github.com/ardnew/fx3uvc/pkg"
)

// Device is a USB device: its descriptors, configurations and state.
type Device struct {
	Descriptor *DeviceDescriptor

	configurations     [MaxConfigurations]*Configuration
	configurationCount int
	activeConfig       *Configuration

	strings [MaxStrings][]byte

	state         State
	previousState State
	address       uint8
	speed         Speed

	remoteWakeupEnabled bool

	mutex sync.RWMutex

	onStateChange      func(old, new State)
	onSetConfiguration func(config uint8)
	onClearHalt        func(address uint8)
}

// NewDevice creates a device in the Attached state.
func NewDevice(desc *DeviceDescriptor) *Device {
	return &Device{
		Descriptor: desc,
		state:      StateAttached,
		speed:      SpeedFull,
	}
}

// AddConfiguration registers a configuration.
func (d *Device) AddConfiguration(config *Configuration) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.configurationCount >= MaxConfigurations {
		return pkg.ErrNoMemory
	}
	for idx := 0; idx < d.configurationCount; idx++ {
		if d.configurations[idx].Value == config.Value {
			return pkg.ErrBusy
		}
	}
	d.configurations[d.configurationCount] = config
	d.configurationCount++
	return nil
}

// GetConfiguration returns the configuration with the given value, or nil.
func (d *Device) GetConfiguration(value uint8) *Configuration {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	for idx := 0; idx < d.configurationCount; idx++ {
		if d.configurations[idx].Value == value {
			return d.configurations[idx]
		}
	}
	return nil
}

// ActiveConfiguration returns the selected configuration, or nil.
func (d *Device) ActiveConfiguration() *Configuration {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.activeConfig
}

// SetStringFrom encodes s into buf and stores it as string descriptor index.
func (d *Device) SetStringFrom(index uint8, buf []byte, s string) int {
	if index >= MaxStrings {
		return 0
	}
	n := StringDescriptorTo(buf, s)
	if n > 0 {
		d.mutex.Lock()
		d.strings[index] = buf[:n]
		d.mutex.Unlock()
	}
	return n
}

// SetLanguagesFrom encodes the language IDs as string descriptor zero.
func (d *Device) SetLanguagesFrom(buf []byte, langIDs ...uint16) int {
	n := LanguageDescriptorTo(buf, langIDs...)
	if n > 0 {
		d.mutex.Lock()
		d.strings[0] = buf[:n]
		d.mutex.Unlock()
	}
	return n
}

// GetString returns the encoded string descriptor at index, or nil.
func (d *Device) GetString(index uint8) []byte {
	if index >= MaxStrings {
		return nil
	}
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.strings[index]
}

// State returns the current device state.
func (d *Device) State() State {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.state
}

func (d *Device) setState(newState State) {
	d.mutex.Lock()
	oldState := d.state
	d.state = newState
	callback := d.onStateChange
	d.mutex.Unlock()

	if oldState != newState {
		pkg.LogDebug(pkg.ComponentDevice, "device state changed",
			"from", oldState.String(),
			"to", newState.String())
		if callback != nil {
			callback(oldState, newState)
		}
	}
}

// Address returns the assigned device address.
func (d *Device) Address() uint8 {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.address
}

// Speed returns the link speed recorded for the device.
func (d *Device) Speed() Speed {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.speed
}

// SetSpeed records the negotiated link speed.
func (d *Device) SetSpeed(speed Speed) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.speed = speed
}

// IsConfigured reports whether the device is in the Configured state.
func (d *Device) IsConfigured() bool {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.state == StateConfigured
}

// Reset handles a bus reset: class drivers are notified, then the address and
// configuration are dropped.
func (d *Device) Reset() {
	d.notifyBusEvent(BusEventReset)

	d.mutex.Lock()
	d.address = 0
	d.activeConfig = nil
	d.remoteWakeupEnabled = false
	d.mutex.Unlock()

	d.setState(StateDefault)
	pkg.LogDebug(pkg.ComponentDevice, "device reset")
}

// Suspend handles bus suspend.
func (d *Device) Suspend() {
	d.notifyBusEvent(BusEventSuspend)

	d.mutex.Lock()
	if d.state != StateSuspended {
		d.previousState = d.state
	}
	d.mutex.Unlock()

	d.setState(StateSuspended)
	pkg.LogDebug(pkg.ComponentDevice, "device suspended")
}

// Resume returns from suspend to the state held before it.
func (d *Device) Resume() {
	d.mutex.RLock()
	previous := d.previousState
	suspended := d.state == StateSuspended
	d.mutex.RUnlock()

	if !suspended {
		return
	}
	if previous < StateDefault {
		previous = StateDefault
	}
	d.setState(previous)
	pkg.LogDebug(pkg.ComponentDevice, "device resumed")
}

// Disconnect handles detachment from the host.
func (d *Device) Disconnect() {
	d.notifyBusEvent(BusEventDisconnect)

	d.mutex.Lock()
	d.address = 0
	d.activeConfig = nil
	d.mutex.Unlock()

	d.setState(StateAttached)
	pkg.LogDebug(pkg.ComponentDevice, "device disconnected")
}

// notifyBusEvent calls every class driver that implements BusEventHandler.
func (d *Device) notifyBusEvent(event BusEvent) {
	d.mutex.RLock()
	configs := d.configurations
	count := d.configurationCount
	d.mutex.RUnlock()

	// A driver bound to several interfaces hears each event once.
	var notified []BusEventHandler
	for idx := 0; idx < count; idx++ {
	next:
		for _, iface := range configs[idx].Interfaces() {
			h, ok := iface.ClassDriver().(BusEventHandler)
			if !ok {
				continue
			}
			for _, seen := range notified {
				if seen == h {
					continue next
				}
			}
			notified = append(notified, h)
			h.HandleBusEvent(event)
		}
	}
}

// SetAddress handles SET_ADDRESS.
func (d *Device) SetAddress(address uint8) error {
	d.mutex.Lock()
	if d.state != StateDefault && d.state != StateAddress {
		d.mutex.Unlock()
		return pkg.ErrInvalidState
	}
	d.address = address
	d.mutex.Unlock()

	if address == 0 {
		d.setState(StateDefault)
	} else {
		d.setState(StateAddress)
	}
	pkg.LogDebug(pkg.ComponentDevice, "device address set", "address", address)
	return nil
}

// SetConfiguration handles SET_CONFIGURATION. Value zero unconfigures.
func (d *Device) SetConfiguration(value uint8) error {
	d.mutex.Lock()
	if d.state != StateAddress && d.state != StateConfigured {
		d.mutex.Unlock()
		return pkg.ErrInvalidState
	}
	if value == 0 {
		d.activeConfig = nil
		d.mutex.Unlock()
		d.setState(StateAddress)
		return nil
	}

	var config *Configuration
	for idx := 0; idx < d.configurationCount; idx++ {
		if d.configurations[idx].Value == value {
			config = d.configurations[idx]
			break
		}
	}
	if config == nil {
		d.mutex.Unlock()
		return pkg.ErrInvalidRequest
	}
	d.activeConfig = config
	callback := d.onSetConfiguration
	d.mutex.Unlock()

	d.setState(StateConfigured)
	if callback != nil {
		callback(value)
	}
	pkg.LogDebug(pkg.ComponentDevice, "device configured", "configuration", value)
	return nil
}

// EnableRemoteWakeup enables or disables remote wakeup.
func (d *Device) EnableRemoteWakeup(enabled bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.remoteWakeupEnabled = enabled
}

// GetInterface returns an interface of the active configuration, or nil.
func (d *Device) GetInterface(number uint8) *Interface {
	config := d.ActiveConfiguration()
	if config == nil {
		return nil
	}
	return config.GetInterface(number)
}

// GetEndpoint returns a data endpoint of the active configuration, or nil.
func (d *Device) GetEndpoint(address uint8) *Endpoint {
	config := d.ActiveConfiguration()
	if config == nil {
		return nil
	}
	for _, iface := range config.Interfaces() {
		if ep := iface.GetEndpoint(address); ep != nil {
			return ep
		}
	}
	return nil
}

// clearHalt clears the halt on a data endpoint and notifies the hook.
func (d *Device) clearHalt(address uint8) error {
	ep := d.GetEndpoint(address)
	if ep == nil {
		return pkg.ErrInvalidEndpoint
	}
	ep.SetStall(false)

	d.mutex.RLock()
	callback := d.onClearHalt
	d.mutex.RUnlock()
	if callback != nil {
		callback(address)
	}
	return nil
}

// SetOnStateChange sets the state change callback.
func (d *Device) SetOnStateChange(cb func(old, new State)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onStateChange = cb
}

// SetOnSetConfiguration sets the SET_CONFIGURATION callback.
func (d *Device) SetOnSetConfiguration(cb func(config uint8)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onSetConfiguration = cb
}

// SetOnClearHalt sets the callback run after CLEAR_FEATURE(ENDPOINT_HALT)
// on a data endpoint, inside the setup handling path.
func (d *Device) SetOnClearHalt(cb func(address uint8)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onClearHalt = cb
}

// Close closes every configuration.
func (d *Device) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	var lastErr error
	for idx := 0; idx < d.configurationCount; idx++ {
		if err := d.configurations[idx].Close(); err != nil {
			lastErr = err
		}
		d.configurations[idx] = nil
	}
	d.configurationCount = 0
	d.activeConfig = nil
	return lastErr
}

// DeviceStatus is the GET_STATUS(device) bitmap.
type DeviceStatus uint16

// Device status bits.
const (
	DeviceStatusSelfPowered  DeviceStatus = 1 << 0
	DeviceStatusRemoteWakeup DeviceStatus = 1 << 1
)

// GetStatus returns the device status bits.
func (d *Device) GetStatus() DeviceStatus {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	var status DeviceStatus
	if d.activeConfig != nil && d.activeConfig.IsSelfPowered() {
		status |= DeviceStatusSelfPowered
	}
	if d.remoteWakeupEnabled {
		status |= DeviceStatusRemoteWakeup
	}
	return status
}

// DeviceBuilder assembles a device with a fluent API. The first error is
// reported by Build.
type DeviceBuilder struct {
	device *Device
	config *Configuration
	iface  *Interface
	err    error

	stringBufs [MaxStrings][256]byte
	nextString uint8
}

// NewDeviceBuilder creates a builder for a USB 2.1 device with a 64-byte EP0.
func NewDeviceBuilder() *DeviceBuilder {
	return &DeviceBuilder{
		device: NewDevice(&DeviceDescriptor{
			Length:         DeviceDescriptorSize,
			DescriptorType: DescriptorTypeDevice,
			USBVersion:     0x0210,
			MaxPacketSize0: 64,
		}),
		nextString: 1,
	}
}

func (b *DeviceBuilder) fail(err error) *DeviceBuilder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// WithVendorProduct sets the vendor and product IDs and device release.
func (b *DeviceBuilder) WithVendorProduct(vendorID, productID, release uint16) *DeviceBuilder {
	b.device.Descriptor.VendorID = vendorID
	b.device.Descriptor.ProductID = productID
	b.device.Descriptor.DeviceVersion = release
	return b
}

// WithClass sets the device class triple. Composite functions with IADs use
// ClassMisc, 0x02, 0x01.
func (b *DeviceBuilder) WithClass(class, subClass, protocol uint8) *DeviceBuilder {
	b.device.Descriptor.DeviceClass = class
	b.device.Descriptor.DeviceSubClass = subClass
	b.device.Descriptor.DeviceProtocol = protocol
	return b
}

// WithStrings sets the manufacturer, product and serial strings.
func (b *DeviceBuilder) WithStrings(manufacturer, product, serial string) *DeviceBuilder {
	b.device.SetLanguagesFrom(b.stringBufs[0][:], LangIDUSEnglish)
	b.device.Descriptor.ManufacturerIndex = b.AddString(manufacturer)
	b.device.Descriptor.ProductIndex = b.AddString(product)
	b.device.Descriptor.SerialNumberIndex = b.AddString(serial)
	return b
}

// AddString stores s as the next string descriptor and returns its index,
// or zero when s is empty or the table is full.
func (b *DeviceBuilder) AddString(s string) uint8 {
	if s == "" {
		return 0
	}
	if b.nextString >= MaxStrings {
		b.fail(pkg.ErrNoMemory)
		return 0
	}
	index := b.nextString
	b.device.SetStringFrom(index, b.stringBufs[index][:], s)
	b.nextString++
	return index
}

// AddConfiguration starts a new configuration.
func (b *DeviceBuilder) AddConfiguration(value uint8) *DeviceBuilder {
	b.config = NewConfiguration(value)
	b.iface = nil
	if err := b.device.AddConfiguration(b.config); err != nil {
		return b.fail(err)
	}
	b.device.Descriptor.NumConfigurations++
	return b
}

// WithMaxPower sets the current configuration's bMaxPower in 2 mA units.
func (b *DeviceBuilder) WithMaxPower(units uint8) *DeviceBuilder {
	if b.config == nil {
		return b.fail(pkg.ErrInvalidState)
	}
	b.config.MaxPower = units
	return b
}

// AddAssociation adds an IAD to the current configuration.
func (b *DeviceBuilder) AddAssociation(assoc InterfaceAssociationDescriptor) *DeviceBuilder {
	if b.config == nil {
		return b.fail(pkg.ErrInvalidState)
	}
	if err := b.config.AddAssociation(assoc); err != nil {
		return b.fail(err)
	}
	return b
}

// AddInterface adds an interface numbered after the existing ones.
func (b *DeviceBuilder) AddInterface(class, subClass, protocol uint8) *DeviceBuilder {
	if b.config == nil {
		return b.fail(pkg.ErrInvalidState)
	}
	b.iface = NewInterface(&InterfaceDescriptor{
		InterfaceNumber:   uint8(b.config.NumInterfaces()),
		InterfaceClass:    class,
		InterfaceSubClass: subClass,
		InterfaceProtocol: protocol,
	})
	if err := b.config.AddInterface(b.iface); err != nil {
		return b.fail(err)
	}
	return b
}

// WithClassDescriptors sets the class-specific descriptors of the current interface.
func (b *DeviceBuilder) WithClassDescriptors(data []byte) *DeviceBuilder {
	if b.iface == nil {
		return b.fail(pkg.ErrInvalidState)
	}
	b.iface.ClassDescriptors = data
	return b
}

// AddEndpoint adds an endpoint to the current interface.
func (b *DeviceBuilder) AddEndpoint(ep *Endpoint) *DeviceBuilder {
	if b.iface == nil {
		return b.fail(pkg.ErrInvalidState)
	}
	if err := b.iface.AddEndpoint(ep); err != nil {
		return b.fail(err)
	}
	return b
}

// Interface returns the interface most recently added.
func (b *DeviceBuilder) Interface() *Interface {
	return b.iface
}

// Configuration returns the configuration most recently added.
func (b *DeviceBuilder) Configuration() *Configuration {
	return b.config
}

// Build returns the constructed device or the first error recorded.
func (b *DeviceBuilder) Build() (*Device, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.device, nil
}
