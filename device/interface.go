package device

import (
	"sync"

	"github.com/ardnew/fx3uvc/pkg"
)

// Interface is one interface of a configuration.
type Interface struct {
	Number           uint8
	AlternateSetting uint8
	Class            uint8
	SubClass         uint8
	Protocol         uint8
	StringIndex      uint8

	// ClassDescriptors holds class-specific descriptors written directly
	// after the interface descriptor, before the endpoint descriptors.
	ClassDescriptors []byte

	endpoints     [MaxEndpointsPerInterface]*Endpoint
	endpointCount int
	mutex         sync.RWMutex

	classDriver ClassDriver
}

// ClassDriver handles class-specific behaviour for an interface.
type ClassDriver interface {
	// Init is called when the driver is attached to the interface.
	Init(iface *Interface) error

	// HandleSetup processes a class request addressed to the interface.
	// data holds the OUT data stage (nil for IN requests). The returned
	// bytes are sent as the IN data stage. handled is false when the
	// driver does not recognize the request; a non-nil error stalls EP0.
	HandleSetup(iface *Interface, setup *SetupPacket, data []byte) (response []byte, handled bool, err error)

	// SetAlternate is called on SET_INTERFACE.
	SetAlternate(iface *Interface, alt uint8) error

	// Close releases driver resources.
	Close() error
}

// BusEvent identifies a link-level event reported by the controller.
type BusEvent uint8

// Bus events.
const (
	BusEventReset BusEvent = iota
	BusEventSuspend
	BusEventDisconnect
)

// String returns the event name.
func (e BusEvent) String() string {
	switch e {
	case BusEventReset:
		return "reset"
	case BusEventSuspend:
		return "suspend"
	case BusEventDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// BusEventHandler is implemented by class drivers that must react to bus
// reset, suspend and disconnect.
type BusEventHandler interface {
	HandleBusEvent(event BusEvent)
}

// NewInterface creates an interface from a descriptor.
func NewInterface(desc *InterfaceDescriptor) *Interface {
	return &Interface{
		Number:           desc.InterfaceNumber,
		AlternateSetting: desc.AlternateSetting,
		Class:            desc.InterfaceClass,
		SubClass:         desc.InterfaceSubClass,
		Protocol:         desc.InterfaceProtocol,
		StringIndex:      desc.InterfaceIndex,
	}
}

// AddEndpoint adds an endpoint to the interface.
func (i *Interface) AddEndpoint(ep *Endpoint) error {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	if i.endpointCount >= MaxEndpointsPerInterface {
		return pkg.ErrNoMemory
	}
	for idx := 0; idx < i.endpointCount; idx++ {
		if i.endpoints[idx].Address == ep.Address {
			return pkg.ErrBusy
		}
	}
	i.endpoints[i.endpointCount] = ep
	i.endpointCount++

	pkg.LogDebug(pkg.ComponentDevice, "endpoint added",
		"interface", i.Number,
		"endpoint", ep.Address,
		"type", TransferTypeName(ep.TransferType()))
	return nil
}

// GetEndpoint returns the endpoint with the given address, or nil.
func (i *Interface) GetEndpoint(address uint8) *Endpoint {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	for idx := 0; idx < i.endpointCount; idx++ {
		if i.endpoints[idx].Address == address {
			return i.endpoints[idx]
		}
	}
	return nil
}

// Endpoints returns the interface's endpoints.
func (i *Interface) Endpoints() []*Endpoint {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.endpoints[:i.endpointCount]
}

// SetClassDriver attaches driver, closing any previous one.
func (i *Interface) SetClassDriver(driver ClassDriver) error {
	i.mutex.Lock()
	old := i.classDriver
	i.classDriver = driver
	i.mutex.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			pkg.LogWarn(pkg.ComponentDevice, "error closing previous class driver",
				"interface", i.Number, "error", err)
		}
	}
	if driver != nil {
		return driver.Init(i)
	}
	return nil
}

// ClassDriver returns the attached class driver.
func (i *Interface) ClassDriver() ClassDriver {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.classDriver
}

// HandleSetup forwards a class request to the attached driver.
func (i *Interface) HandleSetup(setup *SetupPacket, data []byte) ([]byte, bool, error) {
	driver := i.ClassDriver()
	if driver == nil {
		return nil, false, nil
	}
	return driver.HandleSetup(i, setup, data)
}

// SetAlternate records the alternate setting and notifies the driver.
func (i *Interface) SetAlternate(alt uint8) error {
	i.mutex.Lock()
	i.AlternateSetting = alt
	driver := i.classDriver
	i.mutex.Unlock()

	if driver != nil {
		return driver.SetAlternate(i, alt)
	}
	return nil
}

func (i *Interface) descriptor() InterfaceDescriptor {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return InterfaceDescriptor{
		InterfaceNumber:   i.Number,
		AlternateSetting:  i.AlternateSetting,
		NumEndpoints:      uint8(i.endpointCount),
		InterfaceClass:    i.Class,
		InterfaceSubClass: i.SubClass,
		InterfaceProtocol: i.Protocol,
		InterfaceIndex:    i.StringIndex,
	}
}

func (i *Interface) descriptorLength(speed Speed) int {
	n := InterfaceDescriptorSize + len(i.ClassDescriptors)
	for _, ep := range i.Endpoints() {
		n += ep.descriptorLength(speed)
	}
	return n
}

func (i *Interface) marshalTo(buf []byte, speed Speed) int {
	desc := i.descriptor()
	offset := desc.MarshalTo(buf)
	if offset == 0 || len(buf) < offset+len(i.ClassDescriptors) {
		return 0
	}
	offset += copy(buf[offset:], i.ClassDescriptors)
	for _, ep := range i.Endpoints() {
		n := ep.marshalTo(buf[offset:], speed)
		if n == 0 {
			return 0
		}
		offset += n
	}
	return offset
}

// Close detaches and closes the class driver.
func (i *Interface) Close() error {
	i.mutex.Lock()
	driver := i.classDriver
	i.classDriver = nil
	i.mutex.Unlock()

	if driver != nil {
		return driver.Close()
	}
	return nil
}

// MaxAssociationsPerConfiguration is the maximum number of IADs per configuration.
const MaxAssociationsPerConfiguration = 4

// Configuration is one device configuration.
type Configuration struct {
	Value       uint8
	Attributes  uint8
	MaxPower    uint8 // 2 mA units
	StringIndex uint8

	interfaces     [MaxInterfacesPerConfiguration]*Interface
	interfaceCount int

	associations     [MaxAssociationsPerConfiguration]InterfaceAssociationDescriptor
	associationCount int

	mutex sync.RWMutex
}

// NewConfiguration creates a bus-powered configuration drawing 100 mA.
func NewConfiguration(value uint8) *Configuration {
	return &Configuration{
		Value:      value,
		Attributes: ConfigAttrBusPowered,
		MaxPower:   50,
	}
}

// AddInterface adds an interface to the configuration.
func (c *Configuration) AddInterface(iface *Interface) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.interfaceCount >= MaxInterfacesPerConfiguration {
		return pkg.ErrNoMemory
	}
	for idx := 0; idx < c.interfaceCount; idx++ {
		if c.interfaces[idx].Number == iface.Number {
			return pkg.ErrBusy
		}
	}
	c.interfaces[c.interfaceCount] = iface
	c.interfaceCount++
	return nil
}

// GetInterface returns the interface with the given number, or nil.
func (c *Configuration) GetInterface(number uint8) *Interface {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	for idx := 0; idx < c.interfaceCount; idx++ {
		if c.interfaces[idx].Number == number {
			return c.interfaces[idx]
		}
	}
	return nil
}

// Interfaces returns the configuration's interfaces.
func (c *Configuration) Interfaces() []*Interface {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.interfaces[:c.interfaceCount]
}

// NumInterfaces returns the number of interfaces.
func (c *Configuration) NumInterfaces() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.interfaceCount
}

// AddAssociation adds an interface association descriptor.
func (c *Configuration) AddAssociation(assoc InterfaceAssociationDescriptor) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.associationCount >= MaxAssociationsPerConfiguration {
		return pkg.ErrNoMemory
	}
	c.associations[c.associationCount] = assoc
	c.associationCount++
	return nil
}

// IsSelfPowered reports whether the self-powered attribute is set.
func (c *Configuration) IsSelfPowered() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.Attributes&ConfigAttrSelfPowered != 0
}

// TotalLength returns the size of the full configuration descriptor set.
func (c *Configuration) TotalLength(speed Speed) int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	n := ConfigurationDescriptorSize + c.associationCount*IADSize
	for idx := 0; idx < c.interfaceCount; idx++ {
		n += c.interfaces[idx].descriptorLength(speed)
	}
	return n
}

// MarshalTo writes the full-speed/high-speed configuration descriptor set.
func (c *Configuration) MarshalTo(buf []byte) int {
	return c.MarshalSpeedTo(buf, SpeedHigh)
}

// MarshalSpeedTo writes the configuration descriptor set for speed: the
// header, IADs, then each interface with its class-specific descriptors and
// endpoints. Returns the number of bytes written, or 0 if buf is too small.
func (c *Configuration) MarshalSpeedTo(buf []byte, speed Speed) int {
	total := c.TotalLength(speed)
	if len(buf) < total {
		return 0
	}

	c.mutex.RLock()
	defer c.mutex.RUnlock()

	header := ConfigurationDescriptor{
		TotalLength:        uint16(total),
		NumInterfaces:      uint8(c.interfaceCount),
		ConfigurationValue: c.Value,
		ConfigurationIndex: c.StringIndex,
		Attributes:         c.Attributes,
		MaxPower:           c.MaxPower,
	}
	if speed == SpeedSuper {
		// bMaxPower is in 8 mA units at SuperSpeed.
		header.MaxPower = uint8((uint16(c.MaxPower)*2 + 7) / 8)
	}
	offset := header.MarshalTo(buf)

	for idx := 0; idx < c.associationCount; idx++ {
		offset += c.associations[idx].MarshalTo(buf[offset:])
	}
	for idx := 0; idx < c.interfaceCount; idx++ {
		n := c.interfaces[idx].marshalTo(buf[offset:], speed)
		if n == 0 {
			return 0
		}
		offset += n
	}
	return offset
}

// Close closes every interface.
func (c *Configuration) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var lastErr error
	for idx := 0; idx < c.interfaceCount; idx++ {
		if err := c.interfaces[idx].Close(); err != nil {
			lastErr = err
		}
		c.interfaces[idx] = nil
	}
	c.interfaceCount = 0
	return lastErr
}
