// Package device implements a pure-Go USB 2.0/3.0 device stack.
//
// It is platform-agnostic and reaches hardware through [hal.DeviceHAL],
// defined in [github.com/ardnew/fx3uvc/device/hal].
//
// # Architecture
//
//   - [Device] holds descriptors, configurations and the device state machine
//   - [Stack] runs the control pipe: setup dispatch, data stages, bus events
//   - [Interface] groups endpoints, class-specific descriptors and a driver
//   - [Endpoint] tracks halt state and produces speed-dependent descriptors
//
// # Control requests
//
// Standard requests are answered by [StandardRequestHandler]. Class requests
// addressed to an interface go to that interface's [ClassDriver], with the
// OUT data stage already read. Vendor requests go to the [VendorHandler]
// installed with [Stack.SetVendorHandler]. Any error stalls EP0.
//
// CLEAR_FEATURE(ENDPOINT_HALT) on a data endpoint runs the hook installed
// with [Device.SetOnClearHalt] before the status stage is acknowledged.
//
// # Link speed
//
// Device, configuration and endpoint descriptors are shaped at the time they
// are requested. At SuperSpeed the device descriptor reports bcdUSB 3.00,
// bulk endpoints grow to 1024 bytes and carry a companion descriptor, and a
// BOS descriptor is served.
//
// # Bus events
//
// Reset, suspend and disconnect are reported by the HAL as errors from
// ReadSetup. The stack updates [Device] state and notifies every class driver
// that implements [BusEventHandler].
//
// # Device States
//
//	Attached → Default → Address → Configured ⇄ Suspended
//
// # Example
//
//	dev, err := device.NewDeviceBuilder().
//	    WithVendorProduct(0x04B4, 0x00C3, 0x0100).
//	    WithStrings("Cypress", "FX3 UVC", "0001").
//	    AddConfiguration(1).
//	    AddInterface(device.ClassVendor, 0, 0).
//	    Build()
//	stack := device.NewStack(dev, h)
//	stack.Start(ctx)
package device
