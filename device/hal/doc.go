// Package hal defines the USB controller interface used by the device stack.
//
// The device stack implements all USB protocol logic and leaves the HAL to
// move bytes on endpoints and report bus events. Two families of hardware
// contracts live below this package:
//
//   - [DeviceHAL]: the USB controller (EP0, data endpoints, link speed)
//   - [github.com/ardnew/fx3uvc/device/hal/capture]: the parallel capture
//     port and DMA engine that feed a streaming endpoint
//
// # Bus events
//
// Reset, suspend and disconnect are not delivered through callbacks. Instead
// [DeviceHAL.ReadSetup] returns pkg.ErrReset, pkg.ErrSuspended or
// pkg.ErrNoDevice, and the stack's control loop turns those into device state
// changes and class driver notifications.
//
// # Implementations
//
//   - [github.com/ardnew/fx3uvc/device/hal/loopback]: in-memory controller with
//     a host-side handle, used by tests and the bench binary
package hal
