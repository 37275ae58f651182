// Package loopback implements an in-memory USB device controller.
//
// The device side satisfies [hal.DeviceHAL]. The host side, returned by
// [HAL.Host], issues control transfers, drives bus reset, suspend and
// disconnect, and reads the data endpoints, so a device stack and a host
// driver can run in one process:
//
//	h := loopback.New(loopback.WithSpeed(hal.SpeedSuper))
//	stack := device.NewStack(dev, h)
//	stack.Start(ctx)
//	enum, err := h.Host().Enumerate(ctx, hal.SpeedSuper, 1)
//	payload, err := h.Host().Read(ctx, 0x83)
//
// Each Write on an IN endpoint is delivered to the host as one transfer.
package loopback
