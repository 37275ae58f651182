package loopback

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ardnew/fx3uvc/device/hal"
	"github.com/ardnew/fx3uvc/pkg"
)

// Host is the host controller end of a loopback link. Control transfers are
// serialized; data endpoints may be used concurrently.
type Host struct {
	hal     *HAL
	control sync.Mutex
}

// Control runs one control transfer. For OUT requests data is the data
// stage; for IN requests the returned slice holds the device's data stage.
// A stalled request returns pkg.ErrStall.
func (c *Host) Control(ctx context.Context, setup hal.SetupPacket, data []byte) ([]byte, error) {
	c.control.Lock()
	defer c.control.Unlock()

	h := c.hal
	if !h.IsConnected() {
		return nil, pkg.ErrNoDevice
	}
	c.drain()

	in := setup.RequestType&0x80 != 0
	if !in && setup.Length > 0 {
		if len(data) != int(setup.Length) {
			return nil, fmt.Errorf("data stage %d bytes, wLength %d: %w",
				len(data), setup.Length, pkg.ErrInvalidParameter)
		}
		h.ep0Out <- append([]byte(nil), data...)
	}

	if err := c.send(ctx, message{kind: msgSetup, setup: setup}); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.closeCh:
		return nil, pkg.ErrCancelled
	case msg := <-h.ep0In:
		switch msg.kind {
		case msgStall:
			return nil, pkg.ErrStall
		case msgData:
			if !in {
				return nil, pkg.ErrProtocol
			}
			return msg.data, nil
		default:
			if in {
				return nil, pkg.ErrProtocol
			}
			return nil, nil
		}
	}
}

// drain discards completions and data stages left over from an abandoned
// control transfer.
func (c *Host) drain() {
	for {
		select {
		case <-c.hal.ep0In:
		case <-c.hal.ep0Out:
		default:
			return
		}
	}
}

func (c *Host) send(ctx context.Context, msg message) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.hal.closeCh:
		return pkg.ErrCancelled
	case c.hal.toDevice <- msg:
		return nil
	}
}

// Read receives one transfer from an IN endpoint. A halted endpoint returns
// pkg.ErrStall and a NAKing endpoint pkg.ErrNAK.
func (c *Host) Read(ctx context.Context, address uint8) ([]byte, error) {
	h := c.hal
	num := address & 0x0F
	if address&0x80 == 0 || num == 0 || num > MaxEndpoints {
		return nil, pkg.ErrInvalidEndpoint
	}
	h.mutex.RLock()
	stalled := h.stalled[flagIndex(address)]
	naking := h.naking[flagIndex(address)]
	h.mutex.RUnlock()
	if stalled {
		return nil, pkg.ErrStall
	}
	if naking {
		return nil, pkg.ErrNAK
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.closeCh:
		return nil, pkg.ErrCancelled
	case data := <-h.epIn[num]:
		return data, nil
	}
}

// Write sends one transfer to an OUT endpoint.
func (c *Host) Write(ctx context.Context, address uint8, data []byte) error {
	h := c.hal
	num := address & 0x0F
	if address&0x80 != 0 || num == 0 || num > MaxEndpoints {
		return pkg.ErrInvalidEndpoint
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.closeCh:
		return pkg.ErrCancelled
	case h.epOut[num] <- append([]byte(nil), data...):
		return nil
	}
}

// Reset drives a bus reset. The link comes back at speed.
func (c *Host) Reset(ctx context.Context, speed hal.Speed) error {
	c.hal.mutex.Lock()
	c.hal.speed = speed
	c.hal.address = 0
	c.hal.mutex.Unlock()
	return c.send(ctx, message{kind: msgBus, err: pkg.ErrReset})
}

// Suspend drives bus suspend.
func (c *Host) Suspend(ctx context.Context) error {
	return c.send(ctx, message{kind: msgBus, err: pkg.ErrSuspended})
}

// Disconnect detaches the cable.
func (c *Host) Disconnect(ctx context.Context) error {
	c.hal.setConnected(false)
	return c.send(ctx, message{kind: msgBus, err: pkg.ErrNoDevice})
}

// Connect reattaches the cable at speed.
func (c *Host) Connect(speed hal.Speed) {
	c.hal.mutex.Lock()
	c.hal.speed = speed
	c.hal.mutex.Unlock()
	c.hal.setConnected(true)
}

// ClearHalt sends CLEAR_FEATURE(ENDPOINT_HALT) for an endpoint.
func (c *Host) ClearHalt(ctx context.Context, address uint8) error {
	_, err := c.Control(ctx, hal.SetupPacket{
		RequestType: 0x02,
		Request:     0x01,
		Index:       uint16(address),
	}, nil)
	return err
}

// Enumeration holds the descriptors read by Enumerate.
type Enumeration struct {
	Device        []byte
	Configuration []byte
}

// Enumerate resets the bus at speed, assigns address, reads the device and
// configuration descriptors, and selects configuration 1.
func (c *Host) Enumerate(ctx context.Context, speed hal.Speed, address uint8) (*Enumeration, error) {
	if err := c.Reset(ctx, speed); err != nil {
		return nil, err
	}

	devDesc, err := c.getDescriptor(ctx, 0x01, 0, 18)
	if err != nil {
		return nil, fmt.Errorf("get device descriptor: %w", err)
	}
	if _, err := c.Control(ctx, hal.SetupPacket{
		RequestType: 0x00,
		Request:     0x05,
		Value:       uint16(address),
	}, nil); err != nil {
		return nil, fmt.Errorf("set address: %w", err)
	}
	c.hal.SetAddress(address)

	header, err := c.getDescriptor(ctx, 0x02, 0, 9)
	if err != nil {
		return nil, fmt.Errorf("get configuration header: %w", err)
	}
	if len(header) < 4 {
		return nil, pkg.ErrDescriptorTooShort
	}
	total := binary.LittleEndian.Uint16(header[2:4])
	config, err := c.getDescriptor(ctx, 0x02, 0, total)
	if err != nil {
		return nil, fmt.Errorf("get configuration: %w", err)
	}

	if _, err := c.Control(ctx, hal.SetupPacket{
		RequestType: 0x00,
		Request:     0x09,
		Value:       1,
	}, nil); err != nil {
		return nil, fmt.Errorf("set configuration: %w", err)
	}

	pkg.LogDebug(pkg.ComponentHAL, "loopback host enumerated device",
		"speed", speed.String(), "address", address, "config_len", len(config))
	return &Enumeration{Device: devDesc, Configuration: config}, nil
}

func (c *Host) getDescriptor(ctx context.Context, descType, index uint8, length uint16) ([]byte, error) {
	return c.Control(ctx, hal.SetupPacket{
		RequestType: 0x80,
		Request:     0x06,
		Value:       uint16(descType)<<8 | uint16(index),
		Length:      length,
	}, nil)
}
