package loopback

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ardnew/fx3uvc/device/hal"
	"github.com/ardnew/fx3uvc/pkg"
)

// MaxEndpoints is the maximum number of data endpoints per direction (1-15).
const MaxEndpoints = 15

// DefaultQueueDepth is the number of transfers an endpoint queue holds
// before writers block.
const DefaultQueueDepth = 64

// Message kinds exchanged on the control pipe.
const (
	msgSetup = 0x01 // SETUP packet from host
	msgData  = 0x02 // DATA stage from device
	msgAck   = 0x03 // status stage acknowledged
	msgStall = 0x05 // request stalled
	msgBus   = 0x12 // reset, suspend or disconnect
)

type message struct {
	kind  uint8
	setup hal.SetupPacket
	data  []byte
	err   error
}

// HAL implements hal.DeviceHAL entirely in memory. The host side of the
// link is reached through Host.
type HAL struct {
	connected uint32 // Atomic: 1 = connected, 0 = disconnected

	mutex    sync.RWMutex
	speed    hal.Speed
	address  uint8
	initDone bool
	depth    int

	endpoints     [MaxEndpoints * 2]hal.EndpointConfig
	endpointCount int

	// Control pipe
	toDevice chan message // setup packets and bus events
	ep0Out   chan []byte  // OUT data stages
	ep0In    chan message // device completions

	// Data endpoints, indexed by endpoint number 1-15
	epIn  [MaxEndpoints + 1]chan []byte
	epOut [MaxEndpoints + 1]chan []byte

	stalled [2 * (MaxEndpoints + 1)]bool
	naking  [2 * (MaxEndpoints + 1)]bool

	connectCh chan struct{}
	disconnCh chan struct{}
	closeCh   chan struct{}
	closeOnce sync.Once

	host Host
}

// Option configures a HAL.
type Option func(*HAL)

// WithSpeed sets the link speed reported after connection.
func WithSpeed(speed hal.Speed) Option {
	return func(h *HAL) { h.speed = speed }
}

// WithQueueDepth sets the number of transfers each data endpoint buffers.
func WithQueueDepth(depth int) Option {
	return func(h *HAL) {
		if depth > 0 {
			h.depth = depth
		}
	}
}

// New creates an in-memory device HAL.
func New(opts ...Option) *HAL {
	h := &HAL{
		speed:     hal.SpeedHigh,
		depth:     DefaultQueueDepth,
		toDevice:  make(chan message, 4),
		ep0Out:    make(chan []byte, 1),
		ep0In:     make(chan message, 1),
		connectCh: make(chan struct{}, 1),
		disconnCh: make(chan struct{}, 1),
		closeCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	for i := 1; i <= MaxEndpoints; i++ {
		h.epIn[i] = make(chan []byte, h.depth)
		h.epOut[i] = make(chan []byte, h.depth)
	}
	h.host.hal = h
	return h
}

// Host returns the host side of the link.
func (h *HAL) Host() *Host {
	return &h.host
}

// flagIndex maps an endpoint address to the stall/NAK table.
func flagIndex(address uint8) int {
	idx := int(address & 0x0F)
	if address&0x80 != 0 {
		idx += MaxEndpoints + 1
	}
	return idx
}

// Init prepares the HAL. It may be called once.
func (h *HAL) Init(ctx context.Context) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.initDone {
		return pkg.ErrAlreadyRunning
	}
	h.initDone = true
	return nil
}

// Start attaches the device to the host.
func (h *HAL) Start() error {
	h.mutex.RLock()
	initDone := h.initDone
	h.mutex.RUnlock()
	if !initDone {
		return pkg.ErrNotConfigured
	}

	h.setConnected(true)
	pkg.LogInfo(pkg.ComponentHAL, "loopback device HAL started",
		"speed", h.GetSpeed().String())
	return nil
}

// Stop detaches the device and unblocks every waiter.
func (h *HAL) Stop() error {
	h.setConnected(false)
	h.closeOnce.Do(func() {
		close(h.closeCh)
	})

	h.mutex.Lock()
	h.initDone = false
	h.mutex.Unlock()

	pkg.LogInfo(pkg.ComponentHAL, "loopback device HAL stopped")
	return nil
}

func (h *HAL) setConnected(connected bool) {
	if connected {
		atomic.StoreUint32(&h.connected, 1)
		select {
		case h.connectCh <- struct{}{}:
		default:
		}
		return
	}
	atomic.StoreUint32(&h.connected, 0)
	select {
	case h.disconnCh <- struct{}{}:
	default:
	}
}

// SetAddress records the device address.
func (h *HAL) SetAddress(address uint8) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.address = address
	return nil
}

// ConfigureEndpoints records the endpoint set and clears halt and NAK state.
func (h *HAL) ConfigureEndpoints(endpoints []hal.EndpointConfig) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if len(endpoints) > len(h.endpoints) {
		return pkg.ErrNoMemory
	}
	for _, ep := range endpoints {
		if ep.Number() == 0 || ep.Number() > MaxEndpoints {
			return pkg.ErrInvalidEndpoint
		}
	}
	h.endpointCount = copy(h.endpoints[:], endpoints)
	for i := range h.stalled {
		h.stalled[i] = false
		h.naking[i] = false
	}
	pkg.LogDebug(pkg.ComponentHAL, "endpoints configured", "count", h.endpointCount)
	return nil
}

// Endpoints returns the configured endpoint set.
func (h *HAL) Endpoints() []hal.EndpointConfig {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	out := make([]hal.EndpointConfig, h.endpointCount)
	copy(out, h.endpoints[:h.endpointCount])
	return out
}

// ReadSetup blocks for the next SETUP packet. Bus events are returned as
// pkg.ErrReset, pkg.ErrSuspended or pkg.ErrNoDevice.
func (h *HAL) ReadSetup(ctx context.Context, out *hal.SetupPacket) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.closeCh:
		return pkg.ErrCancelled
	case msg := <-h.toDevice:
		if msg.kind == msgBus {
			return msg.err
		}
		*out = msg.setup
		return nil
	}
}

func (h *HAL) complete(ctx context.Context, msg message) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.closeCh:
		return pkg.ErrCancelled
	case h.ep0In <- msg:
		return nil
	}
}

// WriteEP0 sends the IN data stage.
func (h *HAL) WriteEP0(ctx context.Context, data []byte) error {
	return h.complete(ctx, message{kind: msgData, data: append([]byte(nil), data...)})
}

// ReadEP0 reads the OUT data stage. A zero-length buffer is the IN status
// stage, which completes immediately.
func (h *HAL) ReadEP0(ctx context.Context, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-h.closeCh:
		return 0, pkg.ErrCancelled
	case data := <-h.ep0Out:
		return copy(buf, data), nil
	}
}

// StallEP0 stalls the current control request.
func (h *HAL) StallEP0() error {
	pkg.LogDebug(pkg.ComponentHAL, "EP0 stalled")
	return h.complete(context.Background(), message{kind: msgStall})
}

// AckEP0 completes the status stage of an OUT request.
func (h *HAL) AckEP0() error {
	return h.complete(context.Background(), message{kind: msgAck})
}

// Read receives one transfer written by the host to an OUT endpoint.
func (h *HAL) Read(ctx context.Context, address uint8, buf []byte) (int, error) {
	num := address & 0x0F
	if address&0x80 != 0 || num == 0 || num > MaxEndpoints {
		return 0, pkg.ErrInvalidEndpoint
	}
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-h.closeCh:
		return 0, pkg.ErrCancelled
	case data := <-h.epOut[num]:
		if len(data) > len(buf) {
			return 0, pkg.ErrBufferTooSmall
		}
		return copy(buf, data), nil
	}
}

// Write queues one transfer on an IN endpoint. It blocks while the queue
// is full.
func (h *HAL) Write(ctx context.Context, address uint8, data []byte) (int, error) {
	num := address & 0x0F
	if address&0x80 == 0 || num == 0 || num > MaxEndpoints {
		return 0, pkg.ErrInvalidEndpoint
	}
	if !h.IsConnected() {
		return 0, pkg.ErrNoDevice
	}
	h.mutex.RLock()
	stalled := h.stalled[flagIndex(address)]
	h.mutex.RUnlock()
	if stalled {
		return 0, pkg.ErrStall
	}

	buf := append([]byte(nil), data...)
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-h.closeCh:
		return 0, pkg.ErrCancelled
	case h.epIn[num] <- buf:
		return len(data), nil
	}
}

// Stall halts an endpoint.
func (h *HAL) Stall(address uint8) error {
	pkg.LogDebug(pkg.ComponentHAL, "endpoint stalled", "address", address)
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.stalled[flagIndex(address)] = true
	return nil
}

// ClearStall clears an endpoint halt.
func (h *HAL) ClearStall(address uint8) error {
	pkg.LogDebug(pkg.ComponentHAL, "endpoint stall cleared", "address", address)
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.stalled[flagIndex(address)] = false
	return nil
}

// SetNAK makes host reads of an IN endpoint report pkg.ErrNAK while set.
func (h *HAL) SetNAK(address uint8, nak bool) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.naking[flagIndex(address)] = nak
	return nil
}

// FlushEndpoint discards every transfer queued on an endpoint.
func (h *HAL) FlushEndpoint(address uint8) error {
	num := address & 0x0F
	if num == 0 || num > MaxEndpoints {
		return pkg.ErrInvalidEndpoint
	}
	q := h.epOut[num]
	if address&0x80 != 0 {
		q = h.epIn[num]
	}
	dropped := 0
	for {
		select {
		case <-q:
			dropped++
		default:
			if dropped > 0 {
				pkg.LogDebug(pkg.ComponentHAL, "endpoint flushed",
					"address", address, "dropped", dropped)
			}
			return nil
		}
	}
}

// IsConnected returns true if connected to a host.
func (h *HAL) IsConnected() bool {
	return atomic.LoadUint32(&h.connected) == 1
}

// GetSpeed returns the negotiated connection speed.
func (h *HAL) GetSpeed() hal.Speed {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.speed
}

// WaitConnect blocks until connected or context is cancelled.
func (h *HAL) WaitConnect(ctx context.Context) error {
	if h.IsConnected() {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.connectCh:
		return nil
	case <-h.closeCh:
		return pkg.ErrCancelled
	}
}

// WaitDisconnect blocks until disconnected or context is cancelled.
func (h *HAL) WaitDisconnect(ctx context.Context) error {
	if !h.IsConnected() {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.disconnCh:
		return nil
	case <-h.closeCh:
		return pkg.ErrCancelled
	}
}

var _ hal.DeviceHAL = (*HAL)(nil)
