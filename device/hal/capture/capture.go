package capture

import (
	"fmt"
	"time"
)

// Socket identifies a DMA producer socket on the parallel port.
type Socket uint8

// Parallel port producer sockets.
const (
	SocketPIB0 Socket = 0
	SocketPIB1 Socket = 1
)

// GPIF state machine states of interest. The waveform raises its interrupt
// in one of these four states at frame valid.
const (
	StateStart            uint8 = 0
	StatePartialInSocket0 uint8 = 8
	StatePartialInSocket1 uint8 = 9
	StateFullInSocket0    uint8 = 10
	StateFullInSocket1    uint8 = 11
)

// Switch arguments that restart the waveform without reloading it. State
// 257 does not exist, so the machine jumps from wherever it is.
const (
	SwitchAnyState uint16 = 257
	SwitchTimeout  uint32 = 2
)

// Initial output levels of the waveform start state.
const AlphaStart uint8 = 0

// GPIFEvent is an event raised by the GPIF block.
type GPIFEvent uint8

// GPIF events.
const (
	// EventInterrupt is the waveform interrupt raised at frame valid.
	EventInterrupt GPIFEvent = iota + 1
	// EventStateChange is raised when the machine moves through a state with
	// the notify bit set.
	EventStateChange
	// EventError is raised when the machine halts on an error.
	EventError
)

// String returns the event name.
func (e GPIFEvent) String() string {
	switch e {
	case EventInterrupt:
		return "interrupt"
	case EventStateChange:
		return "state-change"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("GPIFEvent(%d)", uint8(e))
	}
}

// Parallel port error codes reported through ChannelConfig.OnError.
const (
	// PIBErrorBackflow0 and PIBErrorBackflow1 report the capture port
	// writing into a socket with no free buffer.
	PIBErrorBackflow0 uint16 = 0x1005
	PIBErrorBackflow1 uint16 = 0x1006
)

// IsBackflow reports whether a PIB error code is a producer overrun.
func IsBackflow(code uint16) bool {
	return code == PIBErrorBackflow0 || code == PIBErrorBackflow1
}

// Waveform is a GPIF state table. Its contents are opaque to the stack.
type Waveform struct {
	Name      string
	StateData []uint32
	Registers []uint32
}

// GPIF is the general programmable interface block.
type GPIF interface {
	// Load installs a waveform. It must be called before Start.
	Load(w *Waveform) error
	// Start begins execution at state with the given output levels.
	Start(state uint8, alpha uint8) error
	// Switch jumps the running machine to toState.
	Switch(fromState, toState, endState uint16, alpha uint8, timeout uint32) error
	// Disable stops the machine. force drops any data in the FIFO.
	Disable(force bool) error
	// SetCallback installs the event handler. It runs in interrupt context
	// and must not block.
	SetCallback(cb func(event GPIFEvent, state uint8))
}

// Buffer is a produced DMA buffer. Data spans the whole buffer including
// header and footer room; the payload starts at the configured header offset
// and holds Count bytes.
type Buffer struct {
	Data   []byte
	Count  int
	Status uint16
}

// ChannelConfig describes a many-to-one manual DMA channel.
type ChannelConfig struct {
	Size      int      // bytes per buffer, including header and footer
	Count     int      // number of buffers
	Producers []Socket // parallel port sockets feeding the channel
	Consumer  uint8    // USB endpoint address draining the channel
	Header    int      // bytes reserved before the payload
	Footer    int      // bytes reserved after the payload

	// OnConsume runs once per buffer the consumer side has drained.
	OnConsume func()
	// OnError runs on parallel port errors, with the PIB error code.
	OnError func(code uint16)
}

// PayloadSize returns the payload capacity of one buffer.
func (c *ChannelConfig) PayloadSize() int {
	return c.Size - c.Header - c.Footer
}

// Validate checks the configuration for internal consistency.
func (c *ChannelConfig) Validate() error {
	switch {
	case c.Size <= 0 || c.Count <= 0:
		return fmt.Errorf("channel size %d count %d", c.Size, c.Count)
	case len(c.Producers) == 0:
		return fmt.Errorf("channel has no producer sockets")
	case c.Consumer&0x80 == 0:
		return fmt.Errorf("consumer 0x%02X is not an IN endpoint", c.Consumer)
	case c.PayloadSize() <= 0:
		return fmt.Errorf("header %d and footer %d exceed size %d", c.Header, c.Footer, c.Size)
	}
	return nil
}

// Channel is a manual DMA channel. Implementations must be safe for
// concurrent use; GetBuffer and Commit have a single caller.
type Channel interface {
	// GetBuffer returns the next produced buffer. A zero timeout polls and
	// returns pkg.ErrNoBuffer when nothing is ready.
	GetBuffer(timeout time.Duration) (Buffer, error)
	// Commit hands count bytes of the most recent buffer, starting at the
	// buffer start, to the consumer.
	Commit(count int, status uint16) error
	// Reset aborts all transfers and returns every buffer to the producers.
	Reset() error
	// SetTransfer arms the channel. A count of zero means unbounded.
	SetTransfer(count int) error
	// WrapUp forces the partially filled buffer of socket to be produced.
	WrapUp(socket Socket) error
	// Destroy releases the channel.
	Destroy() error
}

// DMA creates channels.
type DMA interface {
	CreateChannel(cfg ChannelConfig) (Channel, error)
}
