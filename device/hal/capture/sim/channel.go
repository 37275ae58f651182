package sim

import (
	"context"
	"time"

	"github.com/ardnew/fx3uvc/device/hal/capture"
	"github.com/ardnew/fx3uvc/pkg"
)

type readyBuffer struct {
	index int
	count int
}

type committedBuffer struct {
	index int
	count int
	gen   uint64
}

// channel is a manual many-to-one DMA channel. Every buffer index lives in
// exactly one place: free, being filled, ready, held by the application or
// in flight to the consumer endpoint. Fields are guarded by port.mutex.
type channel struct {
	port    *Port
	cfg     capture.ChannelConfig
	buffers [][]byte

	free      chan int
	ready     chan readyBuffer
	committed chan committedBuffer
	wrap      chan struct{}

	partial   int // socket holding a partial buffer, or -1
	held      int // buffer handed out by GetBuffer, or -1
	armed     bool
	gen       uint64
	destroyed bool

	ctx    context.Context
	cancel context.CancelFunc
}

var _ capture.Channel = (*channel)(nil)

func newChannel(p *Port, cfg capture.ChannelConfig) *channel {
	ch := &channel{
		port:      p,
		cfg:       cfg,
		buffers:   make([][]byte, cfg.Count),
		free:      make(chan int, cfg.Count),
		ready:     make(chan readyBuffer, cfg.Count),
		committed: make(chan committedBuffer, cfg.Count),
		wrap:      make(chan struct{}, 1),
		partial:   -1,
		held:      -1,
	}
	for i := range ch.buffers {
		ch.buffers[i] = make([]byte, cfg.Size)
		ch.free <- i
	}
	ch.ctx, ch.cancel = context.WithCancel(p.ctx)
	return ch
}

// GetBuffer returns the next produced buffer.
func (ch *channel) GetBuffer(timeout time.Duration) (capture.Buffer, error) {
	ch.port.mutex.Lock()
	switch {
	case ch.destroyed:
		ch.port.mutex.Unlock()
		return capture.Buffer{}, pkg.ErrChannelClosed
	case ch.held >= 0:
		ch.port.mutex.Unlock()
		return capture.Buffer{}, pkg.ErrBusy
	}
	ch.port.mutex.Unlock()

	var rb readyBuffer
	select {
	case rb = <-ch.ready:
	default:
		if timeout <= 0 {
			return capture.Buffer{}, pkg.ErrNoBuffer
		}
		timer := ch.port.clock.NewTimer(timeout)
		defer timer.Stop()
		select {
		case rb = <-ch.ready:
		case <-timer.Chan():
			return capture.Buffer{}, pkg.ErrNoBuffer
		case <-ch.ctx.Done():
			return capture.Buffer{}, pkg.ErrChannelClosed
		}
	}

	ch.port.mutex.Lock()
	ch.held = rb.index
	ch.port.mutex.Unlock()
	ch.port.wake()

	return capture.Buffer{Data: ch.buffers[rb.index], Count: rb.count}, nil
}

// Commit queues count bytes of the held buffer for the consumer endpoint.
func (ch *channel) Commit(count int, status uint16) error {
	ch.port.mutex.Lock()
	defer ch.port.mutex.Unlock()
	if ch.destroyed {
		return pkg.ErrChannelClosed
	}
	if ch.held < 0 {
		return pkg.ErrInvalidState
	}
	index := ch.held
	ch.held = -1
	if count < 0 || count > ch.cfg.Size {
		ch.free <- index
		return pkg.ErrInvalidParameter
	}
	ch.committed <- committedBuffer{index: index, count: count, gen: ch.gen}
	return nil
}

// Reset disarms the channel, aborts the frame in progress and returns every
// buffer not in flight to the free pool.
func (ch *channel) Reset() error {
	ch.port.mutex.Lock()
	defer ch.port.mutex.Unlock()
	if ch.destroyed {
		return pkg.ErrChannelClosed
	}
	ch.resetLocked()
	ch.port.abortLocked()
	return nil
}

func (ch *channel) resetLocked() {
	ch.gen++
	ch.armed = false
	ch.partial = -1
	for len(ch.ready) > 0 {
		rb := <-ch.ready
		ch.free <- rb.index
	}
	if ch.held >= 0 {
		ch.free <- ch.held
		ch.held = -1
	}
	select {
	case <-ch.wrap:
	default:
	}
}

// SetTransfer arms the channel.
func (ch *channel) SetTransfer(count int) error {
	ch.port.mutex.Lock()
	defer ch.port.mutex.Unlock()
	if ch.destroyed {
		return pkg.ErrChannelClosed
	}
	ch.armed = true
	ch.port.wake()
	return nil
}

// WrapUp produces the partial buffer held by socket.
func (ch *channel) WrapUp(socket capture.Socket) error {
	ch.port.mutex.Lock()
	defer ch.port.mutex.Unlock()
	if ch.partial != int(socket) {
		return pkg.ErrInvalidState
	}
	ch.partial = -1
	select {
	case ch.wrap <- struct{}{}:
	default:
	}
	return nil
}

// Destroy releases the channel and stops its consumer.
func (ch *channel) Destroy() error {
	ch.port.mutex.Lock()
	if ch.destroyed {
		ch.port.mutex.Unlock()
		return nil
	}
	ch.resetLocked()
	ch.destroyed = true
	if ch.port.channel == ch {
		ch.port.channel = nil
	}
	ch.port.abortLocked()
	ch.port.mutex.Unlock()

	ch.cancel()
	pkg.LogDebug(pkg.ComponentDMA, "channel destroyed",
		"consumer", ch.cfg.Consumer)
	return nil
}

// produced moves a filled buffer to the ready queue unless the frame was
// aborted, in which case the buffer returns to the free pool.
func (ch *channel) produced(index, count int, abort <-chan struct{}) bool {
	ch.port.mutex.Lock()
	defer ch.port.mutex.Unlock()
	select {
	case <-abort:
		ch.free <- index
		return false
	default:
	}
	ch.ready <- readyBuffer{index: index, count: count}
	return true
}

// release returns a buffer owned by the producer to the free pool.
func (ch *channel) release(index int) {
	ch.port.mutex.Lock()
	defer ch.port.mutex.Unlock()
	ch.free <- index
}

// waitDrained blocks until the application has taken every ready buffer.
func (ch *channel) waitDrained(ctx context.Context, abort <-chan struct{}, kick <-chan struct{}) bool {
	for {
		ch.port.mutex.Lock()
		empty := len(ch.ready) == 0
		ch.port.mutex.Unlock()
		if empty {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-abort:
			return false
		case <-kick:
		}
	}
}

// consume drains committed buffers into the sink.
func (ch *channel) consume() {
	defer ch.port.wg.Done()
	for {
		var cb committedBuffer
		select {
		case <-ch.ctx.Done():
			return
		case cb = <-ch.committed:
		}

		var err error
		if sink := ch.port.sink; sink != nil {
			_, err = sink.Write(ch.ctx, ch.cfg.Consumer, ch.buffers[cb.index][:cb.count])
		}

		ch.port.mutex.Lock()
		current := cb.gen == ch.gen && !ch.destroyed
		ch.free <- cb.index
		ch.port.mutex.Unlock()
		ch.port.wake()

		if err != nil {
			pkg.LogDebug(pkg.ComponentDMA, "consumer write failed",
				"consumer", ch.cfg.Consumer,
				"error", err)
			continue
		}
		if current && ch.cfg.OnConsume != nil {
			ch.cfg.OnConsume()
		}
	}
}
