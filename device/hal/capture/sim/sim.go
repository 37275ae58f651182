package sim

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ardnew/fx3uvc/device/hal/capture"
	"github.com/ardnew/fx3uvc/pkg"
)

// Default sensor timing.
const (
	DefaultWidth             = 640
	DefaultHeight            = 480
	DefaultBytesPerPixel     = 2
	DefaultFrameInterval     = 333333 * 100 * time.Nanosecond
	DefaultBackflowThreshold = 50 * time.Millisecond
)

// Sink drains committed buffers. A *device.Stack satisfies it.
type Sink interface {
	Write(ctx context.Context, address uint8, data []byte) (int, error)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, address uint8, data []byte) (int, error)

// Write calls fn.
func (fn SinkFunc) Write(ctx context.Context, address uint8, data []byte) (int, error) {
	return fn(ctx, address, data)
}

// Config describes the simulated image sensor.
type Config struct {
	Width         int
	Height        int
	BytesPerPixel int

	// FrameInterval is the minimum time between frame starts. Zero runs
	// frames back to back.
	FrameInterval time.Duration

	// BackflowThreshold is how long the port may wait for a free buffer
	// before it reports a backflow error on the socket.
	BackflowThreshold time.Duration

	// Clock paces frames and backflow detection.
	Clock clockwork.Clock
}

// DefaultConfig returns a VGA YUY2 sensor at 30 frames per second.
func DefaultConfig() Config {
	return Config{
		Width:             DefaultWidth,
		Height:            DefaultHeight,
		BytesPerPixel:     DefaultBytesPerPixel,
		FrameInterval:     DefaultFrameInterval,
		BackflowThreshold: DefaultBackflowThreshold,
		Clock:             clockwork.NewRealClock(),
	}
}

// FrameSize returns the bytes the sensor emits per frame.
func (c *Config) FrameSize() int {
	return c.Width * c.Height * c.BytesPerPixel
}

// Port simulates the GPIF block, the sensor behind it and the DMA engine
// that moves captured data to a USB endpoint.
type Port struct {
	config Config
	clock  clockwork.Clock
	sink   Sink

	mutex    sync.Mutex
	callback func(capture.GPIFEvent, uint8)
	loaded   *capture.Waveform
	started  bool
	idle     bool // waveform finished a frame and waits for Switch
	channel  *channel

	// abort is closed to cancel the frame in progress.
	abort chan struct{}
	// kick wakes the producer after a state change.
	kick chan struct{}

	nextFrame time.Time
	frameNum  uint8

	frames    atomic.Uint64
	backflows atomic.Uint64

	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var (
	_ capture.GPIF = (*Port)(nil)
	_ capture.DMA  = (*Port)(nil)
)

// New creates a simulated capture port draining into sink. A nil sink
// discards committed buffers.
func New(cfg Config, sink Sink) *Port {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.BytesPerPixel == 0 {
		cfg.BytesPerPixel = DefaultBytesPerPixel
	}
	return &Port{
		config: cfg,
		clock:  cfg.Clock,
		sink:   sink,
		abort:  make(chan struct{}),
		kick:   make(chan struct{}, 1),
	}
}

// Open powers the sensor and launches its producer.
func (p *Port) Open(ctx context.Context) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.running {
		return pkg.ErrAlreadyRunning
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.running = true
	p.wg.Add(1)
	go p.produce(p.ctx)
	pkg.LogDebug(pkg.ComponentCapture, "sensor started",
		"width", p.config.Width,
		"height", p.config.Height,
		"frameSize", p.config.FrameSize())
	return nil
}

// Close halts the sensor and every channel consumer.
func (p *Port) Close() error {
	p.mutex.Lock()
	if !p.running {
		p.mutex.Unlock()
		return nil
	}
	p.running = false
	p.cancel()
	p.mutex.Unlock()

	p.wg.Wait()
	pkg.LogDebug(pkg.ComponentCapture, "sensor stopped")
	return nil
}

// Frames returns the number of frames the sensor completed.
func (p *Port) Frames() uint64 { return p.frames.Load() }

// Backflows returns the number of backflow errors reported.
func (p *Port) Backflows() uint64 { return p.backflows.Load() }

// Load installs a waveform.
func (p *Port) Load(w *capture.Waveform) error {
	if w == nil {
		return pkg.ErrInvalidParameter
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.started {
		return pkg.ErrGPIF
	}
	p.loaded = w
	return nil
}

// Start begins waveform execution.
func (p *Port) Start(state uint8, alpha uint8) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.loaded == nil || p.started {
		return pkg.ErrGPIF
	}
	p.started = true
	p.idle = false
	p.abortLocked()
	pkg.LogDebug(pkg.ComponentGPIF, "waveform started",
		"name", p.loaded.Name,
		"state", state)
	return nil
}

// Switch restarts the running waveform at toState.
func (p *Port) Switch(fromState, toState, endState uint16, alpha uint8, timeout uint32) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if !p.started {
		return pkg.ErrGPIF
	}
	p.idle = false
	p.abortLocked()
	return nil
}

// Disable stops the waveform. The waveform must be loaded again before the
// next Start.
func (p *Port) Disable(force bool) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.started = false
	p.loaded = nil
	p.abortLocked()
	return nil
}

// SetCallback installs the GPIF event handler.
func (p *Port) SetCallback(cb func(event capture.GPIFEvent, state uint8)) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.callback = cb
}

// abortLocked cancels the frame in progress and wakes the producer.
func (p *Port) abortLocked() {
	close(p.abort)
	p.abort = make(chan struct{})
	p.wake()
}

func (p *Port) wake() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// CreateChannel creates the DMA channel. Only one channel exists at a time.
func (p *Port) CreateChannel(cfg capture.ChannelConfig) (capture.Channel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.channel != nil {
		return nil, pkg.ErrBusy
	}
	if !p.running {
		return nil, pkg.ErrNotRunning
	}

	ch := newChannel(p, cfg)
	p.channel = ch
	p.wg.Add(1)
	go ch.consume()

	pkg.LogDebug(pkg.ComponentDMA, "channel created",
		"consumer", cfg.Consumer,
		"size", cfg.Size,
		"count", cfg.Count)
	return ch, nil
}

// frameJob is the producer's snapshot of the port at frame start.
type frameJob struct {
	ch    *channel
	abort chan struct{}
	cb    func(capture.GPIFEvent, uint8)
	num   uint8
}

// produce runs the sensor: wait until the waveform runs and the channel is
// armed, then stream one frame.
func (p *Port) produce(ctx context.Context) {
	defer p.wg.Done()
	for {
		job, ok := p.waitFrame(ctx)
		if !ok {
			return
		}
		p.frame(ctx, job)
	}
}

// waitFrame blocks until a frame may start.
func (p *Port) waitFrame(ctx context.Context) (frameJob, bool) {
	for {
		p.mutex.Lock()
		ready := p.started && !p.idle && p.channel != nil && p.channel.armed
		var wait time.Duration
		if ready {
			wait = p.nextFrame.Sub(p.clock.Now())
		}
		if ready && wait <= 0 {
			p.nextFrame = p.clock.Now().Add(p.config.FrameInterval)
			p.frameNum++
			job := frameJob{
				ch:    p.channel,
				abort: p.abort,
				cb:    p.callback,
				num:   p.frameNum,
			}
			p.mutex.Unlock()
			return job, true
		}
		p.mutex.Unlock()

		var timer <-chan time.Time
		if ready {
			timer = p.clock.After(wait)
		}
		select {
		case <-ctx.Done():
			return frameJob{}, false
		case <-p.kick:
		case <-timer:
		}
	}
}

// frame streams one frame into the channel and raises the frame valid
// interrupt in the state the waveform ends in.
func (p *Port) frame(ctx context.Context, job frameJob) {
	ch := job.ch
	payload := ch.cfg.PayloadSize()
	remaining := p.config.FrameSize()
	var offset int
	var socket capture.Socket

	for chunk := 0; remaining > 0; chunk++ {
		socket = ch.cfg.Producers[chunk%len(ch.cfg.Producers)]
		n := min(payload, remaining)

		idx, ok := p.acquire(ctx, job, socket)
		if !ok {
			return
		}
		fill(ch.buffers[idx][ch.cfg.Header:ch.cfg.Header+n], job.num, offset)
		remaining -= n
		offset += n

		if n < payload {
			// Short last chunk: the buffer stays in the socket until the
			// interrupt handler wraps it up.
			if !p.endFrame(job, ch, capture.StatePartialInSocket0+uint8(socket), socket, true) {
				ch.release(idx)
				return
			}
			select {
			case <-ch.wrap:
			case <-job.abort:
				ch.release(idx)
				return
			case <-ctx.Done():
				return
			}
			if ch.produced(idx, n, job.abort) {
				p.frames.Add(1)
			}
			return
		}
		if !ch.produced(idx, n, job.abort) {
			return
		}
	}

	// The last buffer was exactly full. Frame valid is seen once the
	// buffers have been handed out.
	if !ch.waitDrained(ctx, job.abort, p.kick) {
		return
	}
	if p.endFrame(job, ch, capture.StateFullInSocket0+uint8(socket), socket, false) {
		p.frames.Add(1)
	}
}

// endFrame parks the waveform and raises its interrupt. It returns false if
// the frame was aborted first.
func (p *Port) endFrame(job frameJob, ch *channel, state uint8, socket capture.Socket, partial bool) bool {
	p.mutex.Lock()
	select {
	case <-job.abort:
		p.mutex.Unlock()
		return false
	default:
	}
	p.idle = true
	if partial {
		ch.partial = int(socket)
		select {
		case <-ch.wrap:
		default:
		}
	}
	p.mutex.Unlock()

	if job.cb != nil {
		job.cb(capture.EventInterrupt, state)
	}
	return true
}

// acquire takes a free buffer for socket, reporting backflow if the wait
// exceeds the threshold.
func (p *Port) acquire(ctx context.Context, job frameJob, socket capture.Socket) (int, bool) {
	ch := job.ch
	select {
	case idx := <-ch.free:
		return idx, true
	default:
	}

	threshold := p.clock.NewTimer(p.config.BackflowThreshold)
	defer threshold.Stop()
	timeout := threshold.Chan()
	for {
		select {
		case idx := <-ch.free:
			return idx, true
		case <-timeout:
			timeout = nil
			p.backflows.Add(1)
			code := capture.PIBErrorBackflow0
			if socket == capture.SocketPIB1 {
				code = capture.PIBErrorBackflow1
			}
			if ch.cfg.OnError != nil {
				ch.cfg.OnError(code)
			}
		case <-job.abort:
			return 0, false
		case <-ctx.Done():
			return 0, false
		}
	}
}

// fill writes a deterministic test pattern.
func fill(b []byte, frame uint8, offset int) {
	for i := range b {
		b[i] = Pattern(frame, offset+i)
	}
}

// Pattern returns the byte the sensor emits at offset of frame number n.
func Pattern(n uint8, offset int) byte {
	return n + byte(offset)
}
