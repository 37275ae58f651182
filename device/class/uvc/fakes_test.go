package uvc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ardnew/fx3uvc/device"
	"github.com/ardnew/fx3uvc/device/hal/capture"
	"github.com/ardnew/fx3uvc/pkg"
)

// fakeGPIF records the calls made to the capture state machine.
type fakeGPIF struct {
	mutex    sync.Mutex
	loads    int
	starts   int
	switches int
	disables int
	loadErr  error
	callback func(capture.GPIFEvent, uint8)
}

func (g *fakeGPIF) Load(w *capture.Waveform) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	if g.loadErr != nil {
		return g.loadErr
	}
	g.loads++
	return nil
}

func (g *fakeGPIF) Start(state uint8, alpha uint8) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.starts++
	return nil
}

func (g *fakeGPIF) Switch(fromState, toState, endState uint16, alpha uint8, timeout uint32) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.switches++
	return nil
}

func (g *fakeGPIF) Disable(force bool) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.disables++
	return nil
}

func (g *fakeGPIF) SetCallback(cb func(capture.GPIFEvent, uint8)) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.callback = cb
}

// fire raises the waveform interrupt in state.
func (g *fakeGPIF) fire(state uint8) {
	g.mutex.Lock()
	cb := g.callback
	g.mutex.Unlock()
	cb(capture.EventInterrupt, state)
}

func (g *fakeGPIF) counts() (loads, starts, switches, disables int) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return g.loads, g.starts, g.switches, g.disables
}

type fakeCommit struct {
	count int
	data  []byte
}

// fakeChannel hands out queued buffers and records commits.
type fakeChannel struct {
	cfg capture.ChannelConfig

	mutex     sync.Mutex
	ready     []capture.Buffer
	held      capture.Buffer
	commits   []fakeCommit
	commitErr error
	resets    int
	transfers int
	wrapped   []capture.Socket
	destroyed bool
}

// push queues a produced buffer holding count payload bytes.
func (c *fakeChannel) push(count int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.ready = append(c.ready, capture.Buffer{
		Data:  make([]byte, c.cfg.Size),
		Count: count,
	})
}

func (c *fakeChannel) GetBuffer(timeout time.Duration) (capture.Buffer, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if len(c.ready) == 0 {
		return capture.Buffer{}, pkg.ErrNoBuffer
	}
	c.held = c.ready[0]
	c.ready = c.ready[1:]
	return c.held, nil
}

func (c *fakeChannel) Commit(count int, status uint16) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.commitErr != nil {
		return c.commitErr
	}
	c.commits = append(c.commits, fakeCommit{
		count: count,
		data:  append([]byte(nil), c.held.Data[:HeaderSize]...),
	})
	return nil
}

func (c *fakeChannel) Reset() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.resets++
	c.ready = nil
	return nil
}

func (c *fakeChannel) SetTransfer(count int) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.transfers++
	return nil
}

func (c *fakeChannel) WrapUp(socket capture.Socket) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.wrapped = append(c.wrapped, socket)
	return nil
}

func (c *fakeChannel) Destroy() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.destroyed = true
	return nil
}

func (c *fakeChannel) resetCount() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.resets
}

// fakeDMA creates fakeChannels.
type fakeDMA struct {
	mutex    sync.Mutex
	channels []*fakeChannel
	err      error
}

func (d *fakeDMA) CreateChannel(cfg capture.ChannelConfig) (capture.Channel, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ch := &fakeChannel{cfg: cfg}
	d.channels = append(d.channels, ch)
	return ch, nil
}

func (d *fakeDMA) last() *fakeChannel {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if len(d.channels) == 0 {
		return nil
	}
	return d.channels[len(d.channels)-1]
}

// fakeUSB records endpoint operations.
type fakeUSB struct {
	mutex   sync.Mutex
	speed   device.Speed
	naks    []bool
	flushes map[uint8]int
	clears  map[uint8]int
	err     error
}

func newFakeUSB(speed device.Speed) *fakeUSB {
	return &fakeUSB{
		speed:   speed,
		flushes: make(map[uint8]int),
		clears:  make(map[uint8]int),
	}
}

func (u *fakeUSB) Speed() device.Speed {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	return u.speed
}

func (u *fakeUSB) SetNAK(address uint8, nak bool) error {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	u.naks = append(u.naks, nak)
	return u.err
}

func (u *fakeUSB) Flush(address uint8) error {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	u.flushes[address]++
	return u.err
}

func (u *fakeUSB) ClearStall(address uint8) error {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	u.clears[address]++
	return u.err
}

func (u *fakeUSB) flushCount(address uint8) int {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	return u.flushes[address]
}

type displayLine struct {
	row   int
	text  string
	value int
}

// fakeDisplay records the lines shown.
type fakeDisplay struct {
	mutex sync.Mutex
	lines []displayLine
}

func (d *fakeDisplay) Line1(text string) { d.add(displayLine{row: 1, text: text}) }
func (d *fakeDisplay) Line2(text string) { d.add(displayLine{row: 2, text: text}) }
func (d *fakeDisplay) Line3(text string, value int) {
	d.add(displayLine{row: 3, text: text, value: value})
}

func (d *fakeDisplay) add(l displayLine) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.lines = append(d.lines, l)
}

// count returns how many times text was shown.
func (d *fakeDisplay) count(text string) int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	n := 0
	for _, l := range d.lines {
		if l.text == text {
			n++
		}
	}
	return n
}

func (d *fakeDisplay) find(text string) (displayLine, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	for _, l := range d.lines {
		if l.text == text {
			return l, true
		}
	}
	return displayLine{}, false
}

// fakeSensor serves registers from a map.
type fakeSensor struct {
	mutex     sync.Mutex
	registers map[uint16][2]byte
	buttons   []bool
	focus     []int
}

func newFakeSensor() *fakeSensor {
	return &fakeSensor{registers: make(map[uint16][2]byte)}
}

func (s *fakeSensor) ReadRegister(hi, lo uint8) ([2]byte, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	v, ok := s.registers[uint16(hi)<<8|uint16(lo)]
	if !ok {
		return [2]byte{}, pkg.ErrInvalidParameter
	}
	return v, nil
}

func (s *fakeSensor) WriteRegister(hi, lo, hiData, loData uint8) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.registers[uint16(hi)<<8|uint16(lo)] = [2]byte{hiData, loData}
	return nil
}

func (s *fakeSensor) Button(pressed bool) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.buttons = append(s.buttons, pressed)
	return nil
}

func (s *fakeSensor) Focus(value int) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.focus = append(s.focus, value)
	return nil
}

func (s *fakeSensor) pressed() []bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]bool(nil), s.buttons...)
}

// fakePTZ holds pan, tilt and zoom and counts modifications.
type fakePTZ struct {
	mutex           sync.Mutex
	zoom, pan, tilt int32
	modified        []string
}

func (p *fakePTZ) Zoom() int32 { p.mutex.Lock(); defer p.mutex.Unlock(); return p.zoom }
func (p *fakePTZ) Pan() int32  { p.mutex.Lock(); defer p.mutex.Unlock(); return p.pan }
func (p *fakePTZ) Tilt() int32 { p.mutex.Lock(); defer p.mutex.Unlock(); return p.tilt }

func (p *fakePTZ) ModifyZoom(v int32) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.zoom = v
	p.modified = append(p.modified, "zoom")
}

func (p *fakePTZ) ModifyPan(v int32) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.pan = v
	p.modified = append(p.modified, "pan")
}

func (p *fakePTZ) ModifyTilt(v int32) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.tilt = v
	p.modified = append(p.modified, "tilt")
}

// fakeClock is the part of the clockwork fake clock the tests drive.
type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
	BlockUntil(n int)
}

// testRig is a Function wired to fakes.
type testRig struct {
	fn      *Function
	gpif    *fakeGPIF
	dma     *fakeDMA
	usb     *fakeUSB
	display *fakeDisplay
	sensor  *fakeSensor
	ptz     *fakePTZ
	clock   fakeClock
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	r := &testRig{
		gpif:    &fakeGPIF{},
		dma:     &fakeDMA{},
		usb:     newFakeUSB(device.SpeedHigh),
		display: &fakeDisplay{},
		sensor:  newFakeSensor(),
		ptz:     &fakePTZ{},
		clock:   clockwork.NewFakeClock(),
	}
	r.fn = New(r.gpif, r.dma, DefaultConfig(),
		WithSensor(r.sensor),
		WithDisplay(r.display),
		WithPTZ(r.ptz),
		WithClock(r.clock))
	r.fn.SetUSB(r.usb)
	return r
}

// video creates the video channel and returns it.
func (r *testRig) video(t *testing.T) *fakeChannel {
	t.Helper()
	if _, err := r.fn.pipeline.Ensure(ModeVideo); err != nil {
		t.Fatalf("Ensure(video) error = %v", err)
	}
	return r.dma.last()
}

// step runs one video pass and fails the test on error.
func (r *testRig) step(t *testing.T) bool {
	t.Helper()
	busy, err := r.fn.videoStep(context.Background())
	if err != nil {
		t.Fatalf("videoStep() error = %v", err)
	}
	return busy
}

// streaming drives the rig into StateStreaming on ch.
func (r *testRig) streaming(t *testing.T) {
	t.Helper()
	r.fn.events.Set(EventStream)
	r.step(t)
	if got := r.fn.State(); got != StateStreaming {
		t.Fatalf("State() = %v, want %v", got, StateStreaming)
	}
}
