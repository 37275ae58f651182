package uvc

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ardnew/fx3uvc/device"
	"github.com/ardnew/fx3uvc/pkg"
)

// ProbeControlSize is the length of a UVC 1.0 probe/commit block.
const ProbeControlSize = 26

// ProbeControl is the video probe and commit control block.
type ProbeControl struct {
	Hint                   uint16
	FormatIndex            uint8
	FrameIndex             uint8
	FrameInterval          uint32 // 100 ns units
	KeyFrameRate           uint16
	PFrameRate             uint16
	CompQuality            uint16
	CompWindowSize         uint16
	Delay                  uint16
	MaxVideoFrameSize      uint32
	MaxPayloadTransferSize uint32
}

// MarshalTo encodes the block into buf and returns ProbeControlSize, or 0
// if buf is short.
func (p *ProbeControl) MarshalTo(buf []byte) int {
	if len(buf) < ProbeControlSize {
		return 0
	}
	binary.LittleEndian.PutUint16(buf[0:2], p.Hint)
	buf[2] = p.FormatIndex
	buf[3] = p.FrameIndex
	binary.LittleEndian.PutUint32(buf[4:8], p.FrameInterval)
	binary.LittleEndian.PutUint16(buf[8:10], p.KeyFrameRate)
	binary.LittleEndian.PutUint16(buf[10:12], p.PFrameRate)
	binary.LittleEndian.PutUint16(buf[12:14], p.CompQuality)
	binary.LittleEndian.PutUint16(buf[14:16], p.CompWindowSize)
	binary.LittleEndian.PutUint16(buf[16:18], p.Delay)
	binary.LittleEndian.PutUint32(buf[18:22], p.MaxVideoFrameSize)
	binary.LittleEndian.PutUint32(buf[22:26], p.MaxPayloadTransferSize)
	return ProbeControlSize
}

// ParseProbeControl decodes a probe/commit block.
func ParseProbeControl(data []byte, out *ProbeControl) error {
	if len(data) < ProbeControlSize {
		return pkg.ErrBufferTooSmall
	}
	*out = ProbeControl{
		Hint:                   binary.LittleEndian.Uint16(data[0:2]),
		FormatIndex:            data[2],
		FrameIndex:             data[3],
		FrameInterval:          binary.LittleEndian.Uint32(data[4:8]),
		KeyFrameRate:           binary.LittleEndian.Uint16(data[8:10]),
		PFrameRate:             binary.LittleEndian.Uint16(data[10:12]),
		CompQuality:            binary.LittleEndian.Uint16(data[12:14]),
		CompWindowSize:         binary.LittleEndian.Uint16(data[14:16]),
		Delay:                  binary.LittleEndian.Uint16(data[16:18]),
		MaxVideoFrameSize:      binary.LittleEndian.Uint32(data[18:22]),
		MaxPayloadTransferSize: binary.LittleEndian.Uint32(data[22:26]),
	}
	return nil
}

// FramesPerSecond returns the frame rate the interval encodes.
func (p *ProbeControl) FramesPerSecond() float64 {
	if p.FrameInterval == 0 {
		return 0
	}
	return 1e7 / float64(p.FrameInterval)
}

// Default negotiation blocks. High speed carries VGA at 15 fps, SuperSpeed
// a larger frame at 30 fps.
var (
	DefaultProbeHighSpeed = ProbeControl{
		FormatIndex:            1,
		FrameIndex:             1,
		FrameInterval:          0x000A2C2A,
		MaxVideoFrameSize:      0x00096000,
		MaxPayloadTransferSize: 0x00004000,
	}
	DefaultProbeSuperSpeed = ProbeControl{
		FormatIndex:            1,
		FrameIndex:             1,
		FrameInterval:          0x00051615,
		MaxVideoFrameSize:      0x003F4800,
		MaxPayloadTransferSize: 0x00004000,
	}
)

// speedClass indexes the per-speed blocks.
type speedClass uint8

const (
	speedClassHigh speedClass = iota
	speedClassSuper
	speedClassCount
)

func classOf(speed device.Speed) speedClass {
	if speed == device.SpeedSuper {
		return speedClassSuper
	}
	return speedClassHigh
}

// probeRequests lists the sub-requests each control answers.
var probeRequests = map[uint8]map[uint8]bool{
	VSProbeControl: {
		RequestGetInfo: true, RequestGetLen: true, RequestGetCur: true,
		RequestGetMin: true, RequestGetMax: true, RequestGetDef: true,
		RequestSetCur: true,
	},
	VSCommitControl: {
		RequestGetInfo: true, RequestGetLen: true, RequestGetCur: true,
		RequestSetCur: true,
	},
}

// ProbeTable answers PROBE and COMMIT requests from one block per link
// speed. Both controls read and write the same block.
type ProbeTable struct {
	mutex    sync.Mutex
	defaults [speedClassCount]ProbeControl
	current  [speedClassCount]ProbeControl
}

// NewProbeTable creates a table seeded with the given defaults.
func NewProbeTable(high, super ProbeControl) *ProbeTable {
	t := &ProbeTable{}
	t.defaults[speedClassHigh] = high
	t.defaults[speedClassSuper] = super
	t.current = t.defaults
	return t
}

// Current returns the active block for speed.
func (t *ProbeTable) Current(speed device.Speed) ProbeControl {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.current[classOf(speed)]
}

// Reset restores the defaults.
func (t *ProbeTable) Reset() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.current = t.defaults
}

// Get answers a GET request for selector at speed, writing the response
// into buf. It returns the response length.
func (t *ProbeTable) Get(selector, request uint8, speed device.Speed, buf []byte) (int, error) {
	if !probeRequests[selector][request] || request == RequestSetCur {
		return 0, fmt.Errorf("selector %d request 0x%02X: %w", selector, request, pkg.ErrInvalidRequest)
	}

	switch request {
	case RequestGetInfo:
		if len(buf) < 1 {
			return 0, pkg.ErrBufferTooSmall
		}
		buf[0] = InfoSupportsGet | InfoSupportsSet
		return 1, nil
	case RequestGetLen:
		if len(buf) < 2 {
			return 0, pkg.ErrBufferTooSmall
		}
		binary.LittleEndian.PutUint16(buf, ProbeControlSize)
		return 2, nil
	}

	t.mutex.Lock()
	block := t.current[classOf(speed)]
	if request != RequestGetCur {
		block = t.defaults[classOf(speed)]
	}
	t.mutex.Unlock()

	n := block.MarshalTo(buf)
	if n == 0 {
		return 0, pkg.ErrBufferTooSmall
	}
	return n, nil
}

// Set applies SET_CUR for selector. Only the frame interval of a PROBE
// block is taken from the host; every other field is fixed by the device.
// A COMMIT block is checked and otherwise ignored.
func (t *ProbeTable) Set(selector uint8, speed device.Speed, data []byte) error {
	if !probeRequests[selector][RequestSetCur] {
		return fmt.Errorf("selector %d SET_CUR: %w", selector, pkg.ErrInvalidRequest)
	}
	if len(data) < 8 {
		return pkg.ErrBufferTooSmall
	}
	if selector != VSProbeControl {
		return nil
	}
	interval := binary.LittleEndian.Uint32(data[4:8])
	if interval == 0 {
		// Zero leaves the choice to the device.
		return nil
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.current[classOf(speed)].FrameInterval = interval
	return nil
}
