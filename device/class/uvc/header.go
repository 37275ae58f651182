package uvc

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ardnew/fx3uvc/pkg"
)

// HeaderSize is the length of the payload header the device writes.
const HeaderSize = 12

// Payload header bmHeaderInfo bits.
const (
	HeaderFID = 0x01 // frame ID, toggles every frame
	HeaderEOF = 0x02 // end of frame
	HeaderPTS = 0x04 // presentation time stamp present
	HeaderSCR = 0x08 // source clock reference present
	HeaderRES = 0x10 // reserved
	HeaderSTI = 0x20 // still image
	HeaderERR = 0x40 // error
	HeaderEOH = 0x80 // end of header
)

// Header info bytes written by the device.
const (
	headerInfoNormal = HeaderEOH | HeaderSCR | HeaderPTS
	headerInfoEOF    = headerInfoNormal | HeaderEOF
)

// DeviceClockFrequency is the rate of the clock behind PTS and SCR.
const DeviceClockFrequency = 1_000_000

// PayloadHeaders holds the two header variants written in front of every
// video buffer: normal, and end-of-frame for the short buffer that closes a
// frame. Their FID bits always agree.
//
// PayloadHeaders is owned by the video context and is not safe for
// concurrent use.
type PayloadHeaders struct {
	normal [HeaderSize]byte
	eof    [HeaderSize]byte

	clock clockwork.Clock
	epoch time.Time
}

// NewPayloadHeaders creates headers stamped from clock. A nil clock uses
// the wall clock.
func NewPayloadHeaders(clock clockwork.Clock) *PayloadHeaders {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	h := &PayloadHeaders{
		normal: [HeaderSize]byte{HeaderSize, headerInfoNormal},
		eof:    [HeaderSize]byte{HeaderSize, headerInfoEOF},
		clock:  clock,
		epoch:  clock.Now(),
	}
	h.StampFrame()
	return h
}

// ticks returns the device clock counter.
func (h *PayloadHeaders) ticks() uint32 {
	return uint32(h.clock.Since(h.epoch) / (time.Second / DeviceClockFrequency))
}

// FID returns the current frame ID bit.
func (h *PayloadHeaders) FID() uint8 {
	return h.normal[1] & HeaderFID
}

// ToggleFID flips the frame ID of both variants.
func (h *PayloadHeaders) ToggleFID() {
	h.normal[1] ^= HeaderFID
	h.eof[1] ^= HeaderFID
}

// ResetFID clears the frame ID of both variants.
func (h *PayloadHeaders) ResetFID() {
	h.normal[1] &^= HeaderFID
	h.eof[1] &^= HeaderFID
}

// StampFrame sets the presentation time of the next frame.
func (h *PayloadHeaders) StampFrame() {
	pts := h.ticks()
	binary.LittleEndian.PutUint32(h.normal[2:6], pts)
	binary.LittleEndian.PutUint32(h.eof[2:6], pts)
}

// Normal returns a copy of the normal header.
func (h *PayloadHeaders) Normal() [HeaderSize]byte { return h.normal }

// EOF returns a copy of the end-of-frame header.
func (h *PayloadHeaders) EOF() [HeaderSize]byte { return h.eof }

// WriteTo writes the selected variant into buf with a fresh source clock
// reference and returns HeaderSize, or 0 if buf is short.
func (h *PayloadHeaders) WriteTo(buf []byte, eof bool) int {
	if len(buf) < HeaderSize {
		return 0
	}
	src := &h.normal
	if eof {
		src = &h.eof
	}
	copy(buf, src[:])
	stc := h.ticks()
	binary.LittleEndian.PutUint32(buf[6:10], stc)
	// 11-bit bus frame counter in 125 us microframes.
	binary.LittleEndian.PutUint16(buf[10:12], uint16(stc/125)&0x07FF)
	return HeaderSize
}

// PayloadHeader is a decoded payload header.
type PayloadHeader struct {
	Length uint8
	Info   uint8
	PTS    uint32
	STC    uint32
	SOF    uint16
}

// FrameID returns the FID bit.
func (p *PayloadHeader) FrameID() uint8 { return p.Info & HeaderFID }

// EndOfFrame reports whether the payload closes its frame.
func (p *PayloadHeader) EndOfFrame() bool { return p.Info&HeaderEOF != 0 }

// Error reports whether the device flagged the payload as bad.
func (p *PayloadHeader) Error() bool { return p.Info&HeaderERR != 0 }

// String returns a short description.
func (p *PayloadHeader) String() string {
	return fmt.Sprintf("len=%d fid=%d eof=%t pts=%d", p.Length, p.FrameID(), p.EndOfFrame(), p.PTS)
}

// ParsePayloadHeader decodes the header at the start of a payload.
func ParsePayloadHeader(data []byte, out *PayloadHeader) error {
	if len(data) < 2 {
		return pkg.ErrBufferTooSmall
	}
	length := int(data[0])
	if length < 2 || length > len(data) {
		return fmt.Errorf("payload header length %d of %d bytes: %w", length, len(data), pkg.ErrProtocol)
	}
	*out = PayloadHeader{Length: data[0], Info: data[1]}
	off := 2
	if out.Info&HeaderPTS != 0 && length >= off+4 {
		out.PTS = binary.LittleEndian.Uint32(data[off:])
		off += 4
	}
	if out.Info&HeaderSCR != 0 && length >= off+6 {
		out.STC = binary.LittleEndian.Uint32(data[off:])
		out.SOF = binary.LittleEndian.Uint16(data[off+4:])
	}
	return nil
}

// Frame is a video frame reassembled from payloads.
type Frame struct {
	Data     []byte
	FID      uint8
	PTS      uint32
	Payloads int
	Error    bool // a payload carried the error bit
}

// FrameAssembler splits a payload stream into frames. A frame ends at a
// payload with EOF set, or when the FID changes.
type FrameAssembler struct {
	current Frame
	active  bool
	onFrame func(Frame)
}

// NewFrameAssembler creates an assembler that hands completed frames to
// onFrame.
func NewFrameAssembler(onFrame func(Frame)) *FrameAssembler {
	return &FrameAssembler{onFrame: onFrame}
}

// Push consumes one payload.
func (a *FrameAssembler) Push(payload []byte) error {
	var hdr PayloadHeader
	if err := ParsePayloadHeader(payload, &hdr); err != nil {
		return err
	}
	if a.active && hdr.FrameID() != a.current.FID {
		a.Flush()
	}
	if !a.active {
		a.current = Frame{FID: hdr.FrameID(), PTS: hdr.PTS}
		a.active = true
	}
	a.current.Data = append(a.current.Data, payload[hdr.Length:]...)
	a.current.Payloads++
	a.current.Error = a.current.Error || hdr.Error()
	if hdr.EndOfFrame() {
		a.Flush()
	}
	return nil
}

// Flush emits the frame in progress, if any.
func (a *FrameAssembler) Flush() {
	if !a.active {
		return
	}
	frame := a.current
	a.current = Frame{}
	a.active = false
	if a.onFrame != nil {
		a.onFrame(frame)
	}
}
