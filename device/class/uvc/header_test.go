package uvc

import (
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	c "github.com/smartystreets/goconvey/convey"
)

func TestPayloadHeaderFID(t *testing.T) {
	c.Convey("Given fresh payload headers", t, func() {
		h := NewPayloadHeaders(clockwork.NewFakeClock())

		c.Convey("Both variants start with FID 0 and the fixed info bits", func() {
			normal, eof := h.Normal(), h.EOF()
			c.So(normal[0], c.ShouldEqual, HeaderSize)
			c.So(normal[1], c.ShouldEqual, 0x8C)
			c.So(eof[1], c.ShouldEqual, 0x8E)
			c.So(h.FID(), c.ShouldEqual, 0)
		})

		for n := 1; n <= 3; n++ {
			c.Convey(fmt.Sprintf("After %d toggles the variants still agree", n), func() {
				for i := 0; i < n; i++ {
					h.ToggleFID()
				}
				normal, eof := h.Normal(), h.EOF()
				c.So(normal[1]&HeaderFID, c.ShouldEqual, eof[1]&HeaderFID)
				c.So(h.FID(), c.ShouldEqual, uint8(n%2))
				c.So(normal[1]&^HeaderFID, c.ShouldEqual, 0x8C)
			})
		}

		c.Convey("ResetFID clears both variants", func() {
			h.ToggleFID()
			h.ResetFID()
			normal, eof := h.Normal(), h.EOF()
			c.So(normal[1]&HeaderFID, c.ShouldEqual, 0)
			c.So(eof[1]&HeaderFID, c.ShouldEqual, 0)
		})
	})
}

func TestPayloadHeaderTimestamps(t *testing.T) {
	c.Convey("Given headers on a fake clock", t, func() {
		clock := clockwork.NewFakeClock()
		h := NewPayloadHeaders(clock)

		c.Convey("When the frame is stamped 5 ms later", func() {
			clock.Advance(5 * time.Millisecond)
			h.StampFrame()

			c.Convey("Then a written header decodes to that PTS", func() {
				clock.Advance(time.Millisecond)
				buf := make([]byte, 64)
				c.So(h.WriteTo(buf, true), c.ShouldEqual, HeaderSize)

				var hdr PayloadHeader
				c.So(ParsePayloadHeader(buf, &hdr), c.ShouldBeNil)
				c.So(hdr.PTS, c.ShouldEqual, 5000)
				c.So(hdr.STC, c.ShouldEqual, 6000)
				c.So(hdr.SOF, c.ShouldEqual, 48)
				c.So(hdr.EndOfFrame(), c.ShouldBeTrue)
			})
		})

		c.Convey("A short buffer is left alone", func() {
			buf := make([]byte, HeaderSize-1)
			c.So(h.WriteTo(buf, false), c.ShouldEqual, 0)
			c.So(buf[0], c.ShouldEqual, 0)
		})
	})
}

func TestParsePayloadHeader(t *testing.T) {
	c.Convey("Given malformed payloads", t, func() {
		var hdr PayloadHeader
		c.So(ParsePayloadHeader([]byte{12}, &hdr), c.ShouldNotBeNil)
		c.So(ParsePayloadHeader([]byte{12, 0x8C, 0}, &hdr), c.ShouldNotBeNil)
		c.So(ParsePayloadHeader([]byte{1, 0x8C}, &hdr), c.ShouldNotBeNil)
	})

	c.Convey("Given a two byte header", t, func() {
		var hdr PayloadHeader
		c.So(ParsePayloadHeader([]byte{2, HeaderEOH | HeaderFID | HeaderERR, 9}, &hdr), c.ShouldBeNil)
		c.So(hdr.FrameID(), c.ShouldEqual, 1)
		c.So(hdr.Error(), c.ShouldBeTrue)
		c.So(hdr.PTS, c.ShouldEqual, 0)
	})
}

func payload(fid uint8, eof bool, data ...byte) []byte {
	info := byte(HeaderEOH) | fid
	if eof {
		info |= HeaderEOF
	}
	return append([]byte{2, info}, data...)
}

func TestFrameAssembler(t *testing.T) {
	c.Convey("Given an assembler", t, func() {
		var frames []Frame
		a := NewFrameAssembler(func(f Frame) { frames = append(frames, f) })

		c.Convey("A frame ends at EOF", func() {
			c.So(a.Push(payload(0, false, 1, 2)), c.ShouldBeNil)
			c.So(a.Push(payload(0, true, 3)), c.ShouldBeNil)
			c.So(frames, c.ShouldHaveLength, 1)
			c.So(frames[0].Data, c.ShouldResemble, []byte{1, 2, 3})
			c.So(frames[0].Payloads, c.ShouldEqual, 2)
		})

		c.Convey("A frame ends when the FID changes", func() {
			c.So(a.Push(payload(0, false, 1)), c.ShouldBeNil)
			c.So(a.Push(payload(1, false, 2)), c.ShouldBeNil)
			c.So(frames, c.ShouldHaveLength, 1)
			c.So(frames[0].FID, c.ShouldEqual, 0)

			a.Flush()
			c.So(frames, c.ShouldHaveLength, 2)
			c.So(frames[1].FID, c.ShouldEqual, 1)
			c.So(frames[1].Data, c.ShouldResemble, []byte{2})
		})

		c.Convey("A bad payload is rejected", func() {
			c.So(a.Push([]byte{40, 0x80}), c.ShouldNotBeNil)
			c.So(frames, c.ShouldBeEmpty)
		})
	})
}
