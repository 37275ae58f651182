package uvc

import (
	"encoding/binary"
	"errors"
	"testing"

	c "github.com/smartystreets/goconvey/convey"

	"github.com/ardnew/fx3uvc/device"
	"github.com/ardnew/fx3uvc/pkg"
)

func TestProbeDefaultsEncoding(t *testing.T) {
	c.Convey("Given the default probe blocks", t, func() {
		c.Convey("The high speed block encodes byte for byte", func() {
			buf := make([]byte, ProbeControlSize)
			c.So(DefaultProbeHighSpeed.MarshalTo(buf), c.ShouldEqual, ProbeControlSize)
			c.So(buf, c.ShouldResemble, []byte{
				0x00, 0x00, 0x01, 0x01,
				0x2A, 0x2C, 0x0A, 0x00,
				0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
				0x00, 0x60, 0x09, 0x00,
				0x00, 0x40, 0x00, 0x00,
			})
		})

		c.Convey("The SuperSpeed block encodes byte for byte", func() {
			buf := make([]byte, ProbeControlSize)
			DefaultProbeSuperSpeed.MarshalTo(buf)
			c.So(buf[4:8], c.ShouldResemble, []byte{0x15, 0x16, 0x05, 0x00})
			c.So(buf[18:22], c.ShouldResemble, []byte{0x00, 0x48, 0x3F, 0x00})
		})

		c.Convey("The frame rates are 15 and 30 fps", func() {
			c.So(DefaultProbeHighSpeed.FramesPerSecond(), c.ShouldAlmostEqual, 15, 0.01)
			c.So(DefaultProbeSuperSpeed.FramesPerSecond(), c.ShouldAlmostEqual, 30, 0.01)
		})
	})
}

func TestProbeTable(t *testing.T) {
	c.Convey("Given a probe table", t, func() {
		table := NewProbeTable(DefaultProbeHighSpeed, DefaultProbeSuperSpeed)
		buf := make([]byte, 64)

		c.Convey("GET_INFO and GET_LEN are fixed", func() {
			n, err := table.Get(VSCommitControl, RequestGetInfo, device.SpeedHigh, buf)
			c.So(err, c.ShouldBeNil)
			c.So(buf[:n], c.ShouldResemble, []byte{0x03})

			n, err = table.Get(VSProbeControl, RequestGetLen, device.SpeedHigh, buf)
			c.So(err, c.ShouldBeNil)
			c.So(buf[:n], c.ShouldResemble, []byte{ProbeControlSize, 0})
		})

		c.Convey("When the host sets a new interval", func() {
			block := make([]byte, ProbeControlSize)
			hostBlock := ProbeControl{
				FormatIndex:       7,
				FrameIndex:        9,
				FrameInterval:     400000,
				MaxVideoFrameSize: 1,
			}
			hostBlock.MarshalTo(block)
			c.So(table.Set(VSProbeControl, device.SpeedHigh, block), c.ShouldBeNil)

			c.Convey("Only the interval is taken", func() {
				got := table.Current(device.SpeedHigh)
				want := DefaultProbeHighSpeed
				want.FrameInterval = 400000
				c.So(got, c.ShouldResemble, want)
			})

			c.Convey("COMMIT reads the same block", func() {
				n, err := table.Get(VSCommitControl, RequestGetCur, device.SpeedHigh, buf)
				c.So(err, c.ShouldBeNil)
				c.So(binary.LittleEndian.Uint32(buf[4:n]), c.ShouldEqual, 400000)
			})

			c.Convey("GET_DEF still reports the default", func() {
				_, err := table.Get(VSProbeControl, RequestGetDef, device.SpeedHigh, buf)
				c.So(err, c.ShouldBeNil)
				c.So(binary.LittleEndian.Uint32(buf[4:8]), c.ShouldEqual, DefaultProbeHighSpeed.FrameInterval)
			})

			c.Convey("The other speed is untouched", func() {
				c.So(table.Current(device.SpeedSuper), c.ShouldResemble, DefaultProbeSuperSpeed)
			})

			c.Convey("Reset restores the default", func() {
				table.Reset()
				c.So(table.Current(device.SpeedHigh), c.ShouldResemble, DefaultProbeHighSpeed)
			})
		})

		c.Convey("A zero interval keeps the current one", func() {
			c.So(table.Set(VSProbeControl, device.SpeedSuper, make([]byte, ProbeControlSize)), c.ShouldBeNil)
			c.So(table.Current(device.SpeedSuper), c.ShouldResemble, DefaultProbeSuperSpeed)
		})

		c.Convey("COMMIT does not change the interval", func() {
			block := make([]byte, ProbeControlSize)
			binary.LittleEndian.PutUint32(block[4:8], 333333)
			c.So(table.Set(VSCommitControl, device.SpeedHigh, block), c.ShouldBeNil)
			c.So(table.Current(device.SpeedHigh), c.ShouldResemble, DefaultProbeHighSpeed)

			c.So(table.Set(VSCommitControl, device.SpeedHigh, block[:4]), c.ShouldEqual, pkg.ErrBufferTooSmall)
		})

		c.Convey("Requests outside the table are rejected", func() {
			_, err := table.Get(VSCommitControl, RequestGetMax, device.SpeedHigh, buf)
			c.So(errors.Is(err, pkg.ErrInvalidRequest), c.ShouldBeTrue)
			err = table.Set(0x03, device.SpeedHigh, buf)
			c.So(errors.Is(err, pkg.ErrInvalidRequest), c.ShouldBeTrue)
			_, err = table.Get(VSProbeControl, RequestGetCur, device.SpeedHigh, buf[:10])
			c.So(err, c.ShouldEqual, pkg.ErrBufferTooSmall)
		})
	})
}
