// Package ptz holds the camera terminal's pan, tilt and zoom values.
//
// The values are not applied to optics. Each change is reported on the
// status display, and zoom changes are forwarded to the sensor's focus.
package ptz

import (
	"sync"

	"github.com/ardnew/fx3uvc/device/class/uvc"
	"github.com/ardnew/fx3uvc/pkg"
)

// Display receives the value line written on every change.
type Display interface {
	Line3(text string, value int)
}

// Focuser is driven by zoom changes.
type Focuser interface {
	Focus(value int) error
}

// Controller stores pan, tilt and zoom. It is safe for concurrent use.
type Controller struct {
	mutex   sync.Mutex
	zoom    int32
	pan     int32
	tilt    int32
	display Display
	focus   Focuser
}

var _ uvc.PTZ = (*Controller)(nil)

// New returns a controller at the default position. Either collaborator
// may be nil.
func New(display Display, focus Focuser) *Controller {
	return &Controller{
		zoom:    uvc.ZoomDefault,
		pan:     uvc.PanTiltDef,
		tilt:    uvc.PanTiltDef,
		display: display,
		focus:   focus,
	}
}

// Zoom returns the current zoom.
func (c *Controller) Zoom() int32 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.zoom
}

// Pan returns the current pan in arc seconds.
func (c *Controller) Pan() int32 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.pan
}

// Tilt returns the current tilt in arc seconds.
func (c *Controller) Tilt() int32 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.tilt
}

// ModifyZoom stores a zoom value, clamped to the advertised range, and
// refocuses the sensor.
func (c *Controller) ModifyZoom(value int32) {
	value = clamp(value, uvc.ZoomMin, uvc.ZoomMax)
	c.mutex.Lock()
	c.zoom = value
	c.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentPTZ, "zoom", "value", value)
	c.show("zoom", value)
	if c.focus != nil {
		if err := c.focus.Focus(int(value)); err != nil {
			pkg.LogWarn(pkg.ComponentPTZ, "focus failed", "value", value, "error", err)
		}
	}
}

// ModifyPan stores a pan value, clamped to the advertised range.
func (c *Controller) ModifyPan(value int32) {
	value = clamp(value, uvc.PanTiltMin, uvc.PanTiltMax)
	c.mutex.Lock()
	c.pan = value
	c.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentPTZ, "pan", "value", value)
	c.show("pan", value)
}

// ModifyTilt stores a tilt value, clamped to the advertised range.
func (c *Controller) ModifyTilt(value int32) {
	value = clamp(value, uvc.PanTiltMin, uvc.PanTiltMax)
	c.mutex.Lock()
	c.tilt = value
	c.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentPTZ, "tilt", "value", value)
	c.show("tilt", value)
}

// Reset returns to the default position without touching the display.
func (c *Controller) Reset() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.zoom = uvc.ZoomDefault
	c.pan = uvc.PanTiltDef
	c.tilt = uvc.PanTiltDef
}

func (c *Controller) show(name string, value int32) {
	if c.display != nil {
		c.display.Line3(name, int(value))
	}
}

func clamp(v, lo, hi int32) int32 {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}
