package display

import (
	"fmt"
	"strings"
	"sync"

	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/hd44780i2c"

	"github.com/ardnew/fx3uvc/pkg"
)

// LCD geometry.
const (
	LCDWidth  = 20
	LCDHeight = 4
)

// DefaultLCDAddress is the usual address of a PCF8574 LCD backpack.
const DefaultLCDAddress = 0x27

// LCD is an HD44780 character display on a PCF8574 I2C backpack. The three
// status lines occupy the first three rows. It is safe for concurrent use.
type LCD struct {
	mutex      sync.Mutex
	dev        hd44780i2c.Device
	configured bool
}

var _ Display = (*LCD)(nil)

// NewLCD returns an LCD at addr on bus. Nothing is sent until Init.
func NewLCD(bus drivers.I2C, addr uint8) *LCD {
	if addr == 0 {
		addr = DefaultLCDAddress
	}
	return &LCD{dev: hd44780i2c.New(bus, addr)}
}

// Init runs the controller's power-on sequence, which takes about a
// second, then shows title on the first row.
func (d *LCD) Init(title string) error {
	d.mutex.Lock()
	err := d.dev.Configure(hd44780i2c.Config{Width: LCDWidth, Height: LCDHeight})
	if err == nil {
		d.configured = true
		d.dev.ClearDisplay()
	}
	d.mutex.Unlock()
	if err != nil {
		return fmt.Errorf("configure lcd: %w", err)
	}
	d.Line1(title)
	return nil
}

func (d *LCD) Line1(text string) { d.row(LineTitle-1, text) }

func (d *LCD) Line2(text string) { d.row(LineStatus-1, text) }

func (d *LCD) Line3(text string, value int) { d.row(LineValue-1, valueText(text, value)) }

// Backlight switches the backlight.
func (d *LCD) Backlight(on bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.dev.BacklightOn(on)
}

// row rewrites a whole row so shorter text clears what was there.
func (d *LCD) row(y uint8, text string) {
	if len(text) > LCDWidth {
		text = text[:LCDWidth]
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if !d.configured {
		pkg.LogDebug(pkg.ComponentDisplay, "lcd not configured", "row", y, "text", text)
		return
	}
	d.dev.SetCursor(0, y)
	d.dev.Print([]byte(text + strings.Repeat(" ", LCDWidth-len(text))))
}
