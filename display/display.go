// Package display provides status displays for the camera: a character LCD
// on an I2C backpack and a display that writes to the log.
package display

import (
	"fmt"
	"sync"

	"github.com/ardnew/fx3uvc/device/class/uvc"
	"github.com/ardnew/fx3uvc/pkg"
)

// Display is a three line status display.
type Display interface {
	uvc.Display
	Init(title string) error
}

// Lines of a status display.
const (
	LineTitle = iota + 1
	LineStatus
	LineValue
)

// valueText formats the value line as the label followed by the value.
func valueText(text string, value int) string {
	return fmt.Sprintf("%s %05d", text, value)
}

// Log is a display that records each line and logs changes at info level.
// It is safe for concurrent use.
type Log struct {
	mutex sync.Mutex
	lines [3]string
}

var _ Display = (*Log)(nil)

// NewLog returns an empty log display.
func NewLog() *Log {
	return &Log{}
}

// Init clears the display and shows title on the first line.
func (l *Log) Init(title string) error {
	l.mutex.Lock()
	l.lines = [3]string{}
	l.mutex.Unlock()
	l.Line1(title)
	return nil
}

func (l *Log) Line1(text string) { l.set(LineTitle, text) }

func (l *Log) Line2(text string) { l.set(LineStatus, text) }

func (l *Log) Line3(text string, value int) { l.set(LineValue, valueText(text, value)) }

// Line returns the text of line n, counted from 1.
func (l *Log) Line(n int) string {
	if n < LineTitle || n > LineValue {
		return ""
	}
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.lines[n-1]
}

func (l *Log) set(n int, text string) {
	l.mutex.Lock()
	changed := l.lines[n-1] != text
	l.lines[n-1] = text
	l.mutex.Unlock()
	if changed {
		pkg.LogInfo(pkg.ComponentDisplay, text, "line", n)
	}
}

// Multi copies every line to each of its displays.
type Multi []Display

var _ Display = Multi(nil)

// Init initializes every display and returns the first error.
func (m Multi) Init(title string) error {
	for _, d := range m {
		if err := d.Init(title); err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) Line1(text string) {
	for _, d := range m {
		d.Line1(text)
	}
}

func (m Multi) Line2(text string) {
	for _, d := range m {
		d.Line2(text)
	}
}

func (m Multi) Line3(text string, value int) {
	for _, d := range m {
		d.Line3(text, value)
	}
}
