package sensor

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioutil"

	"github.com/ardnew/fx3uvc/pkg"
)

// edgePoll bounds each edge wait so cancellation is noticed.
const edgePoll = 100 * time.Millisecond

// WatchButton configures pin as a pulled-down input and calls fn with the
// new state on every edge. A high level is a press. It returns when ctx is
// done.
func WatchButton(ctx context.Context, pin gpio.PinIO, debounce time.Duration, fn func(pressed bool)) error {
	p, err := gpioutil.Debounce(pin, 0, debounce, gpio.BothEdges)
	if err != nil {
		return fmt.Errorf("debounce %s: %w", pin, err)
	}
	if err := p.In(gpio.PullDown, gpio.BothEdges); err != nil {
		return fmt.Errorf("configure %s: %w", pin, err)
	}
	pkg.LogDebug(pkg.ComponentSensor, "watching button", "pin", pin.String())

	last := p.Read()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !p.WaitForEdge(edgePoll) {
			continue
		}
		level := p.Read()
		if level == last {
			continue
		}
		last = level
		pkg.LogDebug(pkg.ComponentSensor, "button", "pressed", bool(level))
		fn(level == gpio.High)
	}
}
