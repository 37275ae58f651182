// Command fx3uvc runs the UVC camera function on a bench: the device stack
// sits on the loopback controller, frames come from the simulated capture
// port, and an in-process host enumerates the camera, negotiates a stream
// and reads frames.
//
// When an I2C bus is named, the MT9D112 sensor and a 20x4 character LCD on
// that bus are used as the register pass-through target and the status
// display. A named GPIO pin is watched as the camera button.
//
// Usage:
//
//	fx3uvc [options]
//
// Options:
//
//	-i2c name          I2C bus with the sensor and LCD (default: none)
//	-lcd-addr addr     LCD backpack address (default: 0x27)
//	-button name       GPIO pin of the camera button (default: none)
//	-speed super|high  link speed (default: high)
//	-frames n          frames to read before stopping (default: 30)
//	-width, -height    simulated frame size (default: 640x480)
//	-fps n             simulated frame rate (default: 15)
//	-log-level level   debug, info, warn or error (default: info)
//	-json              use JSON log format
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/ardnew/fx3uvc/device"
	"github.com/ardnew/fx3uvc/device/class/uvc"
	"github.com/ardnew/fx3uvc/device/hal"
	"github.com/ardnew/fx3uvc/device/hal/capture/sim"
	"github.com/ardnew/fx3uvc/device/hal/loopback"
	"github.com/ardnew/fx3uvc/display"
	"github.com/ardnew/fx3uvc/pkg"
	"github.com/ardnew/fx3uvc/ptz"
	"github.com/ardnew/fx3uvc/sensor"
)

// component identifies this executable for structured logging.
const component = pkg.ComponentUVC

// Identity of the camera.
const (
	vendorID  = 0x04B4
	productID = 0x00C3
	deviceBCD = 0x0100
	address   = 5
)

// buttonDebounce is the hold-off after a button edge.
const buttonDebounce = 20 * time.Millisecond

type options struct {
	i2cName    string
	lcdAddr    uint
	buttonName string
	speed      string
	frames     int
	width      int
	height     int
	fps        int
}

func main() {
	var opts options
	flag.StringVar(&opts.i2cName, "i2c", "", "I2C bus with the sensor and LCD")
	flag.UintVar(&opts.lcdAddr, "lcd-addr", display.DefaultLCDAddress, "LCD backpack address")
	flag.StringVar(&opts.buttonName, "button", "", "GPIO pin of the camera button")
	flag.StringVar(&opts.speed, "speed", "high", "link speed: super or high")
	flag.IntVar(&opts.frames, "frames", 30, "frames to read before stopping")
	flag.IntVar(&opts.width, "width", sim.DefaultWidth, "simulated frame width")
	flag.IntVar(&opts.height, "height", sim.DefaultHeight, "simulated frame height")
	flag.IntVar(&opts.fps, "fps", 15, "simulated frame rate")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn or error")
	jsonLog := flag.Bool("json", false, "use JSON log format")
	flag.Parse()

	if *jsonLog {
		pkg.SetLogFormat(pkg.LogFormatJSON)
	}
	level, err := pkg.ParseLogLevel(*logLevel)
	if err != nil {
		pkg.LogError(component, "bad log level", "error", err)
		os.Exit(2)
	}
	pkg.SetLogLevel(level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		pkg.LogInfo(component, "shutting down")
		cancel()
	}()

	if err := run(ctx, opts); err != nil && !errors.Is(err, context.Canceled) {
		pkg.LogError(component, "bench failed", "error", err)
		os.Exit(1)
	}
}

// peripherals are the optional hardware collaborators.
type peripherals struct {
	bus     i2c.BusCloser
	sensor  *sensor.MT9D112
	display display.Display
}

func (p *peripherals) Close() {
	if p.bus != nil {
		p.bus.Close()
	}
}

// openPeripherals opens the named I2C bus and brings up the sensor and LCD
// on it. Without a bus the display only logs.
func openPeripherals(opts options) (*peripherals, error) {
	logDisplay := display.NewLog()
	p := &peripherals{display: logDisplay}
	if opts.i2cName == "" {
		return p, p.display.Init("fx3 uvc")
	}

	bus, err := i2creg.Open(opts.i2cName)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", opts.i2cName, err)
	}
	p.bus = bus
	lcd := display.NewLCD(bus, uint8(opts.lcdAddr))
	p.display = display.Multi{logDisplay, lcd}
	if err := p.display.Init("fx3 uvc"); err != nil {
		p.Close()
		return nil, err
	}

	p.sensor = sensor.New(bus, sensor.WithDisplay(p.display))
	if err := p.sensor.Init(); err != nil {
		p.Close()
		return nil, fmt.Errorf("sensor: %w", err)
	}
	if err := p.sensor.Scaling(opts.height); err != nil {
		p.Close()
		return nil, fmt.Errorf("sensor scaling: %w", err)
	}
	return p, nil
}

func linkSpeed(name string) (hal.Speed, error) {
	switch name {
	case "super":
		return hal.SpeedSuper, nil
	case "high":
		return hal.SpeedHigh, nil
	}
	return hal.SpeedUnknown, fmt.Errorf("speed %q: %w", name, pkg.ErrInvalidParameter)
}

// functionConfig sizes the advertised format and probe defaults to the
// simulated frames.
func functionConfig(opts options) uvc.Config {
	cfg := uvc.DefaultConfig()
	interval := uint32(10_000_000 / opts.fps)
	frameSize := uint32(opts.width * opts.height * sim.DefaultBytesPerPixel)

	cfg.Format.Width = uint16(opts.width)
	cfg.Format.Height = uint16(opts.height)
	cfg.Format.Intervals = []uint32{interval}
	cfg.Format.MaxFrameBytes = frameSize
	for _, probe := range []*uvc.ProbeControl{&cfg.ProbeHighSpeed, &cfg.ProbeSuperSpeed} {
		probe.FrameInterval = interval
		probe.MaxVideoFrameSize = frameSize
	}
	return cfg
}

func run(ctx context.Context, opts options) error {
	if opts.fps <= 0 || opts.width <= 0 || opts.height <= 0 || opts.frames <= 0 {
		return fmt.Errorf("frame geometry: %w", pkg.ErrInvalidParameter)
	}
	speed, err := linkSpeed(opts.speed)
	if err != nil {
		return err
	}

	if _, err := host.Init(); err != nil {
		pkg.LogWarn(component, "host drivers", "error", err)
	}
	periph, err := openPeripherals(opts)
	if err != nil {
		return err
	}
	defer periph.Close()

	controller := loopback.New(loopback.WithSpeed(speed))
	usbHost := controller.Host()

	var stack *device.Stack
	port := sim.New(sim.Config{
		Width:             opts.width,
		Height:            opts.height,
		BytesPerPixel:     sim.DefaultBytesPerPixel,
		FrameInterval:     time.Second / time.Duration(opts.fps),
		BackflowThreshold: sim.DefaultBackflowThreshold,
	}, sim.SinkFunc(func(ctx context.Context, address uint8, data []byte) (int, error) {
		return stack.Write(ctx, address, data)
	}))

	fnOpts := []uvc.Option{
		uvc.WithDisplay(periph.display),
	}
	var focus ptz.Focuser
	if periph.sensor != nil {
		fnOpts = append(fnOpts, uvc.WithSensor(periph.sensor))
		focus = periph.sensor
	}
	fnOpts = append(fnOpts, uvc.WithPTZ(ptz.New(periph.display, focus)))
	fn := uvc.New(port, port, functionConfig(opts), fnOpts...)

	builder := device.NewDeviceBuilder().
		WithVendorProduct(vendorID, productID, deviceBCD).
		WithClass(uvc.ClassMisc, uvc.SubclassCommon, uvc.ProtocolInterfaceAssociation).
		WithStrings("Cypress", "FX3 UVC", "0001").
		AddConfiguration(1)
	dev, err := fn.ConfigureDevice(builder).Build()
	if err != nil {
		return fmt.Errorf("build device: %w", err)
	}
	stack = device.NewStack(dev, controller)

	if err := port.Open(ctx); err != nil {
		return fmt.Errorf("open capture port: %w", err)
	}
	defer port.Close()
	if err := stack.Start(ctx); err != nil {
		return fmt.Errorf("start stack: %w", err)
	}
	defer stack.Stop()
	fn.Attach(stack)

	runCtx, stopFunction := context.WithCancel(ctx)
	defer stopFunction()
	done := make(chan error, 1)
	go func() { done <- fn.Run(runCtx) }()

	if opts.buttonName != "" {
		pin := gpioreg.ByName(opts.buttonName)
		if pin == nil {
			return fmt.Errorf("button pin %q: %w", opts.buttonName, pkg.ErrNoDevice)
		}
		go func() {
			err := sensor.WatchButton(runCtx, pin, buttonDebounce, fn.Button)
			if err != nil && !errors.Is(err, context.Canceled) {
				pkg.LogWarn(component, "button watcher stopped", "error", err)
			}
		}()
	}

	b := &bench{host: usbHost, fn: fn, speed: speed}
	streamErr := b.stream(runCtx, opts.frames)

	stopFunction()
	if err := <-done; err != nil {
		return err
	}
	if streamErr != nil {
		return streamErr
	}

	stats := fn.Stats()
	pkg.LogInfo(component, "bench complete",
		"frames", stats.Frames,
		"committed", stats.Committed,
		"commit_failures", stats.CommitFailures,
		"backflows", stats.Backflows,
		"sensor_frames", port.Frames(),
		"sensor_backflows", port.Backflows())
	fmt.Printf("%d frames, %d buffers, %d commit failures, %d backflows\n",
		stats.Frames, stats.Committed, stats.CommitFailures, stats.Backflows)
	return nil
}
