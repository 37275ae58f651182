// Package sensor drives an MT9D112 image sensor over I2C and watches the
// camera button.
package sensor

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"github.com/ardnew/fx3uvc/device/class/uvc"
	"github.com/ardnew/fx3uvc/pkg"
)

// Address is the sensor's 7-bit I2C address.
const Address = 0x3C

// BusFrequency is the I2C clock the sensor is programmed at.
const BusFrequency = 100 * physic.KiloHertz

// Display shows sensor status.
type Display interface {
	Line2(text string)
	Line3(text string, value int)
}

// Option configures an MT9D112.
type Option func(*MT9D112)

// WithClock sets the clock used for settle delays.
func WithClock(c clockwork.Clock) Option {
	return func(s *MT9D112) {
		if c != nil {
			s.sleep = c.Sleep
		}
	}
}

// WithDisplay sets the status display.
func WithDisplay(d Display) Option {
	return func(s *MT9D112) { s.display = d }
}

// MT9D112 is a 2 megapixel SoC sensor with 16-bit registers and an
// embedded MCU whose variables are reached through an address/data
// register pair.
type MT9D112 struct {
	mutex   sync.Mutex
	dev     i2c.Dev
	display Display
	sleep   func(time.Duration)
}

var _ uvc.Sensor = (*MT9D112)(nil)

// New returns a sensor on bus. The bus clock is set to BusFrequency; buses
// that cannot change speed are used as they are.
func New(bus i2c.Bus, opts ...Option) *MT9D112 {
	s := &MT9D112{
		dev:   i2c.Dev{Bus: bus, Addr: Address},
		sleep: time.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := bus.SetSpeed(BusFrequency); err != nil {
		pkg.LogWarn(pkg.ComponentSensor, "bus speed unchanged", "bus", bus.String(), "error", err)
	}
	return s
}

// Init reads the chip version and programs the boot, preview, capture and
// exposure settings.
func (s *MT9D112) Init() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	version, err := s.read16(regChipVersion)
	if err != nil {
		return fmt.Errorf("chip version: %w", err)
	}
	s.line3("9d112", int(version))
	if version != ChipVersion {
		pkg.LogWarn(pkg.ComponentSensor, "unexpected chip version", "version", fmt.Sprintf("0x%04X", version))
	}

	for _, program := range [][]step{bootProgram, previewProgram, captureProgram, exposureProgram} {
		if err := s.run(program); err != nil {
			return err
		}
	}
	pkg.LogInfo(pkg.ComponentSensor, "initialized", "version", fmt.Sprintf("0x%04X", version))
	return nil
}

// Scaling selects the capture context for 1200 lines and the preview
// context for anything else.
func (s *MT9D112) Scaling(lines int) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	program := []step{mcu(varSeqCaptureMod, 0), mcu(varSeqCmd, seqGotoPreview)}
	text := "640x480x30"
	if lines == 1200 {
		program = []step{mcu(varSeqCaptureMod, 2), mcu(varSeqCmd, seqGotoCapture)}
		text = "1600x1200x15"
	}
	s.line2(text)
	program = append(program, wait(100*time.Millisecond))
	return s.run(program)
}

// Button switches the sequencer between 6500K auto exposure while the
// button is held and no automatic modes otherwise.
func (s *MT9D112) Button(pressed bool) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if pressed {
		s.line2("cam AE 6500")
		return s.writeVariable(varSeqMode, modeAE6500)
	}
	s.line2("cam none")
	return s.writeVariable(varSeqMode, modeNone)
}

// Focus is accepted and ignored; the MT9D112 has fixed focus.
func (s *MT9D112) Focus(value int) error {
	return nil
}

// ReadRegister returns the big-endian value of the register at hi:lo.
func (s *MT9D112) ReadRegister(hi, lo uint8) ([2]byte, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var value [2]byte
	if err := s.dev.Tx([]byte{hi, lo}, value[:]); err != nil {
		return value, fmt.Errorf("read 0x%02X%02X: %w", hi, lo, err)
	}
	return value, nil
}

// WriteRegister writes hiData:loData to the register at hi:lo.
func (s *MT9D112) WriteRegister(hi, lo, hiData, loData uint8) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.dev.Tx([]byte{hi, lo, hiData, loData}, nil); err != nil {
		return fmt.Errorf("write 0x%02X%02X: %w", hi, lo, err)
	}
	return nil
}

func (s *MT9D112) run(program []step) error {
	for _, st := range program {
		switch {
		case st.settle > 0:
			s.sleep(st.settle)
		case st.variable:
			if err := s.writeVariable(st.address, st.value); err != nil {
				return err
			}
		default:
			if err := s.write16(st.address, st.value); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *MT9D112) writeVariable(variable, value uint16) error {
	if err := s.write16(regMCUAddress, variable); err != nil {
		return err
	}
	return s.write16(regMCUData, value)
}

func (s *MT9D112) read16(address uint16) (uint16, error) {
	var r [2]byte
	if err := s.dev.Tx([]byte{byte(address >> 8), byte(address)}, r[:]); err != nil {
		return 0, err
	}
	return uint16(r[0])<<8 | uint16(r[1]), nil
}

func (s *MT9D112) write16(address, value uint16) error {
	w := []byte{byte(address >> 8), byte(address), byte(value >> 8), byte(value)}
	if err := s.dev.Tx(w, nil); err != nil {
		return fmt.Errorf("write 0x%04X: %w", address, err)
	}
	return nil
}

func (s *MT9D112) line2(text string) {
	if s.display != nil {
		s.display.Line2(text)
	}
}

func (s *MT9D112) line3(text string, value int) {
	if s.display != nil {
		s.display.Line3(text, value)
	}
}
