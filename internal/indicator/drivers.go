package indicator

import (
	"fmt"
	"log/slog"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/host"

	"picam/internal/logging"
)

// NopDriver discards writes. It is used when no indicator is fitted.
type NopDriver struct{}

func (NopDriver) On() error  { return nil }
func (NopDriver) Off() error { return nil }

// LogDriver records writes at debug level for bench setups without an LED.
type LogDriver struct {
	Logger *slog.Logger
}

func (d LogDriver) On() error {
	d.Logger.Debug("indicator output high", logging.String(logging.FieldEventType, "indicator_output"))
	return nil
}

func (d LogDriver) Off() error {
	d.Logger.Debug("indicator output low", logging.String(logging.FieldEventType, "indicator_output"))
	return nil
}

// GPIODriver drives an LED on a single GPIO line, active high.
type GPIODriver struct {
	pin gpio.PinIO
}

// NewGPIODriver initialises the host drivers and looks up pin by name
// (for example "GPIO26").
func NewGPIODriver(pin string) (*GPIODriver, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("gpio host init: %w", err)
	}
	p := gpioreg.ByName(pin)
	if p == nil {
		return nil, fmt.Errorf("gpio pin %q not found", pin)
	}
	if err := p.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("gpio pin %s: %w", pin, err)
	}
	return &GPIODriver{pin: p}, nil
}

func (d *GPIODriver) On() error  { return d.pin.Out(gpio.High) }
func (d *GPIODriver) Off() error { return d.pin.Out(gpio.Low) }

// NewDriver builds the driver named by kind: "gpio", "log", or "none".
func NewDriver(kind, pin string, logger *slog.Logger) (Driver, error) {
	switch kind {
	case "gpio":
		return NewGPIODriver(pin)
	case "log":
		return LogDriver{Logger: logging.NewComponentLogger(logger, "indicator")}, nil
	case "none", "":
		return NopDriver{}, nil
	default:
		return nil, fmt.Errorf("unknown indicator driver %q", kind)
	}
}
