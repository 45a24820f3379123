package epd

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/gpio"
)

var (
	// ErrUnsupportedPlatform is returned when a hardware transport is
	// requested on a host that cannot provide one.
	ErrUnsupportedPlatform = errors.New("epd: hardware transport is only available on linux")
	// ErrClosed is returned by operations on a closed transport or controller.
	ErrClosed = errors.New("epd: transport closed")
)

// Line names one of the discrete control lines wired to the panel.
type Line int

const (
	// LineCS0 is the chip select of controller 0. Active low.
	LineCS0 Line = iota
	// LineCS1 is the chip select of controller 1. Active low.
	LineCS1
	// LineDC selects command (low) or data (high) phase.
	LineDC
	// LineReset resets both controllers while held low.
	LineReset
	// LineBusy is the ready input. High means the panel is busy.
	LineBusy
)

var lineNames = [...]string{"cs0", "cs1", "dc", "reset", "busy"}

func (l Line) String() string {
	if l >= 0 && int(l) < len(lineNames) {
		return lineNames[l]
	}
	return fmt.Sprintf("Line(%d)", int(l))
}

// Level conventions used on the lines.
const (
	csActive    = gpio.Low
	csIdle      = gpio.High
	dcCommand   = gpio.Low
	dcData      = gpio.High
	busyLevel   = gpio.High
	resetActive = gpio.Low
)

// Transport is everything the controller protocol needs from the platform:
// byte writes on the serial bus plus set/get on the named lines.
//
// Implementations are selected at construction time. PeriphTransport drives
// real SPI/GPIO hardware; FakeTransport records traffic for tests and dry
// runs.
type Transport interface {
	// Write sends p on the bus. Chip select and phase are already set.
	Write(p []byte) error
	// Set drives an output line.
	Set(line Line, level gpio.Level) error
	// Get samples a line.
	Get(line Line) (gpio.Level, error)
	// Close releases the bus and lines.
	Close() error
}
