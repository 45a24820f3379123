// Package battery reads the charge of a PiSugar-style UPS board over I2C so
// that a battery-powered frame can report it next to the panel status.
package battery

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// DefaultAddr is the PiSugar 3 I2C address.
const DefaultAddr = 0x57

// PiSugar 3 registers.
const (
	regVoltageHigh byte = 0x22
	regVoltageLow  byte = 0x23
	regPercent     byte = 0x2A
)

// Status represents current battery status for the API.
type Status struct {
	// Percent is the battery level in 0-100%.
	Percent int `json:"percent"`
	// VoltageMv is the battery voltage in millivolts.
	VoltageMv int `json:"voltage_mv"`
}

// Reader abstracts how battery information is obtained.
type Reader interface {
	Read(ctx context.Context) (Status, error)
}

// Static always reports the same status. It stands in for the board when the
// panel runs on the fake transport.
type Static Status

// Read implements Reader.
func (s Static) Read(context.Context) (Status, error) {
	return Status(s), nil
}

// PiSugar reads a PiSugar 3 over an I2C bus.
type PiSugar struct {
	dev i2c.Dev
	bus i2c.BusCloser
}

// NewPiSugar uses an already opened bus. The caller keeps ownership of bus.
func NewPiSugar(bus i2c.Bus, addr uint16) *PiSugar {
	if addr == 0 {
		addr = DefaultAddr
	}
	return &PiSugar{dev: i2c.Dev{Bus: bus, Addr: addr}}
}

// OpenPiSugar initializes periph.io and opens the named I2C bus ("" for the
// first one, /dev/i2c-1 on a Raspberry Pi).
func OpenPiSugar(busName string, addr uint16) (*PiSugar, error) {
	if runtime.GOOS != "linux" {
		return nil, errors.New("battery: i2c reader unavailable on this platform")
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("battery: periph host init failed: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("battery: open i2c bus %q: %w", busName, err)
	}
	p := NewPiSugar(bus, addr)
	p.bus = bus
	return p, nil
}

func (p *PiSugar) readReg(reg byte) (byte, error) {
	buf := []byte{0}
	if err := p.dev.Tx([]byte{reg}, buf); err != nil {
		return 0, fmt.Errorf("battery: read register 0x%02X: %w", reg, err)
	}
	return buf[0], nil
}

// Read implements Reader.
func (p *PiSugar) Read(_ context.Context) (Status, error) {
	high, err := p.readReg(regVoltageHigh)
	if err != nil {
		return Status{}, err
	}
	low, err := p.readReg(regVoltageLow)
	if err != nil {
		return Status{}, err
	}
	pct, err := p.readReg(regPercent)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Percent:   int(min(pct, 100)),
		VoltageMv: int(uint16(high)<<8 | uint16(low)),
	}, nil
}

// Close releases the bus if OpenPiSugar opened it.
func (p *PiSugar) Close() error {
	if p.bus == nil {
		return nil
	}
	err := p.bus.Close()
	p.bus = nil
	return err
}
